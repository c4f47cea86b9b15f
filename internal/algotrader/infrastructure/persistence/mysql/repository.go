// Package mysql 基于 GORM 的仓储实现，兼容 MySQL / PostgreSQL / SQLite
package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/algotrader/internal/algotrader/domain"
	"github.com/wyfcoding/algotrader/pkg/db"
	"gorm.io/gorm"
)

type algoOrderRepository struct {
	db *gorm.DB
}

// NewAlgoOrderRepository 创建算法订单仓储
func NewAlgoOrderRepository(db *gorm.DB) domain.AlgoOrderRepository {
	return &algoOrderRepository{db: db}
}

// Save 保存订单（带乐观锁），订单与其待发布事件在同一事务中写入
func (r *algoOrderRepository) Save(ctx context.Context, order *domain.AlgoOrder) error {
	currentVersion := order.Version()
	err := db.WithTx(ctx, r.db, func(tx *gorm.DB) error {
		if err := r.write(tx, order); err != nil {
			return err
		}
		if events := order.DomainEvents(); len(events) > 0 {
			if _, err := appendEvents(tx, events); err != nil {
				return fmt.Errorf("append events of order %s: %w", order.ID(), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	order.SetVersion(currentVersion + 1)
	return nil
}

func (r *algoOrderRepository) write(tx *gorm.DB, order *domain.AlgoOrder) error {
	model := toAlgoOrderModel(order)
	currentVersion := order.Version()

	if currentVersion == 0 {
		model.Version = 1
		if err := tx.Create(model).Error; err != nil {
			if db.IsDuplicateKey(err) {
				return fmt.Errorf("%w: order %s already exists", domain.ErrConflict, model.OrderID)
			}
			return fmt.Errorf("create algo order: %w", err)
		}
		return nil
	}

	result := tx.Model(&AlgoOrderModel{}).
		Where("order_id = ? AND version = ?", model.OrderID, currentVersion).
		Updates(map[string]any{
			"shares_remaining": model.SharesRemaining,
			"fill_price":       model.FillPrice,
			"fill_quantity":    model.FillQuantity,
			"filled_on":        model.FilledOn,
			"version":          currentVersion + 1,
		})
	if result.Error != nil {
		return fmt.Errorf("update algo order: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := tx.Model(&AlgoOrderModel{}).Where("order_id = ?", model.OrderID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: order %s", domain.ErrNotFound, model.OrderID)
		}
		return fmt.Errorf("%w: order %s version %d", domain.ErrConflict, model.OrderID, currentVersion)
	}
	return nil
}

func (r *algoOrderRepository) FindByID(ctx context.Context, id domain.OrderID) (*domain.AlgoOrder, error) {
	var model AlgoOrderModel
	if err := r.db.WithContext(ctx).Where("order_id = ?", id.String()).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
		}
		return nil, err
	}
	return toAlgoOrder(&model)
}

func (r *algoOrderRepository) OpenBuyOrdersOf(ctx context.Context, symbol string) ([]*domain.AlgoOrder, error) {
	var models []AlgoOrderModel
	if err := r.db.WithContext(ctx).
		Where("symbol = ? AND order_type = ? AND shares_remaining > 0", symbol, string(domain.OrderTypeBuy)).
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	orders := make([]*domain.AlgoOrder, 0, len(models))
	for i := range models {
		order, err := toAlgoOrder(&models[i])
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

type vwapAnalyticRepository struct {
	db *gorm.DB
}

// NewVWAPAnalyticRepository 创建 VWAP 分析器仓储
func NewVWAPAnalyticRepository(db *gorm.DB) domain.VWAPAnalyticRepository {
	return &vwapAnalyticRepository{db: db}
}

func (r *vwapAnalyticRepository) Save(ctx context.Context, analytic *domain.VWAPAnalytic) error {
	model, err := toVWAPAnalyticModel(analytic)
	if err != nil {
		return err
	}
	currentVersion := analytic.Version()

	if currentVersion == 0 {
		model.Version = 1
		if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
			if db.IsDuplicateKey(err) {
				return fmt.Errorf("%w: analytic %s already exists", domain.ErrConflict, model.Symbol)
			}
			return fmt.Errorf("create vwap analytic: %w", err)
		}
		analytic.SetVersion(1)
		return nil
	}

	result := r.db.WithContext(ctx).Model(&VWAPAnalyticModel{}).
		Where("symbol = ? AND version = ?", model.Symbol, currentVersion).
		Updates(map[string]any{
			"cumulative_price_volume": model.CumulativePriceVolume,
			"cumulative_volume":       model.CumulativeVolume,
			"bar_count":               model.BarCount,
			"recent":                  model.Recent,
			"last_observed_at":        model.LastObservedAt,
			"version":                 currentVersion + 1,
		})
	if result.Error != nil {
		return fmt.Errorf("update vwap analytic: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: analytic %s version %d", domain.ErrConflict, model.Symbol, currentVersion)
	}

	analytic.SetVersion(currentVersion + 1)
	return nil
}

func (r *vwapAnalyticRepository) FindBySymbol(ctx context.Context, symbol string) (*domain.VWAPAnalytic, error) {
	var model VWAPAnalyticModel
	if err := r.db.WithContext(ctx).Where("symbol = ?", symbol).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: analytic %s", domain.ErrNotFound, symbol)
		}
		return nil, err
	}
	return toVWAPAnalytic(&model)
}
