package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wyfcoding/algotrader/internal/algotrader/domain"
	"github.com/wyfcoding/algotrader/internal/algotrader/infrastructure/messaging"
	"github.com/wyfcoding/algotrader/internal/algotrader/infrastructure/persistence/memory"
	"github.com/wyfcoding/algotrader/internal/algotrader/infrastructure/persistence/mysql"
	algoredis "github.com/wyfcoding/algotrader/internal/algotrader/infrastructure/persistence/redis"
	"github.com/wyfcoding/algotrader/pkg/cache"
	"github.com/wyfcoding/algotrader/pkg/db"
)

type stores struct {
	orders    domain.AlgoOrderRepository
	analytics domain.VWAPAnalyticRepository
	events    messaging.OutboxStore
	closers   []func() error
}

func openStores(ctx context.Context, cfg Config, log *slog.Logger) (*stores, error) {
	st := &stores{}

	switch cfg.AlgoTrader.Storage {
	case "memory":
		events := memory.NewEventStore()
		st.events = events
		st.orders = memory.NewAlgoOrderRepository(events)
		st.analytics = memory.NewVWAPAnalyticRepository()
		log.Warn("using in-memory storage, state is lost on restart")
	default:
		database, err := db.Open(ctx, cfg.Data.Database, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect database: %w", err)
		}
		st.closers = append(st.closers, database.Close)
		if err := mysql.AutoMigrate(database.DB); err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		st.orders = mysql.NewAlgoOrderRepository(database.DB)
		st.analytics = mysql.NewVWAPAnalyticRepository(database.DB)
		st.events = mysql.NewEventStore(database.DB)
	}

	if cfg.AlgoTrader.AnalyticStore == "redis" {
		rc, err := cache.NewRedisCache(ctx, cfg.Data.Redis, log)
		if err != nil {
			st.Close()
			return nil, err
		}
		st.closers = append(st.closers, rc.Close)
		st.analytics = algoredis.NewVWAPAnalyticRepository(rc.GetClient())
	}
	return st, nil
}

func (s *stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}
