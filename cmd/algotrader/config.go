package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/wyfcoding/algotrader/pkg/config"
)

// Config 服务配置：基础配置 + [algotrader] 段
type Config struct {
	config.Config `mapstructure:",squash"`
	AlgoTrader    AlgoTraderConfig `mapstructure:"algotrader"`
}

type AlgoTraderConfig struct {
	// gorm 或 memory
	Storage string `mapstructure:"storage"`
	// 为空时与 Storage 一致，可单独指定为 redis
	AnalyticStore       string        `mapstructure:"analytic_store"`
	SliceSize           int64         `mapstructure:"slice_size"`
	MaxSliceAttempts    int           `mapstructure:"max_slice_attempts"`
	MaxAnalyticAttempts int           `mapstructure:"max_analytic_attempts"`
	QuoteBarTopic       string        `mapstructure:"quote_bar_topic"`
	BuyOrderTopic       string        `mapstructure:"buy_order_topic"`
	OutboxBatchSize     int           `mapstructure:"outbox_batch_size"`
	OutboxInterval      time.Duration `mapstructure:"outbox_interval"`
}

var defaults = map[string]any{
	"algotrader.storage":               "gorm",
	"algotrader.analytic_store":        "",
	"algotrader.slice_size":            100,
	"algotrader.max_slice_attempts":    3,
	"algotrader.max_analytic_attempts": 5,
	"algotrader.quote_bar_topic":       "marketdata.quote_bar",
	"algotrader.buy_order_topic":       "order.buy_order_placed",
	"algotrader.outbox_batch_size":     100,
	"algotrader.outbox_interval":       "2s",
}

func (c *Config) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	a := c.AlgoTrader
	if a.Storage != "gorm" && a.Storage != "memory" {
		return fmt.Errorf("unsupported algotrader.storage: %q", a.Storage)
	}
	switch a.AnalyticStore {
	case "", a.Storage:
	case "redis":
		if c.Data.Redis.Addr == "" {
			return errors.New("data.redis.addr is required when algotrader.analytic_store = \"redis\"")
		}
	default:
		return fmt.Errorf("algotrader.analytic_store %q does not match storage %q", a.AnalyticStore, a.Storage)
	}
	if a.SliceSize <= 0 {
		return fmt.Errorf("algotrader.slice_size must be positive, got %d", a.SliceSize)
	}
	if a.MaxSliceAttempts <= 0 || a.MaxAnalyticAttempts <= 0 {
		return errors.New("algotrader retry attempts must be positive")
	}
	return nil
}
