package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/algotrader/internal/algotrader/application"
	"github.com/wyfcoding/algotrader/internal/algotrader/domain"
	"github.com/wyfcoding/algotrader/internal/algotrader/infrastructure/messaging"
	"github.com/wyfcoding/algotrader/internal/algotrader/interfaces/consumer"
	httpserver "github.com/wyfcoding/algotrader/internal/algotrader/interfaces/http"
	"github.com/wyfcoding/algotrader/pkg/config"
	"github.com/wyfcoding/algotrader/pkg/logger"
	"github.com/wyfcoding/algotrader/pkg/metrics"
	"github.com/wyfcoding/algotrader/pkg/middleware"
	"github.com/wyfcoding/algotrader/pkg/mq"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

var configPath = flag.String("config", "configs/algotrader/config.toml", "config file path")

func main() {
	flag.Parse()

	// 1. Config
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}
	var cfg Config
	if err := config.Load(*configPath, &cfg, defaults); err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. Logger
	log, err := logger.Init(logger.Config{
		Service:    cfg.Server.Name,
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
		WithCaller: cfg.Log.WithCaller,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Metrics
	m := metrics.New("algotrader")

	// 4. Stores
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	// 5. Kafka or in-process bus
	var (
		pusher    messaging.Pusher
		producer  *mq.Producer
		consumers []*mq.Consumer
	)
	kafkaCfg := cfg.MessageQueue.Kafka
	if len(kafkaCfg.Brokers) > 0 {
		producer = mq.NewProducer(kafkaCfg, log)
		defer producer.Close()
		pusher = producer.Publish
	} else {
		bus := messaging.NewMemoryBus()
		bus.SubscribeAll(func(ctx context.Context, event domain.DomainEvent) {
			log.InfoContext(ctx, "domain event delivered", "event", event.EventName(), "aggregate_id", event.AggregateID())
		})
		pusher = bus.Push
		log.Info("no kafka brokers configured, delivering events in process")
	}
	relay := messaging.NewOutboxRelay(st.events, pusher, cfg.AlgoTrader.OutboxBatchSize, cfg.AlgoTrader.OutboxInterval, log, m)

	// 6. Application Services
	trading := application.NewVWAPTradingService(st.orders, st.analytics, log, m, application.Options{
		SliceSize:           decimal.NewFromInt(cfg.AlgoTrader.SliceSize),
		MaxSliceAttempts:    cfg.AlgoTrader.MaxSliceAttempts,
		MaxAnalyticAttempts: cfg.AlgoTrader.MaxAnalyticAttempts,
	})
	commands := application.NewAlgoOrderCommandService(st.orders, log, m)
	queries := application.NewQueryService(st.orders, st.analytics, st.events)

	if producer != nil {
		dlq := mq.NewDeadLetterQueue(producer, kafkaCfg.DeadLetterTopic)
		quoteBars := mq.NewConsumer(kafkaCfg, cfg.AlgoTrader.QuoteBarTopic, dlq, log)
		quoteBars.Start(ctx, kafkaCfg.Workers, consumer.NewQuoteBarHandler(trading, log, m).Handle)
		buyOrders := mq.NewConsumer(kafkaCfg, cfg.AlgoTrader.BuyOrderTopic, dlq, log)
		buyOrders.Start(ctx, kafkaCfg.Workers, consumer.NewBuyOrderPlacedHandler(commands, log, m).Handle)
		consumers = append(consumers, quoteBars, buyOrders)
	}

	// 7. Interfaces
	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	reflection.Register(grpcSrv)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logging(log, m), middleware.Recovery(log))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": cfg.Server.Name})
	})
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(m.Handler()))
	}
	httpserver.NewHandler(trading, commands, queries, log).RegisterRoutes(r.Group("/api"))
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTP.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 8. Start
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		relay.Start(ctx)
		<-ctx.Done()
		relay.Stop()
		// 停止前把剩余事件尽量投递出去
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := relay.Flush(flushCtx); err != nil {
			log.Warn("final outbox flush failed", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.Server.GRPC.Port)
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		log.Info("gRPC server starting", "addr", addr)
		return grpcSrv.Serve(lis)
	})

	g.Go(func() error {
		log.Info("HTTP server starting", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down servers...")
		healthSrv.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("http server shutdown failed", "error", err)
		}
		grpcSrv.GracefulStop()
		for _, c := range consumers {
			if err := c.Close(); err != nil {
				log.Error("failed to close kafka consumer", "topic", c.Topic(), "error", err)
			}
		}
		return nil
	})

	return g.Wait()
}
