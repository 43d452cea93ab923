package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/broker"
	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/config"
	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/handlers"
	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/metrics"
	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/outbox"
	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/repository"
	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/server"
	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/service"
	"github.com/Lixing-Zhang/kart-challenge/app-orders/internal/tracing"
	"github.com/Lixing-Zhang/kart-challenge/app-orders/pkg/logger"
)

// store is what the service and the outbox relay need from a repository
type store interface {
	service.OrderRepository
	outbox.Store
}

// publisher is what the service and the outbox relay need from a broker
type publisher interface {
	service.EventPublisher
	outbox.Publisher
}

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped gracefully")
}

func run(cfg *config.Config, log *slog.Logger) error {
	log.Info("starting orders api server",
		"port", cfg.Server.Port,
		"host", cfg.Server.Host,
		"log_level", cfg.LogLevel,
		"delivery_mode", cfg.Order.DeliveryMode,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	_, shutdownTracing, err := tracing.New(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Error("failed to flush traces", "error", err)
		}
	}()

	// Metrics
	var m *metrics.Metrics
	var recorder service.Recorder
	var relayRecorder outbox.Recorder
	if cfg.Metrics.Enabled {
		m, err = metrics.New()
		if err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
		recorder, relayRecorder = m, m
	}

	// Store
	orders, closeStore, err := openStore(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// Publisher
	events, closeBroker, err := openPublisher(ctx, cfg.Broker, log)
	if err != nil {
		return err
	}
	defer closeBroker()

	// Services and handlers
	orderService := service.NewOrderService(orders, events, service.Options{
		DefaultCustomerID: cfg.Order.DefaultCustomerID,
		DeliveryMode:      cfg.Order.DeliveryMode,
		Recorder:          recorder,
	}, log)

	router := server.NewRouter(server.Dependencies{
		Health:      handlers.NewHealthHandler(log),
		Orders:      handlers.NewOrderHandler(orderService, recorder, log),
		Metrics:     m,
		Log:         log,
		ServiceName: cfg.Tracing.ServiceName,
	})

	// Outbox relay
	var wg sync.WaitGroup
	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	if cfg.Order.DeliveryMode == config.DeliveryOutbox {
		relay := outbox.NewRelay(orders, events, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize, relayRecorder, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			relay.Run(relayCtx)
		}()
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed to start: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	stopRelay()
	wg.Wait()

	return nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (store, func(), error) {
	if cfg.URL == "" {
		log.Warn("DATABASE_URL not set, orders are kept in memory")
		return repository.NewInMemoryOrderRepository(), func() {}, nil
	}

	db, err := repository.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	log.Info("connected to database")

	if err := repository.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return repository.NewPostgresOrderRepository(db), closer(db, log), nil
}

func closer(db *sql.DB, log *slog.Logger) func() {
	return func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close database", "error", err)
		}
	}
}

func openPublisher(ctx context.Context, cfg config.BrokerConfig, log *slog.Logger) (publisher, func(), error) {
	if cfg.URL == "" {
		log.Warn("RABBITMQ_URL not set, events are written to the log")
		return broker.NewLogPublisher(log), func() {}, nil
	}

	conn, err := broker.Connect(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	log.Info("connected to rabbitmq", "queue", conn.Queue)

	closeFn := func() {
		if err := conn.Close(); err != nil {
			log.Error("failed to close rabbitmq connection", "error", err)
		}
	}

	return broker.NewRabbitMQPublisher(conn.Channel, conn.Queue, log), closeFn, nil
}
