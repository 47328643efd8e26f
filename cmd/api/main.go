package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nurulloasawear/megasavdo/internal/api"
	"github.com/nurulloasawear/megasavdo/internal/collab"
	"github.com/nurulloasawear/megasavdo/internal/config"
	"github.com/nurulloasawear/megasavdo/internal/database"
	"github.com/nurulloasawear/megasavdo/internal/events"
	"github.com/nurulloasawear/megasavdo/internal/logging"
	"github.com/nurulloasawear/megasavdo/internal/orders"
	"github.com/nurulloasawear/megasavdo/internal/pricing"
	"github.com/nurulloasawear/megasavdo/internal/reconcile"
	"github.com/nurulloasawear/megasavdo/internal/saga"
	"github.com/nurulloasawear/megasavdo/internal/store"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inventoryDB, err := database.NewConnection(ctx, &cfg.Inventory)
	if err != nil {
		logger.Fatal("Connect to inventory database", zap.Error(err))
	}
	defer inventoryDB.Close()

	ordersDB, err := database.NewConnection(ctx, &cfg.Orders)
	if err != nil {
		logger.Fatal("Connect to orders database", zap.Error(err))
	}
	defer ordersDB.Close()

	logger.Info("Connected to databases")

	ledger := store.NewLedger(inventoryDB)
	catalog := store.NewCatalog(inventoryDB)
	stranded := store.NewStrandedReservations(inventoryDB)
	orderStore := store.NewOrderStore(ordersDB)
	users := store.NewUsers(ordersDB)

	var identity saga.UserDirectory = users
	if cfg.Collaborators.UsersServiceURL != "" {
		identity = collab.NewUserDirectory(cfg.Collaborators.UsersServiceURL, cfg.Collaborators.Timeout)
		logger.Info("Using remote identity service", zap.String("url", cfg.Collaborators.UsersServiceURL))
	}

	var publisher events.Publisher = events.NewLogPublisher(logger)
	if cfg.Kafka.Enabled() {
		kafkaPublisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.OrderEventsTopic)
		defer func() {
			if err := kafkaPublisher.Close(); err != nil {
				logger.Warn("Close event publisher", zap.Error(err))
			}
		}()
		publisher = kafkaPublisher
		logger.Info("Publishing order events to Kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.OrderEventsTopic),
		)
	}

	opts := saga.DefaultOptions()
	opts.CollaboratorTimeout = cfg.Collaborators.Timeout

	orchestrator := saga.NewOrchestrator(
		identity,
		pricing.NewService(catalog, ledger),
		ledger,
		orderStore,
		stranded,
		publisher,
		logger,
		opts,
	)
	orderService := orders.NewService(orderStore, ledger, publisher, logger, opts.CompensationTimeout)

	reconciler := reconcile.NewReconciler(stranded, logger,
		cfg.Reconcile.Interval, cfg.Reconcile.BatchSize, cfg.Reconcile.MaxAttempts)
	go reconciler.Start(ctx)

	server := api.NewServer(api.Deps{
		Saga:      orchestrator,
		Orders:    orderService,
		Inventory: ledger,
		Catalog:   catalog,
		Users:     users,
		Databases: map[string]api.Pinger{
			"inventory": inventoryDB,
			"orders":    ordersDB,
		},
	}, logger)

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("Server starting", zap.String("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown", zap.Error(err))
	}
}
