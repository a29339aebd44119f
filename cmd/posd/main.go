package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/omarhaddadin/mizan-pos/api"
	"github.com/omarhaddadin/mizan-pos/internal/approval"
	"github.com/omarhaddadin/mizan-pos/internal/cart"
	"github.com/omarhaddadin/mizan-pos/internal/cron"
	"github.com/omarhaddadin/mizan-pos/internal/documents"
	"github.com/omarhaddadin/mizan-pos/internal/lookup"
	"github.com/omarhaddadin/mizan-pos/internal/replication"
	"github.com/omarhaddadin/mizan-pos/internal/scan"
	"github.com/omarhaddadin/mizan-pos/internal/stock"
	"github.com/omarhaddadin/mizan-pos/pkg/config"
	"github.com/omarhaddadin/mizan-pos/pkg/docstore"
	"github.com/omarhaddadin/mizan-pos/pkg/logger"
	"github.com/omarhaddadin/mizan-pos/pkg/metrics"
	"github.com/omarhaddadin/mizan-pos/pkg/migrate"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "posd"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "posd",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	store, err := openStore(cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to open document store", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logg.Error(context.Background(), "error closing document store", err)
		}
	}()

	syncMetrics := metrics.NewSyncMetrics(prometheus.DefaultRegisterer)
	jobMetrics := metrics.NewJobMetrics(prometheus.DefaultRegisterer)
	gate := &replication.Gate{}

	book := cart.NewOrderBook(cart.Params{})

	lookupSvc, err := lookup.NewService(lookup.Params{Store: store, Logger: logg})
	if err != nil {
		logg.Error(context.Background(), "failed to build lookup service", err)
		os.Exit(1)
	}

	stockAdjuster, err := stock.NewAdjuster(stock.Params{Store: store, Logger: logg})
	if err != nil {
		logg.Error(context.Background(), "failed to build stock adjuster", err)
		os.Exit(1)
	}

	engine, err := approval.NewEngine(approval.Params{
		Store:                      store,
		Cart:                       book,
		Stock:                      stockAdjuster,
		Logger:                     logg,
		RequireForZeroingDecrement: cfg.Approval.RequireForZeroingDecrement,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build approval engine", err)
		os.Exit(1)
	}
	defer engine.Close()

	coordinator, err := scan.NewCoordinator(scan.Params{
		Lookup:            lookupSvc,
		Cart:              book,
		Gate:              gate,
		Logger:            logg,
		Metrics:           syncMetrics,
		BurstWindow:       cfg.Scan.BurstWindow,
		DispatchDelay:     cfg.Scan.DispatchDelay,
		SettleDelay:       cfg.Scan.SettleDelay,
		InactivityTimeout: cfg.Scan.InactivityTimeout,
		BatchSize:         cfg.Scan.BatchSize,
		CacheCapacity:     cfg.Scan.CacheCapacity,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build scan coordinator", err)
		os.Exit(1)
	}

	var remote *replication.HTTPRemote
	if !cfg.Replication.LocalOnly() {
		remote, err = replication.NewHTTPRemote(cfg.Replication.RemoteURL, nil)
		if err != nil {
			logg.Error(context.Background(), "invalid remote url", err)
			os.Exit(1)
		}
	}

	managerParams := replication.Params{
		Store:          store,
		Gate:           gate,
		Logger:         logg,
		Metrics:        syncMetrics,
		BatchSize:      cfg.Replication.BatchSize,
		BackoffInitial: cfg.Replication.BackoffInitial,
		BackoffFactor:  cfg.Replication.BackoffFactor,
		BackoffMax:     cfg.Replication.BackoffMax,
		PollInterval:   cfg.Replication.PollInterval,
	}
	if remote != nil {
		managerParams.Remote = remote
	}
	manager, err := replication.New(managerParams)
	if err != nil {
		logg.Error(context.Background(), "failed to build replication manager", err)
		os.Exit(1)
	}

	cronService, err := buildCron(cfg, logg, store, remote, jobMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to build cron service", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:    ":" + cfg.API.Port,
		Handler: api.NewRouter(cfg, logg, manager, prometheus.DefaultGatherer),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"terminal_id": cfg.App.TerminalID,
		"addr":        server.Addr,
	})
	logg.Info(ctx, "starting pos daemon")

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return manager.Run(ctx) })
	group.Go(func() error { return coordinator.Run(ctx) })
	group.Go(func() error { return cronService.Run(ctx) })
	group.Go(func() error { return invalidateScanCache(ctx, store, coordinator) })
	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "pos daemon stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "pos daemon shutting down gracefully")
}

// openStore opens the SQLite database, applies migrations, and builds
// the document store. Migrations run before the store because the
// store reads the sequence counter at startup.
func openStore(cfg *config.Config, logg *logger.Logger) (*docstore.Store, error) {
	silent := gormlogger.New(
		log.New(io.Discard, "", log.LstdFlags),
		gormlogger.Config{LogLevel: gormlogger.Silent},
	)
	conn, err := gorm.Open(sqlite.Open(cfg.DB.Path), &gorm.Config{
		Logger:                 silent,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, err
	}
	if cfg.DB.AutoMigrate {
		sqlDB, err := conn.DB()
		if err != nil {
			return nil, err
		}
		if err := migrate.Up(context.Background(), sqlDB); err != nil {
			return nil, err
		}
	}
	return docstore.NewWithDB(conn, cfg.DB.CacheCapacity, logg)
}

func buildCron(
	cfg *config.Config,
	logg *logger.Logger,
	store *docstore.Store,
	remote *replication.HTTPRemote,
	jobMetrics *metrics.JobMetrics,
) (*cron.Service, error) {
	registry := cron.NewRegistry()

	if cfg.Retention.Enabled {
		params := cron.RetentionJobParams{Store: store, Logger: logg}
		if remote != nil {
			params.Remote = remote
		}
		retention, err := cron.NewRetentionJob(params)
		if err != nil {
			return nil, err
		}
		registry.Register(retention)
	}

	compaction, err := cron.NewCompactionJob(cron.CompactionJobParams{Store: store, Logger: logg})
	if err != nil {
		return nil, err
	}
	registry.Register(compaction)

	return cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     cron.NewMutexLock(),
		Metrics:  jobMetrics,
		Interval: cfg.Retention.Interval,
	})
}

// invalidateScanCache drops scanned products from the coordinator's
// cache whenever a product document changes, so a pulled price update
// is visible on the next beep.
func invalidateScanCache(ctx context.Context, store *docstore.Store, coordinator *scan.Coordinator) error {
	sub, err := store.Changes(ctx, docstore.ChangeOptions{
		Since: store.CurrentSeq(),
		Live:  true,
		Filter: func(ev docstore.ChangeEvent) bool {
			return ev.Doc.Type == string(documents.TypeProduct)
		},
	})
	if err != nil {
		return err
	}
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			coordinator.InvalidateProduct(ev.ID)
		}
	}
}
