package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/UkralStul/technews/internal/auth"
	"github.com/UkralStul/technews/internal/config"
	"github.com/UkralStul/technews/internal/httpapi"
	"github.com/UkralStul/technews/internal/metrics"
	"github.com/UkralStul/technews/internal/moderation"
	"github.com/UkralStul/technews/internal/observer"
	"github.com/UkralStul/technews/internal/service"
	"github.com/UkralStul/technews/internal/storage"
	"github.com/UkralStul/technews/internal/storage/inmemory"
	"github.com/UkralStul/technews/internal/storage/mongo"
	"github.com/UkralStul/technews/internal/storage/postgres"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("server stopped with error", "err", err)
		os.Exit(1)
	}
}

func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	logger.Info("opening storage", "type", cfg.Storage)
	switch cfg.Storage {
	case config.StoragePostgres:
		return postgres.New(cfg.DatabaseURL)
	case config.StorageMongo:
		return mongo.New(ctx, cfg.MongoURI, cfg.MongoDB)
	default:
		store := inmemory.New()
		if cfg.SeedDemoData {
			// Заполним данными для ручной проверки
			if err := fillWithDemoData(ctx, store); err != nil {
				return nil, err
			}
			logger.Info("demo data loaded")
		}
		return store, nil
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Warn("failed to close storage", "err", err)
		}
	}()

	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	obs := observer.NewCommentObserver()

	router := httpapi.NewRouter(httpapi.Deps{
		Store:      store,
		Posts:      service.NewPosts(store, m, logger),
		Comments:   service.NewComments(store, obs, m, logger, cfg.MaxReplyLevel),
		Users:      service.NewUsers(store, issuer, cfg.IsAdminEmail, logger),
		Moderation: moderation.NewService(store, m, logger),
		Observer:   obs,
		Issuer:     issuer,
		Metrics:    m,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "storage", cfg.Storage)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
