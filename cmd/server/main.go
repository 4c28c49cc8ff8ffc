package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"charlog/internal/audit"
	"charlog/internal/domain"
	domainstore "charlog/internal/domain/store"
	"charlog/internal/platform/config"
	"charlog/internal/platform/httpserver"
	"charlog/internal/platform/logger"
	platformmetrics "charlog/internal/platform/metrics"
	"charlog/internal/platform/postgres"
	platformredis "charlog/internal/platform/redis"
	"charlog/internal/registries/isometric"
	"charlog/internal/registrysync/confirm"
	"charlog/internal/registrysync/metrics"
	"charlog/internal/registrysync/orchestrator"
	"charlog/internal/registrysync/ports"
	"charlog/internal/registrysync/store/identity"
	httptransport "charlog/internal/transport/http"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Sync logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		records       domain.Store
		identityStore ports.IdentityStore
	)
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("postgres connection failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		pg := identity.NewPostgres(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Error("identity schema setup failed", "error", err)
			os.Exit(1)
		}
		identityStore = pg
		records = domainstore.NewPostgres(db)
	} else {
		log.Warn("DATABASE_URL not set; using in-memory stores")
		identityStore = identity.NewMemory()
		records = domainstore.NewMemory()
	}

	redisClient, err := platformredis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	m := metrics.New()

	var publisher audit.Publisher
	var auditWorker *audit.Worker
	if len(cfg.Audit.Brokers) > 0 {
		kafka, err := audit.NewKafkaPublisher(cfg.Audit.Brokers, cfg.Audit.Topic)
		if err != nil {
			log.Error("kafka audit publisher failed", "error", err)
			os.Exit(1)
		}
		defer kafka.Close()
		buffered := audit.NewBufferedPublisher(256, log)
		auditWorker = audit.NewWorker(buffered, kafka, log)
		publisher = buffered
	}

	transport := isometric.NewHTTPTransport(cfg.Registry.BaseURL, cfg.Registry.APIKey,
		isometric.WithCallTimeout(cfg.Registry.CallTimeout))
	adapter := isometric.New(isometric.Config{
		ProjectID:  cfg.Registry.ProjectID,
		AutoRetry:  cfg.Registry.AutoRetry,
		MaxRetries: cfg.Registry.MaxRetries,
		RetryDelay: cfg.Registry.RetryDelay,
	}, identityStore, records, transport, isometric.WithLogger(log))

	syncOpts := []orchestrator.Option{
		orchestrator.WithLogger(log),
		orchestrator.WithMetrics(m),
	}
	confirmOpts := []confirm.Option{
		confirm.WithLogger(log),
		confirm.WithMetrics(m),
	}
	if publisher != nil {
		syncOpts = append(syncOpts, orchestrator.WithAuditPublisher(publisher))
		confirmOpts = append(confirmOpts, confirm.WithAuditPublisher(publisher))
	}
	if redisClient != nil {
		cache := confirm.NewRedisStatusCache(redisClient, adapter.Registry(), cfg.ConfirmCacheTTL)
		confirmOpts = append(confirmOpts, confirm.WithCache(cache))
	}

	sync, err := orchestrator.New(identityStore, records, adapter, syncOpts...)
	if err != nil {
		log.Error("orchestrator setup failed", "error", err)
		os.Exit(1)
	}
	confirmer, err := confirm.New(identityStore, records, adapter, isometric.MapStatus, confirmOpts...)
	if err != nil {
		log.Error("confirmation service setup failed", "error", err)
		os.Exit(1)
	}

	handler := httptransport.New(sync, identityStore, log)
	router := httptransport.NewRouter(handler, httptransport.AdminAuth(cfg.AdminJWTKey),
		httptransport.WithHTTPMetrics(platformmetrics.NewHTTP()))
	srv := httpserver.New(cfg.Addr, router)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting charlog sync server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if auditWorker != nil {
		group.Go(func() error {
			if err := auditWorker.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	poller := confirm.NewPoller(confirmer, cfg.ConfirmInterval, confirm.Options{ContinueOnError: true}, log)
	group.Go(func() error {
		if err := poller.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
