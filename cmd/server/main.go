package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"proofgate/internal/audit"
	"proofgate/internal/catalog"
	jwttoken "proofgate/internal/jwt_token"
	"proofgate/internal/notifier"
	"proofgate/internal/platform/config"
	"proofgate/internal/platform/httpserver"
	"proofgate/internal/platform/kafka"
	"proofgate/internal/platform/logger"
	platformmetrics "proofgate/internal/platform/metrics"
	"proofgate/internal/platform/postgres"
	platformredis "proofgate/internal/platform/redis"
	"proofgate/internal/reaper"
	"proofgate/internal/scoring"
	httptransport "proofgate/internal/transport/http"
	"proofgate/internal/verification/metrics"
	"proofgate/internal/verification/service"
	"proofgate/internal/verification/signature"
	"proofgate/internal/verification/store"
)

// main wires the dependency graph and runs the HTTP server plus the
// background workers under one lifecycle. Business logic lives in the
// internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(slog.LevelInfo)

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]httptransport.HealthCheck{}

	// Stores: PostgreSQL when configured, in-memory otherwise.
	var (
		sessions   store.SessionStore
		composites store.CompositeStore
	)
	if cfg.Postgres.DSN != "" {
		db, err := postgres.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.RunMigrations(ctx, db); err != nil {
			return err
		}
		sessions = store.NewPostgresSessionStore(db)
		composites = store.NewPostgresCompositeStore(db)
		checks["postgres"] = db.PingContext
		log.Info("using postgres session store")
	} else {
		sessions = store.NewInMemorySessionStore()
		composites = store.NewInMemoryCompositeStore()
		log.Warn("no postgres DSN configured, using in-memory stores")
	}

	// Callback replay fast path, optional.
	var replay service.ReplayCache
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		replay = store.NewRedisReplayCache(redisClient.Client, cfg.Callback.ReplayCacheTTL)
		checks["redis"] = redisClient.Health
		log.Info("callback replay cache enabled")
	}

	// Audit pipeline: always the in-process store, plus Kafka when brokers
	// are configured.
	auditStore := audit.NewInMemoryStore()
	auditSink := audit.Tee{auditStore}
	producer, err := kafka.NewProducer(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		return err
	}
	if producer != nil {
		defer producer.Close()
		auditSink = append(auditSink, audit.NewKafkaSink(producer))
		log.Info("audit events publishing to kafka", "topic", cfg.Kafka.Topic)
	}
	auditWorker := audit.NewWorker(audit.NewPublisher(auditSink), 1024, log)

	// Eligibility notification boundary.
	var eligibility notifier.Notifier
	var asyncNotifier *notifier.AsyncNotifier
	if cfg.Ledger.URL != "" {
		ledger := notifier.NewLedgerClient(cfg.Ledger.URL, cfg.Ledger.RequestTimeout)
		asyncNotifier = notifier.NewAsyncNotifier(ledger, cfg.Ledger.QueueSize, log)
		eligibility = asyncNotifier
	} else {
		eligibility = notifier.NewLogNotifier(log)
		log.Warn("no ledger URL configured, eligibility notifications are log-only")
	}

	m := metrics.New()
	cat := catalog.Default()
	engine := scoring.NewEngine(sessions, composites, cfg.Scoring.MintThreshold)
	verifier := signature.NewHMACVerifier([]byte(cfg.Callback.HMACKey))

	orchestrator := service.NewOrchestrator(
		sessions, composites, cat, engine, verifier, replay,
		eligibility, auditWorker, m, log,
	)

	sweeper := reaper.New(sessions, cfg.Reaper.Interval, cfg.Reaper.BatchSize, auditWorker, m, log)

	jwtService := jwttoken.NewService(cfg.Server.JWTSigningKey, "proofgate", "proofgate")
	handler := httptransport.NewHandler(orchestrator, cat, jwttoken.NewMiddlewareAdapter(jwtService), cfg.Server.VerifyBaseURL, log)
	router := httptransport.NewRouter(handler, log, platformmetrics.NewHTTP(), checks)
	srv := httpserver.New(cfg.Server.Addr, router)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return auditWorker.Run(ctx) })
	group.Go(func() error { return sweeper.Run(ctx) })
	if asyncNotifier != nil {
		group.Go(func() error { return asyncNotifier.Run(ctx) })
	}
	group.Go(func() error {
		log.Info("proofgate listening", "addr", cfg.Server.Addr)
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

	return group.Wait()
}
