// main wires the loan portal: stores, services, HTTP transport, and the
// audit outbox relay. Business rules live under internal/; this file only
// assembles and supervises.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"fairfin/internal/audit"
	audithandler "fairfin/internal/audit/handler"
	"fairfin/internal/audit/outbox"
	identityhandler "fairfin/internal/identity/handler"
	"fairfin/internal/identity/oidc"
	identityservice "fairfin/internal/identity/service"
	identitystore "fairfin/internal/identity/store"
	loanhandler "fairfin/internal/loan/handler"
	loanservice "fairfin/internal/loan/service"
	loanstore "fairfin/internal/loan/store"
	"fairfin/internal/platform/config"
	"fairfin/internal/platform/httpserver"
	"fairfin/internal/platform/logger"
	"fairfin/internal/platform/metrics"
	"fairfin/internal/platform/middleware"
	platformredis "fairfin/internal/platform/redis"
	"fairfin/internal/scoring"
	"fairfin/internal/storage"
	"fairfin/internal/token"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	tokens := token.NewService(cfg.JWTSigningKey, "fairfin")

	// Storage. Without DATABASE_URL everything runs in memory, which is
	// enough for local development against the full API surface.
	var (
		users  identitystore.UserStore
		loans  loanstore.LoanStore
		edits  loanstore.EditStore
		audits audit.Store
		uow    identityservice.UnitOfWork
		db     *sql.DB
	)
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		if err := storage.ApplySchema(ctx, db); err != nil {
			return err
		}
		users = identitystore.NewPostgresUserStore(db)
		loans = loanstore.NewPostgresLoanStore(db)
		edits = loanstore.NewPostgresEditStore(db)
		audits = audit.NewPostgresStore(db)
		uow = storage.NewSQLUnitOfWork(db)
		log.Info("using postgres storage")
	} else {
		memUsers := identitystore.NewInMemoryUserStore()
		memLoans := loanstore.NewInMemoryLoanStore()
		memEdits := loanstore.NewInMemoryEditStore()
		memAudits := audit.NewInMemoryStore()
		users = memUsers
		loans = memLoans
		edits = memEdits
		audits = memAudits
		uow = storage.NewMemoryUnitOfWork(memUsers, memLoans, memEdits, memAudits)
		log.Warn("DATABASE_URL not set, using in-memory storage")
	}

	// Sessions live in Redis when available so instances can share login
	// state; otherwise they stay process local.
	var sessions identitystore.SessionStore
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		sessions = identitystore.NewRedisSessionStore(redisClient.Client)
		log.Info("using redis session store")
	} else {
		sessions = identitystore.NewInMemorySessionStore()
		log.Warn("REDIS_URL not set, using in-memory sessions")
	}

	auditor := audit.NewPublisher(audits)

	identitySvc := identityservice.New(users, sessions, uow, tokens, auditor,
		identityservice.WithLogger(log),
		identityservice.WithMetrics(m),
		identityservice.WithSessionTTL(cfg.SessionTTL),
	)
	scorer := scoring.NewHTTPClient(cfg.Scorer,
		scoring.WithLogger(log),
		scoring.WithMetrics(m),
	)
	loanSvc := loanservice.New(loans, edits, uow, scorer, auditor,
		loanservice.WithLogger(log),
		loanservice.WithMetrics(m),
	)
	provider := oidc.NewProvider(cfg.Auth0)

	router := chi.NewRouter()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(log))
	router.Use(middleware.Timeout(30 * time.Second))

	identityhandler.New(identitySvc, provider, tokens, log).Register(router)
	loanhandler.New(loanSvc, identitySvc, tokens, log).Register(router)
	audithandler.New(auditor, identitySvc, tokens, log).Register(router)

	router.Get("/healthz", healthHandler(db, redisClient))
	router.Handle("/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Addr, router)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting fairfin portal", "addr", cfg.Addr)
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

	// The outbox relay only runs with both Postgres and Kafka configured.
	if cfg.DatabaseURL != "" && len(cfg.Kafka.Brokers) > 0 {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		kafkaClient, err := kgo.NewClient(
			kgo.SeedBrokers(cfg.Kafka.Brokers...),
			kgo.DefaultProduceTopic(cfg.Kafka.AuditTopic),
		)
		if err != nil {
			return err
		}
		defer kafkaClient.Close()

		if err := outbox.EnsureTopic(ctx, kafkaClient, cfg.Kafka.AuditTopic); err != nil {
			return err
		}

		relay := outbox.New(pool, kafkaClient, cfg.Kafka.AuditTopic, log)
		group.Go(func() error {
			log.Info("starting audit outbox relay", "topic", cfg.Kafka.AuditTopic)
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	return group.Wait()
}

func healthHandler(db *sql.DB, redisClient *platformredis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		if redisClient != nil {
			if err := redisClient.Health(ctx); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
