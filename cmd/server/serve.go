package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"evalledger/internal/evaluation/cache"
	"evalledger/internal/evaluation/events"
	"evalledger/internal/evaluation/handler"
	evalmetrics "evalledger/internal/evaluation/metrics"
	"evalledger/internal/evaluation/service"
	"evalledger/internal/evaluation/store"
	jwttoken "evalledger/internal/jwt_token"
	"evalledger/internal/platform/config"
	"evalledger/internal/platform/httpserver"
	"evalledger/internal/platform/metrics"
	"evalledger/internal/platform/postgres"
	"evalledger/internal/platform/redis"
	httptransport "evalledger/internal/transport/http"
	"evalledger/pkg/platform/circuit"
	"evalledger/pkg/platform/tx"
)

const (
	publishFailureThreshold = 5
	publishCooldown         = 30 * time.Second
)

func buildServeCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the evalledger HTTP API.

Without DATABASE_URL the server keeps everything in memory. REDIS_URL enables
the shared global test-case cache and KAFKA_BROKERS enables result-ingestion
events. Shutdown is graceful on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, log, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply the schema before serving")
	return cmd
}

type closer func()

func runServe(ctx context.Context, cfg config.Config, log *slog.Logger, migrate bool) error {
	if cfg.UsingDevSigningKey() {
		log.WarnContext(ctx, "using the development JWT signing key; set JWT_SIGNING_KEY in production")
	}

	var cleanup []closer
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	checks := map[string]httptransport.CheckFunc{}
	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(evalmetrics.New()),
		service.WithMaxBatchSize(cfg.Evaluation.MaxBatchSize),
	}

	st, txr, db, err := openStore(ctx, cfg, log, migrate)
	if err != nil {
		return err
	}
	if db != nil {
		cleanup = append(cleanup, func() { _ = db.Close() })
		checks["postgres"] = db.PingContext
	}

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		cleanup = append(cleanup, func() { _ = rdb.Close() })
		checks["redis"] = rdb.Health
	}
	switch {
	case cfg.Evaluation.GlobalCacheTTL == 0:
		log.InfoContext(ctx, "global test case cache disabled")
	case rdb != nil:
		opts = append(opts, service.WithGlobalCache(cache.NewRedis(rdb, cfg.Evaluation.GlobalCacheTTL)))
		log.InfoContext(ctx, "global test case cache backed by redis")
	default:
		opts = append(opts, service.WithGlobalCache(cache.NewMemory(cfg.Evaluation.GlobalCacheTTL)))
	}

	producer, err := events.NewKafka(cfg.Kafka)
	if err != nil {
		return err
	}
	if producer != nil {
		cleanup = append(cleanup, producer.Close)
		if err := producer.EnsureTopic(ctx, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
			return fmt.Errorf("ensure kafka topic: %w", err)
		}
		checks["kafka"] = producer.Ping
		breaker := circuit.New("kafka", circuit.WithFailureThreshold(publishFailureThreshold), circuit.WithCooldown(publishCooldown))
		opts = append(opts, service.WithEventPublisher(events.NewGuarded(producer, breaker, log)))
		log.InfoContext(ctx, "publishing result events", "topic", cfg.Kafka.Topic)
	}

	svc := service.New(st, txr, opts...)
	httpMetrics := metrics.New()
	jwt := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience)

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:         log,
		Validator:      jwttoken.NewJWTServiceAdapter(jwt),
		Metrics:        httpMetrics,
		RequestTimeout: cfg.Server.RequestTimeout,
		Checks:         checks,
		API:            []httptransport.Registrar{handler.New(svc, log)},
	})

	servers := []*http.Server{httpserver.New(cfg.Server.Addr, router, cfg.Server.RequestTimeout)}
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", httpMetrics.Handler())
		servers = append(servers, httpserver.New(cfg.Server.MetricsAddr, mux, 0))
	}
	return httpserver.Run(ctx, log, cfg.Server.ShutdownTimeout, servers...)
}

// openStore selects Postgres when DATABASE_URL is set and the in-memory
// store otherwise. db is nil for the in-memory store.
func openStore(ctx context.Context, cfg config.Config, log *slog.Logger, migrate bool) (service.Store, service.StoreTx, *sql.DB, error) {
	if cfg.Database.URL == "" {
		log.WarnContext(ctx, "DATABASE_URL not set; using the in-memory store")
		mem := store.NewInMemory()
		return mem, mem, nil, nil
	}

	db, err := postgres.Open(ctx, postgres.FromConfig(cfg.Database))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	if migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		log.InfoContext(ctx, "schema applied")
	}
	return store.NewPostgres(db), tx.NewSQLRunner(db, cfg.Database.TxTimeout), db, nil
}
