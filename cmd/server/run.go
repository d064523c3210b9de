package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"redeem/internal/eventbus"
	jwttoken "redeem/internal/jwt_token"
	"redeem/internal/notification"
	"redeem/internal/platform/config"
	"redeem/internal/platform/httpserver"
	"redeem/internal/platform/kafka"
	"redeem/internal/platform/metrics"
	"redeem/internal/platform/postgres"
	platformredis "redeem/internal/platform/redis"
	"redeem/internal/redemption/handler"
	redemptionmetrics "redeem/internal/redemption/metrics"
	"redeem/internal/redemption/models"
	"redeem/internal/redemption/service"
	"redeem/internal/redemption/store"
	"redeem/internal/relay"
	"redeem/pkg/platform/audit"
	auditpublisher "redeem/pkg/platform/audit/publisher"
	auditmemory "redeem/pkg/platform/audit/store/memory"
	auditpostgres "redeem/pkg/platform/audit/store/postgres"
	authmw "redeem/pkg/platform/middleware/auth"
	"redeem/pkg/platform/middleware/metadata"
	"redeem/pkg/platform/middleware/request"
	"redeem/pkg/platform/middleware/requesttime"
)

// infra holds the backing connections opened for the configured store.
type infra struct {
	db       *sql.DB
	redis    *platformredis.Client
	requests service.RequestStore
	audit    audit.Store
	health   []func(context.Context) error
}

func (i *infra) close() {
	if i.db != nil {
		_ = i.db.Close()
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
}

func openInfra(ctx context.Context, cfg config.Config) (*infra, error) {
	in := &infra{}
	switch cfg.Store {
	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, db, store.PostgresSchema, auditpostgres.Schema); err != nil {
			_ = db.Close()
			return nil, err
		}
		in.db = db
		in.requests = store.NewPostgres(db)
		in.audit = auditpostgres.New(db)
		in.health = append(in.health, db.PingContext)
	case config.StoreRedis:
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		in.redis = client
		in.requests = store.NewRedis(client)
		in.audit = auditmemory.NewInMemoryStore()
		in.health = append(in.health, client.Health)
	default:
		in.requests = store.NewInMemory()
		in.audit = auditmemory.NewInMemoryStore()
	}
	return in, nil
}

// run wires every component and blocks until ctx is cancelled or the server
// fails.
func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	reg := metrics.NewRegistry()

	in, err := openInfra(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	defer in.close()

	publisherOpts := []auditpublisher.Option{auditpublisher.WithLogger(log)}
	if cfg.Audit.Buffer > 0 {
		publisherOpts = append(publisherOpts, auditpublisher.WithAsyncBuffer(cfg.Audit.Buffer))
	}
	auditPublisher := auditpublisher.NewPublisher(in.audit, publisherOpts...)
	defer auditPublisher.Close()

	bus := eventbus.New[models.Notification](
		eventbus.WithQueueSize(cfg.Bus.QueueSize),
		eventbus.WithOverflowPolicy(eventbus.OverflowPolicy(cfg.Bus.OverflowPolicy)),
		eventbus.WithMetrics(eventbus.NewMetrics(reg)),
		eventbus.WithLogger(log),
	)

	coordinatorOpts := []notification.Option{
		notification.WithLogger(log),
		notification.WithSinkBuffer(cfg.Bus.SinkBuffer),
	}
	if cfg.RelayEnabled() {
		sink, closeRelay, err := newRelay(ctx, cfg.Kafka, reg, log)
		if err != nil {
			return err
		}
		defer closeRelay()
		coordinatorOpts = append(coordinatorOpts, notification.WithSink(sink))
	}

	coordinator := notification.New(bus, coordinatorOpts...)
	// Runs before closeRelay so queued batches reach the producer.
	defer coordinator.Close()

	svc, err := service.New(in.requests,
		service.WithNotifier(coordinator),
		service.WithLogger(log),
		service.WithAuditPublisher(auditPublisher),
		service.WithMetrics(redemptionmetrics.New(reg)),
		service.WithRetryPolicy(service.RetryPolicy{
			MaxAttempts:    cfg.Quorum.MaxAttempts,
			InitialBackoff: cfg.Quorum.InitialBackoff,
			MaxBackoff:     cfg.Quorum.MaxBackoff,
		}),
	)
	if err != nil {
		return err
	}

	redemptions := handler.New(svc, bus, log,
		handler.WithAuditPublisher(auditPublisher),
		handler.WithAuditReader(auditPublisher),
	)

	var validator authmw.JWTValidator
	if cfg.AuthEnabled() {
		validator = jwttoken.NewJWTServiceAdapter(
			jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience),
		)
	}

	srv := httpserver.New(cfg.Server.Addr, newRouter(redemptions, validator, reg, in.health, log))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting redeem",
			"addr", cfg.Server.Addr,
			"store", cfg.Store,
			"auth", cfg.AuthEnabled(),
			"relay", cfg.RelayEnabled(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		// Streams are hijacked connections; closing the bus ends them.
		bus.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func newRelay(ctx context.Context, cfg config.KafkaConfig, reg prometheus.Registerer, log *slog.Logger) (*relay.Relay, func(), error) {
	producer, err := kafka.NewProducer(cfg)
	if err != nil {
		return nil, nil, err
	}
	provisionCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := kafka.EnsureTopic(provisionCtx, producer, cfg.Topic, cfg.Partitions); err != nil {
		producer.Close()
		return nil, nil, err
	}
	return relay.New(producer,
		relay.WithTopic(cfg.Topic),
		relay.WithMetrics(relay.NewMetrics(reg)),
		relay.WithLogger(log),
	), producer.Close, nil
}

func newRouter(
	redemptions *handler.Handler,
	validator authmw.JWTValidator,
	reg *prometheus.Registry,
	health []func(context.Context) error,
	log *slog.Logger,
) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		for _, check := range health {
			if err := check(req.Context()); err != nil {
				log.WarnContext(req.Context(), "health check failed", "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", metrics.Handler(reg))

	r.Group(func(r chi.Router) {
		if validator != nil {
			r.Use(authmw.RequireApprover(validator, log))
		}
		redemptions.Register(r)
	})
	return r
}
