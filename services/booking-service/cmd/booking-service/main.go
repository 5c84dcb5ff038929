package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/tenantbook/libs/config"
	"github.com/md-rashed-zaman/tenantbook/libs/db"
	"github.com/md-rashed-zaman/tenantbook/libs/httpx"
	"github.com/md-rashed-zaman/tenantbook/libs/kafkax"
	"github.com/md-rashed-zaman/tenantbook/libs/metrics"
	otelx "github.com/md-rashed-zaman/tenantbook/libs/otel"
	"github.com/md-rashed-zaman/tenantbook/libs/redisx"
	"github.com/md-rashed-zaman/tenantbook/libs/runtime"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/consumer"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/inbox"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/migrations"
)

func main() {
	if err := run(); err != nil {
		slog.Error("booking-service exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		return err
	}
	logger := runtime.NewLogger(service)
	slog.SetDefault(logger)

	ctx, stop := runtime.SignalContext(context.Background())
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return err
	}
	maxConns, err := config.Int("DB_MAX_CONNS", 10)
	if err != nil {
		return err
	}
	pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: int32(maxConns)})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		return err
	}
	defer pool.Close()

	if config.Bool("DB_AUTO_MIGRATE", false) {
		if err := migrations.Apply(ctx, pool); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	rdb, err := openRedis(ctx, logger)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	alloc, err := newAllocator(pool, rdb)
	if err != nil {
		return err
	}
	policies, cache, err := newPolicyProvider(pool, rdb, logger)
	if err != nil {
		return err
	}
	compensation, err := config.Duration("COMPENSATION_TIMEOUT", 5*time.Second)
	if err != nil {
		return err
	}

	outboxRepo := outbox.NewRepository()
	store := storage.NewBookingRepository(pool, outboxRepo)
	svc := booking.New(policies, alloc, store, logger,
		booking.WithMetrics(booking.NewMetrics(reg)),
		booking.WithCompensationTimeout(compensation),
	)

	brokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	if cache != nil && brokers != "" {
		policyConsumer := consumer.New(logger, inbox.NewRepository(pool), consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", service),
			Topic:   config.String("KAFKA_POLICY_TOPIC", consumer.EventTenantPolicyUpdated),
		}, consumer.PolicyUpdatedHandler(cache, logger))
		go policyConsumer.Run(ctx)
	}

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(brokers), Optional: true},
	}
	if rdb != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: redisx.ReadyCheck(rdb), Optional: config.String("ALLOCATOR_BACKEND", "postgres") != "redis"})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("GET /metrics", metrics.Handler(reg))

	limiter, err := newRateLimiter(rdb, logger)
	if err != nil {
		return err
	}
	requestTimeout, err := config.Duration("REQUEST_TIMEOUT", 15*time.Second)
	if err != nil {
		return err
	}
	routeMW := []httpx.Middleware{limiter, httpx.WithBodyLimit(64 << 10)}
	if requestTimeout > 0 {
		routeMW = append(routeMW, httpx.WithTimeout(requestTimeout))
	}
	handlers.NewBookingHandler(svc, logger).Register(mux, routeMW...)

	httpMetrics := metrics.NewHTTPMetrics(reg, service)
	httpHandler := httpx.Chain(httpMetrics.Middleware(mux),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.DefaultCORSPolicy(config.List("CORS_ALLOWED_ORIGINS", ""))),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
	return nil
}
