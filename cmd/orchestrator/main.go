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

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/jcmexdev/swifttrack-sagas/internal/api-gateway/infra/adapters/service"
	"github.com/jcmexdev/swifttrack-sagas/internal/api-gateway/infra/httpx"
	"github.com/jcmexdev/swifttrack-sagas/internal/coordinator"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/cache"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/config"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/health"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/metrics"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/telemetry"
)

const serviceName = "orchestrator"

func main() {
	telemetry.InitLogger(serviceName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("orchestrator stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	shutdown, err := telemetry.SetupTracer(ctx, config.GetEnv("OTEL_SERVICE_NAME", serviceName))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	stores, err := config.OpenStores(ctx)
	if err != nil {
		return err
	}
	defer stores.Close()

	b, err := config.OpenBus("kafka")
	if err != nil {
		return err
	}
	defer b.Close()

	orch := coordinator.New(stores.Orders, stores.Logs, b, config.Saga(),
		coordinator.WithMetrics(metrics.NewSaga(prometheus.DefaultRegisterer)))
	if err := orch.Subscribe(ctx); err != nil {
		return err
	}
	if _, err := orch.Recover(ctx); err != nil {
		return err
	}

	idem := newIdempotencyCache()
	handler := httpx.NewHandler(orch,
		service.NewIdempotentSubmitter(orch, idem, config.GetDuration("IDEMPOTENCY_TTL", 24*time.Hour)),
		serviceName)
	if os.Getenv("REDIS_ADDR") != "" {
		handler.AddHealthCheck("redis", func(ctx context.Context) error { return cache.Ping(ctx, idem) })
	}

	srv := &http.Server{
		Addr:              ":" + config.GetEnv("PORT", "8080"),
		Handler:           httpx.NewRouter(handler, metrics.NewServerMetrics(prometheus.DefaultRegisterer, "gateway")),
		ReadHeaderTimeout: 5 * time.Second,
	}
	hs := health.NewServer(serviceName)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(gctx) })
	g.Go(func() error { return serveHTTP(gctx, srv) })
	g.Go(func() error { return hs.Serve(gctx, ":"+config.GetEnv("GRPC_PORT", "9090")) })
	hs.SetServing("", true)
	hs.SetServing(serviceName, true)

	slog.Info("orchestrator running", "addr", srv.Addr)
	return g.Wait()
}

// newIdempotencyCache uses Redis when REDIS_ADDR is set so every gateway
// replica sees the same keys.
func newIdempotencyCache() cache.Cache {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return cache.NewRedisCache(addr, "gateway")
	}
	slog.Warn("REDIS_ADDR not set, idempotency keys are kept in process memory")
	return cache.NewMemory("gateway")
}

func serveHTTP(ctx context.Context, srv *http.Server) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
