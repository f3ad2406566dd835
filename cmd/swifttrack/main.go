// Command swifttrack runs the whole order pipeline in one process: gateway,
// orchestrator, the three protocol adapters and the notification hub, joined
// by the in-memory bus unless BUS_DRIVER says otherwise.
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

	"github.com/jcmexdev/swifttrack-sagas/internal/adapters"
	"github.com/jcmexdev/swifttrack-sagas/internal/adapters/cms"
	"github.com/jcmexdev/swifttrack-sagas/internal/adapters/ros"
	"github.com/jcmexdev/swifttrack-sagas/internal/adapters/wms"
	"github.com/jcmexdev/swifttrack-sagas/internal/api-gateway/infra/adapters/service"
	"github.com/jcmexdev/swifttrack-sagas/internal/api-gateway/infra/httpx"
	"github.com/jcmexdev/swifttrack-sagas/internal/coordinator"
	"github.com/jcmexdev/swifttrack-sagas/internal/notification"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/cache"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/config"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/health"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/metrics"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/telemetry"
)

const serviceName = "swifttrack"

func main() {
	telemetry.InitLogger(serviceName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("swifttrack stopped", "error", err)
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

	reg := prometheus.DefaultRegisterer

	stores, err := config.OpenStores(ctx)
	if err != nil {
		return err
	}
	defer stores.Close()

	b, err := config.OpenBus("memory")
	if err != nil {
		return err
	}
	defer b.Close()

	// Adapters first so recovered steps find a consumer.
	wmsCfg := wms.DefaultConfig()
	wmsCfg.Addr = config.GetEnv("WMS_ADDR", wmsCfg.Addr)
	wmsCfg.PoolSize = config.GetInt("WMS_POOL_SIZE", wmsCfg.PoolSize)
	wmsAdapter := wms.New(wmsCfg)
	defer wmsAdapter.Close()

	requestTimeout := adapters.WithRequestTimeout(config.GetDuration("ADAPTER_REQUEST_TIMEOUT", adapters.DefaultRequestTimeout))
	workers := []*adapters.Worker{
		adapters.NewWorker(cms.New(cms.Config{URL: config.GetEnv("CMS_URL", "http://localhost:8081/cms")}), b,
			requestTimeout, adapters.WithMetrics(metrics.NewAdapter(reg, "cms"))),
		adapters.NewWorker(ros.New(ros.Config{BaseURL: config.GetEnv("ROS_URL", "http://localhost:8082")}), b,
			requestTimeout, adapters.WithMetrics(metrics.NewAdapter(reg, "ros"))),
		adapters.NewWorker(wmsAdapter, b,
			requestTimeout, adapters.WithMetrics(metrics.NewAdapter(reg, "wms"))),
	}
	for _, w := range workers {
		if err := w.Start(ctx); err != nil {
			return err
		}
	}

	hub := notification.NewHub(metrics.NewNotifier(reg))
	if err := hub.Subscribe(ctx, b); err != nil {
		return err
	}

	orch := coordinator.New(stores.Orders, stores.Logs, b, config.Saga(), coordinator.WithMetrics(metrics.NewSaga(reg)))
	if err := orch.Subscribe(ctx); err != nil {
		return err
	}
	if _, err := orch.Recover(ctx); err != nil {
		return err
	}

	var idem cache.Cache = cache.NewMemory("gateway")
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		idem = cache.NewRedisCache(addr, "gateway")
	}
	handler := httpx.NewHandler(orch,
		service.NewIdempotentSubmitter(orch, idem, config.GetDuration("IDEMPOTENCY_TTL", 24*time.Hour)),
		serviceName)
	handler.AddHealthCheck("cache", func(ctx context.Context) error { return cache.Ping(ctx, idem) })

	ws := notification.NewHandler(hub, notification.SnapshotFrom(orch.GetOrder))
	srv := &http.Server{
		Addr:              ":" + config.GetEnv("PORT", "8080"),
		Handler:           httpx.NewRouter(handler, metrics.NewServerMetrics(reg, "gateway"), ws.Routes),
		ReadHeaderTimeout: 5 * time.Second,
	}
	hs := health.NewServer(serviceName)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(gctx) })
	g.Go(func() error {
		go func() {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return hs.Serve(gctx, ":"+config.GetEnv("GRPC_PORT", "9090")) })
	hs.SetServing("", true)
	hs.SetServing(serviceName, true)

	slog.Info("swifttrack running", "addr", srv.Addr, "bus", config.GetEnv("BUS_DRIVER", "memory"))
	err = g.Wait()
	for _, w := range workers {
		w.Wait()
	}
	return err
}
