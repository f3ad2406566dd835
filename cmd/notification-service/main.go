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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/jcmexdev/swifttrack-sagas/internal/api-gateway/infra/httpx/middlewares"
	"github.com/jcmexdev/swifttrack-sagas/internal/notification"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/config"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/health"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/metrics"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/telemetry"
)

const serviceName = "notification-service"

func main() {
	telemetry.InitLogger(serviceName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("notification service stopped", "error", err)
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

	b, err := config.OpenBus("kafka")
	if err != nil {
		return err
	}
	defer b.Close()

	hub := notification.NewHub(metrics.NewNotifier(prometheus.DefaultRegisterer))
	if err := hub.Subscribe(ctx, b); err != nil {
		return err
	}

	// Without a shared store new clients only see changes from now on.
	var snapshot notification.SnapshotFunc
	if config.GetEnv("STORE_DRIVER", "memory") != "memory" {
		stores, err := config.OpenStores(ctx)
		if err != nil {
			return err
		}
		defer stores.Close()
		snapshot = notification.SnapshotFrom(stores.Orders.Get)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middlewares.Observe(metrics.NewServerMetrics(prometheus.DefaultRegisterer, "notification")))
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","service":"` + serviceName + `"}`))
	})
	r.Handle("/metrics", metrics.Handler())
	notification.NewHandler(hub, snapshot).Routes(r)

	srv := &http.Server{
		Addr:              ":" + config.GetEnv("PORT", "8085"),
		Handler:           otelhttp.NewHandler(r, serviceName),
		ReadHeaderTimeout: 5 * time.Second,
	}
	hs := health.NewServer(serviceName)

	g, gctx := errgroup.WithContext(ctx)
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
	g.Go(func() error { return hs.Serve(gctx, ":"+config.GetEnv("GRPC_PORT", "9095")) })
	hs.SetServing("", true)
	hs.SetServing(serviceName, true)

	slog.Info("notification service running", "addr", srv.Addr)
	return g.Wait()
}
