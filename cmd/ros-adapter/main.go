package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jcmexdev/swifttrack-sagas/internal/adapters"
	"github.com/jcmexdev/swifttrack-sagas/internal/adapters/ros"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/config"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/metrics"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/telemetry"
)

const serviceName = "ros-adapter"

func main() {
	telemetry.InitLogger(serviceName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("ros-adapter stopped", "error", err)
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

	a := ros.New(ros.Config{
		BaseURL: config.GetEnv("ROS_URL", "http://localhost:8082"),
		Timeout: config.GetDuration("ROS_TIMEOUT", 5*time.Second),
	})

	w := adapters.NewWorker(a, b,
		adapters.WithRequestTimeout(config.GetDuration("ADAPTER_REQUEST_TIMEOUT", adapters.DefaultRequestTimeout)),
		adapters.WithMetrics(metrics.NewAdapter(prometheus.DefaultRegisterer, "ros")))

	return adapters.Serve(ctx, w, adapters.ServeConfig{
		HTTPAddr: ":" + config.GetEnv("PORT", "8092"),
		GRPCAddr: ":" + config.GetEnv("GRPC_PORT", "9092"),
	})
}
