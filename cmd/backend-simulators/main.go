// Command backend-simulators serves in-memory billing (SOAP), routing (REST)
// and warehouse (TCP) backends on the addresses the adapters default to.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/config"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/telemetry"
	"github.com/jcmexdev/swifttrack-sagas/internal/simulators"
)

func main() {
	telemetry.InitLogger("backend-simulators")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("simulators stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	limit, err := strconv.ParseFloat(config.GetEnv("CMS_CREDIT_LIMIT", "5000"), 64)
	if err != nil {
		return err
	}
	billing := simulators.NewBilling(limit)
	routing := simulators.NewRouting(strings.Split(config.GetEnv("ROS_DRIVERS", "DRV-001,DRV-002,DRV-003"), ",")...)
	warehouse := simulators.NewWarehouse(config.GetInt("WMS_SLOTS", 20), 0)

	cmsRouter := chi.NewRouter()
	cmsRouter.Use(middleware.Logger)
	cmsRouter.Handle("/cms", billing)

	rosRouter := chi.NewRouter()
	rosRouter.Use(middleware.Logger)
	routing.Routes(rosRouter)

	lis, err := net.Listen("tcp", config.GetEnv("WMS_LISTEN_ADDR", ":9000"))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listen(gctx, config.GetEnv("CMS_LISTEN_ADDR", ":8081"), cmsRouter) })
	g.Go(func() error { return listen(gctx, config.GetEnv("ROS_LISTEN_ADDR", ":8082"), rosRouter) })
	g.Go(func() error { return warehouse.Serve(gctx, lis) })
	return g.Wait()
}

func listen(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	slog.Info("simulator listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
