package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/health"
	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/metrics"
)

// ServeConfig addresses the side listeners of an adapter process.
type ServeConfig struct {
	// HTTPAddr serves /health and /metrics.
	HTTPAddr string
	// GRPCAddr serves grpc.health.v1; empty disables it.
	GRPCAddr string
}

// AdminRouter serves the liveness and metrics endpoints of one adapter.
func AdminRouter(name string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": name})
	})
	r.Handle("/metrics", metrics.Handler())
	return r
}

// Serve starts w and the side listeners, blocks until ctx is done, then
// waits for running requests to publish their results.
func Serve(ctx context.Context, w *Worker, cfg ServeConfig) error {
	name := Group(w.adapter.Kind())
	if err := w.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: AdminRouter(name), ReadHeaderTimeout: 5 * time.Second}
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
	if cfg.GRPCAddr != "" {
		hs := health.NewServer(name)
		g.Go(func() error { return hs.Serve(gctx, cfg.GRPCAddr) })
		hs.SetServing("", true)
		hs.SetServing(name, true)
	}

	slog.InfoContext(ctx, "adapter running", "adapter", name, "http_addr", cfg.HTTPAddr, "grpc_addr", cfg.GRPCAddr)
	err := g.Wait()
	w.Wait()
	slog.Info("adapter drained", "adapter", name)
	return err
}
