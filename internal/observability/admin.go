package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// WorkersFunc returns a JSON-serializable view of the worker pool.
type WorkersFunc func() any

// NewAdminRouter serves /healthz, /workers and /metrics.
func NewAdminRouter(workers WorkersFunc) http.Handler {
	RegisterMetrics()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(log.Logger))
	r.Use(RequestMetrics)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/workers", func(w http.ResponseWriter, _ *http.Request) {
		var body any = []any{}
		if workers != nil {
			body = workers()
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(body); err != nil {
			log.Error().Err(err).Msg("observability admin workers encode failed")
		}
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// ServeAdmin runs the admin surface on addr until ctx is cancelled.
func ServeAdmin(ctx context.Context, addr string, h http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ServeAdminListener(ctx, ln, h)
}

func ServeAdminListener(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		case <-done:
		}
	}()
	defer close(done)

	log.Info().Str("addr", ln.Addr().String()).Msg("observability admin listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
