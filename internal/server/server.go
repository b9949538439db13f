package server

import (
	"net/http"

	"github.com/52poke/sitecache/internal/worker"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const MethodPurge = "PURGE"

func init() {
	chi.RegisterMethod(MethodPurge)
}

type Readiness interface {
	Active() *worker.Worker
}

// NewRouter mounts the health endpoints and sends everything else to the
// cache handler, or to purge for PURGE requests.
func NewRouter(cache http.Handler, purge http.Handler, ready Readiness) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		active := ready.Active()
		if active == nil {
			http.Error(w, "no active cache version", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("X-Sitecache-Version", active.Version)
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/*", cache)
	// after Handle, which claims every method for the pattern
	r.Method(MethodPurge, "/*", purge)
	return r
}
