// Package diag exposes crawl state over HTTP for operators: ledger
// snapshots, store statistics, and a health probe.
package diag

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/anatolia-labs/dizin/internal/ledger"
	"github.com/anatolia-labs/dizin/internal/store"
)

// NewRouter builds the diagnostics routes. led may be nil when the server
// runs standalone without an active crawl.
func NewRouter(led *ledger.Ledger, st store.Store) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/ledger", func(w http.ResponseWriter, req *http.Request) {
		if led == nil {
			http.Error(w, "no active crawl", http.StatusNotFound)
			return
		}
		writeJSON(w, led.Snapshot())
	})

	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		stats, err := st.Stats(req.Context())
		if err != nil {
			zap.L().Error("stats query failed", zap.Error(err))
			http.Error(w, "stats unavailable", http.StatusInternalServerError)
			return
		}
		writeJSON(w, stats)
	})

	r.Get("/checkpoint", func(w http.ResponseWriter, req *http.Request) {
		cp, err := st.LatestCheckpoint(req.Context())
		if err != nil {
			zap.L().Error("checkpoint query failed", zap.Error(err))
			http.Error(w, "checkpoint unavailable", http.StatusInternalServerError)
			return
		}
		if cp == nil {
			http.Error(w, "no checkpoint", http.StatusNotFound)
			return
		}
		writeJSON(w, cp)
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("diag response encode failed", zap.Error(err))
	}
}

// Serve runs the diagnostics server until ctx is canceled, then shuts down
// gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
