// Package server serves the generated reports, the screenshots they
// reference and a small JSON API over the latest results and run history.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/visreg/config"
	"github.com/hazyhaar/visreg/history"
	"github.com/hazyhaar/visreg/report"
)

// Options configures the handler.
type Options struct {
	Config *config.Config
	// History is optional; /api/runs answers 503 without it.
	History *history.Store
	Logger  *slog.Logger
}

// Handler builds the router.
//
//	GET /                       redirect to the HTML report
//	GET /reports/*              report artifacts
//	GET <screenshots mount>/*   before, after and diff images
//	GET /api/results            latest comparison-results.json
//	GET /api/runs               recorded runs (?limit=)
//	GET /api/runs/{runID}       per-pair results of one run
//	GET /healthz
func Handler(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	cfg := opts.Config

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLog(opts.Logger))
	r.Use(headToGet)
	r.Use(securityHeaders)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/reports/"+report.HTMLFile, http.StatusFound)
	})
	mountDir(r, "/reports", cfg.Paths.Reports)
	mountDir(r, ScreenshotsMount(cfg), cfg.Paths.Screenshots)

	r.With(noStore).Get("/api/results", func(w http.ResponseWriter, _ *http.Request) {
		doc, err := report.ReadJSON(filepath.Join(cfg.Paths.Reports, report.JSONFile))
		if errors.Is(err, os.ErrNotExist) {
			writeJSON(w, 404, map[string]string{"error": "no comparison results yet"})
			return
		}
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, doc)
	})

	r.Route("/api/runs", func(r chi.Router) {
		r.Use(requireHistory(opts.History))

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			runs, err := opts.History.ListRuns(r.Context(), queryInt(r, "limit", 20))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]any{"runs": runs})
		})

		r.Get("/{runID}", func(w http.ResponseWriter, r *http.Request) {
			runID := chi.URLParam(r, "runID")
			results, err := opts.History.RunComparisons(r.Context(), runID)
			if errors.Is(err, history.ErrNotFound) {
				writeError(w, 404, err)
				return
			}
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]any{"run_id": runID, "comparisons": results})
		})
	})

	return r
}

// ScreenshotsMount returns the URL prefix the screenshots directory is
// served under: the location the report's relative image links resolve
// to from /reports/. Falls back to /screenshots when that location would
// collide with another route.
func ScreenshotsMount(cfg *config.Config) string {
	rel, err := filepath.Rel(cfg.Paths.Reports, cfg.Paths.Screenshots)
	if err != nil {
		return "/screenshots"
	}
	p := path.Join("/reports", filepath.ToSlash(rel))
	switch {
	case p == "/", p == "/reports", strings.HasPrefix(p, "/reports/"),
		p == "/api", strings.HasPrefix(p, "/api/"), p == "/healthz":
		return "/screenshots"
	}
	return p
}

func mountDir(r chi.Router, prefix, dir string) {
	fs := noStore(http.StripPrefix(prefix, http.FileServer(http.Dir(dir))))
	r.Get(prefix, http.RedirectHandler(prefix+"/", http.StatusMovedPermanently).ServeHTTP)
	r.Get(prefix+"/*", fs.ServeHTTP)
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server: listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errc
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
