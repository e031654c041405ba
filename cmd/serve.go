package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ncku-metabolomics/classyfire-cli/internal/metrics"
	"github.com/ncku-metabolomics/classyfire-cli/internal/model"
	"github.com/ncku-metabolomics/classyfire-cli/internal/monitoring"
	"github.com/ncku-metabolomics/classyfire-cli/internal/pipeline"
	"github.com/ncku-metabolomics/classyfire-cli/internal/publish"
	"github.com/ncku-metabolomics/classyfire-cli/internal/store"
	"github.com/ncku-metabolomics/classyfire-cli/internal/watch"
)

var (
	servePort  int
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for triggering runs and fetching results",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if serveWatch {
			if err := cfg.Validate("watch"); err != nil {
				return err
			}
		}
		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		api := &apiServer{
			runner:      env.Pipeline,
			store:       env.Store,
			metrics:     env.Metrics,
			resultsDir:  cfg.Folders.MetaboAnalyst,
			textfile:    cfg.Metrics.TextfilePath,
			corsOrigins: cfg.Server.CORSOrigins,
		}
		port := resolvePort(servePort, cfg.Server.Port)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return startServer(gctx, buildMux(gctx, api), port)
		})
		if serveWatch {
			run := meteredRun(func(ctx context.Context) (*pipeline.Report, error) {
				return api.runExclusive(ctx, api.runner.RunAll)
			}, api.metrics, api.textfile)
			w := watch.New(cfg.Folders.Source, cfg.Watch.Debounce(), runTrigger(run, uploader()))
			g.Go(func() error { return w.Run(gctx) })
		}

		err = g.Wait()
		api.wait()
		return err
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "also watch the source folder and run on new tables")
	rootCmd.AddCommand(serveCmd)
}

// errBusy is returned when a run is requested while another is in progress.
// It is the watcher's busy signal, so serve --watch retries refused runs.
var errBusy = watch.ErrBusy

// apiServer holds the dependencies of the HTTP handlers. One pipeline run
// is admitted at a time.
type apiServer struct {
	runner      pipelineRunner
	store       store.Store
	metrics     *metrics.Metrics
	resultsDir  string
	textfile    string
	corsOrigins []string

	busy sync.Mutex
	runs sync.WaitGroup
}

// runExclusive runs fn while holding the run lock, or returns errBusy.
func (a *apiServer) runExclusive(ctx context.Context, fn runFunc) (*pipeline.Report, error) {
	if !a.busy.TryLock() {
		return nil, errBusy
	}
	defer a.busy.Unlock()
	return fn(ctx)
}

// startRun launches fn in the background. It reports false when another
// run holds the lock.
func (a *apiServer) startRun(ctx context.Context, fn runFunc) bool {
	if !a.busy.TryLock() {
		return false
	}
	a.runs.Add(1)
	go func() {
		defer a.runs.Done()
		defer a.busy.Unlock()

		report, err := fn(ctx)
		writeMetrics(a.metrics, a.textfile)
		if err != nil {
			zap.L().Error("api run failed", zap.Error(err))
			return
		}
		zap.L().Info("api run complete",
			zap.String("run_id", report.RunID),
			zap.String("status", string(report.Status)),
		)
	}()
	return true
}

// wait blocks until background runs have returned.
func (a *apiServer) wait() {
	a.runs.Wait()
}

// buildMux wires the API routes. Background runs started by the handlers
// inherit ctx.
func buildMux(ctx context.Context, a *apiServer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		if a.metrics == nil {
			writeError(w, http.StatusNotFound, "metrics disabled")
			return
		}
		a.metrics.Handler().ServeHTTP(w, r)
	})

	r.Get("/runs", func(w http.ResponseWriter, r *http.Request) {
		filter := store.RunFilter{
			Status: model.RunStatus(r.URL.Query().Get("status")),
			Limit:  20,
		}
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			filter.Limit = n
		}
		runs, err := a.store.ListRuns(r.Context(), filter)
		if err != nil {
			zap.L().Error("list runs", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to list runs")
			return
		}
		if runs == nil {
			runs = []model.Run{}
		}
		writeJSON(w, http.StatusOK, runs)
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		hours := 0
		if v := r.URL.Query().Get("hours"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "hours must be a non-negative integer")
				return
			}
			hours = n
		}
		snap, err := monitoring.NewCollector(a.store).Collect(r.Context(), hours)
		if err != nil {
			zap.L().Error("collect run stats", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to collect stats")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Get("/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		run, err := a.store.GetRun(r.Context(), chi.URLParam(r, "id"))
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		if err != nil {
			zap.L().Error("get run", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load run")
			return
		}
		writeJSON(w, http.StatusOK, run)
	})

	r.Post("/runs", func(w http.ResponseWriter, r *http.Request) {
		if !a.startRun(ctx, a.runner.RunAll) {
			writeError(w, http.StatusConflict, errBusy.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "mode": string(model.RunModeAll)})
	})

	r.Post("/steps/{step}", func(w http.ResponseWriter, r *http.Request) {
		step, err := pipeline.ParseStep(chi.URLParam(r, "step"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		started := a.startRun(ctx, func(ctx context.Context) (*pipeline.Report, error) {
			return a.runner.RunStep(ctx, step)
		})
		if !started {
			writeError(w, http.StatusConflict, errBusy.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "step": step.String()})
	})

	r.Get("/results/latest", func(w http.ResponseWriter, r *http.Request) {
		path, info, err := publish.Latest(a.resultsDir)
		if eris.Is(err, publish.ErrNoResult) {
			writeError(w, http.StatusNotFound, "no result available")
			return
		}
		if err != nil {
			zap.L().Error("find latest result", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to find result")
			return
		}
		f, err := os.Open(path)
		if err != nil {
			zap.L().Error("open latest result", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to open result")
			return
		}
		defer f.Close() //nolint:errcheck

		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
		http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
	})

	return r
}

// resolvePort returns the flag value when set, otherwise the config port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves h on port until ctx is cancelled, then shuts down
// gracefully.
func startServer(ctx context.Context, h http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	zap.L().Info("starting server", zap.Int("port", port))

	select {
	case err := <-errCh:
		if eris.Is(err, http.ErrServerClosed) {
			return nil
		}
		return eris.Wrap(err, "server listen")
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	<-errCh
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
