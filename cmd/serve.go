package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verte-labs/refillery/internal/model"
	"github.com/verte-labs/refillery/internal/monitoring"
	"github.com/verte-labs/refillery/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only status API",
	Long:  "Serves run history, the latest integrity report, and health metrics over HTTP. The API never mutates the dataset.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		collector := monitoring.NewCollector(st)
		alerter := monitoring.NewAlerter(cfg.Monitoring)
		checker := monitoring.NewChecker(collector, alerter, cfg.Monitoring)
		go checker.Run(ctx)

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins(),
			AllowedMethods: []string{http.MethodGet},
		}))

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
			runs, err := st.ListRuns(req.Context(), store.RunFilter{
				Site:   model.Site(req.URL.Query().Get("site")),
				Status: model.RunStatus(req.URL.Query().Get("status")),
			})
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list runs failed"})
				return
			}
			writeJSON(w, http.StatusOK, runs)
		})

		r.Get("/runs/{runID}", func(w http.ResponseWriter, req *http.Request) {
			run, err := st.GetRun(req.Context(), chi.URLParam(req, "runID"))
			if err != nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
				return
			}
			writeJSON(w, http.StatusOK, run)
		})

		r.Get("/integrity/latest", func(w http.ResponseWriter, req *http.Request) {
			report, err := st.LatestIntegrityReport(req.Context())
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "load report failed"})
				return
			}
			if report == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "no integrity report yet"})
				return
			}
			writeJSON(w, http.StatusOK, report)
		})

		r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
			snap, err := collector.Collect(req.Context(), cfg.Monitoring.LookbackWindowHours)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "collect failed"})
				return
			}
			writeJSON(w, http.StatusOK, snap)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting status API", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func allowedOrigins() []string {
	if len(cfg.Server.AllowedOrigins) > 0 {
		return cfg.Server.AllowedOrigins
	}
	return []string{"*"}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
