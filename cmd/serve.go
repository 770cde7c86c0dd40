package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/baseline-env/casefill/internal/evidence"
	"github.com/baseline-env/casefill/internal/provenance"
	"github.com/baseline-env/casefill/internal/rules"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the provenance views over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		table, err := loadRules()
		if err != nil {
			return err
		}
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Index().Close()

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           newServeMux(table, store),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			srv.Close()
		}()

		zap.L().Info("serving provenance views", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	},
}

func newServeMux(table *rules.Table, store *evidence.Store) http.Handler {
	registry := provenance.New(table, store.Index())

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/summary", func(w http.ResponseWriter, req *http.Request) {
		runFindings, err := store.Index().ListFindings(req.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		summary, err := registry.Build(req.Context(), runFindings)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	})

	r.Get("/api/evidence", func(w http.ResponseWriter, req *http.Request) {
		evs, err := store.Index().List(req.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, evs)
	})

	r.Get("/api/evidence/{id}", func(w http.ResponseWriter, req *http.Request) {
		ev, err := store.Get(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		if ev == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "evidence not found"})
			return
		}
		writeJSON(w, http.StatusOK, ev)
	})

	r.Get("/api/evidence/{id}/artifact", func(w http.ResponseWriter, req *http.Request) {
		ev, err := store.Get(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		if ev == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "evidence not found"})
			return
		}
		b, err := store.ReadArtifact(ev)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(b)
	})

	r.Get("/api/usage", func(w http.ResponseWriter, req *http.Request) {
		links, err := store.Index().ListUsage(req.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, links)
	})

	r.Get("/api/sources", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, table.Sources)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	zap.L().Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
