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

	"github.com/sells-group/sigval/internal/callback"
	"github.com/sells-group/sigval/internal/model"
	"github.com/sells-group/sigval/internal/validator"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP validation server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		dispatcher := callback.NewDispatcher(callback.Config{
			MaxRetries:      cfg.Callback.MaxRetries,
			BaseDelay:       time.Duration(cfg.Callback.BaseDelayMs) * time.Millisecond,
			PollInterval:    time.Duration(cfg.Callback.PollIntervalMs) * time.Millisecond,
			QueueCapacity:   cfg.Callback.QueueCapacity,
			RetainCompleted: time.Duration(cfg.Callback.RetainCompletedHours) * time.Hour,
		})
		dispatcher.Start()
		defer dispatcher.Stop(10 * time.Second)

		router := newRouter(newValidator(), dispatcher)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter builds the full HTTP surface: the validation endpoint plus
// the callback admin endpoints.
func newRouter(v *validator.Validator, dispatcher *callback.Dispatcher) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/api/validate", func(w http.ResponseWriter, req *http.Request) {
		var vreq model.ValidationRequest
		if err := json.NewDecoder(req.Body).Decode(&vreq); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		responses := v.Run(req.Context(), vreq)

		if vreq.CallbackURL != "" {
			if _, err := dispatcher.Enqueue(vreq.CallbackURL, responses[0]); err != nil {
				zap.L().Error("callback enqueue failed",
					zap.String("task_id", vreq.TaskID), zap.Error(err))
			}
		}

		writeJSON(w, http.StatusOK, responses)
	})

	r.Get("/api/callbacks", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, dispatcher.Summary())
	})

	r.Get("/api/callbacks/{id}", func(w http.ResponseWriter, req *http.Request) {
		rec, err := dispatcher.Status(chi.URLParam(req, "id"))
		if err != nil {
			http.Error(w, `{"error":"callback not found"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	})

	r.Post("/api/callbacks/{id}/replay", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		if err := dispatcher.Replay(id); err != nil {
			if eris.Is(err, callback.ErrNotFound) {
				http.Error(w, `{"error":"callback not found"}`, http.StatusNotFound)
				return
			}
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "replay scheduled"})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
