package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"log/slog"

	"github.com/m3rciful/telemenu/core/logger"
)

// healthServer serves the /health liveness endpoint next to the bot.
type healthServer struct {
	srv *http.Server
}

func newHealthServer(addr string) *healthServer {
	if addr == "" {
		return &healthServer{}
	}
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &healthServer{
		srv: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

func (h *healthServer) Start() {
	if h.srv == nil {
		return
	}
	go func() {
		logger.BOOT.Info("health endpoint up",
			slog.String("event", "health.listen"),
			slog.String("addr", h.srv.Addr),
		)
		if err := h.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.BOOT.Error("health endpoint failed",
				slog.String("event", "health.listen"),
				slog.String("addr", h.srv.Addr),
				slog.String("err", err.Error()),
			)
		}
	}()
}

func (h *healthServer) Stop(ctx context.Context) {
	if h == nil || h.srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := h.srv.Shutdown(shutdownCtx); err != nil {
		logger.BOOT.Warn("health endpoint shutdown",
			slog.String("event", "health.stop"),
			slog.String("err", err.Error()),
		)
	}
}
