package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const shutdownTimeout = 5 * time.Second

type statsProvider interface {
	Len() int
}

type connectionCounter interface {
	ConnectionCount() int
}

// Start - serves /ping and /stats until ctx is done.
func Start(ctx context.Context, logger *slog.Logger, port string, rooms statsProvider, conns connectionCounter) error {
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      NewHandler(logger, rooms, conns),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down HTTP server", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

func NewHandler(logger *slog.Logger, rooms statsProvider, conns connectionCounter) http.Handler {
	handlers := &handlers{
		logger: logger.With("component", "rest"),
		rooms:  rooms,
		conns:  conns,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", handlers.PingHandler)
	mux.HandleFunc("GET /stats", handlers.StatsHandler)

	return mux
}
