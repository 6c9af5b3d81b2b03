package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type handlers struct {
	logger *slog.Logger
	rooms  statsProvider
	conns  connectionCounter
}

type Stats struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
}

func (that *handlers) PingHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("pong")); err != nil {
		that.logger.Error("failed to write ping response", "error", err)
		return
	}
}

// StatsHandler - number of live rooms and open socket connections.
func (that *handlers) StatsHandler(w http.ResponseWriter, _ *http.Request) {
	stats := Stats{
		Rooms:       that.rooms.Len(),
		Connections: that.conns.ConnectionCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		that.logger.Error("failed to encode stats", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
}
