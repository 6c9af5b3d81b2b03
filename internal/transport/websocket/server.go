package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/pkg"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	logger   *slog.Logger
	gateway  *Gateway
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
}

// New - builds the socket server. allowedOrigins may contain "*" to accept any origin.
func New(logger *slog.Logger, rooms roomManager, allowedOrigins []string) *Server {
	server := &Server{
		logger:  logger.With("component", "websocket"),
		clients: make(map[string]*client),
	}

	server.gateway = NewGateway(logger, rooms, server)
	server.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(allowedOrigins),
	}

	return server
}

// Start - starts WebSocket server and stops it when ctx is done.
func (that *Server) Start(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           that.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			that.logger.Error("failed to shut down server", "error", err)
		}

		// hijacked connections are not tracked by http.Server
		that.closeAll()
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

func (that *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		that.ServeWS(ctx, w, r)
	})

	return mux
}

// ServeWS - upgrades the request and runs the connection until it closes.
func (that *Server) ServeWS(ctx context.Context, writer http.ResponseWriter, req *http.Request) {
	log := that.logger.With("method", "ServeWS")

	conn, err := that.upgrader.Upgrade(writer, req, nil)
	if err != nil {
		// the upgrader already replied with an HTTP error
		log.Error("failed to upgrade connection", "error", err)
		return
	}

	c := newClient(pkg.GenerateConnectionID(), conn)
	that.register(c)

	log.Info("WebSocket connection established", "connectionID", c.id, "remote", req.RemoteAddr)

	go that.writePump(c)
	that.readPump(ctx, c)
}

// Send - queues data for connID; a full queue drops the message for that connection only.
func (that *Server) Send(connID string, data []byte) bool {
	that.mu.RLock()
	defer that.mu.RUnlock()

	c, ok := that.clients[connID]
	if !ok {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (that *Server) ConnectionCount() int {
	that.mu.RLock()
	defer that.mu.RUnlock()

	return len(that.clients)
}

func (that *Server) register(c *client) {
	that.mu.Lock()
	that.clients[c.id] = c
	that.mu.Unlock()

	that.gateway.Connect(c.id)
}

func (that *Server) unregister(c *client) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if current, ok := that.clients[c.id]; ok && current == c {
		delete(that.clients, c.id)
	}
	c.closeSend()
}

func (that *Server) closeAll() {
	that.mu.Lock()
	defer that.mu.Unlock()

	for id, c := range that.clients {
		delete(that.clients, id)
		c.closeSend()
		c.conn.Close()
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// non-browser clients send no origin
		return origin == "" || slices.Contains(allowed, origin)
	}
}
