package application

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/config"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/pkg"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/repository"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/repository/storage"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/transport/nats"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/transport/rest"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/transport/websocket"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/usecase"
)

// a reserved code outlives any realistic game; a crashed instance frees its codes after it
const codeReservationTTL = 24 * time.Hour

// RunApp - runs the application.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	registryOpts := []repository.RegistryOption{
		repository.WithCodeLength(conf.Room.CodeLength),
		repository.WithCodeAttempts(conf.Room.CodeAttempts),
	}

	if conf.Redis.Enabled {
		redisStorage, err := storage.NewRedisStorage(ctx, conf.Redis.GetRedisAddr())
		if err != nil {
			return fmt.Errorf("could not connect to redis storage: %w", err)
		}

		defer func() {
			if err = redisStorage.Close(); err != nil {
				log.Error("could not close redis storage", "error", err)
			}
		}()

		owner := pkg.GenerateConnectionID()
		registryOpts = append(registryOpts, repository.WithCodeReservation(
			repository.NewCodeReservation(redisStorage, owner, codeReservationTTL),
		))
		log.Info("Room codes are reserved in redis", "owner", owner)
	}

	// stays nil when nats is off; the room manager then publishes nowhere
	var events interface {
		Publish(ctx context.Context, event entity.Event)
	}

	if conf.NATS.Enabled {
		publisher, err := nats.NewPublisher(logger, conf.NATS.URL, conf.NATS.Subject)
		if err != nil {
			return fmt.Errorf("could not connect to nats: %w", err)
		}
		events = publisher

		defer func() {
			if err = publisher.Close(); err != nil {
				log.Error("could not close nats publisher", "error", err)
			}
		}()
	}

	registry := repository.NewRoomRegistry(logger, registryOpts...)

	roomManager := usecase.NewRoomManager(logger, registry, events)

	wsServer := websocket.New(logger, roomManager, conf.AllowedOrigins)

	go runSweeper(ctx, log, roomManager, conf.Room.SweepInterval, conf.Room.IdleTTL)

	// run HTTP server
	httpErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "port", conf.HTTPPort)
		if httpErr := rest.Start(ctx, logger, conf.HTTPPort, registry, wsServer); httpErr != nil {
			log.Error("HTTP server error", "error", httpErr)
			httpErrCh <- httpErr
		}
	}()

	// run Websocket server
	wsErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting WebSocket server", "port", conf.SocketPort)
		if wsErr := wsServer.Start(ctx, conf.SocketPort); wsErr != nil {
			log.Error("WebSocket server error", "error", wsErr)
			wsErrCh <- wsErr
		}
	}()

	select {
	case err := <-httpErrCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case err := <-wsErrCh:
		return fmt.Errorf("WebSocket server error: %w", err)
	case <-ctx.Done():
		log.Info("Application context canceled, shutting down")
		return nil
	}
}

func runSweeper(ctx context.Context, log *slog.Logger, rooms *usecase.RoomManager, interval, ttl time.Duration) {
	if interval <= 0 {
		log.Info("Idle room sweeper disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if swept := rooms.SweepIdle(ctx, ttl); swept > 0 {
				log.Debug("Idle rooms removed", "count", swept)
			}
		}
	}
}
