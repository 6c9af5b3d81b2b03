package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
)

type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Publisher sends room lifecycle events to NATS as <subject>.<event type>.
// Delivery is fire-and-forget: a failed publish is logged and never fails the transition.
type Publisher struct {
	logger  *slog.Logger
	conn    conn
	subject string
}

func NewPublisher(logger *slog.Logger, url, subject string) (*Publisher, error) {
	nc, err := nats.Connect(
		url,
		nats.Name("tictactoe-rooms"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return newPublisher(logger, nc, subject), nil
}

func newPublisher(logger *slog.Logger, conn conn, subject string) *Publisher {
	return &Publisher{
		logger:  logger.With("component", "nats"),
		conn:    conn,
		subject: subject,
	}
}

func (that *Publisher) Publish(_ context.Context, event entity.Event) {
	log := that.logger.With("method", "Publish", "type", event.Type, "code", event.RoomCode)

	data, err := json.Marshal(event)
	if err != nil {
		log.Error("failed to marshal event", "error", err)
		return
	}

	if err = that.conn.Publish(that.Subject(event), data); err != nil {
		log.Error("failed to publish event", "error", err)
	}
}

// Subject - where event is published.
func (that *Publisher) Subject(event entity.Event) string {
	return that.subject + "." + event.Type
}

// Close - flushes pending events and closes the connection.
func (that *Publisher) Close() error {
	if err := that.conn.Drain(); err != nil {
		return fmt.Errorf("failed to drain nats connection: %w", err)
	}

	return nil
}
