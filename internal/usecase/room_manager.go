package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
)

type roomRegistry interface {
	Create(ctx context.Context) (*entity.Room, error)
	GetOrCreate(ctx context.Context, code string) (*entity.Room, bool, error)
	Get(code string) (*entity.Room, bool)
	Detach(room *entity.Room) bool
	Release(ctx context.Context, code string)
	Sweep(ctx context.Context, ttl time.Duration) []string
}

type eventPublisher interface {
	Publish(ctx context.Context, event entity.Event)
}

// Notify receives the room state right after an accepted transition. It runs while the
// room is still locked, so one room's notifications keep transition order; it must not block.
type Notify func(state entity.RoomState)

type JoinResult struct {
	Symbol string
	State  entity.RoomState
}

type LeaveResult struct {
	Departed    bool
	RoomDeleted bool
}

// RoomManager applies the room transitions. Each transition runs to completion under
// the room's lock, so two racing moves see each other's result.
type RoomManager struct {
	logger    *slog.Logger
	registry  roomRegistry
	publisher eventPublisher
	now       func() time.Time
}

func NewRoomManager(logger *slog.Logger, registry roomRegistry, publisher eventPublisher) *RoomManager {
	if publisher == nil {
		publisher = noopPublisher{}
	}

	return &RoomManager{
		logger:    logger.With("component", "room_manager"),
		registry:  registry,
		publisher: publisher,
		now:       time.Now,
	}
}

// CreateRoom - allocates an empty room and returns its code.
func (that *RoomManager) CreateRoom(ctx context.Context) (string, error) {
	room, err := that.registry.Create(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create room: %w", err)
	}

	that.publish(ctx, entity.Event{Type: entity.EventRoomCreated, RoomCode: room.Code})

	return room.Code, nil
}

// Join - seats connID in the room, creating the room when the code is unseen.
func (that *RoomManager) Join(ctx context.Context, code, connID string, notify Notify) (*JoinResult, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("join canceled: %w", err)
		}

		room, created, err := that.registry.GetOrCreate(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("failed to get room %q: %w", code, err)
		}

		if created {
			that.publish(ctx, entity.Event{Type: entity.EventRoomCreated, RoomCode: room.Code})
		}

		room.Lock()
		if room.IsClosed() {
			// lost a race with the last player leaving; the registry already dropped it
			room.Unlock()
			continue
		}

		symbol, err := room.Admit(connID)
		state := room.Snapshot()
		if err == nil {
			notify.call(state)
		}
		room.Unlock()

		if err != nil {
			return nil, fmt.Errorf("room %s: %w", state.RoomCode, err)
		}

		that.logger.Info("player joined", "code", state.RoomCode, "connectionID", connID, "symbol", symbol)
		that.publish(ctx, entity.Event{
			Type:         entity.EventRoomJoined,
			RoomCode:     state.RoomCode,
			ConnectionID: connID,
			Symbol:       symbol,
		})

		return &JoinResult{Symbol: symbol, State: state}, nil
	}
}

// Move - applies connID's move; any rejection leaves the room untouched.
func (that *RoomManager) Move(ctx context.Context, code, connID string, cell int, notify Notify) (entity.GameState, error) {
	room, err := that.lockRoom(code)
	if err != nil {
		return entity.GameState{}, err
	}

	err = room.Move(connID, cell)
	state := room.GameState()
	if err == nil {
		notify.call(room.Snapshot())
	}
	room.Unlock()

	if err != nil {
		return entity.GameState{}, fmt.Errorf("room %s: %w", room.Code, err)
	}

	if state.GameOver {
		board := state.Board
		event := entity.Event{Type: entity.EventGameFinished, RoomCode: room.Code, Board: &board}
		if state.Winner != nil {
			event.Winner = *state.Winner
		}
		that.publish(ctx, event)
	}

	return state, nil
}

// Reset - clears the board of an existing room, seats stay as they are.
func (that *RoomManager) Reset(ctx context.Context, code string, notify Notify) (entity.GameState, error) {
	room, err := that.lockRoom(code)
	if err != nil {
		return entity.GameState{}, err
	}

	room.Reset()
	state := room.GameState()
	notify.call(room.Snapshot())
	room.Unlock()

	that.publish(ctx, entity.Event{Type: entity.EventGameReset, RoomCode: room.Code})

	return state, nil
}

// Leave - removes connID from the room and deletes the room once nobody is seated.
// notify only sees rooms that still have somebody seated.
func (that *RoomManager) Leave(ctx context.Context, code, connID string, notify Notify) (*LeaveResult, error) {
	room, err := that.lockRoom(code)
	if err != nil {
		return nil, err
	}

	result := &LeaveResult{Departed: room.Depart(connID)}
	switch {
	case result.Departed && room.IsEmpty():
		// a closed room is unreachable for joiners, they retry on a fresh one
		room.Close()
		result.RoomDeleted = that.registry.Detach(room)
	case result.Departed:
		notify.call(room.Snapshot())
	}
	room.Unlock()

	if result.RoomDeleted {
		that.registry.Release(ctx, room.Code)
	}

	if !result.Departed {
		return result, nil
	}

	that.logger.Info("player left", "code", room.Code, "connectionID", connID, "roomDeleted", result.RoomDeleted)
	that.publish(ctx, entity.Event{Type: entity.EventRoomLeft, RoomCode: room.Code, ConnectionID: connID})

	if result.RoomDeleted {
		that.publish(ctx, entity.Event{Type: entity.EventRoomDeleted, RoomCode: room.Code})
	}

	return result, nil
}

// Members - connection ids seated in the room right now.
func (that *RoomManager) Members(code string) []string {
	room, err := that.lockRoom(code)
	if err != nil {
		return nil
	}
	defer room.Unlock()

	members := make([]string, 0, len(room.Players))
	for _, player := range room.Players {
		members = append(members, player.ID)
	}

	return members
}

// SweepIdle - drops rooms created but left empty for longer than ttl.
// Rooms with a seated player are never touched.
func (that *RoomManager) SweepIdle(ctx context.Context, ttl time.Duration) int {
	swept := that.registry.Sweep(ctx, ttl)
	for _, code := range swept {
		that.publish(ctx, entity.Event{Type: entity.EventRoomDeleted, RoomCode: code})
	}

	return len(swept)
}

// lockRoom - returns the live room for code, locked.
func (that *RoomManager) lockRoom(code string) (*entity.Room, error) {
	room, ok := that.registry.Get(code)
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperror.ErrUnknownRoom, code)
	}

	room.Lock()
	if room.IsClosed() {
		room.Unlock()
		return nil, fmt.Errorf("%w: %s", apperror.ErrUnknownRoom, code)
	}

	return room, nil
}

func (that *RoomManager) publish(ctx context.Context, event entity.Event) {
	if event.At.IsZero() {
		event.At = that.now()
	}

	that.publisher.Publish(ctx, event)
}

func (notify Notify) call(state entity.RoomState) {
	if notify != nil {
		notify(state)
	}
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, entity.Event) {}
