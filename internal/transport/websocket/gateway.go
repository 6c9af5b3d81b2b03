package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/usecase"
)

type roomManager interface {
	CreateRoom(ctx context.Context) (string, error)
	Join(ctx context.Context, code, connID string, notify usecase.Notify) (*usecase.JoinResult, error)
	Move(ctx context.Context, code, connID string, cell int, notify usecase.Notify) (entity.GameState, error)
	Reset(ctx context.Context, code string, notify usecase.Notify) (entity.GameState, error)
	Leave(ctx context.Context, code, connID string, notify usecase.Notify) (*usecase.LeaveResult, error)
}

type sender interface {
	// Send queues data for one connection without blocking and reports whether it was queued.
	Send(connID string, data []byte) bool
}

// session is what a connection is bound to: at most one room and one symbol.
// A connection without a room is an observer.
type session struct {
	roomCode string
	symbol   string
}

type handlerFunc func(ctx context.Context, connID string, payload json.RawMessage) error

// Gateway turns the intents of each connection into room transitions and fans
// the resulting state out to the members of the room.
type Gateway struct {
	logger *slog.Logger
	rooms  roomManager
	sender sender

	mu       sync.Mutex
	sessions map[string]*session

	handlers map[string]handlerFunc
}

func NewGateway(logger *slog.Logger, rooms roomManager, sender sender) *Gateway {
	gateway := &Gateway{
		logger:   logger.With("component", "gateway"),
		rooms:    rooms,
		sender:   sender,
		sessions: make(map[string]*session),
	}

	gateway.handlers = map[string]handlerFunc{
		actionCreateRoom: gateway.handleCreateRoom,
		actionJoinRoom:   gateway.handleJoinRoom,
		actionMakeMove:   gateway.handleMakeMove,
		actionResetGame:  gateway.handleResetGame,
	}

	return gateway
}

// Connect - opens an empty session for a new connection.
func (that *Gateway) Connect(connID string) {
	that.mu.Lock()
	that.sessions[connID] = &session{}
	that.mu.Unlock()

	that.logger.Debug("connection opened", "connectionID", connID)
}

// Disconnect - drops the session and takes the connection out of its room.
func (that *Gateway) Disconnect(ctx context.Context, connID string) {
	that.mu.Lock()
	sess, ok := that.sessions[connID]
	delete(that.sessions, connID)
	that.mu.Unlock()

	that.logger.Debug("connection closed", "connectionID", connID)

	if !ok || sess.roomCode == "" {
		return
	}

	if err := that.leave(ctx, connID, sess.roomCode); err != nil {
		that.logger.Error("failed to leave room on disconnect", "connectionID", connID, "code", sess.roomCode, "error", err)
	}
}

// Handle - dispatches one inbound message. Rejected intents have no visible effect.
func (that *Gateway) Handle(ctx context.Context, connID string, data []byte) {
	log := that.logger.With("method", "Handle", "connectionID", connID)

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn("failed to unmarshal message", "error", err)
		return
	}

	if _, _, ok := that.Session(connID); !ok {
		log.Warn("message from unknown connection", "action", msg.Action)
		return
	}

	handler, ok := that.handlers[msg.Action]
	if !ok {
		log.Warn("unknown action", "action", msg.Action)
		return
	}

	err := handler(ctx, connID, msg.Payload)
	switch {
	case err == nil:
	case errors.Is(err, apperror.ErrInvalidMove), errors.Is(err, apperror.ErrUnknownRoom):
		log.Debug("intent rejected", "action", msg.Action, "reason", err)
	case errors.Is(err, ErrMissingRoomCode), errors.Is(err, ErrMissingCell), errors.Is(err, apperror.ErrInvalidRoomCode):
		log.Warn("malformed payload", "action", msg.Action, "error", err)
	default:
		log.Error("error processing message", "action", msg.Action, "error", err)
	}
}

// Session - the room and symbol bound to connID.
func (that *Gateway) Session(connID string) (roomCode, symbol string, ok bool) {
	that.mu.Lock()
	defer that.mu.Unlock()

	sess, ok := that.sessions[connID]
	if !ok {
		return "", "", false
	}

	return sess.roomCode, sess.symbol, true
}

func (that *Gateway) handleCreateRoom(ctx context.Context, connID string, _ json.RawMessage) error {
	code, err := that.rooms.CreateRoom(ctx)
	if err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}

	return that.reply(connID, actionRoomCreated, code)
}

func (that *Gateway) handleJoinRoom(ctx context.Context, connID string, payload json.RawMessage) error {
	code, err := decodeRoomCode(payload)
	if err != nil {
		return err
	}

	result, err := that.rooms.Join(ctx, code, connID, func(state entity.RoomState) {
		that.broadcast(state, actionPlayerJoined, PlayerJoinedPayload{
			RoomState:    state,
			PlayerSymbol: symbolOf(state, connID),
		})
	})
	if errors.Is(err, apperror.ErrRoomFull) {
		that.logger.Info("room is full", "connectionID", connID, "code", code)
		return that.reply(connID, actionRoomFull, nil)
	}
	if err != nil {
		return fmt.Errorf("failed to join room: %w", err)
	}

	// Handle and Disconnect of one connection run on its read goroutine,
	// so the session checked in Handle is still there
	that.mu.Lock()
	sess := that.sessions[connID]
	previous := sess.roomCode
	sess.roomCode = result.State.RoomCode
	sess.symbol = result.Symbol
	that.mu.Unlock()

	if previous != "" && previous != result.State.RoomCode {
		if err = that.leave(ctx, connID, previous); err != nil {
			return fmt.Errorf("failed to leave previous room: %w", err)
		}
	}

	return nil
}

func (that *Gateway) handleMakeMove(ctx context.Context, connID string, payload json.RawMessage) error {
	move, err := decodeMove(payload)
	if err != nil {
		return err
	}

	code, err := that.roomOf(connID, move.RoomCode)
	if err != nil {
		return err
	}

	_, err = that.rooms.Move(ctx, code, connID, *move.CellIndex, func(state entity.RoomState) {
		that.broadcast(state, actionGameUpdated, state.GameState)
	})
	if err != nil {
		return fmt.Errorf("failed to make move: %w", err)
	}

	return nil
}

func (that *Gateway) handleResetGame(ctx context.Context, connID string, payload json.RawMessage) error {
	var requested string
	if len(payload) > 0 {
		// the code is informational, a missing one is fine
		requested, _ = decodeRoomCode(payload)
	}

	code, err := that.roomOf(connID, requested)
	if err != nil {
		return err
	}

	_, err = that.rooms.Reset(ctx, code, func(state entity.RoomState) {
		that.broadcast(state, actionGameReset, state.GameState)
	})
	if err != nil {
		return fmt.Errorf("failed to reset game: %w", err)
	}

	return nil
}

func (that *Gateway) leave(ctx context.Context, connID, code string) error {
	_, err := that.rooms.Leave(ctx, code, connID, func(state entity.RoomState) {
		that.broadcast(state, actionPlayerLeft, connID)
	})
	if err != nil {
		return fmt.Errorf("failed to leave room: %w", err)
	}

	return nil
}

// roomOf - the room bound to connID. A code named by the client must match it.
func (that *Gateway) roomOf(connID, requested string) (string, error) {
	code, _, ok := that.Session(connID)
	if !ok || code == "" {
		return "", fmt.Errorf("%w: connection %s is not in a room", apperror.ErrUnknownRoom, connID)
	}

	if requested != "" && entity.NormalizeRoomCode(requested) != code {
		return "", fmt.Errorf("%w: connection %s is in room %s, not %s", apperror.ErrNotAPlayer, connID, code, requested)
	}

	return code, nil
}

func (that *Gateway) reply(connID, action string, payload any) error {
	data, err := encodeMessage(action, payload)
	if err != nil {
		return err
	}

	if !that.sender.Send(connID, data) {
		that.logger.Warn("failed to queue reply", "connectionID", connID, "action", action)
	}

	return nil
}

// broadcast - sends to every connection seated in the room described by state.
func (that *Gateway) broadcast(state entity.RoomState, action string, payload any) {
	data, err := encodeMessage(action, payload)
	if err != nil {
		that.logger.Error("failed to encode broadcast", "code", state.RoomCode, "action", action, "error", err)
		return
	}

	for _, player := range state.Players {
		if !that.sender.Send(player.ID, data) {
			that.logger.Warn("failed to queue broadcast", "code", state.RoomCode, "connectionID", player.ID, "action", action)
		}
	}
}

func symbolOf(state entity.RoomState, connID string) string {
	for _, player := range state.Players {
		if player.ID == connID {
			return player.Symbol
		}
	}
	return ""
}
