package websocket

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
)

// client -> server
const (
	actionCreateRoom = "create-room"
	actionJoinRoom   = "join-room"
	actionMakeMove   = "make-move"
	actionResetGame  = "reset-game"
)

// server -> client
const (
	actionRoomCreated  = "room-created"
	actionPlayerJoined = "player-joined"
	actionRoomFull     = "room-full"
	actionGameUpdated  = "game-updated"
	actionGameReset    = "game-reset"
	actionPlayerLeft   = "player-left"
)

var (
	ErrMissingRoomCode = errors.New("room code is missing")
	ErrMissingCell     = errors.New("cell index is missing")
)

// Message is the envelope of every event in both directions.
type Message struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type PlayerJoinedPayload struct {
	entity.RoomState
	PlayerSymbol string `json:"playerSymbol"`
}

type MakeMovePayload struct {
	RoomCode  string `json:"roomCode"`
	CellIndex *int   `json:"cellIndex"`
}

type roomCodePayload struct {
	RoomCode string `json:"roomCode"`
}

func encodeMessage(action string, payload any) ([]byte, error) {
	msg := Message{Action: action}

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", action, err)
		}
		msg.Payload = raw
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", action, err)
	}

	return data, nil
}

// decodeRoomCode accepts a bare JSON string, as the browser client sends it,
// or an object with a roomCode field.
func decodeRoomCode(payload json.RawMessage) (string, error) {
	if len(payload) == 0 {
		return "", ErrMissingRoomCode
	}

	var code string
	if err := json.Unmarshal(payload, &code); err == nil {
		if code == "" {
			return "", ErrMissingRoomCode
		}
		return code, nil
	}

	var wrapped roomCodePayload
	if err := json.Unmarshal(payload, &wrapped); err != nil {
		return "", fmt.Errorf("failed to unmarshal room code: %w", err)
	}

	if wrapped.RoomCode == "" {
		return "", ErrMissingRoomCode
	}

	return wrapped.RoomCode, nil
}

func decodeMove(payload json.RawMessage) (*MakeMovePayload, error) {
	var move MakeMovePayload
	if err := json.Unmarshal(payload, &move); err != nil {
		return nil, fmt.Errorf("failed to unmarshal move: %w", err)
	}

	if move.CellIndex == nil {
		return nil, ErrMissingCell
	}

	return &move, nil
}
