package entity

import "time"

const (
	EventRoomCreated  = "room.created"
	EventRoomJoined   = "room.joined"
	EventRoomLeft     = "room.left"
	EventRoomDeleted  = "room.deleted"
	EventGameFinished = "game.finished"
	EventGameReset    = "game.reset"
)

// Event describes an accepted room transition for consumers outside the process.
type Event struct {
	Type         string     `json:"type"`
	RoomCode     string     `json:"roomCode"`
	ConnectionID string     `json:"connectionId,omitempty"`
	Symbol       string     `json:"symbol,omitempty"`
	Winner       string     `json:"winner,omitempty"`
	Board        *[9]string `json:"board,omitempty"`
	At           time.Time  `json:"at"`
}
