package entity

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
)

const (
	PlayerX   = "X"
	PlayerO   = "O"
	PlayerTie = "-"

	EmptyCell = ""

	MaxPlayers = 2
)

type State string

const (
	StateWaiting  State = "waiting"
	StateActive   State = "active"
	StateFinished State = "finished"
)

var WinCombos = [][3]int{
	{0, 1, 2},
	{3, 4, 5},
	{6, 7, 8},
	{0, 3, 6},
	{1, 4, 7},
	{2, 5, 8},
	{0, 4, 8},
	{2, 4, 6},
}

// Room is one game session. The transition methods do not lock; callers that share
// a Room between goroutines hold Lock for the whole transition.
type Room struct {
	mu sync.Mutex

	Code          string
	Board         [9]string
	CurrentPlayer string
	GameOver      bool
	Winner        string
	Players       []*Player
	CreatedAt     time.Time

	closed bool
}

// NormalizeRoomCode - room codes are matched case-insensitively.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func NewRoom(code string, createdAt time.Time) *Room {
	return &Room{
		Code:          code,
		Board:         [9]string{EmptyCell, EmptyCell, EmptyCell, EmptyCell, EmptyCell, EmptyCell, EmptyCell, EmptyCell, EmptyCell},
		CurrentPlayer: PlayerX,
		Players:       make([]*Player, 0, MaxPlayers),
		CreatedAt:     createdAt,
	}
}

func (that *Room) Lock() {
	that.mu.Lock()
}

func (that *Room) Unlock() {
	that.mu.Unlock()
}

// Close marks the room as removed from its registry. Must be called under Lock.
func (that *Room) Close() {
	that.closed = true
}

func (that *Room) IsClosed() bool {
	return that.closed
}

func (that *Room) IsEmpty() bool {
	return len(that.Players) == 0
}

func (that *Room) IsFull() bool {
	return len(that.Players) >= MaxPlayers
}

func (that *Room) State() State {
	switch {
	case that.GameOver:
		return StateFinished
	case len(that.Players) == MaxPlayers:
		return StateActive
	default:
		return StateWaiting
	}
}

// SymbolOf returns the symbol seated for connID, or "" for an observer.
func (that *Room) SymbolOf(connID string) string {
	for _, player := range that.Players {
		if player.ID == connID {
			return player.Symbol
		}
	}
	return ""
}

// Admit seats connID with the first free symbol, X before O.
// A connection that is already seated keeps its symbol.
func (that *Room) Admit(connID string) (string, error) {
	if symbol := that.SymbolOf(connID); symbol != "" {
		return symbol, nil
	}

	if that.IsFull() {
		return "", apperror.ErrRoomFull
	}

	symbol := PlayerX
	for _, player := range that.Players {
		if player.IsX() {
			symbol = PlayerO
			break
		}
	}

	that.Players = append(that.Players, &Player{ID: connID, Symbol: symbol})

	return symbol, nil
}

// Move places the mover's symbol on cell. A rejected move leaves the room untouched.
func (that *Room) Move(connID string, cell int) error {
	if cell < 0 || cell >= len(that.Board) {
		return fmt.Errorf("%w: cell %d", apperror.ErrInvalidCell, cell)
	}

	if that.GameOver {
		return apperror.ErrGameFinished
	}

	symbol := that.SymbolOf(connID)
	if symbol == "" {
		return apperror.ErrNotAPlayer
	}

	if symbol != that.CurrentPlayer {
		return apperror.ErrNotYourTurn
	}

	if that.Board[cell] != EmptyCell {
		return apperror.ErrCellOccupied
	}

	that.Board[cell] = symbol
	that.UpdateGameState()

	return nil
}

// DetermineGameResult returns the winning symbol, PlayerTie for a full board
// without a line, or "" while the game goes on.
func (that *Room) DetermineGameResult() string {
	for _, combo := range WinCombos {
		a, b, c := that.Board[combo[0]], that.Board[combo[1]], that.Board[combo[2]]
		if a != EmptyCell && a == b && b == c {
			return a
		}
	}

	for _, cell := range that.Board {
		if cell == EmptyCell {
			return ""
		}
	}

	return PlayerTie
}

// UpdateGameState finishes the game or hands the turn over.
// currentPlayer stays frozen on the last mover once the game is over.
func (that *Room) UpdateGameState() {
	switch result := that.DetermineGameResult(); result {
	case PlayerX, PlayerO:
		that.GameOver = true
		that.Winner = result
	case PlayerTie:
		that.GameOver = true
		that.Winner = ""
	default:
		that.CurrentPlayer = Opponent(that.CurrentPlayer)
	}
}

// Reset clears the board; seats are kept.
func (that *Room) Reset() {
	for i := range that.Board {
		that.Board[i] = EmptyCell
	}
	that.CurrentPlayer = PlayerX
	that.GameOver = false
	that.Winner = ""
}

// Depart removes connID from the seats and reports whether it was seated.
func (that *Room) Depart(connID string) bool {
	for i, player := range that.Players {
		if player.ID == connID {
			that.Players = append(that.Players[:i], that.Players[i+1:]...)
			return true
		}
	}
	return false
}

func (that *Room) GameState() GameState {
	state := GameState{
		Board:         that.Board,
		CurrentPlayer: that.CurrentPlayer,
		GameOver:      that.GameOver,
	}

	if that.Winner != "" {
		winner := that.Winner
		state.Winner = &winner
	}

	return state
}

// Snapshot copies the public state so it can be sent after the lock is released.
func (that *Room) Snapshot() RoomState {
	players := make([]Player, 0, len(that.Players))
	for _, player := range that.Players {
		players = append(players, *player)
	}

	return RoomState{
		RoomCode:  that.Code,
		Players:   players,
		GameState: that.GameState(),
	}
}

// GameState is the part of a room broadcast after every move and reset.
type GameState struct {
	Board         [9]string `json:"board"`
	CurrentPlayer string    `json:"currentPlayer"`
	GameOver      bool      `json:"gameOver"`
	Winner        *string   `json:"winner"`
}

type RoomState struct {
	RoomCode string   `json:"roomCode"`
	Players  []Player `json:"players"`
	GameState
}
