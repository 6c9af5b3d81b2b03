package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/repository"
	"github.com/rocketscienceinc/tictactoe-rooms/testing/suite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var emptyBoard = [9]string{"", "", "", "", "", "", "", "", ""}

type recordingPublisher struct {
	mu     sync.Mutex
	events []entity.Event
}

func (that *recordingPublisher) Publish(_ context.Context, event entity.Event) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.events = append(that.events, event)
}

func (that *recordingPublisher) types() []string {
	that.mu.Lock()
	defer that.mu.Unlock()

	types := make([]string, 0, len(that.events))
	for _, event := range that.events {
		types = append(types, event.Type)
	}

	return types
}

func newManager(t *testing.T) (*RoomManager, *repository.RoomRegistry, *recordingPublisher) {
	t.Helper()

	registry := repository.NewRoomRegistry(suite.Logger())
	publisher := &recordingPublisher{}

	return NewRoomManager(suite.Logger(), registry, publisher), registry, publisher
}

func TestRoomManager_FullGame(t *testing.T) {
	ctx := context.Background()
	manager, _, publisher := newManager(t)

	// Given: a created room with two seated connections
	code, err := manager.CreateRoom(ctx)
	require.NoError(t, err)

	first, err := manager.Join(ctx, code, "conn1", nil)
	require.NoError(t, err)
	assert.Equal(t, entity.PlayerX, first.Symbol)

	second, err := manager.Join(ctx, code, "conn2", nil)
	require.NoError(t, err)
	assert.Equal(t, entity.PlayerO, second.Symbol)
	assert.Equal(t, []entity.Player{{ID: "conn1", Symbol: "X"}, {ID: "conn2", Symbol: "O"}}, second.State.Players)

	// When: conn1 takes cell 0
	state, err := manager.Move(ctx, code, "conn1", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, entity.PlayerO, state.CurrentPlayer)

	// And: conn2 tries the same cell
	_, err = manager.Move(ctx, code, "conn2", 0, nil)

	// Then: it is rejected as occupied
	require.ErrorIs(t, err, apperror.ErrCellOccupied)

	// When: the game continues until X completes the top row
	for _, move := range []struct {
		connID string
		cell   int
	}{
		{"conn2", 4}, {"conn1", 1}, {"conn2", 3},
	} {
		_, err = manager.Move(ctx, code, move.connID, move.cell, nil)
		require.NoError(t, err)
	}

	state, err = manager.Move(ctx, code, "conn1", 2, nil)
	require.NoError(t, err)

	// Then: X wins
	assert.True(t, state.GameOver)
	require.NotNil(t, state.Winner)
	assert.Equal(t, entity.PlayerX, *state.Winner)
	assert.Equal(t, [9]string{"X", "X", "X", "O", "O", "", "", "", ""}, state.Board)

	// And: further moves from either side are no-ops
	_, err = manager.Move(ctx, code, "conn2", 5, nil)
	require.ErrorIs(t, err, apperror.ErrGameFinished)
	_, err = manager.Move(ctx, code, "conn1", 8, nil)
	require.ErrorIs(t, err, apperror.ErrGameFinished)

	assert.Equal(t, []string{
		entity.EventRoomCreated,
		entity.EventRoomJoined,
		entity.EventRoomJoined,
		entity.EventGameFinished,
	}, publisher.types())
}

func TestRoomManager_Join(t *testing.T) {
	ctx := context.Background()

	t.Run("Unseen code creates the room", func(t *testing.T) {
		manager, registry, publisher := newManager(t)

		result, err := manager.Join(ctx, "abc123", "conn1", nil)

		require.NoError(t, err)
		assert.Equal(t, entity.PlayerX, result.Symbol)
		assert.Equal(t, "ABC123", result.State.RoomCode)
		assert.Equal(t, emptyBoard, result.State.Board)
		assert.Equal(t, 1, registry.Len())
		assert.Equal(t, []string{entity.EventRoomCreated, entity.EventRoomJoined}, publisher.types())
	})

	t.Run("Third connection gets RoomFull", func(t *testing.T) {
		manager, _, _ := newManager(t)
		_, err := manager.Join(ctx, "ABC123", "conn1", nil)
		require.NoError(t, err)
		_, err = manager.Join(ctx, "ABC123", "conn2", nil)
		require.NoError(t, err)

		result, err := manager.Join(ctx, "ABC123", "conn3", nil)

		require.ErrorIs(t, err, apperror.ErrRoomFull)
		assert.Nil(t, result)
		assert.Equal(t, []string{"conn1", "conn2"}, manager.Members("ABC123"))
	})

	t.Run("Empty code is rejected", func(t *testing.T) {
		manager, registry, _ := newManager(t)

		_, err := manager.Join(ctx, "", "conn1", nil)

		require.ErrorIs(t, err, apperror.ErrInvalidRoomCode)
		assert.Zero(t, registry.Len())
	})

	t.Run("Concurrent joins seat exactly two", func(t *testing.T) {
		manager, _, _ := newManager(t)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			symbols []string
			full    int
		)
		for i := range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				result, err := manager.Join(ctx, "RACE01", string(rune('a'+i)), nil)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					assert.ErrorIs(t, err, apperror.ErrRoomFull)
					full++
					return
				}
				symbols = append(symbols, result.Symbol)
			}()
		}
		wg.Wait()

		assert.ElementsMatch(t, []string{entity.PlayerX, entity.PlayerO}, symbols)
		assert.Equal(t, 8, full)
	})
}

func TestRoomManager_Move(t *testing.T) {
	ctx := context.Background()

	t.Run("Unknown room", func(t *testing.T) {
		manager, _, _ := newManager(t)

		_, err := manager.Move(ctx, "NOPE00", "conn1", 0, nil)

		require.ErrorIs(t, err, apperror.ErrUnknownRoom)
	})

	t.Run("Racing moves apply exactly once", func(t *testing.T) {
		// Given: an active room where it is X's turn
		manager, registry, _ := newManager(t)
		_, err := manager.Join(ctx, "RACE01", "conn1", nil)
		require.NoError(t, err)
		_, err = manager.Join(ctx, "RACE01", "conn2", nil)
		require.NoError(t, err)

		// When: X fires a move at every cell at once, O fires too
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted int
		)
		for cell := range 9 {
			for _, connID := range []string{"conn1", "conn2"} {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := manager.Move(ctx, "RACE01", connID, cell, nil); err == nil {
						mu.Lock()
						accepted++
						mu.Unlock()
					}
				}()
			}
		}
		wg.Wait()

		// Then: turns still alternate, so the board holds at most one more X than O
		room, ok := registry.Get("RACE01")
		require.True(t, ok)
		room.Lock()
		defer room.Unlock()

		var xMarks, oMarks int
		for _, cell := range room.Board {
			switch cell {
			case entity.PlayerX:
				xMarks++
			case entity.PlayerO:
				oMarks++
			}
		}
		assert.Equal(t, accepted, xMarks+oMarks)
		assert.GreaterOrEqual(t, xMarks, 1)
		assert.Contains(t, []int{oMarks, oMarks + 1}, xMarks)
	})
}

func TestRoomManager_Notify(t *testing.T) {
	ctx := context.Background()
	manager, _, _ := newManager(t)

	var notified []entity.RoomState
	notify := func(state entity.RoomState) {
		notified = append(notified, state)
	}

	// Given: a room with two seated players, each join notified once
	_, err := manager.Join(ctx, "ABC123", "conn1", notify)
	require.NoError(t, err)
	_, err = manager.Join(ctx, "ABC123", "conn2", notify)
	require.NoError(t, err)
	require.Len(t, notified, 2)

	// When: a rejected join and a rejected move happen
	_, err = manager.Join(ctx, "ABC123", "conn3", notify)
	require.ErrorIs(t, err, apperror.ErrRoomFull)
	_, err = manager.Move(ctx, "ABC123", "conn2", 0, notify)
	require.ErrorIs(t, err, apperror.ErrNotYourTurn)

	// Then: nobody is notified
	require.Len(t, notified, 2)

	// When: an accepted move and a reset happen
	_, err = manager.Move(ctx, "ABC123", "conn1", 0, notify)
	require.NoError(t, err)
	_, err = manager.Reset(ctx, "ABC123", notify)
	require.NoError(t, err)

	// Then: both are notified with the state they produced
	require.Len(t, notified, 4)
	assert.Equal(t, entity.PlayerX, notified[2].Board[0])
	assert.Equal(t, emptyBoard, notified[3].Board)
	assert.Len(t, notified[3].Players, 2)
}

func TestRoomManager_Reset(t *testing.T) {
	ctx := context.Background()

	t.Run("Clears the board and keeps the seats", func(t *testing.T) {
		// Given: a game with moves played
		manager, _, _ := newManager(t)
		_, err := manager.Join(ctx, "ABC123", "conn1", nil)
		require.NoError(t, err)
		_, err = manager.Join(ctx, "ABC123", "conn2", nil)
		require.NoError(t, err)
		_, err = manager.Move(ctx, "ABC123", "conn1", 4, nil)
		require.NoError(t, err)

		// When: the room is reset
		state, err := manager.Reset(ctx, "ABC123", nil)

		// Then: the board is empty and X starts again with the same seats
		require.NoError(t, err)
		assert.Equal(t, entity.GameState{Board: emptyBoard, CurrentPlayer: entity.PlayerX}, state)
		assert.Equal(t, []string{"conn1", "conn2"}, manager.Members("ABC123"))
	})

	t.Run("Unknown room", func(t *testing.T) {
		manager, _, _ := newManager(t)

		_, err := manager.Reset(ctx, "NOPE00", nil)

		require.ErrorIs(t, err, apperror.ErrUnknownRoom)
	})
}

func TestRoomManager_Leave(t *testing.T) {
	ctx := context.Background()

	t.Run("Last player leaving deletes the room", func(t *testing.T) {
		// Given: a room with one player
		manager, registry, publisher := newManager(t)
		_, err := manager.Join(ctx, "ABC123", "conn1", nil)
		require.NoError(t, err)
		// a lone X may already play
		state, err := manager.Move(ctx, "ABC123", "conn1", 0, nil)
		require.NoError(t, err)
		require.Equal(t, entity.PlayerX, state.Board[0])

		// When: the player leaves
		result, err := manager.Leave(ctx, "ABC123", "conn1", nil)

		// Then: the room is gone
		require.NoError(t, err)
		assert.Equal(t, &LeaveResult{Departed: true, RoomDeleted: true}, result)
		_, ok := registry.Get("ABC123")
		assert.False(t, ok)
		assert.Nil(t, manager.Members("ABC123"))
		assert.Contains(t, publisher.types(), entity.EventRoomDeleted)

		// And: joining the same code starts from scratch
		joined, err := manager.Join(ctx, "ABC123", "conn2", nil)
		require.NoError(t, err)
		assert.Equal(t, entity.PlayerX, joined.Symbol)
		assert.Equal(t, []entity.Player{{ID: "conn2", Symbol: "X"}}, joined.State.Players)
		assert.Equal(t, emptyBoard, joined.State.Board)
	})

	t.Run("One of two leaving keeps the other seated", func(t *testing.T) {
		manager, registry, _ := newManager(t)
		_, err := manager.Join(ctx, "ABC123", "conn1", nil)
		require.NoError(t, err)
		_, err = manager.Join(ctx, "ABC123", "conn2", nil)
		require.NoError(t, err)

		result, err := manager.Leave(ctx, "ABC123", "conn1", nil)

		require.NoError(t, err)
		assert.Equal(t, &LeaveResult{Departed: true}, result)
		assert.Equal(t, []string{"conn2"}, manager.Members("ABC123"))

		room, ok := registry.Get("ABC123")
		require.True(t, ok)
		assert.Equal(t, entity.PlayerO, room.SymbolOf("conn2"))
	})

	t.Run("Remaining members are notified", func(t *testing.T) {
		manager, _, _ := newManager(t)
		_, err := manager.Join(ctx, "ABC123", "conn1", nil)
		require.NoError(t, err)
		_, err = manager.Join(ctx, "ABC123", "conn2", nil)
		require.NoError(t, err)

		var notified []entity.RoomState
		_, err = manager.Leave(ctx, "ABC123", "conn2", func(state entity.RoomState) {
			notified = append(notified, state)
		})

		require.NoError(t, err)
		require.Len(t, notified, 1)
		assert.Equal(t, []entity.Player{{ID: "conn1", Symbol: "X"}}, notified[0].Players)
	})

	t.Run("Stranger leaving changes nothing", func(t *testing.T) {
		manager, _, _ := newManager(t)
		_, err := manager.Join(ctx, "ABC123", "conn1", nil)
		require.NoError(t, err)

		result, err := manager.Leave(ctx, "ABC123", "stranger", nil)

		require.NoError(t, err)
		assert.False(t, result.Departed)
		assert.Equal(t, []string{"conn1"}, manager.Members("ABC123"))
	})

	t.Run("Unknown room", func(t *testing.T) {
		manager, _, _ := newManager(t)

		_, err := manager.Leave(ctx, "NOPE00", "conn1", nil)

		require.ErrorIs(t, err, apperror.ErrUnknownRoom)
	})

	t.Run("Join racing the last leave never lands in a dead room", func(t *testing.T) {
		manager, registry, _ := newManager(t)

		for range 50 {
			_, err := manager.Join(ctx, "RACE01", "leaver", nil)
			require.NoError(t, err)

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, err := manager.Leave(ctx, "RACE01", "leaver", nil)
				assert.NoError(t, err)
			}()
			go func() {
				defer wg.Done()
				_, err := manager.Join(ctx, "RACE01", "joiner", nil)
				assert.NoError(t, err)
			}()
			wg.Wait()

			// the joiner is always seated in the room the registry resolves
			room, ok := registry.Get("RACE01")
			require.True(t, ok)
			room.Lock()
			symbol := room.SymbolOf("joiner")
			room.Unlock()
			require.NotEmpty(t, symbol)

			_, err = manager.Leave(ctx, "RACE01", "joiner", nil)
			require.NoError(t, err)
			require.Zero(t, registry.Len())
		}
	})
}

func TestRoomManager_SweepIdle(t *testing.T) {
	ctx := context.Background()

	// Given: a clock under test control
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	registry := repository.NewRoomRegistry(suite.Logger(), repository.WithClock(func() time.Time { return now }))
	publisher := &recordingPublisher{}
	manager := NewRoomManager(suite.Logger(), registry, publisher)

	idle, err := manager.CreateRoom(ctx)
	require.NoError(t, err)

	busy, err := manager.CreateRoom(ctx)
	require.NoError(t, err)
	_, err = manager.Join(ctx, busy, "conn1", nil)
	require.NoError(t, err)

	// When: not yet past the ttl
	assert.Zero(t, manager.SweepIdle(ctx, 10*time.Minute))

	// When: well past it
	now = now.Add(time.Hour)
	swept := manager.SweepIdle(ctx, 10*time.Minute)

	// Then: only the never-joined room goes
	assert.Equal(t, 1, swept)

	_, ok := registry.Get(idle)
	assert.False(t, ok)

	_, ok = registry.Get(busy)
	assert.True(t, ok)

	assert.Equal(t, []string{
		entity.EventRoomCreated,
		entity.EventRoomCreated,
		entity.EventRoomJoined,
		entity.EventRoomDeleted,
	}, publisher.types())
}

// lockCheckingReservation reports whether the room lock was free while the code was released.
type lockCheckingReservation struct {
	room     func() *entity.Room
	mu       sync.Mutex
	released map[string]bool
}

func (that *lockCheckingReservation) Reserve(context.Context, string) (bool, error) {
	return true, nil
}

func (that *lockCheckingReservation) Release(_ context.Context, code string) error {
	acquired := make(chan struct{})
	go func() {
		room := that.room()
		room.Lock()
		room.Unlock()
		close(acquired)
	}()

	free := false
	select {
	case <-acquired:
		free = true
	case <-time.After(time.Second):
	}

	that.mu.Lock()
	that.released[code] = free
	that.mu.Unlock()

	return nil
}

func TestRoomManager_LeaveReleasesCodeOutsideRoomLock(t *testing.T) {
	ctx := context.Background()

	// Given: a room whose code release checks the room lock
	var room *entity.Room
	reservation := &lockCheckingReservation{
		room:     func() *entity.Room { return room },
		released: make(map[string]bool),
	}
	registry := repository.NewRoomRegistry(suite.Logger(), repository.WithCodeReservation(reservation))
	manager := NewRoomManager(suite.Logger(), registry, nil)

	_, err := manager.Join(ctx, "ABC123", "conn1", nil)
	require.NoError(t, err)
	room, _ = registry.Get("ABC123")

	// When: the last player leaves
	result, err := manager.Leave(ctx, "ABC123", "conn1", nil)

	// Then: the code was released with the room already unlocked
	require.NoError(t, err)
	assert.True(t, result.RoomDeleted)

	reservation.mu.Lock()
	defer reservation.mu.Unlock()
	free, released := reservation.released["ABC123"]
	require.True(t, released)
	assert.True(t, free)
}
