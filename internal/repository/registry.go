package repository

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/pkg"
)

const (
	defaultCodeLength   = 6
	defaultCodeAttempts = 16
)

// RoomRegistry maps room codes to rooms. It owns creation, lookup and deletion;
// the rooms themselves are guarded by their own locks.
type RoomRegistry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	rooms map[string]*entity.Room

	codeLength   int
	codeAttempts int
	reservation  CodeReservation
	generateCode func(length int) (string, error)
	now          func() time.Time
}

type RegistryOption func(*RoomRegistry)

// WithCodeReservation - shares the code namespace with other instances.
func WithCodeReservation(reservation CodeReservation) RegistryOption {
	return func(that *RoomRegistry) {
		that.reservation = reservation
	}
}

func WithCodeLength(length int) RegistryOption {
	return func(that *RoomRegistry) {
		if length > 0 {
			that.codeLength = length
		}
	}
}

func WithCodeAttempts(attempts int) RegistryOption {
	return func(that *RoomRegistry) {
		if attempts > 0 {
			that.codeAttempts = attempts
		}
	}
}

func WithCodeGenerator(generate func(length int) (string, error)) RegistryOption {
	return func(that *RoomRegistry) {
		that.generateCode = generate
	}
}

func WithClock(now func() time.Time) RegistryOption {
	return func(that *RoomRegistry) {
		that.now = now
	}
}

func NewRoomRegistry(logger *slog.Logger, opts ...RegistryOption) *RoomRegistry {
	registry := &RoomRegistry{
		logger:       logger.With("component", "registry"),
		rooms:        make(map[string]*entity.Room),
		codeLength:   defaultCodeLength,
		codeAttempts: defaultCodeAttempts,
		generateCode: pkg.GenerateRoomCode,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(registry)
	}

	return registry
}

// Create - inserts an empty room under a freshly generated, unused code.
func (that *RoomRegistry) Create(ctx context.Context) (*entity.Room, error) {
	log := that.logger.With("method", "Create")

	for attempt := 1; attempt <= that.codeAttempts; attempt++ {
		code, err := that.generateCode(that.codeLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate room code: %w", err)
		}

		if _, ok := that.Get(code); ok {
			log.Debug("room code collision", "code", code, "attempt", attempt)
			continue
		}

		if !that.reserve(ctx, code) {
			log.Debug("room code reserved elsewhere", "code", code, "attempt", attempt)
			continue
		}

		that.mu.Lock()
		if _, ok := that.rooms[code]; ok {
			that.mu.Unlock()
			that.release(ctx, code)
			continue
		}
		room := entity.NewRoom(code, that.now())
		that.rooms[code] = room
		that.mu.Unlock()

		log.Info("room created", "code", code)

		return room, nil
	}

	return nil, fmt.Errorf("%w after %d attempts", apperror.ErrCodeSpaceExhausted, that.codeAttempts)
}

// GetOrCreate - returns the room for code, inserting an empty one on a miss.
// The boolean reports whether this call created it.
func (that *RoomRegistry) GetOrCreate(ctx context.Context, code string) (*entity.Room, bool, error) {
	code = entity.NormalizeRoomCode(code)
	if code == "" {
		return nil, false, apperror.ErrInvalidRoomCode
	}

	if room, ok := that.Get(code); ok {
		return room, false, nil
	}

	that.mu.Lock()
	if room, ok := that.rooms[code]; ok {
		that.mu.Unlock()
		return room, false, nil
	}
	room := entity.NewRoom(code, that.now())
	that.rooms[code] = room
	that.mu.Unlock()

	// a code typed by a user is taken locally either way; the reservation only
	// keeps other instances from generating it
	that.reserve(ctx, code)

	that.logger.Info("room created on join", "code", code)

	return room, true, nil
}

func (that *RoomRegistry) Get(code string) (*entity.Room, bool) {
	that.mu.RLock()
	defer that.mu.RUnlock()

	room, ok := that.rooms[entity.NormalizeRoomCode(code)]

	return room, ok
}

// Delete - removes the mapping; later lookups see no room.
func (that *RoomRegistry) Delete(ctx context.Context, code string) {
	code = entity.NormalizeRoomCode(code)

	that.mu.Lock()
	_, ok := that.rooms[code]
	delete(that.rooms, code)
	that.mu.Unlock()

	if !ok {
		return
	}

	that.Release(ctx, code)
}

// Sweep - deletes rooms that nobody has sat in for longer than ttl
// and returns their codes.
func (that *RoomRegistry) Sweep(ctx context.Context, ttl time.Duration) []string {
	now := that.now()

	that.mu.RLock()
	candidates := make([]*entity.Room, 0)
	for _, room := range that.rooms {
		candidates = append(candidates, room)
	}
	that.mu.RUnlock()

	var swept []string
	for _, room := range candidates {
		room.Lock()
		detached := false
		if !room.IsClosed() && room.IsEmpty() && now.Sub(room.CreatedAt) > ttl {
			room.Close()
			detached = that.Detach(room)
		}
		room.Unlock()

		if detached {
			that.Release(ctx, room.Code)
			swept = append(swept, room.Code)
		}
	}

	if len(swept) > 0 {
		that.logger.Info("idle rooms swept", "count", len(swept))
	}

	return swept
}

func (that *RoomRegistry) Len() int {
	that.mu.RLock()
	defer that.mu.RUnlock()

	return len(that.rooms)
}

// Detach - drops room from the map while it is still the one registered under its code.
// Its code stays reserved until Release, so this is safe under the room lock.
func (that *RoomRegistry) Detach(room *entity.Room) bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	current, ok := that.rooms[room.Code]
	if !ok || current != room {
		return false
	}
	delete(that.rooms, room.Code)

	return true
}

// Release - frees a detached code for other instances. It may reach redis,
// so callers do not hold a room lock.
func (that *RoomRegistry) Release(ctx context.Context, code string) {
	that.release(ctx, entity.NormalizeRoomCode(code))

	that.logger.Info("room deleted", "code", code)
}

func (that *RoomRegistry) reserve(ctx context.Context, code string) bool {
	if that.reservation == nil {
		return true
	}

	ok, err := that.reservation.Reserve(ctx, code)
	if err != nil {
		// shared reservation is best effort, the local map stays authoritative
		that.logger.Error("failed to reserve room code", "code", code, "error", err)
		return true
	}

	return ok
}

func (that *RoomRegistry) release(ctx context.Context, code string) {
	if that.reservation == nil {
		return
	}

	if err := that.reservation.Release(ctx, code); err != nil {
		that.logger.Error("failed to release room code", "code", code, "error", err)
	}
}
