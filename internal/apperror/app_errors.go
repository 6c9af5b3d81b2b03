package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrRoomFull           = errors.New("room is full")
	ErrUnknownRoom        = errors.New("room does not exist")
	ErrInvalidRoomCode    = errors.New("invalid room code")
	ErrCodeSpaceExhausted = errors.New("could not allocate a free room code")

	ErrInvalidMove  = errors.New("invalid move")
	ErrInvalidCell  = fmt.Errorf("%w: cell index out of range", ErrInvalidMove)
	ErrCellOccupied = fmt.Errorf("%w: cell is already occupied", ErrInvalidMove)
	ErrNotYourTurn  = fmt.Errorf("%w: it's not your turn", ErrInvalidMove)
	ErrGameFinished = fmt.Errorf("%w: game is already finished", ErrInvalidMove)
	ErrNotAPlayer   = fmt.Errorf("%w: connection holds no symbol in this room", ErrInvalidMove)
)
