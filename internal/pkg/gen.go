package pkg

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// RoomCodeAlphabet - case-insensitive alphanumerics, codes are kept upper case.
const RoomCodeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// GenerateRoomCode - generates a random room code of the given length.
func GenerateRoomCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("room code length must be positive, got %d", length)
	}

	alphabetSize := big.NewInt(int64(len(RoomCodeAlphabet)))

	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("failed to read random index: %w", err)
		}
		code[i] = RoomCodeAlphabet[n.Int64()]
	}

	return string(code), nil
}

// GenerateConnectionID - generates an ephemeral identifier for a socket connection.
func GenerateConnectionID() string {
	return uuid.NewString()
}
