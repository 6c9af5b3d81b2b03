package entity

// Player is a seated connection and the symbol it plays.
type Player struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
}

func (that *Player) IsX() bool {
	return that.Symbol == PlayerX
}

// Opponent returns the other symbol.
func Opponent(symbol string) string {
	if symbol == PlayerX {
		return PlayerO
	}
	return PlayerX
}
