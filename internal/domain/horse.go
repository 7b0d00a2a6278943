package domain

import "fmt"

// NumHorses es el número fijo de caballos por ronda.
const NumHorses = 4

// HorseID identifica un caballo dentro de una ronda (0..NumHorses-1).
type HorseID int

const (
	HorseBTC HorseID = iota
	HorseETH
	HorseMONAD
	HorseDOGE
)

var horseSymbols = [NumHorses]string{"BTC", "ETH", "MONAD", "DOGE"}

// Valid indica si el id está dentro del rango de caballos.
func (h HorseID) Valid() bool {
	return h >= 0 && int(h) < NumHorses
}

func (h HorseID) String() string {
	if !h.Valid() {
		return fmt.Sprintf("horse(%d)", int(h))
	}
	return horseSymbols[h]
}

// ParseHorse acepta el símbolo (BTC, ETH, MONAD, DOGE) o el índice numérico.
func ParseHorse(s string) (HorseID, error) {
	for i, sym := range horseSymbols {
		if s == sym {
			return HorseID(i), nil
		}
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil && HorseID(n).Valid() {
		return HorseID(n), nil
	}
	return 0, fmt.Errorf("domain.ParseHorse: %q: %w", s, ErrInvalidHorse)
}
