package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Phase es la fase de una ronda. Nunca se guarda: se deriva del tiempo
// transcurrido desde StartTime.
type Phase int

const (
	PhaseBetting Phase = iota
	PhaseRacing
	PhaseSettlement
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseBetting:
		return "Betting"
	case PhaseRacing:
		return "Racing"
	case PhaseSettlement:
		return "Settlement"
	case PhaseFinished:
		return "Finished"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	for q := PhaseBetting; q <= PhaseFinished; q++ {
		if q.String() == string(b) {
			*p = q
			return nil
		}
	}
	return fmt.Errorf("domain.Phase: unknown phase %q", string(b))
}

// GameConfig agrupa las constantes de una ronda. Los tiempos son segundos
// relativos a StartTime.
type GameConfig struct {
	RoundDuration int64
	BettingEnd    int64
	RacingStart   int64
	RacingEnd     int64

	MinBet decimal.Decimal
	MaxBet decimal.Decimal

	StartPosition  uint64
	FinishPosition uint64
	MinSpeed       uint64 // avance mínimo por segundo de ledger
	MaxSpeed       uint64 // avance máximo por segundo de ledger
}

// DefaultGameConfig devuelve los valores por defecto del juego.
func DefaultGameConfig() GameConfig {
	return GameConfig{
		RoundDuration:  90,
		BettingEnd:     35,
		RacingStart:    40,
		RacingEnd:      80,
		MinBet:         decimal.RequireFromString("0.001"),
		MaxBet:         decimal.NewFromInt(10),
		StartPosition:  3000,
		FinishPosition: 10000,
		MinSpeed:       80,
		MaxSpeed:       220,
	}
}

// Validate comprueba el orden de las ventanas y los límites.
func (g GameConfig) Validate() error {
	var errs []error
	if !(0 < g.BettingEnd && g.BettingEnd <= g.RacingStart && g.RacingStart < g.RacingEnd && g.RacingEnd <= g.RoundDuration) {
		errs = append(errs, fmt.Errorf("windows must satisfy 0 < betting_end <= racing_start < racing_end <= round_duration (got %d/%d/%d/%d)",
			g.BettingEnd, g.RacingStart, g.RacingEnd, g.RoundDuration))
	}
	if !g.MinBet.IsPositive() {
		errs = append(errs, errors.New("min_bet must be positive"))
	}
	if g.MaxBet.LessThan(g.MinBet) {
		errs = append(errs, errors.New("max_bet must be >= min_bet"))
	}
	if g.FinishPosition <= g.StartPosition {
		errs = append(errs, errors.New("finish_position must be greater than start_position"))
	}
	if g.MinSpeed == 0 || g.MaxSpeed < g.MinSpeed {
		errs = append(errs, errors.New("speeds must satisfy 0 < min_speed <= max_speed"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("domain.GameConfig: %w", errors.Join(errs...))
	}
	return nil
}

// PhaseAt devuelve la fase para un tiempo transcurrido (segundos).
func (g GameConfig) PhaseAt(elapsed int64) Phase {
	switch {
	case elapsed < g.RacingStart:
		return PhaseBetting
	case elapsed < g.RacingEnd:
		return PhaseRacing
	case elapsed < g.RoundDuration:
		return PhaseSettlement
	default:
		return PhaseFinished
	}
}

// BettingOpen indica si se aceptan apuestas. El tramo [BettingEnd, RacingStart)
// sigue siendo Betting pero con la ventanilla cerrada.
func (g GameConfig) BettingOpen(elapsed int64) bool {
	return elapsed >= 0 && elapsed < g.BettingEnd
}

// PhaseEndsIn devuelve los segundos que faltan para el siguiente límite
// relevante (cierre de apuestas, inicio o fin de carrera, fin de ronda).
// Devuelve 0 cuando la ronda ya terminó.
func (g GameConfig) PhaseEndsIn(elapsed int64) int64 {
	for _, edge := range []int64{g.BettingEnd, g.RacingStart, g.RacingEnd, g.RoundDuration} {
		if elapsed < edge {
			return edge - elapsed
		}
	}
	return 0
}
