package domain

import "github.com/shopspring/decimal"

// Round es el registro persistente de una ronda. La fase no forma parte de él.
type Round struct {
	ID        uint64  `json:"id"`
	StartTime int64   `json:"start_time"` // segundos unix del ledger
	Winner    HorseID `json:"winner"`     // válido sólo si Settled
	Settled   bool    `json:"settled"`
	// Retained es el pozo que se queda la tesorería cuando nadie apostó al ganador.
	Retained decimal.Decimal `json:"retained"`
}

// Elapsed devuelve los segundos transcurridos desde el inicio, nunca negativos.
func (r Round) Elapsed(now int64) int64 {
	if e := now - r.StartTime; e > 0 {
		return e
	}
	return 0
}

// Positions guarda la posición de cada caballo.
type Positions [NumHorses]uint64

// Leader devuelve el caballo con mayor posición; los empates van al índice menor.
func (p Positions) Leader() HorseID {
	best := HorseID(0)
	for h := 1; h < NumHorses; h++ {
		if p[h] > p[best] {
			best = HorseID(h)
		}
	}
	return best
}

// RoundView es la respuesta de currentRound: el registro más los campos derivados
// del tiempo del ledger en el momento de la lectura.
type RoundView struct {
	Round
	Exists      bool  `json:"exists"`
	Now         int64 `json:"now"`
	Elapsed     int64 `json:"elapsed"`
	Phase       Phase `json:"phase"`
	BettingOpen bool  `json:"betting_open"`
	Remaining   int64 `json:"remaining"`     // hasta el fin de la ronda
	PhaseEndsIn int64 `json:"phase_ends_in"` // hasta el próximo límite de fase
	// LastPositionUpdate es el último segundo del ledger ya aplicado a las posiciones.
	LastPositionUpdate int64 `json:"last_position_update"`
}

// NewRoundView calcula la vista de r en el instante now.
func NewRoundView(r Round, lastUpdate, now int64, g GameConfig) RoundView {
	elapsed := r.Elapsed(now)
	remaining := g.RoundDuration - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return RoundView{
		Round:              r,
		Exists:             true,
		Now:                now,
		Elapsed:            elapsed,
		Phase:              g.PhaseAt(elapsed),
		BettingOpen:        g.BettingOpen(elapsed),
		Remaining:          remaining,
		PhaseEndsIn:        g.PhaseEndsIn(elapsed),
		LastPositionUpdate: lastUpdate,
	}
}

// RoundSummary es la foto completa de una ronda, actual o histórica.
type RoundSummary struct {
	Round     Round     `json:"round"`
	Positions Positions `json:"positions"`
	Pools     Pools     `json:"pools"`
	BetCount  int       `json:"bet_count"`
}

// Status agrupa lo que imprime el monitor de estado.
type Status struct {
	View      RoundView
	Positions Positions
	Pools     Pools
}
