package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Op es una operación de escritura del contrato.
type Op string

const (
	OpStartNewRound   Op = "startNewRound"
	OpPlaceBet        Op = "placeBet"
	OpUpdatePositions Op = "updatePositions"
	OpSettle          Op = "settle"
	OpClaimWinnings   Op = "claimWinnings"
	OpDeposit         Op = "deposit"
	OpPerformUpkeep   Op = "performUpkeep"
)

// Ops enumera las operaciones conocidas.
var Ops = []Op{OpStartNewRound, OpPlaceBet, OpUpdatePositions, OpSettle, OpClaimWinnings, OpDeposit, OpPerformUpkeep}

// IsTransition indica si la operación es una transición que cualquiera puede
// invocar sin argumentos.
func (o Op) IsTransition() bool {
	return o == OpStartNewRound || o == OpUpdatePositions || o == OpSettle
}

// RequiresSignature indica si la operación mueve fondos del caller. Esas
// llamadas sólo se aceptan firmadas por la cuenta que figura como Caller.
func (o Op) RequiresSignature() bool {
	return o == OpPlaceBet || o == OpClaimWinnings
}

// ParseOp valida un nombre de operación.
func ParseOp(s string) (Op, error) {
	for _, op := range Ops {
		if string(op) == s {
			return op, nil
		}
	}
	return "", fmt.Errorf("domain.ParseOp: %q: %w", s, ErrUnknownOp)
}

// Call es una llamada de escritura enviada al ledger.
// Sólo se leen los argumentos que aplican a Op.
type Call struct {
	Op      Op              `json:"op"`
	Caller  common.Address  `json:"caller"`
	HorseID HorseID         `json:"horse_id,omitempty"` // placeBet
	Amount  decimal.Decimal `json:"amount"`             // placeBet, deposit
	RoundID uint64          `json:"round_id,omitempty"` // claimWinnings
}

// Transition construye una llamada de transición sin argumentos.
func Transition(op Op, caller common.Address) Call {
	return Call{Op: op, Caller: caller}
}

// Receipt es el resultado de una llamada aceptada.
type Receipt struct {
	Seq    uint64  `json:"seq"`
	Op     Op      `json:"op"`
	Time   int64   `json:"time"`
	Events []Event `json:"events"`
}

// JournalEntry es una llamada aceptada tal como se persiste. Reaplicar las
// entradas en orden reconstruye el estado.
type JournalEntry struct {
	Seq    uint64
	Time   int64
	Call   Call
	Events []Event
}

// Upkeep es la respuesta de checkUpkeep.
type Upkeep struct {
	Needed bool `json:"needed"`
	Op     Op   `json:"op,omitempty"`
}

// DueTransition decide qué transición es elegible según la vista de la ronda.
// La usan tanto checkUpkeep como los keepers; el contrato vuelve a validar
// las guardas al aplicar la llamada.
func DueTransition(v RoundView, g GameConfig) (Op, bool) {
	if !v.Exists {
		return OpStartNewRound, true
	}
	switch {
	case v.Elapsed >= g.RoundDuration:
		return OpStartNewRound, true
	case v.Elapsed >= g.RacingEnd && !v.Settled:
		return OpSettle, true
	case v.Elapsed >= g.RacingStart && v.Elapsed < g.RacingEnd && v.Now > v.LastPositionUpdate:
		return OpUpdatePositions, true
	}
	return "", false
}
