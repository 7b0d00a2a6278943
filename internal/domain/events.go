package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// EventType identifica el tipo de evento emitido por el ledger.
type EventType string

const (
	EventRoundStarted    EventType = "RoundStarted"
	EventPositionUpdated EventType = "PositionUpdated"
	EventRoundSettled    EventType = "RoundSettled"
	EventBetPlaced       EventType = "BetPlaced"
	EventWinningsClaimed EventType = "WinningsClaimed"
	EventDeposited       EventType = "Deposited"
)

// Event es un evento del ledger. Seq es el número de secuencia de la llamada
// que lo produjo e Index su posición dentro de ella: juntos son únicos y
// permiten deduplicar con entrega at-least-once.
// Los campos que no aplican a un tipo quedan a cero.
type Event struct {
	Type    EventType `json:"type"`
	Seq     uint64    `json:"seq"`
	Index   int       `json:"index"`
	Time    int64     `json:"time"`
	RoundID uint64    `json:"round_id,omitempty"`

	StartTime int64   `json:"start_time,omitempty"` // RoundStarted
	HorseID   HorseID `json:"horse_id"`             // PositionUpdated, BetPlaced
	Position  uint64  `json:"position,omitempty"`   // PositionUpdated
	Winner    HorseID `json:"winner"`               // RoundSettled

	Account  common.Address  `json:"account"`  // BetPlaced, WinningsClaimed, Deposited
	Amount   decimal.Decimal `json:"amount"`   // BetPlaced, WinningsClaimed, Deposited
	Retained decimal.Decimal `json:"retained"` // RoundSettled
}

// Key identifica el evento de forma única en todo el ledger.
func (e Event) Key() string {
	return fmt.Sprintf("%d:%d", e.Seq, e.Index)
}
