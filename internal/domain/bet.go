package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Bet es una apuesta. Su identidad es (RoundID, Bettor, Seq).
type Bet struct {
	RoundID uint64          `json:"round_id"`
	Bettor  common.Address  `json:"bettor"`
	Seq     uint64          `json:"seq"` // orden dentro de la ronda, desde 1
	HorseID HorseID         `json:"horse_id"`
	Amount  decimal.Decimal `json:"amount"`
	Claimed bool            `json:"claimed"`
}

// Pools acumula lo apostado a cada caballo en una ronda.
type Pools [NumHorses]decimal.Decimal

// Total suma los cuatro pozos.
func (p Pools) Total() decimal.Decimal {
	total := decimal.Zero
	for _, v := range p {
		total = total.Add(v)
	}
	return total
}
