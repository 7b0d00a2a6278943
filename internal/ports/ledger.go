package ports

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/blitzrace/internal/domain"
)

// Submitter envía llamadas de escritura al ledger.
type Submitter interface {
	// Submit espera a que la llamada se aplique o se rechace. Cancelar ctx sólo
	// deja de esperar: una llamada ya encolada puede aplicarse igualmente.
	Submit(ctx context.Context, call domain.Call) (domain.Receipt, error)
}

// RoundReader lee la ronda actual con el tiempo del ledger.
type RoundReader interface {
	CurrentRound(ctx context.Context) (domain.RoundView, error)
}

// AccountReader lee saldos.
type AccountReader interface {
	Balance(ctx context.Context, addr common.Address) (decimal.Decimal, error)
}

// UpkeepChecker pregunta al contrato qué transición toca.
type UpkeepChecker interface {
	CheckUpkeep(ctx context.Context) (domain.Upkeep, error)
}

// EventSource entrega los eventos del ledger a medida que se confirman.
// El canal se cierra cuando ctx termina o la suscripción se corta.
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan domain.Event, error)
}

// StatusReader lee posiciones y pozos de la ronda actual.
type StatusReader interface {
	Positions(ctx context.Context) (domain.Positions, error)
	TotalBets(ctx context.Context) (domain.Pools, error)
}

// KeeperClient es lo que necesita un keeper.
type KeeperClient interface {
	Submitter
	RoundReader
	AccountReader
	StatusReader
}

// UpkeepClient es lo que necesita el registro de automatización.
type UpkeepClient interface {
	Submitter
	UpkeepChecker
}

// LedgerClient es la capacidad completa del ledger: escribir, leer y suscribirse.
type LedgerClient interface {
	Submitter
	RoundReader
	AccountReader
	UpkeepChecker
	EventSource
	StatusReader

	RoundAt(ctx context.Context, id uint64) (domain.RoundSummary, error)
	UserBets(ctx context.Context, roundID uint64, addr common.Address) ([]domain.Bet, error)
	UserWinnings(ctx context.Context, roundID uint64, addr common.Address) (decimal.Decimal, error)
}
