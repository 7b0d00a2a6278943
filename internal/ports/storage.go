package ports

import (
	"context"

	"github.com/alejandrodnm/blitzrace/internal/domain"
)

// Journal persiste las llamadas aceptadas por el ledger, en orden.
type Journal interface {
	// Append guarda una llamada aceptada. Si falla, el ledger descarta la llamada.
	Append(ctx context.Context, entry domain.JournalEntry) error

	// Entries devuelve todas las llamadas guardadas ordenadas por Seq.
	Entries(ctx context.Context) ([]domain.JournalEntry, error)
}

// History consulta rondas y eventos pasados.
type History interface {
	// Rounds devuelve las últimas rondas, la más reciente primero.
	Rounds(ctx context.Context, limit int) ([]domain.Round, error)

	// Events devuelve los eventos de una ronda en orden de ledger.
	Events(ctx context.Context, roundID uint64) ([]domain.Event, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
