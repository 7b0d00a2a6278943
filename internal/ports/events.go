package ports

import (
	"context"

	"github.com/alejandrodnm/blitzrace/internal/domain"
)

// EventSink publica eventos del ledger fuera del proceso. La entrega es
// at-least-once: los consumidores deduplican por Event.Key.
type EventSink interface {
	Name() string
	Publish(ctx context.Context, ev domain.Event) error
	Close() error
}

// EventLog devuelve eventos ya confirmados a partir de un seq. Permite
// reenviar lo emitido mientras la suscripción estaba caída.
type EventLog interface {
	EventsSince(ctx context.Context, after uint64) ([]domain.Event, error)
}
