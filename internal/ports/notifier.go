package ports

import (
	"context"

	"github.com/alejandrodnm/blitzrace/internal/domain"
)

// StatusNotifier presenta el estado de la ronda al operador.
type StatusNotifier interface {
	// NotifyStatus muestra ronda, fase, tiempos, posiciones y pozos.
	// En la implementación de consola, imprime una tabla formateada.
	NotifyStatus(ctx context.Context, status domain.Status) error
}
