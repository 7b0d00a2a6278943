package keeper

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/alejandrodnm/blitzrace/internal/domain"
)

// readView lee la ronda actual reintentando los fallos de transporte.
func (k *Keeper) readView(ctx context.Context) (domain.RoundView, error) {
	var view domain.RoundView
	err := k.withRetry(ctx, "read round", func() error {
		var err error
		view, err = k.client.CurrentRound(ctx)
		return err
	})
	return view, err
}

// submit envía una transición reintentando los fallos de transporte. Las
// transiciones son idempotentes: si un reintento llega tarde, el contrato lo
// rechaza con una guarda.
func (k *Keeper) submit(ctx context.Context, op domain.Op) (domain.Receipt, error) {
	var receipt domain.Receipt
	err := k.withRetry(ctx, string(op), func() error {
		var err error
		receipt, err = k.client.Submit(ctx, domain.Transition(op, k.cfg.Address))
		return err
	})
	return receipt, err
}

// withRetry ejecuta fn con backoff exponencial mientras el error sea reintentable.
func (k *Keeper) withRetry(ctx context.Context, what string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= k.cfg.MaxRetries; attempt++ {
		if err = fn(); err == nil || !domain.IsRetriable(err) {
			return err
		}
		if attempt == k.cfg.MaxRetries {
			break
		}
		if !k.sleep(ctx, attempt) {
			return domain.NewTransportError(what, ctx.Err())
		}
	}
	return fmt.Errorf("%s failed after %d retries: %w", what, k.cfg.MaxRetries, err)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (k *Keeper) sleep(ctx context.Context, attempt int) bool {
	wait := time.Duration(math.Pow(2, float64(attempt))) * k.cfg.RetryWait
	select {
	case <-time.After(wait):
		return true
	case <-ctx.Done():
		return false
	}
}
