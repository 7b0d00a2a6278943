package main

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/blitzrace/config"
	"github.com/alejandrodnm/blitzrace/internal/adapters/httpapi"
	"github.com/alejandrodnm/blitzrace/internal/adapters/notify"
	"github.com/alejandrodnm/blitzrace/internal/adapters/storage"
	"github.com/alejandrodnm/blitzrace/internal/domain"
)

// runStatus imprime el estado de la ronda actual y, opcionalmente, el
// histórico guardado en el storage del nodo.
func runStatus(ctx context.Context, cfg *config.Config, table bool, history int) error {
	game, err := cfg.GameConfig()
	if err != nil {
		return err
	}
	client := httpapi.NewClient(cfg.ClientConfig())
	console := notify.NewConsole(game, table)

	var status domain.Status
	if status.View, err = client.CurrentRound(ctx); err != nil {
		return fmt.Errorf("read round: %w", err)
	}
	if status.Positions, err = client.Positions(ctx); err != nil {
		return fmt.Errorf("read positions: %w", err)
	}
	if status.Pools, err = client.TotalBets(ctx); err != nil {
		return fmt.Errorf("read pools: %w", err)
	}
	if err := console.NotifyStatus(ctx, status); err != nil {
		return err
	}

	if history <= 0 {
		return nil
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open storage %q: %w", cfg.Storage.DSN, err)
	}
	defer store.Close()

	rounds, err := store.Rounds(ctx, history)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	console.PrintRounds(rounds)
	return nil
}
