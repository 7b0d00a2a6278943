package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alejandrodnm/blitzrace/config"
	"github.com/alejandrodnm/blitzrace/internal/adapters/httpapi"
	"github.com/alejandrodnm/blitzrace/internal/adapters/notify"
	"github.com/alejandrodnm/blitzrace/internal/keeper"
)

// runKeeper corre un keeper standalone contra un nodo remoto.
func runKeeper(ctx context.Context, cfg *config.Config, once, table bool) error {
	game, err := cfg.GameConfig()
	if err != nil {
		return err
	}

	client := httpapi.NewClient(cfg.ClientConfig())
	kcfg := cfg.KeeperConfig("")
	kcfg.DryRun = once

	k := keeper.New(kcfg, game, client, notify.NewConsole(game, table), nil)
	slog.Info("standalone keeper", "keeper", k.Name(), "ledger", cfg.Ledger.URL)

	if err := k.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("keeper stopped cleanly", "keeper", k.Name())
	return nil
}
