package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/blitzrace/config"
	"github.com/alejandrodnm/blitzrace/internal/adapters/httpapi"
	"github.com/alejandrodnm/blitzrace/internal/domain"
)

type triggerArgs struct {
	op     string
	horse  string
	amount string
	round  uint64
}

func opList() string {
	names := make([]string, len(domain.Ops))
	for i, op := range domain.Ops {
		names[i] = string(op)
	}
	return strings.Join(names, "|")
}

// runTrigger envía una sola llamada, como un usuario pulsando un botón.
// Un guard rechazado no es un fallo: la transición no tocaba todavía.
func runTrigger(ctx context.Context, cfg *config.Config, args triggerArgs) error {
	op, err := domain.ParseOp(args.op)
	if err != nil {
		return err
	}
	call := domain.Call{Op: op, Caller: cfg.CallerAddress("trigger")}

	client := httpapi.NewClient(cfg.ClientConfig())
	if op.RequiresSignature() && client.Address() == (common.Address{}) {
		return fmt.Errorf("%s needs keeper.private_key (or BLITZ_PRIVATE_KEY) to sign the call", op)
	}

	switch op {
	case domain.OpPlaceBet:
		if call.HorseID, err = domain.ParseHorse(args.horse); err != nil {
			return err
		}
		if call.Amount, err = parseAmount(args.amount); err != nil {
			return err
		}
	case domain.OpDeposit:
		if call.Amount, err = parseAmount(args.amount); err != nil {
			return err
		}
	case domain.OpClaimWinnings:
		call.RoundID = args.round
		if call.RoundID == 0 {
			view, err := client.CurrentRound(ctx)
			if err != nil {
				return fmt.Errorf("read round: %w", err)
			}
			call.RoundID = view.ID
		}
	}

	receipt, err := client.Submit(ctx, call)
	switch {
	case err == nil:
	case domain.IsGuard(err):
		slog.Info("not due", "op", op, "reason", err)
		return nil
	default:
		return fmt.Errorf("%s: %w", op, err)
	}

	slog.Info("call committed", "op", op, "seq", receipt.Seq, "caller", call.Caller.Hex(), "time", receipt.Time)
	for _, ev := range receipt.Events {
		slog.Info("event",
			"type", ev.Type,
			"round_id", ev.RoundID,
			"horse", ev.HorseID,
			"amount", ev.Amount.String(),
		)
	}
	return nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("missing -amount: %w", domain.ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("amount %q: %w", s, domain.ErrInvalidAmount)
	}
	return d, nil
}
