package keeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/blitzrace/internal/domain"
	"github.com/alejandrodnm/blitzrace/internal/ports"
)

// Config contiene la configuración de un keeper.
type Config struct {
	Name    string         // etiqueta para logs y métricas; vacío = uuid
	Address common.Address // cuenta con la que firma las llamadas

	PollInterval      time.Duration
	PositionsInterval time.Duration // mínimo entre dos updatePositions propios

	BalanceCheckInterval time.Duration // 0 = desactivado
	MinBalance           decimal.Decimal

	StatusInterval time.Duration // 0 = desactivado

	MaxRetries int
	RetryWait  time.Duration // espera base del backoff exponencial

	DryRun bool // un solo ciclo
}

// DefaultConfig devuelve una configuración sensata para producción.
func DefaultConfig() Config {
	return Config{
		PollInterval:         time.Second,
		PositionsInterval:    2 * time.Second,
		BalanceCheckInterval: 5 * time.Minute,
		MinBalance:           decimal.RequireFromString("0.01"),
		StatusInterval:       30 * time.Second,
		MaxRetries:           3,
		RetryWait:            500 * time.Millisecond,
	}
}

// Keeper lee la ronda, decide localmente qué transición toca y la envía.
// No guarda estado del ledger entre ciclos: sólo sus propios temporizadores.
// Pueden correr tantos como se quiera; el contrato rechaza los duplicados.
type Keeper struct {
	cfg      Config
	game     domain.GameConfig
	client   ports.KeeperClient
	notifier ports.StatusNotifier
	rec      ports.KeeperRecorder
	now      func() time.Time

	lastPositions time.Time
	lastBalance   time.Time
	lastStatus    time.Time

	funded     bool // la cuenta tuvo saldo alguna vez
	lowBalance bool
}

// New crea un Keeper con todas las dependencias inyectadas.
// notifier y rec pueden ser nil.
func New(
	cfg Config,
	game domain.GameConfig,
	client ports.KeeperClient,
	notifier ports.StatusNotifier,
	rec ports.KeeperRecorder,
) *Keeper {
	if cfg.Name == "" {
		cfg.Name = "keeper-" + uuid.NewString()[:8]
	}
	return &Keeper{
		cfg:      cfg,
		game:     game,
		client:   client,
		notifier: notifier,
		rec:      rec,
		now:      time.Now,
	}
}

// BalanceLow indica si el último chequeo de saldo quedó por debajo de MinBalance.
func (k *Keeper) BalanceLow() bool { return k.lowBalance }

// Name devuelve la etiqueta del keeper.
func (k *Keeper) Name() string { return k.cfg.Name }

// Outcome es el resultado de enviar una transición.
type Outcome struct {
	Op      domain.Op
	Receipt domain.Receipt
	Err     error
}

// Committed indica si la transición se aplicó.
func (o Outcome) Committed() bool { return o.Err == nil }

// Result es lo que hizo un ciclo.
type Result struct {
	View     domain.RoundView
	Due      domain.Op // vacío si no tocaba nada
	Attempts []Outcome
}

// Run ejecuta el loop del keeper hasta que el contexto se cancele.
// Si cfg.DryRun está activo, solo ejecuta un ciclo.
func (k *Keeper) Run(ctx context.Context) error {
	slog.Info("keeper starting",
		"keeper", k.cfg.Name,
		"address", k.cfg.Address.Hex(),
		"interval", k.cfg.PollInterval,
		"dry_run", k.cfg.DryRun,
	)

	if err := k.EnsureRound(ctx); err != nil {
		slog.Error("ensure round failed", "keeper", k.cfg.Name, "err", err)
	}

	if _, err := k.runCycle(ctx); err != nil {
		slog.Error("keeper cycle failed", "keeper", k.cfg.Name, "err", err)
		if k.cfg.DryRun {
			return err
		}
	}
	if k.cfg.DryRun {
		return nil
	}

	ticker := time.NewTicker(k.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("keeper stopped", "keeper", k.cfg.Name)
			return nil
		case <-ticker.C:
			if _, err := k.runCycle(ctx); err != nil {
				slog.Error("keeper cycle failed", "keeper", k.cfg.Name, "err", err)
			}
		}
	}
}

// RunOnce ejecuta exactamente un ciclo de decisión.
func (k *Keeper) RunOnce(ctx context.Context) (Result, error) {
	return k.cycle(ctx)
}

// EnsureRound arranca una ronda si no hay ninguna o la actual terminó.
// Si otro keeper se adelanta, no es un error.
func (k *Keeper) EnsureRound(ctx context.Context) error {
	view, err := k.readView(ctx)
	if err != nil {
		return fmt.Errorf("keeper.EnsureRound: %w", err)
	}
	if view.Exists && view.Phase != domain.PhaseFinished {
		slog.Info("round in progress",
			"keeper", k.cfg.Name,
			"round_id", view.ID,
			"phase", view.Phase,
			"elapsed", view.Elapsed,
		)
		return nil
	}
	out := k.attempt(ctx, domain.OpStartNewRound)
	if out.Err != nil && !domain.IsGuard(out.Err) {
		return fmt.Errorf("keeper.EnsureRound: %w", out.Err)
	}
	return nil
}

// runCycle ejecuta un ciclo y las tareas periódicas (saldo, estado).
func (k *Keeper) runCycle(ctx context.Context) (Result, error) {
	res, err := k.cycle(ctx)
	if err != nil {
		return res, err
	}
	k.checkBalance(ctx)
	k.reportStatus(ctx, res.View)
	return res, nil
}

// cycle lee la vista → decide → envía.
func (k *Keeper) cycle(ctx context.Context) (Result, error) {
	view, err := k.readView(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("keeper.cycle: read round: %w", err)
	}
	res := Result{View: view}

	op, ok := domain.DueTransition(view, k.game)
	if !ok {
		return res, nil
	}
	res.Due = op

	if op == domain.OpUpdatePositions {
		now := k.now()
		if !k.lastPositions.IsZero() && now.Sub(k.lastPositions) < k.cfg.PositionsInterval {
			slog.Debug("positions update throttled", "keeper", k.cfg.Name, "round_id", view.ID)
			return res, nil
		}
		k.lastPositions = now
	}

	res.Attempts = append(res.Attempts, k.attempt(ctx, op))
	return res, nil
}

// attempt envía op y clasifica el resultado.
func (k *Keeper) attempt(ctx context.Context, op domain.Op) Outcome {
	receipt, err := k.submit(ctx, op)
	if k.rec != nil {
		k.rec.ObserveSubmit(k.cfg.Name, op, err)
	}
	out := Outcome{Op: op, Receipt: receipt, Err: err}

	switch kind := domain.KindOf(err); {
	case err == nil:
		slog.Info("transition committed",
			"keeper", k.cfg.Name,
			"op", op,
			"seq", receipt.Seq,
			"events", len(receipt.Events),
		)
	case kind == domain.KindGuard:
		slog.Debug("not my turn", "keeper", k.cfg.Name, "op", op, "reason", domain.CodeOf(err))
	case kind == domain.KindTransport:
		slog.Warn("transition not delivered", "keeper", k.cfg.Name, "op", op, "err", err)
	default:
		slog.Error("transition rejected", "keeper", k.cfg.Name, "op", op, "kind", kind, "err", err)
	}
	return out
}

// checkBalance avisa si la cuenta del keeper baja de MinBalance.
func (k *Keeper) checkBalance(ctx context.Context) {
	if k.cfg.BalanceCheckInterval <= 0 {
		return
	}
	now := k.now()
	if !k.lastBalance.IsZero() && now.Sub(k.lastBalance) < k.cfg.BalanceCheckInterval {
		return
	}
	k.lastBalance = now

	bal, err := k.client.Balance(ctx, k.cfg.Address)
	if err != nil {
		slog.Warn("balance check failed", "keeper", k.cfg.Name, "err", err)
		return
	}
	if !k.funded && !bal.IsPositive() {
		// Nada cobra a los keepers en el ledger local: una cuenta sin fondear
		// no puede quedarse sin saldo.
		slog.Debug("keeper account unfunded, balance watch idle", "keeper", k.cfg.Name, "address", k.cfg.Address.Hex())
		return
	}
	k.funded = true
	k.lowBalance = bal.LessThan(k.cfg.MinBalance)
	if k.lowBalance {
		slog.Warn("keeper balance low",
			"keeper", k.cfg.Name,
			"address", k.cfg.Address.Hex(),
			"balance", bal.String(),
			"min_balance", k.cfg.MinBalance.String(),
		)
		return
	}
	slog.Debug("keeper balance ok", "keeper", k.cfg.Name, "balance", bal.String())
}

// reportStatus imprime el estado detallado cada StatusInterval.
func (k *Keeper) reportStatus(ctx context.Context, view domain.RoundView) {
	if k.notifier == nil || k.cfg.StatusInterval <= 0 {
		return
	}
	now := k.now()
	if !k.lastStatus.IsZero() && now.Sub(k.lastStatus) < k.cfg.StatusInterval {
		return
	}
	k.lastStatus = now

	status := domain.Status{View: view}
	var err error
	if status.Positions, err = k.client.Positions(ctx); err != nil {
		slog.Warn("status read failed", "keeper", k.cfg.Name, "err", err)
		return
	}
	if status.Pools, err = k.client.TotalBets(ctx); err != nil {
		slog.Warn("status read failed", "keeper", k.cfg.Name, "err", err)
		return
	}
	if err := k.notifier.NotifyStatus(ctx, status); err != nil {
		slog.Warn("notifier error", "err", err)
	}
}
