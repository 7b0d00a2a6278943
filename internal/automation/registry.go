// Package automation runs an upkeep registry: it polls the contract's
// CheckUpkeep view and submits PerformUpkeep when a transition is due, paying
// from a fixed perform budget.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/blitzrace/internal/domain"
	"github.com/alejandrodnm/blitzrace/internal/ports"
)

// Config holds the registry settings.
type Config struct {
	Name     string
	Address  common.Address
	Interval time.Duration

	// Budget is how many performs the upkeep is funded for. 0 means unlimited.
	Budget int
	// LowBudget triggers a warning once the remaining budget drops to it.
	LowBudget int
	// PerformsPerSecond caps how fast performs are sent.
	PerformsPerSecond float64
}

// DefaultConfig returns the registry defaults.
func DefaultConfig() Config {
	return Config{
		Name:              "automation",
		Interval:          time.Second,
		LowBudget:         50,
		PerformsPerSecond: 2,
	}
}

// Registry is one funded upkeep.
type Registry struct {
	cfg     Config
	client  ports.UpkeepClient
	rec     ports.KeeperRecorder
	limiter *rate.Limiter

	performed int
	warned    bool
	paused    bool
}

// New creates a Registry. rec may be nil.
func New(cfg Config, client ports.UpkeepClient, rec ports.KeeperRecorder) *Registry {
	if cfg.PerformsPerSecond <= 0 {
		cfg.PerformsPerSecond = DefaultConfig().PerformsPerSecond
	}
	return &Registry{
		cfg:     cfg,
		client:  client,
		rec:     rec,
		limiter: rate.NewLimiter(rate.Limit(cfg.PerformsPerSecond), 1),
	}
}

// Run checks upkeep every Interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) error {
	slog.Info("automation registry starting",
		"keeper", r.cfg.Name,
		"interval", r.cfg.Interval,
		"budget", r.cfg.Budget,
	)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("automation registry stopped", "keeper", r.cfg.Name, "performed", r.performed)
			return nil
		case <-ticker.C:
			if _, err := r.Tick(ctx); err != nil {
				slog.Error("upkeep failed", "keeper", r.cfg.Name, "err", err)
			}
		}
	}
}

// Tick runs one check/perform round trip and reports whether a perform was
// committed.
func (r *Registry) Tick(ctx context.Context) (bool, error) {
	if r.paused {
		return false, nil
	}
	up, err := r.client.CheckUpkeep(ctx)
	if err != nil {
		return false, fmt.Errorf("automation.Tick: check upkeep: %w", err)
	}
	if !up.Needed {
		return false, nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("automation.Tick: rate limiter: %w", err)
	}

	receipt, err := r.client.Submit(ctx, domain.Transition(domain.OpPerformUpkeep, r.cfg.Address))
	if r.rec != nil {
		r.rec.ObserveSubmit(r.cfg.Name, domain.OpPerformUpkeep, err)
	}
	if err != nil {
		if domain.IsGuard(err) {
			slog.Debug("upkeep already performed", "keeper", r.cfg.Name, "due", up.Op, "reason", domain.CodeOf(err))
			return false, nil
		}
		return false, fmt.Errorf("automation.Tick: perform %s: %w", up.Op, err)
	}

	r.performed++
	slog.Info("upkeep performed", "keeper", r.cfg.Name, "op", up.Op, "seq", receipt.Seq)
	r.charge()
	return true, nil
}

// charge accounts one perform against the budget.
func (r *Registry) charge() {
	if r.cfg.Budget <= 0 {
		return
	}
	left := r.Remaining()
	if left <= 0 {
		r.paused = true
		slog.Error("upkeep budget exhausted, pausing", "keeper", r.cfg.Name, "performed", r.performed)
		return
	}
	if left <= r.cfg.LowBudget && !r.warned {
		r.warned = true
		slog.Warn("upkeep budget low", "keeper", r.cfg.Name, "remaining", left)
	}
}

// Remaining returns the performs left, or -1 for an unlimited budget.
func (r *Registry) Remaining() int {
	if r.cfg.Budget <= 0 {
		return -1
	}
	return r.cfg.Budget - r.performed
}

// Paused reports whether the budget ran out.
func (r *Registry) Paused() bool { return r.paused }

// Performed returns how many performs were committed.
func (r *Registry) Performed() int { return r.performed }
