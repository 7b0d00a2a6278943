// Package contract holds the round lifecycle rules: the state machine, the bet
// ledger, the race engine and pari-mutuel settlement. Every write runs inside a
// Tx handed in by the ledger, so a rejected call leaves no trace.
package contract

import (
	"fmt"

	"github.com/alejandrodnm/blitzrace/internal/domain"
)

// Contract applies calls to state. It holds no mutable state of its own.
type Contract struct {
	game domain.GameConfig
}

// New returns a Contract for the given game constants.
func New(game domain.GameConfig) *Contract {
	return &Contract{game: game}
}

// Game returns the game constants.
func (c *Contract) Game() domain.GameConfig { return c.game }

// Execute applies call to tx at ledger time now and returns the events it
// emits. On error the caller must discard tx.
func (c *Contract) Execute(tx *Tx, call domain.Call, now int64) ([]domain.Event, error) {
	e := &emitter{now: now}
	var err error
	switch call.Op {
	case domain.OpStartNewRound:
		err = c.startNewRound(tx, e, now)
	case domain.OpPlaceBet:
		err = c.placeBet(tx, e, call, now)
	case domain.OpUpdatePositions:
		err = c.updatePositions(tx, e, now)
	case domain.OpSettle:
		err = c.settleCurrent(tx, e, now)
	case domain.OpClaimWinnings:
		err = c.claimWinnings(tx, e, call)
	case domain.OpDeposit:
		err = c.deposit(tx, e, call)
	case domain.OpPerformUpkeep:
		err = c.performUpkeep(tx, e, call, now)
	default:
		err = fmt.Errorf("%q: %w", call.Op, domain.ErrUnknownOp)
	}
	if err != nil {
		return nil, fmt.Errorf("contract.%s: %w", call.Op, err)
	}
	return e.events, nil
}

// CurrentRound returns the view of the current round at time now.
func (c *Contract) CurrentRound(s *State, now int64) domain.RoundView {
	rs, ok := s.rounds[s.current]
	if !ok {
		return domain.RoundView{Now: now}
	}
	return domain.NewRoundView(rs.round, rs.lastUpdate, now, c.game)
}

// CheckUpkeep reports which transition, if any, is due at time now.
func (c *Contract) CheckUpkeep(s *State, now int64) domain.Upkeep {
	op, ok := domain.DueTransition(c.CurrentRound(s, now), c.game)
	return domain.Upkeep{Needed: ok, Op: op}
}

// startNewRound supersedes a finished round. An unsettled previous round is
// settled first, in the same call.
func (c *Contract) startNewRound(tx *Tx, e *emitter, now int64) error {
	prev := tx.view().current
	if prev != 0 {
		r, _ := tx.view().Round(prev)
		if r.Elapsed(now) < c.game.RoundDuration {
			return domain.ErrRoundNotFinished
		}
		if !r.Settled {
			c.settle(tx, e, tx.round(prev))
		}
	}
	rs := newRoundState(prev+1, now, c.game)
	tx.addRound(rs)
	e.emit(domain.Event{Type: domain.EventRoundStarted, RoundID: rs.round.ID, StartTime: now})
	return nil
}

func (c *Contract) deposit(tx *Tx, e *emitter, call domain.Call) error {
	if !call.Amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	tx.credit(call.Caller, call.Amount)
	e.emit(domain.Event{Type: domain.EventDeposited, Account: call.Caller, Amount: call.Amount})
	return nil
}

// performUpkeep re-checks which transition is due and runs it.
func (c *Contract) performUpkeep(tx *Tx, e *emitter, call domain.Call, now int64) error {
	up := c.CheckUpkeep(tx.view(), now)
	if !up.Needed {
		return domain.ErrUpkeepNotNeeded
	}
	switch up.Op {
	case domain.OpStartNewRound:
		return c.startNewRound(tx, e, now)
	case domain.OpUpdatePositions:
		return c.updatePositions(tx, e, now)
	case domain.OpSettle:
		return c.settleCurrent(tx, e, now)
	}
	return fmt.Errorf("upkeep %q: %w", up.Op, domain.ErrUnknownOp)
}

type emitter struct {
	now    int64
	events []domain.Event
}

func (e *emitter) emit(ev domain.Event) {
	ev.Time = e.now
	ev.Index = len(e.events)
	e.events = append(e.events, ev)
}
