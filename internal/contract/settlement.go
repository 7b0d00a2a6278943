package contract

import (
	"github.com/alejandrodnm/blitzrace/internal/domain"
)

func (c *Contract) settleCurrent(tx *Tx, e *emitter, now int64) error {
	id := tx.view().current
	if id == 0 {
		return domain.ErrNoRound
	}
	r, _ := tx.view().Round(id)
	if r.Settled {
		return domain.ErrAlreadySettled
	}
	if r.Elapsed(now) < c.game.RacingEnd {
		return domain.ErrRaceNotOver
	}
	c.settle(tx, e, tx.round(id))
	return nil
}

// settle finishes the race up to RacingEnd, picks the winner and moves the
// pool to the treasury when nobody backed it. rs must be writable and unsettled.
func (c *Contract) settle(tx *Tx, e *emitter, rs *roundState) {
	c.emitPositions(e, rs, c.advance(rs, rs.round.StartTime+c.game.RacingEnd))

	winner := rs.positions.Leader()
	retained := domain.Retained(rs.pools, winner)
	rs.round.Winner = winner
	rs.round.Settled = true
	rs.round.Retained = retained
	if retained.IsPositive() {
		tx.next.escrow = tx.next.escrow.Sub(retained)
		tx.next.treasury = tx.next.treasury.Add(retained)
	}
	e.emit(domain.Event{
		Type:     domain.EventRoundSettled,
		RoundID:  rs.round.ID,
		Winner:   winner,
		Retained: retained,
	})
}

// claimWinnings pays the caller every unclaimed winning bet of the round.
func (c *Contract) claimWinnings(tx *Tx, e *emitter, call domain.Call) error {
	r, ok := tx.view().Round(call.RoundID)
	if !ok {
		return domain.ErrUnknownRound
	}
	if !r.Settled {
		return domain.ErrNotSettled
	}
	owed, pending, hasWinning := tx.view().rounds[call.RoundID].winnings(call.Caller)
	if !hasWinning {
		return domain.ErrNoEligiblePayout
	}
	if len(pending) == 0 {
		return domain.ErrAlreadyClaimed
	}

	rs := tx.round(call.RoundID)
	for _, i := range pending {
		rs.bets[i].Claimed = true
	}
	tx.next.escrow = tx.next.escrow.Sub(owed)
	tx.credit(call.Caller, owed)
	e.emit(domain.Event{
		Type:    domain.EventWinningsClaimed,
		RoundID: call.RoundID,
		Account: call.Caller,
		Amount:  owed,
	})
	return nil
}
