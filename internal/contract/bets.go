package contract

import (
	"github.com/alejandrodnm/blitzrace/internal/domain"
)

// placeBet escrows call.Amount from the caller on call.HorseID.
func (c *Contract) placeBet(tx *Tx, e *emitter, call domain.Call, now int64) error {
	id := tx.view().current
	if id == 0 {
		return domain.ErrBettingClosed
	}
	r, _ := tx.view().Round(id)
	elapsed := r.Elapsed(now)
	if c.game.PhaseAt(elapsed) != domain.PhaseBetting || !c.game.BettingOpen(elapsed) {
		return domain.ErrBettingClosed
	}
	if !call.HorseID.Valid() {
		return domain.ErrInvalidHorse
	}
	if call.Amount.LessThan(c.game.MinBet) {
		return domain.ErrBetTooSmall
	}
	if call.Amount.GreaterThan(c.game.MaxBet) {
		return domain.ErrBetTooLarge
	}
	if tx.view().Balance(call.Caller).LessThan(call.Amount) {
		return domain.ErrInsufficientFunds
	}

	rs := tx.round(id)
	tx.debit(call.Caller, call.Amount)
	tx.next.escrow = tx.next.escrow.Add(call.Amount)

	bet := domain.Bet{
		RoundID: id,
		Bettor:  call.Caller,
		Seq:     uint64(len(rs.bets)) + 1,
		HorseID: call.HorseID,
		Amount:  call.Amount,
	}
	rs.bets = append(rs.bets, bet)
	rs.byBettor[call.Caller] = append(rs.byBettor[call.Caller], len(rs.bets)-1)
	rs.pools[call.HorseID] = rs.pools[call.HorseID].Add(call.Amount)
	rs.userTotals[call.Caller] = tx.view().UserTotal(id, call.Caller).Add(call.Amount)

	e.emit(domain.Event{
		Type:    domain.EventBetPlaced,
		RoundID: id,
		Account: call.Caller,
		HorseID: call.HorseID,
		Amount:  call.Amount,
	})
	return nil
}
