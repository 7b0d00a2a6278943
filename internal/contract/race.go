package contract

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alejandrodnm/blitzrace/internal/domain"
)

// speed returns how far horse moves during ledger second s of round r. It is
// derived from keccak256(roundID, startTime, s, horse), so anyone can replay
// the race from the round record alone.
func (c *Contract) speed(r domain.Round, s int64, horse int) uint64 {
	var buf [25]byte
	binary.BigEndian.PutUint64(buf[0:8], r.ID)
	binary.BigEndian.PutUint64(buf[8:16], uint64(r.StartTime))
	binary.BigEndian.PutUint64(buf[16:24], uint64(s))
	buf[24] = byte(horse)
	h := crypto.Keccak256(buf[:])
	span := c.game.MaxSpeed - c.game.MinSpeed + 1
	return c.game.MinSpeed + binary.BigEndian.Uint64(h[:8])%span
}

// advance moves every horse through each whole ledger second in
// (lastUpdate, until], never past RacingEnd or the finish line. It returns
// which horses moved.
func (c *Contract) advance(rs *roundState, until int64) [domain.NumHorses]bool {
	var moved [domain.NumHorses]bool
	if end := rs.round.StartTime + c.game.RacingEnd; until > end {
		until = end
	}
	for s := rs.lastUpdate + 1; s <= until; s++ {
		for h := range rs.positions {
			if rs.positions[h] >= c.game.FinishPosition {
				continue
			}
			rs.positions[h] = min(rs.positions[h]+c.speed(rs.round, s, h), c.game.FinishPosition)
			moved[h] = true
		}
	}
	if until > rs.lastUpdate {
		rs.lastUpdate = until
	}
	return moved
}

func (c *Contract) updatePositions(tx *Tx, e *emitter, now int64) error {
	id := tx.view().current
	if id == 0 {
		return domain.ErrNoRound
	}
	r, _ := tx.view().Round(id)
	if r.Settled {
		return domain.ErrAlreadySettled
	}
	elapsed := r.Elapsed(now)
	if elapsed < c.game.RacingStart || elapsed >= c.game.RacingEnd {
		return domain.ErrNotRacing
	}
	if now <= tx.view().rounds[id].lastUpdate {
		return domain.ErrPositionsCurrent
	}
	rs := tx.round(id)
	c.emitPositions(e, rs, c.advance(rs, now))
	return nil
}

func (c *Contract) emitPositions(e *emitter, rs *roundState, moved [domain.NumHorses]bool) {
	for h, ok := range moved {
		if !ok {
			continue
		}
		e.emit(domain.Event{
			Type:     domain.EventPositionUpdated,
			RoundID:  rs.round.ID,
			HorseID:  domain.HorseID(h),
			Position: rs.positions[h],
		})
	}
}
