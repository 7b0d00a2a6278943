package contract

import (
	"maps"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/blitzrace/internal/domain"
)

// roundState is everything the contract keeps per round.
type roundState struct {
	round      domain.Round
	positions  domain.Positions
	lastUpdate int64 // ledger second already applied to positions
	pools      domain.Pools
	bets       []domain.Bet
	userTotals map[common.Address]decimal.Decimal
	byBettor   map[common.Address][]int // indexes into bets
}

func newRoundState(id uint64, start int64, g domain.GameConfig) *roundState {
	rs := &roundState{
		round:      domain.Round{ID: id, StartTime: start},
		lastUpdate: start + g.RacingStart,
		userTotals: map[common.Address]decimal.Decimal{},
		byBettor:   map[common.Address][]int{},
	}
	for h := range rs.positions {
		rs.positions[h] = g.StartPosition
		rs.pools[h] = decimal.Zero
	}
	return rs
}

func (rs *roundState) clone() *roundState {
	c := *rs
	c.bets = slices.Clone(rs.bets)
	c.userTotals = maps.Clone(rs.userTotals)
	c.byBettor = make(map[common.Address][]int, len(rs.byBettor))
	for k, v := range rs.byBettor {
		c.byBettor[k] = slices.Clone(v)
	}
	return &c
}

// State is an immutable snapshot of the contract. Snapshots are never
// mutated after commit; a Tx copies whatever it touches.
type State struct {
	current  uint64
	rounds   map[uint64]*roundState
	balances map[common.Address]decimal.Decimal
	escrow   decimal.Decimal // stakes held for unpaid bets
	treasury decimal.Decimal // pools retained when no one backed the winner
}

// NewState returns the genesis state: no rounds, no balances.
func NewState() *State {
	return &State{
		rounds:   map[uint64]*roundState{},
		balances: map[common.Address]decimal.Decimal{},
	}
}

// Tx is a copy-on-write transaction over a State. Discarding a Tx leaves the
// base untouched.
type Tx struct {
	next           *State
	touched        map[uint64]bool
	balancesCopied bool
}

// Begin opens a transaction on s.
func (s *State) Begin() *Tx {
	next := *s
	next.rounds = maps.Clone(s.rounds)
	return &Tx{next: &next, touched: map[uint64]bool{}}
}

// Commit returns the resulting snapshot. The Tx must not be used afterwards.
func (tx *Tx) Commit() *State { return tx.next }

// view exposes the in-flight state for reads.
func (tx *Tx) view() *State { return tx.next }

// round returns a writable copy of round id, or nil if it does not exist.
func (tx *Tx) round(id uint64) *roundState {
	rs, ok := tx.next.rounds[id]
	if !ok {
		return nil
	}
	if !tx.touched[id] {
		rs = rs.clone()
		tx.next.rounds[id] = rs
		tx.touched[id] = true
	}
	return rs
}

func (tx *Tx) addRound(rs *roundState) {
	tx.next.rounds[rs.round.ID] = rs
	tx.next.current = rs.round.ID
	tx.touched[rs.round.ID] = true
}

func (tx *Tx) credit(addr common.Address, amount decimal.Decimal) {
	if !tx.balancesCopied {
		tx.next.balances = maps.Clone(tx.next.balances)
		tx.balancesCopied = true
	}
	tx.next.balances[addr] = tx.next.Balance(addr).Add(amount)
}

func (tx *Tx) debit(addr common.Address, amount decimal.Decimal) {
	tx.credit(addr, amount.Neg())
}

// Current returns the id of the current round, 0 if none was ever started.
func (s *State) Current() uint64 { return s.current }

// Balance returns the spendable balance of addr.
func (s *State) Balance(addr common.Address) decimal.Decimal {
	if b, ok := s.balances[addr]; ok {
		return b
	}
	return decimal.Zero
}

// Escrow returns the total value held for unpaid bets.
func (s *State) Escrow() decimal.Decimal { return s.escrow }

// Treasury returns the total value retained from pools without winners.
func (s *State) Treasury() decimal.Decimal { return s.treasury }

// Supply sums every balance plus escrow and treasury. Only deposits change it.
func (s *State) Supply() decimal.Decimal {
	total := s.escrow.Add(s.treasury)
	for _, b := range s.balances {
		total = total.Add(b)
	}
	return total
}

// Round returns the record of round id.
func (s *State) Round(id uint64) (domain.Round, bool) {
	rs, ok := s.rounds[id]
	if !ok {
		return domain.Round{}, false
	}
	return rs.round, true
}

// Summary returns round id with its positions and pools.
func (s *State) Summary(id uint64) (domain.RoundSummary, bool) {
	rs, ok := s.rounds[id]
	if !ok {
		return domain.RoundSummary{}, false
	}
	return domain.RoundSummary{
		Round:     rs.round,
		Positions: rs.positions,
		Pools:     rs.pools,
		BetCount:  len(rs.bets),
	}, true
}

// Positions returns the positions of the current round.
func (s *State) Positions() domain.Positions {
	if rs, ok := s.rounds[s.current]; ok {
		return rs.positions
	}
	return domain.Positions{}
}

// TotalBets returns the pools of the current round.
func (s *State) TotalBets() domain.Pools {
	if rs, ok := s.rounds[s.current]; ok {
		return rs.pools
	}
	var p domain.Pools
	for h := range p {
		p[h] = decimal.Zero
	}
	return p
}

// UserBets returns the bets placed by addr in round id, oldest first.
func (s *State) UserBets(id uint64, addr common.Address) []domain.Bet {
	rs, ok := s.rounds[id]
	if !ok {
		return nil
	}
	idx := rs.byBettor[addr]
	out := make([]domain.Bet, 0, len(idx))
	for _, i := range idx {
		out = append(out, rs.bets[i])
	}
	return out
}

// UserTotal returns how much addr wagered in round id.
func (s *State) UserTotal(id uint64, addr common.Address) decimal.Decimal {
	if rs, ok := s.rounds[id]; ok {
		if v, ok := rs.userTotals[addr]; ok {
			return v
		}
	}
	return decimal.Zero
}

// UserWinnings returns the unclaimed payout owed to addr for round id. It is
// zero until the round is settled.
func (s *State) UserWinnings(id uint64, addr common.Address) decimal.Decimal {
	rs, ok := s.rounds[id]
	if !ok || !rs.round.Settled {
		return decimal.Zero
	}
	owed, _, _ := rs.winnings(addr)
	return owed
}

// winnings returns the unclaimed payout of addr in a settled round, the
// indexes of the unclaimed winning bets and whether addr has any winning bet.
func (rs *roundState) winnings(addr common.Address) (decimal.Decimal, []int, bool) {
	winner := rs.round.Winner
	stake := decimal.Zero
	var pending []int
	var hasWinning bool
	for _, i := range rs.byBettor[addr] {
		b := rs.bets[i]
		if b.HorseID != winner {
			continue
		}
		hasWinning = true
		if b.Claimed {
			continue
		}
		stake = stake.Add(b.Amount)
		pending = append(pending, i)
	}
	return domain.Payout(stake, rs.pools[winner], rs.pools.Total()), pending, hasWinning
}
