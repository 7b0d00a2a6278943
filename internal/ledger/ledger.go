// Package ledger provides the serialized execution primitive the contract runs
// on: a single goroutine applies calls one at a time in arrival order, each
// either fully committed or fully discarded. Reads are served from immutable
// snapshots and never wait for the writer.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/blitzrace/internal/contract"
	"github.com/alejandrodnm/blitzrace/internal/domain"
	"github.com/alejandrodnm/blitzrace/internal/ports"
)

// ErrStopped is returned once Run has exited.
var ErrStopped = errors.New("ledger stopped")

// Clock returns ledger time in unix seconds.
type Clock interface {
	Now() int64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() int64 { return time.Now().Unix() }

// Config tunes the queues.
type Config struct {
	InboxSize        int
	SubscriberBuffer int
}

// DefaultConfig returns queue sizes suitable for a local node.
func DefaultConfig() Config {
	return Config{InboxSize: 256, SubscriberBuffer: 1024}
}

type snapshot struct {
	state *contract.State
	seq   uint64
	time  int64 // ledger time of the last committed call
}

type result struct {
	receipt domain.Receipt
	err     error
}

type request struct {
	call  domain.Call
	reply chan result
}

type subscription struct {
	ch    chan domain.Event
	reply chan uint64
}

// Ledger serializes calls against a Contract.
type Ledger struct {
	cfg      Config
	contract *contract.Contract
	clock    Clock
	journal  ports.Journal
	rec      ports.CallRecorder

	snap   atomic.Pointer[snapshot]
	inbox  chan request
	subs   chan subscription
	unsubs chan uint64
	done   chan struct{}
}

// New creates a ledger at genesis. journal and rec may be nil.
func New(cfg Config, c *contract.Contract, clock Clock, journal ports.Journal, rec ports.CallRecorder) *Ledger {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultConfig().InboxSize
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = DefaultConfig().SubscriberBuffer
	}
	l := &Ledger{
		cfg:      cfg,
		contract: c,
		clock:    clock,
		journal:  journal,
		rec:      rec,
		inbox:    make(chan request, cfg.InboxSize),
		subs:     make(chan subscription),
		unsubs:   make(chan uint64),
		done:     make(chan struct{}),
	}
	l.snap.Store(&snapshot{state: contract.NewState()})
	return l
}

// Restore replays the journal on top of genesis. It must be called before Run.
// It returns the number of replayed calls.
func (l *Ledger) Restore(ctx context.Context) (int, error) {
	if l.journal == nil {
		return 0, nil
	}
	entries, err := l.journal.Entries(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger.Restore: load journal: %w", err)
	}
	cur := *l.snap.Load()
	for _, e := range entries {
		if e.Seq != cur.seq+1 {
			return 0, fmt.Errorf("ledger.Restore: gap in journal: got seq %d after %d", e.Seq, cur.seq)
		}
		tx := cur.state.Begin()
		events, err := l.contract.Execute(tx, e.Call, e.Time)
		if err != nil {
			return 0, fmt.Errorf("ledger.Restore: seq %d: %w", e.Seq, err)
		}
		if len(events) != len(e.Events) {
			return 0, fmt.Errorf("ledger.Restore: seq %d: replay produced %d events, journal has %d", e.Seq, len(events), len(e.Events))
		}
		cur = snapshot{state: tx.Commit(), seq: e.Seq, time: e.Time}
	}
	l.snap.Store(&cur)
	return len(entries), nil
}

// Run applies calls until ctx is done. Only one Run may be active.
func (l *Ledger) Run(ctx context.Context) error {
	defer close(l.done)
	subscribers := map[uint64]chan domain.Event{}
	defer func() {
		for _, ch := range subscribers {
			close(ch)
		}
	}()
	var nextID uint64

	for {
		select {
		case <-ctx.Done():
			slog.Info("ledger stopped", "seq", l.snap.Load().seq)
			return nil

		case req := <-l.inbox:
			receipt, err := l.apply(ctx, req.call)
			req.reply <- result{receipt: receipt, err: err}
			if err == nil {
				l.publish(subscribers, receipt.Events)
			}

		case s := <-l.subs:
			nextID++
			subscribers[nextID] = s.ch
			s.reply <- nextID

		case id := <-l.unsubs:
			if ch, ok := subscribers[id]; ok {
				close(ch)
				delete(subscribers, id)
			}
		}
	}
}

func (l *Ledger) apply(ctx context.Context, call domain.Call) (domain.Receipt, error) {
	cur := l.snap.Load()
	now := l.clock.Now()
	if now < cur.time {
		now = cur.time
	}

	tx := cur.state.Begin()
	events, err := l.contract.Execute(tx, call, now)
	if l.rec != nil {
		l.rec.ObserveCall(call.Op, err)
	}
	if err != nil {
		return domain.Receipt{}, err
	}

	seq := cur.seq + 1
	for i := range events {
		events[i].Seq = seq
	}
	if l.journal != nil {
		entry := domain.JournalEntry{Seq: seq, Time: now, Call: call, Events: events}
		if err := l.journal.Append(ctx, entry); err != nil {
			slog.Error("journal append failed, call discarded", "op", call.Op, "seq", seq, "err", err)
			return domain.Receipt{}, fmt.Errorf("ledger.apply: journal: %w", err)
		}
	}
	l.snap.Store(&snapshot{state: tx.Commit(), seq: seq, time: now})
	return domain.Receipt{Seq: seq, Op: call.Op, Time: now, Events: events}, nil
}

// publish hands events to every subscriber. A subscriber whose buffer is full
// is disconnected rather than silently skipped.
func (l *Ledger) publish(subscribers map[uint64]chan domain.Event, events []domain.Event) {
	for id, ch := range subscribers {
		for _, ev := range events {
			select {
			case ch <- ev:
				continue
			default:
			}
			slog.Warn("event subscriber too slow, disconnecting", "subscriber", id)
			if l.rec != nil {
				l.rec.ObserveSubscriberDropped()
			}
			close(ch)
			delete(subscribers, id)
			break
		}
	}
}

// Submit enqueues call and waits for its outcome. If ctx ends first the
// outcome is unknown and the error is a TransportError wrapping ctx.Err().
func (l *Ledger) Submit(ctx context.Context, call domain.Call) (domain.Receipt, error) {
	req := request{call: call, reply: make(chan result, 1)}
	select {
	case l.inbox <- req:
	case <-ctx.Done():
		return domain.Receipt{}, domain.NewTransportError("submit", ctx.Err())
	case <-l.done:
		return domain.Receipt{}, domain.NewTransportError("submit", ErrStopped)
	}
	select {
	case res := <-req.reply:
		return res.receipt, res.err
	case <-ctx.Done():
		return domain.Receipt{}, domain.NewTransportError("submit", ctx.Err())
	case <-l.done:
		select {
		case res := <-req.reply:
			return res.receipt, res.err
		default:
			return domain.Receipt{}, domain.NewTransportError("submit", ErrStopped)
		}
	}
}

// Subscribe streams committed events until ctx is done.
func (l *Ledger) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	s := subscription{ch: make(chan domain.Event, l.cfg.SubscriberBuffer), reply: make(chan uint64, 1)}
	select {
	case l.subs <- s:
	case <-ctx.Done():
		return nil, domain.NewTransportError("subscribe", ctx.Err())
	case <-l.done:
		return nil, domain.NewTransportError("subscribe", ErrStopped)
	}
	id := <-s.reply
	go func() {
		select {
		case <-ctx.Done():
			select {
			case l.unsubs <- id:
			case <-l.done:
			}
		case <-l.done:
		}
	}()
	return s.ch, nil
}

// Seq returns the sequence number of the last committed call.
func (l *Ledger) Seq() uint64 { return l.snap.Load().seq }

// State returns the latest committed snapshot.
func (l *Ledger) State() *contract.State { return l.snap.Load().state }

// Now returns the current ledger time. It never goes backwards.
func (l *Ledger) Now() int64 {
	now := l.clock.Now()
	if t := l.snap.Load().time; now < t {
		return t
	}
	return now
}

func (l *Ledger) CurrentRound(context.Context) (domain.RoundView, error) {
	return l.contract.CurrentRound(l.State(), l.Now()), nil
}

func (l *Ledger) CheckUpkeep(context.Context) (domain.Upkeep, error) {
	return l.contract.CheckUpkeep(l.State(), l.Now()), nil
}

func (l *Ledger) RoundAt(_ context.Context, id uint64) (domain.RoundSummary, error) {
	s, ok := l.State().Summary(id)
	if !ok {
		return domain.RoundSummary{}, fmt.Errorf("ledger.RoundAt: %d: %w", id, domain.ErrUnknownRound)
	}
	return s, nil
}

func (l *Ledger) Positions(context.Context) (domain.Positions, error) {
	return l.State().Positions(), nil
}

func (l *Ledger) TotalBets(context.Context) (domain.Pools, error) {
	return l.State().TotalBets(), nil
}

func (l *Ledger) UserBets(_ context.Context, roundID uint64, addr common.Address) ([]domain.Bet, error) {
	return l.State().UserBets(roundID, addr), nil
}

func (l *Ledger) UserWinnings(_ context.Context, roundID uint64, addr common.Address) (decimal.Decimal, error) {
	return l.State().UserWinnings(roundID, addr), nil
}

func (l *Ledger) Balance(_ context.Context, addr common.Address) (decimal.Decimal, error) {
	return l.State().Balance(addr), nil
}

var _ ports.LedgerClient = (*Ledger)(nil)
