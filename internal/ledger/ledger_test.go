package ledger_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/blitzrace/internal/contract"
	"github.com/alejandrodnm/blitzrace/internal/domain"
	"github.com/alejandrodnm/blitzrace/internal/ledger"
)

const t0 int64 = 1_700_000_000

var (
	keeperAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice      = common.HexToAddress("0x0000000000000000000000000000000000000a11")
)

type fakeClock struct{ now atomic.Int64 }

func newClock(t int64) *fakeClock {
	c := &fakeClock{}
	c.now.Store(t)
	return c
}

func (c *fakeClock) Now() int64  { return c.now.Load() }
func (c *fakeClock) Set(t int64) { c.now.Store(t) }

// memJournal es un journal en memoria.
type memJournal struct {
	mu      sync.Mutex
	entries []domain.JournalEntry
	fail    error
}

func (j *memJournal) Append(_ context.Context, e domain.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail != nil {
		return j.fail
	}
	j.entries = append(j.entries, e)
	return nil
}

func (j *memJournal) Entries(context.Context) ([]domain.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.JournalEntry(nil), j.entries...), nil
}

type countingRecorder struct {
	ok, rejected, dropped atomic.Int64
}

func (r *countingRecorder) ObserveCall(_ domain.Op, err error) {
	if err != nil {
		r.rejected.Add(1)
		return
	}
	r.ok.Add(1)
}

func (r *countingRecorder) ObserveSubscriberDropped() { r.dropped.Add(1) }

func start(t *testing.T, l *ledger.Ledger) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	stop := func() {
		cancel()
		<-done
	}
	t.Cleanup(stop)
	return stop
}

func newLedger(t *testing.T, clock ledger.Clock, j *memJournal) *ledger.Ledger {
	t.Helper()
	c := contract.New(domain.DefaultGameConfig())
	if j == nil {
		return ledger.New(ledger.DefaultConfig(), c, clock, nil, nil)
	}
	return ledger.New(ledger.DefaultConfig(), c, clock, j, nil)
}

func transition(op domain.Op) domain.Call { return domain.Transition(op, keeperAddr) }

// race lanza n llamadas idénticas a la vez y devuelve cuántas se aceptaron.
func race(t *testing.T, l *ledger.Ledger, call domain.Call, n int) (int, []error) {
	t.Helper()
	var wg sync.WaitGroup
	var accepted atomic.Int64
	errs := make([]error, n)
	gate := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-gate
			_, err := l.Submit(context.Background(), call)
			if err == nil {
				accepted.Add(1)
			}
			errs[i] = err
		}(i)
	}
	close(gate)
	wg.Wait()
	return int(accepted.Load()), errs
}

func TestConcurrentIdenticalCalls_EqualOneCall(t *testing.T) {
	clock := newClock(t0)
	l := newLedger(t, clock, nil)
	start(t, l)
	ctx := context.Background()

	n, errs := race(t, l, transition(domain.OpStartNewRound), 40)
	assert.Equal(t, 1, n)
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, domain.ErrRoundNotFinished)
		}
	}

	clock.Set(t0 + 50)
	seqBefore := l.Seq()
	n, errs = race(t, l, transition(domain.OpUpdatePositions), 40)
	assert.Equal(t, 1, n)
	assert.Equal(t, seqBefore+1, l.Seq())
	for _, err := range errs {
		if err != nil {
			assert.True(t, domain.IsGuard(err), "unexpected %v", err)
		}
	}

	v, err := l.CurrentRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v.ID)
	assert.Equal(t, t0+50, v.LastPositionUpdate)
}

func TestSettleOnce_UnderConcurrency(t *testing.T) {
	clock := newClock(t0)
	l := newLedger(t, clock, nil)
	start(t, l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := l.Subscribe(ctx)
	require.NoError(t, err)

	_, err = l.Submit(ctx, transition(domain.OpStartNewRound))
	require.NoError(t, err)

	clock.Set(t0 + 81)
	n, errs := race(t, l, transition(domain.OpSettle), 32)
	assert.Equal(t, 1, n)
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, domain.ErrAlreadySettled)
		}
	}

	// Una segunda ola tampoco liquida otra vez.
	n, _ = race(t, l, transition(domain.OpSettle), 8)
	assert.Equal(t, 0, n)

	_, err = l.Submit(ctx, domain.Call{Op: domain.OpDeposit, Caller: alice, Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)

	settled := 0
	var lastSeq uint64
	for {
		ev := <-events
		assert.GreaterOrEqual(t, ev.Seq, lastSeq)
		lastSeq = ev.Seq
		if ev.Type == domain.EventRoundSettled {
			settled++
		}
		if ev.Type == domain.EventDeposited {
			break
		}
	}
	assert.Equal(t, 1, settled)
}

func TestRestore_ReplaysJournal(t *testing.T) {
	clock := newClock(t0)
	j := &memJournal{}
	l := newLedger(t, clock, j)
	stop := start(t, l)
	ctx := context.Background()

	_, err := l.Submit(ctx, domain.Call{Op: domain.OpDeposit, Caller: alice, Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)
	_, err = l.Submit(ctx, transition(domain.OpStartNewRound))
	require.NoError(t, err)
	clock.Set(t0 + 3)
	_, err = l.Submit(ctx, domain.Call{Op: domain.OpPlaceBet, Caller: alice, HorseID: domain.HorseETH, Amount: decimal.NewFromInt(2)})
	require.NoError(t, err)
	_, err = l.Submit(ctx, domain.Call{Op: domain.OpPlaceBet, Caller: alice, HorseID: 9, Amount: decimal.NewFromInt(2)})
	require.ErrorIs(t, err, domain.ErrInvalidHorse)
	clock.Set(t0 + 63)
	_, err = l.Submit(ctx, transition(domain.OpUpdatePositions))
	require.NoError(t, err)
	stop()

	require.Len(t, j.entries, 4, "rejected calls are not journaled")

	restored := newLedger(t, newClock(t0+63), j)
	n, err := restored.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, l.Seq(), restored.Seq())
	assert.Equal(t, l.State().Positions(), restored.State().Positions())
	assert.True(t, restored.State().Balance(alice).Equal(decimal.NewFromInt(3)))
	assert.True(t, restored.State().TotalBets()[domain.HorseETH].Equal(decimal.NewFromInt(2)))

	start(t, restored)
	r, err := restored.Submit(ctx, transition(domain.OpUpdatePositions))
	require.ErrorIs(t, err, domain.ErrPositionsCurrent)
	assert.Zero(t, r.Seq)
}

func TestJournalFailure_DiscardsCall(t *testing.T) {
	j := &memJournal{fail: errors.New("disk full")}
	l := newLedger(t, newClock(t0), j)
	start(t, l)

	_, err := l.Submit(context.Background(), domain.Call{Op: domain.OpDeposit, Caller: alice, Amount: decimal.NewFromInt(5)})
	require.Error(t, err)
	assert.Equal(t, uint64(0), l.Seq())
	assert.True(t, l.State().Balance(alice).IsZero())
}

func TestSubmit_AfterStopIsRetriable(t *testing.T) {
	l := newLedger(t, newClock(t0), nil)
	stop := start(t, l)
	stop()

	_, err := l.Submit(context.Background(), transition(domain.OpStartNewRound))
	require.Error(t, err)
	assert.True(t, domain.IsRetriable(err))
	assert.ErrorIs(t, err, ledger.ErrStopped)
}

func TestSubmit_CancelledContextIsTransport(t *testing.T) {
	// Sin Run nadie contesta: el resultado queda desconocido.
	l := newLedger(t, newClock(t0), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Submit(ctx, transition(domain.OpSettle))
	require.Error(t, err)
	assert.Equal(t, domain.KindTransport, domain.KindOf(err))
	assert.True(t, domain.IsRetriable(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSubscribe_ClosesOnCancel(t *testing.T) {
	l := newLedger(t, newClock(t0), nil)
	start(t, l)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := l.Subscribe(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestLedgerTime_NeverGoesBack(t *testing.T) {
	clock := newClock(t0 + 100)
	rec := &countingRecorder{}
	l := ledger.New(ledger.DefaultConfig(), contract.New(domain.DefaultGameConfig()), clock, nil, rec)
	start(t, l)
	ctx := context.Background()

	first, err := l.Submit(ctx, transition(domain.OpStartNewRound))
	require.NoError(t, err)
	clock.Set(t0)
	second, err := l.Submit(ctx, domain.Call{Op: domain.OpDeposit, Caller: alice, Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, second.Time, first.Time)
	assert.Equal(t, first.Time, l.Now())

	_, err = l.Submit(ctx, transition(domain.OpStartNewRound))
	assert.ErrorIs(t, err, domain.ErrRoundNotFinished)
	assert.Equal(t, int64(2), rec.ok.Load())
	assert.Equal(t, int64(1), rec.rejected.Load())
}
