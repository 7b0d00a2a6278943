package keeper_test

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
	"github.com/alejandrodnm/blitzrace/internal/keeper"
	"github.com/alejandrodnm/blitzrace/internal/ledger"
	"github.com/alejandrodnm/blitzrace/internal/ports"
)

const t0 int64 = 1_700_000_000

// --- mocks ---

type fakeClock struct{ now atomic.Int64 }

func (c *fakeClock) Now() int64 { return c.now.Load() }

// flakyClient falla las primeras failSubmits llamadas a Submit con un error de transporte.
type flakyClient struct {
	ports.KeeperClient
	failSubmits atomic.Int64
	submits     atomic.Int64
	balances    atomic.Int64
}

func (f *flakyClient) Submit(ctx context.Context, call domain.Call) (domain.Receipt, error) {
	f.submits.Add(1)
	if f.failSubmits.Add(-1) >= 0 {
		return domain.Receipt{}, domain.NewTransportError("submit", errors.New("connection reset"))
	}
	return f.KeeperClient.Submit(ctx, call)
}

func (f *flakyClient) Balance(ctx context.Context, addr common.Address) (decimal.Decimal, error) {
	f.balances.Add(1)
	return f.KeeperClient.Balance(ctx, addr)
}

type mockNotifier struct {
	mu       sync.Mutex
	statuses []domain.Status
}

func (m *mockNotifier) NotifyStatus(_ context.Context, s domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, s)
	return nil
}

type mockRecorder struct {
	mu      sync.Mutex
	results map[domain.Op][]error
}

func (m *mockRecorder) ObserveSubmit(_ string, op domain.Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.results == nil {
		m.results = map[domain.Op][]error{}
	}
	m.results[op] = append(m.results[op], err)
}

// --- helpers ---

type env struct {
	clock  *fakeClock
	ledger *ledger.Ledger
	game   domain.GameConfig
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := &fakeClock{}
	clock.now.Store(t0)
	game := domain.DefaultGameConfig()
	l := ledger.New(ledger.DefaultConfig(), contract.New(game), clock, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &env{clock: clock, ledger: l, game: game}
}

// at mueve el reloj del ledger a t0+s.
func (e *env) at(s int64) { e.clock.now.Store(t0 + s) }

func testConfig(name string) keeper.Config {
	cfg := keeper.DefaultConfig()
	cfg.Name = name
	cfg.Address = common.BytesToAddress([]byte(name))
	cfg.PositionsInterval = 0
	cfg.BalanceCheckInterval = 0
	cfg.StatusInterval = 0
	cfg.RetryWait = time.Millisecond
	return cfg
}

func newKeeper(e *env, cfg keeper.Config, client ports.KeeperClient) *keeper.Keeper {
	k := keeper.New(cfg, e.game, client, nil, nil)
	k.SetClock(func() time.Time { return time.Unix(e.clock.Now(), 0) })
	return k
}

// --- tests ---

func TestKeeper_DrivesRoundsWithoutHelp(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	k := newKeeper(e, testConfig("k-01"), e.ledger)

	require.NoError(t, k.EnsureRound(ctx))
	v, err := e.ledger.CurrentRound(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), v.ID)

	committed := map[domain.Op]int{}
	for s := int64(0); s <= 95; s++ {
		e.at(s)
		res, err := k.RunOnce(ctx)
		require.NoError(t, err)
		for _, a := range res.Attempts {
			require.NoError(t, a.Err, "at +%d", s)
			committed[a.Op]++
		}
	}

	assert.Equal(t, 1, committed[domain.OpSettle])
	assert.Equal(t, 1, committed[domain.OpStartNewRound])
	assert.Equal(t, 39, committed[domain.OpUpdatePositions], "one per ledger second in (40, 80)")

	r, err := e.ledger.RoundAt(ctx, 1)
	require.NoError(t, err)
	assert.True(t, r.Round.Settled)

	v, err = e.ledger.CurrentRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v.ID)
	assert.Equal(t, t0+90, v.StartTime)
}

func TestKeeper_ManyKeepersSameOutcome(t *testing.T) {
	solo := newEnv(t)
	crowd := newEnv(t)
	ctx := context.Background()

	single := newKeeper(solo, testConfig("s-01"), solo.ledger)
	rec := &mockRecorder{}
	var keepers []*keeper.Keeper
	for _, name := range []string{"c-01", "c-02", "c-03", "c-04", "c-05"} {
		k := keeper.New(testConfig(name), crowd.game, crowd.ledger, nil, rec)
		k.SetClock(func() time.Time { return time.Unix(crowd.clock.Now(), 0) })
		keepers = append(keepers, k)
	}

	for s := int64(0); s <= 85; s += 3 {
		solo.at(s)
		_, err := single.RunOnce(ctx)
		require.NoError(t, err)

		crowd.at(s)
		var wg sync.WaitGroup
		for _, k := range keepers {
			wg.Add(1)
			go func(k *keeper.Keeper) {
				defer wg.Done()
				_, err := k.RunOnce(ctx)
				assert.NoError(t, err)
			}(k)
		}
		wg.Wait()
	}

	a, err := solo.ledger.RoundAt(ctx, 1)
	require.NoError(t, err)
	b, err := crowd.ledger.RoundAt(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, a.Positions, b.Positions)
	assert.Equal(t, a.Round.Winner, b.Round.Winner)
	assert.True(t, b.Round.Settled)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	ok, guarded := 0, 0
	for _, err := range rec.results[domain.OpSettle] {
		if err == nil {
			ok++
		} else if domain.IsGuard(err) {
			guarded++
		}
	}
	assert.Equal(t, 1, ok, "settle commits exactly once")
	assert.Equal(t, len(rec.results[domain.OpSettle])-1, guarded)
}

func TestKeeper_PositionsThrottle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	cfg := testConfig("k-02")
	cfg.PositionsInterval = 2 * time.Second
	k := newKeeper(e, cfg, e.ledger)
	require.NoError(t, k.EnsureRound(ctx))

	attempted := func(s int64) bool {
		e.at(s)
		res, err := k.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.OpUpdatePositions, res.Due)
		return len(res.Attempts) == 1
	}
	assert.True(t, attempted(41))
	assert.False(t, attempted(42))
	assert.True(t, attempted(43))
	assert.False(t, attempted(44))
}

func TestKeeper_RetriesTransportErrors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	client := &flakyClient{KeeperClient: e.ledger}
	client.failSubmits.Store(2)
	k := newKeeper(e, testConfig("k-03"), client)

	res, err := k.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, res.Attempts, 1)
	assert.True(t, res.Attempts[0].Committed())
	assert.Equal(t, int64(3), client.submits.Load())
}

func TestKeeper_GivesUpAfterMaxRetries(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	client := &flakyClient{KeeperClient: e.ledger}
	client.failSubmits.Store(100)
	cfg := testConfig("k-04")
	cfg.MaxRetries = 2
	k := newKeeper(e, cfg, client)

	res, err := k.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, res.Attempts, 1)
	assert.True(t, domain.IsRetriable(res.Attempts[0].Err))
	assert.Equal(t, int64(3), client.submits.Load())

	v, err := e.ledger.CurrentRound(ctx)
	require.NoError(t, err)
	assert.False(t, v.Exists)
}

func TestKeeper_GuardIsNotAFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	first := newKeeper(e, testConfig("k-05"), e.ledger)
	second := newKeeper(e, testConfig("k-06"), e.ledger)
	require.NoError(t, first.EnsureRound(ctx))
	require.NoError(t, second.EnsureRound(ctx))

	e.at(81)
	res, err := first.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, res.Attempts[0].Committed())

	out, err := second.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, out.Attempts, "round already settled, nothing due")

	e.at(90)
	n := 0
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, k := range []*keeper.Keeper{first, second} {
		wg.Add(1)
		go func(k *keeper.Keeper) {
			defer wg.Done()
			res, err := k.RunOnce(ctx)
			assert.NoError(t, err)
			for _, a := range res.Attempts {
				if a.Committed() {
					mu.Lock()
					n++
					mu.Unlock()
				} else {
					assert.True(t, domain.IsGuard(a.Err))
				}
			}
		}(k)
	}
	wg.Wait()
	assert.Equal(t, 1, n)
}

func TestKeeper_DryRunChecksBalanceAndReportsStatus(t *testing.T) {
	e := newEnv(t)
	notifier := &mockNotifier{}
	client := &flakyClient{KeeperClient: e.ledger}
	cfg := testConfig("k-07")
	cfg.DryRun = true
	cfg.BalanceCheckInterval = time.Minute
	cfg.StatusInterval = time.Second
	k := keeper.New(cfg, e.game, client, notifier, nil)

	require.NoError(t, k.Run(context.Background()))

	assert.Equal(t, int64(1), client.balances.Load())
	require.Len(t, notifier.statuses, 1)
	st := notifier.statuses[0]
	assert.True(t, st.View.Exists)
	assert.Equal(t, uint64(1), st.View.ID)
	assert.Equal(t, uint64(3000), st.Positions[0])
}

func TestKeeper_BalanceWatchIgnoresUnfundedAccount(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	cfg := testConfig("k-08")
	cfg.DryRun = true
	cfg.BalanceCheckInterval = time.Minute

	k := newKeeper(e, cfg, e.ledger)
	require.NoError(t, k.Run(ctx))
	assert.False(t, k.BalanceLow())

	fund := func(amount string) {
		_, err := e.ledger.Submit(ctx, domain.Call{Op: domain.OpDeposit, Caller: cfg.Address, Amount: decimal.RequireFromString(amount)})
		require.NoError(t, err)
	}

	fund("0.005")
	k = newKeeper(e, cfg, e.ledger)
	require.NoError(t, k.Run(ctx))
	assert.True(t, k.BalanceLow())

	fund("1")
	k = newKeeper(e, cfg, e.ledger)
	require.NoError(t, k.Run(ctx))
	assert.False(t, k.BalanceLow())
}

// cancellingClient cancela el contexto del keeper en el primer Submit, como
// si el proceso se parase con la llamada en vuelo.
type cancellingClient struct {
	ports.KeeperClient
	cancel context.CancelFunc
}

func (c *cancellingClient) Submit(context.Context, domain.Call) (domain.Receipt, error) {
	c.cancel()
	return domain.Receipt{}, domain.NewTransportError("submit", errors.New("connection reset"))
}

func TestKeeper_CancelledDuringRetryIsTransport(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &mockRecorder{}
	cfg := testConfig("k-09")
	cfg.RetryWait = time.Hour
	k := keeper.New(cfg, e.game, &cancellingClient{KeeperClient: e.ledger, cancel: cancel}, nil, rec)

	res, err := k.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, res.Attempts, 1)
	out := res.Attempts[0]
	assert.False(t, out.Committed())
	assert.Equal(t, domain.KindTransport, domain.KindOf(out.Err))
	assert.ErrorIs(t, out.Err, context.Canceled)
}
