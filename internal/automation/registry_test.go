package automation_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/blitzrace/internal/automation"
	"github.com/alejandrodnm/blitzrace/internal/contract"
	"github.com/alejandrodnm/blitzrace/internal/domain"
	"github.com/alejandrodnm/blitzrace/internal/ledger"
)

const t0 int64 = 1_700_000_000

type fakeClock struct{ now atomic.Int64 }

func (c *fakeClock) Now() int64 { return c.now.Load() }

func newLedger(t *testing.T) (*ledger.Ledger, *fakeClock) {
	t.Helper()
	clock := &fakeClock{}
	clock.now.Store(t0)
	l := ledger.New(ledger.DefaultConfig(), contract.New(domain.DefaultGameConfig()), clock, nil, nil)
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
	return l, clock
}

func testConfig() automation.Config {
	cfg := automation.DefaultConfig()
	cfg.Address = common.HexToAddress("0x000000000000000000000000000000000000c1a1")
	cfg.PerformsPerSecond = 1000
	return cfg
}

func TestRegistry_PerformsDueTransitions(t *testing.T) {
	l, clock := newLedger(t)
	ctx := context.Background()
	r := automation.New(testConfig(), l, nil)

	ok, err := r.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "no round yet: start one")

	ok, err = r.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "betting: nothing due")

	clock.now.Store(t0 + 50)
	ok, err = r.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEqual(t, uint64(3000), l.State().Positions()[0])

	clock.now.Store(t0 + 82)
	ok, err = r.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	round, _ := l.State().Round(1)
	assert.True(t, round.Settled)

	assert.Equal(t, 3, r.Performed())
	assert.Equal(t, -1, r.Remaining())
}

func TestRegistry_PausesWhenBudgetExhausted(t *testing.T) {
	l, clock := newLedger(t)
	ctx := context.Background()
	cfg := testConfig()
	cfg.Budget = 2
	cfg.LowBudget = 1
	r := automation.New(cfg, l, nil)

	for _, s := range []int64{0, 45} {
		clock.now.Store(t0 + s)
		ok, err := r.Tick(ctx)
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.True(t, r.Paused())
	assert.Equal(t, 0, r.Remaining())

	clock.now.Store(t0 + 60)
	ok, err := r.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	v, err := l.CurrentRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, t0+45, v.LastPositionUpdate, "paused upkeep must not perform")
}

func TestRegistry_CompetingRegistriesPerformOnce(t *testing.T) {
	l, clock := newLedger(t)
	ctx := context.Background()
	a := automation.New(testConfig(), l, nil)
	b := automation.New(testConfig(), l, nil)

	_, err := a.Tick(ctx)
	require.NoError(t, err)
	clock.now.Store(t0 + 85)

	okA, err := a.Tick(ctx)
	require.NoError(t, err)
	okB, err := b.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, okA)
	assert.False(t, okB)
}
