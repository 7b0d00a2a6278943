package storage_test

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/blitzrace/internal/adapters/storage"
	"github.com/alejandrodnm/blitzrace/internal/contract"
	"github.com/alejandrodnm/blitzrace/internal/domain"
	"github.com/alejandrodnm/blitzrace/internal/ledger"
)

var alice = common.HexToAddress("0x0000000000000000000000000000000000000a11")

func newDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteStorage_AppendAndEntries(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	entries := []domain.JournalEntry{
		{
			Seq: 1, Time: 100,
			Call:   domain.Call{Op: domain.OpDeposit, Caller: alice, Amount: decimal.RequireFromString("2.5")},
			Events: []domain.Event{{Type: domain.EventDeposited, Seq: 1, Time: 100, Account: alice, Amount: decimal.RequireFromString("2.5")}},
		},
		{
			Seq: 2, Time: 101,
			Call:   domain.Transition(domain.OpStartNewRound, alice),
			Events: []domain.Event{{Type: domain.EventRoundStarted, Seq: 2, Time: 101, RoundID: 1, StartTime: 101}},
		},
		{
			Seq: 3, Time: 105,
			Call: domain.Call{Op: domain.OpPlaceBet, Caller: alice, HorseID: domain.HorseDOGE, Amount: decimal.RequireFromString("0.75")},
			Events: []domain.Event{{
				Type: domain.EventBetPlaced, Seq: 3, Time: 105, RoundID: 1,
				Account: alice, HorseID: domain.HorseDOGE, Amount: decimal.RequireFromString("0.75"),
			}},
		},
	}
	for _, e := range entries {
		require.NoError(t, db.Append(ctx, e))
	}

	got, err := db.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(3), got[2].Seq)
	assert.Equal(t, domain.OpPlaceBet, got[2].Call.Op)
	assert.Equal(t, alice, got[2].Call.Caller)
	assert.Equal(t, domain.HorseDOGE, got[2].Call.HorseID)
	assert.True(t, got[2].Call.Amount.Equal(decimal.RequireFromString("0.75")))
	require.Len(t, got[1].Events, 1)
	assert.Equal(t, domain.EventRoundStarted, got[1].Events[0].Type)

	// Un seq repetido se rechaza sin dejar rastro.
	assert.Error(t, db.Append(ctx, entries[0]))
	got, err = db.Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

type fixedClock struct{ now int64 }

func (c *fixedClock) Now() int64 { return c.now }

func TestSQLiteStorage_LedgerRoundTrip(t *testing.T) {
	db := newDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	game := domain.DefaultGameConfig()
	clock := &fixedClock{now: 1_700_000_000}

	l := ledger.New(ledger.DefaultConfig(), contract.New(game), clock, db, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()

	_, err := l.Submit(ctx, domain.Call{Op: domain.OpDeposit, Caller: alice, Amount: decimal.NewFromInt(3)})
	require.NoError(t, err)
	_, err = l.Submit(ctx, domain.Transition(domain.OpStartNewRound, alice))
	require.NoError(t, err)
	_, err = l.Submit(ctx, domain.Call{Op: domain.OpPlaceBet, Caller: alice, HorseID: domain.HorseBTC, Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	cancel()
	<-done

	clock.now += 200
	restored := ledger.New(ledger.DefaultConfig(), contract.New(game), clock, db, nil)
	n, err := restored.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, restored.State().Balance(alice).Equal(decimal.NewFromInt(2)))
	assert.True(t, restored.State().TotalBets()[domain.HorseBTC].Equal(decimal.NewFromInt(1)))

	rounds, err := db.Rounds(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rounds, 1)
	assert.Equal(t, uint64(1), rounds[0].ID)
	assert.False(t, rounds[0].Settled)

	events, err := db.Events(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventRoundStarted, events[0].Type)
	assert.Equal(t, domain.EventBetPlaced, events[1].Type)

	since, err := db.EventsSince(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, uint64(2), since[0].Seq)
	assert.Equal(t, uint64(3), since[1].Seq)

	all, err := db.EventsSince(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, domain.EventDeposited, all[0].Type)
}

func TestSQLiteStorage_SettledRound(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	require.NoError(t, db.Append(ctx, domain.JournalEntry{
		Seq: 1, Time: 10, Call: domain.Transition(domain.OpStartNewRound, alice),
		Events: []domain.Event{{Type: domain.EventRoundStarted, Seq: 1, RoundID: 1, StartTime: 10}},
	}))
	require.NoError(t, db.Append(ctx, domain.JournalEntry{
		Seq: 2, Time: 95, Call: domain.Transition(domain.OpSettle, alice),
		Events: []domain.Event{{
			Type: domain.EventRoundSettled, Seq: 2, Time: 95, RoundID: 1,
			Winner: domain.HorseMONAD, Retained: decimal.RequireFromString("1.5"),
		}},
	}))

	rounds, err := db.Rounds(ctx, 5)
	require.NoError(t, err)
	require.Len(t, rounds, 1)
	assert.True(t, rounds[0].Settled)
	assert.Equal(t, domain.HorseMONAD, rounds[0].Winner)
	assert.True(t, rounds[0].Retained.Equal(decimal.RequireFromString("1.5")))
}
