package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/referral-ledger/internal/ledger"
	"github.com/referral-ledger/internal/logging"
	"github.com/referral-ledger/internal/models"
	"github.com/referral-ledger/internal/service"
	"github.com/referral-ledger/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingAccruer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (a *countingAccruer) AccrueAll(ctx context.Context, now time.Time) (*service.AccrualSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return &service.AccrualSummary{ProfitUSD: decimal.Zero}, nil
}

func (a *countingAccruer) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func TestNewAccrualWorker(t *testing.T) {
	_, err := NewAccrualWorker(nil, time.Second, nil)
	assert.Error(t, err)

	w, err := NewAccrualWorker(&countingAccruer{}, 0, logging.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, defaultAccrualInterval, w.interval)
}

func TestAccrualWorker_RunsAtStartAndOnTick(t *testing.T) {
	acc := &countingAccruer{}
	w, err := NewAccrualWorker(acc, 10*time.Millisecond, logging.NewNopLogger())
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()), "already running")

	assert.Eventually(t, func() bool { return acc.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, w.Stop(context.Background()))
	assert.False(t, w.Stats().Running)
	assert.Error(t, w.Stop(context.Background()))

	stopped := acc.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, acc.count())
}

func TestAccrualWorker_RecordsFailure(t *testing.T) {
	acc := &countingAccruer{err: errors.New("store closed")}
	w, err := NewAccrualWorker(acc, time.Hour, logging.NewNopLogger())
	require.NoError(t, err)

	w.RunOnce(context.Background())
	stats := w.Stats()
	assert.Equal(t, 1, stats.Runs)
	assert.Equal(t, "store closed", stats.LastError)
}

func TestAccrualWorker_CreditsProfit(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	cfg := service.DefaultEngineConfig()
	cfg.Clock = func() time.Time { return now }
	store := ledger.NewStore(nil, logging.NewNopLogger())

	u := &models.User{
		ID: "u1", Role: types.RoleInvestor, Status: types.UserApproved, Plan: "Conservador",
		BalanceUSD: decimal.NewFromInt(3000), LastProfitUpdate: models.NewTimestamp(now.Add(-48 * time.Hour)),
	}
	ledger.Recompute(u, cfg.Plans)
	require.NoError(t, store.Update(context.Background(), func(tx *ledger.Txn) error {
		tx.PutUser(u)
		return nil
	}))

	w, err := NewAccrualWorker(service.NewAccrualService(store, cfg, logging.NewNopLogger()), time.Hour, logging.NewNopLogger())
	require.NoError(t, err)
	w.clock = func() time.Time { return now }

	w.RunOnce(context.Background())
	stats := w.Stats()
	require.NotNil(t, stats.LastSummary)
	assert.Equal(t, 1, stats.LastSummary.Applied)
	assert.True(t, decimal.NewFromInt(20).Equal(stats.LastSummary.ProfitUSD))
}
