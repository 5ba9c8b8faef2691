package service

import (
	"context"
	"testing"
	"time"

	"github.com/referral-ledger/internal/ledger"
	"github.com/referral-ledger/internal/logging"
	"github.com/referral-ledger/internal/models"
	"github.com/referral-ledger/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const adminID = "admin"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fixture wires every engine over one memory-only store with a controllable clock
type fixture struct {
	t          *testing.T
	ctx        context.Context
	store      *ledger.Store
	cfg        EngineConfig
	now        time.Time
	referral   *ReferralService
	settlement *SettlementService
	accrual    *AccrualService
	users      *UserService
}

func newFixture(t *testing.T, opts ...func(*EngineConfig)) *fixture {
	t.Helper()

	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		store: ledger.NewStore(nil, logging.NewNopLogger()),
		now:   time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
	}
	f.cfg = DefaultEngineConfig()
	f.cfg.Clock = func() time.Time { return f.now }
	for _, opt := range opts {
		opt(&f.cfg)
	}

	logger := logging.NewNopLogger()
	f.referral = NewReferralService(f.store, f.cfg, logger)
	f.settlement = NewSettlementService(f.store, f.cfg, f.referral, logger)
	f.accrual = NewAccrualService(f.store, f.cfg, logger)
	f.users = NewUserService(f.store, f.cfg, logger)

	f.putUser(&models.User{ID: adminID, Name: "Admin", Role: types.RoleAdmin, Status: types.UserApproved})
	return f
}

// putUser stores u as an approved investor unless fields say otherwise
func (f *fixture) putUser(u *models.User) *models.User {
	f.t.Helper()
	if u.Role == "" {
		u.Role = types.RoleInvestor
	}
	if u.Status == "" {
		u.Status = types.UserApproved
	}
	if u.Plan == "" {
		u.Plan = "Conservador"
	}
	if u.Name == "" {
		u.Name = u.ID
	}
	if u.ReferralCode == "" {
		u.ReferralCode = "CODE-" + u.ID
	}
	ledger.Recompute(u, f.cfg.Plans)
	require.NoError(f.t, f.store.Update(f.ctx, func(tx *ledger.Txn) error {
		tx.PutUser(u)
		return nil
	}))
	return u
}

// chain stores users ids[0] referred by ids[1] referred by ids[2] and so on
func (f *fixture) chain(ids ...string) {
	f.t.Helper()
	for i := len(ids) - 1; i >= 0; i-- {
		u := &models.User{ID: ids[i]}
		if i+1 < len(ids) {
			u.ReferredByID = ids[i+1]
		}
		f.putUser(u)
	}
}

func (f *fixture) putTransaction(tr *models.Transaction) *models.Transaction {
	f.t.Helper()
	if !tr.Date.IsSet() {
		tr.Date = models.Day(f.now)
	}
	if !tr.CreatedAt.IsSet() {
		tr.CreatedAt = models.NewTimestamp(f.now)
	}
	require.NoError(f.t, f.store.Update(f.ctx, func(tx *ledger.Txn) error {
		tx.PutTransaction(tr)
		return nil
	}))
	return tr
}

func (f *fixture) user(id string) *models.User {
	f.t.Helper()
	var u *models.User
	require.NoError(f.t, f.store.View(func(tx *ledger.Txn) error {
		found, ok := tx.User(id)
		require.True(f.t, ok, "user %s", id)
		u = found
		return nil
	}))
	return u
}

func (f *fixture) transaction(id string) *models.Transaction {
	f.t.Helper()
	var t *models.Transaction
	require.NoError(f.t, f.store.View(func(tx *ledger.Txn) error {
		found, ok := tx.Transaction(id)
		require.True(f.t, ok, "transaction %s", id)
		t = found
		return nil
	}))
	return t
}

func (f *fixture) bonusesFor(userID string) []*models.Transaction {
	var out []*models.Transaction
	_ = f.store.View(func(tx *ledger.Txn) error {
		out = tx.Transactions(func(t *models.Transaction) bool {
			return t.UserID == userID && t.Type == types.TxBonus
		})
		return nil
	})
	return out
}

// deposit requests and settles a deposit, returning the settled transaction
func (f *fixture) deposit(userID, amount string) *models.Transaction {
	f.t.Helper()
	t, err := f.settlement.AddTransaction(f.ctx, &AddTransactionInput{
		UserID:    userID,
		Type:      types.TxDeposit,
		AmountUSD: dec(amount),
	})
	require.NoError(f.t, err)
	_, err = f.settlement.SettleTransaction(f.ctx, t.ID, types.StatusCompleted, adminID)
	require.NoError(f.t, err)
	return f.transaction(t.ID)
}

func (f *fixture) assertAllConsistent() {
	f.t.Helper()
	for _, u := range f.store.Snapshot().Users {
		require.True(f.t, ledger.Consistent(u, f.cfg.Plans), "user %s has stale rank or profit", u.ID)
	}
}
