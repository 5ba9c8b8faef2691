package service

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/referral-ledger/internal/errors"
	"github.com/referral-ledger/internal/models"
	"github.com/referral-ledger/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettleTransaction_DepositScenario(t *testing.T) {
	f := newFixture(t)
	f.putUser(&models.User{ID: "alice", Plan: "Conservador"})

	f.deposit("alice", "1000")

	alice := f.user("alice")
	assert.True(t, dec("1000").Equal(alice.CapitalInvestedUSD))
	assert.True(t, dec("1000").Equal(alice.BalanceUSD))
	assert.True(t, dec("100").Equal(alice.MonthlyProfitUSD))
	assert.Equal(t, types.RankSilver, alice.Rank)
}

func TestAddTransaction_DailyWithdrawalLimit(t *testing.T) {
	f := newFixture(t)
	f.putUser(&models.User{ID: "bob", BalanceUSD: dec("500"), DailyWithdrawableUSD: dec("100.00")})

	first, err := f.settlement.AddTransaction(f.ctx, &AddTransactionInput{
		UserID: "bob", Type: types.TxWithdrawal, AmountUSD: dec("100.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, first.Status)
	assert.True(t, dec("-100").Equal(first.AmountUSD), "withdrawals are stored negative")

	_, err = f.settlement.AddTransaction(f.ctx, &AddTransactionInput{
		UserID: "bob", Type: types.TxWithdrawal, AmountUSD: dec("1.00"),
	})
	assert.True(t, errors.HasCode(err, errors.CodeWithdrawalAlreadyToday))

	// a failed request frees the day
	_, err = f.settlement.SettleTransaction(f.ctx, first.ID, types.StatusFailed, adminID)
	require.NoError(t, err)
	_, err = f.settlement.AddTransaction(f.ctx, &AddTransactionInput{
		UserID: "bob", Type: types.TxWithdrawal, AmountUSD: dec("1.00"),
	})
	assert.NoError(t, err)

	// and the next day is a new day
	f.now = f.now.Add(24 * time.Hour)
	_, err = f.settlement.AddTransaction(f.ctx, &AddTransactionInput{
		UserID: "bob", Type: types.TxWithdrawal, AmountUSD: dec("1.00"),
	})
	assert.NoError(t, err)
}

func TestAddTransaction_WithdrawableToleranceIsOneCent(t *testing.T) {
	f := newFixture(t)
	f.putUser(&models.User{ID: "carol", BalanceUSD: dec("500"), DailyWithdrawableUSD: dec("100")})
	f.putUser(&models.User{ID: "dave", BalanceUSD: dec("500"), DailyWithdrawableUSD: dec("100")})

	_, err := f.settlement.AddTransaction(f.ctx, &AddTransactionInput{
		UserID: "carol", Type: types.TxWithdrawal, AmountUSD: dec("-100.01"),
	})
	assert.NoError(t, err)

	_, err = f.settlement.AddTransaction(f.ctx, &AddTransactionInput{
		UserID: "dave", Type: types.TxWithdrawal, AmountUSD: dec("100.02"),
	})
	assert.True(t, errors.HasCode(err, errors.CodeInsufficientWithdrawable))
}

func TestAddTransaction_Validation(t *testing.T) {
	f := newFixture(t)
	f.putUser(&models.User{ID: "erin"})

	tests := []struct {
		name  string
		input *AddTransactionInput
	}{
		{"nil input", nil},
		{"bonus cannot be requested", &AddTransactionInput{UserID: "erin", Type: types.TxBonus, AmountUSD: dec("10")}},
		{"zero amount", &AddTransactionInput{UserID: "erin", Type: types.TxDeposit, AmountUSD: decimal.Zero}},
		{"negative deposit", &AddTransactionInput{UserID: "erin", Type: types.TxDeposit, AmountUSD: dec("-5")}},
		{"missing user id", &AddTransactionInput{Type: types.TxDeposit, AmountUSD: dec("5")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.settlement.AddTransaction(f.ctx, tt.input)
			assert.True(t, errors.IsValidation(err), "got %v", err)
		})
	}

	_, err := f.settlement.AddTransaction(f.ctx, &AddTransactionInput{UserID: "ghost", Type: types.TxDeposit, AmountUSD: dec("5")})
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestAddTransaction_NotifiesAdminsWithoutTouchingBalances(t *testing.T) {
	f := newFixture(t)
	f.putUser(&models.User{ID: "frank", BalanceUSD: dec("10")})

	_, err := f.settlement.AddTransaction(f.ctx, &AddTransactionInput{
		UserID: "frank", Type: types.TxDeposit, AmountUSD: dec("250"), AmountBRL: decimal.NewNullDecimal(dec("1250")),
	})
	require.NoError(t, err)

	assert.True(t, dec("10").Equal(f.user("frank").BalanceUSD))
	notes, err := f.users.ListNotifications(f.ctx, adminID)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Message, "$250.00")
}

func TestSettleTransaction_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.chain("alice", "bob")

	req, err := f.settlement.AddTransaction(f.ctx, &AddTransactionInput{
		UserID: "alice", Type: types.TxDeposit, AmountUSD: dec("1000"),
	})
	require.NoError(t, err)

	first, err := f.settlement.SettleTransaction(f.ctx, req.ID, types.StatusCompleted, adminID)
	require.NoError(t, err)
	assert.True(t, first.Changed)
	assert.Len(t, first.Bonuses, 1)
	after := f.store.Snapshot()

	second, err := f.settlement.SettleTransaction(f.ctx, req.ID, types.StatusCompleted, adminID)
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.Equal(t, after, f.store.Snapshot(), "repeating the same settlement changes nothing")

	_, err = f.settlement.SettleTransaction(f.ctx, req.ID, types.StatusFailed, adminID)
	assert.True(t, errors.HasCode(err, errors.CodeAlreadyFinalized))
	assert.Equal(t, after, f.store.Snapshot(), "rejected settlement changes nothing")
}

func TestSettleTransaction_FailedIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.putUser(&models.User{ID: "gina"})
	req := f.putTransaction(&models.Transaction{ID: "t1", UserID: "gina", Type: types.TxDeposit, AmountUSD: dec("50"), Status: types.StatusPending})

	res, err := f.settlement.SettleTransaction(f.ctx, req.ID, types.StatusFailed, adminID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, res.Transaction.Status)
	assert.True(t, f.user("gina").BalanceUSD.IsZero())

	_, err = f.settlement.SettleTransaction(f.ctx, req.ID, types.StatusCompleted, adminID)
	assert.True(t, errors.HasCode(err, errors.CodeAlreadyFinalized))

	logs, err := f.users.ListAdminLogs(f.ctx, adminID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, types.ActionTransactionReject, logs[0].ActionType)
	assert.Equal(t, "Admin", logs[0].AdminName)
}

func TestSettleTransaction_Withdrawal(t *testing.T) {
	f := newFixture(t)
	f.putUser(&models.User{ID: "hank", BalanceUSD: dec("1200"), DailyWithdrawableUSD: dec("30")})
	w := f.putTransaction(&models.Transaction{ID: "w1", UserID: "hank", Type: types.TxWithdrawal, AmountUSD: dec("-250"), Status: types.StatusPending})

	_, err := f.settlement.SettleTransaction(f.ctx, w.ID, types.StatusCompleted, adminID)
	require.NoError(t, err)

	hank := f.user("hank")
	assert.True(t, dec("950").Equal(hank.BalanceUSD))
	assert.True(t, hank.DailyWithdrawableUSD.IsZero(), "bucket is floored at zero")
	assert.Equal(t, types.RankBronze, hank.Rank)
	assert.True(t, dec("95").Equal(hank.MonthlyProfitUSD))
}

func TestSettleTransaction_RejectsOverdraw(t *testing.T) {
	f := newFixture(t)
	f.putUser(&models.User{ID: "ivy", BalanceUSD: dec("100"), DailyWithdrawableUSD: dec("500")})
	w := f.putTransaction(&models.Transaction{ID: "w1", UserID: "ivy", Type: types.TxWithdrawal, AmountUSD: dec("-150"), Status: types.StatusPending})
	before := f.store.Snapshot()

	_, err := f.settlement.SettleTransaction(f.ctx, w.ID, types.StatusCompleted, adminID)
	assert.True(t, errors.HasCode(err, errors.CodeInsufficientBalance))
	assert.Equal(t, before, f.store.Snapshot())
}

func TestSettleTransaction_RequiresAdmin(t *testing.T) {
	f := newFixture(t)
	f.putUser(&models.User{ID: "jack"})
	req := f.putTransaction(&models.Transaction{ID: "t1", UserID: "jack", Type: types.TxDeposit, AmountUSD: dec("50"), Status: types.StatusPending})

	_, err := f.settlement.SettleTransaction(f.ctx, req.ID, types.StatusCompleted, "jack")
	assert.Equal(t, 403, errors.GetHTTPStatusCode(err))

	_, err = f.settlement.SettleTransaction(f.ctx, req.ID, types.StatusScheduled, adminID)
	assert.True(t, errors.IsValidation(err))

	_, err = f.settlement.SettleTransaction(f.ctx, "missing", types.StatusCompleted, adminID)
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestSettleTransaction_WithdrawableBucketNeverNegative(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("bucket stays non-negative across withdrawal settlements", prop.ForAll(
		func(bucketCents int64, withdrawals []int64) bool {
			f := newFixture(t)
			f.putUser(&models.User{
				ID:                   "u",
				BalanceUSD:           dec("1000000"),
				DailyWithdrawableUSD: decimal.New(bucketCents, -2),
			})

			for i, cents := range withdrawals {
				w := f.putTransaction(&models.Transaction{
					ID:        "w" + decimal.NewFromInt(int64(i)).String(),
					UserID:    "u",
					Type:      types.TxWithdrawal,
					AmountUSD: decimal.New(-cents, -2),
					Status:    types.StatusPending,
				})
				if _, err := f.settlement.SettleTransaction(f.ctx, w.ID, types.StatusCompleted, adminID); err != nil {
					return false
				}
				if f.user("u").DailyWithdrawableUSD.IsNegative() {
					return false
				}
			}
			return true
		},
		gen.Int64Range(0, 100_000),
		gen.SliceOfN(8, gen.Int64Range(1, 50_000)),
	))

	properties.TestingRun(t)
}

func TestEngines_KeepRankAndProfitConsistent(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("derived fields match balance after every engine call", prop.ForAll(
		func(deposits []int64, withdrawal int64, override int64) bool {
			f := newFixture(t)
			f.chain("a", "b", "c", "d")

			for _, cents := range deposits {
				f.deposit("a", decimal.New(cents, -2).String())
				f.assertAllConsistent()
			}

			w := f.putTransaction(&models.Transaction{
				ID: "w", UserID: "a", Type: types.TxWithdrawal,
				AmountUSD: decimal.New(-withdrawal, -2), Status: types.StatusPending,
			})
			_, _ = f.settlement.SettleTransaction(f.ctx, w.ID, types.StatusCompleted, adminID)
			f.assertAllConsistent()

			f.now = f.now.Add(45 * 24 * time.Hour)
			_, err := f.accrual.AccrueAll(f.ctx, f.now)
			f.assertAllConsistent()

			_, err2 := f.users.UpdateUserBalance(f.ctx, "b", decimal.New(override, -2), adminID)
			f.assertAllConsistent()
			return err == nil && err2 == nil
		},
		gen.SliceOfN(3, gen.Int64Range(1, 5_000_000)),
		gen.Int64Range(1, 20_000_000),
		gen.Int64Range(0, 20_000_000),
	))

	properties.TestingRun(t)
}
