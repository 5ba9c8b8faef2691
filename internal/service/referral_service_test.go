package service

import (
	"testing"
	"time"

	"github.com/referral-ledger/internal/errors"
	"github.com/referral-ledger/internal/ledger"
	"github.com/referral-ledger/internal/models"
	"github.com/referral-ledger/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferral_ThreeLevelCap(t *testing.T) {
	f := newFixture(t)
	f.chain("A", "B", "C", "D", "E")

	f.deposit("A", "1000")

	assert.True(t, dec("50").Equal(f.user("B").BalanceUSD))
	assert.True(t, dec("30").Equal(f.user("C").BalanceUSD))
	assert.True(t, dec("10").Equal(f.user("D").BalanceUSD))
	assert.True(t, f.user("E").BalanceUSD.IsZero(), "fourth level earns nothing")
	assert.Empty(t, f.bonusesFor("E"))

	bonus := f.bonusesFor("C")
	require.Len(t, bonus, 1)
	assert.Equal(t, 2, bonus[0].ReferralLevel)
	assert.Equal(t, "A", bonus[0].SourceUserID)
	assert.Equal(t, types.StatusCompleted, bonus[0].Status)
	assert.True(t, bonus[0].BonusPayoutHandled)
	assert.True(t, dec("30").Equal(f.user("C").BonusBalanceUSD))
}

func TestReferral_ZeroRatePassThrough(t *testing.T) {
	f := newFixture(t, func(c *EngineConfig) {
		c.Rates = ledger.NewReferralRates([]decimal.Decimal{decimal.Zero, dec("0.05"), dec("0.01")})
	})
	f.chain("A", "B", "C", "D")

	f.deposit("A", "1000")

	assert.True(t, f.user("B").BalanceUSD.IsZero())
	assert.Empty(t, f.bonusesFor("B"))
	assert.True(t, dec("50").Equal(f.user("C").BalanceUSD))
	assert.True(t, dec("10").Equal(f.user("D").BalanceUSD))
}

func TestReferral_StopsOnDanglingAndCyclicReferences(t *testing.T) {
	t.Run("dangling", func(t *testing.T) {
		f := newFixture(t)
		f.putUser(&models.User{ID: "B", ReferredByID: "deleted"})
		f.putUser(&models.User{ID: "A", ReferredByID: "B"})

		f.deposit("A", "100")

		assert.True(t, dec("5").Equal(f.user("B").BalanceUSD))
	})

	t.Run("cycle", func(t *testing.T) {
		f := newFixture(t)
		f.putUser(&models.User{ID: "A", ReferredByID: "B"})
		f.putUser(&models.User{ID: "B", ReferredByID: "A"})

		f.deposit("A", "100")

		assert.True(t, dec("100").Equal(f.user("A").BalanceUSD), "depositor is never paid for their own deposit")
		assert.True(t, dec("5").Equal(f.user("B").BalanceUSD))
	})
}

func TestReferral_BRLMirrorScaled(t *testing.T) {
	f := newFixture(t)
	f.chain("A", "B")

	req, err := f.settlement.AddTransaction(f.ctx, &AddTransactionInput{
		UserID: "A", Type: types.TxDeposit, AmountUSD: dec("200"), AmountBRL: decimal.NewNullDecimal(dec("1000")),
	})
	require.NoError(t, err)
	_, err = f.settlement.SettleTransaction(f.ctx, req.ID, types.StatusCompleted, adminID)
	require.NoError(t, err)

	bonus := f.bonusesFor("B")
	require.Len(t, bonus, 1)
	require.True(t, bonus[0].AmountBRL.Valid)
	assert.True(t, dec("50").Equal(bonus[0].AmountBRL.Decimal))
}

func TestPayoutReferralBonus_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.chain("A", "B", "C")
	// completed before the payout flag existed
	dep := f.putTransaction(&models.Transaction{
		ID: "dep", UserID: "A", Type: types.TxDeposit, AmountUSD: dec("1000"), Status: types.StatusCompleted,
	})

	res, err := f.referral.PayoutReferralBonus(f.ctx, dep.ID, adminID)
	require.NoError(t, err)
	assert.Len(t, res.Bonuses, 2)
	after := f.store.Snapshot()

	_, err = f.referral.PayoutReferralBonus(f.ctx, dep.ID, adminID)
	assert.True(t, errors.HasCode(err, errors.CodeBonusAlreadyHandled))
	assert.Equal(t, after, f.store.Snapshot())

	assert.True(t, dec("50").Equal(f.user("B").BalanceUSD))
	assert.True(t, f.transaction(dep.ID).BonusPayoutHandled)

	logs, err := f.users.ListAdminLogs(f.ctx, adminID, 1)
	require.NoError(t, err)
	assert.Equal(t, types.ActionBonusPayout, logs[0].ActionType)
}

func TestPayoutReferralBonus_AfterSettlementIsAlreadyHandled(t *testing.T) {
	f := newFixture(t)
	f.chain("A", "B")
	dep := f.deposit("A", "100")

	_, err := f.referral.PayoutReferralBonus(f.ctx, dep.ID, adminID)
	assert.True(t, errors.HasCode(err, errors.CodeBonusAlreadyHandled))
	assert.True(t, dec("5").Equal(f.user("B").BalanceUSD))
}

func TestPayoutReferralBonus_OnlyFirstDeposit(t *testing.T) {
	f := newFixture(t)
	f.chain("A", "B")
	day := models.Day(f.now)

	f.putTransaction(&models.Transaction{
		ID: "first", UserID: "A", Type: types.TxDeposit, AmountUSD: dec("100"), Status: types.StatusCompleted,
		Date: models.Day(f.now.Add(-48 * time.Hour)),
	})
	f.putTransaction(&models.Transaction{
		ID: "second", UserID: "A", Type: types.TxDeposit, AmountUSD: dec("900"), Status: types.StatusCompleted,
		Date: day,
	})
	f.putTransaction(&models.Transaction{
		ID: "pending", UserID: "A", Type: types.TxDeposit, AmountUSD: dec("5"), Status: types.StatusPending,
	})
	f.putTransaction(&models.Transaction{
		ID: "wd", UserID: "A", Type: types.TxWithdrawal, AmountUSD: dec("-5"), Status: types.StatusCompleted,
	})

	_, err := f.referral.PayoutReferralBonus(f.ctx, "second", adminID)
	assert.True(t, errors.HasCode(err, errors.CodeBonusNotEligible))

	_, err = f.referral.PayoutReferralBonus(f.ctx, "pending", adminID)
	assert.True(t, errors.HasCode(err, errors.CodeBonusNotEligible))

	_, err = f.referral.PayoutReferralBonus(f.ctx, "wd", adminID)
	assert.True(t, errors.HasCode(err, errors.CodeBonusNotEligible))

	_, err = f.referral.PayoutReferralBonus(f.ctx, "missing", adminID)
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))

	_, err = f.referral.PayoutReferralBonus(f.ctx, "first", "A")
	assert.True(t, errors.HasCode(err, errors.CodeForbidden))

	res, err := f.referral.PayoutReferralBonus(f.ctx, "first", adminID)
	require.NoError(t, err)
	require.Len(t, res.Bonuses, 1)
	assert.True(t, dec("5").Equal(res.Bonuses[0].AmountUSD))
}

func TestPayoutReferralBonus_SameDayOrderedByCreation(t *testing.T) {
	f := newFixture(t)
	f.chain("A", "B")

	f.putTransaction(&models.Transaction{
		ID: "z-early", UserID: "A", Type: types.TxDeposit, AmountUSD: dec("100"), Status: types.StatusCompleted,
		CreatedAt: models.NewTimestamp(f.now.Add(-time.Hour)),
	})
	f.putTransaction(&models.Transaction{
		ID: "a-late", UserID: "A", Type: types.TxDeposit, AmountUSD: dec("100"), Status: types.StatusCompleted,
		CreatedAt: models.NewTimestamp(f.now),
	})

	_, err := f.referral.PayoutReferralBonus(f.ctx, "a-late", adminID)
	assert.True(t, errors.HasCode(err, errors.CodeBonusNotEligible))
	_, err = f.referral.PayoutReferralBonus(f.ctx, "z-early", adminID)
	assert.NoError(t, err)
}
