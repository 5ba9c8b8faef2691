package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/referral-ledger/internal/config"
	"github.com/referral-ledger/internal/models"
	"github.com/referral-ledger/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresURL(t *testing.T) {
	url := PostgresURL(&config.PostgresConfig{
		Host: "db", Port: "5432", Database: "ledger", User: "app", Password: "p@ss word",
	})
	assert.Equal(t, "postgres://app:p%40ss%20word@db:5432/ledger?sslmode=disable", url)
}

func TestSplitSQLStatements(t *testing.T) {
	content := `-- archive tables
CREATE TABLE a (
    id String
) ENGINE = MergeTree ORDER BY id;

-- second
CREATE TABLE b (id String) ENGINE = MergeTree ORDER BY id;
SELECT 1`

	stmts := splitSQLStatements(content)
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.NotContains(t, stmts[0], ";")
	assert.Equal(t, "CREATE TABLE b (id String) ENGINE = MergeTree ORDER BY id", stmts[1])
	assert.Equal(t, "SELECT 1", stmts[2])
}

func TestRemoteRepository_RoundTrip(t *testing.T) {
	db := requirePostgres(t)
	ctx := testContext(t)
	repo := NewRemoteRepository(db)

	now := time.Now().UTC().Truncate(time.Second)
	u := &models.User{
		ID: uuid.NewString(), Email: uuid.NewString() + "@example.com", Name: "Ana", Role: types.RoleInvestor,
		BalanceUSD: decimal.RequireFromString("1234.5"), Rank: types.RankSilver, Plan: "Moderado",
		Status: types.UserApproved, ReferralCode: uuid.NewString()[:8], JoinedDate: models.NewTimestamp(now),
	}
	require.NoError(t, repo.UpsertUser(ctx, u))

	u.BalanceUSD = decimal.RequireFromString("2000")
	require.NoError(t, repo.UpsertUser(ctx, u))

	tx := &models.Transaction{
		ID: uuid.NewString(), UserID: u.ID, Type: types.TxWithdrawal, AmountUSD: decimal.RequireFromString("-10"),
		Status: types.StatusPending, Date: models.Day(now), CreatedAt: models.NewTimestamp(now),
		WithdrawalDetails: &models.WithdrawalDetails{Method: types.PayoutPix, PixKey: "ana@pix"},
	}
	require.NoError(t, repo.UpsertTransaction(ctx, tx))

	snap, err := repo.LoadSnapshot(ctx)
	require.NoError(t, err)

	var found *models.User
	for _, su := range snap.Users {
		if su.ID == u.ID {
			found = su
		}
	}
	require.NotNil(t, found)
	assert.True(t, decimal.RequireFromString("2000").Equal(found.BalanceUSD))
	assert.Equal(t, now, found.JoinedDate.Time())
	assert.False(t, found.LastProfitUpdate.IsSet())

	var foundTx *models.Transaction
	for _, st := range snap.Transactions {
		if st.ID == tx.ID {
			foundTx = st
		}
	}
	require.NotNil(t, foundTx)
	require.NotNil(t, foundTx.WithdrawalDetails)
	assert.Equal(t, "ana@pix", foundTx.WithdrawalDetails.PixKey)
	assert.False(t, foundTx.AmountBRL.Valid)
}
