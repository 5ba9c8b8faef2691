// Package ledger holds the authoritative in-memory ledger snapshot and the pure
// derivation rules every engine applies to it.
package ledger

import (
	"github.com/referral-ledger/internal/models"
	"github.com/referral-ledger/internal/types"
	"github.com/shopspring/decimal"
)

// rankThresholds are inclusive lower bounds, highest first
var rankThresholds = []struct {
	min  decimal.Decimal
	rank types.Rank
}{
	{decimal.NewFromInt(100000), types.RankDiamond},
	{decimal.NewFromInt(20000), types.RankPlatinum},
	{decimal.NewFromInt(5000), types.RankGold},
	{decimal.NewFromInt(1000), types.RankSilver},
}

// RankFromBalance derives the rank tier for a balance
func RankFromBalance(balance decimal.Decimal) types.Rank {
	for _, th := range rankThresholds {
		if balance.GreaterThanOrEqual(th.min) {
			return th.rank
		}
	}
	return types.RankBronze
}

// Recompute refreshes the derived rank and monthly profit of u.
// Call it after every change to a user's balance or plan.
func Recompute(u *models.User, plans *PlanTable) {
	u.Rank = RankFromBalance(u.BalanceUSD)
	u.MonthlyProfitUSD = plans.MonthlyProfit(u.BalanceUSD, u.Plan)
}

// Consistent reports whether the derived fields of u match its balance and plan
func Consistent(u *models.User, plans *PlanTable) bool {
	return u.Rank == RankFromBalance(u.BalanceUSD) &&
		u.MonthlyProfitUSD.Equal(plans.MonthlyProfit(u.BalanceUSD, u.Plan))
}
