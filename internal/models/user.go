package models

import (
	"strings"

	"github.com/referral-ledger/internal/types"
	"github.com/shopspring/decimal"
)

// User represents an investor or the administrator account
type User struct {
	ID           string         `json:"id" db:"id"`
	Email        string         `json:"email" db:"email"`
	PasswordHash string         `json:"passwordHash,omitempty" db:"password_hash"`
	Name         string         `json:"name" db:"name"`
	Role         types.UserRole `json:"role" db:"role"`

	BalanceUSD           decimal.Decimal `json:"balanceUSD" db:"balance_usd"`
	CapitalInvestedUSD   decimal.Decimal `json:"capitalInvestedUSD" db:"capital_invested_usd"`
	MonthlyProfitUSD     decimal.Decimal `json:"monthlyProfitUSD" db:"monthly_profit_usd"`
	DailyWithdrawableUSD decimal.Decimal `json:"dailyWithdrawableUSD" db:"daily_withdrawable_usd"`
	BonusBalanceUSD      decimal.Decimal `json:"bonusBalanceUSD" db:"bonus_balance_usd"`

	Rank   types.Rank       `json:"rank" db:"rank"`
	Plan   string           `json:"plan" db:"plan"`
	Status types.UserStatus `json:"status" db:"status"`

	ReferralCode string `json:"referralCode" db:"referral_code"`
	// ReferredByID is a lookup-only reference; the referrer may not exist.
	ReferredByID string `json:"referredById,omitempty" db:"referred_by_id"`

	JoinedDate         Timestamp `json:"joinedDate" db:"joined_date"`
	LastProfitUpdate   Timestamp `json:"lastProfitUpdate" db:"last_profit_update"`
	LastPlanChangeDate Timestamp `json:"lastPlanChangeDate" db:"last_plan_change_date"`
}

// IsAdmin reports whether the user is the administrator account
func (u *User) IsAdmin() bool {
	return u.Role == types.RoleAdmin
}

// NormalizeEmail lowercases and trims an email for uniqueness checks
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Clone returns a copy safe to mutate independently
func (u *User) Clone() *User {
	c := *u
	return &c
}

// Public returns a copy without credentials, for API responses
func (u *User) Public() *User {
	c := u.Clone()
	c.PasswordHash = ""
	return c
}
