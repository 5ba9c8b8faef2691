// Package service implements the ledger engines: settlement, referral bonuses,
// profit accrual and account management.
package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/referral-ledger/internal/config"
	"github.com/referral-ledger/internal/errors"
	"github.com/referral-ledger/internal/ledger"
	"github.com/referral-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// Clock returns the current time. Engines never call time.Now directly.
type Clock func() time.Time

// EngineConfig holds the business tables and limits shared by the engines
type EngineConfig struct {
	Plans               *ledger.PlanTable
	Rates               ledger.ReferralRates
	WithdrawalTolerance decimal.Decimal
	MaxCatchUpDays      int
	PlanChangeCooldown  time.Duration
	Clock               Clock
}

// DefaultEngineConfig returns the built-in tables and limits
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Plans:               ledger.DefaultPlanTable(),
		Rates:               ledger.DefaultReferralRates(),
		WithdrawalTolerance: decimal.RequireFromString("0.01"),
		MaxCatchUpDays:      60,
		PlanChangeCooldown:  30 * 24 * time.Hour,
		Clock:               time.Now,
	}
}

// EngineConfigFromConfig builds the engine tables from application config
func EngineConfigFromConfig(cfg config.LedgerConfig) (EngineConfig, error) {
	plans, err := ledger.PlanTableFromConfig(cfg.Plans)
	if err != nil {
		return EngineConfig{}, err
	}
	return EngineConfig{
		Plans:               plans,
		Rates:               ledger.NewReferralRates(cfg.ReferralRates),
		WithdrawalTolerance: cfg.WithdrawalTolerance,
		MaxCatchUpDays:      cfg.MaxCatchUpDays,
		PlanChangeCooldown:  cfg.PlanChangeCooldown,
		Clock:               time.Now,
	}, nil
}

func (c EngineConfig) now() time.Time {
	if c.Clock == nil {
		return time.Now().UTC()
	}
	return c.Clock().UTC()
}

func newID() string {
	return uuid.NewString()
}

// requireAdmin resolves the acting admin inside tx
func requireAdmin(tx *ledger.Txn, adminID string) (*models.User, error) {
	admin, ok := tx.User(adminID)
	if !ok || !admin.IsAdmin() {
		return nil, errors.NewForbiddenError(fmt.Sprintf("user %q is not an administrator", adminID))
	}
	return admin, nil
}

// formatUSD renders an amount for notifications and audit descriptions
func formatUSD(amount decimal.Decimal) string {
	return "$" + amount.StringFixed(2)
}
