package service

import (
	"context"
	"time"

	"github.com/referral-ledger/internal/errors"
	"github.com/referral-ledger/internal/ledger"
	"github.com/referral-ledger/internal/logging"
	"github.com/referral-ledger/internal/metrics"
	"github.com/referral-ledger/internal/models"
	"github.com/referral-ledger/internal/types"
	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

// daysPerMonth converts monthly profit into daily profit
var daysPerMonth = decimal.NewFromInt(30)

// AccrualService converts elapsed days into realized, withdrawable profit
type AccrualService struct {
	store  *ledger.Store
	cfg    EngineConfig
	logger *logging.Logger
}

// NewAccrualService creates a new accrual service
func NewAccrualService(store *ledger.Store, cfg EngineConfig, logger *logging.Logger) *AccrualService {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &AccrualService{
		store:  store,
		cfg:    cfg,
		logger: logger.Component("accrual_engine"),
	}
}

// AccrualResult describes one accrual attempt for one user
type AccrualResult struct {
	UserID    string           `json:"userId"`
	Result    string           `json:"result"`
	Days      int              `json:"days"`
	ProfitUSD decimal.Decimal  `json:"profitUSD"`
	Anchor    models.Timestamp `json:"anchor"`
}

// Applied reports whether profit was added
func (r *AccrualResult) Applied() bool {
	return r.Result == metrics.AccrualApplied
}

// AccrualSummary aggregates one scheduler pass
type AccrualSummary struct {
	Users     int             `json:"users"`
	Applied   int             `json:"applied"`
	Skipped   int             `json:"skipped"`
	Failed    int             `json:"failed"`
	ProfitUSD decimal.Decimal `json:"profitUSD"`
}

// AccrueProfit credits whole elapsed days of profit since the user's anchor.
// Catch-up is capped at MaxCatchUpDays per call and the anchor advances by the
// credited days only, so the remainder is paid on later calls. A corrupt anchor
// skips the cycle without touching the user.
func (s *AccrualService) AccrueProfit(ctx context.Context, userID string, now time.Time) (*AccrualResult, error) {
	result := &AccrualResult{UserID: userID, ProfitUSD: decimal.Zero}

	err := s.store.Update(ctx, func(tx *ledger.Txn) error {
		u, ok := tx.User(userID)
		if !ok {
			return errors.NewNotFoundError("user", userID)
		}

		anchor := u.LastProfitUpdate
		if !anchor.IsSet() {
			anchor = u.JoinedDate
		}
		result.Anchor = anchor

		if !anchor.Valid() {
			result.Result = metrics.AccrualInvalidAnchor
			s.logger.WithFields(map[string]interface{}{
				"userId": userID,
				"anchor": anchor.String(),
			}).Warn("invalid accrual anchor, skipping cycle")
			return nil
		}

		if u.Status != types.UserApproved {
			result.Result = metrics.AccrualInactive
			return nil
		}

		diffDays := int(now.Sub(anchor.Time()) / day)
		if diffDays < 1 {
			result.Result = metrics.AccrualNotDue
			return nil
		}

		validDays := diffDays
		if validDays > s.cfg.MaxCatchUpDays {
			validDays = s.cfg.MaxCatchUpDays
		}

		profit := u.MonthlyProfitUSD.Mul(decimal.NewFromInt(int64(validDays))).Div(daysPerMonth)

		u.DailyWithdrawableUSD = u.DailyWithdrawableUSD.Add(profit)
		u.BalanceUSD = u.BalanceUSD.Add(profit)
		ledger.Recompute(u, s.cfg.Plans)
		u.LastProfitUpdate = models.NewTimestamp(anchor.Time().Add(time.Duration(validDays) * day))
		tx.PutUser(u)

		result.Result = metrics.AccrualApplied
		result.Days = validDays
		result.ProfitUSD = profit
		result.Anchor = u.LastProfitUpdate
		return nil
	})
	if err != nil {
		metrics.RecordAccrual(metrics.AccrualError)
		return nil, err
	}

	metrics.RecordAccrual(result.Result)
	if result.Applied() {
		s.logger.WithFields(map[string]interface{}{
			"userId":    userID,
			"days":      result.Days,
			"profitUSD": result.ProfitUSD.String(),
		}).Debug("profit accrued")
	}
	return result, nil
}

// AccrueAll runs AccrueProfit for every approved investor. A failure for one user
// is logged and does not stop the pass.
func (s *AccrualService) AccrueAll(ctx context.Context, now time.Time) (*AccrualSummary, error) {
	var userIDs []string
	if err := s.store.View(func(tx *ledger.Txn) error {
		for _, u := range tx.Users(func(u *models.User) bool { return u.Status == types.UserApproved && !u.IsAdmin() }) {
			userIDs = append(userIDs, u.ID)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	summary := &AccrualSummary{Users: len(userIDs), ProfitUSD: decimal.Zero}
	for _, id := range userIDs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		result, err := s.AccrueProfit(ctx, id, now)
		if err != nil {
			summary.Failed++
			s.logger.WithError(err).WithField("userId", id).Error("accrual failed")
			continue
		}
		if result.Applied() {
			summary.Applied++
			summary.ProfitUSD = summary.ProfitUSD.Add(result.ProfitUSD)
		} else {
			summary.Skipped++
		}
	}
	return summary, nil
}
