package service

import (
	"context"
	"fmt"
	"time"

	"github.com/referral-ledger/internal/errors"
	"github.com/referral-ledger/internal/ledger"
	"github.com/referral-ledger/internal/logging"
	"github.com/referral-ledger/internal/metrics"
	"github.com/referral-ledger/internal/models"
	"github.com/referral-ledger/internal/types"
	"github.com/shopspring/decimal"
)

// ReferralService pays multi-level referral bonuses on qualifying deposits
type ReferralService struct {
	store    *ledger.Store
	cfg      EngineConfig
	notifier *Notifier
	logger   *logging.Logger
}

// NewReferralService creates a new referral service
func NewReferralService(store *ledger.Store, cfg EngineConfig, logger *logging.Logger) *ReferralService {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &ReferralService{
		store:    store,
		cfg:      cfg,
		notifier: NewNotifier(cfg.now),
		logger:   logger.Component("referral_engine"),
	}
}

// BonusPayoutResult describes a manual bonus payout
type BonusPayoutResult struct {
	DepositID string                `json:"depositId"`
	Bonuses   []*models.Transaction `json:"bonuses"`
}

// PayBonuses walks the depositor's up-line inside tx and credits each referrer.
// It never touches the deposit's BonusPayoutHandled flag; callers own the
// one-shot guard. Missing, dangling and cyclic references end the walk.
func (s *ReferralService) PayBonuses(tx *ledger.Txn, deposit *models.Transaction) []*models.Transaction {
	log := s.logger.WithField("depositId", deposit.ID)

	current, ok := tx.User(deposit.UserID)
	if !ok {
		log.WithField("userId", deposit.UserID).Warn("depositor not found, no referral bonuses paid")
		return nil
	}
	depositor := current

	now := s.cfg.now()
	visited := map[string]bool{current.ID: true}
	var bonuses []*models.Transaction

	for level := 1; level <= ledger.MaxReferralDepth; level++ {
		referrerID := current.ReferredByID
		if referrerID == "" {
			break
		}
		if visited[referrerID] {
			log.WithFields(map[string]interface{}{
				"userId":     current.ID,
				"referrerId": referrerID,
				"level":      level,
			}).Warn("referral cycle detected, stopping bonus walk")
			break
		}
		referrer, ok := tx.User(referrerID)
		if !ok {
			log.WithFields(map[string]interface{}{
				"userId":     current.ID,
				"referrerId": referrerID,
				"level":      level,
			}).Warn("dangling referrer reference, stopping bonus walk")
			break
		}
		visited[referrerID] = true

		rate := s.cfg.Rates.Rate(level)
		if rate.IsPositive() {
			bonus := s.creditReferrer(tx, referrer, depositor, deposit, level, rate, now)
			bonuses = append(bonuses, bonus)
		}

		current = referrer
	}

	return bonuses
}

func (s *ReferralService) creditReferrer(
	tx *ledger.Txn,
	referrer, depositor *models.User,
	deposit *models.Transaction,
	level int,
	rate decimal.Decimal,
	now time.Time,
) *models.Transaction {
	amount := deposit.AmountUSD.Mul(rate)

	bonus := &models.Transaction{
		ID:                 newID(),
		UserID:             referrer.ID,
		Type:               types.TxBonus,
		AmountUSD:          amount,
		Status:             types.StatusCompleted,
		Date:               models.Day(now),
		CreatedAt:          models.NewTimestamp(now),
		ReferralLevel:      level,
		SourceUserID:       depositor.ID,
		BonusPayoutHandled: true,
	}
	if deposit.AmountBRL.Valid {
		bonus.AmountBRL = decimal.NewNullDecimal(deposit.AmountBRL.Decimal.Mul(rate))
	}
	tx.PutTransaction(bonus)

	referrer.BalanceUSD = referrer.BalanceUSD.Add(amount)
	referrer.BonusBalanceUSD = referrer.BonusBalanceUSD.Add(amount)
	ledger.Recompute(referrer, s.cfg.Plans)
	tx.PutUser(referrer)

	s.notifier.Notify(tx, referrer.ID, fmt.Sprintf(
		"You received a level %d referral bonus of %s from %s's deposit.",
		level, formatUSD(amount), depositor.Name))

	return bonus
}

// PayoutReferralBonus runs the bonus engine for a completed deposit whose payout
// never happened. Only the depositor's first completed deposit qualifies.
func (s *ReferralService) PayoutReferralBonus(ctx context.Context, depositID, adminID string) (*BonusPayoutResult, error) {
	result := &BonusPayoutResult{DepositID: depositID}

	err := s.store.Update(ctx, func(tx *ledger.Txn) error {
		admin, err := requireAdmin(tx, adminID)
		if err != nil {
			return err
		}

		deposit, ok := tx.Transaction(depositID)
		if !ok {
			return errors.NewNotFoundError("transaction", depositID)
		}
		if deposit.Type != types.TxDeposit {
			return errors.NewBonusNotEligibleError(depositID, "transaction is not a deposit")
		}
		if deposit.Status != types.StatusCompleted {
			return errors.NewBonusNotEligibleError(depositID, "deposit is not completed")
		}
		if deposit.BonusPayoutHandled {
			return errors.NewBonusAlreadyHandledError(depositID)
		}
		if first := firstCompletedDeposit(tx, deposit.UserID); first == nil || first.ID != deposit.ID {
			return errors.NewBonusNotEligibleError(depositID, "only the depositor's first completed deposit earns referral bonuses")
		}

		result.Bonuses = s.PayBonuses(tx, deposit)
		deposit.BonusPayoutHandled = true
		tx.PutTransaction(deposit)

		depositorName := deposit.UserID
		if depositor, ok := tx.User(deposit.UserID); ok {
			depositorName = depositor.Name
		}
		s.notifier.Audit(tx, admin, types.ActionBonusPayout, fmt.Sprintf(
			"%s paid referral bonuses for the %s deposit of %s (%d payments)",
			admin.Name, formatUSD(deposit.AmountUSD), depositorName, len(result.Bonuses)), deposit.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordBonuses(result.Bonuses)
	s.logger.WithFields(map[string]interface{}{
		"depositId": depositID,
		"adminId":   adminID,
		"bonuses":   len(result.Bonuses),
	}).Info("manual referral payout completed")
	return result, nil
}

// firstCompletedDeposit returns the user's earliest completed deposit by date, then creation time
func firstCompletedDeposit(tx *ledger.Txn, userID string) *models.Transaction {
	var first *models.Transaction
	for _, t := range tx.Transactions(func(t *models.Transaction) bool {
		return t.UserID == userID && t.Type == types.TxDeposit && t.Status == types.StatusCompleted
	}) {
		if first == nil || t.Before(first) {
			first = t
		}
	}
	return first
}

func recordBonuses(bonuses []*models.Transaction) {
	for _, b := range bonuses {
		metrics.RecordBonusPayout(b.ReferralLevel, b.AmountUSD)
	}
}
