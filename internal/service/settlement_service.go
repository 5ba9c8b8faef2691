package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/referral-ledger/internal/errors"
	"github.com/referral-ledger/internal/ledger"
	"github.com/referral-ledger/internal/logging"
	"github.com/referral-ledger/internal/metrics"
	"github.com/referral-ledger/internal/models"
	"github.com/referral-ledger/internal/types"
	"github.com/shopspring/decimal"
)

// SettlementService validates deposit/withdrawal requests and settles them
type SettlementService struct {
	store    *ledger.Store
	cfg      EngineConfig
	referral *ReferralService
	notifier *Notifier
	logger   *logging.Logger
}

// NewSettlementService creates a new settlement service
func NewSettlementService(
	store *ledger.Store,
	cfg EngineConfig,
	referral *ReferralService,
	logger *logging.Logger,
) *SettlementService {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &SettlementService{
		store:    store,
		cfg:      cfg,
		referral: referral,
		notifier: NewNotifier(cfg.now),
		logger:   logger.Component("settlement_engine"),
	}
}

// AddTransactionInput represents a deposit or withdrawal request
type AddTransactionInput struct {
	UserID            string                    `json:"userId"`
	Type              types.TransactionType     `json:"type"`
	AmountUSD         decimal.Decimal           `json:"amountUSD"`
	AmountBRL         decimal.NullDecimal       `json:"amountBRL"`
	WithdrawalDetails *models.WithdrawalDetails `json:"withdrawalDetails,omitempty"`
}

// SettlementResult describes the outcome of a settle call
type SettlementResult struct {
	Transaction *models.Transaction   `json:"transaction"`
	Changed     bool                  `json:"changed"`
	Bonuses     []*models.Transaction `json:"bonuses,omitempty"`
}

// AddTransaction records a pending deposit or withdrawal request. Balances are
// not touched until an admin settles it.
func (s *SettlementService) AddTransaction(ctx context.Context, input *AddTransactionInput) (*models.Transaction, error) {
	if err := validateTransactionInput(input); err != nil {
		return nil, err
	}

	var created *models.Transaction
	err := s.store.Update(ctx, func(tx *ledger.Txn) error {
		owner, ok := tx.User(input.UserID)
		if !ok {
			return errors.NewNotFoundError("user", input.UserID)
		}

		now := s.cfg.now()
		amount := input.AmountUSD
		brl := input.AmountBRL

		if input.Type == types.TxWithdrawal {
			amount = amount.Abs().Neg()
			if brl.Valid {
				brl.Decimal = brl.Decimal.Abs().Neg()
			}
			if err := s.checkWithdrawal(tx, owner, amount.Abs(), models.Day(now)); err != nil {
				return err
			}
		}

		created = &models.Transaction{
			ID:                 newID(),
			UserID:             owner.ID,
			Type:               input.Type,
			AmountUSD:          amount,
			AmountBRL:          brl,
			Status:             types.StatusPending,
			Date:               models.Day(now),
			CreatedAt:          models.NewTimestamp(now),
			BonusPayoutHandled: false,
		}
		if input.Type == types.TxWithdrawal && input.WithdrawalDetails != nil {
			d := *input.WithdrawalDetails
			created.WithdrawalDetails = &d
		}
		tx.PutTransaction(created)

		s.notifier.NotifyAdmins(tx, fmt.Sprintf("New %s request of %s from %s.",
			strings.ToLower(string(input.Type)), formatUSD(amount.Abs()), owner.Name))
		return nil
	})
	if err != nil {
		if input.Type == types.TxWithdrawal {
			if catErr := errors.Categorize(err); catErr.Category == errors.CategoryValidation {
				metrics.RecordWithdrawalRejection(catErr.Code)
			}
		}
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"transactionId": created.ID,
		"userId":        created.UserID,
		"type":          created.Type,
		"amountUSD":     created.AmountUSD.String(),
	}).Info("transaction requested")
	return created, nil
}

func validateTransactionInput(input *AddTransactionInput) error {
	if input == nil {
		return errors.NewInvalidParameterError("body", "request is required")
	}
	if input.UserID == "" {
		return errors.NewInvalidParameterError("userId", "user id is required")
	}
	if !input.Type.Requestable() {
		return errors.NewInvalidParameterError("type", "only Deposit and Withdrawal can be requested")
	}
	if input.AmountUSD.IsZero() {
		return errors.NewInvalidParameterError("amountUSD", "amount must be non-zero")
	}
	if input.Type == types.TxDeposit && input.AmountUSD.IsNegative() {
		return errors.NewInvalidParameterError("amountUSD", "deposit amount must be positive")
	}
	if input.Type == types.TxDeposit && input.AmountBRL.Valid && input.AmountBRL.Decimal.IsNegative() {
		return errors.NewInvalidParameterError("amountBRL", "deposit amount must be positive")
	}
	return nil
}

// checkWithdrawal enforces one withdrawal request per day and the withdrawable bucket
func (s *SettlementService) checkWithdrawal(tx *ledger.Txn, owner *models.User, requested decimal.Decimal, today models.Timestamp) error {
	existing := tx.Transactions(func(t *models.Transaction) bool {
		return t.UserID == owner.ID &&
			t.Type == types.TxWithdrawal &&
			t.Status != types.StatusFailed &&
			t.Date.SameDay(today)
	})
	if len(existing) > 0 {
		return errors.NewWithdrawalAlreadyRequestedError(owner.ID, today.Time().Format(models.DateLayout))
	}

	if requested.GreaterThan(owner.DailyWithdrawableUSD.Add(s.cfg.WithdrawalTolerance)) {
		return errors.NewInsufficientWithdrawableError(requested.StringFixed(2), owner.DailyWithdrawableUSD.StringFixed(2))
	}
	return nil
}

// SettleTransaction moves a pending transaction to Completed or Failed. Settling
// to the current status is a no-op; settling a finalized transaction is rejected.
func (s *SettlementService) SettleTransaction(
	ctx context.Context,
	transactionID string,
	target types.TransactionStatus,
	adminID string,
) (*SettlementResult, error) {
	if target != types.StatusCompleted && target != types.StatusFailed {
		return nil, errors.NewInvalidParameterError("status", "target status must be Completed or Failed")
	}

	result := &SettlementResult{}
	err := s.store.Update(ctx, func(tx *ledger.Txn) error {
		admin, err := requireAdmin(tx, adminID)
		if err != nil {
			return err
		}

		t, ok := tx.Transaction(transactionID)
		if !ok {
			return errors.NewNotFoundError("transaction", transactionID)
		}
		result.Transaction = t

		if t.Status == target {
			return nil
		}
		if t.Status.Terminal() {
			return errors.NewAlreadyFinalizedError(t.ID, t.Status)
		}

		owner, ok := tx.User(t.UserID)
		if !ok {
			return errors.NewNotFoundError("user", t.UserID)
		}

		if target == types.StatusCompleted {
			if err := s.complete(tx, t, owner, result); err != nil {
				return err
			}
		} else {
			t.Status = types.StatusFailed
			tx.PutTransaction(t)
		}

		s.notifyOwnerAndAudit(tx, admin, owner, t)
		result.Changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Changed {
		metrics.RecordSettlement(string(result.Transaction.Type), string(result.Transaction.Status))
		recordBonuses(result.Bonuses)
		s.logger.WithFields(map[string]interface{}{
			"transactionId": transactionID,
			"status":        result.Transaction.Status,
			"adminId":       adminID,
			"bonuses":       len(result.Bonuses),
		}).Info("transaction settled")
	}
	return result, nil
}

// complete applies the balance effect of t to owner, then runs the referral
// engine for a deposit whose payout has not happened yet.
func (s *SettlementService) complete(tx *ledger.Txn, t *models.Transaction, owner *models.User, result *SettlementResult) error {
	switch t.Type {
	case types.TxDeposit:
		owner.CapitalInvestedUSD = owner.CapitalInvestedUSD.Add(t.AmountUSD)
		owner.BalanceUSD = owner.BalanceUSD.Add(t.AmountUSD)
	case types.TxWithdrawal:
		balance := owner.BalanceUSD.Add(t.AmountUSD)
		if balance.IsNegative() {
			return errors.NewInsufficientBalanceError(owner.ID, t.AmountUSD.Abs().StringFixed(2), owner.BalanceUSD.StringFixed(2))
		}
		owner.BalanceUSD = balance
		owner.DailyWithdrawableUSD = decimal.Max(decimal.Zero, owner.DailyWithdrawableUSD.Add(t.AmountUSD))
	}

	t.Status = types.StatusCompleted
	tx.PutTransaction(t)

	ledger.Recompute(owner, s.cfg.Plans)
	tx.PutUser(owner)

	if t.Type == types.TxDeposit && !t.BonusPayoutHandled {
		result.Bonuses = s.referral.PayBonuses(tx, t)
		t.BonusPayoutHandled = true
		tx.PutTransaction(t)
	}
	return nil
}

func (s *SettlementService) notifyOwnerAndAudit(tx *ledger.Txn, admin, owner *models.User, t *models.Transaction) {
	kind := strings.ToLower(string(t.Type))
	amount := formatUSD(t.AmountUSD.Abs())

	action := types.ActionTransactionApprove
	verb := "approved"
	if t.Status == types.StatusFailed {
		action = types.ActionTransactionReject
		verb = "rejected"
	}

	s.notifier.Notify(tx, owner.ID, fmt.Sprintf("Your %s of %s was %s.", kind, amount, verb))
	s.notifier.Audit(tx, admin, action,
		fmt.Sprintf("%s %s the %s of %s for %s", admin.Name, verb, kind, amount, owner.Name), t.ID)
}
