package models

import (
	"github.com/referral-ledger/internal/types"
	"github.com/shopspring/decimal"
)

// WithdrawalDetails describes where a withdrawal should be paid out
type WithdrawalDetails struct {
	Method        types.PayoutMethod `json:"method"`
	PixKey        string             `json:"pixKey,omitempty"`
	BankName      string             `json:"bankName,omitempty"`
	AccountNumber string             `json:"accountNumber,omitempty"`
	WalletAddress string             `json:"walletAddress,omitempty"`
}

// Transaction is a record of money movement. Once Completed it is never mutated again.
type Transaction struct {
	ID        string                  `json:"id" db:"id"`
	UserID    string                  `json:"userId" db:"user_id"`
	Type      types.TransactionType   `json:"type" db:"type"`
	AmountUSD decimal.Decimal         `json:"amountUSD" db:"amount_usd"` // negative for withdrawals
	AmountBRL decimal.NullDecimal     `json:"amountBRL" db:"amount_brl"`
	Status    types.TransactionStatus `json:"status" db:"status"`
	Date      Timestamp               `json:"date" db:"date"` // calendar day, UTC midnight
	CreatedAt Timestamp               `json:"createdAt" db:"created_at"`

	ReferralLevel int    `json:"referralLevel,omitempty" db:"referral_level"`
	SourceUserID  string `json:"sourceUserId,omitempty" db:"source_user_id"`

	// BonusPayoutHandled is set once a deposit's referral payout ran, and on
	// every bonus row so it is never processed as a deposit.
	BonusPayoutHandled bool `json:"bonusPayoutHandled" db:"bonus_payout_handled"`

	WithdrawalDetails *WithdrawalDetails `json:"withdrawalDetails,omitempty" db:"withdrawal_details"`
}

// Clone returns a copy safe to mutate independently
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.WithdrawalDetails != nil {
		d := *t.WithdrawalDetails
		c.WithdrawalDetails = &d
	}
	return &c
}

// Before orders transactions chronologically by date, then creation time, then id
func (t *Transaction) Before(other *Transaction) bool {
	if !t.Date.Time().Equal(other.Date.Time()) {
		return t.Date.Time().Before(other.Date.Time())
	}
	if !t.CreatedAt.Time().Equal(other.CreatedAt.Time()) {
		return t.CreatedAt.Time().Before(other.CreatedAt.Time())
	}
	return t.ID < other.ID
}
