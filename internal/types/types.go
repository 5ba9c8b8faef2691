// Package types provides common type definitions for the referral ledger.
package types

// UserRole distinguishes investors from the administrator account
type UserRole string

const (
	// RoleInvestor is a regular investor account
	RoleInvestor UserRole = "user"
	// RoleAdmin is the administrator account
	RoleAdmin UserRole = "admin"
)

// UserStatus represents the review state of an account
type UserStatus string

const (
	// UserPending is an account awaiting admin review
	UserPending UserStatus = "Pending"
	// UserApproved is an active account; only approved accounts accrue profit
	UserApproved UserStatus = "Approved"
	// UserRejected is an account refused by the admin
	UserRejected UserStatus = "Rejected"
)

// Rank is the tier derived from a user's total balance
type Rank string

const (
	RankBronze   Rank = "Bronze"
	RankSilver   Rank = "Silver"
	RankGold     Rank = "Gold"
	RankPlatinum Rank = "Platinum"
	RankDiamond  Rank = "Diamond"
)

// TransactionType represents the kind of money movement
type TransactionType string

const (
	// TxDeposit is money entering the platform, credited to capital and balance
	TxDeposit TransactionType = "Deposit"
	// TxWithdrawal is money leaving the platform, drawn from the daily withdrawable bucket
	TxWithdrawal TransactionType = "Withdrawal"
	// TxBonus is a referral bonus paid to an up-line referrer
	TxBonus TransactionType = "Bonus"
	// TxYield is system-generated profit
	TxYield TransactionType = "Yield"
)

// Requestable reports whether users may request this transaction type directly
func (t TransactionType) Requestable() bool {
	return t == TxDeposit || t == TxWithdrawal
}

// TransactionStatus represents the settlement state of a transaction
type TransactionStatus string

const (
	// StatusPending is a request waiting for admin settlement
	StatusPending TransactionStatus = "Pending"
	// StatusCompleted is terminal; a completed transaction is never mutated again
	StatusCompleted TransactionStatus = "Completed"
	// StatusFailed is a rejected request
	StatusFailed TransactionStatus = "Failed"
	// StatusScheduled is reserved for future-dated system transactions
	StatusScheduled TransactionStatus = "Scheduled"
)

// Terminal reports whether no further transition is allowed from this status
func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AdminActionType labels entries of the admin audit trail
type AdminActionType string

const (
	ActionTransactionApprove AdminActionType = "TransactionApprove"
	ActionTransactionReject  AdminActionType = "TransactionReject"
	ActionBonusPayout        AdminActionType = "BonusPayout"
	ActionBalanceEdit        AdminActionType = "BalanceEdit"
	ActionUserApprove        AdminActionType = "UserApprove"
	ActionUserReject         AdminActionType = "UserReject"
	ActionPlanChange         AdminActionType = "PlanChange"
)

// PayoutMethod is the destination kind for a withdrawal
type PayoutMethod string

const (
	PayoutPix    PayoutMethod = "pix"
	PayoutBank   PayoutMethod = "bank"
	PayoutCrypto PayoutMethod = "crypto"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
