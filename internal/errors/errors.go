// Package errors provides the categorized error taxonomy used by the ledger engines and API.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/referral-ledger/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents input rejected before any mutation
	CategoryValidation ErrorCategory = "validation"
	// CategoryConflict represents idempotency violations (state conflicts)
	CategoryConflict ErrorCategory = "conflict"
	// CategoryNotFound represents missing entities
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryAuthorization represents admin-only operations called by non-admins
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryRemote represents best-effort remote store failures
	CategoryRemote ErrorCategory = "remote"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategorySystem represents unexpected internal errors
	CategorySystem ErrorCategory = "system"
)

// Error codes surfaced to callers
const (
	CodeInvalidParameter         = "INVALID_PARAMETER"
	CodeInsufficientWithdrawable = "INSUFFICIENT_WITHDRAWABLE"
	CodeInsufficientBalance      = "INSUFFICIENT_BALANCE"
	CodeWithdrawalAlreadyToday   = "WITHDRAWAL_ALREADY_REQUESTED"
	CodeAlreadyFinalized         = "ALREADY_FINALIZED"
	CodeBonusAlreadyHandled      = "BONUS_ALREADY_HANDLED"
	CodeBonusNotEligible         = "BONUS_NOT_ELIGIBLE"
	CodePlanChangeCooldown       = "PLAN_CHANGE_COOLDOWN"
	CodeEmailTaken               = "EMAIL_TAKEN"
	CodeNotFound                 = "NOT_FOUND"
	CodeForbidden                = "FORBIDDEN"
	CodeRemoteSync               = "REMOTE_SYNC_ERROR"
	CodeDatabase                 = "DATABASE_ERROR"
	CodeInternal                 = "INTERNAL_ERROR"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to the API wire shape
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Validation errors

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidParameter,
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewInsufficientWithdrawableError is returned when a withdrawal exceeds the daily bucket
func NewInsufficientWithdrawableError(requested, available string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeInsufficientWithdrawable,
		Message:    fmt.Sprintf("withdrawal of %s exceeds withdrawable balance of %s", requested, available),
		Details: map[string]interface{}{
			"requested": requested,
			"available": available,
		},
	}
}

// NewInsufficientBalanceError is returned when settling a withdrawal would overdraw the balance
func NewInsufficientBalanceError(userID, requested, balance string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeInsufficientBalance,
		Message:    fmt.Sprintf("withdrawal of %s exceeds balance of %s", requested, balance),
		Details: map[string]interface{}{
			"userId":    userID,
			"requested": requested,
			"balance":   balance,
		},
	}
}

// NewWithdrawalAlreadyRequestedError is returned for a second withdrawal request on the same day
func NewWithdrawalAlreadyRequestedError(userID, day string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeWithdrawalAlreadyToday,
		Message:    "a withdrawal was already requested today",
		Details: map[string]interface{}{
			"userId": userID,
			"date":   day,
		},
	}
}

// NewBonusNotEligibleError is returned when a deposit does not qualify for a manual payout
func NewBonusNotEligibleError(transactionID, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeBonusNotEligible,
		Message:    fmt.Sprintf("deposit %s is not eligible for referral bonus: %s", transactionID, reason),
		Details: map[string]interface{}{
			"transactionId": transactionID,
			"reason":        reason,
		},
	}
}

// NewPlanChangeCooldownError is returned when a plan is changed again too soon
func NewPlanChangeCooldownError(userID, availableAt string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodePlanChangeCooldown,
		Message:    fmt.Sprintf("plan can be changed again after %s", availableAt),
		Details: map[string]interface{}{
			"userId":      userID,
			"availableAt": availableAt,
		},
	}
}

// State conflicts

// NewAlreadyFinalizedError is returned when settling a transaction in a terminal state
func NewAlreadyFinalizedError(transactionID string, status types.TransactionStatus) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeAlreadyFinalized,
		Message:    fmt.Sprintf("transaction %s is already finalized as %s", transactionID, status),
		Details: map[string]interface{}{
			"transactionId": transactionID,
			"status":        status,
		},
	}
}

// NewBonusAlreadyHandledError is returned when a deposit's referral payout already ran
func NewBonusAlreadyHandledError(transactionID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeBonusAlreadyHandled,
		Message:    fmt.Sprintf("referral bonus for deposit %s was already paid", transactionID),
		Details: map[string]interface{}{
			"transactionId": transactionID,
		},
	}
}

// NewEmailTakenError is returned when registering an email that already exists
func NewEmailTakenError(email string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeEmailTaken,
		Message:    fmt.Sprintf("email already registered: %s", email),
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewForbiddenError creates a forbidden error
func NewForbiddenError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusForbidden,
		Code:       CodeForbidden,
		Message:    message,
	}
}

// System errors

// NewRemoteSyncError wraps a failed push to the remote store
func NewRemoteSyncError(entity string, id string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRemote,
		StatusCode: http.StatusBadGateway,
		Code:       CodeRemoteSync,
		Message:    fmt.Sprintf("remote sync failed for %s %s", entity, id),
		Cause:      cause,
		Details: map[string]interface{}{
			"entity": entity,
			"id":     id,
		},
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeDatabase,
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternal,
		Message:    message,
		Cause:      cause,
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	return NewInternalError("unexpected error", err)
}

// HasCode reports whether err is a categorized error with the given code
func HasCode(err error, code string) bool {
	var catErr *CategorizedError
	return stderrors.As(err, &catErr) && catErr.Code == code
}

// IsValidation reports whether err was rejected as invalid input
func IsValidation(err error) bool {
	var catErr *CategorizedError
	return stderrors.As(err, &catErr) && catErr.Category == CategoryValidation
}

// IsConflict reports whether err is a state-conflict (idempotency) error
func IsConflict(err error) bool {
	var catErr *CategorizedError
	return stderrors.As(err, &catErr) && catErr.Category == CategoryConflict
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is worth retrying
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryRemote, CategoryDatabase:
		return true
	case CategorySystem:
		return catErr.Code == CodeInternal && catErr.Cause != nil
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
