package models

import "github.com/referral-ledger/internal/types"

// AdminActionLog is an append-only audit trail entry
type AdminActionLog struct {
	ID          string                `json:"id" db:"id" ch:"id"`
	Timestamp   Timestamp             `json:"timestamp" db:"timestamp" ch:"timestamp"`
	AdminID     string                `json:"adminId" db:"admin_id" ch:"admin_id"`
	AdminName   string                `json:"adminName" db:"admin_name" ch:"admin_name"` // snapshot at write time
	ActionType  types.AdminActionType `json:"actionType" db:"action_type" ch:"action_type"`
	Description string                `json:"description" db:"description" ch:"description"`
	TargetID    string                `json:"targetId,omitempty" db:"target_id" ch:"target_id"`
}
