package service

import (
	"time"

	"github.com/referral-ledger/internal/ledger"
	"github.com/referral-ledger/internal/models"
	"github.com/referral-ledger/internal/types"
)

// Notifier stages notifications and audit entries inside a ledger update.
// Delivery happens after commit through the notify package.
type Notifier struct {
	clock Clock
}

// NewNotifier creates a notifier stamping entries with clock
func NewNotifier(clock Clock) *Notifier {
	if clock == nil {
		clock = time.Now
	}
	return &Notifier{clock: clock}
}

// Notify stages a message for one user
func (n *Notifier) Notify(tx *ledger.Txn, userID, message string) *models.Notification {
	note := &models.Notification{
		ID:      newID(),
		UserID:  userID,
		Message: message,
		Date:    models.NewTimestamp(n.clock()),
	}
	tx.PutNotification(note)
	return note
}

// NotifyAdmins stages a message for every administrator account
func (n *Notifier) NotifyAdmins(tx *ledger.Txn, message string) int {
	admins := tx.Users(func(u *models.User) bool { return u.IsAdmin() })
	for _, admin := range admins {
		n.Notify(tx, admin.ID, message)
	}
	return len(admins)
}

// Audit stages an admin action log entry, keeping the admin's name as it is now
func (n *Notifier) Audit(tx *ledger.Txn, admin *models.User, action types.AdminActionType, description, targetID string) {
	tx.AppendAdminLog(&models.AdminActionLog{
		ID:          newID(),
		Timestamp:   models.NewTimestamp(n.clock()),
		AdminID:     admin.ID,
		AdminName:   admin.Name,
		ActionType:  action,
		Description: description,
		TargetID:    targetID,
	})
}
