package ledger

import (
	"github.com/referral-ledger/internal/models"
)

// Txn is a staged view of the ledger inside Store.Update. Getters return copies;
// a modified copy is staged with the matching Put method and becomes visible to
// later reads in the same Txn. Nothing reaches the store until Update commits.
type Txn struct {
	store *Store

	users     map[string]*models.User
	userOrder []string

	transactions map[string]*models.Transaction
	txOrder      []string

	notifications     map[string]*models.Notification
	notificationOrder []string

	adminLogs []*models.AdminActionLog
}

func newTxn(s *Store) *Txn {
	return &Txn{
		store:         s,
		users:         make(map[string]*models.User),
		transactions:  make(map[string]*models.Transaction),
		notifications: make(map[string]*models.Notification),
	}
}

func (tx *Txn) dirty() bool {
	return len(tx.userOrder) > 0 || len(tx.txOrder) > 0 ||
		len(tx.notificationOrder) > 0 || len(tx.adminLogs) > 0
}

// User returns a copy of the user with id
func (tx *Txn) User(id string) (*models.User, bool) {
	if id == "" {
		return nil, false
	}
	if u, ok := tx.users[id]; ok {
		return u.Clone(), true
	}
	if u, ok := tx.store.users.get(id); ok {
		return u.Clone(), true
	}
	return nil, false
}

// PutUser stages u, new or existing
func (tx *Txn) PutUser(u *models.User) {
	if _, ok := tx.users[u.ID]; !ok {
		tx.userOrder = append(tx.userOrder, u.ID)
	}
	tx.users[u.ID] = u.Clone()
}

// Users returns copies of every user matching pred, in creation order
func (tx *Txn) Users(pred func(*models.User) bool) []*models.User {
	var out []*models.User
	tx.store.users.each(func(u *models.User) {
		if staged, ok := tx.users[u.ID]; ok {
			u = staged
		}
		if pred == nil || pred(u) {
			out = append(out, u.Clone())
		}
	})
	for _, id := range tx.userOrder {
		if _, committed := tx.store.users.get(id); committed {
			continue
		}
		if u := tx.users[id]; pred == nil || pred(u) {
			out = append(out, u.Clone())
		}
	}
	return out
}

// FindUser returns the first user matching pred
func (tx *Txn) FindUser(pred func(*models.User) bool) (*models.User, bool) {
	users := tx.Users(pred)
	if len(users) == 0 {
		return nil, false
	}
	return users[0], true
}

// Transaction returns a copy of the transaction with id
func (tx *Txn) Transaction(id string) (*models.Transaction, bool) {
	if t, ok := tx.transactions[id]; ok {
		return t.Clone(), true
	}
	if t, ok := tx.store.transactions.get(id); ok {
		return t.Clone(), true
	}
	return nil, false
}

// PutTransaction stages t, new or existing
func (tx *Txn) PutTransaction(t *models.Transaction) {
	if _, ok := tx.transactions[t.ID]; !ok {
		tx.txOrder = append(tx.txOrder, t.ID)
	}
	tx.transactions[t.ID] = t.Clone()
}

// Transactions returns copies of every transaction matching pred, in creation order
func (tx *Txn) Transactions(pred func(*models.Transaction) bool) []*models.Transaction {
	var out []*models.Transaction
	tx.store.transactions.each(func(t *models.Transaction) {
		if staged, ok := tx.transactions[t.ID]; ok {
			t = staged
		}
		if pred == nil || pred(t) {
			out = append(out, t.Clone())
		}
	})
	for _, id := range tx.txOrder {
		if _, committed := tx.store.transactions.get(id); committed {
			continue
		}
		if t := tx.transactions[id]; pred == nil || pred(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Notification returns a copy of the notification with id
func (tx *Txn) Notification(id string) (*models.Notification, bool) {
	if n, ok := tx.notifications[id]; ok {
		return n.Clone(), true
	}
	if n, ok := tx.store.notifications.get(id); ok {
		return n.Clone(), true
	}
	return nil, false
}

// PutNotification stages n, new or existing
func (tx *Txn) PutNotification(n *models.Notification) {
	if _, ok := tx.notifications[n.ID]; !ok {
		tx.notificationOrder = append(tx.notificationOrder, n.ID)
	}
	tx.notifications[n.ID] = n.Clone()
}

// Notifications returns copies of every notification matching pred, in creation order
func (tx *Txn) Notifications(pred func(*models.Notification) bool) []*models.Notification {
	var out []*models.Notification
	tx.store.notifications.each(func(n *models.Notification) {
		if staged, ok := tx.notifications[n.ID]; ok {
			n = staged
		}
		if pred == nil || pred(n) {
			out = append(out, n.Clone())
		}
	})
	for _, id := range tx.notificationOrder {
		if _, committed := tx.store.notifications.get(id); committed {
			continue
		}
		if n := tx.notifications[id]; pred == nil || pred(n) {
			out = append(out, n.Clone())
		}
	}
	return out
}

// AppendAdminLog stages an audit entry. Audit entries are never updated.
func (tx *Txn) AppendAdminLog(l *models.AdminActionLog) {
	c := *l
	tx.adminLogs = append(tx.adminLogs, &c)
}

// AdminLogs returns copies of committed and staged audit entries, oldest first
func (tx *Txn) AdminLogs() []*models.AdminActionLog {
	out := make([]*models.AdminActionLog, 0, len(tx.store.adminLogs)+len(tx.adminLogs))
	for _, l := range tx.store.adminLogs {
		c := *l
		out = append(out, &c)
	}
	for _, l := range tx.adminLogs {
		c := *l
		out = append(out, &c)
	}
	return out
}
