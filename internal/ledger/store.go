package ledger

import (
	"context"
	"sync"

	"github.com/referral-ledger/internal/errors"
	"github.com/referral-ledger/internal/logging"
	"github.com/referral-ledger/internal/models"
)

// ChangeSet lists the entities written by one committed update.
// Entities are copies owned by the receiver.
type ChangeSet struct {
	Users            []*models.User
	Transactions     []*models.Transaction
	Notifications    []*models.Notification // created or updated
	NewNotifications []*models.Notification // subset of Notifications created by this update
	AdminLogs        []*models.AdminActionLog
}

// Empty reports whether the update wrote nothing
func (c *ChangeSet) Empty() bool {
	return len(c.Users) == 0 && len(c.Transactions) == 0 &&
		len(c.Notifications) == 0 && len(c.AdminLogs) == 0
}

// CommitListener observes committed updates. OnCommit is called in commit
// order and must not block; long work belongs on the listener's own goroutine.
type CommitListener interface {
	OnCommit(ctx context.Context, changes *ChangeSet)
}

// collection keeps entities by id in insertion order
type collection[T any] struct {
	byID  map[string]T
	order []string
}

func newCollection[T any]() *collection[T] {
	return &collection[T]{byID: make(map[string]T)}
}

func (c *collection[T]) get(id string) (T, bool) {
	v, ok := c.byID[id]
	return v, ok
}

func (c *collection[T]) put(id string, v T) {
	if _, ok := c.byID[id]; !ok {
		c.order = append(c.order, id)
	}
	c.byID[id] = v
}

func (c *collection[T]) each(fn func(T)) {
	for _, id := range c.order {
		fn(c.byID[id])
	}
}

// Store is the single authoritative ledger snapshot. Writers are serialized:
// Update holds the write lock for the whole engine call and commits all
// staged entities at once or none of them.
type Store struct {
	mu            sync.RWMutex
	users         *collection[*models.User]
	transactions  *collection[*models.Transaction]
	notifications *collection[*models.Notification]
	adminLogs     []*models.AdminActionLog

	persister Persister

	// publishMu keeps listener calls in commit order
	publishMu sync.Mutex
	listeners []CommitListener

	logger *logging.Logger
}

// NewStore creates an empty store. persister may be nil for a memory-only ledger.
func NewStore(persister Persister, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Store{
		users:         newCollection[*models.User](),
		transactions:  newCollection[*models.Transaction](),
		notifications: newCollection[*models.Notification](),
		persister:     persister,
		logger:        logger.Component("ledger_store"),
	}
}

// AddListener registers a commit listener
func (s *Store) AddListener(l CommitListener) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Load replaces the in-memory ledger with the persisted snapshot
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	snap, err := s.persister.Load(ctx)
	if err != nil {
		return errors.NewDatabaseError("load snapshot", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceLocked(snap)

	s.logger.WithFields(map[string]interface{}{
		"users":        len(snap.Users),
		"transactions": len(snap.Transactions),
	}).Info("ledger snapshot loaded")
	return nil
}

// Replace overwrites every collection with snap (last write wins) and persists it
func (s *Store) Replace(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.Save(ctx, snap); err != nil {
			return errors.NewDatabaseError("save snapshot", err)
		}
	}
	s.replaceLocked(snap)
	return nil
}

func (s *Store) replaceLocked(snap *Snapshot) {
	s.users = newCollection[*models.User]()
	for _, u := range snap.Users {
		s.users.put(u.ID, u.Clone())
	}
	s.transactions = newCollection[*models.Transaction]()
	for _, t := range snap.Transactions {
		s.transactions.put(t.ID, t.Clone())
	}
	s.notifications = newCollection[*models.Notification]()
	for _, n := range snap.Notifications {
		s.notifications.put(n.ID, n.Clone())
	}
	s.adminLogs = make([]*models.AdminActionLog, 0, len(snap.AdminLogs))
	for _, l := range snap.AdminLogs {
		c := *l
		s.adminLogs = append(s.adminLogs, &c)
	}
}

// Snapshot returns a deep copy of the committed ledger
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotWith(nil, true)
}

// Update runs fn against a staged view of the ledger. If fn returns nil the
// staged entities are persisted and committed together; otherwise nothing changes.
func (s *Store) Update(ctx context.Context, fn func(tx *Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	tx := newTxn(s)
	if err := fn(tx); err != nil {
		s.mu.Unlock()
		return err
	}

	if !tx.dirty() {
		s.mu.Unlock()
		return nil
	}

	if s.persister != nil {
		if err := s.persister.Save(ctx, s.snapshotWith(tx, false)); err != nil {
			s.mu.Unlock()
			s.logger.WithError(err).Error("snapshot save failed, update discarded")
			return errors.NewDatabaseError("save snapshot", err)
		}
	}

	changes := s.applyLocked(tx)

	s.publishMu.Lock()
	s.mu.Unlock()
	defer s.publishMu.Unlock()

	pubCtx := context.WithoutCancel(ctx)
	for _, l := range s.listeners {
		l.OnCommit(pubCtx, changes)
	}
	return nil
}

// View runs fn against the committed ledger under the read lock.
// Writes staged on the Txn are discarded.
func (s *Store) View(fn func(tx *Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(newTxn(s))
}

// applyLocked merges the staged entities and returns listener copies
func (s *Store) applyLocked(tx *Txn) *ChangeSet {
	changes := &ChangeSet{}

	for _, id := range tx.userOrder {
		u := tx.users[id]
		s.users.put(id, u)
		changes.Users = append(changes.Users, u.Clone())
	}
	for _, id := range tx.txOrder {
		t := tx.transactions[id]
		s.transactions.put(id, t)
		changes.Transactions = append(changes.Transactions, t.Clone())
	}
	for _, id := range tx.notificationOrder {
		n := tx.notifications[id]
		_, existed := s.notifications.get(id)
		s.notifications.put(id, n)
		c := n.Clone()
		changes.Notifications = append(changes.Notifications, c)
		if !existed {
			changes.NewNotifications = append(changes.NewNotifications, c)
		}
	}
	for _, l := range tx.adminLogs {
		s.adminLogs = append(s.adminLogs, l)
		c := *l
		changes.AdminLogs = append(changes.AdminLogs, &c)
	}
	return changes
}

// snapshotWith builds a snapshot of the committed ledger with tx's staged
// entities overlaid. When deep is false entities are shared, not copied.
func (s *Store) snapshotWith(tx *Txn, deep bool) *Snapshot {
	snap := &Snapshot{}

	s.users.each(func(u *models.User) {
		if tx != nil {
			if staged, ok := tx.users[u.ID]; ok {
				u = staged
			}
		}
		if deep {
			u = u.Clone()
		}
		snap.Users = append(snap.Users, u)
	})
	s.transactions.each(func(t *models.Transaction) {
		if tx != nil {
			if staged, ok := tx.transactions[t.ID]; ok {
				t = staged
			}
		}
		if deep {
			t = t.Clone()
		}
		snap.Transactions = append(snap.Transactions, t)
	})
	s.notifications.each(func(n *models.Notification) {
		if tx != nil {
			if staged, ok := tx.notifications[n.ID]; ok {
				n = staged
			}
		}
		if deep {
			n = n.Clone()
		}
		snap.Notifications = append(snap.Notifications, n)
	})
	for _, l := range s.adminLogs {
		if deep {
			c := *l
			l = &c
		}
		snap.AdminLogs = append(snap.AdminLogs, l)
	}

	if tx != nil {
		for _, id := range tx.userOrder {
			if _, ok := s.users.get(id); !ok {
				snap.Users = append(snap.Users, tx.users[id])
			}
		}
		for _, id := range tx.txOrder {
			if _, ok := s.transactions.get(id); !ok {
				snap.Transactions = append(snap.Transactions, tx.transactions[id])
			}
		}
		for _, id := range tx.notificationOrder {
			if _, ok := s.notifications.get(id); !ok {
				snap.Notifications = append(snap.Notifications, tx.notifications[id])
			}
		}
		snap.AdminLogs = append(snap.AdminLogs, tx.adminLogs...)
	}
	return snap
}
