package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/referral-ledger/internal/logging"
	"github.com/referral-ledger/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	mu      sync.Mutex
	commits []*ChangeSet
}

func (r *recordingListener) OnCommit(_ context.Context, changes *ChangeSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits = append(r.commits, changes)
}

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.json")
	return NewStore(NewFilePersister(path), logging.NewNopLogger()), path
}

func TestStore_UpdateCommitsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.Update(ctx, func(tx *Txn) error {
		tx.PutUser(&models.User{ID: "u1", BalanceUSD: d("10")})
		return nil
	}))

	boom := errors.New("validation failed")
	err := store.Update(ctx, func(tx *Txn) error {
		u, ok := tx.User("u1")
		require.True(t, ok)
		u.BalanceUSD = d("999")
		tx.PutUser(u)
		tx.PutTransaction(&models.Transaction{ID: "t1", UserID: "u1"})
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, store.View(func(tx *Txn) error {
		u, ok := tx.User("u1")
		require.True(t, ok)
		assert.True(t, d("10").Equal(u.BalanceUSD))
		_, ok = tx.Transaction("t1")
		assert.False(t, ok)
		return nil
	}))
}

func TestStore_StagedWritesVisibleWithinTxn(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.Update(context.Background(), func(tx *Txn) error {
		tx.PutUser(&models.User{ID: "a", Email: "a@x"})
		tx.PutUser(&models.User{ID: "b", Email: "b@x"})

		found, ok := tx.FindUser(func(u *models.User) bool { return u.Email == "b@x" })
		require.True(t, ok)
		assert.Equal(t, "b", found.ID)

		found.Name = "changed without put"
		again, _ := tx.User("b")
		assert.Empty(t, again.Name, "getters return copies")
		return nil
	}))

	users := store.Snapshot().Users
	require.Len(t, users, 2)
	assert.Equal(t, "a", users[0].ID)
}

func TestStore_PersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	store, path := newTestStore(t)

	require.NoError(t, store.Update(ctx, func(tx *Txn) error {
		tx.PutUser(&models.User{ID: "u1", BalanceUSD: d("1000.50"), JoinedDate: models.ParseTimestamp("2026-01-01")})
		tx.PutNotification(&models.Notification{ID: "n1", UserID: "u1", Message: "hi"})
		tx.AppendAdminLog(&models.AdminActionLog{ID: "l1", AdminID: "admin"})
		return nil
	}))

	reloaded := NewStore(NewFilePersister(path), logging.NewNopLogger())
	require.NoError(t, reloaded.Load(ctx))

	snap := reloaded.Snapshot()
	require.Len(t, snap.Users, 1)
	assert.True(t, d("1000.5").Equal(snap.Users[0].BalanceUSD))
	assert.True(t, snap.Users[0].JoinedDate.Valid())
	assert.Len(t, snap.Notifications, 1)
	assert.Len(t, snap.AdminLogs, 1)
}

func TestStore_ListenersSeeCommittedChanges(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	listener := &recordingListener{}
	store.AddListener(listener)

	require.NoError(t, store.Update(ctx, func(tx *Txn) error {
		tx.PutNotification(&models.Notification{ID: "n1", UserID: "u1"})
		return nil
	}))
	require.NoError(t, store.Update(ctx, func(tx *Txn) error {
		n, _ := tx.Notification("n1")
		n.IsRead = true
		tx.PutNotification(n)
		return nil
	}))
	// failed and empty updates publish nothing
	_ = store.Update(ctx, func(tx *Txn) error { return errors.New("no") })
	require.NoError(t, store.Update(ctx, func(tx *Txn) error { return nil }))

	require.Len(t, listener.commits, 2)
	assert.Len(t, listener.commits[0].NewNotifications, 1)
	assert.Len(t, listener.commits[1].Notifications, 1)
	assert.Empty(t, listener.commits[1].NewNotifications, "an update is not a creation")
	assert.True(t, listener.commits[1].Notifications[0].IsRead)
}

func TestStore_ReplaceIsLastWriteWins(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.Update(ctx, func(tx *Txn) error {
		tx.PutUser(&models.User{ID: "local"})
		return nil
	}))
	require.NoError(t, store.Replace(ctx, &Snapshot{Users: []*models.User{{ID: "remote"}}}))

	users := store.Snapshot().Users
	require.Len(t, users, 1)
	assert.Equal(t, "remote", users[0].ID)
}

func TestStore_CancelledContextIsRejected(t *testing.T) {
	store, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := store.Update(ctx, func(tx *Txn) error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
