// Package remotesync mirrors committed ledger changes to the remote store.
// Pushes are fire-and-forget from the engines' point of view: they run after
// commit on the gateway's goroutine, and failures are logged and counted.
package remotesync

import (
	"context"
	"sync"
	"time"

	"github.com/referral-ledger/internal/circuitbreaker"
	"github.com/referral-ledger/internal/config"
	"github.com/referral-ledger/internal/errors"
	"github.com/referral-ledger/internal/ledger"
	"github.com/referral-ledger/internal/logging"
	"github.com/referral-ledger/internal/metrics"
	"github.com/referral-ledger/internal/models"
	"github.com/referral-ledger/internal/retry"
	"golang.org/x/time/rate"
)

// Entity names, used for breakers, metrics and logs
const (
	EntityUser         = "user"
	EntityTransaction  = "transaction"
	EntityNotification = "notification"
	EntityAdminLog     = "admin_log"
)

const (
	defaultQueueSize = 256
	pushTimeout      = 30 * time.Second
)

// RemoteStore is the remote persistence collaborator
type RemoteStore interface {
	UpsertUser(ctx context.Context, u *models.User) error
	UpsertTransaction(ctx context.Context, t *models.Transaction) error
	UpsertNotification(ctx context.Context, n *models.Notification) error
	AppendAdminLog(ctx context.Context, l *models.AdminActionLog) error
	LoadSnapshot(ctx context.Context) (*ledger.Snapshot, error)
}

// Gateway queues committed change sets and pushes them entity by entity
type Gateway struct {
	remote   RemoteStore
	store    *ledger.Store
	queue    chan *ledger.ChangeSet
	retry    *retry.RetryConfig
	breakers *circuitbreaker.Manager
	limiter  *rate.Limiter
	logger   *logging.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewGateway creates a gateway for store. Call Start to begin pushing.
func NewGateway(remote RemoteStore, store *ledger.Store, cfg config.SyncConfig, logger *logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	logger = logger.Component("remote_sync")

	rc := retry.FromSyncConfig(cfg)
	// a rejected row will be rejected again
	rc.Retryable = func(err error) bool { return !errors.IsUserError(err) }

	return &Gateway{
		remote:   remote,
		store:    store,
		queue:    make(chan *ledger.ChangeSet, queueSize),
		retry:    rc,
		breakers: circuitbreaker.NewManager(circuitbreaker.DefaultConfig(""), logger),
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

var _ ledger.CommitListener = (*Gateway)(nil)

// OnCommit queues the change set. A full queue drops it; the next Pull or a
// later write of the same entity reconciles the remote copy.
func (g *Gateway) OnCommit(ctx context.Context, changes *ledger.ChangeSet) {
	select {
	case g.queue <- changes:
	default:
		g.logger.WithFields(map[string]interface{}{
			"users":        len(changes.Users),
			"transactions": len(changes.Transactions),
		}).Warn("remote sync queue full, dropping change set")
		metrics.RecordRemoteSyncFailure("queue")
	}
}

// Start runs the push loop until Stop is called or ctx ends
func (g *Gateway) Start(ctx context.Context) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		for {
			select {
			case changes := <-g.queue:
				g.push(ctx, changes)
			case <-g.stopCh:
				for {
					select {
					case changes := <-g.queue:
						g.push(ctx, changes)
					default:
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop pushes what is already queued and waits for the loop to exit
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() { close(g.stopCh) })
	g.wg.Wait()
}

// BreakerStates exposes the per-entity circuit states
func (g *Gateway) BreakerStates() map[string]circuitbreaker.State {
	return g.breakers.States()
}

func (g *Gateway) push(ctx context.Context, changes *ledger.ChangeSet) {
	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()
	ctx = logging.WithLogger(ctx, g.logger)

	for _, u := range changes.Users {
		g.report(EntityUser, u.ID, g.SyncUser(ctx, u))
	}
	for _, t := range changes.Transactions {
		g.report(EntityTransaction, t.ID, g.SyncTransaction(ctx, t))
	}
	for _, n := range changes.Notifications {
		g.report(EntityNotification, n.ID, g.SyncNotification(ctx, n))
	}
	for _, l := range changes.AdminLogs {
		g.report(EntityAdminLog, l.ID, g.SyncAdminLog(ctx, l))
	}
}

func (g *Gateway) report(entity, id string, err error) {
	if err == nil {
		return
	}
	metrics.RecordRemoteSyncFailure(entity)
	g.logger.WithError(err).WithFields(map[string]interface{}{
		"entity": entity,
		"id":     id,
	}).Warn("remote sync failed")
}

// SyncUser pushes one user
func (g *Gateway) SyncUser(ctx context.Context, u *models.User) error {
	return g.send(ctx, EntityUser, u.ID, func(ctx context.Context) error { return g.remote.UpsertUser(ctx, u) })
}

// SyncTransaction pushes one transaction
func (g *Gateway) SyncTransaction(ctx context.Context, t *models.Transaction) error {
	return g.send(ctx, EntityTransaction, t.ID, func(ctx context.Context) error { return g.remote.UpsertTransaction(ctx, t) })
}

// SyncNotification pushes one notification
func (g *Gateway) SyncNotification(ctx context.Context, n *models.Notification) error {
	return g.send(ctx, EntityNotification, n.ID, func(ctx context.Context) error { return g.remote.UpsertNotification(ctx, n) })
}

// SyncAdminLog pushes one audit entry
func (g *Gateway) SyncAdminLog(ctx context.Context, l *models.AdminActionLog) error {
	return g.send(ctx, EntityAdminLog, l.ID, func(ctx context.Context) error { return g.remote.AppendAdminLog(ctx, l) })
}

func (g *Gateway) send(ctx context.Context, entity, id string, op func(ctx context.Context) error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return errors.NewRemoteSyncError(entity, id, err)
	}

	err := g.breakers.GetOrCreate(entity).Execute(ctx, func(ctx context.Context) error {
		return retry.WithExponentialBackoff(ctx, g.retry, func(ctx context.Context, attempt int) error {
			return op(ctx)
		}).Err()
	})
	if err != nil {
		return errors.NewRemoteSyncError(entity, id, err)
	}
	return nil
}

// Pull loads the remote snapshot and replaces the local ledger with it (last write wins)
func (g *Gateway) Pull(ctx context.Context) error {
	snap, err := g.remote.LoadSnapshot(ctx)
	if err != nil {
		return errors.NewRemoteSyncError("snapshot", "", err)
	}
	if err := g.store.Replace(ctx, snap); err != nil {
		return err
	}

	g.logger.WithFields(map[string]interface{}{
		"users":         len(snap.Users),
		"transactions":  len(snap.Transactions),
		"notifications": len(snap.Notifications),
		"adminLogs":     len(snap.AdminLogs),
	}).Info("ledger refreshed from remote store")
	return nil
}
