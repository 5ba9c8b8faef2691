package storage

import (
	"context"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/referral-ledger/internal/ledger"
	"github.com/referral-ledger/internal/logging"
	"github.com/referral-ledger/internal/models"
	"github.com/shopspring/decimal"
)

const archiveQueueSize = 256

// AuditArchive copies the admin audit trail and finalized transactions into
// ClickHouse for reporting. It is a commit listener with its own queue; a
// failed or dropped batch is logged and never reaches the engines.
type AuditArchive struct {
	db     *ClickHouseDB
	queue  chan *ledger.ChangeSet
	logger *logging.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewAuditArchive creates an archive writer. Call Start to begin writing.
func NewAuditArchive(db *ClickHouseDB, logger *logging.Logger) *AuditArchive {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &AuditArchive{
		db:     db,
		queue:  make(chan *ledger.ChangeSet, archiveQueueSize),
		logger: logger.Component("audit_archive"),
		stopCh: make(chan struct{}),
	}
}

var _ ledger.CommitListener = (*AuditArchive)(nil)

// OnCommit queues the change set when it holds anything worth archiving
func (a *AuditArchive) OnCommit(ctx context.Context, changes *ledger.ChangeSet) {
	logs, txs := archiveRows(changes)
	if len(logs) == 0 && len(txs) == 0 {
		return
	}
	select {
	case a.queue <- &ledger.ChangeSet{AdminLogs: logs, Transactions: txs}:
	default:
		a.logger.Warn("audit archive queue full, dropping batch")
	}
}

// archiveRows picks the audit entries and the finalized transactions of a commit
func archiveRows(changes *ledger.ChangeSet) ([]*models.AdminActionLog, []*models.Transaction) {
	var txs []*models.Transaction
	for _, t := range changes.Transactions {
		if t.Status.Terminal() {
			txs = append(txs, t)
		}
	}
	return changes.AdminLogs, txs
}

// Start runs the writer loop until Stop is called or ctx ends
func (a *AuditArchive) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case cs := <-a.queue:
				a.write(ctx, cs)
			case <-a.stopCh:
				for {
					select {
					case cs := <-a.queue:
						a.write(ctx, cs)
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

// Stop writes what is already queued and waits for the loop to exit
func (a *AuditArchive) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.wg.Wait()
}

func (a *AuditArchive) write(ctx context.Context, cs *ledger.ChangeSet) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.insertAdminLogs(ctx, cs.AdminLogs); err != nil {
		a.logger.WithError(err).WithField("rows", len(cs.AdminLogs)).Warn("failed to archive admin logs")
	}
	if err := a.insertTransactions(ctx, cs.Transactions); err != nil {
		a.logger.WithError(err).WithField("rows", len(cs.Transactions)).Warn("failed to archive transactions")
	}
}

func (a *AuditArchive) insertAdminLogs(ctx context.Context, logs []*models.AdminActionLog) error {
	return a.db.SendBatch(ctx, "admin_action_log_archive", len(logs), func(b driver.Batch, i int) error {
		l := logs[i]
		return b.Append(l.ID, l.Timestamp.Time(), l.AdminID, l.AdminName, string(l.ActionType), l.Description, l.TargetID)
	})
}

func (a *AuditArchive) insertTransactions(ctx context.Context, txs []*models.Transaction) error {
	return a.db.SendBatch(ctx, "settled_transaction_archive", len(txs), func(b driver.Batch, i int) error {
		t := txs[i]
		var brl *decimal.Decimal
		if t.AmountBRL.Valid {
			d := t.AmountBRL.Decimal
			brl = &d
		}
		return b.Append(
			t.ID, t.UserID, string(t.Type), t.AmountUSD, brl, string(t.Status),
			t.Date.Time(), t.CreatedAt.Time(), uint8(t.ReferralLevel), t.SourceUserID, // #nosec G115 - level is 0..3
		)
	})
}
