package notify

import (
	"context"
	"sync"
	"time"

	"github.com/referral-ledger/internal/ledger"
	"github.com/referral-ledger/internal/logging"
	"github.com/referral-ledger/internal/models"
)

const (
	defaultQueueSize = 1024
	deliveryTimeout  = 5 * time.Second
)

// Dispatcher is a commit listener that hands newly created notifications to a sink
// on its own goroutine. When the queue is full the notification is dropped.
type Dispatcher struct {
	sink   Sink
	queue  chan *models.Notification
	logger *logging.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewDispatcher creates a dispatcher with a bounded queue
func NewDispatcher(sink Sink, queueSize int, logger *logging.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Dispatcher{
		sink:   sink,
		queue:  make(chan *models.Notification, queueSize),
		logger: logger.Component("notify_dispatcher"),
		stopCh: make(chan struct{}),
	}
}

var _ ledger.CommitListener = (*Dispatcher)(nil)

// OnCommit queues the notifications created by the commit
func (d *Dispatcher) OnCommit(ctx context.Context, changes *ledger.ChangeSet) {
	for _, n := range changes.NewNotifications {
		select {
		case d.queue <- n:
		default:
			d.logger.WithField("notificationId", n.ID).Warn("notification queue full, dropping delivery")
		}
	}
}

// Start runs the delivery loop until Stop is called
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case n := <-d.queue:
				d.deliver(ctx, n)
			case <-d.stopCh:
				d.drain(ctx)
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop delivers what is already queued and waits for the loop to exit
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case n := <-d.queue:
			d.deliver(ctx, n)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n *models.Notification) {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	if err := d.sink.Deliver(ctx, n); err != nil {
		d.logger.WithError(err).WithFields(map[string]interface{}{
			"notificationId": n.ID,
			"userId":         n.UserID,
		}).Warn("notification delivery failed")
	}
}
