// Package notify delivers committed notifications to users outside the ledger.
// Delivery is best-effort: a failed delivery is logged and never affects the ledger.
package notify

import (
	"context"
	"fmt"

	"github.com/referral-ledger/internal/config"
	"github.com/referral-ledger/internal/logging"
	"github.com/referral-ledger/internal/models"
)

// Sink delivers one notification
type Sink interface {
	Deliver(ctx context.Context, n *models.Notification) error
}

// LogSink writes notifications to the structured log
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a log-only sink
func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &LogSink{logger: logger.Component("notify")}
}

// Deliver logs the notification
func (s *LogSink) Deliver(ctx context.Context, n *models.Notification) error {
	s.logger.WithFields(map[string]interface{}{
		"notificationId": n.ID,
		"userId":         n.UserID,
		"message":        n.Message,
	}).Info("notification")
	return nil
}

// Dependencies carries the optional connections a sink may need
type Dependencies struct {
	Redis  RedisClient
	Logger *logging.Logger
}

// NewSink builds the sink selected by cfg.Sink
func NewSink(cfg config.NotificationsConfig, deps Dependencies) (Sink, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Sink {
	case "", "log":
		return NewLogSink(deps.Logger), noop, nil
	case "redis":
		if deps.Redis == nil {
			return nil, nil, fmt.Errorf("notification sink redis requires a redis connection")
		}
		return NewRedisSink(deps.Redis, cfg.RedisListCap), noop, nil
	case "amqp":
		sink, err := DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, nil, err
		}
		return sink, sink.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown notification sink %q", cfg.Sink)
	}
}
