package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/referral-ledger/internal/models"
	"github.com/streadway/amqp"
)

const defaultExchange = "ledger.notifications"

// Publisher is the subset of *amqp.Channel used by the sink
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes notifications to a topic exchange
type AMQPSink struct {
	publisher Publisher
	exchange  string
	conn      *amqp.Connection
}

// NewAMQPSink wraps an already configured channel
func NewAMQPSink(publisher Publisher, exchange string) *AMQPSink {
	if exchange == "" {
		exchange = defaultExchange
	}
	return &AMQPSink{publisher: publisher, exchange: exchange}
}

// DialAMQP connects to the broker and declares a durable topic exchange
func DialAMQP(url, exchange string) (*AMQPSink, error) {
	if url == "" {
		return nil, fmt.Errorf("notification sink amqp requires NOTIFY_AMQP_URL")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	sink := NewAMQPSink(ch, exchange)
	if err := ch.ExchangeDeclare(sink.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", sink.exchange, err)
	}
	sink.conn = conn
	return sink, nil
}

// RoutingKey routes a notification by its owner
func RoutingKey(userID string) string {
	return "notification." + userID
}

// Deliver publishes n as a persistent JSON message
func (s *AMQPSink) Deliver(ctx context.Context, n *models.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	err = s.publisher.Publish(s.exchange, RoutingKey(n.UserID), false, false, amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    n.ID,
		Timestamp:    n.Date.Time(),
		Body:         body,
		DeliveryMode: amqp.Persistent,
	})
	if err != nil {
		return fmt.Errorf("publish notification %s: %w", n.ID, err)
	}
	return nil
}

// Close closes the broker connection, when the sink owns one
func (s *AMQPSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
