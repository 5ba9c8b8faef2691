package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/referral-ledger/internal/config"
	"github.com/referral-ledger/internal/ledger"
	"github.com/referral-ledger/internal/logging"
	"github.com/referral-ledger/internal/models"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func note(id, userID string) *models.Notification {
	return &models.Notification{
		ID:      id,
		UserID:  userID,
		Message: "Your deposit of $100.00 was approved.",
		Date:    models.NewTimestamp(time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)),
	}
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisSink_CappedInbox(t *testing.T) {
	mr, client := setupRedis(t)
	sink := NewRedisSink(client, 2)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, sink.Deliver(ctx, note(fmt.Sprintf("n%d", i), "u1")))
	}

	items, err := mr.List(InboxKey("u1"))
	require.NoError(t, err)
	require.Len(t, items, 2)

	var newest models.Notification
	require.NoError(t, json.Unmarshal([]byte(items[0]), &newest))
	assert.Equal(t, "n3", newest.ID)
	assert.Equal(t, "u1", newest.UserID)
	assert.False(t, mr.Exists(InboxKey("u2")))
}

func TestRedisSink_Publishes(t *testing.T) {
	_, client := setupRedis(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, PubSubChannel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, NewRedisSink(client, 0).Deliver(ctx, note("n1", "u1")))

	select {
	case msg := <-sub.Channel():
		assert.Contains(t, msg.Payload, `"id":"n1"`)
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}

type recordingPublisher struct {
	exchange string
	key      string
	msg      amqp.Publishing
	err      error
}

func (p *recordingPublisher) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	p.exchange, p.key, p.msg = exchange, key, msg
	return p.err
}

func TestAMQPSink_Deliver(t *testing.T) {
	pub := &recordingPublisher{}
	sink := NewAMQPSink(pub, "")

	require.NoError(t, sink.Deliver(context.Background(), note("n1", "u1")))
	assert.Equal(t, defaultExchange, pub.exchange)
	assert.Equal(t, "notification.u1", pub.key)
	assert.Equal(t, "application/json", pub.msg.ContentType)
	assert.Equal(t, uint8(amqp.Persistent), pub.msg.DeliveryMode)
	assert.Equal(t, "n1", pub.msg.MessageId)

	pub.err = errors.New("channel closed")
	assert.Error(t, sink.Deliver(context.Background(), note("n2", "u1")))
	assert.NoError(t, sink.Close())
}

func TestNewSink(t *testing.T) {
	_, client := setupRedis(t)

	sink, closeFn, err := NewSink(config.NotificationsConfig{Sink: "log"}, Dependencies{Logger: logging.NewNopLogger()})
	require.NoError(t, err)
	assert.IsType(t, &LogSink{}, sink)
	assert.NoError(t, closeFn())

	sink, _, err = NewSink(config.NotificationsConfig{Sink: "redis"}, Dependencies{Redis: client})
	require.NoError(t, err)
	assert.IsType(t, &RedisSink{}, sink)

	_, _, err = NewSink(config.NotificationsConfig{Sink: "redis"}, Dependencies{})
	assert.Error(t, err)

	_, _, err = NewSink(config.NotificationsConfig{Sink: "amqp"}, Dependencies{})
	assert.Error(t, err, "amqp needs a url")

	_, _, err = NewSink(config.NotificationsConfig{Sink: "sms"}, Dependencies{})
	assert.Error(t, err)
}

type memorySink struct {
	mu   sync.Mutex
	got  []string
	fail bool
}

func (s *memorySink) Deliver(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("unreachable")
	}
	s.got = append(s.got, n.ID)
	return nil
}

func (s *memorySink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.got...)
}

func TestDispatcher_DeliversNewNotificationsInOrder(t *testing.T) {
	sink := &memorySink{}
	d := NewDispatcher(sink, 10, logging.NewNopLogger())
	store := ledger.NewStore(nil, logging.NewNopLogger())
	store.AddListener(d)
	ctx := context.Background()
	d.Start(ctx)

	require.NoError(t, store.Update(ctx, func(tx *ledger.Txn) error {
		tx.PutNotification(note("n1", "u1"))
		tx.PutNotification(note("n2", "u2"))
		return nil
	}))
	// marking as read is an update, not a new notification
	require.NoError(t, store.Update(ctx, func(tx *ledger.Txn) error {
		n, _ := tx.Notification("n1")
		n.IsRead = true
		tx.PutNotification(n)
		return nil
	}))

	d.Stop()
	assert.Equal(t, []string{"n1", "n2"}, sink.ids())
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	sink := &memorySink{}
	d := NewDispatcher(sink, 1, logging.NewNopLogger())

	d.OnCommit(context.Background(), &ledger.ChangeSet{
		NewNotifications: []*models.Notification{note("n1", "u1"), note("n2", "u1")},
	})
	d.Start(context.Background())
	d.Stop()

	assert.Equal(t, []string{"n1"}, sink.ids())
}

func TestDispatcher_FailureIsContained(t *testing.T) {
	sink := &memorySink{fail: true}
	d := NewDispatcher(sink, 4, logging.NewNopLogger())
	d.OnCommit(context.Background(), &ledger.ChangeSet{NewNotifications: []*models.Notification{note("n1", "u1")}})

	d.Start(context.Background())
	d.Stop()
	assert.Empty(t, sink.ids())
}
