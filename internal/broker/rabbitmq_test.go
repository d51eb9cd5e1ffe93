package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracking/internal/logger"
)

type fakeConn struct {
	mu     sync.Mutex
	closed bool
	notify chan *amqp.Error
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		if c.notify != nil {
			close(c.notify)
		}
	}
	return nil
}

func (c *fakeConn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = receiver
	return receiver
}

// drop simulates the broker closing the connection with an error.
func (c *fakeConn) drop(err *amqp.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.notify <- err
	close(c.notify)
}

type publishing struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu        sync.Mutex
	closed    bool
	published []publishing
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, publishing{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeDialer struct {
	mu    sync.Mutex
	calls int32
	conns []*fakeConn
	chans []*fakeChannel
}

func (d *fakeDialer) dial() (connection, channel, error) {
	atomic.AddInt32(&d.calls, 1)
	d.mu.Lock()
	defer d.mu.Unlock()
	conn, ch := &fakeConn{}, &fakeChannel{}
	d.conns = append(d.conns, conn)
	d.chans = append(d.chans, ch)
	return conn, ch, nil
}

func (d *fakeDialer) Calls() int {
	return int(atomic.LoadInt32(&d.calls))
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func (d *fakeDialer) channel(i int) *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.chans[i]
}

func newTestBroker(t *testing.T, ctx context.Context, d *fakeDialer) *RabbitMQ {
	t.Helper()
	r := &RabbitMQ{
		ctx:        ctx,
		log:        logger.Discard(),
		exchange:   "notifications",
		retryEvery: 10 * time.Millisecond,
		dial:       d.dial,
	}
	require.NoError(t, r.connect())
	return r
}

func TestPublishJSON_SendsPersistentJSON(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := &fakeDialer{}
	r := newTestBroker(t, ctx, d)

	err := r.PublishJSON(ctx, "order.status.picked_up", map[string]string{"order_id": "order-1"})
	require.NoError(t, err)

	ch := d.channel(0)
	require.Len(t, ch.published, 1)
	got := ch.published[0]
	assert.Equal(t, "notifications", got.exchange)
	assert.Equal(t, "order.status.picked_up", got.key)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, uint8(amqp.Persistent), got.msg.DeliveryMode)

	var body map[string]string
	require.NoError(t, json.Unmarshal(got.msg.Body, &body))
	assert.Equal(t, "order-1", body["order_id"])
}

func TestPublishJSON_ClosedChannel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	d := &fakeDialer{}
	r := newTestBroker(t, ctx, d)
	cancel()

	_ = d.channel(0).Close()
	err := r.PublishJSON(context.Background(), "order.status.delivered", map[string]string{})
	assert.True(t, errors.Is(err, ErrBrokerClosed))
	assert.Empty(t, d.channel(0).published)
}

func TestPublishJSON_UnencodableMessage(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newTestBroker(t, ctx, &fakeDialer{})

	err := r.PublishJSON(ctx, "order.status.delivered", make(chan int))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrBrokerClosed))
}

func TestRabbitMQ_RedialsWhenConnectionDrops(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := &fakeDialer{}
	r := newTestBroker(t, ctx, d)
	require.True(t, r.IsAlive())

	d.conn(0).drop(&amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED"})

	assert.Eventually(t, func() bool {
		return d.Calls() == 2 && r.IsAlive()
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, r.PublishJSON(ctx, "order.status.nearby", map[string]string{}))
	assert.Len(t, d.channel(1).published, 1)
}

func TestRabbitMQ_CloseStopsReconnecting(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := &fakeDialer{}
	r := newTestBroker(t, ctx, d)

	require.NoError(t, r.Close())
	assert.False(t, r.IsAlive())

	assert.Never(t, func() bool {
		return d.Calls() > 1
	}, 100*time.Millisecond, 10*time.Millisecond)
}
