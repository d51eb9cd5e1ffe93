package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"tracking/internal/config"
	"tracking/internal/logger"
)

const (
	reconnectInterval = 5 * time.Second
	publishTimeout    = 3 * time.Second
)

// ErrBrokerClosed is returned when publishing while the connection is down.
var ErrBrokerClosed = errors.New("amqp connection closed")

type connection interface {
	IsClosed() bool
	Close() error
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

var (
	_ connection = (*amqp.Connection)(nil)
	_ channel    = (*amqp.Channel)(nil)
)

// RabbitMQ publishes JSON messages to a durable topic exchange. A dropped
// connection is redialed in the background as soon as the broker reports it.
type RabbitMQ struct {
	ctx        context.Context
	cfg        config.RabbitMQConfig
	log        logger.Logger
	exchange   string
	retryEvery time.Duration
	dial       func() (connection, channel, error)

	mu           sync.Mutex
	conn         connection
	ch           channel
	reconnecting bool
	closed       bool
}

// NewRabbitMQ dials the broker and declares the exchange.
// ctx bounds the lifetime of background reconnect attempts.
func NewRabbitMQ(ctx context.Context, cfg config.RabbitMQConfig, log logger.Logger) (*RabbitMQ, error) {
	r := &RabbitMQ{
		ctx:        ctx,
		cfg:        cfg,
		log:        log.Action("amqp"),
		exchange:   cfg.Exchange,
		retryEvery: reconnectInterval,
	}
	r.dial = r.dialAMQP
	if err := r.connect(); err != nil {
		return nil, fmt.Errorf("rabbit connect: %w", err)
	}
	return r, nil
}

// PublishJSON publishes msg as a persistent JSON message under routingKey.
func (r *RabbitMQ) PublishJSON(ctx context.Context, routingKey string, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	r.mu.Lock()
	ch := r.ch
	alive := r.aliveLocked()
	r.mu.Unlock()

	if !alive {
		go r.reconnect()
		return ErrBrokerClosed
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return ch.PublishWithContext(pubCtx, r.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// IsAlive reports whether the connection and channel are open.
func (r *RabbitMQ) IsAlive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aliveLocked()
}

func (r *RabbitMQ) aliveLocked() bool {
	return r.conn != nil && !r.conn.IsClosed() && r.ch != nil && !r.ch.IsClosed()
}

// Close closes the channel and connection and stops reconnecting.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true

	if r.ch != nil && !r.ch.IsClosed() {
		if err := r.ch.Close(); err != nil {
			return fmt.Errorf("close channel: %w", err)
		}
	}
	if r.conn != nil && !r.conn.IsClosed() {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("close connection: %w", err)
		}
	}
	return nil
}

func (r *RabbitMQ) dialAMQP() (connection, channel, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d/%s",
		r.cfg.User, r.cfg.Password, r.cfg.Host, r.cfg.Port, r.cfg.VHost,
	)
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := ch.ExchangeDeclare(r.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

func (r *RabbitMQ) connect() error {
	conn, ch, err := r.dial()
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.conn = conn
	r.ch = ch
	r.mu.Unlock()

	go r.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))
	return nil
}

// watch redials when the broker drops the connection. A nil error means Close was called.
func (r *RabbitMQ) watch(closed <-chan *amqp.Error) {
	select {
	case amqpErr, ok := <-closed:
		if !ok || amqpErr == nil {
			return
		}
		r.mu.Lock()
		stopped := r.closed
		r.mu.Unlock()
		if stopped {
			return
		}
		r.log.Warn("connection lost", "error", amqpErr.Error())
		r.reconnect()
	case <-r.ctx.Done():
	}
}

func (r *RabbitMQ) reconnect() {
	r.mu.Lock()
	if r.reconnecting {
		r.mu.Unlock()
		return
	}
	r.reconnecting = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.reconnecting = false
		r.mu.Unlock()
	}()

	ticker := time.NewTicker(r.retryEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.mu.Lock()
			stopped := r.closed
			r.mu.Unlock()
			if stopped {
				return
			}
			if err := r.connect(); err != nil {
				r.log.Warn("reconnect failed", "error", err.Error())
				continue
			}
			r.log.Info("reconnected")
			return
		case <-r.ctx.Done():
			return
		}
	}
}
