package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const reconnectInterval = 5 * time.Second

var (
	ErrClosed = errors.New("amqp closed")

	dialFn = amqp.Dial
)

type RabbitMQ struct {
	url  string
	log  *slog.Logger
	conn *amqp.Connection
	ch   *amqp.Channel

	mu           sync.Mutex
	reconnecting bool
	closed       chan struct{}
}

var _ Publisher = (*RabbitMQ)(nil)

// Connect returns a Nop publisher when url is empty.
func Connect(url string, log *slog.Logger) (Publisher, error) {
	if url == "" {
		return Nop{}, nil
	}
	if log == nil {
		log = slog.Default()
	}
	r := &RabbitMQ{
		url:    url,
		log:    log.With("component", "events"),
		closed: make(chan struct{}),
	}
	if err := r.connect(); err != nil {
		return nil, fmt.Errorf("rabbit connect: %w", err)
	}
	return r, nil
}

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
		return ErrClosed
	}

	pubctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return ch.PublishWithContext(pubctx, Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (r *RabbitMQ) IsAlive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aliveLocked()
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.closed:
		return nil
	default:
		close(r.closed)
	}
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

func (r *RabbitMQ) aliveLocked() bool {
	if r.conn == nil || r.conn.IsClosed() {
		return false
	}
	return r.ch != nil && !r.ch.IsClosed()
}

func (r *RabbitMQ) connect() error {
	conn, err := dialFn(r.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	r.mu.Lock()
	r.conn = conn
	r.ch = ch
	r.mu.Unlock()
	return nil
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

	ticker := time.NewTicker(reconnectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := r.connect(); err != nil {
				r.log.Warn("broker reconnect failed", "error", err)
				continue
			}
			r.log.Info("broker reconnected")
			return
		case <-r.closed:
			return
		}
	}
}
