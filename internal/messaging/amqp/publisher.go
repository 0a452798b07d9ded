// Package amqp publishes generation jobs to RabbitMQ.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	amqp091 "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"orchestrator/internal/domain"
)

// Config describes where jobs go.
type Config struct {
	URL            string
	Exchange       string
	RoutingKey     string
	ConfirmTimeout time.Duration
	// Attempts bounds connect and publish attempts, reconnecting in between.
	Attempts uint
}

// channel is the part of *amqp091.Channel the publisher needs.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp091.Confirmation) chan amqp091.Confirmation
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

type connection interface {
	Channel() (channel, error)
	IsClosed() bool
	Close() error
}

type dialFunc func(url string) (connection, error)

type amqpConnection struct {
	*amqp091.Connection
}

func (c amqpConnection) Channel() (channel, error) {
	return c.Connection.Channel()
}

func dialAMQP(url string) (connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

// Publisher implements domain.JobPublisher with publisher confirms. A broken
// connection is replaced on the next publish.
type Publisher struct {
	cfg    Config
	dial   dialFunc
	logger zerolog.Logger

	mu       sync.Mutex
	conn     connection
	ch       channel
	confirms chan amqp091.Confirmation
	closed   bool
}

// NewPublisher connects to the broker and declares the exchange.
func NewPublisher(ctx context.Context, cfg Config, logger zerolog.Logger) (*Publisher, error) {
	return newPublisher(ctx, cfg, dialAMQP, logger)
}

func newPublisher(ctx context.Context, cfg Config, dial dialFunc, logger zerolog.Logger) (*Publisher, error) {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 5 * time.Second
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	p := &Publisher{cfg: cfg, dial: dial, logger: logger}

	p.mu.Lock()
	defer p.mu.Unlock()
	err := retry.Do(p.ensureChannel,
		retry.Context(ctx),
		retry.Attempts(cfg.Attempts),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn().Err(err).Uint("attempt", n+1).Msg("amqp: connect failed, retrying")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("amqp connect: %w", err)
	}
	logger.Info().Str("exchange", cfg.Exchange).Str("routing_key", cfg.RoutingKey).Msg("amqp: publisher ready")
	return p, nil
}

// ensureChannel opens a connection and confirm-mode channel if none is live.
// Callers hold p.mu.
func (p *Publisher) ensureChannel() error {
	if p.closed {
		return retry.Unrecoverable(errors.New("publisher closed"))
	}
	if p.ch != nil && p.conn != nil && !p.conn.IsClosed() {
		return nil
	}
	p.reset()

	conn, err := p.dial(p.cfg.URL)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	if err := ch.ExchangeDeclare(p.cfg.Exchange, amqp091.ExchangeDirect, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare exchange %s: %w", p.cfg.Exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("enable confirms: %w", err)
	}
	p.conn = conn
	p.ch = ch
	p.confirms = ch.NotifyPublish(make(chan amqp091.Confirmation, 1))
	return nil
}

// reset drops the current channel and connection. Callers hold p.mu.
func (p *Publisher) reset() {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	p.ch, p.conn, p.confirms = nil, nil, nil
}

// Publish sends job as a persistent JSON message and waits for the broker's
// confirm. The idempotency key doubles as message id so consumers can drop
// redelivered copies.
func (p *Publisher) Publish(ctx context.Context, job domain.JobMessage) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("%w: encode job: %v", domain.ErrJobPublishFailure, err)
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    job.IdempotencyKey,
		Type:         string(job.JobType),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = retry.Do(func() error {
		return p.publishOnce(ctx, msg)
	},
		retry.Context(ctx),
		retry.Attempts(p.cfg.Attempts),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Warn().Err(err).Uint("attempt", n+1).Str("generation_id", job.GenerationID).Msg("amqp: publish failed, reconnecting")
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrJobPublishFailure, err)
	}
	p.logger.Debug().Str("generation_id", job.GenerationID).Str("job_type", string(job.JobType)).Str("message_id", msg.MessageId).Msg("amqp: job published")
	return nil
}

func (p *Publisher) publishOnce(ctx context.Context, msg amqp091.Publishing) error {
	if err := p.ensureChannel(); err != nil {
		return err
	}
	if err := p.ch.PublishWithContext(ctx, p.cfg.Exchange, p.cfg.RoutingKey, false, false, msg); err != nil {
		p.reset()
		return err
	}

	timer := time.NewTimer(p.cfg.ConfirmTimeout)
	defer timer.Stop()
	select {
	case c, ok := <-p.confirms:
		if !ok {
			p.reset()
			return errors.New("channel closed before confirm")
		}
		if !c.Ack {
			return fmt.Errorf("broker nacked message %s", msg.MessageId)
		}
		return nil
	case <-timer.C:
		// The confirm may still arrive; a fresh channel keeps later
		// publishes from reading it.
		p.reset()
		return errors.New("timed out waiting for broker confirm")
	case <-ctx.Done():
		p.reset()
		return retry.Unrecoverable(ctx.Err())
	}
}

// Close shuts the channel and connection down.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.reset()
	return nil
}

var _ domain.JobPublisher = (*Publisher)(nil)
