package broker

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/quantor/scheduler/errors"
)

// Handler is invoked once per inbound result message. The broker message
// is acknowledged only after the handler returns nil; on error the message
// is negatively acknowledged and requeued.
type Handler func(ctx context.Context, event *ResultEvent) error

// Config contains broker connection settings.
type Config struct {
	URL          string
	Exchange     string
	Queue        string
	Prefetch     int           // unacked message window per consumer
	ReconnectMin time.Duration // initial reconnect backoff
	ReconnectMax time.Duration // backoff ceiling
}

// DefaultConfig returns sensible defaults for everything but the URL.
func DefaultConfig() Config {
	return Config{
		Exchange:     "jobs",
		Queue:        "scheduler.job_results",
		Prefetch:     10,
		ReconnectMin: time.Second,
		ReconnectMax: 30 * time.Second,
	}
}

// Gateway owns the broker connection: it publishes dispatch envelopes and
// feeds inbound result messages to a registered handler. On connection
// loss it redials with capped exponential backoff; while disconnected,
// publishes fail fast and consumption resumes from the broker's own
// redelivery once reconnected.
type Gateway struct {
	cfg     Config
	handler Handler
	logger  *zap.SugaredLogger

	mu        sync.RWMutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGateway creates a gateway. The handler receives every inbound result
// message; it may be nil for publish-only use.
func NewGateway(cfg Config, handler Handler, logger *zap.SugaredLogger) *Gateway {
	return &Gateway{
		cfg:     cfg,
		handler: handler,
		logger:  logger.Named("broker"),
	}
}

// Start establishes the initial connection and launches the supervision
// loop. An unreachable broker at startup is a hard error; drops after that
// are handled by reconnection.
func (g *Gateway) Start(ctx context.Context) error {
	g.ctx, g.cancel = context.WithCancel(ctx)

	if err := g.connect(); err != nil {
		return errors.Wrap(err, "initial broker connection failed")
	}

	g.wg.Add(1)
	go g.supervise()

	g.logger.Infow("Broker gateway started",
		"exchange", g.cfg.Exchange,
		"queue", g.cfg.Queue,
	)
	return nil
}

// Stop closes the connection and waits for the supervision loop to exit.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.mu.Lock()
	if g.conn != nil && !g.conn.IsClosed() {
		g.conn.Close()
	}
	g.connected = false
	g.mu.Unlock()
	g.wg.Wait()
	g.logger.Infow("Broker gateway stopped")
}

// Connected reports whether the gateway currently holds a usable channel.
// Feeds the health endpoint's liveness predicate.
func (g *Gateway) Connected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.connected
}

// Publish sends a dispatch envelope on the work-request topic with
// persistent delivery. Failures are marked ErrPublish; the caller leaves
// the job row for the checker sweep to recover.
func (g *Gateway) Publish(ctx context.Context, env *DispatchEnvelope) error {
	body, err := env.Encode()
	if err != nil {
		return errors.Mark(err, ErrPublish)
	}

	g.mu.RLock()
	channel := g.channel
	connected := g.connected
	g.mu.RUnlock()

	if !connected || channel == nil {
		return errors.Mark(errors.WithStack(ErrNotConnected), ErrPublish)
	}

	err = channel.PublishWithContext(ctx,
		g.cfg.Exchange,
		env.RoutingKey(),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    env.SentAt,
			Body:         body,
		},
	)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to publish to %s", env.RoutingKey()), ErrPublish)
	}

	g.logger.Debugw("Published dispatch envelope",
		"job_id", env.JobID,
		"routing_key", env.RoutingKey(),
		"attempt", env.AttemptCount,
	)
	return nil
}

// connect dials the broker, declares topology, and starts the consumer.
func (g *Gateway) connect() error {
	conn, err := amqp.Dial(g.cfg.URL)
	if err != nil {
		return errors.Wrap(err, "failed to dial broker")
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "failed to open channel")
	}

	if err := channel.Qos(g.cfg.Prefetch, 0, false); err != nil {
		conn.Close()
		return errors.Wrap(err, "failed to set prefetch")
	}

	if err := channel.ExchangeDeclare(
		g.cfg.Exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		conn.Close()
		return errors.Wrapf(err, "failed to declare exchange %s", g.cfg.Exchange)
	}

	var deliveries <-chan amqp.Delivery
	if g.handler != nil {
		queue, err := channel.QueueDeclare(
			g.cfg.Queue,
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			nil,
		)
		if err != nil {
			conn.Close()
			return errors.Wrapf(err, "failed to declare queue %s", g.cfg.Queue)
		}

		for _, key := range []string{RoutingKeyCompleted, RoutingKeyFailed} {
			if err := channel.QueueBind(queue.Name, key, g.cfg.Exchange, false, nil); err != nil {
				conn.Close()
				return errors.Wrapf(err, "failed to bind queue to %s", key)
			}
		}

		deliveries, err = channel.Consume(
			queue.Name,
			"",    // consumer tag
			false, // manual ack
			false, // exclusive
			false, // no-local
			false, // no-wait
			nil,
		)
		if err != nil {
			conn.Close()
			return errors.Wrap(err, "failed to start consumer")
		}
	}

	g.mu.Lock()
	g.conn = conn
	g.channel = channel
	g.connected = true
	g.mu.Unlock()

	if deliveries != nil {
		g.wg.Add(1)
		go g.consumeLoop(deliveries)
	}

	return nil
}

// supervise watches for connection loss and redials with capped
// exponential backoff until the context is cancelled.
func (g *Gateway) supervise() {
	defer g.wg.Done()

	for {
		g.mu.RLock()
		conn := g.conn
		g.mu.RUnlock()

		closed := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-g.ctx.Done():
			return
		case amqpErr := <-closed:
			g.mu.Lock()
			g.connected = false
			g.mu.Unlock()

			if amqpErr == nil {
				// Clean shutdown closed the connection
				return
			}
			g.logger.Errorw("Broker connection lost",
				"error", amqpErr,
			)
		}

		backoff := g.cfg.ReconnectMin
		for {
			select {
			case <-g.ctx.Done():
				return
			case <-time.After(backoff):
			}

			if err := g.connect(); err != nil {
				g.logger.Warnw("Broker reconnect failed",
					"error", err,
					"next_attempt_in", nextBackoff(backoff, g.cfg.ReconnectMax),
				)
				backoff = nextBackoff(backoff, g.cfg.ReconnectMax)
				continue
			}

			g.logger.Infow("Broker reconnected")
			break
		}
	}
}

// consumeLoop processes inbound result messages until the channel closes.
// A handler error nacks and requeues; an undecodable body is rejected
// without requeue (dead-letter path). The loop itself never crashes on a
// bad message.
func (g *Gateway) consumeLoop(deliveries <-chan amqp.Delivery) {
	defer g.wg.Done()

	for msg := range deliveries {
		event, err := ParseResultEvent(msg.Body)
		if err != nil {
			g.logger.Errorw("Rejecting undecodable result message",
				"error", err,
				"routing_key", msg.RoutingKey,
			)
			if rejectErr := msg.Reject(false); rejectErr != nil {
				g.logger.Warnw("Failed to reject message", "error", rejectErr)
			}
			continue
		}

		if err := g.handler(g.ctx, event); err != nil {
			g.logger.Errorw("Result handler failed, requeueing message",
				"job_id", event.JobID,
				"error", err,
			)
			if nackErr := msg.Nack(false, true); nackErr != nil {
				g.logger.Warnw("Failed to nack message", "error", nackErr)
			}
			continue
		}

		if err := msg.Ack(false); err != nil {
			g.logger.Warnw("Failed to ack message",
				"job_id", event.JobID,
				"error", err,
			)
		}
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
