package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/iliyamo/live-commerce/internal/metrics"
	"github.com/iliyamo/live-commerce/internal/queue"
)

// AMQPChannel is the part of *amqp.Channel the publisher uses.
type AMQPChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Dialer opens a channel and returns it with a function closing the
// underlying connection.
type Dialer func(url string) (AMQPChannel, func(), error)

// DialAMQP is the production Dialer.
func DialAMQP(url string) (AMQPChannel, func(), error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return ch, func() { _ = conn.Close() }, nil
}

// EventPublisher fans product events out to a RabbitMQ topic exchange with
// routing key "session.<id>".  Publish never blocks the request: events are
// buffered and sent by a background worker, and dropped when the buffer is
// full or the broker is down.  Delivery is at most once.
type EventPublisher struct {
	url      string
	exchange string
	dial     Dialer
	log      zerolog.Logger
	events   chan queue.ProductEvent

	ch        AMQPChannel
	closeConn func()

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	stopped   chan struct{}
	mu        sync.RWMutex
}

// NewEventPublisher creates a publisher.  buffer is the number of events
// kept while the worker is busy.
func NewEventPublisher(url, exchange string, buffer int, dial Dialer, log zerolog.Logger) *EventPublisher {
	if buffer < 1 {
		buffer = 256
	}
	if dial == nil {
		dial = DialAMQP
	}
	return &EventPublisher{
		url:      url,
		exchange: exchange,
		dial:     dial,
		log:      log.With().Str("component", "event-publisher").Logger(),
		events:   make(chan queue.ProductEvent, buffer),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Publish queues ev for delivery.
func (p *EventPublisher) Publish(_ context.Context, ev queue.ProductEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	select {
	case <-p.stopped:
		metrics.EventsPublished.WithLabelValues("dropped").Inc()
		return
	default:
	}
	select {
	case p.events <- ev:
	default:
		metrics.EventsPublished.WithLabelValues("dropped").Inc()
		p.log.Warn().Uint64("session_id", ev.SessionID).Str("type", ev.Type).Msg("event buffer full, dropping event")
	}
}

// Start launches the delivery worker.
func (p *EventPublisher) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.run(ctx)
	})
}

// Stop delivers what is already buffered and closes the connection.
func (p *EventPublisher) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		close(p.stopped)
		p.mu.Unlock()
		close(p.done)
		p.wg.Wait()
		p.reset()
	})
}

func (p *EventPublisher) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case ev := <-p.events:
			p.deliver(ctx, ev)
		case <-ctx.Done():
			return
		case <-p.done:
			for {
				select {
				case ev := <-p.events:
					p.deliver(context.Background(), ev)
				default:
					return
				}
			}
		}
	}
}

func (p *EventPublisher) deliver(ctx context.Context, ev queue.ProductEvent) {
	if err := p.send(ctx, ev); err != nil {
		metrics.EventsPublished.WithLabelValues("error").Inc()
		p.log.Warn().Err(err).Uint64("session_id", ev.SessionID).Str("type", ev.Type).Msg("publish event")
		p.reset()
		return
	}
	metrics.EventsPublished.WithLabelValues("ok").Inc()
}

// channel opens the connection lazily and declares the exchange once.
func (p *EventPublisher) channel() (AMQPChannel, error) {
	if p.ch != nil {
		return p.ch, nil
	}
	ch, closeConn, err := p.dial(p.url)
	if err != nil {
		return nil, err
	}
	// Durable topic exchange; queues bind with session.* patterns.
	if err := ch.ExchangeDeclare(p.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		if closeConn != nil {
			closeConn()
		}
		return nil, err
	}
	p.ch, p.closeConn = ch, closeConn
	return ch, nil
}

func (p *EventPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.closeConn != nil {
		p.closeConn()
	}
	p.ch, p.closeConn = nil, nil
}

func (p *EventPublisher) send(ctx context.Context, ev queue.ProductEvent) error {
	ch, err := p.channel()
	if err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return ch.PublishWithContext(pctx,
		p.exchange,      // topic exchange
		ev.RoutingKey(), // session.<id>
		false,           // mandatory
		false,           // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Transient,
			Timestamp:    time.Now().UTC(),
			Type:         ev.Type,
			Body:         body,
		})
}
