package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/iliyamo/live-commerce/internal/metrics"
	"github.com/iliyamo/live-commerce/internal/model"
)

// TopicCommerce is the room data topic product events are relayed on.
const TopicCommerce = "commerce"

// DataSender delivers a payload to every participant of a room.
type DataSender interface {
	SendData(ctx context.Context, room string, payload []byte, topic string) error
}

// Relay consumes product events from the session exchange and forwards each
// one into the room of its session as a reliable data message.
type Relay struct {
	url      string
	exchange string
	queue    string
	rooms    DataSender
	timeout  time.Duration
	log      zerolog.Logger
}

// NewRelay creates a relay bound to exchange through a durable queue.
func NewRelay(url, exchange, queue string, rooms DataSender, timeout time.Duration, log zerolog.Logger) *Relay {
	return &Relay{
		url:      url,
		exchange: exchange,
		queue:    queue,
		rooms:    rooms,
		timeout:  timeout,
		log:      log.With().Str("component", "event-relay").Logger(),
	}
}

// Run connects to the broker and consumes until ctx is cancelled.  Broker
// failures are retried with a doubling delay capped at 30s.
func (r *Relay) Run(ctx context.Context) error {
	delay := time.Second
	for {
		conn, err := amqp.Dial(r.url)
		if err != nil {
			r.log.Warn().Err(err).Dur("retry_in", delay).Msg("failed to dial broker")
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
			if delay < 30*time.Second {
				delay *= 2
			}
			continue
		}
		delay = time.Second

		err = r.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Warn().Err(err).Msg("consume loop ended, reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (r *Relay) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		r.log.Warn().Err(err).Msg("set QoS failed")
	}
	if err := ch.ExchangeDeclare(r.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	if _, err := ch.QueueDeclare(r.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(r.queue, "session.*", r.exchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}
	msgs, err := ch.Consume(r.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	r.log.Info().Str("queue", r.queue).Str("exchange", r.exchange).Msg("relay consuming")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := r.HandleMessage(ctx, d.Body); err != nil {
				r.log.Warn().Err(err).Str("routing_key", d.RoutingKey).Msg("relay message failed")
				// rejected without requeue; delivery into rooms is at most once
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// HandleMessage forwards one encoded ProductEvent to its session room.
func (r *Relay) HandleMessage(ctx context.Context, body []byte) error {
	var ev ProductEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		metrics.EventsRelayed.WithLabelValues("invalid").Inc()
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.SessionID == 0 || ev.Type == "" {
		metrics.EventsRelayed.WithLabelValues("invalid").Inc()
		return errors.New("event without session or type")
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if err := r.rooms.SendData(ctx, model.RoomNameFor(ev.SessionID), body, TopicCommerce); err != nil {
		metrics.EventsRelayed.WithLabelValues("error").Inc()
		return fmt.Errorf("send to room: %w", err)
	}
	metrics.EventsRelayed.WithLabelValues("ok").Inc()
	return nil
}
