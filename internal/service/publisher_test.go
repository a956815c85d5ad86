package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/live-commerce/internal/queue"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu        sync.Mutex
	declared  []string
	published []published
	failNext  bool
	closed    bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declared = append(f.declared, name+":"+kind)
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("channel closed")
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) snapshot() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

type fakeBroker struct {
	mu       sync.Mutex
	dials    int
	down     bool
	channels []*fakeChannel
}

func (b *fakeBroker) dial(string) (AMQPChannel, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if b.down {
		return nil, nil, errors.New("connection refused")
	}
	ch := &fakeChannel{}
	b.channels = append(b.channels, ch)
	return ch, func() {}, nil
}

func (b *fakeBroker) all() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []published
	for _, ch := range b.channels {
		out = append(out, ch.snapshot()...)
	}
	return out
}

func TestPublisherRoutesBySession(t *testing.T) {
	b := &fakeBroker{}
	p := NewEventPublisher("amqp://test", "live.commerce", 8, b.dial, zerolog.Nop())
	p.Start(context.Background())

	p.Publish(context.Background(), queue.ProductEvent{Type: queue.EventPinned, SessionID: 42, ProductID: 7, Pinned: true, Price: 100, Stock: 3})
	p.Publish(context.Background(), queue.ProductEvent{Type: queue.EventAttached, SessionID: 43, ProductID: 8})
	p.Stop()

	msgs := b.all()
	require.Len(t, msgs, 2)
	require.Equal(t, "live.commerce", msgs[0].exchange)
	require.Equal(t, "session.42", msgs[0].key)
	require.Equal(t, "session.43", msgs[1].key)
	require.Equal(t, "application/json", msgs[0].msg.ContentType)

	var ev queue.ProductEvent
	require.NoError(t, json.Unmarshal(msgs[0].msg.Body, &ev))
	require.True(t, ev.Pinned)
	require.Equal(t, int64(100), ev.Price)

	require.Equal(t, 1, b.dials)
	require.Equal(t, []string{"live.commerce:topic"}, b.channels[0].declared)
	require.True(t, b.channels[0].closed)
}

func TestPublisherDropsWhileBrokerDown(t *testing.T) {
	b := &fakeBroker{down: true}
	p := NewEventPublisher("amqp://test", "live.commerce", 8, b.dial, zerolog.Nop())
	p.Start(context.Background())

	p.Publish(context.Background(), queue.ProductEvent{Type: queue.EventPinned, SessionID: 1})
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.dials == 1
	}, time.Second, time.Millisecond)

	b.mu.Lock()
	b.down = false
	b.mu.Unlock()
	p.Publish(context.Background(), queue.ProductEvent{Type: queue.EventPinned, SessionID: 2})
	p.Stop()

	msgs := b.all()
	require.Len(t, msgs, 1)
	require.Equal(t, "session.2", msgs[0].key)
}

func TestPublisherReconnectsAfterPublishError(t *testing.T) {
	b := &fakeBroker{}
	p := NewEventPublisher("amqp://test", "live.commerce", 8, b.dial, zerolog.Nop())

	// deliver synchronously without the worker
	p.deliver(context.Background(), queue.ProductEvent{SessionID: 1})
	b.channels[0].mu.Lock()
	b.channels[0].failNext = true
	b.channels[0].mu.Unlock()
	p.deliver(context.Background(), queue.ProductEvent{SessionID: 2})
	p.deliver(context.Background(), queue.ProductEvent{SessionID: 3})

	require.Equal(t, 2, b.dials)
	require.True(t, b.channels[0].closed)
	keys := []string{}
	for _, m := range b.all() {
		keys = append(keys, m.key)
	}
	require.Equal(t, []string{"session.1", "session.3"}, keys)
}

func TestPublishAfterStopIsDropped(t *testing.T) {
	b := &fakeBroker{}
	p := NewEventPublisher("amqp://test", "live.commerce", 1, b.dial, zerolog.Nop())
	p.Start(context.Background())
	p.Stop()
	p.Publish(context.Background(), queue.ProductEvent{SessionID: 1})
	require.Empty(t, b.all())
}
