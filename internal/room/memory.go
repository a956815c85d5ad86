package room

import (
	"context"
	"sync"
)

// Message is a data packet recorded by MemoryGateway.
type Message struct {
	Room    string
	Topic   string
	Payload []byte
}

// MemoryGateway is an in-process Gateway for local development without a
// room provider.  Participant counts are set with Join and Leave.
type MemoryGateway struct {
	mu       sync.Mutex
	rooms    map[string]int
	messages []Message
	// Fail, when set, is returned by every call.
	Fail error
}

// NewMemoryGateway creates an empty MemoryGateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{rooms: make(map[string]int)}
}

func (m *MemoryGateway) EnsureRoom(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	if _, ok := m.rooms[name]; !ok {
		m.rooms[name] = 0
	}
	return nil
}

func (m *MemoryGateway) ParticipantCount(_ context.Context, name string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return 0, m.Fail
	}
	return m.rooms[name], nil
}

func (m *MemoryGateway) DeleteRoom(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	delete(m.rooms, name)
	return nil
}

func (m *MemoryGateway) SendData(_ context.Context, name string, payload []byte, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	cp := append([]byte(nil), payload...)
	m.messages = append(m.messages, Message{Room: name, Topic: topic, Payload: cp})
	return nil
}

// Join adds n participants to an existing or new room.
func (m *MemoryGateway) Join(name string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[name] += n
}

// Exists reports whether the room is present.
func (m *MemoryGateway) Exists(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rooms[name]
	return ok
}

// Messages returns a copy of every data packet sent so far.
func (m *MemoryGateway) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}

var _ Gateway = (*MemoryGateway)(nil)
