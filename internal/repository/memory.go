package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/live-commerce/internal/model"
)

// MemoryStore is a mutex-based in-memory SessionStore and ProductStore.  It
// backs STORE_DRIVER=memory and the service tests.  Values are cloned on the
// way in and out so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   uint64
	sessions map[uint64]*model.Session
	products map[string]*model.SessionProduct // surrogate id -> row
	now      func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uint64]*model.Session),
		products: make(map[string]*model.SessionProduct),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func cloneSession(s *model.Session) *model.Session {
	cp := *s
	return &cp
}

// Create assigns an id and room name and stores the session.
func (m *MemoryStore) Create(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	now := m.now()
	s.ID = m.nextID
	s.RoomName = model.RoomNameFor(s.ID)
	if s.State == "" {
		s.State = model.SessionScheduled
	}
	s.CreatedAt, s.UpdatedAt = now, now
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

// Get returns a session by id.
func (m *MemoryStore) Get(_ context.Context, id uint64) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(s), nil
}

// ListOpen returns Scheduled and Live sessions after afterID, oldest first.
func (m *MemoryStore) ListOpen(_ context.Context, afterID uint64, limit int) ([]*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Session, 0)
	for _, s := range m.sessions {
		if s.ID > afterID && s.State != model.SessionEnded {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateState writes the lifecycle fields of s.
func (m *MemoryStore) UpdateState(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[s.ID]
	if !ok {
		return ErrNotFound
	}
	cur.State = s.State
	cur.IdleSince = s.IdleSince
	cur.LiveAt = s.LiveAt
	cur.EndedAt = s.EndedAt
	cur.UpdatedAt = m.now()
	s.UpdatedAt = cur.UpdatedAt
	return nil
}

// findByKey must be called with m.mu held.
func (m *MemoryStore) findByKey(key model.ProductKey) *model.SessionProduct {
	for _, p := range m.products {
		if !p.Deleted && p.Key() == key {
			return p
		}
	}
	return nil
}

// Insert stores p, enforcing natural key uniqueness among live rows.
func (m *MemoryStore) Insert(_ context.Context, p *model.SessionProduct) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findByKey(p.Key()) != nil {
		return ErrDuplicate
	}
	if _, ok := m.products[p.ID]; ok {
		return ErrDuplicate
	}
	now := m.now()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.Version == 0 {
		p.Version = 1
	}
	m.products[p.ID] = p.Clone()
	return nil
}

// GetByID returns a live row of sessionID by surrogate id.
func (m *MemoryStore) GetByID(_ context.Context, sessionID uint64, id string) (*model.SessionProduct, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok || p.Deleted || p.SessionID != sessionID {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// GetByKey returns a live row by natural key.
func (m *MemoryStore) GetByKey(_ context.Context, key model.ProductKey) (*model.SessionProduct, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.findByKey(key)
	if p == nil {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// GetPinned returns the pinned row of the session.
func (m *MemoryStore) GetPinned(_ context.Context, sessionID uint64) (*model.SessionProduct, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.products {
		if !p.Deleted && p.SessionID == sessionID && p.Pinned {
			return p.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// ListBySession returns live rows, pinned first, then oldest first.
func (m *MemoryStore) ListBySession(_ context.Context, sessionID uint64) ([]*model.SessionProduct, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.SessionProduct, 0)
	for _, p := range m.products {
		if !p.Deleted && p.SessionID == sessionID {
			out = append(out, p.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Pinned != out[j].Pinned {
			return out[i].Pinned
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateSnapshot writes price, stock and promotion fields under a version
// check.
func (m *MemoryStore) UpdateSnapshot(_ context.Context, p *model.SessionProduct) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.products[p.ID]
	if !ok || cur.Deleted {
		return ErrNotFound
	}
	if cur.Version != p.Version {
		return ErrConflict
	}
	upd := p.Clone()
	cur.PriceCents = upd.PriceCents
	cur.Stock = upd.Stock
	cur.PromotionID = upd.PromotionID
	cur.PromotionPrice = upd.PromotionPrice
	cur.UpdatedBy = upd.UpdatedBy
	cur.UpdatedAt = m.now()
	cur.Version++
	p.Version, p.UpdatedAt = cur.Version, cur.UpdatedAt
	return nil
}

// SwapPin runs the unpin-all-then-pin sequence under the store mutex.
func (m *MemoryStore) SwapPin(_ context.Context, key model.ProductKey, actor uint64) (*model.SessionProduct, []*model.SessionProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target := m.findByKey(key)
	if target == nil {
		return nil, nil, ErrNotFound
	}
	now := m.now()
	var unpinned []*model.SessionProduct
	for _, p := range m.products {
		if p.Deleted || p.SessionID != key.SessionID || !p.Pinned || p.ID == target.ID {
			continue
		}
		p.Pinned = false
		p.Version++
		p.UpdatedBy, p.UpdatedAt = actor, now
		unpinned = append(unpinned, p.Clone())
	}
	if !target.Pinned {
		target.Pinned = true
		target.Version++
		target.UpdatedBy, target.UpdatedAt = actor, now
	}
	return target.Clone(), unpinned, nil
}

// Unpin clears the pin flag of key.
func (m *MemoryStore) Unpin(_ context.Context, key model.ProductKey, actor uint64) (*model.SessionProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target := m.findByKey(key)
	if target == nil {
		return nil, ErrNotFound
	}
	if target.Pinned {
		target.Pinned = false
		target.Version++
		target.UpdatedBy, target.UpdatedAt = actor, m.now()
	}
	return target.Clone(), nil
}

// SoftDelete marks key deleted.
func (m *MemoryStore) SoftDelete(_ context.Context, key model.ProductKey, actor uint64) (*model.SessionProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target := m.findByKey(key)
	if target == nil {
		return nil, ErrNotFound
	}
	target.Deleted = true
	target.Pinned = false
	target.Version++
	target.UpdatedBy, target.UpdatedAt = actor, m.now()
	return target.Clone(), nil
}

var (
	_ SessionStore = (*MemoryStore)(nil)
	_ ProductStore = (*MemoryStore)(nil)
)
