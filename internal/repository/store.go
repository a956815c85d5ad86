package repository

import (
	"context"

	"github.com/iliyamo/live-commerce/internal/model"
)

// SessionStore persists live sessions.
type SessionStore interface {
	Create(ctx context.Context, s *model.Session) error
	Get(ctx context.Context, id uint64) (*model.Session, error)
	// ListOpen returns up to limit sessions that are Scheduled or Live and
	// whose id is greater than afterID, in id order.
	ListOpen(ctx context.Context, afterID uint64, limit int) ([]*model.Session, error)
	// UpdateState writes State, IdleSince, LiveAt and EndedAt.
	UpdateState(ctx context.Context, s *model.Session) error
}

// ProductStore persists the Session Catalog.  Every method ignores
// soft-deleted rows.
type ProductStore interface {
	Insert(ctx context.Context, p *model.SessionProduct) error
	GetByID(ctx context.Context, sessionID uint64, id string) (*model.SessionProduct, error)
	GetByKey(ctx context.Context, key model.ProductKey) (*model.SessionProduct, error)
	// GetPinned returns ErrNotFound when nothing is pinned.
	GetPinned(ctx context.Context, sessionID uint64) (*model.SessionProduct, error)
	// ListBySession returns the pinned row first, then by creation time.
	ListBySession(ctx context.Context, sessionID uint64) ([]*model.SessionProduct, error)
	// UpdateSnapshot writes price, stock and promotion fields when p.Version
	// still matches the stored row, and bumps the version.
	UpdateSnapshot(ctx context.Context, p *model.SessionProduct) error
	// SwapPin clears the pin flag of every row in the session and sets it on
	// key, as one indivisible operation.  It returns the pinned row and the
	// rows that lost their pin.
	SwapPin(ctx context.Context, key model.ProductKey, actor uint64) (*model.SessionProduct, []*model.SessionProduct, error)
	// Unpin clears the pin flag of key only.
	Unpin(ctx context.Context, key model.ProductKey, actor uint64) (*model.SessionProduct, error)
	// SoftDelete marks key deleted and clears its pin flag.
	SoftDelete(ctx context.Context, key model.ProductKey, actor uint64) (*model.SessionProduct, error)
}
