// Package queue defines message payloads exchanged over the message broker
// and the relay that forwards them into session rooms.
package queue

import (
	"strconv"
	"time"

	"github.com/iliyamo/live-commerce/internal/model"
)

// Product event types.
const (
	EventAttached = "product.attached"
	EventUpdated  = "product.updated"
	EventPinned   = "product.pinned"
	EventUnpinned = "product.unpinned"
	EventDetached = "product.detached"
)

// ProductEvent is published after a session catalog mutation.  It carries
// enough for viewers to redraw the product card without querying the
// service.
type ProductEvent struct {
	Type       string `json:"type"`
	SessionID  uint64 `json:"session_id"`
	ProductID  uint64 `json:"product_id"`
	VariantID  uint64 `json:"variant_id,omitempty"`
	Pinned     bool   `json:"pinned"`
	Price      int64  `json:"price"`
	Stock      int    `json:"stock"`
	OccurredAt string `json:"occurred_at"`
}

// NewProductEvent snapshots p into an event of the given type.
func NewProductEvent(typ string, p *model.SessionProduct, at time.Time) ProductEvent {
	return ProductEvent{
		Type:       typ,
		SessionID:  p.SessionID,
		ProductID:  p.ProductID,
		VariantID:  p.VariantID,
		Pinned:     p.Pinned,
		Price:      p.DisplayPrice(),
		Stock:      p.Stock,
		OccurredAt: at.UTC().Format(time.RFC3339),
	}
}

// RoutingKey is the session-scoped topic of the event.
func (e ProductEvent) RoutingKey() string { return RoutingKeyFor(e.SessionID) }

// RoutingKeyFor returns "session.<id>".
func RoutingKeyFor(sessionID uint64) string {
	return "session." + strconv.FormatUint(sessionID, 10)
}
