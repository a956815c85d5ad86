package model

import "time"

// ProductKey is the natural key of an attached product.  VariantID zero
// means the base product.
type ProductKey struct {
	SessionID uint64 `json:"session_id"`
	ProductID uint64 `json:"product_id"`
	VariantID uint64 `json:"variant_id,omitempty"`
}

// SessionProduct is a product (optionally a specific variant) attached to a
// Session.  (SessionID, ProductID, VariantID) is unique among non-deleted
// rows; ID is a surrogate used only for addressing the row from outside.
//
// Fields:
//
//	PriceCents     – session-local display price snapshot.
//	Stock          – session-local display stock, independent of the catalog.
//	Pinned         – at most one non-deleted row per session has it set.
//	PromotionID    – validated promotional window, if any.
//	PromotionPrice – promotional price copied from the window at validation.
//	Version        – bumped on every write.
//	Deleted        – soft-delete flag.
type SessionProduct struct {
	ID             string    `json:"id"`
	SessionID      uint64    `json:"session_id"`
	ProductID      uint64    `json:"product_id"`
	VariantID      uint64    `json:"variant_id,omitempty"`
	PriceCents     int64     `json:"price"`
	Stock          int       `json:"stock"`
	Pinned         bool      `json:"pinned"`
	PromotionID    *uint64   `json:"promotion_id,omitempty"`
	PromotionPrice *int64    `json:"promotion_price,omitempty"`
	Version        uint32    `json:"version"`
	Deleted        bool      `json:"-"`
	CreatedBy      uint64    `json:"created_by"`
	UpdatedBy      uint64    `json:"updated_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Key returns the natural key of the row.
func (p *SessionProduct) Key() ProductKey {
	return ProductKey{SessionID: p.SessionID, ProductID: p.ProductID, VariantID: p.VariantID}
}

// DisplayPrice is the price viewers see: the promotional price while one is
// attached, the snapshot price otherwise.
func (p *SessionProduct) DisplayPrice() int64 {
	if p.PromotionID != nil && p.PromotionPrice != nil {
		return *p.PromotionPrice
	}
	return p.PriceCents
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (p *SessionProduct) Clone() *SessionProduct {
	if p == nil {
		return nil
	}
	cp := *p
	if p.PromotionID != nil {
		v := *p.PromotionID
		cp.PromotionID = &v
	}
	if p.PromotionPrice != nil {
		v := *p.PromotionPrice
		cp.PromotionPrice = &v
	}
	return &cp
}
