package commerce

import (
	"context"
	"time"

	"github.com/iliyamo/live-commerce/internal/model"
)

// Promotion gate rejection reasons.
const (
	PromotionNotFound   = "NotFound"
	PromotionMismatch   = "Mismatch"
	PromotionNotStarted = "NotStarted"
	PromotionExpired    = "Expired"
	PromotionInactive   = "Inactive"
)

var promotionMessages = map[string]string{
	PromotionNotFound:   "promotion not found",
	PromotionMismatch:   "promotion does not apply to this product",
	PromotionNotStarted: "promotion has not started",
	PromotionExpired:    "promotion has expired",
	PromotionInactive:   "promotion not active",
}

// PromotionSource looks up promotional windows.  A missing window is
// reported as (nil, nil).
type PromotionSource interface {
	GetPromotion(ctx context.Context, id uint64) (*model.PromotionWindow, error)
}

// Gate validates promotional windows at attach and pin time.
type Gate struct {
	src PromotionSource
}

// NewGate creates a Gate reading windows from src.
func NewGate(src PromotionSource) *Gate { return &Gate{src: src} }

// Validate loads promotion promoID and checks it against the target
// product.  variantID zero means the base product.  A rejected window
// yields a Validation error whose Reason is one of the Promotion*
// constants.
func (g *Gate) Validate(ctx context.Context, promoID, productID, variantID uint64, now time.Time) (*model.PromotionWindow, error) {
	w, err := g.src.GetPromotion(ctx, promoID)
	if err != nil {
		return nil, Upstream("promotion lookup failed", err)
	}
	if reason := CheckPromotion(w, productID, variantID, now); reason != "" {
		return nil, Validation(reason, promotionMessages[reason])
	}
	return w, nil
}

// CheckPromotion runs the gate checks in order and returns the first
// failing reason, or "" when w applies.  Both window bounds are inclusive.
func CheckPromotion(w *model.PromotionWindow, productID, variantID uint64, now time.Time) string {
	switch {
	case w == nil:
		return PromotionNotFound
	case w.ProductID != productID:
		return PromotionMismatch
	case w.VariantID != variantID:
		// a base product only accepts a variant-less window
		return PromotionMismatch
	case now.Before(w.StartTime):
		return PromotionNotStarted
	case now.After(w.EndTime):
		return PromotionExpired
	case !w.Active:
		return PromotionInactive
	}
	return ""
}
