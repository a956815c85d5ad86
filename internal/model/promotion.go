package model

import "time"

// PromotionWindow is a time-bounded discounted price owned by the catalog
// service.  This service only validates against it.
type PromotionWindow struct {
	ID               uint64    `json:"id"`
	ProductID        uint64    `json:"product_id"`
	VariantID        uint64    `json:"variant_id,omitempty"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	Active           bool      `json:"active"`
	PromotionalPrice int64     `json:"promotional_price"`
}
