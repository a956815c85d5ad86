package commerce

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/live-commerce/internal/model"
)

func TestCheckPromotionBoundaries(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	window := func(start, end time.Time) *model.PromotionWindow {
		return &model.PromotionWindow{ID: 1, ProductID: 9, StartTime: start, EndTime: end, Active: true, PromotionalPrice: 80}
	}

	cases := []struct {
		name string
		w    *model.PromotionWindow
		want string
	}{
		{"starts now", window(now, now.Add(time.Hour)), ""},
		{"ends now", window(now.Add(-time.Hour), now), ""},
		{"ended a second ago", window(now.Add(-time.Hour), now.Add(-time.Second)), PromotionExpired},
		{"starts in a second", window(now.Add(time.Second), now.Add(time.Hour)), PromotionNotStarted},
		{"missing", nil, PromotionNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CheckPromotion(tc.w, 9, 0, now))
		})
	}
}

func TestCheckPromotionOrder(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expiredInactive := &model.PromotionWindow{ProductID: 9, StartTime: now.Add(-2 * time.Hour), EndTime: now.Add(-time.Hour)}

	// product mismatch wins over every later check
	assert.Equal(t, PromotionMismatch, CheckPromotion(expiredInactive, 10, 0, now))
	// the window is checked before the active flag
	assert.Equal(t, PromotionExpired, CheckPromotion(expiredInactive, 9, 0, now))

	inactive := &model.PromotionWindow{ProductID: 9, StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour)}
	assert.Equal(t, PromotionInactive, CheckPromotion(inactive, 9, 0, now))
}

func TestCheckPromotionVariants(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := &model.PromotionWindow{ProductID: 9, VariantID: 3, StartTime: now, EndTime: now.Add(time.Hour), Active: true}

	assert.Equal(t, "", CheckPromotion(w, 9, 3, now))
	assert.Equal(t, PromotionMismatch, CheckPromotion(w, 9, 4, now))
	// a base product cannot use a variant promotion
	assert.Equal(t, PromotionMismatch, CheckPromotion(w, 9, 0, now))

	base := &model.PromotionWindow{ProductID: 9, StartTime: now, EndTime: now.Add(time.Hour), Active: true}
	assert.Equal(t, PromotionMismatch, CheckPromotion(base, 9, 3, now))
}

func TestGateValidate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	up := newFakeUpstream()
	up.promotions[5] = &model.PromotionWindow{ID: 5, ProductID: 9, StartTime: now.Add(-time.Hour), EndTime: now.Add(-time.Second), Active: true}
	up.promotions[6] = &model.PromotionWindow{ID: 6, ProductID: 9, StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour), Active: true, PromotionalPrice: 70}
	g := NewGate(up)

	w, err := g.Validate(context.Background(), 6, 9, 0, now)
	require.NoError(t, err)
	require.Equal(t, int64(70), w.PromotionalPrice)

	_, err = g.Validate(context.Background(), 5, 9, 0, now)
	require.Equal(t, KindValidation, KindOf(err))
	require.Equal(t, PromotionExpired, ReasonOf(err))

	_, err = g.Validate(context.Background(), 404, 9, 0, now)
	require.Equal(t, PromotionNotFound, ReasonOf(err))

	up.err = errors.New("connection refused")
	_, err = g.Validate(context.Background(), 6, 9, 0, now)
	require.Equal(t, KindUpstreamUnavailable, KindOf(err))
}
