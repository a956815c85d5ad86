package commerce

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/live-commerce/internal/metrics"
	"github.com/iliyamo/live-commerce/internal/model"
	"github.com/iliyamo/live-commerce/internal/queue"
	"github.com/iliyamo/live-commerce/internal/repository"
)

func pinResult(err error, changed, pinned bool) string {
	switch {
	case err != nil && KindOf(err) == KindInternal:
		return "error"
	case err != nil:
		return "rejected"
	case !changed:
		return "noop"
	case pinned:
		return "pinned"
	default:
		return "unpinned"
	}
}

// SetPin pins or unpins the product at key.
//
// Pinning swaps: every other pinned row of the session is cleared in the
// same store operation that sets the target, and the whole read-modify-write
// runs inside the session lock.  Pinning the already pinned product is a
// no-op.  Unpinning touches the target only.
func (c *Catalog) SetPin(ctx context.Context, sessionID uint64, key model.ProductKey, pinned bool, actor uint64) (*model.SessionProduct, error) {
	key.SessionID = sessionID
	return c.setPin(ctx, sessionID, pinned, actor, func(context.Context) (model.ProductKey, error) {
		return key, nil
	})
}

// SetPinRef resolves ref (surrogate id or "<productId>[:<variantId>]") and
// pins or unpins that product like SetPin.
func (c *Catalog) SetPinRef(ctx context.Context, sessionID uint64, ref string, pinned bool, actor uint64) (*model.SessionProduct, error) {
	return c.setPin(ctx, sessionID, pinned, actor, func(ctx context.Context) (model.ProductKey, error) {
		p, err := c.Resolve(ctx, sessionID, ref)
		if err != nil {
			return model.ProductKey{}, err
		}
		return p.Key(), nil
	})
}

// setPin authorizes actor once, then resolves the target key.
func (c *Catalog) setPin(ctx context.Context, sessionID uint64, pinned bool, actor uint64, resolve func(context.Context) (model.ProductKey, error)) (out *model.SessionProduct, err error) {
	var (
		changed  bool
		unpinned []*model.SessionProduct
	)
	defer func() { metrics.PinSwaps.WithLabelValues(pinResult(err, changed, pinned)).Inc() }()

	if _, err := c.ownedSession(ctx, sessionID, actor, "pin"); err != nil {
		return nil, err
	}
	key, err := resolve(ctx)
	if err != nil {
		return nil, err
	}

	// promotion lookups stay outside the lock
	if pinned {
		target, err := c.products.GetByKey(ctx, key)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NotFound(ReasonNotAttached, "product not attached")
		}
		if err != nil {
			return nil, fmt.Errorf("load session product: %w", err)
		}
		if !target.Pinned && target.PromotionID != nil {
			if _, err := c.gate.Validate(ctx, *target.PromotionID, target.ProductID, target.VariantID, c.now()); err != nil {
				return nil, err
			}
		}
	}

	err = c.locker.WithLock(ctx, sessionID, func(ctx context.Context) error {
		if err := c.openSession(ctx, sessionID); err != nil {
			return err
		}
		target, err := c.products.GetByKey(ctx, key)
		if errors.Is(err, repository.ErrNotFound) {
			return NotFound(ReasonNotAttached, "product not attached")
		}
		if err != nil {
			return fmt.Errorf("load session product: %w", err)
		}

		if !pinned {
			if !target.Pinned {
				out = target
				return nil
			}
			out, err = c.products.Unpin(ctx, key, actor)
			if err != nil {
				return fmt.Errorf("unpin: %w", err)
			}
			changed = true
			return nil
		}

		wasPinned := target.Pinned
		out, unpinned, err = c.products.SwapPin(ctx, key, actor)
		if errors.Is(err, repository.ErrNotFound) {
			return NotFound(ReasonNotAttached, "product not attached")
		}
		if err != nil {
			return fmt.Errorf("swap pin: %w", err)
		}
		changed = !wasPinned || len(unpinned) > 0
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		c.log.Info().Uint64("session_id", sessionID).Uint64("product_id", key.ProductID).
			Uint64("variant_id", key.VariantID).Bool("pinned", pinned).Int("unpinned", len(unpinned)).Msg("pin changed")
		for _, p := range unpinned {
			c.emit(ctx, queue.EventUnpinned, p)
		}
		if pinned {
			c.emit(ctx, queue.EventPinned, out)
		} else {
			c.emit(ctx, queue.EventUnpinned, out)
		}
	}
	return out, nil
}

