package commerce

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iliyamo/live-commerce/internal/metrics"
	"github.com/iliyamo/live-commerce/internal/model"
	"github.com/iliyamo/live-commerce/internal/queue"
	"github.com/iliyamo/live-commerce/internal/repository"
)

// ProductCatalog is the catalog service as seen by this package.  Missing
// entities are reported as (nil, nil).
type ProductCatalog interface {
	PromotionSource
	GetProduct(ctx context.Context, id uint64) (*model.Product, error)
	GetVariant(ctx context.Context, productID, variantID uint64) (*model.Variant, error)
}

// ShopDirectory answers product ownership questions.
type ShopDirectory interface {
	ShopOwnsProduct(ctx context.Context, productID, shopID uint64) (bool, error)
}

// EventSink receives product events after a successful mutation.  Delivery
// is best effort and Publish must not block on the broker.
type EventSink interface {
	Publish(ctx context.Context, ev queue.ProductEvent)
}

// AttachInput describes a product to attach.  Nil Price or Stock take the
// catalog values.
type AttachInput struct {
	ProductID   uint64
	VariantID   uint64
	Price       *int64
	Stock       *int
	PromotionID *uint64
}

// EditInput changes the display snapshot of an attached product.
type EditInput struct {
	Price *int64
	Stock *int
}

// Catalog owns every mutation of the session catalog.  All writes for a
// session run inside the same Locker scope.
type Catalog struct {
	sessions repository.SessionStore
	products repository.ProductStore
	upstream ProductCatalog
	shops    ShopDirectory
	gate     *Gate
	locker   Locker
	events   EventSink
	log      zerolog.Logger
	now      func() time.Time
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLocker replaces the default in-process KeyedMutex.
func WithLocker(l Locker) Option { return func(c *Catalog) { c.locker = l } }

// WithEvents sets the sink that receives product events.
func WithEvents(s EventSink) Option { return func(c *Catalog) { c.events = s } }

// WithClock overrides time.Now, mainly for promotion tests.
func WithClock(now func() time.Time) Option { return func(c *Catalog) { c.now = now } }

// WithLogger sets the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Catalog) { c.log = l.With().Str("component", "catalog").Logger() }
}

// NewCatalog wires a Catalog over the given stores and collaborators.
func NewCatalog(sessions repository.SessionStore, products repository.ProductStore, upstream ProductCatalog, shops ShopDirectory, opts ...Option) *Catalog {
	c := &Catalog{
		sessions: sessions,
		products: products,
		upstream: upstream,
		shops:    shops,
		gate:     NewGate(upstream),
		locker:   NewKeyedMutex(0),
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Locker returns the exclusion scope shared with session lifecycle writes.
func (c *Catalog) Locker() Locker { return c.locker }

func (c *Catalog) loadSession(ctx context.Context, id uint64) (*model.Session, error) {
	s, err := c.sessions.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NotFound(ReasonSessionNotFound, "session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load session %d: %w", id, err)
	}
	return s, nil
}

// ownedSession loads the session and checks that actor may run verb on it.
func (c *Catalog) ownedSession(ctx context.Context, id, actor uint64, verb string) (*model.Session, error) {
	s, err := c.loadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.OwnedBy(actor) {
		return nil, Unauthorized(ReasonNotOwner, "only session owner may "+verb)
	}
	return s, nil
}

// openSession reloads the session under the lock and rejects Ended ones.
func (c *Catalog) openSession(ctx context.Context, id uint64) error {
	s, err := c.loadSession(ctx, id)
	if err != nil {
		return err
	}
	if s.Ended() {
		return Conflict(ReasonSessionEnded, "session has ended")
	}
	return nil
}

// ParseKey parses "<productId>" or "<productId>:<variantId>".
func ParseKey(sessionID uint64, raw string) (model.ProductKey, error) {
	key := model.ProductKey{SessionID: sessionID}
	prod, variant, hasVariant := strings.Cut(raw, ":")
	var err error
	if key.ProductID, err = strconv.ParseUint(prod, 10, 64); err != nil || key.ProductID == 0 {
		return key, Validation(ReasonInvalidInput, "invalid product key")
	}
	if hasVariant {
		if key.VariantID, err = strconv.ParseUint(variant, 10, 64); err != nil {
			return key, Validation(ReasonInvalidInput, "invalid product key")
		}
	}
	return key, nil
}

// Resolve finds a live row by surrogate id or by natural key string.
func (c *Catalog) Resolve(ctx context.Context, sessionID uint64, ref string) (*model.SessionProduct, error) {
	var (
		p   *model.SessionProduct
		err error
	)
	if id, perr := uuid.Parse(ref); perr == nil {
		p, err = c.products.GetByID(ctx, sessionID, id.String())
	} else {
		key, kerr := ParseKey(sessionID, ref)
		if kerr != nil {
			return nil, kerr
		}
		p, err = c.products.GetByKey(ctx, key)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NotFound(ReasonNotAttached, "product not attached")
	}
	return p, err
}

func (c *Catalog) emit(ctx context.Context, typ string, p *model.SessionProduct) {
	if c.events == nil || p == nil {
		return
	}
	c.events.Publish(ctx, queue.NewProductEvent(typ, p, c.now()))
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return KindOf(err).String()
}

// Attach adds a product to the session.  The price and stock snapshot
// default to the catalog values, and a promotion reference must pass the
// Gate.
func (c *Catalog) Attach(ctx context.Context, sessionID, actor uint64, in AttachInput) (out *model.SessionProduct, err error) {
	defer func() { metrics.CatalogOps.WithLabelValues("attach", resultLabel(err)).Inc() }()

	if in.ProductID == 0 {
		return nil, Validation(ReasonInvalidInput, "product_id is required")
	}
	if in.Price != nil && *in.Price < 0 {
		return nil, Validation(ReasonInvalidInput, "price must not be negative")
	}
	if in.Stock != nil && *in.Stock < 0 {
		return nil, Validation(ReasonInvalidInput, "stock must not be negative")
	}
	s, err := c.ownedSession(ctx, sessionID, actor, "attach products")
	if err != nil {
		return nil, err
	}
	if s.Ended() {
		return nil, Conflict(ReasonSessionEnded, "session has ended")
	}

	product, err := c.upstream.GetProduct(ctx, in.ProductID)
	if err != nil {
		return nil, Upstream("catalog lookup failed", err)
	}
	if product == nil {
		return nil, NotFound(ReasonProductNotFound, "product not found")
	}
	owns, err := c.shops.ShopOwnsProduct(ctx, in.ProductID, s.ShopID)
	if err != nil {
		return nil, Upstream("shop lookup failed", err)
	}
	if !owns {
		return nil, Unauthorized(ReasonForeignProduct, "product does not belong to the session's shop")
	}
	price, stock := product.BasePrice, product.Stock
	if in.VariantID != 0 {
		v, err := c.upstream.GetVariant(ctx, in.ProductID, in.VariantID)
		if err != nil {
			return nil, Upstream("catalog lookup failed", err)
		}
		if v == nil {
			return nil, NotFound(ReasonVariantNotFound, "variant not found")
		}
		stock = v.Stock
	}
	if in.Price != nil {
		price = *in.Price
	}
	if in.Stock != nil {
		stock = *in.Stock
	}

	row := &model.SessionProduct{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		ProductID:  in.ProductID,
		VariantID:  in.VariantID,
		PriceCents: price,
		Stock:      stock,
		CreatedBy:  actor,
		UpdatedBy:  actor,
	}
	if in.PromotionID != nil {
		w, err := c.gate.Validate(ctx, *in.PromotionID, in.ProductID, in.VariantID, c.now())
		if err != nil {
			return nil, err
		}
		id, promo := w.ID, w.PromotionalPrice
		row.PromotionID, row.PromotionPrice = &id, &promo
	}

	err = c.locker.WithLock(ctx, sessionID, func(ctx context.Context) error {
		if err := c.openSession(ctx, sessionID); err != nil {
			return err
		}
		if err := c.products.Insert(ctx, row); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return Conflict(ReasonDuplicate, "product already attached")
			}
			return fmt.Errorf("insert session product: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.log.Info().Uint64("session_id", sessionID).Uint64("product_id", row.ProductID).
		Uint64("variant_id", row.VariantID).Str("id", row.ID).Msg("product attached")
	c.emit(ctx, queue.EventAttached, row)
	return row, nil
}

// Edit updates the price and/or stock snapshot of an attached product.
func (c *Catalog) Edit(ctx context.Context, sessionID, actor uint64, ref string, in EditInput) (out *model.SessionProduct, err error) {
	defer func() { metrics.CatalogOps.WithLabelValues("edit", resultLabel(err)).Inc() }()

	if in.Price == nil && in.Stock == nil {
		return nil, Validation(ReasonInvalidInput, "price or stock is required")
	}
	if in.Price != nil && *in.Price < 0 {
		return nil, Validation(ReasonInvalidInput, "price must not be negative")
	}
	if in.Stock != nil && *in.Stock < 0 {
		return nil, Validation(ReasonInvalidInput, "stock must not be negative")
	}
	if _, err := c.ownedSession(ctx, sessionID, actor, "edit products"); err != nil {
		return nil, err
	}
	err = c.locker.WithLock(ctx, sessionID, func(ctx context.Context) error {
		if err := c.openSession(ctx, sessionID); err != nil {
			return err
		}
		p, err := c.Resolve(ctx, sessionID, ref)
		if err != nil {
			return err
		}
		if in.Price != nil {
			p.PriceCents = *in.Price
		}
		if in.Stock != nil {
			p.Stock = *in.Stock
		}
		p.UpdatedBy = actor
		switch err := c.products.UpdateSnapshot(ctx, p); {
		case errors.Is(err, repository.ErrNotFound):
			return NotFound(ReasonNotAttached, "product not attached")
		case errors.Is(err, repository.ErrConflict):
			return Conflict(ReasonStale, "product changed concurrently, retry")
		case err != nil:
			return fmt.Errorf("update session product: %w", err)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.emit(ctx, queue.EventUpdated, out)
	return out, nil
}

// Detach soft-deletes an attached product.  A pinned product loses its pin.
func (c *Catalog) Detach(ctx context.Context, sessionID, actor uint64, ref string) (out *model.SessionProduct, err error) {
	defer func() { metrics.CatalogOps.WithLabelValues("detach", resultLabel(err)).Inc() }()

	if _, err := c.ownedSession(ctx, sessionID, actor, "remove products"); err != nil {
		return nil, err
	}
	err = c.locker.WithLock(ctx, sessionID, func(ctx context.Context) error {
		p, err := c.Resolve(ctx, sessionID, ref)
		if err != nil {
			return err
		}
		out, err = c.products.SoftDelete(ctx, p.Key(), actor)
		if errors.Is(err, repository.ErrNotFound) {
			return NotFound(ReasonNotAttached, "product not attached")
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	c.emit(ctx, queue.EventDetached, out)
	return out, nil
}

// List returns the attached products of a session, pinned first.
func (c *Catalog) List(ctx context.Context, sessionID uint64) ([]*model.SessionProduct, error) {
	if _, err := c.loadSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return c.products.ListBySession(ctx, sessionID)
}

// Pinned returns the pinned product of a session.
func (c *Catalog) Pinned(ctx context.Context, sessionID uint64) (*model.SessionProduct, error) {
	if _, err := c.loadSession(ctx, sessionID); err != nil {
		return nil, err
	}
	p, err := c.products.GetPinned(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, NotFound(ReasonNothingPinned, "no product pinned")
	}
	return p, err
}
