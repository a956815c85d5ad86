package upstream

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"github.com/iliyamo/live-commerce/internal/model"
)

type cachedProduct struct {
	product   *model.Product
	expiresAt time.Time
}

// CatalogClient reads products, variants and promotions from the catalog
// service.  Products are cached for ttl; promotions are always fetched.
type CatalogClient struct {
	*Client
	cache *lru.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewCatalogClient creates a CatalogClient.  cacheSize 0 disables the
// product cache.
func NewCatalogClient(baseURL string, timeout time.Duration, cacheSize int, ttl time.Duration, log zerolog.Logger) (*CatalogClient, error) {
	c := &CatalogClient{Client: NewClient("catalog", baseURL, timeout, log), ttl: ttl, now: time.Now}
	if cacheSize > 0 && ttl > 0 {
		cache, err := lru.New(cacheSize)
		if err != nil {
			return nil, fmt.Errorf("product cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

// GetProduct returns the product or nil when the catalog does not know it.
func (c *CatalogClient) GetProduct(ctx context.Context, id uint64) (*model.Product, error) {
	if c.cache != nil {
		if v, ok := c.cache.Get(id); ok {
			entry := v.(cachedProduct)
			if c.now().Before(entry.expiresAt) {
				cp := *entry.product
				return &cp, nil
			}
			c.cache.Remove(id)
		}
	}
	var p model.Product
	found, err := c.getJSON(ctx, fmt.Sprintf("/products/%d", id), &p)
	if err != nil || !found {
		return nil, err
	}
	if c.cache != nil {
		cp := p
		c.cache.Add(id, cachedProduct{product: &cp, expiresAt: c.now().Add(c.ttl)})
	}
	return &p, nil
}

// GetVariant returns the variant of productID or nil.
func (c *CatalogClient) GetVariant(ctx context.Context, productID, variantID uint64) (*model.Variant, error) {
	var v model.Variant
	found, err := c.getJSON(ctx, fmt.Sprintf("/products/%d/variants/%d", productID, variantID), &v)
	if err != nil || !found {
		return nil, err
	}
	if v.ProductID == 0 {
		v.ProductID = productID
	}
	if v.ProductID != productID {
		return nil, nil
	}
	return &v, nil
}

// GetPromotion returns the promotional window or nil.
func (c *CatalogClient) GetPromotion(ctx context.Context, id uint64) (*model.PromotionWindow, error) {
	var w model.PromotionWindow
	found, err := c.getJSON(ctx, fmt.Sprintf("/promotions/%d", id), &w)
	if err != nil || !found {
		return nil, err
	}
	return &w, nil
}
