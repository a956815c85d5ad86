package upstream

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ShopClient asks the shop service about product ownership.
type ShopClient struct {
	*Client
}

// NewShopClient creates a ShopClient.
func NewShopClient(baseURL string, timeout time.Duration, log zerolog.Logger) *ShopClient {
	return &ShopClient{Client: NewClient("shop", baseURL, timeout, log)}
}

type ownership struct {
	Owned bool `json:"owned"`
}

// ShopOwnsProduct reports whether shopID sells productID.  A 404 means no.
func (c *ShopClient) ShopOwnsProduct(ctx context.Context, productID, shopID uint64) (bool, error) {
	var o ownership
	found, err := c.getJSON(ctx, fmt.Sprintf("/shops/%d/products/%d", shopID, productID), &o)
	if err != nil || !found {
		return false, err
	}
	return o.Owned, nil
}
