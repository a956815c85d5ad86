package model

// Product is the catalog view of a product as returned by the catalog
// service.
type Product struct {
	ID        uint64 `json:"id"`
	Name      string `json:"name"`
	Image     string `json:"image"`
	BasePrice int64  `json:"base_price"`
	Stock     int    `json:"stock"`
	ShopID    uint64 `json:"shop_id"`
}

// Variant is a purchasable variant of a Product.
type Variant struct {
	ID        uint64 `json:"id"`
	ProductID uint64 `json:"product_id"`
	Name      string `json:"name"`
	SKU       string `json:"sku"`
	Stock     int    `json:"stock"`
}
