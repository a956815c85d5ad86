package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/live-commerce/internal/commerce"
)

// ProductHandler serves the session catalog routes.  A product is addressed
// by :key, either its surrogate id or "<productId>[:<variantId>]".
type ProductHandler struct {
	catalog *commerce.Catalog
	cache   CacheInvalidator
	log     zerolog.Logger
}

// NewProductHandler panics on a nil catalog.
func NewProductHandler(catalog *commerce.Catalog, cache CacheInvalidator, log zerolog.Logger) *ProductHandler {
	if catalog == nil {
		panic("nil catalog passed to NewProductHandler")
	}
	return &ProductHandler{catalog: catalog, cache: cache, log: log.With().Str("component", "product-handler").Logger()}
}

func (h *ProductHandler) invalidate(c echo.Context, sessionID uint64) {
	if h.cache != nil {
		h.cache.Invalidate(c.Request().Context(), sessionID)
	}
}

// Attach handles POST /sessions/:id/products.
func (h *ProductHandler) Attach(c echo.Context) error {
	actor, id, ok, err := requestIDs(c)
	if !ok {
		return err
	}
	var body struct {
		ProductID   uint64  `json:"productId"`
		VariantID   uint64  `json:"variantId"`
		Price       *int64  `json:"price"`
		Stock       *int    `json:"stock"`
		PromotionID *uint64 `json:"promotionId"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	p, err := h.catalog.Attach(c.Request().Context(), id, actor, commerce.AttachInput{
		ProductID:   body.ProductID,
		VariantID:   body.VariantID,
		Price:       body.Price,
		Stock:       body.Stock,
		PromotionID: body.PromotionID,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	h.invalidate(c, id)
	return c.JSON(http.StatusCreated, p)
}

// List handles GET /sessions/:id/products, pinned product first.
func (h *ProductHandler) List(c echo.Context) error {
	_, id, ok, err := requestIDs(c)
	if !ok {
		return err
	}
	items, err := h.catalog.List(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Pinned handles GET /sessions/:id/pinned.
func (h *ProductHandler) Pinned(c echo.Context) error {
	_, id, ok, err := requestIDs(c)
	if !ok {
		return err
	}
	p, err := h.catalog.Pinned(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, p)
}

// Edit handles PATCH /sessions/:id/products/:key.
func (h *ProductHandler) Edit(c echo.Context) error {
	actor, id, ok, err := requestIDs(c)
	if !ok {
		return err
	}
	var body struct {
		Price *int64 `json:"price"`
		Stock *int   `json:"stock"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	p, err := h.catalog.Edit(c.Request().Context(), id, actor, c.Param("key"), commerce.EditInput{Price: body.Price, Stock: body.Stock})
	if err != nil {
		return writeError(c, h.log, err)
	}
	h.invalidate(c, id)
	return c.JSON(http.StatusOK, p)
}

// Detach handles DELETE /sessions/:id/products/:key.
func (h *ProductHandler) Detach(c echo.Context) error {
	actor, id, ok, err := requestIDs(c)
	if !ok {
		return err
	}
	if _, err := h.catalog.Detach(c.Request().Context(), id, actor, c.Param("key")); err != nil {
		return writeError(c, h.log, err)
	}
	h.invalidate(c, id)
	return c.NoContent(http.StatusNoContent)
}

// Pin handles PATCH /sessions/:id/products/:key/pin with {"pinned": bool}.
func (h *ProductHandler) Pin(c echo.Context) error {
	actor, id, ok, err := requestIDs(c)
	if !ok {
		return err
	}
	var body struct {
		Pinned *bool `json:"pinned"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.Pinned == nil {
		return badRequest(c, "pinned is required")
	}
	p, err := h.catalog.SetPinRef(c.Request().Context(), id, c.Param("key"), *body.Pinned, actor)
	if err != nil {
		return writeError(c, h.log, err)
	}
	h.invalidate(c, id)
	return c.JSON(http.StatusOK, p)
}
