package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/live-commerce/internal/middleware"
	"github.com/iliyamo/live-commerce/internal/service"
	"github.com/iliyamo/live-commerce/internal/token"
)

// SessionHandler serves session lifecycle, token and announcement routes.
type SessionHandler struct {
	sessions *service.Sessions
	cache    CacheInvalidator
	log      zerolog.Logger
}

// NewSessionHandler panics on a nil service, as a misconfigured router is
// a startup bug.
func NewSessionHandler(sessions *service.Sessions, cache CacheInvalidator, log zerolog.Logger) *SessionHandler {
	if sessions == nil {
		panic("nil sessions service passed to NewSessionHandler")
	}
	return &SessionHandler{sessions: sessions, cache: cache, log: log.With().Str("component", "session-handler").Logger()}
}

// Create handles POST /sessions.
func (h *SessionHandler) Create(c echo.Context) error {
	actor, ok := middleware.ActorID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		ShopID uint64 `json:"shopId"`
		Title  string `json:"title"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	sess, err := h.sessions.Create(c.Request().Context(), actor, body.ShopID, body.Title)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, sess)
}

// Get handles GET /sessions/:id.
func (h *SessionHandler) Get(c echo.Context) error {
	_, id, ok, err := requestIDs(c)
	if !ok {
		return err
	}
	sess, err := h.sessions.Get(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, sess)
}

// Close handles POST /sessions/:id/close.
func (h *SessionHandler) Close(c echo.Context) error {
	actor, id, ok, err := requestIDs(c)
	if !ok {
		return err
	}
	sess, err := h.sessions.Close(c.Request().Context(), id, actor)
	if err != nil {
		return writeError(c, h.log, err)
	}
	if h.cache != nil {
		h.cache.Invalidate(c.Request().Context(), id)
	}
	return c.JSON(http.StatusOK, sess)
}

// IssueToken handles POST /sessions/:id/tokens.  The room is created on
// demand before the token is minted.
func (h *SessionHandler) IssueToken(c echo.Context) error {
	actor, id, ok, err := requestIDs(c)
	if !ok {
		return err
	}
	var body struct {
		Identity string `json:"identity"`
		Role     string `json:"role"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	res, err := h.sessions.Join(c.Request().Context(), id, actor, service.JoinRequest{
		Identity: body.Identity,
		Role:     token.Role(body.Role),
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Announce handles POST /sessions/:id/announcements.
func (h *SessionHandler) Announce(c echo.Context) error {
	actor, id, ok, err := requestIDs(c)
	if !ok {
		return err
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := h.sessions.Announce(c.Request().Context(), id, actor, body.Message); err != nil {
		return writeError(c, h.log, err)
	}
	return c.NoContent(http.StatusAccepted)
}
