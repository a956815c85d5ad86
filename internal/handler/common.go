// Package handler holds the echo handlers of the public API.  Handlers bind
// and validate the request shape; every domain rule lives in the commerce
// and service packages and comes back as a commerce.Error.
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/live-commerce/internal/middleware"
)

// CacheInvalidator drops cached responses of a session after a mutation.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, sessionID uint64)
}

// requestIDs returns the authenticated actor and the :id session
// parameter, writing the error response itself when either is missing.
func requestIDs(c echo.Context) (actor, sessionID uint64, ok bool, err error) {
	actor, found := middleware.ActorID(c)
	if !found {
		return 0, 0, false, c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	sessionID, perr := strconv.ParseUint(c.Param("id"), 10, 64)
	if perr != nil || sessionID == 0 {
		return 0, 0, false, badRequest(c, "invalid session id")
	}
	return actor, sessionID, true, nil
}
