package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// ActorID returns the authenticated account id stored by JWTAuth.
func ActorID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(ctxUserID).(uint64)
	return id, ok && id > 0
}

// Role returns the role claim of the caller, or "" when absent.
func Role(c echo.Context) string {
	r, _ := c.Get(ctxRole).(string)
	return r
}

// userID is the account id as a key segment, "anon" for unauthenticated
// callers.
func userID(c echo.Context) string {
	if id, ok := ActorID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
