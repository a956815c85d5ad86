// Package middleware contains the echo middleware shared by the API routes:
// bearer authentication, role guards, rate limiting, response caching and
// request logging.
package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Context keys set by JWTAuth.
const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// stores the caller's account id and role in the request context.  The
// account id comes from the "sub" claim, or "user_id" when the subject is
// absent, and must be a positive integer.  Handlers read it with ActorID.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, echo.ErrUnauthorized
				}
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}
			id, ok := accountID(claims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token has no account id"})
			}

			c.Set(ctxUserID, id)
			if role, ok := claims["role"].(string); ok {
				c.Set(ctxRole, role)
			}
			return next(c)
		}
	}
}

// accountID reads the numeric account id from sub or user_id.  JSON numbers
// decode as float64; string subjects are parsed.
func accountID(claims jwt.MapClaims) (uint64, bool) {
	for _, k := range []string{"sub", "user_id"} {
		switch v := claims[k].(type) {
		case string:
			if id, err := strconv.ParseUint(v, 10, 64); err == nil && id > 0 {
				return id, true
			}
		case float64:
			if v > 0 && v == float64(uint64(v)) {
				return uint64(v), true
			}
		}
	}
	return 0, false
}
