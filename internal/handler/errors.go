package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/live-commerce/internal/commerce"
)

// statusFor maps an error kind to its HTTP status.
func statusFor(k commerce.Kind) int {
	switch k {
	case commerce.KindValidation:
		return http.StatusBadRequest
	case commerce.KindNotFound:
		return http.StatusNotFound
	case commerce.KindConflict:
		return http.StatusConflict
	case commerce.KindUnauthorized:
		return http.StatusForbidden
	case commerce.KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error": message, "reason": reason}.  Errors
// without a kind are logged and hidden behind a generic 500.
func writeError(c echo.Context, log zerolog.Logger, err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return err
	}
	var ce *commerce.Error
	if !errors.As(err, &ce) || ce.Kind == commerce.KindInternal || ce.Kind == commerce.KindConfiguration {
		log.Error().Err(err).Str("method", c.Request().Method).Str("path", c.Path()).Msg("request failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	if ce.Kind == commerce.KindUpstreamUnavailable {
		log.Warn().Err(err).Str("path", c.Path()).Msg("upstream unavailable")
	}
	return c.JSON(statusFor(ce.Kind), echo.Map{"error": ce.Message, "reason": ce.Reason})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg, "reason": commerce.ReasonInvalidInput})
}
