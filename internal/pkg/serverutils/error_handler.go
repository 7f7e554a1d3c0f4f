package serverutils

import (
	"errors"

	"clinical-report-be/internal/pkg/logger"
	"clinical-report-be/pkg/reportconfig"
	"clinical-report-be/pkg/search"
	"clinical-report-be/pkg/sets"
	"clinical-report-be/pkg/sqon"

	"github.com/gofiber/fiber/v2"
)

// StatusFor maps a handler error to its HTTP status.
func StatusFor(err error) int {
	var fe *fiber.Error
	var ve *ValidationError
	var te *search.TransportError
	var ae *sets.APIError

	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.As(err, &ve), errors.Is(err, sqon.ErrInvalidSqon):
		return fiber.StatusBadRequest
	case errors.Is(err, sets.ErrSelectionNotFound), errors.Is(err, reportconfig.ErrUnknownReport):
		return fiber.StatusNotFound
	case errors.As(err, &te):
		if te.Status > 0 {
			return fiber.StatusBadGateway
		}
		return fiber.StatusInternalServerError
	case errors.As(err, &ae):
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

// ErrorHandlerMiddleware turns errors returned by downstream handlers into
// the JSON error envelope.
func ErrorHandlerMiddleware(log logger.ILogger) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		status := StatusFor(err)
		details := map[string]interface{}{
			"method": ctx.Method(),
			"path":   ctx.Path(),
			"status": status,
			"error":  err.Error(),
		}
		if status >= fiber.StatusInternalServerError {
			log.Error("HTTP", "Request failed", details)
		} else {
			log.Warn("HTTP", "Request rejected", details)
		}

		return ctx.Status(status).JSON(ErrorResponse(status, err.Error()))
	}
}
