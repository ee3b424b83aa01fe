package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/Grant-Huang/inkpath/internal/model"
)

// ErrorResponse is a helper that returns a standard API error response.
func ErrorResponse(c fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": message,
		},
	})
}

// StatusFor maps an error onto an HTTP status and a stable error code.
// Fiber errors keep their status; core errors map by class.
func StatusFor(err error) (int, string) {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, strings.ToUpper(strings.ReplaceAll(http.StatusText(fe.Code), " ", "_"))
	}
	switch model.Kind(err) {
	case "not_found":
		return fiber.StatusNotFound, "NOT_FOUND"
	case "validation":
		return fiber.StatusBadRequest, "VALIDATION_FAILED"
	case "policy":
		return fiber.StatusForbidden, "POLICY_REJECTED"
	case "conflict":
		return fiber.StatusConflict, "CONFLICT"
	default:
		return fiber.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// ErrorHandler is the app-wide Fiber error handler. Internal error text
// is logged, never returned.
func ErrorHandler(c fiber.Ctx, err error) error {
	status, code := StatusFor(err)
	msg := err.Error()
	if status >= fiber.StatusInternalServerError {
		Logger.Error().Err(err).Str("path", sanitizePath(c.Path())).Msg("unhandled error")
		msg = "internal server error"
	}
	return ErrorResponse(c, status, code, msg)
}
