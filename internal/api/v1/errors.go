package apiv1

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Bookfox/internal/pkg/access"
	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeValidation, apperr.CodeInvalidFormat:
		return fiber.StatusBadRequest
	case apperr.CodePaymentRequired:
		return fiber.StatusPaymentRequired
	case apperr.CodeNoActiveEntitlement, apperr.CodeRentalExpired:
		return fiber.StatusForbidden
	case apperr.CodeStateConflict, apperr.CodeSubscriptionActive, apperr.CodePlanInUse:
		return fiber.StatusConflict
	case apperr.CodeTooLarge:
		return fiber.StatusRequestEntityTooLarge
	case apperr.CodeAmbiguousArchive, apperr.CodeEmptyArchive, apperr.CodeSuspiciousArchive:
		return fiber.StatusUnprocessableEntity
	case apperr.CodeNotFound:
		return fiber.StatusNotFound
	case apperr.CodeNotReady:
		return fiber.StatusTooEarly
	case apperr.CodeStorageUnavailable, apperr.CodeAccessServiceUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError writes err as JSON. Uncoded errors are logged and hidden.
func respondError(c *fiber.Ctx, err error) error {
	var e *apperr.Error
	if !errors.As(err, &e) {
		log.Errorf("[API] %s %s failed: %v", c.Method(), c.Path(), err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "internal_server_error",
			Message: "unexpected error",
		})
	}
	status := StatusFor(e.Code)
	if status == fiber.StatusServiceUnavailable {
		c.Set(fiber.HeaderRetryAfter, "1")
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	return c.Status(status).JSON(ErrorResponse{
		Error:     string(e.Code),
		Message:   msg,
		Retryable: apperr.IsRetryable(e),
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return respondError(c, apperr.New(apperr.CodeValidation, msg))
}

// denialStatus maps an access denial to its HTTP status.
func denialStatus(d access.Decision) int {
	switch d.Reason {
	case access.ReasonContentNotReady:
		return fiber.StatusTooEarly
	case access.ReasonContentNotFound:
		return fiber.StatusNotFound
	default:
		return fiber.StatusForbidden
	}
}

// uintParam parses a positive integer route parameter.
func uintParam(c *fiber.Ctx, name string) (uint, error) {
	v, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || v == 0 {
		return 0, apperr.Newf(apperr.CodeValidation, "%s must be a positive integer", name)
	}
	return uint(v), nil
}
