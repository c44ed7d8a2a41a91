package apiv1

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
	"github.com/ManuelReschke/Bookfox/internal/pkg/billing"
)

const HeaderWebhookSignature = "X-Webhook-Signature"

// PostPaymentWebhook records captured payments reported by the payment provider.
// Deliveries are idempotent; other event types are acknowledged and ignored.
func (s *APIServer) PostPaymentWebhook(c *fiber.Ctx) error {
	body := c.Body()
	if !billing.VerifyWebhookSignature(body, c.Get(HeaderWebhookSignature), s.svc.WebhookSecret) {
		return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{Error: "unauthorized", Message: "invalid signature"})
	}

	var event billing.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return respondError(c, apperr.Wrap(apperr.CodeValidation, "malformed event", err))
	}
	if err := s.validate.Struct(&event); err != nil {
		return respondError(c, apperr.Wrap(apperr.CodeValidation, "invalid event", err))
	}
	if !strings.EqualFold(event.Type, billing.EventPaymentCaptured) {
		log.Debugf("[API] Ignoring payment event %s for %s", event.Type, event.TransactionRef)
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"recorded": false})
	}

	created, err := s.svc.Payments.RecordConfirmation(requestContext(c), billing.ConfirmationInput{
		Provider:       event.Provider,
		TransactionRef: event.TransactionRef,
		AmountCents:    event.AmountCents,
		Currency:       event.Currency,
		ConfirmedAt:    event.OccurredAt,
		PayloadJSON:    string(body),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"recorded": created})
}
