package billing

import "time"

// ConfirmationInput is the normalized shape of a captured payment reported by the provider.
type ConfirmationInput struct {
	Provider       string
	TransactionRef string
	AmountCents    int64
	Currency       string
	ConfirmedAt    time.Time
	PayloadJSON    string
}

// WebhookEvent is the JSON body accepted on the payment webhook.
type WebhookEvent struct {
	Provider       string    `json:"provider" validate:"required,max=30"`
	Type           string    `json:"type" validate:"required"`
	TransactionRef string    `json:"transaction_ref" validate:"required,max=191"`
	AmountCents    int64     `json:"amount_cents" validate:"min=0"`
	Currency       string    `json:"currency" validate:"omitempty,len=3"`
	OccurredAt     time.Time `json:"occurred_at"`
}

const EventPaymentCaptured = "payment.captured"
