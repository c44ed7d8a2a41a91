package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Bookfox/app/models"
)

// PaymentVerifier answers whether a transaction reference is a captured payment.
type PaymentVerifier interface {
	IsConfirmed(ctx context.Context, transactionRef string) (bool, error)
}

// Service records provider confirmations and verifies payment references against them.
type Service struct {
	repo Repository
	// mockPrefix, when set, confirms any reference starting with it (development only).
	mockPrefix string
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// WithMockPayments confirms every reference carrying prefix without a webhook.
func (s *Service) WithMockPayments(prefix string) *Service {
	s.mockPrefix = prefix
	if prefix != "" {
		log.Warnf("[Billing] Mock payments enabled for references starting with %q", prefix)
	}
	return s
}

func (s *Service) IsConfirmed(ctx context.Context, transactionRef string) (bool, error) {
	ref := strings.TrimSpace(transactionRef)
	if ref == "" {
		return false, nil
	}
	if s.mockPrefix != "" && strings.HasPrefix(ref, s.mockPrefix) {
		return true, nil
	}
	return s.repo.HasConfirmation(ctx, ref)
}

// RecordConfirmation persists a captured payment idempotently.
// It reports whether the confirmation was new.
func (s *Service) RecordConfirmation(ctx context.Context, in ConfirmationInput) (bool, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	ref := strings.TrimSpace(in.TransactionRef)
	if provider == "" || ref == "" {
		return false, errors.New("provider and transaction_ref are required")
	}
	confirmedAt := in.ConfirmedAt
	if confirmedAt.IsZero() {
		confirmedAt = time.Now().UTC()
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = "EUR"
	}

	created, err := s.repo.CreateConfirmationIfNotExists(ctx, &models.PaymentConfirmation{
		Provider:       provider,
		TransactionRef: ref,
		AmountCents:    in.AmountCents,
		Currency:       currency,
		ConfirmedAt:    confirmedAt,
		PayloadJSON:    in.PayloadJSON,
	})
	if err != nil {
		return false, err
	}
	if created {
		log.Infof("[Billing] Recorded payment confirmation %s from %s", ref, provider)
	}
	return created, nil
}
