// Package entitlements owns the rental and subscription state machines.
//
// end_at is authoritative: reads recompute the effective status from it and
// never write, while Sweep persists the expired status in batches. Every
// mutation is conditioned on the row version read beforehand, so two
// concurrent renewals or returns of the same row cannot both apply.
package entitlements

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Bookfox/app/models"
	"github.com/ManuelReschke/Bookfox/app/repository"
	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
	"github.com/ManuelReschke/Bookfox/internal/pkg/billing"
)

const defaultSweepBatch = 500

type Store struct {
	rentals       repository.RentalRepository
	subscriptions repository.SubscriptionRepository
	plans         repository.PlanRepository
	payments      billing.PaymentVerifier
	now           func() time.Time
	sweepBatch    int
}

func NewStore(repos *repository.Repositories, payments billing.PaymentVerifier) *Store {
	return &Store{
		rentals:       repos.Rental,
		subscriptions: repos.Subscription,
		plans:         repos.Plan,
		payments:      payments,
		now:           func() time.Time { return time.Now().UTC() },
		sweepBatch:    defaultSweepBatch,
	}
}

// WithClock overrides the time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// WithSweepBatch sets how many rows one sweep statement expires at most.
func (s *Store) WithSweepBatch(n int) *Store {
	if n > 0 {
		s.sweepBatch = n
	}
	return s
}

// Now exposes the store's clock so callers evaluate entitlements at the same instant.
func (s *Store) Now() time.Time {
	return s.now()
}

func invalid(msg string) error {
	return apperr.New(apperr.CodeValidation, msg)
}

func conflict(format string, args ...any) error {
	return apperr.Newf(apperr.CodeStateConflict, format, args...)
}

func (s *Store) requirePayment(ctx context.Context, paymentRef string) error {
	confirmed, err := s.payments.IsConfirmed(ctx, paymentRef)
	if err != nil {
		return err
	}
	if !confirmed {
		return apperr.Newf(apperr.CodePaymentRequired, "payment %s is not confirmed", paymentRef)
	}
	return nil
}

// rentalPlan loads a plan that can currently be bought for bookID.
func (s *Store) rentalPlan(ctx context.Context, planID, bookID uint) (*models.RentalPlan, error) {
	plan, err := s.plans.GetRentalPlan(ctx, planID)
	if err != nil {
		if apperr.HasCode(err, apperr.CodeNotFound) {
			return nil, invalid("unknown rental plan")
		}
		return nil, err
	}
	if !plan.IsActive {
		return nil, invalid("rental plan is no longer offered")
	}
	if plan.BookID != bookID {
		return nil, invalid("rental plan does not belong to this book")
	}
	return plan, nil
}

func (s *Store) subscriptionPlan(ctx context.Context, planID uint) (*models.SubscriptionPlan, error) {
	plan, err := s.plans.GetSubscriptionPlan(ctx, planID)
	if err != nil {
		if apperr.HasCode(err, apperr.CodeNotFound) {
			return nil, invalid("unknown subscription plan")
		}
		return nil, err
	}
	if !plan.IsActive {
		return nil, invalid("subscription plan is no longer offered")
	}
	return plan, nil
}

func checkPurchase(userID, paymentRef string) error {
	if strings.TrimSpace(userID) == "" {
		return invalid("user id is required")
	}
	if strings.TrimSpace(paymentRef) == "" {
		return invalid("payment reference is required")
	}
	return nil
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// SweepResult counts the rows a sweep moved to expired.
type SweepResult struct {
	Rentals       int64
	Subscriptions int64
}

// Sweep persists the expired status of every active row whose end_at is before now.
// It is idempotent: rows already expired are not touched again.
func (s *Store) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	for {
		n, err := s.rentals.ExpireBefore(ctx, now, s.sweepBatch)
		if err != nil {
			return res, err
		}
		res.Rentals += n
		if n < int64(s.sweepBatch) {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
	}
	for {
		n, err := s.subscriptions.ExpireBefore(ctx, now, s.sweepBatch)
		if err != nil {
			return res, err
		}
		res.Subscriptions += n
		if n < int64(s.sweepBatch) {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
	}
	if res.Rentals > 0 || res.Subscriptions > 0 {
		log.Infof("[Entitlements] Sweep expired %d rentals and %d subscriptions", res.Rentals, res.Subscriptions)
	}
	return res, nil
}
