package entitlements

import (
	"context"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Bookfox/app/models"
	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
)

func rentalUsage(paymentRef string) *models.PaymentUsage {
	return &models.PaymentUsage{PaymentRef: paymentRef, Kind: models.EntitlementKindRental}
}

// CreateRental starts a rental of bookID under planID once paymentRef is confirmed.
// A user holds at most one live rental per book; extending it goes through RenewRental.
// The live slot's unique index settles concurrent purchases: the loser gets state_conflict.
func (s *Store) CreateRental(ctx context.Context, userID string, bookID, planID uint, paymentRef string) (*models.Rental, error) {
	if err := checkPurchase(userID, paymentRef); err != nil {
		return nil, err
	}
	plan, err := s.rentalPlan(ctx, planID, bookID)
	if err != nil {
		return nil, err
	}
	if err := s.requirePayment(ctx, paymentRef); err != nil {
		return nil, err
	}

	now := s.now()
	if live, err := s.liveRental(ctx, userID, bookID); err != nil {
		return nil, err
	} else if live != nil {
		return nil, conflict("rental %d for this book is still active, renew it instead", live.ID)
	}

	rental := &models.Rental{
		UserID:     userID,
		BookID:     bookID,
		PlanID:     plan.ID,
		Status:     models.RentalStatusActive,
		StartAt:    now,
		EndAt:      now.Add(plan.Duration()),
		PaymentRef: paymentRef,
		Version:    1,
		LiveSlot:   models.RentalSlot(userID, bookID),
	}
	if err := s.rentals.Create(ctx, rental, rentalUsage(paymentRef)); err != nil {
		return nil, err
	}
	log.Infof("[Entitlements] Rental %d created for user %s, book %d until %s", rental.ID, userID, bookID, rental.EndAt.Format("2006-01-02 15:04"))
	return rental, nil
}

// RenewRental extends an active rental from max(end, now) keeping its id.
// An expired rental is never mutated back to life: a new rental row starting
// now is created and returned instead.
func (s *Store) RenewRental(ctx context.Context, userID string, rentalID, planID uint, paymentRef string) (*models.Rental, error) {
	if err := checkPurchase(userID, paymentRef); err != nil {
		return nil, err
	}
	rental, err := s.ownRental(ctx, userID, rentalID)
	if err != nil {
		return nil, err
	}
	plan, err := s.rentalPlan(ctx, planID, rental.BookID)
	if err != nil {
		return nil, err
	}
	if err := s.requirePayment(ctx, paymentRef); err != nil {
		return nil, err
	}

	now := s.now()
	expected := rental.Version
	switch rental.EffectiveStatus(now) {
	case models.RentalStatusActive:
		rental.EndAt = laterOf(rental.EndAt, now).Add(plan.Duration())
		rental.PlanID = plan.ID
		rental.PaymentRef = paymentRef
		saved, err := s.rentals.SaveIfVersion(ctx, rental, expected, rentalUsage(paymentRef))
		if err != nil {
			return nil, err
		}
		if !saved {
			return nil, conflict("rental %d changed concurrently", rental.ID)
		}
		log.Infof("[Entitlements] Rental %d renewed until %s", rental.ID, rental.EndAt.Format("2006-01-02 15:04"))
		return rental, nil

	case models.RentalStatusExpired:
		// Claim the expired row first so a concurrent renewal of it loses.
		rental.Status = models.RentalStatusExpired
		rental.LiveSlot = nil
		saved, err := s.rentals.SaveIfVersion(ctx, rental, expected, nil)
		if err != nil {
			return nil, err
		}
		if !saved {
			return nil, conflict("rental %d changed concurrently", rental.ID)
		}
		if live, err := s.liveRental(ctx, userID, rental.BookID); err != nil {
			return nil, err
		} else if live != nil {
			return nil, conflict("rental %d for this book is still active, renew it instead", live.ID)
		}
		next := &models.Rental{
			UserID:     userID,
			BookID:     rental.BookID,
			PlanID:     plan.ID,
			Status:     models.RentalStatusActive,
			StartAt:    now,
			EndAt:      now.Add(plan.Duration()),
			PaymentRef: paymentRef,
			Version:    1,
			LiveSlot:   models.RentalSlot(userID, rental.BookID),
		}
		if err := s.rentals.Create(ctx, next, rentalUsage(paymentRef)); err != nil {
			return nil, err
		}
		log.Infof("[Entitlements] Expired rental %d renewed as rental %d until %s", rental.ID, next.ID, next.EndAt.Format("2006-01-02 15:04"))
		return next, nil

	default:
		return nil, conflict("rental %d is %s and cannot be renewed", rental.ID, rental.Status)
	}
}

// ReturnRental ends an active rental now. Access stops immediately because
// every access check reads the returned status.
func (s *Store) ReturnRental(ctx context.Context, userID string, rentalID uint) (*models.Rental, error) {
	rental, err := s.ownRental(ctx, userID, rentalID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if status := rental.EffectiveStatus(now); status != models.RentalStatusActive {
		return nil, conflict("rental %d is %s and cannot be returned", rental.ID, status)
	}
	expected := rental.Version
	rental.Status = models.RentalStatusReturned
	rental.ReturnedAt = &now
	rental.EndAt = now
	rental.LiveSlot = nil
	saved, err := s.rentals.SaveIfVersion(ctx, rental, expected, nil)
	if err != nil {
		return nil, err
	}
	if !saved {
		return nil, conflict("rental %d changed concurrently", rental.ID)
	}
	log.Infof("[Entitlements] Rental %d returned by user %s", rental.ID, userID)
	return rental, nil
}

// CancelRental is the administrative refund path: an active rental ends now.
func (s *Store) CancelRental(ctx context.Context, rentalID uint, reason string) (*models.Rental, error) {
	rental, err := s.rentals.GetByID(ctx, rentalID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if status := rental.EffectiveStatus(now); status != models.RentalStatusActive {
		return nil, conflict("rental %d is %s and cannot be cancelled", rental.ID, status)
	}
	expected := rental.Version
	rental.Status = models.RentalStatusCancelled
	rental.CancelledAt = &now
	rental.CancelReason = reason
	rental.EndAt = now
	rental.LiveSlot = nil
	saved, err := s.rentals.SaveIfVersion(ctx, rental, expected, nil)
	if err != nil {
		return nil, err
	}
	if !saved {
		return nil, conflict("rental %d changed concurrently", rental.ID)
	}
	log.Infof("[Entitlements] Rental %d cancelled: %s", rental.ID, reason)
	return rental, nil
}

// GetRental returns the user's rental with its status recomputed for now.
func (s *Store) GetRental(ctx context.Context, userID string, rentalID uint) (*models.Rental, error) {
	rental, err := s.ownRental(ctx, userID, rentalID)
	if err != nil {
		return nil, err
	}
	rental.Status = rental.EffectiveStatus(s.now())
	return rental, nil
}

// GetStatus recomputes the status from end_at instead of trusting the stored column.
func (s *Store) GetStatus(ctx context.Context, userID string, rentalID uint) (models.RentalStatus, error) {
	rental, err := s.GetRental(ctx, userID, rentalID)
	if err != nil {
		return "", err
	}
	return rental.Status, nil
}

// ListRentals returns the user's rentals, newest first, with effective statuses.
func (s *Store) ListRentals(ctx context.Context, userID string) ([]models.Rental, error) {
	rentals, err := s.rentals.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range rentals {
		rentals[i].Status = rentals[i].EffectiveStatus(now)
	}
	return rentals, nil
}

// RentalsForBook returns the user's rentals of one book, newest first, with effective statuses.
func (s *Store) RentalsForBook(ctx context.Context, userID string, bookID uint) ([]models.Rental, error) {
	rentals, err := s.rentals.ListByUserAndBook(ctx, userID, bookID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range rentals {
		rentals[i].Status = rentals[i].EffectiveStatus(now)
	}
	return rentals, nil
}

func (s *Store) ownRental(ctx context.Context, userID string, rentalID uint) (*models.Rental, error) {
	rental, err := s.rentals.GetByID(ctx, rentalID)
	if err != nil {
		return nil, err
	}
	// Other users' rentals are reported as missing.
	if rental.UserID != userID {
		return nil, apperr.New(apperr.CodeNotFound, "rental not found")
	}
	return rental, nil
}

// liveRental returns the user's active rental of bookID. A lapsed row that
// still holds the live slot is expired on the spot, so an unswept rental never
// blocks a new one.
func (s *Store) liveRental(ctx context.Context, userID string, bookID uint) (*models.Rental, error) {
	rentals, err := s.rentals.ListByUserAndBook(ctx, userID, bookID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range rentals {
		r := &rentals[i]
		if r.IsActiveAt(now) {
			return r, nil
		}
		if r.LiveSlot == nil {
			continue
		}
		expected := r.Version
		r.Status = models.RentalStatusExpired
		r.LiveSlot = nil
		saved, err := s.rentals.SaveIfVersion(ctx, r, expected, nil)
		if err != nil {
			return nil, err
		}
		if !saved {
			return nil, conflict("rental %d changed concurrently", r.ID)
		}
	}
	return nil, nil
}
