// Package memory provides map-backed implementations of the repository
// interfaces. They mirror the guarded-update semantics of the gorm
// repositories and are used by service tests and local tooling.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ManuelReschke/Bookfox/app/models"
	"github.com/ManuelReschke/Bookfox/app/repository"
	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
)

// Store holds every table behind one mutex, like a single database.
type Store struct {
	mu sync.Mutex

	nextID        uint
	rentals       map[uint]models.Rental
	subscriptions map[uint]models.Subscription
	rentalPlans   map[uint]models.RentalPlan
	subPlans      map[uint]models.SubscriptionPlan
	books         map[uint]models.CatalogBook
	assets        map[uint]models.EbookAsset
	chapters      map[uint][]models.Chapter // by asset id
	usages        map[string]models.PaymentUsage
}

func NewStore() *Store {
	return &Store{
		rentals:       map[uint]models.Rental{},
		subscriptions: map[uint]models.Subscription{},
		rentalPlans:   map[uint]models.RentalPlan{},
		subPlans:      map[uint]models.SubscriptionPlan{},
		books:         map[uint]models.CatalogBook{},
		assets:        map[uint]models.EbookAsset{},
		chapters:      map[uint][]models.Chapter{},
		usages:        map[string]models.PaymentUsage{},
	}
}

// Repositories returns all repositories backed by this store.
func (s *Store) Repositories() *repository.Repositories {
	return &repository.Repositories{
		Rental:       (*Rentals)(s),
		Subscription: (*Subscriptions)(s),
		Plan:         (*Plans)(s),
		Book:         (*Books)(s),
		Asset:        (*Assets)(s),
	}
}

// PutBook seeds a catalog row.
func (s *Store) PutBook(book models.CatalogBook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[book.ID] = book
}

// Usages returns the recorded payment usages.
func (s *Store) Usages() []models.PaymentUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PaymentUsage, 0, len(s.usages))
	for _, u := range s.usages {
		out = append(out, u)
	}
	return out
}

func (s *Store) id() uint {
	s.nextID++
	return s.nextID
}

func (s *Store) claimUsage(usage *models.PaymentUsage, entitlementID uint) error {
	if usage == nil {
		return nil
	}
	if _, ok := s.usages[usage.PaymentRef]; ok {
		return repository.ErrPaymentRefUsed
	}
	usage.ID = s.id()
	usage.EntitlementID = entitlementID
	usage.CreatedAt = time.Now().UTC()
	s.usages[usage.PaymentRef] = *usage
	return nil
}

func notFound(what string) error {
	return apperr.New(apperr.CodeNotFound, what+" not found")
}

// Rentals implements repository.RentalRepository.
type Rentals Store

func (r *Rentals) slotHolder(slot string, except uint) bool {
	for id, x := range r.rentals {
		if id != except && x.LiveSlot != nil && *x.LiveSlot == slot {
			return true
		}
	}
	return false
}

func errSlotTaken() error {
	return apperr.New(apperr.CodeStateConflict, "book already has a live rental for this user")
}

func copyRental(rental models.Rental) models.Rental {
	if rental.LiveSlot != nil {
		slot := *rental.LiveSlot
		rental.LiveSlot = &slot
	}
	return rental
}

func (r *Rentals) Create(_ context.Context, rental *models.Rental, usage *models.PaymentUsage) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if rental.LiveSlot != nil && r.slotHolder(*rental.LiveSlot, 0) {
		return errSlotTaken()
	}
	if usage != nil {
		if _, ok := s.usages[usage.PaymentRef]; ok {
			return repository.ErrPaymentRefUsed
		}
	}
	rental.ID = s.id()
	if rental.Version == 0 {
		rental.Version = 1
	}
	now := time.Now().UTC()
	rental.CreatedAt, rental.UpdatedAt = now, now
	s.rentals[rental.ID] = copyRental(*rental)
	return s.claimUsage(usage, rental.ID)
}

func (r *Rentals) GetByID(_ context.Context, id uint) (*models.Rental, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	rental, ok := s.rentals[id]
	if !ok {
		return nil, notFound("rental")
	}
	rental = copyRental(rental)
	return &rental, nil
}

func (r *Rentals) ListByUser(_ context.Context, userID string) ([]models.Rental, error) {
	return r.filter(func(x models.Rental) bool { return x.UserID == userID }), nil
}

func (r *Rentals) ListByUserAndBook(_ context.Context, userID string, bookID uint) ([]models.Rental, error) {
	return r.filter(func(x models.Rental) bool { return x.UserID == userID && x.BookID == bookID }), nil
}

func (r *Rentals) filter(keep func(models.Rental) bool) []models.Rental {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Rental
	for _, x := range s.rentals {
		if keep(x) {
			out = append(out, copyRental(x))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (r *Rentals) SaveIfVersion(_ context.Context, rental *models.Rental, expectedVersion int, usage *models.PaymentUsage) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.rentals[rental.ID]
	if !ok || stored.Version != expectedVersion {
		return false, nil
	}
	if rental.LiveSlot != nil && r.slotHolder(*rental.LiveSlot, rental.ID) {
		return false, errSlotTaken()
	}
	if usage != nil {
		if _, used := s.usages[usage.PaymentRef]; used {
			return false, repository.ErrPaymentRefUsed
		}
	}
	rental.Version = expectedVersion + 1
	rental.UpdatedAt = time.Now().UTC()
	rental.CreatedAt = stored.CreatedAt
	s.rentals[rental.ID] = copyRental(*rental)
	return true, s.claimUsage(usage, rental.ID)
}

func (r *Rentals) ExpireBefore(_ context.Context, now time.Time, limit int) (int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uint
	for id, x := range s.rentals {
		if x.Status == models.RentalStatusActive && x.EndAt.Before(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	for _, id := range ids {
		x := s.rentals[id]
		x.Status = models.RentalStatusExpired
		x.LiveSlot = nil
		x.Version++
		x.UpdatedAt = now
		s.rentals[id] = x
	}
	return int64(len(ids)), nil
}

func (r *Rentals) CountLiveByPlan(_ context.Context, planID uint, now time.Time) (int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, x := range s.rentals {
		if x.PlanID == planID && x.Status == models.RentalStatusActive && !x.EndAt.Before(now) {
			n++
		}
	}
	return n, nil
}

// Subscriptions implements repository.SubscriptionRepository.
type Subscriptions Store

func (r *Subscriptions) slotHolder(userID string, except uint) bool {
	for id, x := range r.subscriptions {
		if id != except && x.ActiveSlot != nil && *x.ActiveSlot == userID {
			return true
		}
	}
	return false
}

func (r *Subscriptions) Create(_ context.Context, sub *models.Subscription, usage *models.PaymentUsage) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ActiveSlot != nil && r.slotHolder(*sub.ActiveSlot, 0) {
		return apperr.New(apperr.CodeSubscriptionActive, "user already has an active subscription")
	}
	if usage != nil {
		if _, ok := s.usages[usage.PaymentRef]; ok {
			return repository.ErrPaymentRefUsed
		}
	}
	sub.ID = s.id()
	if sub.Version == 0 {
		sub.Version = 1
	}
	now := time.Now().UTC()
	sub.CreatedAt, sub.UpdatedAt = now, now
	s.subscriptions[sub.ID] = copySub(*sub)
	return s.claimUsage(usage, sub.ID)
}

func copySub(sub models.Subscription) models.Subscription {
	if sub.ActiveSlot != nil {
		slot := *sub.ActiveSlot
		sub.ActiveSlot = &slot
	}
	return sub
}

func (r *Subscriptions) GetByID(_ context.Context, id uint) (*models.Subscription, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, notFound("subscription")
	}
	sub = copySub(sub)
	return &sub, nil
}

func (r *Subscriptions) FindByActiveSlot(_ context.Context, userID string) (*models.Subscription, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.subscriptions {
		if x.ActiveSlot != nil && *x.ActiveSlot == userID {
			x = copySub(x)
			return &x, nil
		}
	}
	return nil, notFound("subscription")
}

func (r *Subscriptions) Latest(_ context.Context, userID string) (*models.Subscription, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.Subscription
	for _, x := range s.subscriptions {
		if x.UserID != userID {
			continue
		}
		if best == nil || x.ID > best.ID {
			c := copySub(x)
			best = &c
		}
	}
	if best == nil {
		return nil, notFound("subscription")
	}
	return best, nil
}

func (r *Subscriptions) SaveIfVersion(_ context.Context, sub *models.Subscription, expectedVersion int, usage *models.PaymentUsage) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.subscriptions[sub.ID]
	if !ok || stored.Version != expectedVersion {
		return false, nil
	}
	if sub.ActiveSlot != nil && r.slotHolder(*sub.ActiveSlot, sub.ID) {
		return false, apperr.New(apperr.CodeSubscriptionActive, "user already has an active subscription")
	}
	if usage != nil {
		if _, used := s.usages[usage.PaymentRef]; used {
			return false, repository.ErrPaymentRefUsed
		}
	}
	sub.Version = expectedVersion + 1
	sub.UpdatedAt = time.Now().UTC()
	sub.CreatedAt = stored.CreatedAt
	s.subscriptions[sub.ID] = copySub(*sub)
	return true, s.claimUsage(usage, sub.ID)
}

func (r *Subscriptions) ExpireBefore(_ context.Context, now time.Time, limit int) (int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uint
	for id, x := range s.subscriptions {
		if x.Status == models.SubscriptionStatusActive && x.EndAt.Before(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	for _, id := range ids {
		x := s.subscriptions[id]
		x.Status = models.SubscriptionStatusExpired
		x.ActiveSlot = nil
		x.Version++
		x.UpdatedAt = now
		s.subscriptions[id] = x
	}
	return int64(len(ids)), nil
}

func (r *Subscriptions) CountLiveByPlan(_ context.Context, planID uint, now time.Time) (int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, x := range s.subscriptions {
		if x.PlanID == planID && x.Status == models.SubscriptionStatusActive && !x.EndAt.Before(now) {
			n++
		}
	}
	return n, nil
}

var (
	_ repository.RentalRepository       = (*Rentals)(nil)
	_ repository.SubscriptionRepository = (*Subscriptions)(nil)
	_ repository.PlanRepository         = (*Plans)(nil)
	_ repository.BookRepository         = (*Books)(nil)
	_ repository.AssetRepository        = (*Assets)(nil)
)
