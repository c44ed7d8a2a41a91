// Package catalog serves the purchasable rental and subscription plans.
// Listings are read-mostly and cached; plans referenced by a live entitlement
// can be deactivated but not deleted.
package catalog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Bookfox/app/models"
	"github.com/ManuelReschke/Bookfox/app/repository"
	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
	"github.com/ManuelReschke/Bookfox/internal/pkg/cache"
)

const (
	rentalPlansKey       = "catalog:rental_plans:active"
	subscriptionPlansKey = "catalog:subscription_plans:active"
	listingTTL           = 5 * time.Minute
)

type Service struct {
	plans         repository.PlanRepository
	rentals       repository.RentalRepository
	subscriptions repository.SubscriptionRepository
	cache         cache.Store
	now           func() time.Time
}

// NewService wires the catalog. store may be nil to disable listing caching.
func NewService(repos *repository.Repositories, store cache.Store) *Service {
	return &Service{
		plans:         repos.Plan,
		rentals:       repos.Rental,
		subscriptions: repos.Subscription,
		cache:         store,
		now:           time.Now,
	}
}

// WithClock overrides the time source used for in-use checks.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ListActive returns every active rental plan.
func (s *Service) ListActive(ctx context.Context) ([]models.RentalPlan, error) {
	var plans []models.RentalPlan
	if s.cached(ctx, rentalPlansKey, &plans) {
		return plans, nil
	}
	plans, err := s.plans.ListActiveRentalPlans(ctx, 0)
	if err != nil {
		return nil, err
	}
	s.store(ctx, rentalPlansKey, plans)
	return plans, nil
}

// ListActiveForBook returns the active rental plans of one book.
func (s *Service) ListActiveForBook(ctx context.Context, bookID uint) ([]models.RentalPlan, error) {
	all, err := s.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	plans := make([]models.RentalPlan, 0, len(all))
	for _, p := range all {
		if p.BookID == bookID {
			plans = append(plans, p)
		}
	}
	return plans, nil
}

// GetByID returns a rental plan whether or not it is active.
func (s *Service) GetByID(ctx context.Context, id uint) (*models.RentalPlan, error) {
	return s.plans.GetRentalPlan(ctx, id)
}

func (s *Service) Create(ctx context.Context, plan *models.RentalPlan) error {
	plan.IsActive = true
	if err := plan.Validate(); err != nil {
		return apperr.Wrap(apperr.CodeValidation, "invalid rental plan", err)
	}
	if err := s.plans.CreateRentalPlan(ctx, plan); err != nil {
		return err
	}
	s.invalidate(ctx, rentalPlansKey)
	return nil
}

// Deactivate removes a plan from the listings. Existing rentals are unaffected.
func (s *Service) Deactivate(ctx context.Context, id uint) error {
	if err := s.plans.SetRentalPlanActive(ctx, id, false); err != nil {
		return err
	}
	s.invalidate(ctx, rentalPlansKey)
	log.Infof("[Catalog] Rental plan %d deactivated", id)
	return nil
}

// Delete hard-deletes a plan that no live rental references. The plan is
// deactivated first so no new rental can pick it up while we check; when
// the check fails its previous listing state is restored.
func (s *Service) Delete(ctx context.Context, id uint) error {
	plan, err := s.plans.GetRentalPlan(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Deactivate(ctx, id); err != nil {
		return err
	}
	live, err := s.rentals.CountLiveByPlan(ctx, id, s.now())
	if err != nil {
		return err
	}
	if live > 0 {
		if plan.IsActive {
			if err := s.plans.SetRentalPlanActive(ctx, id, true); err != nil {
				log.Errorf("[Catalog] Failed to relist rental plan %d: %v", id, err)
			}
			s.invalidate(ctx, rentalPlansKey)
		}
		return apperr.Newf(apperr.CodePlanInUse, "rental plan %d is referenced by %d active rentals", id, live)
	}
	if err := s.plans.DeleteRentalPlan(ctx, id); err != nil {
		return err
	}
	log.Infof("[Catalog] Rental plan %d deleted", id)
	return nil
}

func (s *Service) ListActiveSubscriptionPlans(ctx context.Context) ([]models.SubscriptionPlan, error) {
	var plans []models.SubscriptionPlan
	if s.cached(ctx, subscriptionPlansKey, &plans) {
		return plans, nil
	}
	plans, err := s.plans.ListActiveSubscriptionPlans(ctx)
	if err != nil {
		return nil, err
	}
	s.store(ctx, subscriptionPlansKey, plans)
	return plans, nil
}

func (s *Service) GetSubscriptionPlan(ctx context.Context, id uint) (*models.SubscriptionPlan, error) {
	return s.plans.GetSubscriptionPlan(ctx, id)
}

func (s *Service) CreateSubscriptionPlan(ctx context.Context, plan *models.SubscriptionPlan) error {
	plan.IsActive = true
	if err := plan.Validate(); err != nil {
		return apperr.Wrap(apperr.CodeValidation, "invalid subscription plan", err)
	}
	if err := s.plans.CreateSubscriptionPlan(ctx, plan); err != nil {
		return err
	}
	s.invalidate(ctx, subscriptionPlansKey)
	return nil
}

func (s *Service) DeactivateSubscriptionPlan(ctx context.Context, id uint) error {
	if err := s.plans.SetSubscriptionPlanActive(ctx, id, false); err != nil {
		return err
	}
	s.invalidate(ctx, subscriptionPlansKey)
	log.Infof("[Catalog] Subscription plan %d deactivated", id)
	return nil
}

// DeleteSubscriptionPlan follows the same guard as Delete.
func (s *Service) DeleteSubscriptionPlan(ctx context.Context, id uint) error {
	plan, err := s.plans.GetSubscriptionPlan(ctx, id)
	if err != nil {
		return err
	}
	if err := s.DeactivateSubscriptionPlan(ctx, id); err != nil {
		return err
	}
	live, err := s.subscriptions.CountLiveByPlan(ctx, id, s.now())
	if err != nil {
		return err
	}
	if live > 0 {
		if plan.IsActive {
			if err := s.plans.SetSubscriptionPlanActive(ctx, id, true); err != nil {
				log.Errorf("[Catalog] Failed to relist subscription plan %d: %v", id, err)
			}
			s.invalidate(ctx, subscriptionPlansKey)
		}
		return apperr.Newf(apperr.CodePlanInUse, "subscription plan %d is referenced by %d active subscriptions", id, live)
	}
	return s.plans.DeleteSubscriptionPlan(ctx, id)
}

// cached decodes key into out. Cache errors only cost a database read.
func (s *Service) cached(ctx context.Context, key string, out interface{}) bool {
	if s.cache == nil {
		return false
	}
	raw, err := s.cache.Get(ctx, key)
	if err != nil || raw == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		log.Warnf("[Catalog] Dropping undecodable cache entry %s: %v", key, err)
		s.invalidate(ctx, key)
		return false
	}
	return true
}

func (s *Service) store(ctx context.Context, key string, v interface{}) {
	if s.cache == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, string(b), listingTTL); err != nil {
		log.Warnf("[Catalog] Cache set failed for %s: %v", key, err)
	}
}

func (s *Service) invalidate(ctx context.Context, key string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, key); err != nil {
		log.Warnf("[Catalog] Cache invalidation failed for %s: %v", key, err)
	}
}
