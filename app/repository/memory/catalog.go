package memory

import (
	"context"
	"sort"

	"github.com/ManuelReschke/Bookfox/app/models"
)

// Plans implements repository.PlanRepository.
type Plans Store

func (r *Plans) CreateRentalPlan(_ context.Context, plan *models.RentalPlan) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	plan.ID = s.id()
	s.rentalPlans[plan.ID] = *plan
	return nil
}

func (r *Plans) GetRentalPlan(_ context.Context, id uint) (*models.RentalPlan, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.rentalPlans[id]
	if !ok {
		return nil, notFound("rental plan")
	}
	return &plan, nil
}

func (r *Plans) ListActiveRentalPlans(_ context.Context, bookID uint) ([]models.RentalPlan, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RentalPlan
	for _, p := range s.rentalPlans {
		if p.IsActive && (bookID == 0 || p.BookID == bookID) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Plans) SetRentalPlanActive(_ context.Context, id uint, active bool) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.rentalPlans[id]
	if !ok {
		return notFound("rental plan")
	}
	plan.IsActive = active
	s.rentalPlans[id] = plan
	return nil
}

func (r *Plans) DeleteRentalPlan(_ context.Context, id uint) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rentalPlans[id]; !ok {
		return notFound("rental plan")
	}
	delete(s.rentalPlans, id)
	return nil
}

func (r *Plans) CreateSubscriptionPlan(_ context.Context, plan *models.SubscriptionPlan) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	plan.ID = s.id()
	s.subPlans[plan.ID] = *plan
	return nil
}

func (r *Plans) GetSubscriptionPlan(_ context.Context, id uint) (*models.SubscriptionPlan, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.subPlans[id]
	if !ok {
		return nil, notFound("subscription plan")
	}
	return &plan, nil
}

func (r *Plans) ListActiveSubscriptionPlans(_ context.Context) ([]models.SubscriptionPlan, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SubscriptionPlan
	for _, p := range s.subPlans {
		if p.IsActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Plans) SetSubscriptionPlanActive(_ context.Context, id uint, active bool) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.subPlans[id]
	if !ok {
		return notFound("subscription plan")
	}
	plan.IsActive = active
	s.subPlans[id] = plan
	return nil
}

func (r *Plans) DeleteSubscriptionPlan(_ context.Context, id uint) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subPlans[id]; !ok {
		return notFound("subscription plan")
	}
	delete(s.subPlans, id)
	return nil
}

// Books implements repository.BookRepository.
type Books Store

func (r *Books) GetByID(_ context.Context, id uint) (*models.CatalogBook, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	book, ok := s.books[id]
	if !ok {
		return nil, notFound("book")
	}
	return &book, nil
}
