package entitlements

import (
	"context"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Bookfox/app/models"
	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
)

func subscriptionUsage(paymentRef string) *models.PaymentUsage {
	return &models.PaymentUsage{PaymentRef: paymentRef, Kind: models.EntitlementKindSubscription}
}

// Subscribe starts a subscription. While the user has an active subscription
// the purchase is rejected with subscription_active; RenewSubscription extends it.
func (s *Store) Subscribe(ctx context.Context, userID string, planID uint, paymentRef string) (*models.Subscription, error) {
	if err := checkPurchase(userID, paymentRef); err != nil {
		return nil, err
	}
	plan, err := s.subscriptionPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if err := s.requirePayment(ctx, paymentRef); err != nil {
		return nil, err
	}

	current, err := s.reconcileSlot(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current != nil {
		return nil, apperr.Newf(apperr.CodeSubscriptionActive, "subscription %d is active until %s", current.ID, current.EndAt.Format("2006-01-02"))
	}

	now := s.now()
	slot := userID
	sub := &models.Subscription{
		UserID:     userID,
		PlanID:     plan.ID,
		Status:     models.SubscriptionStatusActive,
		StartAt:    now,
		EndAt:      now.Add(plan.Duration()),
		PaymentRef: paymentRef,
		Version:    1,
		ActiveSlot: &slot,
	}
	if err := s.subscriptions.Create(ctx, sub, subscriptionUsage(paymentRef)); err != nil {
		return nil, err
	}
	log.Infof("[Entitlements] Subscription %d created for user %s until %s", sub.ID, userID, sub.EndAt.Format("2006-01-02"))
	return sub, nil
}

// RenewSubscription extends the active subscription from max(end, now).
// Without an active subscription it behaves like Subscribe.
func (s *Store) RenewSubscription(ctx context.Context, userID string, planID uint, paymentRef string) (*models.Subscription, error) {
	if err := checkPurchase(userID, paymentRef); err != nil {
		return nil, err
	}
	current, err := s.reconcileSlot(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return s.Subscribe(ctx, userID, planID, paymentRef)
	}
	plan, err := s.subscriptionPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if err := s.requirePayment(ctx, paymentRef); err != nil {
		return nil, err
	}

	expected := current.Version
	current.EndAt = laterOf(current.EndAt, s.now()).Add(plan.Duration())
	current.PlanID = plan.ID
	current.PaymentRef = paymentRef
	saved, err := s.subscriptions.SaveIfVersion(ctx, current, expected, subscriptionUsage(paymentRef))
	if err != nil {
		return nil, err
	}
	if !saved {
		return nil, conflict("subscription %d changed concurrently", current.ID)
	}
	log.Infof("[Entitlements] Subscription %d renewed until %s", current.ID, current.EndAt.Format("2006-01-02"))
	return current, nil
}

// CancelSubscription ends the user's active subscription now.
func (s *Store) CancelSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	current, err := s.reconcileSlot(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, apperr.New(apperr.CodeNotFound, "no active subscription")
	}
	now := s.now()
	expected := current.Version
	current.Status = models.SubscriptionStatusCancelled
	current.CancelledAt = &now
	current.EndAt = now
	current.ActiveSlot = nil
	saved, err := s.subscriptions.SaveIfVersion(ctx, current, expected, nil)
	if err != nil {
		return nil, err
	}
	if !saved {
		return nil, conflict("subscription %d changed concurrently", current.ID)
	}
	log.Infof("[Entitlements] Subscription %d cancelled by user %s", current.ID, userID)
	return current, nil
}

// GetActiveSubscription returns the subscription granting access now, or not_found.
func (s *Store) GetActiveSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	sub, err := s.subscriptions.FindByActiveSlot(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !sub.IsActiveAt(s.now()) {
		return nil, apperr.New(apperr.CodeNotFound, "no active subscription")
	}
	return sub, nil
}

// LatestSubscription returns the user's newest subscription with its effective status.
func (s *Store) LatestSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	sub, err := s.subscriptions.Latest(ctx, userID)
	if err != nil {
		return nil, err
	}
	sub.Status = sub.EffectiveStatus(s.now())
	return sub, nil
}

// reconcileSlot returns the user's effectively active subscription. A row that
// still holds the active slot after its end_at is expired on the spot, so a
// lapsed but unswept subscription never blocks a new purchase.
func (s *Store) reconcileSlot(ctx context.Context, userID string) (*models.Subscription, error) {
	sub, err := s.subscriptions.FindByActiveSlot(ctx, userID)
	if err != nil {
		if apperr.HasCode(err, apperr.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if sub.IsActiveAt(s.now()) {
		return sub, nil
	}
	expected := sub.Version
	sub.Status = models.SubscriptionStatusExpired
	sub.ActiveSlot = nil
	saved, err := s.subscriptions.SaveIfVersion(ctx, sub, expected, nil)
	if err != nil {
		return nil, err
	}
	if !saved {
		return nil, conflict("subscription %d changed concurrently", sub.ID)
	}
	return nil, nil
}
