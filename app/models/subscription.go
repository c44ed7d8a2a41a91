package models

import "time"

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// Subscription grants access to all subscription-eligible books until EndAt.
// ActiveSlot holds the user id while the row is active and NULL otherwise;
// its unique index keeps a user at one active subscription.
type Subscription struct {
	ID          uint               `gorm:"primaryKey" json:"id"`
	UserID      string             `gorm:"type:varchar(64);not null;index" json:"user_id"`
	PlanID      uint               `gorm:"not null;index" json:"plan_id"`
	Status      SubscriptionStatus `gorm:"type:varchar(20);not null;default:'active';index:idx_subscriptions_status_end,priority:1" json:"status"`
	StartAt     time.Time          `gorm:"not null" json:"start_at"`
	EndAt       time.Time          `gorm:"not null;index:idx_subscriptions_status_end,priority:2" json:"end_at"`
	PaymentRef  string             `gorm:"type:varchar(191);not null" json:"payment_ref"`
	Version     int                `gorm:"not null;default:1" json:"version"`
	ActiveSlot  *string            `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	CancelledAt *time.Time         `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *Subscription) EffectiveStatus(now time.Time) SubscriptionStatus {
	if s.Status == SubscriptionStatusActive && now.After(s.EndAt) {
		return SubscriptionStatusExpired
	}
	return s.Status
}

func (s *Subscription) IsActiveAt(now time.Time) bool {
	return s.EffectiveStatus(now) == SubscriptionStatusActive
}
