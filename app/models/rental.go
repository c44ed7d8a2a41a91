package models

import (
	"fmt"
	"time"
)

type RentalStatus string

const (
	RentalStatusActive    RentalStatus = "active"
	RentalStatusExpired   RentalStatus = "expired"
	RentalStatusReturned  RentalStatus = "returned"
	RentalStatusCancelled RentalStatus = "cancelled"
)

// Rental is a time-boxed right to read one book. EndAt is authoritative,
// Status is a cached value that the sweep brings in line with EndAt.
// LiveSlot holds RentalSlot(user, book) while the row is active and NULL
// otherwise; its unique index keeps a user at one live rental per book.
type Rental struct {
	ID           uint         `gorm:"primaryKey" json:"id"`
	UserID       string       `gorm:"type:varchar(64);not null;index:idx_rentals_user_book,priority:1" json:"user_id"`
	BookID       uint         `gorm:"not null;index:idx_rentals_user_book,priority:2" json:"book_id"`
	PlanID       uint         `gorm:"not null;index" json:"plan_id"`
	Status       RentalStatus `gorm:"type:varchar(20);not null;default:'active';index:idx_rentals_status_end,priority:1" json:"status"`
	StartAt      time.Time    `gorm:"not null" json:"start_at"`
	EndAt        time.Time    `gorm:"not null;index:idx_rentals_status_end,priority:2" json:"end_at"`
	PaymentRef   string       `gorm:"type:varchar(191);not null" json:"payment_ref"`
	Version      int          `gorm:"not null;default:1" json:"version"`
	LiveSlot     *string      `gorm:"type:varchar(100);uniqueIndex" json:"-"`
	ReturnedAt   *time.Time   `json:"returned_at,omitempty"`
	CancelledAt  *time.Time   `json:"cancelled_at,omitempty"`
	CancelReason string       `gorm:"type:varchar(255)" json:"cancel_reason,omitempty"`
	CreatedAt    time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// RentalSlot is the live_slot value of an active rental of bookID by userID.
func RentalSlot(userID string, bookID uint) *string {
	slot := fmt.Sprintf("%s:%d", userID, bookID)
	return &slot
}

// EffectiveStatus recomputes the status at now without trusting the cached column.
func (r *Rental) EffectiveStatus(now time.Time) RentalStatus {
	if r.Status == RentalStatusActive && now.After(r.EndAt) {
		return RentalStatusExpired
	}
	return r.Status
}

// IsActiveAt reports whether the rental grants access at now.
func (r *Rental) IsActiveAt(now time.Time) bool {
	return r.EffectiveStatus(now) == RentalStatusActive
}

// IsTerminal reports whether the row can no longer change state.
// Expired rows are terminal too; they are revived only by a new rental.
func (r *Rental) IsTerminal(now time.Time) bool {
	return r.EffectiveStatus(now) != RentalStatusActive
}
