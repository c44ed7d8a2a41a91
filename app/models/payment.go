package models

import "time"

// PaymentConfirmation is written when the payment provider reports a captured transaction.
type PaymentConfirmation struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Provider       string    `gorm:"type:varchar(30);not null;index" json:"provider"`
	TransactionRef string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"transaction_ref"`
	AmountCents    int64     `gorm:"not null;default:0" json:"amount_cents"`
	Currency       string    `gorm:"type:varchar(3);not null;default:'EUR'" json:"currency"`
	ConfirmedAt    time.Time `gorm:"not null" json:"confirmed_at"`
	PayloadJSON    string    `gorm:"type:longtext" json:"-"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type EntitlementKind string

const (
	EntitlementKindRental       EntitlementKind = "rental"
	EntitlementKindSubscription EntitlementKind = "subscription"
)

// PaymentUsage records which entitlement a confirmed payment funded.
// The unique payment_ref keeps one payment from funding two purchases.
type PaymentUsage struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	PaymentRef    string          `gorm:"type:varchar(191);not null;uniqueIndex" json:"payment_ref"`
	Kind          EntitlementKind `gorm:"type:varchar(20);not null" json:"kind"`
	EntitlementID uint            `gorm:"not null" json:"entitlement_id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}
