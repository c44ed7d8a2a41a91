package models

// CatalogBook is the slice of the storefront catalog this service reads.
// Rows are owned by the catalog CRUD; we never write them outside of tests and seeding.
type CatalogBook struct {
	ID                   uint   `gorm:"primaryKey" json:"id"`
	Title                string `gorm:"type:varchar(255)" json:"title"`
	SubscriptionEligible bool   `gorm:"not null;default:false" json:"subscription_eligible"`
}

func (CatalogBook) TableName() string {
	return "books"
}
