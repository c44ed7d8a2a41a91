package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/Bookfox/app/models"
)

// RentalRepository defines the persistence operations of the rental state machine.
// Mutations are version-guarded: SaveIfVersion returns false when the row changed
// since it was read.
type RentalRepository interface {
	// Create inserts the rental and the payment usage that funded it in one transaction.
	Create(ctx context.Context, rental *models.Rental, usage *models.PaymentUsage) error
	GetByID(ctx context.Context, id uint) (*models.Rental, error)
	ListByUser(ctx context.Context, userID string) ([]models.Rental, error)
	// ListByUserAndBook returns the user's rentals of a book, newest first.
	ListByUserAndBook(ctx context.Context, userID string, bookID uint) ([]models.Rental, error)
	// SaveIfVersion writes rental if the stored version still equals expectedVersion.
	// usage is optional and is inserted in the same transaction.
	SaveIfVersion(ctx context.Context, rental *models.Rental, expectedVersion int, usage *models.PaymentUsage) (bool, error)
	// ExpireBefore persists the expired status for at most limit active rows with end_at < now.
	ExpireBefore(ctx context.Context, now time.Time, limit int) (int64, error)
	CountLiveByPlan(ctx context.Context, planID uint, now time.Time) (int64, error)
}

// SubscriptionRepository mirrors RentalRepository for subscriptions.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *models.Subscription, usage *models.PaymentUsage) error
	GetByID(ctx context.Context, id uint) (*models.Subscription, error)
	// FindByActiveSlot returns the row currently holding the user's active slot.
	FindByActiveSlot(ctx context.Context, userID string) (*models.Subscription, error)
	// Latest returns the user's most recent subscription of any status.
	Latest(ctx context.Context, userID string) (*models.Subscription, error)
	SaveIfVersion(ctx context.Context, sub *models.Subscription, expectedVersion int, usage *models.PaymentUsage) (bool, error)
	ExpireBefore(ctx context.Context, now time.Time, limit int) (int64, error)
	CountLiveByPlan(ctx context.Context, planID uint, now time.Time) (int64, error)
}

// PlanRepository defines the interface for rental and subscription plan operations
type PlanRepository interface {
	CreateRentalPlan(ctx context.Context, plan *models.RentalPlan) error
	GetRentalPlan(ctx context.Context, id uint) (*models.RentalPlan, error)
	ListActiveRentalPlans(ctx context.Context, bookID uint) ([]models.RentalPlan, error)
	SetRentalPlanActive(ctx context.Context, id uint, active bool) error
	DeleteRentalPlan(ctx context.Context, id uint) error

	CreateSubscriptionPlan(ctx context.Context, plan *models.SubscriptionPlan) error
	GetSubscriptionPlan(ctx context.Context, id uint) (*models.SubscriptionPlan, error)
	ListActiveSubscriptionPlans(ctx context.Context) ([]models.SubscriptionPlan, error)
	SetSubscriptionPlanActive(ctx context.Context, id uint, active bool) error
	DeleteSubscriptionPlan(ctx context.Context, id uint) error
}

// BookRepository reads the catalog rows owned by the storefront.
type BookRepository interface {
	GetByID(ctx context.Context, id uint) (*models.CatalogBook, error)
}

// AssetRepository defines the ingestion index operations.
type AssetRepository interface {
	Create(ctx context.Context, asset *models.EbookAsset) error
	GetByUUID(ctx context.Context, assetUUID string) (*models.EbookAsset, error)
	// Latest returns the newest asset of a book regardless of status.
	Latest(ctx context.Context, bookID uint) (*models.EbookAsset, error)
	FindReady(ctx context.Context, bookID uint) (*models.EbookAsset, error)
	FindByHash(ctx context.Context, bookID uint, contentHash string) (*models.EbookAsset, error)
	ListByBook(ctx context.Context, bookID uint) ([]models.EbookAsset, error)
	// Transition moves the asset from one status to another; false if it was not in from.
	Transition(ctx context.Context, id uint, from, to models.AssetStatus, errMsg string) (bool, error)
	// Publish stores the chapter index and marks the asset ready in one transaction.
	// A non-zero replaceID is deleted (with its index) in the same transaction.
	Publish(ctx context.Context, asset *models.EbookAsset, chapters []models.Chapter, replaceID uint) error
	// RewriteKeys updates the storage keys of a published asset after promotion
	// and bumps its IndexRevision.
	RewriteKeys(ctx context.Context, asset *models.EbookAsset, keys map[string]string) error
	LoadChapters(ctx context.Context, assetID uint) ([]models.Chapter, error)
	ListStale(ctx context.Context, status models.AssetStatus, updatedBefore time.Time) ([]models.EbookAsset, error)
	Delete(ctx context.Context, id uint) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	Rental       RentalRepository
	Subscription SubscriptionRepository
	Plan         PlanRepository
	Book         BookRepository
	Asset        AssetRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Rental:       NewRentalRepository(db),
		Subscription: NewSubscriptionRepository(db),
		Plan:         NewPlanRepository(db),
		Book:         NewBookRepository(db),
		Asset:        NewAssetRepository(db),
	}
}
