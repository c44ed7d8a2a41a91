// Package access decides whether a user may read a book right now and hands
// out short-lived storage URLs scoped to single objects.
//
// Decisions are never cached: every call re-reads the entitlement rows, so a
// returned rental or lapsed subscription stops new grants immediately. Already
// issued URLs stay valid until their TTL elapses.
package access

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Bookfox/app/models"
	"github.com/ManuelReschke/Bookfox/app/repository"
	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
	"github.com/ManuelReschke/Bookfox/internal/pkg/env"
	"github.com/ManuelReschke/Bookfox/internal/pkg/locator"
	"github.com/ManuelReschke/Bookfox/internal/pkg/retry"
	"github.com/ManuelReschke/Bookfox/internal/pkg/storage"
)

const DefaultGrantTTL = 10 * time.Minute

type Reason string

const (
	ReasonNoActiveEntitlement Reason = "no_active_entitlement"
	ReasonRentalExpired       Reason = "rental_expired"
	ReasonSubscriptionExpired Reason = "subscription_expired"
	ReasonContentNotReady     Reason = "content_not_ready"
	ReasonContentNotFound     Reason = "content_not_found"
)

type Source string

const (
	SourceSubscription Source = "subscription"
	SourceRental       Source = "rental"
)

// Decision is the outcome of an entitlement check. A denial is a normal
// value, not an error.
type Decision struct {
	HasAccess bool       `json:"has_access"`
	Reason    Reason     `json:"reason,omitempty"`
	Source    Source     `json:"source,omitempty"`
	EndsAt    *time.Time `json:"entitlement_ends_at,omitempty"`
}

func denied(reason Reason) Decision {
	return Decision{Reason: reason}
}

// Grant is a URL that reads exactly one object until ExpiresAt.
type Grant struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PageGrant is a Grant for one comic page.
type PageGrant struct {
	Index       int    `json:"index"`
	ContentType string `json:"content_type"`
	Grant
}

// Entitlements is the read side of the entitlement store used for decisions.
type Entitlements interface {
	LatestSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	RentalsForBook(ctx context.Context, userID string, bookID uint) ([]models.Rental, error)
	Now() time.Time
}

// Locator resolves the storage keys of a book's content.
type Locator interface {
	Resolve(ctx context.Context, bookID uint) (string, error)
	ResolveChapters(ctx context.Context, bookID uint) ([]string, error)
	ResolvePage(ctx context.Context, bookID uint, chapterName string) ([]locator.PageRef, error)
}

type Config struct {
	GrantTTL time.Duration
	Retry    retry.Config
}

// LoadConfig reads ACCESS_GRANT_TTL and the presign retry settings.
func LoadConfig() Config {
	r := retry.DefaultConfig()
	r.MaxAttempts = env.GetInt("ACCESS_PRESIGN_ATTEMPTS", r.MaxAttempts)
	r.BaseDelay = env.GetDuration("ACCESS_PRESIGN_BASE_DELAY", r.BaseDelay)
	return Config{
		GrantTTL: env.GetDuration("ACCESS_GRANT_TTL", DefaultGrantTTL),
		Retry:    r,
	}
}

type Resolver struct {
	entitlements Entitlements
	books        repository.BookRepository
	locator      Locator
	store        storage.ObjectStore
	config       Config
}

func NewResolver(ents Entitlements, books repository.BookRepository, loc Locator, store storage.ObjectStore, config Config) *Resolver {
	if config.GrantTTL <= 0 {
		config.GrantTTL = DefaultGrantTTL
	}
	return &Resolver{entitlements: ents, books: books, locator: loc, store: store, config: config}
}

// CheckAccess decides whether userID may read bookID now. An active subscription
// covering the book wins over any rental state; otherwise an active rental of
// the book grants access.
func (r *Resolver) CheckAccess(ctx context.Context, userID string, bookID uint) (Decision, error) {
	if userID == "" || bookID == 0 {
		return Decision{}, apperr.New(apperr.CodeValidation, "user and book are required")
	}
	now := r.entitlements.Now()

	sub, err := r.entitlements.LatestSubscription(ctx, userID)
	if err != nil {
		if !apperr.HasCode(err, apperr.CodeNotFound) {
			return Decision{}, err
		}
		sub = nil
	}
	covered := false
	if sub != nil {
		if covered, err = r.eligible(ctx, bookID); err != nil {
			return Decision{}, err
		}
		if covered && sub.IsActiveAt(now) {
			end := sub.EndAt
			return Decision{HasAccess: true, Source: SourceSubscription, EndsAt: &end}, nil
		}
	}

	rentals, err := r.entitlements.RentalsForBook(ctx, userID, bookID)
	if err != nil {
		return Decision{}, err
	}
	for _, rental := range rentals {
		if rental.IsActiveAt(now) {
			end := rental.EndAt
			return Decision{HasAccess: true, Source: SourceRental, EndsAt: &end}, nil
		}
	}

	switch {
	case len(rentals) > 0 && rentals[0].EffectiveStatus(now) == models.RentalStatusExpired:
		return denied(ReasonRentalExpired), nil
	case covered && sub.EffectiveStatus(now) == models.SubscriptionStatusExpired:
		return denied(ReasonSubscriptionExpired), nil
	default:
		return denied(ReasonNoActiveEntitlement), nil
	}
}

// eligible reports whether subscriptions cover the book. Books unknown to the
// catalog are not covered.
func (r *Resolver) eligible(ctx context.Context, bookID uint) (bool, error) {
	book, err := r.books.GetByID(ctx, bookID)
	if err != nil {
		if apperr.HasCode(err, apperr.CodeNotFound) {
			return false, nil
		}
		return false, err
	}
	return book.SubscriptionEligible, nil
}

// contentDecision turns locator lookups that mean "nothing to read" into denials.
func contentDecision(err error) (Decision, bool) {
	switch apperr.CodeOf(err) {
	case apperr.CodeNotReady:
		return denied(ReasonContentNotReady), true
	case apperr.CodeNotFound:
		return denied(ReasonContentNotFound), true
	}
	return Decision{}, false
}

// GetAccessLink checks access and grants a URL for a single-file book.
func (r *Resolver) GetAccessLink(ctx context.Context, userID string, bookID uint) (Decision, *Grant, error) {
	decision, err := r.CheckAccess(ctx, userID, bookID)
	if err != nil || !decision.HasAccess {
		return decision, nil, err
	}
	key, err := r.locator.Resolve(ctx, bookID)
	if err != nil {
		if d, ok := contentDecision(err); ok {
			return d, nil, nil
		}
		return Decision{}, nil, err
	}
	grant, err := r.presign(ctx, userID, key)
	if err != nil {
		return Decision{}, nil, err
	}
	log.Debugf("[Access] Granted %s to user %s until %s", key, userID, grant.ExpiresAt.Format(time.RFC3339))
	return decision, grant, nil
}

// GetChapters checks access and lists the chapters of a comic.
func (r *Resolver) GetChapters(ctx context.Context, userID string, bookID uint) (Decision, []string, error) {
	decision, err := r.CheckAccess(ctx, userID, bookID)
	if err != nil || !decision.HasAccess {
		return decision, nil, err
	}
	names, err := r.locator.ResolveChapters(ctx, bookID)
	if err != nil {
		if d, ok := contentDecision(err); ok {
			return d, nil, nil
		}
		return Decision{}, nil, err
	}
	return decision, names, nil
}

// GetChapterPages checks access and grants one URL per page of a chapter.
func (r *Resolver) GetChapterPages(ctx context.Context, userID string, bookID uint, chapterName string) (Decision, []PageGrant, error) {
	decision, err := r.CheckAccess(ctx, userID, bookID)
	if err != nil || !decision.HasAccess {
		return decision, nil, err
	}
	pages, err := r.locator.ResolvePage(ctx, bookID, chapterName)
	if err != nil {
		if d, ok := contentDecision(err); ok {
			return d, nil, nil
		}
		return Decision{}, nil, err
	}
	grants := make([]PageGrant, 0, len(pages))
	for _, p := range pages {
		g, err := r.presign(ctx, userID, p.Key)
		if err != nil {
			return Decision{}, nil, err
		}
		grants = append(grants, PageGrant{Index: p.Index, ContentType: p.ContentType, Grant: *g})
	}
	return decision, grants, nil
}

// presign issues a URL for exactly one key. Transient storage failures are
// retried with backoff before access_service_unavailable is reported.
func (r *Resolver) presign(ctx context.Context, userID, key string) (*Grant, error) {
	issued := r.entitlements.Now()
	var url string
	err := retry.Do(storage.WithSubject(ctx, userID), r.config.Retry, func(ctx context.Context) error {
		u, err := r.store.Presign(ctx, key, r.config.GrantTTL)
		if err != nil {
			return err
		}
		url = u
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Warnf("[Access] Presign of %s failed: %v", key, err)
		return nil, apperr.Wrap(apperr.CodeAccessServiceUnavailable, "presign "+key, err)
	}
	return &Grant{URL: url, ExpiresAt: issued.Add(r.config.GrantTTL)}, nil
}
