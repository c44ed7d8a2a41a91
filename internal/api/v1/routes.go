package apiv1

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Bookfox/internal/pkg/middleware"
)

// RegisterHandlers mounts the v1 routes on router. adminAuth guards /admin.
func RegisterHandlers(router fiber.Router, s *APIServer, adminAuth fiber.Handler) {
	router.Get("/ping", s.GetPing)

	router.Get("/plans/rental", s.GetRentalPlans)
	router.Get("/plans/subscription", s.GetSubscriptionPlans)
	router.Post("/payments/webhook", s.PostPaymentWebhook)

	user := middleware.RequireUser
	router.Post("/rentals", user, s.PostRental)
	router.Get("/rentals", user, s.GetRentals)
	router.Get("/rentals/:id", user, s.GetRental)
	router.Post("/rentals/:id/renew", user, s.PostRenewRental)
	router.Post("/rentals/:id/return", user, s.PostReturnRental)

	router.Post("/subscriptions", user, s.PostSubscription)
	router.Get("/subscriptions/current", user, s.GetCurrentSubscription)
	router.Post("/subscriptions/current/renew", user, s.PostRenewSubscription)
	router.Post("/subscriptions/current/cancel", user, s.PostCancelSubscription)

	router.Get("/books/:id/access", user, s.GetBookAccess)
	router.Get("/books/:id/link", user, s.GetBookLink)
	router.Get("/books/:id/chapters", user, s.GetBookChapters)
	router.Get("/books/:id/chapters/:chapter/pages", user, s.GetChapterPages)

	admin := router.Group("/admin", adminAuth, middleware.RequireAdmin)
	admin.Post("/books/:id/ebook", s.PostBookEbook)
	admin.Delete("/books/:id/ebook", s.DeleteBookEbook)
	admin.Get("/assets/:uuid", s.GetAsset)
	admin.Post("/plans/rental", s.PostRentalPlan)
	admin.Post("/plans/rental/:id/deactivate", s.PostDeactivateRentalPlan)
	admin.Delete("/plans/rental/:id", s.DeleteRentalPlan)
	admin.Post("/plans/subscription", s.PostSubscriptionPlan)
	admin.Post("/plans/subscription/:id/deactivate", s.PostDeactivateSubscriptionPlan)
	admin.Delete("/plans/subscription/:id", s.DeleteSubscriptionPlan)
	admin.Post("/rentals/:id/cancel", s.PostCancelRental)
	admin.Get("/jobs/:id", s.GetJob)
	admin.Post("/maintenance/reconcile", s.PostReconcile)
}
