package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Bookfox/internal/pkg/usercontext"
)

// AdminAPIKeyMiddleware authenticates admin requests carrying the configured key
// in X-API-Key or as a bearer token. An empty adminKey disables admin access.
func AdminAPIKeyMiddleware(adminKey string) fiber.Handler {
	if adminKey == "" {
		log.Warn("[Middleware] ADMIN_API_KEY is not set; admin routes are disabled")
	}
	return func(c *fiber.Ctx) error {
		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}
		if adminKey == "" || subtle.ConstantTimeCompare([]byte(apiKey), []byte(adminKey)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
		}

		uc := usercontext.GetUserContext(c)
		uc.IsAdmin = true
		usercontext.SetUserContext(c, uc)
		return c.Next()
	}
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get(usercontext.HeaderAPIKey))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
