package middleware

import (
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Bookfox/internal/pkg/usercontext"
)

const maxUserIDLength = 64

// IdentityMiddleware reads the authenticated user id the gateway forwards in
// X-User-ID. Requests without it continue as anonymous.
func IdentityMiddleware(c *fiber.Ctx) error {
	uc := usercontext.GetUserContext(c)
	userID := strings.TrimSpace(c.Get(usercontext.HeaderUserID))
	if userID != "" {
		if len(userID) > maxUserIDLength || !utf8.ValidString(userID) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "validation_error",
				"message": "invalid user id header",
			})
		}
		uc.UserID = userID
		uc.IsLoggedIn = true
	}
	usercontext.SetUserContext(c, uc)
	return c.Next()
}
