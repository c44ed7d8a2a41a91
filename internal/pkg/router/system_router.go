package router

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"github.com/ManuelReschke/Bookfox/internal/pkg/apperr"
	"github.com/ManuelReschke/Bookfox/internal/pkg/env"
	"github.com/ManuelReschke/Bookfox/internal/pkg/security"
	"github.com/ManuelReschke/Bookfox/internal/pkg/storage"
)

const healthCheckTimeout = 5 * time.Second

// SystemRouter serves health checks, fiber metrics and, for the local storage
// driver, the objects behind signed URLs.
type SystemRouter struct {
	objects  storage.ObjectStore
	adminKey string
}

func NewSystemRouter(objects storage.ObjectStore, adminKey string) *SystemRouter {
	return &SystemRouter{objects: objects, adminKey: adminKey}
}

func (h SystemRouter) InstallRouter(app *fiber.App) {
	app.Get("/healthz", h.health)

	if h.adminKey != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{
				env.GetEnv("METRICS_USER", "admin"): h.adminKey,
			},
		}), monitor.New())
	}

	if local, ok := h.objects.(*storage.LocalStore); ok {
		app.Get("/files/*", serveLocal(local))
	}
}

func (h SystemRouter) health(c *fiber.Ctx) error {
	health, ok := storage.CachedHealth()
	if !ok {
		ctx, cancel := context.WithTimeout(c.UserContext(), healthCheckTimeout)
		defer cancel()
		health = storage.CheckHealth(ctx, h.objects)
	}
	status := fiber.StatusOK
	if !health.Healthy {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{"storage": health})
}

// serveLocal streams an object when the token in the query was issued for
// exactly that key and has not expired.
func serveLocal(local *storage.LocalStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, err := url.PathUnescape(c.Params("*"))
		if err != nil {
			return c.SendStatus(fiber.StatusBadRequest)
		}
		f, claims, err := local.Open(key, c.Query("token"))
		switch {
		case err == nil:
		case errors.Is(err, security.ErrTokenExpired), errors.Is(err, security.ErrInvalidToken):
			return c.SendStatus(fiber.StatusForbidden)
		case apperr.HasCode(err, apperr.CodeNotFound):
			return c.SendStatus(fiber.StatusNotFound)
		default:
			log.Warnf("[Files] Could not open %s: %v", key, err)
			return c.SendStatus(fiber.StatusForbidden)
		}

		info, err := f.Stat()
		if err != nil {
			f.Close()
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		maxAge := claims.ExpiresAt - time.Now().Unix()
		if maxAge < 0 {
			maxAge = 0
		}
		c.Set(fiber.HeaderContentType, storage.ContentTypeFor(path.Ext(key)))
		c.Set(fiber.HeaderCacheControl, "private, max-age="+strconv.FormatInt(maxAge, 10))
		// fasthttp closes f once the body is written
		return c.SendStream(f, int(info.Size()))
	}
}
