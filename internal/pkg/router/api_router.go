package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	apiv1 "github.com/ManuelReschke/Bookfox/internal/api/v1"
	"github.com/ManuelReschke/Bookfox/internal/pkg/cache"
	"github.com/ManuelReschke/Bookfox/internal/pkg/env"
	"github.com/ManuelReschke/Bookfox/internal/pkg/middleware"
	"github.com/ManuelReschke/Bookfox/internal/pkg/usercontext"
)

type ApiRouter struct {
	server   *apiv1.APIServer
	adminKey string
	limiter  limiter.Config
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", middleware.IdentityMiddleware, limiter.New(h.limiter))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")
	apiv1.RegisterHandlers(v1, h.server, middleware.AdminAPIKeyMiddleware(h.adminKey))
}

func NewApiRouter(deps Deps) *ApiRouter {
	return &ApiRouter{
		server:   deps.API,
		adminKey: deps.AdminKey,
		limiter:  limiterConfig(deps.LimiterStorage),
	}
}

// limiterConfig counts requests per identified user, falling back to the
// client IP for anonymous calls.
func limiterConfig(store fiber.Storage) limiter.Config {
	return limiter.Config{
		Max:        env.GetInt("API_RATE_LIMIT", 120),
		Expiration: env.GetDuration("API_RATE_WINDOW", time.Minute),
		Storage:    store,
		KeyGenerator: func(c *fiber.Ctx) string {
			if id := usercontext.GetUserID(c); id != "" {
				return "user:" + id
			}
			return "ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(apiv1.ErrorResponse{
				Error:     "rate_limited",
				Message:   "too many requests",
				Retryable: true,
			})
		},
	}
}

// NewLimiterStorage keeps limiter counters in Redis so every instance shares
// them. It reuses the cache connection settings on a separate database.
func NewLimiterStorage() fiber.Storage {
	host := "localhost"
	port := 6379
	opts := cache.Options()
	if h, p, err := net.SplitHostPort(opts.Addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}
	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: opts.Password,
		Database: env.GetInt("LIMITER_DB", 1),
		Reset:    false,
	})
}
