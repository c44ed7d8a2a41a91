package router

import (
	"github.com/gofiber/fiber/v2"

	apiv1 "github.com/ManuelReschke/Bookfox/internal/api/v1"
	"github.com/ManuelReschke/Bookfox/internal/pkg/storage"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Deps are the wired services the routers expose.
type Deps struct {
	API      *apiv1.APIServer
	Objects  storage.ObjectStore
	AdminKey string
	// LimiterStorage backs the API rate limiter. Nil keeps counters in memory.
	LimiterStorage fiber.Storage
}

func InstallRouter(app *fiber.App, deps Deps) {
	// system routes first so health checks bypass the API limiter
	setup(app, NewSystemRouter(deps.Objects, deps.AdminKey), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
