// Package apiv1 exposes the rental, subscription and content access operations over HTTP.
package apiv1

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/Bookfox/internal/pkg/access"
	"github.com/ManuelReschke/Bookfox/internal/pkg/billing"
	"github.com/ManuelReschke/Bookfox/internal/pkg/catalog"
	"github.com/ManuelReschke/Bookfox/internal/pkg/entitlements"
	"github.com/ManuelReschke/Bookfox/internal/pkg/ingest"
	"github.com/ManuelReschke/Bookfox/internal/pkg/jobqueue"
)

const (
	syncIngestTimeout = 15 * time.Minute
	// multipartOverhead covers boundaries and form fields around the archive part.
	multipartOverhead = 1 << 20
)

// AppConfig returns the fiber settings the API is served with. Request bodies
// are streamed, so multipart parts above fasthttp's in-memory threshold spill
// to temp files and the ingestor spools from there. BodyLimit caps an upload
// at maxArchiveBytes plus multipart overhead.
func AppConfig(maxArchiveBytes int64) fiber.Config {
	return fiber.Config{
		BodyLimit:         int(maxArchiveBytes) + multipartOverhead,
		StreamRequestBody: true,
	}
}

// Services are the collaborators the handlers delegate to. Queue and Jobs may
// be nil, in which case uploads are processed inline and maintenance routes 503.
type Services struct {
	Entitlements  *entitlements.Store
	Access        *access.Resolver
	Catalog       *catalog.Service
	Ingestor      *ingest.Ingestor
	Payments      *billing.Service
	Queue         *jobqueue.Queue
	Jobs          *jobqueue.Manager
	WebhookSecret string
}

// APIServer implements the v1 handlers
type APIServer struct {
	svc      Services
	validate *validator.Validate
}

// NewAPIServer creates a new API server instance
func NewAPIServer(svc Services) *APIServer {
	return &APIServer{svc: svc, validate: validator.New()}
}

// Pong is the body of GET /ping
type Pong struct {
	Ping string `json:"ping"`
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(Pong{Ping: "pong"})
}

func requestContext(c *fiber.Ctx) context.Context {
	return c.UserContext()
}
