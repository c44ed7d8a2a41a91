package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	flog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/Bookfox/app/repository"
	apiv1 "github.com/ManuelReschke/Bookfox/internal/api/v1"
	"github.com/ManuelReschke/Bookfox/internal/pkg/access"
	"github.com/ManuelReschke/Bookfox/internal/pkg/billing"
	"github.com/ManuelReschke/Bookfox/internal/pkg/cache"
	"github.com/ManuelReschke/Bookfox/internal/pkg/catalog"
	"github.com/ManuelReschke/Bookfox/internal/pkg/database"
	"github.com/ManuelReschke/Bookfox/internal/pkg/entitlements"
	"github.com/ManuelReschke/Bookfox/internal/pkg/env"
	"github.com/ManuelReschke/Bookfox/internal/pkg/ingest"
	"github.com/ManuelReschke/Bookfox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/Bookfox/internal/pkg/locator"
	"github.com/ManuelReschke/Bookfox/internal/pkg/router"
	"github.com/ManuelReschke/Bookfox/internal/pkg/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	app, jobs := NewApplication()

	go func() {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
		flog.Info("[Bookfox] Shutting down")
		jobs.Stop()
		storage.StopHealthMonitor()
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			flog.Errorf("[Bookfox] Shutdown: %v", err)
		}
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/bookfox to project root
		"../../../", // Fallback
	}
	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public/docs"); !os.IsNotExist(err) {
			basePath = path
			break
		}
	}
	if basePath == "" {
		panic("Could not find project root directory")
	}

	// object storage
	storageCfg, err := storage.LoadConfig()
	if err != nil {
		log.Fatalf("storage config: %v", err)
	}
	objects, err := storage.Open(context.Background(), storageCfg)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	storage.StartHealthMonitor(objects, env.GetDuration("STORAGE_HEALTH_INTERVAL", time.Minute))

	// services
	db := database.GetDB()
	repos := repository.NewRepositories(db)
	shared := cache.Redis{Client: cache.GetClient()}

	payments := billing.NewServiceFromDB(db)
	if env.IsDev() {
		payments.WithMockPayments(env.GetEnv("PAYMENT_MOCK_PREFIX", ""))
	}
	ents := entitlements.NewStore(repos, payments)
	loc := locator.New(repos.Asset, shared)

	queueCfg := jobqueue.LoadConfig()
	queue := jobqueue.NewQueue(cache.GetClient(), queueCfg)

	limits := ingest.LoadLimits()
	ingestor := ingest.NewIngestor(repos.Asset, objects, limits).
		WithIndexObserver(loc).
		WithCleaner(jobqueue.ObjectCleaner{Queue: queue, Reason: "superseded"})

	queue.Handle(jobqueue.JobTypeIngestArchive, jobqueue.IngestProcessor(ingestor))
	queue.Handle(jobqueue.JobTypeDeleteObjects, jobqueue.DeleteObjectsProcessor(objects))
	jobs := jobqueue.NewManager(queue, jobqueue.ReconcileTask(queueCfg.SweepInterval, ents, ingestor))
	jobs.Start()

	server := apiv1.NewAPIServer(apiv1.Services{
		Entitlements:  ents,
		Access:        access.NewResolver(ents, repos.Book, loc, objects, access.LoadConfig()),
		Catalog:       catalog.NewService(repos, shared),
		Ingestor:      ingestor,
		Payments:      payments,
		Queue:         queue,
		Jobs:          jobs,
		WebhookSecret: env.GetEnv("PAYMENT_WEBHOOK_SECRET", ""),
	})

	// init fiber app; request bodies are streamed and bounded by the ingest limit
	app := fiber.New(apiv1.AppConfig(limits.MaxArchiveBytes))

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app, router.Deps{
		API:            server,
		Objects:        objects,
		AdminKey:       env.GetEnv("ADMIN_API_KEY", ""),
		LimiterStorage: router.NewLimiterStorage(),
	})

	return app, jobs
}
