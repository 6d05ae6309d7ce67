package main

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/subsyncd/subsyncd/app/controllers"
	"github.com/subsyncd/subsyncd/internal/pkg/cache"
	"github.com/subsyncd/subsyncd/internal/pkg/database"
	"github.com/subsyncd/subsyncd/internal/pkg/env"
	"github.com/subsyncd/subsyncd/internal/pkg/router"
	"github.com/subsyncd/subsyncd/internal/pkg/syncengine"
)

func main() {
	app, manager := NewApplication()
	manager.Start()
	defer manager.Stop()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

// NewApplication wires the engine end to end: verifier -> processor ->
// store, plus the reconciliation manager. All dependencies are constructed
// here and passed down explicitly.
func NewApplication() (*fiber.App, *syncengine.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	repo := syncengine.NewRepository(database.GetDB())
	verifier := syncengine.NewVerifierFromEnv()
	processor := syncengine.NewProcessor(repo, syncengine.NewHandlerRegistry())
	reconciler := syncengine.NewReconciler(repo, syncengine.NewProviderClientFromEnv())
	manager := syncengine.NewManager(reconciler, reconcileInterval(), reconcileTimeout())

	app := fiber.New(fiber.Config{
		AppName: "subsyncd",
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	router.InstallRouter(app, router.NewHttpRouter(
		controllers.NewWebhookController(verifier, processor),
		controllers.NewOpsController(repo),
	))

	return app, manager
}

func reconcileInterval() time.Duration {
	if mins, err := strconv.Atoi(env.GetEnv("RECONCILE_INTERVAL_MINUTES", "")); err == nil && mins > 0 {
		return time.Duration(mins) * time.Minute
	}
	return time.Hour
}

func reconcileTimeout() time.Duration {
	if mins, err := strconv.Atoi(env.GetEnv("RECONCILE_TIMEOUT_MINUTES", "")); err == nil && mins > 0 {
		return time.Duration(mins) * time.Minute
	}
	return 10 * time.Minute
}
