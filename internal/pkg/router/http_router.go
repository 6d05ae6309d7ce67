package router

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/subsyncd/subsyncd/app/controllers"
	"github.com/subsyncd/subsyncd/internal/pkg/env"
)

type HttpRouter struct {
	webhook *controllers.WebhookController
	ops     *controllers.OpsController
}

func NewHttpRouter(webhook *controllers.WebhookController, ops *controllers.OpsController) *HttpRouter {
	return &HttpRouter{webhook: webhook, ops: ops}
}

func (h *HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/up", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	// The limiter protects against runaway delivery storms, not against the
	// provider's normal retry cadence, so the ceiling is generous. Counter
	// state lives in Redis so all replicas share one budget.
	webhooks := app.Group("/webhooks", limiter.New(limiter.Config{
		Max:        webhookRateLimit(),
		Expiration: time.Minute,
		Storage:    newLimiterStorage(),
	}))
	webhooks.Post("/billing", h.webhook.HandleBillingWebhook)

	ops := app.Group("/ops")
	ops.Get("/outcomes", h.ops.HandleOutcomes)
	ops.Get("/reconciliations", h.ops.HandleReconciliations)
}

func webhookRateLimit() int {
	if max, err := strconv.Atoi(env.GetEnv("WEBHOOK_RATE_LIMIT_PER_MINUTE", "")); err == nil && max > 0 {
		return max
	}
	return 600
}

func newLimiterStorage() fiber.Storage {
	port, err := strconv.Atoi(env.GetEnv("CACHE_PORT", "6379"))
	if err != nil {
		port = 6379
	}
	return redisstorage.New(redisstorage.Config{
		Host: env.GetEnv("CACHE_HOST", "localhost"),
		Port: port,
	})
}
