package controllers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/subsyncd/subsyncd/app/models"
	"github.com/subsyncd/subsyncd/internal/pkg/env"
	"github.com/subsyncd/subsyncd/internal/pkg/metrics/counter"
	"github.com/subsyncd/subsyncd/internal/pkg/syncengine"
)

const (
	signatureHeader       = "Billing-Signature"
	defaultWebhookTimeout = 10 * time.Second
)

// WebhookController is the front door for provider webhook deliveries.
// Verifier and processor are injected at construction; the controller only
// maps outcomes to HTTP status codes:
//
//	200 durably accepted (including no-op, stale and duplicate outcomes)
//	400 verification failure (provider must not retry)
//	409/500 transient failure (provider should retry)
type WebhookController struct {
	Verifier  *syncengine.Verifier
	Processor *syncengine.Processor
	Timeout   time.Duration
}

// NewWebhookController builds the controller; the timeout is read from
// WEBHOOK_TIMEOUT_SECONDS and must stay well under the provider's own retry
// window so slow failures still leave room for redelivery.
func NewWebhookController(verifier *syncengine.Verifier, processor *syncengine.Processor) *WebhookController {
	timeout := defaultWebhookTimeout
	if secs, err := strconv.Atoi(env.GetEnv("WEBHOOK_TIMEOUT_SECONDS", "")); err == nil && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	return &WebhookController{
		Verifier:  verifier,
		Processor: processor,
		Timeout:   timeout,
	}
}

// HandleBillingWebhook receives one signed event. The raw body is passed to
// verification exactly as received; parsing happens only after the MAC
// checks out.
func (wc *WebhookController) HandleBillingWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get(signatureHeader))

	event, err := wc.Verifier.Verify(rawBody, signature)
	if err != nil {
		_ = counter.AddOutcome(counter.FieldRejected)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": verificationErrorCode(err),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), wc.Timeout)
	defer cancel()

	outcome, err := wc.Processor.Process(ctx, event)
	if err != nil {
		if errors.Is(err, syncengine.ErrEventInFlight) {
			_ = counter.AddOutcome(counter.FieldInFlight)
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "event_in_flight"})
		}
		_ = counter.AddOutcome(counter.FieldFailed)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing_failed"})
	}

	switch {
	case outcome.Duplicate:
		_ = counter.AddOutcome(counter.FieldDuplicate)
	case outcome.Apply == syncengine.ApplySkippedStale:
		_ = counter.AddOutcome(counter.FieldStale)
	case outcome.Result == models.OutcomeFailed:
		_ = counter.AddOutcome(counter.FieldFailed)
	default:
		_ = counter.AddOutcome(counter.FieldProcessed)
	}

	// Data errors are acknowledged with 200: the outcome is durably recorded
	// and a blind redelivery would fail identically.
	resp := fiber.Map{"ok": true, "outcome": outcome.Result}
	if outcome.Duplicate {
		resp["duplicate"] = true
	}
	if outcome.Apply == syncengine.ApplySkippedStale {
		resp["stale"] = true
	}
	if outcome.ErrorDetail != "" {
		resp["detail"] = outcome.ErrorDetail
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func verificationErrorCode(err error) string {
	switch {
	case errors.Is(err, syncengine.ErrStaleTimestamp):
		return "stale_timestamp"
	case errors.Is(err, syncengine.ErrMalformedPayload):
		return "invalid_payload"
	default:
		return "invalid_signature"
	}
}
