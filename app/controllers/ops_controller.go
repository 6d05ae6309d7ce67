package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/subsyncd/subsyncd/internal/pkg/metrics/counter"
	"github.com/subsyncd/subsyncd/internal/pkg/syncengine"
)

// OpsController exposes the read-only operational surface: outcome counters
// and reconciliation summaries. Nothing here writes; the engine owns all
// mutation paths.
type OpsController struct {
	Repo syncengine.Repository
}

func NewOpsController(repo syncengine.Repository) *OpsController {
	return &OpsController{Repo: repo}
}

// HandleOutcomes returns processed/failed/stale/duplicate counters.
func (oc *OpsController) HandleOutcomes(c *fiber.Ctx) error {
	outcomes, err := counter.OutcomeSnapshot()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "counters_unavailable"})
	}
	reconcile, err := counter.ReconcileSnapshot()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "counters_unavailable"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"outcomes":  outcomes,
		"reconcile": reconcile,
	})
}

// HandleReconciliations returns the most recent reconciliation reports.
func (oc *OpsController) HandleReconciliations(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reports, err := oc.Repo.RecentReconciliationReports(ctx, c.QueryInt("limit", 20))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "reports_unavailable"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"reports": reports})
}
