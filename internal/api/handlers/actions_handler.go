package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/insight-agent/backend/internal/actions"
	"github.com/insight-agent/backend/internal/engine"
	"github.com/insight-agent/backend/internal/errs"
)

// actionDrafter is the oracle surface the drafting endpoint needs.
type actionDrafter interface {
	DraftActions(ctx context.Context, question, insight, sql, analysisType string, trust interface{}) ([]actions.Action, error)
}

type ActionsHandler struct {
	manager *engine.Manager
	drafter actionDrafter
	runtime *actions.Runtime
}

func NewActionsHandler(manager *engine.Manager, drafter actionDrafter, runtime *actions.Runtime) *ActionsHandler {
	return &ActionsHandler{
		manager: manager,
		drafter: drafter,
		runtime: runtime,
	}
}

// HandleDraft asks the oracle for four concrete follow-up actions grounded in
// a finished analysis.
func (h *ActionsHandler) HandleDraft(c *fiber.Ctx) error {
	var req struct {
		SessionID    string                 `json:"session_id"`
		Question     string                 `json:"question"`
		Insight      string                 `json:"insight"`
		SQL          string                 `json:"sql"`
		AnalysisType string                 `json:"analysis_type"`
		Trust        map[string]interface{} `json:"trust"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, errs.Validation("invalid request body"))
	}
	if err := validateQuestion(req.Question); err != nil {
		return respondError(c, err)
	}
	if strings.TrimSpace(req.Insight) == "" {
		return respondError(c, errs.Validation("insight is required"))
	}
	if strings.TrimSpace(req.SQL) == "" {
		return respondError(c, errs.Validation("sql is required"))
	}
	if req.AnalysisType == "" {
		req.AnalysisType = "other"
	}

	if _, err := h.manager.Get(req.SessionID); err != nil {
		return respondError(c, err)
	}

	drafted, err := h.drafter.DraftActions(c.Context(), req.Question, req.Insight, req.SQL, req.AnalysisType, req.Trust)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"actions": drafted,
	})
}

// HandleExecute renders one drafted action into a dry-run artifact.
func (h *ActionsHandler) HandleExecute(c *fiber.Ctx) error {
	var req struct {
		SessionID string         `json:"session_id"`
		Action    actions.Action `json:"action"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, errs.Validation("invalid request body"))
	}
	if strings.TrimSpace(req.Action.Type) == "" {
		return respondError(c, errs.Validation("action.type is required"))
	}

	if _, err := h.manager.Get(req.SessionID); err != nil {
		return respondError(c, err)
	}

	result, err := h.runtime.Execute(req.Action)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}
