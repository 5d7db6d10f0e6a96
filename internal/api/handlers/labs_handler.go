package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/insight-agent/backend/internal/causal"
	"github.com/insight-agent/backend/internal/engine"
	"github.com/insight-agent/backend/internal/errs"
	"github.com/insight-agent/backend/internal/ml"
)

// Lab endpoints run against the whole uploaded table rather than an
// oracle-planned query.
const labQueryLimit = 50000

type LabsHandler struct {
	manager *engine.Manager
}

func NewLabsHandler(manager *engine.Manager) *LabsHandler {
	return &LabsHandler{manager: manager}
}

func (h *LabsHandler) loadDataset(c *fiber.Ctx, sessionID string) (*engine.ResultSet, error) {
	session, err := h.manager.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return session.Query(c.Context(), "SELECT * FROM "+engine.TableName, labQueryLimit)
}

// HandleCausal ranks candidate drivers of a target metric.
func (h *LabsHandler) HandleCausal(c *fiber.Ctx) error {
	var req struct {
		SessionID    string `json:"session_id"`
		TargetMetric string `json:"target_metric"`
		MaxDrivers   int    `json:"max_drivers"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, errs.Validation("invalid request body"))
	}
	if strings.TrimSpace(req.TargetMetric) == "" {
		return respondError(c, errs.Validation("target_metric is required"))
	}
	if req.MaxDrivers == 0 {
		req.MaxDrivers = 6
	}
	if req.MaxDrivers < 2 || req.MaxDrivers > 12 {
		return respondError(c, errs.Validation("max_drivers must be between 2 and 12"))
	}

	rs, err := h.loadDataset(c, req.SessionID)
	if err != nil {
		return respondError(c, err)
	}

	result, err := causal.Run(rs, req.TargetMetric, req.MaxDrivers)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// HandleRegression fits a linear model and reports fit quality and drivers.
func (h *LabsHandler) HandleRegression(c *fiber.Ctx) error {
	var req struct {
		SessionID      string   `json:"session_id"`
		TargetColumn   string   `json:"target_column"`
		FeatureColumns []string `json:"feature_columns"`
		TestFraction   float64  `json:"test_fraction"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, errs.Validation("invalid request body"))
	}
	if strings.TrimSpace(req.TargetColumn) == "" {
		return respondError(c, errs.Validation("target_column is required"))
	}
	if req.TestFraction == 0 {
		req.TestFraction = 0.2
	}
	if req.TestFraction < 0.05 || req.TestFraction > 0.5 {
		return respondError(c, errs.Validation("test_fraction must be between 0.05 and 0.5"))
	}

	rs, err := h.loadDataset(c, req.SessionID)
	if err != nil {
		return respondError(c, err)
	}

	result, err := ml.RunRegression(rs, req.TargetColumn, req.FeatureColumns, req.TestFraction)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// HandleAnomalies flags rows that deviate from a global or per-group baseline.
func (h *LabsHandler) HandleAnomalies(c *fiber.Ctx) error {
	var req struct {
		SessionID    string  `json:"session_id"`
		MetricColumn string  `json:"metric_column"`
		GroupBy      string  `json:"group_by"`
		ZThreshold   float64 `json:"z_threshold"`
		MaxResults   int     `json:"max_results"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, errs.Validation("invalid request body"))
	}
	if strings.TrimSpace(req.MetricColumn) == "" {
		return respondError(c, errs.Validation("metric_column is required"))
	}
	if req.ZThreshold < 0 {
		return respondError(c, errs.Validation("z_threshold must be positive"))
	}
	if req.MaxResults < 0 || req.MaxResults > 200 {
		return respondError(c, errs.Validation("max_results must be between 1 and 200"))
	}

	rs, err := h.loadDataset(c, req.SessionID)
	if err != nil {
		return respondError(c, err)
	}

	result, err := ml.DetectAnomalies(rs, req.MetricColumn, req.GroupBy, req.ZThreshold, req.MaxResults)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}
