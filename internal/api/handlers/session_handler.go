package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/insight-agent/backend/internal/cache/redis"
	"github.com/insight-agent/backend/internal/engine"
	"github.com/insight-agent/backend/internal/errs"
	"github.com/insight-agent/backend/internal/metrics"
	"github.com/insight-agent/backend/pkg/logger"
)

type SessionHandler struct {
	manager *engine.Manager
	cache   *redis.Client
}

func NewSessionHandler(manager *engine.Manager, cache *redis.Client) *SessionHandler {
	return &SessionHandler{
		manager: manager,
		cache:   cache,
	}
}

// HandleUpload ingests a CSV file into a fresh session.
func (h *SessionHandler) HandleUpload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		return respondError(c, errs.Validation("a CSV file is required in the 'file' form field"))
	}

	file, err := fileHeader.Open()
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		return respondError(c, errs.Wrap(errs.KindExecution, err, "failed to open uploaded file"))
	}
	defer file.Close()

	session, err := h.manager.CreateFromCSV(c.Context(), fileHeader.Filename, file)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		return respondError(c, err)
	}

	metrics.UploadsTotal.WithLabelValues("success").Inc()
	logger.Info("CSV uploaded",
		zap.String("filename", fileHeader.Filename),
		zap.String("session_id", session.ID),
	)

	return c.JSON(fiber.Map{
		"session_id": session.ID,
		"table_name": session.Profile.TableName,
		"row_count":  session.Profile.RowCount,
		"profile":    session.Profile,
		"preview":    session.Profile.SampleRows,
	})
}

func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	info, err := h.manager.Info(c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(info)
}

func (h *SessionHandler) DeleteSession(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	if err := h.manager.Delete(sessionID); err != nil {
		return respondError(c, err)
	}

	if err := h.cache.InvalidateSession(c.Context(), sessionID); err != nil {
		logger.Warn("Failed to invalidate session cache", zap.String("session_id", sessionID), zap.Error(err))
	}

	return c.JSON(fiber.Map{
		"message": "Session deleted successfully",
	})
}

func (h *SessionHandler) HandleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":          "healthy",
		"active_sessions": h.manager.ActiveCount(),
	})
}
