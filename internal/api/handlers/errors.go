package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/insight-agent/backend/internal/errs"
	"github.com/insight-agent/backend/pkg/logger"
)

// statusForError maps domain error kinds onto HTTP statuses. Oracle contract
// violations surface as bad gateway because the upstream model, not the
// caller, produced the invalid payload.
func statusForError(err error) int {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return fiber.StatusBadRequest
	case errs.KindResource:
		return fiber.StatusNotFound
	case errs.KindOracleContract:
		return fiber.StatusBadGateway
	case errs.KindExecution:
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

func respondError(c *fiber.Ctx, err error) error {
	status := statusForError(err)
	if status >= fiber.StatusInternalServerError {
		logger.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
	} else {
		logger.Warn("Request rejected", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}
