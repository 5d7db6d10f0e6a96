package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/insight-agent/backend/internal/analysis"
	"github.com/insight-agent/backend/internal/engine"
	"github.com/insight-agent/backend/pkg/logger"
)

// WebSocketHandler streams exploration progress while an analysis runs, then
// delivers the final result on the same connection.
type WebSocketHandler struct {
	manager *engine.Manager
	runtime *analysis.Runtime
}

func NewWebSocketHandler(manager *engine.Manager, runtime *analysis.Runtime) *WebSocketHandler {
	return &WebSocketHandler{
		manager: manager,
		runtime: runtime,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type      string `json:"type"`
			SessionID string `json:"session_id"`
			Question  string `json:"question"`
		}

		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if msg.Type != "analyze" {
			continue
		}
		if err := validateQuestion(msg.Question); err != nil {
			h.sendError(c, err.Error())
			continue
		}

		logger.Info("Processing WebSocket analysis",
			zap.String("session_id", msg.SessionID),
			zap.String("question", msg.Question),
		)

		if err := h.streamAnalysis(c, msg.SessionID, msg.Question); err != nil {
			logger.Warn("WebSocket analysis failed", zap.Error(err))
			h.sendError(c, err.Error())
		}
	}
}

func (h *WebSocketHandler) streamAnalysis(c *websocket.Conn, sessionID, question string) error {
	session, err := h.manager.Get(sessionID)
	if err != nil {
		return err
	}

	// Progress callbacks arrive on this goroutine, so writing to the
	// connection here is safe.
	result, err := h.runtime.Run(context.Background(), session, question, nil, false, func(event analysis.ProgressEvent) {
		h.sendProgress(c, event)
	})
	if err != nil {
		return err
	}

	return h.sendComplete(c, result)
}

func (h *WebSocketHandler) sendProgress(c *websocket.Conn, event analysis.ProgressEvent) {
	msg := map[string]interface{}{
		"type":  "progress",
		"event": event,
	}
	if err := c.WriteJSON(msg); err != nil {
		logger.Debug("Failed to send progress event", zap.Error(err))
	}
}

func (h *WebSocketHandler) sendComplete(c *websocket.Conn, result *analysis.Result) error {
	return c.WriteJSON(map[string]interface{}{
		"type":   "complete",
		"result": result,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	if err := c.WriteJSON(msg); err != nil {
		logger.Debug("Failed to send error message", zap.Error(err))
	}
}
