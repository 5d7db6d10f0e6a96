package handlers

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/insight-agent/backend/internal/analysis"
	"github.com/insight-agent/backend/internal/cache/redis"
	"github.com/insight-agent/backend/internal/engine"
	"github.com/insight-agent/backend/internal/errs"
	"github.com/insight-agent/backend/internal/oracle"
	"github.com/insight-agent/backend/pkg/logger"
	"github.com/insight-agent/backend/pkg/utils"
)

const (
	maxQuestionLength    = 1000
	conversationTurnCap  = 12
	defaultSprintMax     = 20
	defaultHypothesisCnt = 20
)

// conversationStore keeps short per-conversation histories in memory. Only
// the most recent turns are retained.
type conversationStore struct {
	mu    sync.Mutex
	turns map[string][]oracle.ConversationTurn
}

func newConversationStore() *conversationStore {
	return &conversationStore{turns: make(map[string][]oracle.ConversationTurn)}
}

func (s *conversationStore) history(conversationID string) []oracle.ConversationTurn {
	if conversationID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]oracle.ConversationTurn(nil), s.turns[conversationID]...)
}

func (s *conversationStore) record(conversationID, question, insight string) {
	if conversationID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.turns[conversationID],
		oracle.ConversationTurn{Role: "user", Content: question},
		oracle.ConversationTurn{Role: "assistant", Content: insight},
	)
	if len(turns) > conversationTurnCap {
		turns = turns[len(turns)-conversationTurnCap:]
	}
	s.turns[conversationID] = turns
}

type AnalysisHandler struct {
	manager       *engine.Manager
	runtime       *analysis.Runtime
	oracle        analysis.Oracle
	cache         *redis.Client
	cacheTTL      time.Duration
	conversations *conversationStore
}

func NewAnalysisHandler(manager *engine.Manager, runtime *analysis.Runtime, o analysis.Oracle, cache *redis.Client, cacheTTL time.Duration) *AnalysisHandler {
	if cacheTTL <= 0 {
		cacheTTL = 15 * time.Minute
	}
	return &AnalysisHandler{
		manager:       manager,
		runtime:       runtime,
		oracle:        o,
		cache:         cache,
		cacheTTL:      cacheTTL,
		conversations: newConversationStore(),
	}
}

// HandleAnalyze answers one question with the full multi-probe exploration.
func (h *AnalysisHandler) HandleAnalyze(c *fiber.Ctx) error {
	var req struct {
		SessionID      string `json:"session_id"`
		Question       string `json:"question"`
		ConversationID string `json:"conversation_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, errs.Validation("invalid request body"))
	}
	if err := validateQuestion(req.Question); err != nil {
		return respondError(c, err)
	}

	session, err := h.manager.Get(req.SessionID)
	if err != nil {
		return respondError(c, err)
	}

	// Cached answers are only served for context-free questions; history
	// changes what the oracle plans.
	cacheKey := ""
	if req.ConversationID == "" {
		cacheKey = fmt.Sprintf("%s:%s", session.ID, utils.HashString(req.Question))
		var cached analysis.Result
		if hit, err := h.cache.GetAnalysis(c.Context(), cacheKey, &cached); err != nil {
			logger.Warn("Analysis cache lookup failed", zap.Error(err))
		} else if hit {
			return c.JSON(cached)
		}
	}

	history := h.conversations.history(req.ConversationID)
	result, err := h.runtime.Run(c.Context(), session, req.Question, history, false, nil)
	if err != nil {
		return respondError(c, err)
	}

	h.conversations.record(req.ConversationID, req.Question, result.Insight)
	if cacheKey != "" {
		if err := h.cache.SetAnalysis(c.Context(), cacheKey, result, h.cacheTTL); err != nil {
			logger.Warn("Failed to cache analysis", zap.Error(err))
		}
	}

	return c.JSON(result)
}

// HandleSprint runs a batch of questions in single-pass mode.
func (h *AnalysisHandler) HandleSprint(c *fiber.Ctx) error {
	var req struct {
		SessionID    string   `json:"session_id"`
		Questions    []string `json:"questions"`
		MaxQuestions int      `json:"max_questions"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, errs.Validation("invalid request body"))
	}
	if req.MaxQuestions == 0 {
		req.MaxQuestions = defaultSprintMax
	}
	if req.MaxQuestions < 1 || req.MaxQuestions > 30 {
		return respondError(c, errs.Validation("max_questions must be between 1 and 30"))
	}

	session, err := h.manager.Get(req.SessionID)
	if err != nil {
		return respondError(c, err)
	}

	result, err := h.runtime.RunSprint(c.Context(), session, req.Questions, req.MaxQuestions)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// HandleHypotheses drafts exploration questions for a session's dataset.
func (h *AnalysisHandler) HandleHypotheses(c *fiber.Ctx) error {
	var req struct {
		SessionID string `json:"session_id"`
		Refresh   bool   `json:"refresh"`
		Count     int    `json:"count"`
	}
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, errs.Validation("invalid request body"))
	}
	if req.Count == 0 {
		req.Count = defaultHypothesisCnt
	}
	if req.Count < 5 || req.Count > 30 {
		return respondError(c, errs.Validation("count must be between 5 and 30"))
	}

	session, err := h.manager.Get(req.SessionID)
	if err != nil {
		return respondError(c, err)
	}

	cacheKey := fmt.Sprintf("%s:%d", session.ID, req.Count)
	if !req.Refresh {
		var cached oracle.HypothesisSet
		if hit, err := h.cache.GetHypotheses(c.Context(), cacheKey, &cached); err != nil {
			logger.Warn("Hypotheses cache lookup failed", zap.Error(err))
		} else if hit {
			return c.JSON(cached)
		}
	}

	set, err := h.oracle.GenerateHypotheses(c.Context(), session.Profile, req.Count)
	if err != nil {
		return respondError(c, err)
	}

	if err := h.cache.SetHypotheses(c.Context(), cacheKey, set, h.cacheTTL); err != nil {
		logger.Warn("Failed to cache hypotheses", zap.Error(err))
	}
	return c.JSON(set)
}

func validateQuestion(question string) error {
	trimmed := strings.TrimSpace(question)
	if trimmed == "" {
		return errs.Validation("question is required")
	}
	if len(trimmed) > maxQuestionLength {
		return errs.Validation("question exceeds the %d character limit", maxQuestionLength)
	}
	return nil
}
