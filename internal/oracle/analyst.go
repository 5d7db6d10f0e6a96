package oracle

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/insight-agent/backend/internal/actions"
	"github.com/insight-agent/backend/internal/engine"
	"github.com/insight-agent/backend/internal/errs"
	"github.com/insight-agent/backend/pkg/logger"
)

// High-level analyst calls. Each method builds its prompts, issues a JSON-mode
// completion, and validates the response against the call's contract.

const llmInsightSampleRows = 10

// AnalyzeQuestion turns a natural-language question into SQL, a chart
// configuration, and a preliminary insight.
func (c *Client) AnalyzeQuestion(ctx context.Context, question string, profile *engine.DatasetProfile, history []ConversationTurn) (*AnalyzeResult, error) {
	logger.Info("Generating SQL for question", zap.String("question", truncate(question, 100)))

	raw, err := c.completeJSON(ctx, "analyze",
		analyzeSystemPrompt(profile, history),
		analyzeUserPrompt(question),
		0.3,
	)
	if err != nil {
		return nil, err
	}

	result, err := ParseAnalyzeResult(raw)
	if err != nil {
		return nil, err
	}
	logger.Info("Generated SQL", zap.String("sql", truncate(result.SQL, 100)))
	return result, nil
}

// PlanExploration asks for a bounded multi-probe exploration plan.
func (c *Client) PlanExploration(ctx context.Context, question string, profile *engine.DatasetProfile, history []ConversationTurn, maxProbes int) (*ExplorationPlan, error) {
	raw, err := c.completeJSON(ctx, "plan",
		planSystemPrompt(profile, history, maxProbes),
		planUserPrompt(question, maxProbes),
		0.3,
	)
	if err != nil {
		return nil, err
	}

	plan, err := ParseExplorationPlan(raw, maxProbes)
	if err != nil {
		return nil, err
	}
	logger.Info("Exploration plan ready",
		zap.String("goal", truncate(plan.AnalysisGoal, 120)),
		zap.Int("probes", len(plan.Probes)),
	)
	return plan, nil
}

// SynthesizeExploration combines probe summaries into one final answer.
func (c *Client) SynthesizeExploration(ctx context.Context, question, goal string, summaries []engine.ArtifactSummary) (*Synthesis, error) {
	if len(summaries) == 0 {
		return nil, errs.Validation("no executed probes are available for synthesis")
	}

	executedIDs := make([]string, 0, len(summaries))
	for _, summary := range summaries {
		executedIDs = append(executedIDs, summary.ProbeID)
	}

	raw, err := c.completeJSON(ctx, "synthesize",
		synthesizeSystemPrompt(),
		synthesizeUserPrompt(question, goal, summaries),
		0.3,
	)
	if err != nil {
		return nil, err
	}
	return ParseSynthesis(raw, executedIDs)
}

// GenerateHypotheses drafts a batch of exploration questions for the dataset.
func (c *Client) GenerateHypotheses(ctx context.Context, profile *engine.DatasetProfile, count int) (*HypothesisSet, error) {
	if count < 5 {
		return nil, errs.Validation("Hypothesis count must be at least 5.")
	}

	raw, err := c.completeJSON(ctx, "hypotheses",
		hypothesesSystemPrompt(profile, count),
		hypothesesUserPrompt(count),
		0.35,
	)
	if err != nil {
		return nil, err
	}
	return ParseHypotheses(raw, count)
}

// DraftActions turns a finished analysis into four reviewable next actions.
func (c *Client) DraftActions(ctx context.Context, question, insight, sql, analysisType string, trust interface{}) ([]actions.Action, error) {
	raw, err := c.completeJSON(ctx, "draft_actions",
		draftActionsSystemPrompt,
		draftActionsUserPrompt(question, insight, sql, analysisType, trust),
		0.25,
	)
	if err != nil {
		return nil, err
	}
	return ParseDraftedActions(raw)
}

// GenerateInsight writes a short prose insight from sampled query results.
func (c *Client) GenerateInsight(ctx context.Context, question, sql string, data []map[string]interface{}) (string, error) {
	if len(data) == 0 {
		return "No rows were returned for this query.", nil
	}
	sample := data
	if len(sample) > llmInsightSampleRows {
		sample = sample[:llmInsightSampleRows]
	}

	content, err := c.completeText(ctx, "insight",
		"You are a data analyst. Provide concise insights.",
		insightUserPrompt(question, sql, sample),
		0.5, 150,
	)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
