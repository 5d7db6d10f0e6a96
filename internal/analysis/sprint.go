package analysis

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/insight-agent/backend/internal/engine"
	"github.com/insight-agent/backend/internal/errs"
	"github.com/insight-agent/backend/pkg/logger"
)

const minHypothesisCount = 5

// RunSprint answers a batch of questions in single-pass mode. When no
// questions are supplied the oracle drafts hypotheses first. One failing
// question is recorded in place and never aborts the batch.
func (r *Runtime) RunSprint(ctx context.Context, session *engine.Session, questions []string, maxQuestions int) (*SprintResult, error) {
	if maxQuestions <= 0 {
		return nil, errs.Validation("max_questions must be positive")
	}

	cleaned := make([]string, 0, len(questions))
	for _, question := range questions {
		if trimmed := strings.TrimSpace(question); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}

	rationale := ""
	if len(cleaned) == 0 {
		count := maxQuestions
		if count < minHypothesisCount {
			count = minHypothesisCount
		}
		set, err := r.oracle.GenerateHypotheses(ctx, session.Profile, count)
		if err != nil {
			return nil, err
		}
		cleaned = set.Hypotheses
		rationale = set.RationaleSummary
	}
	if len(cleaned) > maxQuestions {
		cleaned = cleaned[:maxQuestions]
	}

	result := &SprintResult{
		SessionID:        session.ID,
		QuestionsPlanned: len(cleaned),
		Items:            make([]SprintItem, 0, len(cleaned)),
		RationaleSummary: rationale,
	}

	for _, question := range cleaned {
		item := SprintItem{Question: question}
		answer, err := r.Run(ctx, session, question, nil, true, nil)
		if err != nil {
			// Context cancellation ends the whole batch; everything else
			// is a per-question failure.
			if ctx.Err() != nil {
				return nil, err
			}
			logger.Warn("Sprint question failed",
				zap.String("session_id", session.ID),
				zap.String("question", question),
				zap.Error(err),
			)
			item.Error = err.Error()
			result.QuestionsFailed++
		} else {
			item.Result = answer
		}
		result.Items = append(result.Items, item)
	}

	return result, nil
}
