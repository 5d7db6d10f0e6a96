package oracle

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insight-agent/backend/internal/errs"
)

const validAnalyzeJSON = `{
	"analysis_type": "Trend",
	"sql": "SELECT month, SUM(revenue) AS total FROM uploaded_data GROUP BY month",
	"insight": "Revenue grows steadily through the year.",
	"chart_config": {"type": "line", "xKey": "month", "yKey": "total"},
	"follow_up_questions": ["Which region grew fastest?", "", "What drove Q4?", "Is growth seasonal?", "extra"]
}`

func TestParseAnalyzeResult(t *testing.T) {
	result, err := ParseAnalyzeResult([]byte(validAnalyzeJSON))
	require.NoError(t, err)

	assert.Equal(t, "trend", result.AnalysisType)
	assert.Equal(t, "line", result.ChartConfig.Type)
	assert.Equal(t, "month", result.ChartConfig.XKey)
	// blank entries are dropped and the list is capped at three
	assert.Equal(t, []string{"Which region grew fastest?", "What drove Q4?", "Is growth seasonal?"}, result.FollowUpQuestions)
}

func TestParseAnalyzeResultRejections(t *testing.T) {
	cases := map[string]string{
		"missing sql":        `{"analysis_type":"trend","insight":"x","chart_config":{"type":"bar","xKey":"a","yKey":"b"},"follow_up_questions":["q"]}`,
		"blank sql":          `{"sql":"   ","analysis_type":"trend","insight":"x","chart_config":{"type":"bar","xKey":"a","yKey":"b"},"follow_up_questions":["q"]}`,
		"bad chart type":     `{"sql":"SELECT 1","analysis_type":"trend","insight":"x","chart_config":{"type":"donut","xKey":"a","yKey":"b"},"follow_up_questions":["q"]}`,
		"missing xKey":       `{"sql":"SELECT 1","analysis_type":"trend","insight":"x","chart_config":{"type":"bar","yKey":"b"},"follow_up_questions":["q"]}`,
		"empty follow ups":   `{"sql":"SELECT 1","analysis_type":"trend","insight":"x","chart_config":{"type":"bar","xKey":"a","yKey":"b"},"follow_up_questions":[" "]}`,
		"missing insight":    `{"sql":"SELECT 1","analysis_type":"trend","chart_config":{"type":"bar","xKey":"a","yKey":"b"},"follow_up_questions":["q"]}`,
		"missing type":       `{"sql":"SELECT 1","insight":"x","chart_config":{"type":"bar","xKey":"a","yKey":"b"},"follow_up_questions":["q"]}`,
		"not an object":      `[1, 2, 3]`,
		"chart not a config": `{"sql":"SELECT 1","analysis_type":"trend","insight":"x","chart_config":"bar","follow_up_questions":["q"]}`,
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAnalyzeResult([]byte(payload))
			require.Error(t, err)
			assert.Equal(t, errs.KindOracleContract, errs.KindOf(err))
		})
	}
}

func planJSON(probes ...string) string {
	return fmt.Sprintf(`{"analysis_goal":"Understand revenue drivers","probes":[%s]}`, strings.Join(probes, ","))
}

func probeJSON(id, sql string) string {
	return fmt.Sprintf(`{
		"probe_id": %q,
		"question": "What does %s show?",
		"analysis_type": "comparison",
		"sql": %q,
		"chart_hint": {"type": "bar", "xKey": "region", "yKey": "total"},
		"rationale": "Covers one angle"
	}`, id, id, sql)
}

func TestParseExplorationPlan(t *testing.T) {
	plan, err := ParseExplorationPlan([]byte(planJSON(
		probeJSON("p1", "SELECT region, SUM(revenue) AS total FROM uploaded_data GROUP BY region"),
		probeJSON("p2", "SELECT month, SUM(revenue) AS total FROM uploaded_data GROUP BY month"),
	)), 5)
	require.NoError(t, err)

	assert.Equal(t, "Understand revenue drivers", plan.AnalysisGoal)
	require.Len(t, plan.Probes, 2)
	assert.Equal(t, "p1", plan.Probes[0].ProbeID)
	assert.Equal(t, "comparison", plan.Probes[0].AnalysisType)
}

func TestParseExplorationPlanRejectsDuplicateIDs(t *testing.T) {
	_, err := ParseExplorationPlan([]byte(planJSON(
		probeJSON("p1", "SELECT 1"),
		probeJSON("p1", "SELECT 2"),
	)), 5)
	require.Error(t, err)
	assert.Equal(t, errs.KindOracleContract, errs.KindOf(err))
	assert.Contains(t, err.Error(), "duplicate probe_id")
}

func TestParseExplorationPlanRejectsDuplicateSQL(t *testing.T) {
	// SQL comparison ignores case and whitespace
	_, err := ParseExplorationPlan([]byte(planJSON(
		probeJSON("p1", "SELECT region FROM uploaded_data"),
		probeJSON("p2", "select   REGION from\nuploaded_data"),
	)), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate SQL")
}

func TestParseExplorationPlanProbeBounds(t *testing.T) {
	_, err := ParseExplorationPlan([]byte(planJSON(probeJSON("p1", "SELECT 1"))), 5)
	require.Error(t, err)

	var many []string
	for i := 0; i < 6; i++ {
		many = append(many, probeJSON(fmt.Sprintf("p%d", i), fmt.Sprintf("SELECT %d", i)))
	}
	_, err = ParseExplorationPlan([]byte(planJSON(many...)), 5)
	require.Error(t, err)
	assert.Equal(t, errs.KindOracleContract, errs.KindOf(err))
}

func TestParseExplorationPlanMissingField(t *testing.T) {
	probe := `{"probe_id":"p1","question":"q","analysis_type":"trend","sql":"SELECT 1","rationale":""}`
	_, err := ParseExplorationPlan([]byte(planJSON(probe, probeJSON("p2", "SELECT 2"))), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required field")
}

const validSynthesisJSON = `{
	"analysis_type": "Comparison",
	"primary_probe_id": "p2",
	"insight": "The west region dominates revenue.",
	"chart_config": {"type": "bar", "xKey": "region", "yKey": "total"},
	"follow_up_questions": ["a", "b", "c", "d"],
	"limitations": ["l1", "l2", "l3", "l4", "l5", "l6"]
}`

func TestParseSynthesis(t *testing.T) {
	synthesis, err := ParseSynthesis([]byte(validSynthesisJSON), []string{"p1", "p2"})
	require.NoError(t, err)

	assert.Equal(t, "comparison", synthesis.AnalysisType)
	assert.Equal(t, "p2", synthesis.PrimaryProbeID)
	assert.Len(t, synthesis.FollowUpQuestions, 3)
	assert.Len(t, synthesis.Limitations, 5)
}

func TestParseSynthesisUnknownPrimaryProbe(t *testing.T) {
	_, err := ParseSynthesis([]byte(validSynthesisJSON), []string{"p1"})
	require.Error(t, err)
	assert.Equal(t, errs.KindOracleContract, errs.KindOf(err))
	assert.Contains(t, err.Error(), "p2")
}

func TestParseHypotheses(t *testing.T) {
	payload := `{
		"hypotheses": ["How does revenue trend?", "how does revenue trend?", "Which segment churns most?", " ", "What drives returns?", "Are weekends stronger?", "Is pricing elastic?"],
		"rationale_summary": "Covers trends, segments, and drivers."
	}`

	set, err := ParseHypotheses([]byte(payload), 5)
	require.NoError(t, err)
	// case-insensitive duplicate and blank entry are dropped
	assert.Len(t, set.Hypotheses, 5)
	assert.Equal(t, "How does revenue trend?", set.Hypotheses[0])
}

func TestParseHypothesesWrongCount(t *testing.T) {
	payload := `{"hypotheses": ["a", "b", "c"], "rationale_summary": "x"}`
	_, err := ParseHypotheses([]byte(payload), 5)
	require.Error(t, err)
	assert.Equal(t, errs.KindOracleContract, errs.KindOf(err))
	assert.Contains(t, err.Error(), "exactly 5")
}

func TestParseHypothesesMissingRationale(t *testing.T) {
	payload := `{"hypotheses": ["a", "b", "c", "d", "e"], "rationale_summary": " "}`
	_, err := ParseHypotheses([]byte(payload), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rationale_summary")
}

func draftedActionJSON(actionType string) string {
	return fmt.Sprintf(`{"type": %q, "title": "Do %s", "description": "Because evidence.", "payload": {}}`, actionType, actionType)
}

func TestParseDraftedActions(t *testing.T) {
	payload := fmt.Sprintf(`{"actions": [%s, %s, %s, %s, {"type": "email_blast", "title": "x", "description": "y", "payload": {}}]}`,
		draftedActionJSON("sql_view"),
		draftedActionJSON("dbt_model"),
		draftedActionJSON("jira_ticket"),
		draftedActionJSON("slack_summary"),
	)

	drafted, err := ParseDraftedActions([]byte(payload))
	require.NoError(t, err)
	// unsupported types are dropped, the four required types survive
	assert.Len(t, drafted, 4)
}

func TestParseDraftedActionsMissingType(t *testing.T) {
	payload := fmt.Sprintf(`{"actions": [%s, %s, %s]}`,
		draftedActionJSON("sql_view"),
		draftedActionJSON("dbt_model"),
		draftedActionJSON("jira_ticket"),
	)

	_, err := ParseDraftedActions([]byte(payload))
	require.Error(t, err)
	assert.Equal(t, errs.KindOracleContract, errs.KindOf(err))
}

func TestParseDraftedActionsSkipsMalformedEntries(t *testing.T) {
	payload := fmt.Sprintf(`{"actions": [
		{"type": "sql_view", "title": " ", "description": "y", "payload": {}},
		%s, %s, %s, %s
	]}`,
		draftedActionJSON("sql_view"),
		draftedActionJSON("dbt_model"),
		draftedActionJSON("jira_ticket"),
		draftedActionJSON("slack_summary"),
	)

	drafted, err := ParseDraftedActions([]byte(payload))
	require.NoError(t, err)
	assert.Len(t, drafted, 4)
}

func TestFormatHistory(t *testing.T) {
	history := []ConversationTurn{
		{Role: "user", Content: "  What changed\nlast month? "},
		{Role: "assistant", Content: ""},
	}
	formatted := formatHistory(history)
	assert.Equal(t, "- user: What changed last month?", formatted)

	assert.Equal(t, "No previous context.", formatHistory(nil))

	var long []ConversationTurn
	for i := 0; i < 10; i++ {
		long = append(long, ConversationTurn{Role: "user", Content: fmt.Sprintf("turn %d", i)})
	}
	formatted = formatHistory(long)
	assert.NotContains(t, formatted, "turn 3")
	assert.Contains(t, formatted, "turn 4")
	assert.Contains(t, formatted, "turn 9")
}
