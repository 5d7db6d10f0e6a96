package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/insight-agent/backend/internal/engine"
)

// ConversationTurn is one prior exchange supplied for prompt context.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	historyTurnCap    = 6
	historyContentCap = 500
)

func formatSchema(profile *engine.DatasetProfile) string {
	if profile == nil {
		return "  (schema unavailable)"
	}

	kind := make(map[string]string, len(profile.Columns))
	for _, col := range profile.NumericColumns {
		kind[col] = "numeric"
	}
	for _, col := range profile.TemporalColumns {
		kind[col] = "temporal"
	}
	for _, col := range profile.CategoricalColumns {
		kind[col] = "categorical"
	}

	lines := make([]string, 0, len(profile.Columns))
	for _, col := range profile.Columns {
		colKind := kind[col]
		if colKind == "" {
			colKind = "unknown"
		}
		lines = append(lines, fmt.Sprintf("  - %s (%s)", col, colKind))
	}
	return strings.Join(lines, "\n")
}

func formatHistory(history []ConversationTurn) string {
	if len(history) > historyTurnCap {
		history = history[len(history)-historyTurnCap:]
	}

	lines := make([]string, 0, len(history))
	for _, turn := range history {
		content := strings.ReplaceAll(strings.TrimSpace(turn.Content), "\n", " ")
		if content == "" {
			continue
		}
		if len(content) > historyContentCap {
			content = content[:historyContentCap]
		}
		role := turn.Role
		if role == "" {
			role = "unknown"
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", role, content))
	}
	if len(lines) == 0 {
		return "No previous context."
	}
	return strings.Join(lines, "\n")
}

func profileJSON(profile *engine.DatasetProfile) string {
	if profile == nil {
		return "{}"
	}
	encoded, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

func analyzeSystemPrompt(profile *engine.DatasetProfile, history []ConversationTurn) string {
	return fmt.Sprintf(`You are a principal data analyst assistant.

You have access to a table named %q with the following schema:
%s

Dataset profile:
%s

Recent conversation context:
%s

Your task is to:
1. Generate a valid SQL SELECT query to answer the user's question
2. Classify the analysis intent (trend, correlation, comparison, distribution, overview, other)
3. Provide a brief insight about what the data shows or will show
4. Suggest the best chart type and configuration for visualizing the results
5. Suggest up to 3 follow-up questions to continue exploration

Rules:
- Only single SELECT/CTE queries are allowed (no INSERT/UPDATE/DELETE/DROP)
- Use appropriate aggregations (SUM, AVG, COUNT, etc.) for analytical questions
- Keep SQL compatible with SQLite
- Always include aliases for derived columns
- For time series, ensure proper date formatting and ordering
- Column names in chart_config must match the SELECT clause output columns
- Choose chart types based on data shape; do not default to bar unless it is clearly best.
- Prefer scatter for numeric-vs-numeric correlation questions and line/area for time trends.

Chart types available:
- "line" - for trends over time
- "bar" - for comparisons across categories
- "scatter" - for correlations between two variables
- "pie" - for part-to-whole relationships (use sparingly)
- "area" - for cumulative trends

Return your response as valid JSON only.`,
		engine.TableName, formatSchema(profile), profileJSON(profile), formatHistory(history))
}

func analyzeUserPrompt(question string) string {
	return fmt.Sprintf(`User Question: %s

Return JSON in this exact format:
{
  "analysis_type": "trend|correlation|comparison|distribution|overview|other",
  "sql": "SELECT ... FROM %s ...",
  "insight": "Brief explanation of what this query reveals",
  "chart_config": {
    "type": "line|bar|scatter|pie|area",
    "xKey": "column_name_from_select",
    "yKey": "column_name_from_select",
    "groupBy": "optional_column_for_multiple_series"
  },
  "follow_up_questions": [
    "Next analytical question 1",
    "Next analytical question 2",
    "Next analytical question 3"
  ]
}`, question, engine.TableName)
}

func planSystemPrompt(profile *engine.DatasetProfile, history []ConversationTurn, maxProbes int) string {
	return fmt.Sprintf(`You are a principal data analyst planning a short SQL exploration.

You have access to a table named %q with the following schema:
%s

Dataset profile:
%s

Recent conversation context:
%s

Design between 2 and %d complementary probe queries that together answer the
user's question. Each probe is a small, independent SELECT against the table.

Rules:
- Only single SELECT/CTE queries are allowed (no INSERT/UPDATE/DELETE/DROP)
- Keep SQL compatible with SQLite and include aliases for derived columns
- Every probe_id must be unique and every probe's SQL must be distinct
- chart_hint columns must match the probe's SELECT output columns
- Probes should cover different angles: totals, segments, trends, outliers

Return your response as valid JSON only.`,
		engine.TableName, formatSchema(profile), profileJSON(profile), formatHistory(history), maxProbes)
}

func planUserPrompt(question string, maxProbes int) string {
	return fmt.Sprintf(`User Question: %s

Return JSON in this exact format:
{
  "analysis_goal": "One sentence describing what the exploration will establish",
  "probes": [
    {
      "probe_id": "p1",
      "question": "Micro-question this probe answers",
      "analysis_type": "trend|correlation|comparison|distribution|overview|other",
      "sql": "SELECT ... FROM %s ...",
      "chart_hint": {"type": "line|bar|scatter|pie|area", "xKey": "col", "yKey": "col"},
      "rationale": "Why this probe helps"
    }
  ]
}

Use between 2 and %d probes.`, question, engine.TableName, maxProbes)
}

func synthesizeSystemPrompt() string {
	return `You are a principal data analyst synthesizing a multi-probe exploration.

You are given the user's question, the exploration goal, and a compact summary
of each executed probe (SQL, row counts, sampled rows, summary statistics).

Your task is to:
1. Pick the single probe whose evidence best answers the question (primary_probe_id)
2. Write an insight grounded only in the probe evidence provided
3. Name the overall analysis type
4. Propose a chart configuration for the primary probe's result columns
5. Suggest up to 3 follow-up questions and up to 5 limitations

Rules:
- primary_probe_id must be one of the executed probe ids
- Do not invent numbers that are not present in the summaries
- Return your response as valid JSON only.`
}

func synthesizeUserPrompt(question, goal string, summaries []engine.ArtifactSummary) string {
	encoded, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		encoded = []byte("[]")
	}
	return fmt.Sprintf(`User Question: %s
Exploration goal: %s

Executed probes:
%s

Return JSON in this exact format:
{
  "analysis_type": "trend|correlation|comparison|distribution|overview|other",
  "primary_probe_id": "p1",
  "insight": "Evidence-grounded answer to the question",
  "chart_config": {"type": "line|bar|scatter|pie|area", "xKey": "col", "yKey": "col"},
  "follow_up_questions": ["..."],
  "limitations": ["..."]
}`, question, goal, string(encoded))
}

func hypothesesSystemPrompt(profile *engine.DatasetProfile, count int) string {
	return fmt.Sprintf(`You are a principal analytics strategist.
Generate exactly %d high-value, concrete analysis questions for exploratory data analysis.

Table name: %s
Schema:
%s

Dataset profile:
%s

Coverage requirements:
- Include trend-break questions
- Include segment delta questions
- Include correlation/relationship questions
- Include outlier/anomaly questions
- Include operational/business actionability

Rules:
- Questions must be specific and answerable with SQL on this dataset
- No duplicates or near-duplicates
- Keep each question under 20 words
- Return valid JSON only
`, count, engine.TableName, formatSchema(profile), profileJSON(profile))
}

func hypothesesUserPrompt(count int) string {
	return fmt.Sprintf(`Return JSON in this exact shape:
{
  "hypotheses": ["q1", "q2", "... exactly %d total ..."],
  "rationale_summary": "1-2 sentence summary"
}`, count)
}

const draftActionsSystemPrompt = `You are an analytics operations agent.
Given an analysis result, draft concrete next actions.
Return exactly 4 actions with these required types:
- sql_view
- dbt_model
- jira_ticket
- slack_summary

Rules:
- Be specific and actionable.
- Use realistic payload fields for each type.
- Return valid JSON only.
`

func draftActionsUserPrompt(question, insight, sql, analysisType string, trust interface{}) string {
	trustJSON, err := json.MarshalIndent(trust, "", "  ")
	if err != nil {
		trustJSON = []byte("{}")
	}
	return fmt.Sprintf(`Analysis context:
Question: %s
Insight: %s
Analysis type: %s
SQL used:
%s
Trust layer:
%s

Return JSON in this exact shape:
{
  "actions": [
    {
      "type": "sql_view|dbt_model|jira_ticket|slack_summary",
      "title": "Short title",
      "description": "What and why",
      "payload": {}
    }
  ]
}
`, question, insight, analysisType, sql, string(trustJSON))
}

func insightUserPrompt(question, sql string, sample []map[string]interface{}) string {
	encoded, err := json.MarshalIndent(sample, "", "  ")
	if err != nil {
		encoded = []byte("[]")
	}
	return fmt.Sprintf(`Based on this SQL query and results, provide a brief insight.

User Question: %s
SQL Query: %s

Sample Results (first %d rows):
%s

Provide a 1-2 sentence insight highlighting key findings or trends.`,
		question, sql, len(sample), string(encoded))
}
