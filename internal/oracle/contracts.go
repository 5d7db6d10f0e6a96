package oracle

import (
	"encoding/json"
	"strings"

	"github.com/insight-agent/backend/internal/actions"
	"github.com/insight-agent/backend/internal/charting"
	"github.com/insight-agent/backend/internal/errs"
)

// Contract decoding for oracle responses. Every structural violation is an
// OracleContract error so callers can map it to an upstream failure.

var allowedChartTypes = map[string]bool{
	"line":    true,
	"bar":     true,
	"scatter": true,
	"pie":     true,
	"area":    true,
}

// AnalyzeResult is a validated single-pass analysis response.
type AnalyzeResult struct {
	SQL               string          `json:"sql"`
	Insight           string          `json:"insight"`
	AnalysisType      string          `json:"analysis_type"`
	ChartConfig       charting.Config `json:"chart_config"`
	FollowUpQuestions []string        `json:"follow_up_questions"`
}

// PlannedProbe is one probe in an exploration plan.
type PlannedProbe struct {
	ProbeID      string          `json:"probe_id"`
	Question     string          `json:"question"`
	AnalysisType string          `json:"analysis_type"`
	SQL          string          `json:"sql"`
	ChartHint    charting.Config `json:"chart_hint"`
	Rationale    string          `json:"rationale"`
}

// ExplorationPlan is a validated plan response.
type ExplorationPlan struct {
	AnalysisGoal string         `json:"analysis_goal"`
	Probes       []PlannedProbe `json:"probes"`
}

// Synthesis is a validated synthesis response.
type Synthesis struct {
	AnalysisType      string          `json:"analysis_type"`
	PrimaryProbeID    string          `json:"primary_probe_id"`
	Insight           string          `json:"insight"`
	ChartConfig       charting.Config `json:"chart_config"`
	FollowUpQuestions []string        `json:"follow_up_questions"`
	Limitations       []string        `json:"limitations"`
}

// HypothesisSet is a validated hypothesis batch.
type HypothesisSet struct {
	Hypotheses       []string `json:"hypotheses"`
	RationaleSummary string   `json:"rationale_summary"`
}

func ParseAnalyzeResult(raw []byte) (*AnalyzeResult, error) {
	var decoded struct {
		SQL               string          `json:"sql"`
		Insight           string          `json:"insight"`
		AnalysisType      string          `json:"analysis_type"`
		ChartConfig       json.RawMessage `json:"chart_config"`
		FollowUpQuestions []interface{}   `json:"follow_up_questions"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, errs.OracleContract("oracle returned invalid JSON for analysis output")
	}

	if strings.TrimSpace(decoded.SQL) == "" {
		return nil, errs.OracleContract("oracle response missing valid 'sql' field")
	}
	chartConfig, err := parseChartConfig(decoded.ChartConfig, true)
	if err != nil {
		return nil, err
	}
	followUps := cleanStrings(decoded.FollowUpQuestions, 3)
	if len(followUps) == 0 {
		return nil, errs.OracleContract("oracle response follow_up_questions is empty")
	}
	if strings.TrimSpace(decoded.AnalysisType) == "" {
		return nil, errs.OracleContract("oracle response missing valid analysis_type")
	}
	if strings.TrimSpace(decoded.Insight) == "" {
		return nil, errs.OracleContract("oracle response missing valid insight")
	}

	return &AnalyzeResult{
		SQL:               strings.TrimSpace(decoded.SQL),
		Insight:           strings.TrimSpace(decoded.Insight),
		AnalysisType:      strings.ToLower(strings.TrimSpace(decoded.AnalysisType)),
		ChartConfig:       chartConfig,
		FollowUpQuestions: followUps,
	}, nil
}

func ParseExplorationPlan(raw []byte, maxProbes int) (*ExplorationPlan, error) {
	var plan ExplorationPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, errs.OracleContract("oracle returned invalid JSON for exploration plan")
	}

	if strings.TrimSpace(plan.AnalysisGoal) == "" {
		return nil, errs.OracleContract("exploration plan missing analysis_goal")
	}
	if len(plan.Probes) < 2 || len(plan.Probes) > maxProbes {
		return nil, errs.OracleContract("exploration plan must contain between 2 and %d probes, got %d", maxProbes, len(plan.Probes))
	}

	seenIDs := make(map[string]bool, len(plan.Probes))
	seenSQL := make(map[string]bool, len(plan.Probes))
	for i := range plan.Probes {
		probe := &plan.Probes[i]
		probe.ProbeID = strings.TrimSpace(probe.ProbeID)
		probe.Question = strings.TrimSpace(probe.Question)
		probe.AnalysisType = strings.ToLower(strings.TrimSpace(probe.AnalysisType))
		probe.SQL = strings.TrimSpace(probe.SQL)
		probe.Rationale = strings.TrimSpace(probe.Rationale)

		if probe.ProbeID == "" || probe.Question == "" || probe.AnalysisType == "" || probe.SQL == "" || probe.Rationale == "" {
			return nil, errs.OracleContract("exploration plan probe %d is missing a required field", i+1)
		}
		if seenIDs[probe.ProbeID] {
			return nil, errs.OracleContract("exploration plan contains duplicate probe_id %q", probe.ProbeID)
		}
		seenIDs[probe.ProbeID] = true

		sqlKey := normalizeSQLKey(probe.SQL)
		if seenSQL[sqlKey] {
			return nil, errs.OracleContract("exploration plan contains duplicate SQL for probe %q", probe.ProbeID)
		}
		seenSQL[sqlKey] = true
	}

	plan.AnalysisGoal = strings.TrimSpace(plan.AnalysisGoal)
	return &plan, nil
}

func ParseSynthesis(raw []byte, executedProbeIDs []string) (*Synthesis, error) {
	var decoded struct {
		AnalysisType      string          `json:"analysis_type"`
		PrimaryProbeID    string          `json:"primary_probe_id"`
		Insight           string          `json:"insight"`
		ChartConfig       json.RawMessage `json:"chart_config"`
		FollowUpQuestions []interface{}   `json:"follow_up_questions"`
		Limitations       []interface{}   `json:"limitations"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, errs.OracleContract("oracle returned invalid JSON for synthesis output")
	}

	if strings.TrimSpace(decoded.AnalysisType) == "" {
		return nil, errs.OracleContract("synthesis missing analysis_type")
	}
	if strings.TrimSpace(decoded.Insight) == "" {
		return nil, errs.OracleContract("synthesis missing insight")
	}

	primaryID := strings.TrimSpace(decoded.PrimaryProbeID)
	known := false
	for _, id := range executedProbeIDs {
		if id == primaryID {
			known = true
			break
		}
	}
	if !known {
		return nil, errs.OracleContract("synthesis primary_probe_id %q is not among the executed probes", primaryID)
	}

	chartConfig, err := parseChartConfig(decoded.ChartConfig, false)
	if err != nil {
		return nil, err
	}

	return &Synthesis{
		AnalysisType:      strings.ToLower(strings.TrimSpace(decoded.AnalysisType)),
		PrimaryProbeID:    primaryID,
		Insight:           strings.TrimSpace(decoded.Insight),
		ChartConfig:       chartConfig,
		FollowUpQuestions: cleanStrings(decoded.FollowUpQuestions, 3),
		Limitations:       cleanStrings(decoded.Limitations, 5),
	}, nil
}

func ParseHypotheses(raw []byte, count int) (*HypothesisSet, error) {
	var decoded struct {
		Hypotheses       []interface{} `json:"hypotheses"`
		RationaleSummary string        `json:"rationale_summary"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, errs.OracleContract("oracle returned invalid JSON for hypothesis output")
	}
	if decoded.Hypotheses == nil {
		return nil, errs.OracleContract("hypothesis output missing hypotheses list")
	}

	cleaned := make([]string, 0, len(decoded.Hypotheses))
	seen := make(map[string]bool, len(decoded.Hypotheses))
	for _, item := range decoded.Hypotheses {
		value, ok := item.(string)
		if !ok {
			continue
		}
		candidate := strings.TrimSpace(value)
		if candidate == "" {
			continue
		}
		key := strings.ToLower(candidate)
		if seen[key] {
			continue
		}
		seen[key] = true
		cleaned = append(cleaned, candidate)
	}
	if len(cleaned) != count {
		return nil, errs.OracleContract("oracle must return exactly %d unique hypotheses, got %d", count, len(cleaned))
	}
	if strings.TrimSpace(decoded.RationaleSummary) == "" {
		return nil, errs.OracleContract("hypothesis output missing rationale_summary")
	}

	return &HypothesisSet{
		Hypotheses:       cleaned,
		RationaleSummary: strings.TrimSpace(decoded.RationaleSummary),
	}, nil
}

// ParseDraftedActions keeps well-formed actions and requires all four
// supported types to be present.
func ParseDraftedActions(raw []byte) ([]actions.Action, error) {
	var decoded struct {
		Actions []struct {
			Type        string                 `json:"type"`
			Title       string                 `json:"title"`
			Description string                 `json:"description"`
			Payload     map[string]interface{} `json:"payload"`
		} `json:"actions"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, errs.OracleContract("oracle returned invalid JSON for action output")
	}
	if decoded.Actions == nil {
		return nil, errs.OracleContract("action output missing actions list")
	}

	allowed := map[string]bool{
		actions.TypeSQLView:      true,
		actions.TypeDBTModel:     true,
		actions.TypeJiraTicket:   true,
		actions.TypeSlackSummary: true,
	}
	seenTypes := make(map[string]bool, len(allowed))

	normalized := make([]actions.Action, 0, len(decoded.Actions))
	for _, action := range decoded.Actions {
		if !allowed[action.Type] {
			continue
		}
		if strings.TrimSpace(action.Title) == "" || strings.TrimSpace(action.Description) == "" {
			continue
		}
		if action.Payload == nil {
			continue
		}
		seenTypes[action.Type] = true
		normalized = append(normalized, actions.Action{
			Type:        action.Type,
			Title:       strings.TrimSpace(action.Title),
			Description: strings.TrimSpace(action.Description),
			Payload:     action.Payload,
		})
	}

	if len(seenTypes) != len(allowed) {
		return nil, errs.OracleContract("oracle actions must include sql_view, dbt_model, jira_ticket, and slack_summary")
	}
	return normalized, nil
}

// parseChartConfig decodes a chart_config object. strict mode additionally
// requires a known type and non-empty axis keys.
func parseChartConfig(raw json.RawMessage, strict bool) (charting.Config, error) {
	if len(raw) == 0 {
		return charting.Config{}, errs.OracleContract("oracle response missing valid 'chart_config' object")
	}
	var config charting.Config
	if err := json.Unmarshal(raw, &config); err != nil {
		return charting.Config{}, errs.OracleContract("oracle response missing valid 'chart_config' object")
	}
	if !strict {
		return config, nil
	}
	if !allowedChartTypes[config.Type] {
		return charting.Config{}, errs.OracleContract("oracle response has unsupported chart_config.type %q", config.Type)
	}
	if strings.TrimSpace(config.XKey) == "" {
		return charting.Config{}, errs.OracleContract("oracle response missing valid chart_config.xKey")
	}
	if strings.TrimSpace(config.YKey) == "" {
		return charting.Config{}, errs.OracleContract("oracle response missing valid chart_config.yKey")
	}
	return config, nil
}

func cleanStrings(items []interface{}, limit int) []string {
	cleaned := make([]string, 0, len(items))
	for _, item := range items {
		value, ok := item.(string)
		if !ok {
			continue
		}
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		cleaned = append(cleaned, trimmed)
		if len(cleaned) == limit {
			break
		}
	}
	return cleaned
}

func normalizeSQLKey(sql string) string {
	return strings.Join(strings.Fields(strings.ToLower(sql)), " ")
}
