package engine

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/insight-agent/backend/internal/errs"
)

// Durable probe artifacts live inside the session database so a run can be
// replayed or inspected for as long as the session is alive.

type ProbeArtifact struct {
	ProbeID      string
	Question     string
	AnalysisType string
	Rationale    string
	SQL          string
	RowCount     int
	ChartType    string
	XKey         string
	YKey         string
	GraphData    []map[string]interface{}
	LLMSample    map[string]interface{}
	Stats        map[string]interface{}
}

type ChartHint struct {
	Type string `json:"type"`
	XKey string `json:"xKey"`
	YKey string `json:"yKey"`
}

type ArtifactSummary struct {
	ProbeID      string                   `json:"probe_id"`
	Question     string                   `json:"question"`
	AnalysisType string                   `json:"analysis_type"`
	Rationale    string                   `json:"rationale"`
	SQL          string                   `json:"sql"`
	RowCount     int                      `json:"row_count"`
	ChartHint    ChartHint                `json:"chart_hint"`
	Columns      []string                 `json:"columns"`
	SampleRows   []map[string]interface{} `json:"sample_rows"`
	ChartSample  []map[string]interface{} `json:"chart_sample"`
	Stats        map[string]interface{}   `json:"stats"`
}

func initArtifactSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS analysis_runs (
		run_id TEXT PRIMARY KEY,
		question TEXT,
		analysis_goal TEXT,
		probe_count INTEGER,
		created_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS analysis_probe_artifacts (
		artifact_id TEXT PRIMARY KEY,
		run_id TEXT,
		probe_id TEXT,
		question TEXT,
		analysis_type TEXT,
		rationale TEXT,
		sql_text TEXT,
		row_count INTEGER,
		chart_type TEXT,
		x_key TEXT,
		y_key TEXT,
		graph_data_json TEXT,
		llm_sample_json TEXT,
		stats_json TEXT,
		created_at TIMESTAMP
	);
	`
	_, err := db.Exec(schema)
	return err
}

// PersistArtifacts replaces any previously stored run with the same id.
func (s *Session) PersistArtifacts(runID, question, analysisGoal string, artifacts []ProbeArtifact) error {
	if strings.TrimSpace(runID) == "" {
		return errs.Validation("run_id is required for analysis artifacts")
	}
	if len(artifacts) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errs.Wrap(errs.KindExecution, err, "failed to begin artifact transaction")
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM analysis_probe_artifacts WHERE run_id = ?", runID); err != nil {
		return errs.Wrap(errs.KindExecution, err, "failed to clear prior artifacts")
	}
	if _, err := tx.Exec("DELETE FROM analysis_runs WHERE run_id = ?", runID); err != nil {
		return errs.Wrap(errs.KindExecution, err, "failed to clear prior run")
	}

	createdAt := time.Now().UTC()
	if _, err := tx.Exec(
		"INSERT INTO analysis_runs (run_id, question, analysis_goal, probe_count, created_at) VALUES (?, ?, ?, ?, ?)",
		runID, strings.TrimSpace(question), strings.TrimSpace(analysisGoal), len(artifacts), createdAt,
	); err != nil {
		return errs.Wrap(errs.KindExecution, err, "failed to insert run")
	}

	stmt, err := tx.Prepare(`
		INSERT INTO analysis_probe_artifacts (
			artifact_id, run_id, probe_id, question, analysis_type, rationale,
			sql_text, row_count, chart_type, x_key, y_key,
			graph_data_json, llm_sample_json, stats_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return errs.Wrap(errs.KindExecution, err, "failed to prepare artifact insert")
	}
	defer stmt.Close()

	for _, artifact := range artifacts {
		probeID := strings.TrimSpace(artifact.ProbeID)
		if probeID == "" {
			continue
		}

		graphJSON := marshalOrEmpty(artifact.GraphData, "[]")
		sampleJSON := marshalOrEmpty(artifact.LLMSample, "{}")
		statsJSON := marshalOrEmpty(artifact.Stats, "{}")

		if _, err := stmt.Exec(
			uuid.New().String(), runID, probeID,
			strings.TrimSpace(artifact.Question),
			strings.TrimSpace(artifact.AnalysisType),
			strings.TrimSpace(artifact.Rationale),
			strings.TrimSpace(artifact.SQL),
			artifact.RowCount,
			artifact.ChartType, artifact.XKey, artifact.YKey,
			graphJSON, sampleJSON, statsJSON, createdAt,
		); err != nil {
			return errs.Wrap(errs.KindExecution, err, "failed to insert artifact")
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.KindExecution, err, "failed to commit artifacts")
	}
	return nil
}

// LoadArtifactSummaries returns compact per-probe summaries ordered by probe id.
func (s *Session) LoadArtifactSummaries(runID string) ([]ArtifactSummary, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT probe_id, question, analysis_type, rationale, sql_text, row_count,
		       chart_type, x_key, y_key, llm_sample_json, stats_json
		FROM analysis_probe_artifacts
		WHERE run_id = ?
		ORDER BY probe_id ASC
	`, runID)
	if err != nil {
		return nil, errs.Wrap(errs.KindExecution, err, "failed to load artifacts")
	}
	defer rows.Close()

	var summaries []ArtifactSummary
	for rows.Next() {
		var (
			summary    ArtifactSummary
			chartType  sql.NullString
			xKey       sql.NullString
			yKey       sql.NullString
			sampleJSON sql.NullString
			statsJSON  sql.NullString
		)
		if err := rows.Scan(
			&summary.ProbeID, &summary.Question, &summary.AnalysisType, &summary.Rationale,
			&summary.SQL, &summary.RowCount, &chartType, &xKey, &yKey, &sampleJSON, &statsJSON,
		); err != nil {
			return nil, errs.Wrap(errs.KindExecution, err, "failed to scan artifact")
		}

		summary.ChartHint = ChartHint{Type: "bar"}
		if chartType.Valid && chartType.String != "" {
			summary.ChartHint.Type = chartType.String
		}
		summary.ChartHint.XKey = xKey.String
		summary.ChartHint.YKey = yKey.String

		summary.Columns = []string{}
		summary.SampleRows = []map[string]interface{}{}
		summary.ChartSample = []map[string]interface{}{}
		summary.Stats = map[string]interface{}{}

		var sample map[string]interface{}
		if sampleJSON.Valid && json.Unmarshal([]byte(sampleJSON.String), &sample) == nil {
			summary.Columns = toStringSlice(sample["columns"])
			summary.SampleRows = toRowSlice(sample["sample_rows"])
			summary.ChartSample = toRowSlice(sample["chart_sample"])
		}
		var stats map[string]interface{}
		if statsJSON.Valid && json.Unmarshal([]byte(statsJSON.String), &stats) == nil {
			summary.Stats = stats
		}

		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindExecution, err, "failed to iterate artifacts")
	}

	return summaries, nil
}

func marshalOrEmpty(v interface{}, fallback string) string {
	data, err := json.Marshal(v)
	if err != nil || v == nil {
		return fallback
	}
	return string(data)
}

func toStringSlice(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toRowSlice(v interface{}) []map[string]interface{} {
	items, ok := v.([]interface{})
	if !ok {
		return []map[string]interface{}{}
	}
	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}
