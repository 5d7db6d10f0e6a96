package analysis

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/insight-agent/backend/internal/charting"
	"github.com/insight-agent/backend/internal/engine"
	"github.com/insight-agent/backend/internal/metrics"
	"github.com/insight-agent/backend/internal/oracle"
	"github.com/insight-agent/backend/internal/trust"
	"github.com/insight-agent/backend/pkg/logger"
)

// Config bounds one runtime instance. Zero values fall back to the package
// defaults.
type Config struct {
	DefaultQueryLimit int
	SprintQueryLimit  int
	ProbeQueryLimit   int
	MaxProbes         int
	ProbeMaxWorkers   int
}

func (c Config) withDefaults() Config {
	if c.DefaultQueryLimit <= 0 {
		c.DefaultQueryLimit = DefaultQueryLimit
	}
	if c.SprintQueryLimit <= 0 {
		c.SprintQueryLimit = SprintQueryLimit
	}
	if c.ProbeQueryLimit <= 0 {
		c.ProbeQueryLimit = ProbeQueryLimit
	}
	if c.MaxProbes <= 0 {
		c.MaxProbes = MaxExplorationProbes
	}
	if c.ProbeMaxWorkers <= 0 {
		c.ProbeMaxWorkers = DefaultProbeWorkers
	}
	return c
}

// Runtime orchestrates analysis end to end: oracle planning, probe execution,
// chart rendering, synthesis, and the trust layer.
type Runtime struct {
	oracle Oracle
	cfg    Config
}

func NewRuntime(o Oracle, cfg Config) *Runtime {
	return &Runtime{oracle: o, cfg: cfg.withDefaults()}
}

// Run answers one question against a session. Sprint mode is a single-pass
// shortcut used for batch hypothesis testing; the default path runs the full
// multi-probe exploration.
func (r *Runtime) Run(ctx context.Context, session *engine.Session, question string, history []oracle.ConversationTurn, sprintMode bool, progress ProgressFunc) (*Result, error) {
	startedAt := time.Now()
	mode := "exploration"
	if sprintMode {
		mode = "sprint"
	}

	var (
		result *Result
		err    error
	)
	if sprintMode {
		result, err = r.runSinglePass(ctx, session, question, history, true)
	} else {
		result, err = r.runExploration(ctx, session, question, history, progress)
	}

	elapsed := time.Since(startedAt)
	metrics.AnalysisDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	if err != nil {
		metrics.AnalysisTotal.WithLabelValues(mode, "error").Inc()
		return nil, err
	}
	metrics.AnalysisTotal.WithLabelValues(mode, "success").Inc()

	layer := trust.Build(trust.Input{
		Question:           question,
		AnalysisType:       result.AnalysisType,
		SQL:                result.SQL,
		RowCount:           result.RowCount,
		VisualizedRowCount: result.VisualizedRowCount,
		ChartConfig:        result.ChartConfig,
		Profile:            session.Profile,
		Latency:            elapsed,
	})

	if result.Exploration != nil {
		probes := make([]map[string]interface{}, 0, len(result.Exploration.Probes))
		for _, probe := range result.Exploration.Probes {
			probes = append(probes, map[string]interface{}{
				"probe_id":  probe.ProbeID,
				"question":  probe.Question,
				"sql":       probe.SQL,
				"row_count": probe.RowCount,
			})
		}
		layer.Provenance.Extra = map[string]interface{}{
			"exploration_probe_count":      len(result.Exploration.Probes),
			"exploration_primary_probe_id": result.Exploration.PrimaryProbeID,
			"exploration_probes":           probes,
		}

		layer.Limitations = mergeLimitations(layer.Limitations, result.synthesisLimitations, trustLimitationCap)
	}

	metrics.ConfidenceScore.Observe(layer.ConfidenceScore)
	result.Trust = layer
	return result, nil
}

func (r *Runtime) runSinglePass(ctx context.Context, session *engine.Session, question string, history []oracle.ConversationTurn, sprintMode bool) (*Result, error) {
	aiResponse, err := r.oracle.AnalyzeQuestion(ctx, question, session.Profile, history)
	if err != nil {
		return nil, err
	}

	maxRows := r.cfg.DefaultQueryLimit
	if sprintMode {
		maxRows = r.cfg.SprintQueryLimit
	}
	rs, err := session.Query(ctx, aiResponse.SQL, maxRows)
	if err != nil {
		return nil, err
	}

	chartOptions, chartData := r.renderChartPayload(rs.Columns, rs.Rows, aiResponse.ChartConfig, aiResponse.AnalysisType, sprintMode)

	// The oracle's preliminary insight was written before the query ran;
	// regenerate it from the actual rows when any came back.
	insight := aiResponse.Insight
	if rs.RowCount() == 0 {
		insight = "No data found matching your query."
	} else if grounded, err := r.oracle.GenerateInsight(ctx, question, aiResponse.SQL, rs.Rows); err != nil {
		logger.Warn("Failed to regenerate insight from query results, keeping preliminary insight",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
	} else if strings.TrimSpace(grounded) != "" {
		insight = grounded
	}

	logger.Debug("Single-pass analysis completed",
		zap.String("session_id", session.ID),
		zap.Int("row_count", rs.RowCount()),
		zap.Bool("sprint", sprintMode),
	)

	return &Result{
		Question:           question,
		Insight:            insight,
		ChartConfig:        chartOptions[0],
		ChartOptions:       chartOptions,
		Data:               chartData,
		SQL:                aiResponse.SQL,
		RowCount:           rs.RowCount(),
		VisualizedRowCount: len(chartData),
		AnalysisType:       aiResponse.AnalysisType,
		FollowUpQuestions:  aiResponse.FollowUpQuestions,
	}, nil
}

// renderChartPayload builds ranked chart options and optimizes the data for
// the best one. Sprint responses are additionally downsampled.
func (r *Runtime) renderChartPayload(columns []string, queryData []map[string]interface{}, base charting.Config, analysisType string, sprintMode bool) ([]charting.Config, []map[string]interface{}) {
	chartOptions := charting.BuildOptions(columns, queryData, base, analysisType)
	chartData := charting.Optimize(queryData, chartOptions[0])
	if sprintMode {
		chartData = charting.SampleEvenly(chartData, sprintChartPointCap)
	}
	return chartOptions, chartData
}

// randomSampleRows picks up to limit rows, preserving source order.
func randomSampleRows(rows []map[string]interface{}, limit int) []map[string]interface{} {
	if limit <= 0 || len(rows) == 0 {
		return []map[string]interface{}{}
	}
	if len(rows) <= limit {
		return rows
	}

	indexes := rand.Perm(len(rows))[:limit]
	sort.Ints(indexes)
	sampled := make([]map[string]interface{}, 0, limit)
	for _, index := range indexes {
		sampled = append(sampled, rows[index])
	}
	return sampled
}

// buildProbeStats computes a compact evidence summary: distribution stats for
// up to 6 numeric columns and top value counts for up to 3 categorical ones.
func buildProbeStats(rs *engine.ResultSet) map[string]interface{} {
	numericSummary := map[string]interface{}{}
	topCategories := map[string]interface{}{}

	if len(rs.Rows) == 0 {
		return map[string]interface{}{
			"column_count":    len(rs.Columns),
			"numeric_summary": numericSummary,
			"top_categories":  topCategories,
		}
	}

	numericSet := make(map[string]bool)
	var numericColumns []string
	for _, column := range rs.Columns {
		if isNumericColumn(rs, column) {
			numericSet[column] = true
			numericColumns = append(numericColumns, column)
		}
	}

	statted := 0
	for _, column := range numericColumns {
		if statted == 6 {
			break
		}
		var values []float64
		for _, row := range rs.Rows {
			if v, ok := charting.ToFloat(row[column]); ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		numericSummary[column] = map[string]interface{}{
			"min":  round6(sorted[0]),
			"p50":  round6(medianSorted(sorted)),
			"mean": round6(meanOf(values)),
			"max":  round6(sorted[len(sorted)-1]),
		}
		statted++
	}

	counted := 0
	for _, column := range rs.Columns {
		if numericSet[column] {
			continue
		}
		if counted == 3 {
			break
		}
		counted++

		counts := make(map[string]int)
		for _, row := range rs.Rows {
			if row[column] == nil {
				continue
			}
			counts[stringOf(row[column])]++
		}
		if len(counts) == 0 {
			continue
		}

		type valueCount struct {
			value string
			count int
		}
		ranked := make([]valueCount, 0, len(counts))
		for value, count := range counts {
			ranked = append(ranked, valueCount{value, count})
		}
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].count != ranked[j].count {
				return ranked[i].count > ranked[j].count
			}
			return ranked[i].value < ranked[j].value
		})
		if len(ranked) > 6 {
			ranked = ranked[:6]
		}

		entries := make([]map[string]interface{}, 0, len(ranked))
		for _, vc := range ranked {
			entries = append(entries, map[string]interface{}{"value": vc.value, "count": vc.count})
		}
		topCategories[column] = entries
	}

	return map[string]interface{}{
		"column_count":    len(rs.Columns),
		"numeric_summary": numericSummary,
		"top_categories":  topCategories,
	}
}

// buildProbeLLMSample bounds the evidence handed back to the oracle: a column
// subset, a small random row sample, and a sampled chart payload.
func buildProbeLLMSample(rs *engine.ResultSet, chartData []map[string]interface{}) map[string]interface{} {
	columns := rs.Columns
	if len(columns) > llmMaxSampleColumns {
		columns = columns[:llmMaxSampleColumns]
	}

	sampled := randomSampleRows(rs.Rows, llmRowSampleLimit)
	compact := make([]map[string]interface{}, 0, len(sampled))
	for _, row := range sampled {
		projected := make(map[string]interface{}, len(columns))
		for _, column := range columns {
			projected[column] = row[column]
		}
		compact = append(compact, projected)
	}

	return map[string]interface{}{
		"columns":      append([]string(nil), columns...),
		"sample_rows":  compact,
		"chart_sample": randomSampleRows(chartData, llmChartSampleLimit),
	}
}

// isNumericColumn reports whether every non-null value in the column is
// numeric, with at least one such value present.
func isNumericColumn(rs *engine.ResultSet, column string) bool {
	seen := false
	for _, row := range rs.Rows {
		value := row[column]
		if value == nil {
			continue
		}
		if !charting.IsNumericValue(value) {
			return false
		}
		seen = true
	}
	return seen
}

func mergeLimitations(base, extra []string, limit int) []string {
	merged := append([]string(nil), base...)
	for _, item := range extra {
		if item == "" || containsString(merged, item) {
			continue
		}
		merged = append(merged, item)
	}
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}

func meanOf(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func medianSorted(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func round6(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*1e6) / 1e6
}

func stringOf(value interface{}) string {
	switch typed := value.(type) {
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(typed, 10)
	case int:
		return strconv.Itoa(typed)
	case bool:
		return strconv.FormatBool(typed)
	default:
		return fmt.Sprintf("%v", typed)
	}
}
