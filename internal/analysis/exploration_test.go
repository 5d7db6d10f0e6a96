package analysis

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insight-agent/backend/internal/charting"
	"github.com/insight-agent/backend/internal/engine"
	"github.com/insight-agent/backend/internal/oracle"
)

type fakeOracle struct {
	analyzeFn    func(question string) (*oracle.AnalyzeResult, error)
	plan         *oracle.ExplorationPlan
	planErr      error
	synthesis    *oracle.Synthesis
	synthesisErr error
	hypotheses   *oracle.HypothesisSet
	insightFn    func(question string, rows []map[string]interface{}) (string, error)
}

func (f *fakeOracle) AnalyzeQuestion(_ context.Context, question string, _ *engine.DatasetProfile, _ []oracle.ConversationTurn) (*oracle.AnalyzeResult, error) {
	if f.analyzeFn == nil {
		return nil, fmt.Errorf("analyze not scripted")
	}
	return f.analyzeFn(question)
}

func (f *fakeOracle) PlanExploration(_ context.Context, _ string, _ *engine.DatasetProfile, _ []oracle.ConversationTurn, _ int) (*oracle.ExplorationPlan, error) {
	return f.plan, f.planErr
}

func (f *fakeOracle) SynthesizeExploration(_ context.Context, _, _ string, _ []engine.ArtifactSummary) (*oracle.Synthesis, error) {
	return f.synthesis, f.synthesisErr
}

func (f *fakeOracle) GenerateHypotheses(_ context.Context, _ *engine.DatasetProfile, count int) (*oracle.HypothesisSet, error) {
	if f.hypotheses != nil {
		return f.hypotheses, nil
	}
	return nil, fmt.Errorf("hypotheses not scripted")
}

func (f *fakeOracle) GenerateInsight(_ context.Context, question, _ string, rows []map[string]interface{}) (string, error) {
	if f.insightFn == nil {
		return "", nil
	}
	return f.insightFn(question, rows)
}

func newTestSession(t *testing.T, rows int) *engine.Session {
	t.Helper()

	var b strings.Builder
	b.WriteString("region,revenue\n")
	regions := []string{"east", "west", "north", "south"}
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "%s,%d\n", regions[i%len(regions)], 100+i)
	}

	manager := engine.NewManager(engine.ManagerConfig{})
	t.Cleanup(manager.Close)

	session, err := manager.CreateFromCSV(context.Background(), "sales.csv", strings.NewReader(b.String()))
	require.NoError(t, err)
	return session
}

func probePlan(probes ...oracle.PlannedProbe) *oracle.ExplorationPlan {
	return &oracle.ExplorationPlan{AnalysisGoal: "Understand revenue by region", Probes: probes}
}

func regionProbe(id, sql string) oracle.PlannedProbe {
	return oracle.PlannedProbe{
		ProbeID:      id,
		Question:     "How does revenue split by region?",
		AnalysisType: "comparison",
		SQL:          sql,
		ChartHint:    charting.Config{Type: "bar", XKey: "region", YKey: "revenue"},
		Rationale:    "Covers the segment angle",
	}
}

func TestRunExplorationHappyPath(t *testing.T) {
	session := newTestSession(t, 80)

	fake := &fakeOracle{
		plan: probePlan(
			regionProbe("p1", "SELECT region, SUM(revenue) AS revenue FROM uploaded_data GROUP BY region"),
			regionProbe("p2", "SELECT region, revenue FROM uploaded_data"),
		),
		synthesis: &oracle.Synthesis{
			AnalysisType:      "comparison",
			PrimaryProbeID:    "p2",
			Insight:           "West leads on revenue.",
			ChartConfig:       charting.Config{Type: "bar", XKey: "region", YKey: "revenue"},
			FollowUpQuestions: []string{"Why does west lead?"},
			Limitations:       []string{"Single-month snapshot."},
		},
	}

	var events []ProgressEvent
	runtime := NewRuntime(fake, Config{})
	result, err := runtime.Run(context.Background(), session, "Which region earns most?", nil, false, func(e ProgressEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)

	assert.Equal(t, "West leads on revenue.", result.Insight)
	assert.Equal(t, "comparison", result.AnalysisType)
	assert.Equal(t, 80, result.RowCount)
	require.NotNil(t, result.Exploration)
	assert.Equal(t, "p2", result.Exploration.PrimaryProbeID)
	require.Len(t, result.Exploration.Probes, 2)
	assert.Equal(t, "p1", result.Exploration.Probes[0].ProbeID)

	// trust provenance carries the exploration context
	extra := result.Trust.Provenance.Extra
	require.NotNil(t, extra)
	assert.Equal(t, 2, extra["exploration_probe_count"])
	assert.Equal(t, "p2", extra["exploration_primary_probe_id"])
	assert.Contains(t, result.Trust.Limitations, "Single-month snapshot.")

	phases := make([]string, 0, len(events))
	for _, event := range events {
		phases = append(phases, event.Phase)
	}
	assert.Equal(t, []string{
		PhasePlanReady,
		PhaseProbeStarted, PhaseProbeStarted,
		PhaseProbeCompleted, PhaseProbeCompleted,
		PhaseSynthesisStarted,
		PhaseSynthesisCompleted,
	}, phases)
}

func TestRunExplorationSwitchesWeakPrimary(t *testing.T) {
	session := newTestSession(t, 200)

	fake := &fakeOracle{
		plan: probePlan(
			regionProbe("p1", "SELECT region, revenue FROM uploaded_data LIMIT 1"),
			regionProbe("p2", "SELECT region, revenue FROM uploaded_data"),
		),
		synthesis: &oracle.Synthesis{
			AnalysisType:   "comparison",
			PrimaryProbeID: "p1",
			Insight:        "Thin evidence.",
			ChartConfig:    charting.Config{Type: "bar", XKey: "region", YKey: "revenue"},
		},
	}

	runtime := NewRuntime(fake, Config{})
	result, err := runtime.Run(context.Background(), session, "Which region earns most?", nil, false, nil)
	require.NoError(t, err)

	assert.Equal(t, "p2", result.Exploration.PrimaryProbeID)
	assert.Contains(t, result.Trust.Limitations,
		"Primary probe switched from p1 to p2 due to stronger evidence density.")
}

func TestRunExplorationProbeFailureAborts(t *testing.T) {
	session := newTestSession(t, 40)

	fake := &fakeOracle{
		plan: probePlan(
			regionProbe("p1", "SELECT region, revenue FROM uploaded_data"),
			regionProbe("p2", "DROP TABLE uploaded_data"),
		),
		synthesis: &oracle.Synthesis{AnalysisType: "comparison", PrimaryProbeID: "p1", Insight: "x"},
	}

	runtime := NewRuntime(fake, Config{ProbeMaxWorkers: 1})
	_, err := runtime.Run(context.Background(), session, "q", nil, false, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Exploration probe 'p2' failed")
}

func probeWithRows(id string, rows, uniqueX int) *ProbeResult {
	data := make([]map[string]interface{}, 0, rows)
	for i := 0; i < rows; i++ {
		data = append(data, map[string]interface{}{
			"x": fmt.Sprintf("v%d", i%uniqueX),
			"y": float64(i),
		})
	}
	return &ProbeResult{
		ProbeID:      id,
		RowCount:     rows,
		ChartData:    data,
		ChartOptions: []charting.Config{{Type: "bar", XKey: "x", YKey: "y"}},
	}
}

func TestSelectPrimaryProbeSwitchesFromTinyResult(t *testing.T) {
	p1 := probeWithRows("p1", 1, 1)
	p2 := probeWithRows("p2", 180, 12)

	selected := selectPrimaryProbe("p1", []ProbeResult{*p1, *p2})
	assert.Equal(t, "p2", selected.ProbeID)
}

func TestSelectPrimaryProbeKeepsStrongPreference(t *testing.T) {
	p1 := probeWithRows("p1", 130, 10)
	p2 := probeWithRows("p2", 90, 30)

	selected := selectPrimaryProbe("p1", []ProbeResult{*p1, *p2})
	assert.Equal(t, "p1", selected.ProbeID)
}

func TestSelectPrimaryProbeUnknownRequestPicksStrongest(t *testing.T) {
	p1 := probeWithRows("p1", 5, 3)
	p2 := probeWithRows("p2", 300, 40)

	selected := selectPrimaryProbe("ghost", []ProbeResult{*p1, *p2})
	assert.Equal(t, "p2", selected.ProbeID)
}

func TestBuildProbeStats(t *testing.T) {
	rs := &engine.ResultSet{
		Columns: []string{"region", "revenue"},
		Rows: []map[string]interface{}{
			{"region": "east", "revenue": 10.0},
			{"region": "east", "revenue": 20.0},
			{"region": "west", "revenue": 30.0},
		},
	}

	stats := buildProbeStats(rs)
	assert.Equal(t, 2, stats["column_count"])

	numeric := stats["numeric_summary"].(map[string]interface{})
	revenue := numeric["revenue"].(map[string]interface{})
	assert.Equal(t, 10.0, revenue["min"])
	assert.Equal(t, 20.0, revenue["p50"])
	assert.Equal(t, 20.0, revenue["mean"])
	assert.Equal(t, 30.0, revenue["max"])

	categories := stats["top_categories"].(map[string]interface{})
	regions := categories["region"].([]map[string]interface{})
	require.Len(t, regions, 2)
	assert.Equal(t, "east", regions[0]["value"])
	assert.Equal(t, 2, regions[0]["count"])
}

func TestBuildProbeStatsEmptyResult(t *testing.T) {
	rs := &engine.ResultSet{Columns: []string{"a", "b"}}
	stats := buildProbeStats(rs)
	assert.Equal(t, 2, stats["column_count"])
	assert.Empty(t, stats["numeric_summary"])
	assert.Empty(t, stats["top_categories"])
}

func TestBuildProbeLLMSampleBounds(t *testing.T) {
	rs := &engine.ResultSet{Columns: make([]string, 0, 12)}
	for i := 0; i < 12; i++ {
		rs.Columns = append(rs.Columns, fmt.Sprintf("c%02d", i))
	}
	for i := 0; i < 50; i++ {
		row := make(map[string]interface{}, len(rs.Columns))
		for _, col := range rs.Columns {
			row[col] = i
		}
		rs.Rows = append(rs.Rows, row)
	}

	sample := buildProbeLLMSample(rs, rs.Rows)
	columns := sample["columns"].([]string)
	assert.Len(t, columns, llmMaxSampleColumns)

	rows := sample["sample_rows"].([]map[string]interface{})
	assert.Len(t, rows, llmRowSampleLimit)
	for _, row := range rows {
		assert.Len(t, row, llmMaxSampleColumns)
	}

	chartSample := sample["chart_sample"].([]map[string]interface{})
	assert.Len(t, chartSample, llmChartSampleLimit)
}
