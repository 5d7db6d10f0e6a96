package analysis

import (
	"context"

	"github.com/insight-agent/backend/internal/charting"
	"github.com/insight-agent/backend/internal/engine"
	"github.com/insight-agent/backend/internal/oracle"
	"github.com/insight-agent/backend/internal/trust"
)

// Orchestration limits. Probe queries carry a lower row cap than the
// single-question path because exploration fans out several queries per run.
const (
	DefaultQueryLimit    = 1200
	SprintQueryLimit     = 2000
	ProbeQueryLimit      = 900
	MaxExplorationProbes = 5
	DefaultProbeWorkers  = 4

	llmRowSampleLimit    = 10
	llmChartSampleLimit  = 20
	llmMaxSampleColumns  = 10
	minStrongPrimaryRows = 12
	sprintChartPointCap  = 120
	trustLimitationCap   = 8
)

// Oracle is the planning/synthesis surface the runtime needs. The concrete
// client satisfies it; tests substitute a scripted fake.
type Oracle interface {
	AnalyzeQuestion(ctx context.Context, question string, profile *engine.DatasetProfile, history []oracle.ConversationTurn) (*oracle.AnalyzeResult, error)
	PlanExploration(ctx context.Context, question string, profile *engine.DatasetProfile, history []oracle.ConversationTurn, maxProbes int) (*oracle.ExplorationPlan, error)
	SynthesizeExploration(ctx context.Context, question, goal string, summaries []engine.ArtifactSummary) (*oracle.Synthesis, error)
	GenerateHypotheses(ctx context.Context, profile *engine.DatasetProfile, count int) (*oracle.HypothesisSet, error)
	GenerateInsight(ctx context.Context, question, sql string, data []map[string]interface{}) (string, error)
}

// ProgressEvent reports a phase transition during a multi-step exploration.
type ProgressEvent struct {
	Phase                   string `json:"phase"`
	AnalysisGoal            string `json:"analysis_goal,omitempty"`
	ProbeCount              int    `json:"probe_count,omitempty"`
	ProbeID                 string `json:"probe_id,omitempty"`
	Question                string `json:"question,omitempty"`
	AnalysisType            string `json:"analysis_type,omitempty"`
	RowCount                *int   `json:"row_count,omitempty"`
	RequestedPrimaryProbeID string `json:"requested_primary_probe_id,omitempty"`
	PrimaryProbeID          string `json:"primary_probe_id,omitempty"`
}

// ProgressFunc receives progress events in phase order. Callbacks run on the
// orchestrating goroutine, never concurrently.
type ProgressFunc func(ProgressEvent)

const (
	PhasePlanReady          = "plan_ready"
	PhaseProbeStarted       = "probe_started"
	PhaseProbeCompleted     = "probe_completed"
	PhaseSynthesisStarted   = "synthesis_started"
	PhaseSynthesisCompleted = "synthesis_completed"
)

// ProbeResult is one executed probe with its rendered chart payload.
type ProbeResult struct {
	ProbeID            string                   `json:"probe_id"`
	Question           string                   `json:"question"`
	AnalysisType       string                   `json:"analysis_type"`
	Rationale          string                   `json:"rationale"`
	SQL                string                   `json:"sql"`
	RowCount           int                      `json:"row_count"`
	VisualizedRowCount int                      `json:"visualized_row_count"`
	ChartConfig        charting.Config          `json:"chart_config"`
	ChartOptions       []charting.Config        `json:"chart_options"`
	ChartData          []map[string]interface{} `json:"chart_data"`

	queryData []map[string]interface{}
	columns   []string
	llmSample map[string]interface{}
	stats     map[string]interface{}
}

// Exploration describes a completed multi-probe run.
type Exploration struct {
	AnalysisGoal   string        `json:"analysis_goal"`
	AnalysisRunID  string        `json:"analysis_run_id"`
	PrimaryProbeID string        `json:"primary_probe_id"`
	Probes         []ProbeResult `json:"probes"`
}

// Result is the full analysis response handed to the boundary layer.
type Result struct {
	Question           string                   `json:"question"`
	Insight            string                   `json:"insight"`
	ChartConfig        charting.Config          `json:"chart_config"`
	ChartOptions       []charting.Config        `json:"chart_options"`
	Data               []map[string]interface{} `json:"data"`
	SQL                string                   `json:"sql"`
	RowCount           int                      `json:"row_count"`
	VisualizedRowCount int                      `json:"visualized_row_count"`
	AnalysisType       string                   `json:"analysis_type"`
	FollowUpQuestions  []string                 `json:"follow_up_questions"`
	Exploration        *Exploration             `json:"exploration,omitempty"`
	Trust              trust.Layer              `json:"trust"`

	synthesisLimitations []string
}

// SprintItem is the outcome of one sprint question. Failures are recorded
// in place so one bad question never aborts the batch.
type SprintItem struct {
	Question string  `json:"question"`
	Result   *Result `json:"result,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// SprintResult is a batch of sprint outcomes.
type SprintResult struct {
	SessionID        string       `json:"session_id"`
	QuestionsPlanned int          `json:"questions_planned"`
	QuestionsFailed  int          `json:"questions_failed"`
	Items            []SprintItem `json:"items"`
	RationaleSummary string       `json:"rationale_summary,omitempty"`
}
