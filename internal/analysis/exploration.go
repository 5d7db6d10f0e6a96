package analysis

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/insight-agent/backend/internal/engine"
	"github.com/insight-agent/backend/internal/errs"
	"github.com/insight-agent/backend/internal/metrics"
	"github.com/insight-agent/backend/internal/oracle"
	"github.com/insight-agent/backend/pkg/logger"
)

// runExploration drives the multi-probe path: plan, fan out probes, persist
// compact summaries, synthesize, then re-validate the primary probe choice.
func (r *Runtime) runExploration(ctx context.Context, session *engine.Session, question string, history []oracle.ConversationTurn, progress ProgressFunc) (*Result, error) {
	runID := uuid.New().String()

	plan, err := r.oracle.PlanExploration(ctx, question, session.Profile, history, r.cfg.MaxProbes)
	if err != nil {
		return nil, err
	}
	emit(progress, ProgressEvent{
		Phase:        PhasePlanReady,
		AnalysisGoal: plan.AnalysisGoal,
		ProbeCount:   len(plan.Probes),
	})

	executedProbes, err := r.executeProbes(ctx, session, plan.Probes, progress)
	if err != nil {
		return nil, err
	}

	artifacts := make([]engine.ProbeArtifact, 0, len(executedProbes))
	for _, probe := range executedProbes {
		artifacts = append(artifacts, engine.ProbeArtifact{
			ProbeID:      probe.ProbeID,
			Question:     probe.Question,
			AnalysisType: probe.AnalysisType,
			Rationale:    probe.Rationale,
			SQL:          probe.SQL,
			RowCount:     probe.RowCount,
			ChartType:    probe.ChartConfig.Type,
			XKey:         probe.ChartConfig.XKey,
			YKey:         probe.ChartConfig.YKey,
			GraphData:    probe.ChartData,
			LLMSample:    probe.llmSample,
			Stats:        probe.stats,
		})
	}
	if err := session.PersistArtifacts(runID, question, plan.AnalysisGoal, artifacts); err != nil {
		logger.Warn("Failed to persist probe artifacts, using in-memory summaries",
			zap.String("run_id", runID), zap.Error(err))
	}

	summaries, err := session.LoadArtifactSummaries(runID)
	if err != nil {
		logger.Warn("Failed to load probe artifacts, using in-memory summaries",
			zap.String("run_id", runID), zap.Error(err))
		summaries = nil
	}
	if len(summaries) == 0 {
		summaries = fallbackSummaries(executedProbes)
	}

	emit(progress, ProgressEvent{
		Phase:      PhaseSynthesisStarted,
		ProbeCount: len(summaries),
	})

	synthesis, err := r.oracle.SynthesizeExploration(ctx, question, plan.AnalysisGoal, summaries)
	if err != nil {
		return nil, err
	}

	requestedID := synthesis.PrimaryProbeID
	primary := selectPrimaryProbe(requestedID, executedProbes)
	emit(progress, ProgressEvent{
		Phase:                   PhaseSynthesisCompleted,
		RequestedPrimaryProbeID: requestedID,
		PrimaryProbeID:          primary.ProbeID,
		AnalysisType:            synthesis.AnalysisType,
	})

	chartOptions, chartData := r.renderChartPayload(primary.columns, primary.queryData, synthesis.ChartConfig, synthesis.AnalysisType, false)

	limitations := append([]string(nil), synthesis.Limitations...)
	if primary.ProbeID != requestedID {
		switchNote := fmt.Sprintf(
			"Primary probe switched from %s to %s due to stronger evidence density.",
			requestedID, primary.ProbeID,
		)
		if !containsString(limitations, switchNote) {
			limitations = append(limitations, switchNote)
		}
	}

	return &Result{
		Question:           question,
		Insight:            synthesis.Insight,
		ChartConfig:        chartOptions[0],
		ChartOptions:       chartOptions,
		Data:               chartData,
		SQL:                primary.SQL,
		RowCount:           primary.RowCount,
		VisualizedRowCount: len(chartData),
		AnalysisType:       synthesis.AnalysisType,
		FollowUpQuestions:  synthesis.FollowUpQuestions,
		Exploration: &Exploration{
			AnalysisGoal:   plan.AnalysisGoal,
			AnalysisRunID:  runID,
			PrimaryProbeID: primary.ProbeID,
			Probes:         executedProbes,
		},
		synthesisLimitations: limitations,
	}, nil
}

type probeOutcome struct {
	planIndex int
	result    *ProbeResult
	err       error
}

// executeProbes fans the planned probes out over a bounded worker pool.
// Results come back in plan order; the first probe failure aborts the run.
func (r *Runtime) executeProbes(ctx context.Context, session *engine.Session, probes []oracle.PlannedProbe, progress ProgressFunc) ([]ProbeResult, error) {
	for _, probe := range probes {
		emit(progress, ProgressEvent{
			Phase:        PhaseProbeStarted,
			ProbeID:      probe.ProbeID,
			Question:     probe.Question,
			AnalysisType: probe.AnalysisType,
		})
	}

	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := r.cfg.ProbeMaxWorkers
	if len(probes) < workers {
		workers = len(probes)
	}

	jobs := make(chan int)
	outcomes := make(chan probeOutcome)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				result, err := r.executeProbe(probeCtx, session, probes[index])
				outcomes <- probeOutcome{planIndex: index, result: result, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for index := range probes {
			select {
			case jobs <- index:
			case <-probeCtx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	results := make([]*ProbeResult, len(probes))
	var firstErr error
	for outcome := range outcomes {
		if outcome.err != nil {
			if firstErr == nil {
				firstErr = errs.Wrap(errs.KindExecution, outcome.err,
					fmt.Sprintf("Exploration probe '%s' failed", probes[outcome.planIndex].ProbeID))
				cancel()
			}
			continue
		}
		results[outcome.planIndex] = outcome.result
		metrics.ProbesExecuted.WithLabelValues("success").Inc()
		metrics.ProbeRowCount.Observe(float64(outcome.result.RowCount))

		rowCount := outcome.result.RowCount
		emit(progress, ProgressEvent{
			Phase:        PhaseProbeCompleted,
			ProbeID:      outcome.result.ProbeID,
			RowCount:     &rowCount,
			AnalysisType: outcome.result.AnalysisType,
		})
	}
	if firstErr != nil {
		metrics.ProbesExecuted.WithLabelValues("error").Inc()
		return nil, firstErr
	}

	ordered := make([]ProbeResult, 0, len(results))
	for _, result := range results {
		ordered = append(ordered, *result)
	}
	return ordered, nil
}

func (r *Runtime) executeProbe(ctx context.Context, session *engine.Session, probe oracle.PlannedProbe) (*ProbeResult, error) {
	rs, err := session.Query(ctx, probe.SQL, r.cfg.ProbeQueryLimit)
	if err != nil {
		return nil, err
	}

	chartOptions, chartData := r.renderChartPayload(rs.Columns, rs.Rows, probe.ChartHint, probe.AnalysisType, false)

	return &ProbeResult{
		ProbeID:            probe.ProbeID,
		Question:           probe.Question,
		AnalysisType:       probe.AnalysisType,
		Rationale:          probe.Rationale,
		SQL:                probe.SQL,
		RowCount:           rs.RowCount(),
		VisualizedRowCount: len(chartData),
		ChartConfig:        chartOptions[0],
		ChartOptions:       chartOptions,
		ChartData:          chartData,
		queryData:          rs.Rows,
		columns:            rs.Columns,
		llmSample:          buildProbeLLMSample(rs, chartData),
		stats:              buildProbeStats(rs),
	}, nil
}

// fallbackSummaries rebuilds synthesis input from the in-memory probe results
// when the durable artifact store is unavailable.
func fallbackSummaries(probes []ProbeResult) []engine.ArtifactSummary {
	summaries := make([]engine.ArtifactSummary, 0, len(probes))
	for _, probe := range probes {
		summary := engine.ArtifactSummary{
			ProbeID:      probe.ProbeID,
			Question:     probe.Question,
			AnalysisType: probe.AnalysisType,
			Rationale:    probe.Rationale,
			SQL:          probe.SQL,
			RowCount:     probe.RowCount,
			ChartHint: engine.ChartHint{
				Type: probe.ChartConfig.Type,
				XKey: probe.ChartConfig.XKey,
				YKey: probe.ChartConfig.YKey,
			},
			Columns:     []string{},
			SampleRows:  []map[string]interface{}{},
			ChartSample: []map[string]interface{}{},
			Stats:       map[string]interface{}{},
		}
		if columns, ok := probe.llmSample["columns"].([]string); ok {
			summary.Columns = columns
		}
		if rows, ok := probe.llmSample["sample_rows"].([]map[string]interface{}); ok {
			summary.SampleRows = rows
		}
		if rows, ok := probe.llmSample["chart_sample"].([]map[string]interface{}); ok {
			summary.ChartSample = rows
		}
		if probe.stats != nil {
			summary.Stats = probe.stats
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

// evidenceScore rates how much support a probe's result gives the final
// answer. Tiny results are penalized hard so a thin probe never becomes the
// primary by default.
func evidenceScore(probe *ProbeResult) float64 {
	chartRows := len(probe.ChartData)

	uniqueX := 0
	if len(probe.ChartOptions) > 0 && probe.ChartOptions[0].XKey != "" {
		xKey := probe.ChartOptions[0].XKey
		values := make(map[string]bool)
		for _, item := range probe.ChartData {
			if item[xKey] != nil {
				values[stringOf(item[xKey])] = true
			}
		}
		uniqueX = len(values)
	}

	score := float64(minInt(probe.RowCount, 500)) +
		float64(minInt(chartRows, 300))*0.5 +
		float64(minInt(uniqueX, 120))*1.5
	if probe.RowCount <= 2 {
		score -= 160
	} else if probe.RowCount < minStrongPrimaryRows {
		score -= 60
	}
	return score
}

// selectPrimaryProbe keeps the synthesis choice unless its evidence is weak
// and a clearly stronger probe exists.
func selectPrimaryProbe(requestedID string, executed []ProbeResult) *ProbeResult {
	var preferred *ProbeResult
	strongest := &executed[0]
	for i := range executed {
		probe := &executed[i]
		if probe.ProbeID == requestedID {
			preferred = probe
		}
		if evidenceScore(probe) > evidenceScore(strongest) {
			strongest = probe
		}
	}
	if preferred == nil {
		return strongest
	}

	if preferred.RowCount == 0 && strongest.RowCount > 0 {
		return strongest
	}
	if preferred.RowCount < minStrongPrimaryRows &&
		strongest.RowCount >= minStrongPrimaryRows &&
		evidenceScore(strongest) >= evidenceScore(preferred)+20 {
		return strongest
	}
	return preferred
}

func emit(progress ProgressFunc, event ProgressEvent) {
	if progress != nil {
		progress(event)
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
