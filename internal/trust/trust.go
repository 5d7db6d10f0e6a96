package trust

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/insight-agent/backend/internal/charting"
	"github.com/insight-agent/backend/internal/engine"
)

// The trust layer attaches a calibrated confidence score, explicit
// limitations, and full provenance to every answer. Scoring is rule-based so
// identical inputs always produce identical scores.

type Provenance struct {
	SQL            string                 `json:"sql"`
	RowsAnalyzed   int                    `json:"rows_analyzed"`
	RowsVisualized int                    `json:"rows_visualized"`
	GeneratedAt    string                 `json:"generated_at"`
	AnalysisType   string                 `json:"analysis_type"`
	ChartType      string                 `json:"chart_type"`
	LatencyMS      float64                `json:"latency_ms"`
	Extra          map[string]interface{} `json:"extra,omitempty"`
}

type Layer struct {
	ConfidenceScore float64    `json:"confidence_score"`
	Limitations     []string   `json:"limitations"`
	Provenance      Provenance `json:"provenance"`
}

type Input struct {
	Question           string
	AnalysisType       string
	SQL                string
	RowCount           int
	VisualizedRowCount int
	ChartConfig        charting.Config
	Profile            *engine.DatasetProfile
	Latency            time.Duration
}

func Build(in Input) Layer {
	limitations := []string{}
	confidence := 0.55

	if in.RowCount == 0 {
		confidence = 0.08
		limitations = append(limitations, "Query returned no rows.")
	} else {
		switch {
		case in.RowCount >= 500:
			confidence += 0.16
		case in.RowCount >= 100:
			confidence += 0.11
		case in.RowCount < 20:
			confidence -= 0.12
			limitations = append(limitations, "Small sample size may reduce reliability.")
		}

		if in.VisualizedRowCount < in.RowCount {
			confidence -= 0.03
			limitations = append(limitations, sampledLimitation(in.VisualizedRowCount, in.RowCount))
		}

		if in.AnalysisType == "trend" && (in.Profile == nil || len(in.Profile.TemporalColumns) == 0) {
			confidence -= 0.12
			limitations = append(limitations, "No strongly typed temporal column detected for trend analysis.")
		}
		if in.AnalysisType == "correlation" && (in.Profile == nil || len(in.Profile.NumericColumns) < 2) {
			confidence -= 0.12
			limitations = append(limitations, "Dataset has limited numeric coverage for correlation analysis.")
		}
	}

	questionLower := strings.ToLower(in.Question)
	if strings.Contains(questionLower, "causal") || strings.Contains(questionLower, "cause") {
		confidence -= 0.08
		limitations = append(limitations, "Causal inference is approximate and should be validated with experiments.")
	}

	chartType := in.ChartConfig.Type
	if chartType == "" {
		chartType = "unknown"
	}
	if chartType == "pie" && in.RowCount > charting.MaxPiePoints {
		limitations = append(limitations, "Pie chart may hide detail in long-tail categories.")
	}

	confidence = clamp(confidence, 0.05, 0.98)

	return Layer{
		ConfidenceScore: math.Round(confidence*100) / 100,
		Limitations:     limitations,
		Provenance: Provenance{
			SQL:            in.SQL,
			RowsAnalyzed:   in.RowCount,
			RowsVisualized: in.VisualizedRowCount,
			GeneratedAt:    time.Now().UTC().Format("2006-01-02T15:04:05.999999") + "Z",
			AnalysisType:   in.AnalysisType,
			ChartType:      chartType,
			LatencyMS:      math.Round(float64(in.Latency.Microseconds())/100) / 10,
		},
	}
}

func sampledLimitation(visualized, analyzed int) string {
	return fmt.Sprintf("Visualization is sampled/aggregated (%d of %d rows shown).", visualized, analyzed)
}

func clamp(value, lower, upper float64) float64 {
	return math.Max(lower, math.Min(upper, value))
}
