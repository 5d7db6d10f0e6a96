package ml

import (
	"math"
	"sort"

	"github.com/insight-agent/backend/internal/charting"
	"github.com/insight-agent/backend/internal/engine"
	"github.com/insight-agent/backend/internal/errs"
)

// Anomaly lab: z-score thresholding against a global baseline, or per-group
// baselines when a group column is provided.

const anomalyMinRows = 30

type Anomaly struct {
	SourceRowIndex int               `json:"source_row_index"`
	MetricValue    float64           `json:"metric_value"`
	ZScore         float64           `json:"z_score"`
	AbsZScore      float64           `json:"abs_z_score"`
	BaselineMean   float64           `json:"baseline_mean"`
	BaselineStd    float64           `json:"baseline_std"`
	GroupValue     *string           `json:"group_value"`
	Context        map[string]string `json:"context"`
}

type Distribution struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Median float64 `json:"median"`
}

type AnomalyResult struct {
	AnalysisType  string       `json:"analysis_type"`
	MetricColumn  string       `json:"metric_column"`
	GroupBy       string       `json:"group_by,omitempty"`
	ZThreshold    float64      `json:"z_threshold"`
	RowsAnalyzed  int          `json:"rows_analyzed"`
	AnomalyCount  int          `json:"anomaly_count"`
	ReturnedCount int          `json:"returned_count"`
	Distribution  Distribution `json:"distribution"`
	Anomalies     []Anomaly    `json:"anomalies"`
	Notes         []string     `json:"notes"`
}

type anomalyEntry struct {
	sourceIndex  int
	value        float64
	group        string
	hasGroup     bool
	baselineMean float64
	baselineStd  float64
	zScore       float64
}

// DetectAnomalies flags rows whose metric deviates from its baseline by at
// least zThreshold standard deviations.
func DetectAnomalies(rs *engine.ResultSet, metricColumn, groupBy string, zThreshold float64, maxResults int) (*AnomalyResult, error) {
	if !containsColumn(rs.Columns, metricColumn) {
		return nil, errs.Validation("metric column %q was not found in the dataset", metricColumn)
	}
	if groupBy != "" && !containsColumn(rs.Columns, groupBy) {
		return nil, errs.Validation("group-by column %q was not found in the dataset", groupBy)
	}
	if zThreshold <= 0 {
		zThreshold = 3.0
	}
	if maxResults <= 0 {
		maxResults = 25
	}

	var entries []anomalyEntry
	for i, row := range rs.Rows {
		value, ok := charting.ToFloat(row[metricColumn])
		if !ok {
			continue
		}
		entry := anomalyEntry{sourceIndex: i, value: value}
		if groupBy != "" {
			groupValue := row[groupBy]
			if groupValue != nil {
				entry.group = stringOf(groupValue)
				entry.hasGroup = true
			}
		}
		entries = append(entries, entry)
	}
	if len(entries) < anomalyMinRows {
		return nil, errs.Validation("not enough numeric rows to detect anomalies (need at least %d)", anomalyMinRows)
	}

	if groupBy != "" {
		entries = scoreGrouped(entries)
	} else {
		scored, err := scoreGlobal(entries)
		if err != nil {
			return nil, err
		}
		entries = scored
	}

	flagged := make([]anomalyEntry, 0)
	for _, entry := range entries {
		if math.Abs(entry.zScore) >= zThreshold {
			flagged = append(flagged, entry)
		}
	}
	sort.SliceStable(flagged, func(i, j int) bool {
		return math.Abs(flagged[i].zScore) > math.Abs(flagged[j].zScore)
	})
	anomalyCount := len(flagged)
	if len(flagged) > maxResults {
		flagged = flagged[:maxResults]
	}

	anomalies := make([]Anomaly, 0, len(flagged))
	for _, entry := range flagged {
		anomaly := Anomaly{
			SourceRowIndex: entry.sourceIndex,
			MetricValue:    safeFloat(entry.value),
			ZScore:         safeFloat(entry.zScore),
			AbsZScore:      safeFloat(math.Abs(entry.zScore)),
			BaselineMean:   safeFloat(entry.baselineMean),
			BaselineStd:    safeFloat(entry.baselineStd),
			Context:        map[string]string{metricColumn: stringOf(entry.value)},
		}
		if groupBy != "" {
			group := entry.group
			anomaly.GroupValue = &group
			anomaly.Context[groupBy] = group
		}
		anomalies = append(anomalies, anomaly)
	}

	values := make([]float64, len(entries))
	for i, entry := range entries {
		values[i] = entry.value
	}

	return &AnomalyResult{
		AnalysisType:  "anomaly_detection",
		MetricColumn:  metricColumn,
		GroupBy:       groupBy,
		ZThreshold:    zThreshold,
		RowsAnalyzed:  len(entries),
		AnomalyCount:  anomalyCount,
		ReturnedCount: len(anomalies),
		Distribution: Distribution{
			Mean:   safeFloat(mean(values)),
			StdDev: safeFloat(sampleStd(values)),
			Median: safeFloat(median(values)),
		},
		Anomalies: anomalies,
		Notes: []string{
			"Anomalies are identified using z-score thresholding.",
			"Group baseline is used when group_by is provided.",
			"Review domain context before taking action on outliers.",
		},
	}, nil
}

// scoreGrouped keeps only rows whose group has a usable baseline: a non-null
// group value and at least two members with nonzero spread.
func scoreGrouped(entries []anomalyEntry) []anomalyEntry {
	groups := make(map[string][]float64)
	for _, entry := range entries {
		if entry.hasGroup {
			groups[entry.group] = append(groups[entry.group], entry.value)
		}
	}

	type baseline struct {
		mean float64
		std  float64
	}
	baselines := make(map[string]baseline, len(groups))
	for group, values := range groups {
		if len(values) < 2 {
			continue
		}
		std := sampleStd(values)
		if std == 0 {
			continue
		}
		baselines[group] = baseline{mean: mean(values), std: std}
	}

	scored := make([]anomalyEntry, 0, len(entries))
	for _, entry := range entries {
		if !entry.hasGroup {
			continue
		}
		base, ok := baselines[entry.group]
		if !ok {
			continue
		}
		entry.baselineMean = base.mean
		entry.baselineStd = base.std
		entry.zScore = (entry.value - base.mean) / base.std
		scored = append(scored, entry)
	}
	return scored
}

func scoreGlobal(entries []anomalyEntry) ([]anomalyEntry, error) {
	values := make([]float64, len(entries))
	for i, entry := range entries {
		values[i] = entry.value
	}
	std := sampleStd(values)
	if std <= 1e-12 {
		return nil, errs.Validation("metric has near-zero variance; anomaly detection is not meaningful")
	}
	m := mean(values)

	for i := range entries {
		entries[i].baselineMean = m
		entries[i].baselineStd = std
		entries[i].zScore = (entries[i].value - m) / std
	}
	return entries, nil
}

// sampleStd uses the n-1 denominator.
func sampleStd(values []float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}
	m := mean(values)
	var sum float64
	for _, v := range values {
		sum += (v - m) * (v - m)
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
