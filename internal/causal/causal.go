package causal

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"github.com/insight-agent/backend/internal/charting"
	"github.com/insight-agent/backend/internal/engine"
	"github.com/insight-agent/backend/internal/errs"
)

// Standalone causal lab: ranks candidate drivers of a target metric using
// quartile contrasts for numeric drivers and category contrasts for
// categorical ones, with bootstrap uncertainty ranges. The heuristics are
// quasi-experimental; the result says so explicitly.

const (
	bootstrapIterations = 180
	numericMinRows      = 40
	categoricalMinRows  = 60
	groupMinRows        = 10
	bootstrapMinRows    = 4
	numericCandidateCap = 18
	catCandidateCap     = 14
	topCategoryCap      = 8
	numericRatioMin     = 0.75
	maxCategoryUniques  = 25
)

type Comparison struct {
	Category string `json:"category"`
	Baseline string `json:"baseline"`
}

type Finding struct {
	Driver           string      `json:"driver"`
	Kind             string      `json:"kind"`
	EffectEstimate   float64     `json:"effect_estimate"`
	UncertaintyRange [2]float64  `json:"uncertainty_range"`
	Association      float64     `json:"association,omitempty"`
	Slope            float64     `json:"slope,omitempty"`
	Intercept        float64     `json:"intercept,omitempty"`
	Comparison       *Comparison `json:"comparison,omitempty"`
	SupportRows      int         `json:"support_rows"`
	ConfidenceScore  float64     `json:"confidence_score"`
	Check            string      `json:"check"`
}

type GraphNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Role  string `json:"role"`
}

type GraphEdge struct {
	Source    string  `json:"source"`
	Target    string  `json:"target"`
	Weight    float64 `json:"weight"`
	Direction string  `json:"direction"`
}

type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

type Check struct {
	Driver           string     `json:"driver"`
	EffectEstimate   float64    `json:"effect_estimate"`
	UncertaintyRange [2]float64 `json:"uncertainty_range"`
	Check            string     `json:"check"`
	ConfidenceScore  float64    `json:"confidence_score"`
}

type Provenance struct {
	RowsAnalyzed int    `json:"rows_analyzed"`
	TargetMetric string `json:"target_metric"`
	GeneratedAt  string `json:"generated_at"`
}

type Result struct {
	TargetMetric            string     `json:"target_metric"`
	MostLikelyDrivers       []Finding  `json:"most_likely_drivers"`
	CandidateCausalGraph    Graph      `json:"candidate_causal_graph"`
	QuasiExperimentalChecks []Check    `json:"quasi_experimental_checks"`
	ConfidenceScore         float64    `json:"confidence_score"`
	Limitations             []string   `json:"limitations"`
	Provenance              Provenance `json:"provenance"`
}

// Run analyzes the result set for drivers of targetMetric. The bootstrap RNG
// is seeded per call so repeated runs over the same data agree.
func Run(rs *engine.ResultSet, targetMetric string, maxDrivers int) (*Result, error) {
	if !containsColumn(rs.Columns, targetMetric) {
		return nil, errs.Validation("target metric %q not found in dataset", targetMetric)
	}
	if maxDrivers <= 0 {
		maxDrivers = 5
	}

	rng := rand.New(rand.NewSource(42))

	var candidateNumeric, candidateCategorical []string
	for _, column := range rs.Columns {
		if column == targetMetric {
			continue
		}
		numericCount := 0
		uniques := make(map[string]bool)
		for _, value := range rs.ColumnValues(column) {
			if _, ok := charting.ToFloat(value); ok {
				numericCount++
			}
			if value != nil {
				uniques[stringOf(value)] = true
			}
		}
		ratio := float64(numericCount) / float64(rs.RowCount())
		if ratio >= numericRatioMin {
			candidateNumeric = append(candidateNumeric, column)
		} else if len(uniques) > 1 && len(uniques) <= maxCategoryUniques {
			candidateCategorical = append(candidateCategorical, column)
		}
	}

	var findings []Finding
	for _, column := range capped(candidateNumeric, numericCandidateCap) {
		if finding := analyzeNumericDriver(rs, targetMetric, column, rng); finding != nil {
			findings = append(findings, *finding)
		}
	}
	for _, column := range capped(candidateCategorical, catCandidateCap) {
		if finding := analyzeCategoricalDriver(rs, targetMetric, column, rng); finding != nil {
			findings = append(findings, *finding)
		}
	}

	if len(findings) == 0 {
		return nil, errs.Validation("not enough usable signal to produce causal lab findings")
	}

	sort.SliceStable(findings, func(i, j int) bool {
		return math.Abs(findings[i].EffectEstimate) > math.Abs(findings[j].EffectEstimate)
	})
	if len(findings) > maxDrivers {
		findings = findings[:maxDrivers]
	}

	graph := Graph{
		Nodes: []GraphNode{{ID: targetMetric, Label: targetMetric, Role: "target"}},
	}
	checks := make([]Check, 0, len(findings))
	var confidenceSum float64
	for _, finding := range findings {
		graph.Nodes = append(graph.Nodes, GraphNode{ID: finding.Driver, Label: finding.Driver, Role: finding.Kind})
		direction := "positive"
		if finding.EffectEstimate < 0 {
			direction = "negative"
		}
		graph.Edges = append(graph.Edges, GraphEdge{
			Source:    finding.Driver,
			Target:    targetMetric,
			Weight:    round4(math.Abs(finding.EffectEstimate)),
			Direction: direction,
		})
		checks = append(checks, Check{
			Driver:           finding.Driver,
			EffectEstimate:   finding.EffectEstimate,
			UncertaintyRange: finding.UncertaintyRange,
			Check:            finding.Check,
			ConfidenceScore:  finding.ConfidenceScore,
		})
		confidenceSum += finding.ConfidenceScore
	}

	limitations := []string{
		"Causal lab uses quasi-experimental heuristics and observational data.",
		"Results should be validated with controlled experiments when possible.",
	}
	if len(rs.Rows) < 120 {
		limitations = append(limitations, "Limited row count can widen uncertainty intervals.")
	}

	return &Result{
		TargetMetric:            targetMetric,
		MostLikelyDrivers:       findings,
		CandidateCausalGraph:    graph,
		QuasiExperimentalChecks: checks,
		ConfidenceScore:         round2(confidenceSum / float64(len(findings))),
		Limitations:             limitations,
		Provenance: Provenance{
			RowsAnalyzed: len(rs.Rows),
			TargetMetric: targetMetric,
			GeneratedAt:  time.Now().UTC().Format(time.RFC3339),
		},
	}, nil
}

func analyzeNumericDriver(rs *engine.ResultSet, targetMetric, driver string, rng *rand.Rand) *Finding {
	var xs, ys []float64
	for _, row := range rs.Rows {
		x, okX := charting.ToFloat(row[driver])
		y, okY := charting.ToFloat(row[targetMetric])
		if okX && okY {
			xs = append(xs, x)
			ys = append(ys, y)
		}
	}
	if len(xs) < numericMinRows {
		return nil
	}
	if stddev(xs) == 0 {
		return nil
	}

	slope, intercept := linearFit(xs, ys)
	corr, ok := pearson(xs, ys)
	if !ok || math.IsNaN(corr) || math.IsInf(corr, 0) {
		return nil
	}

	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	q1 := percentile(sorted, 25)
	q3 := percentile(sorted, 75)

	var upper, lower []float64
	for i, x := range xs {
		if x >= q3 {
			upper = append(upper, ys[i])
		}
		if x <= q1 {
			lower = append(lower, ys[i])
		}
	}
	if len(upper) < groupMinRows || len(lower) < groupMinRows {
		return nil
	}

	meanDelta := mean(upper) - mean(lower)
	ciLow, ciHigh := bootstrapMeanDiff(upper, lower, rng)
	confidence := clamp(0.42+math.Abs(corr)*0.42+math.Min(float64(len(xs))/4000, 0.12), 0.1, 0.97)

	return &Finding{
		Driver:           driver,
		Kind:             "numeric",
		EffectEstimate:   round4(meanDelta),
		UncertaintyRange: [2]float64{round4(ciLow), round4(ciHigh)},
		Association:      round4(corr),
		Slope:            round6(slope),
		Intercept:        round6(intercept),
		SupportRows:      len(xs),
		ConfidenceScore:  round2(confidence),
		Check:            "Top quartile of " + driver + " vs bottom quartile mean difference in " + targetMetric + ".",
	}
}

func analyzeCategoricalDriver(rs *engine.ResultSet, targetMetric, driver string, rng *rand.Rand) *Finding {
	values := make(map[string][]float64)
	counts := make(map[string]int)
	var order []string
	for _, row := range rs.Rows {
		category := row[driver]
		y, ok := charting.ToFloat(row[targetMetric])
		if category == nil || !ok {
			continue
		}
		label := stringOf(category)
		if _, exists := counts[label]; !exists {
			order = append(order, label)
		}
		counts[label]++
		values[label] = append(values[label], y)
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	if total < categoricalMinRows || len(counts) < 2 {
		return nil
	}

	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	topCategories := capped(order, topCategoryCap)

	baseline := topCategories[0]
	baselineValues := values[baseline]
	if len(baselineValues) < groupMinRows {
		return nil
	}

	var best *Finding
	var bestScore float64
	for _, category := range topCategories[1:] {
		categoryValues := values[category]
		if len(categoryValues) < groupMinRows {
			continue
		}

		delta := mean(categoryValues) - mean(baselineValues)
		low, high := bootstrapMeanDiff(categoryValues, baselineValues, rng)
		score := math.Abs(delta)
		if best == nil || score > bestScore {
			supportRows := len(categoryValues) + len(baselineValues)
			confidence := clamp(0.38+math.Min(float64(supportRows)/3000, 0.25), 0.1, 0.92)
			best = &Finding{
				Driver:           driver,
				Kind:             "categorical",
				EffectEstimate:   round4(delta),
				UncertaintyRange: [2]float64{round4(low), round4(high)},
				Comparison:       &Comparison{Category: category, Baseline: baseline},
				SupportRows:      supportRows,
				ConfidenceScore:  round2(confidence),
				Check:            "Difference in mean " + targetMetric + " between " + category + " and " + baseline + ".",
			}
			bestScore = score
		}
	}
	return best
}

func bootstrapMeanDiff(groupA, groupB []float64, rng *rand.Rand) (float64, float64) {
	if len(groupA) < bootstrapMinRows || len(groupB) < bootstrapMinRows {
		return math.NaN(), math.NaN()
	}

	estimates := make([]float64, 0, bootstrapIterations)
	for i := 0; i < bootstrapIterations; i++ {
		estimates = append(estimates, resampleMean(groupA, rng)-resampleMean(groupB, rng))
	}
	sort.Float64s(estimates)
	return percentile(estimates, 10), percentile(estimates, 90)
}

func resampleMean(values []float64, rng *rand.Rand) float64 {
	var sum float64
	for range values {
		sum += values[rng.Intn(len(values))]
	}
	return sum / float64(len(values))
}

func linearFit(xs, ys []float64) (slope, intercept float64) {
	meanX := mean(xs)
	meanY := mean(ys)
	var cov, varX float64
	for i := range xs {
		dx := xs[i] - meanX
		cov += dx * (ys[i] - meanY)
		varX += dx * dx
	}
	if varX == 0 {
		return 0, meanY
	}
	slope = cov / varX
	return slope, meanY - slope*meanX
}

func pearson(xs, ys []float64) (float64, bool) {
	if len(xs) < 2 {
		return 0, false
	}
	meanX := mean(xs)
	meanY := mean(ys)
	var cov, varX, varY float64
	for i := range xs {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0, false
	}
	return cov / math.Sqrt(varX*varY), true
}

// percentile interpolates linearly over a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64) float64 {
	m := mean(values)
	var sum float64
	for _, v := range values {
		sum += (v - m) * (v - m)
	}
	return math.Sqrt(sum / float64(len(values)))
}

func clamp(value, lower, upper float64) float64 {
	return math.Max(lower, math.Min(upper, value))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
func round6(v float64) float64 { return math.Round(v*1e6) / 1e6 }

func containsColumn(columns []string, target string) bool {
	for _, c := range columns {
		if c == target {
			return true
		}
	}
	return false
}

func capped(items []string, limit int) []string {
	if len(items) > limit {
		return items[:limit]
	}
	return items
}

func stringOf(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}
