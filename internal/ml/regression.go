package ml

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/insight-agent/backend/internal/charting"
	"github.com/insight-agent/backend/internal/engine"
	"github.com/insight-agent/backend/internal/errs"
)

// Linear-regression lab: ordinary least squares with an intercept over
// auto-selected or caller-provided features, evaluated on a seeded held-out
// split so repeated runs agree.

const (
	maxDefaultFeatures = 12
	maxCategoricalCard = 20
	minCleanRows       = 25
	maxTopDrivers      = 12
	maxPredictionRows  = 25
	regressionSeed     = 42
)

type Coefficient struct {
	Feature     string  `json:"feature"`
	Coefficient float64 `json:"coefficient"`
}

type RegressionMetrics struct {
	RSquared float64 `json:"r_squared"`
	RMSE     float64 `json:"rmse"`
	MAE      float64 `json:"mae"`
}

type PredictionRow struct {
	Actual    float64 `json:"actual"`
	Predicted float64 `json:"predicted"`
	Residual  float64 `json:"residual"`
}

type RegressionResult struct {
	AnalysisType        string            `json:"analysis_type"`
	TargetColumn        string            `json:"target_column"`
	FeatureColumns      []string          `json:"feature_columns"`
	EncodedFeatureCount int               `json:"encoded_feature_count"`
	RowsAnalyzed        int               `json:"rows_analyzed"`
	RowsTrain           int               `json:"rows_train"`
	RowsTest            int               `json:"rows_test"`
	Metrics             RegressionMetrics `json:"metrics"`
	Coefficients        []Coefficient     `json:"coefficients"`
	TopDrivers          []Coefficient     `json:"top_drivers"`
	PredictionSample    []PredictionRow   `json:"prediction_sample"`
	Notes               []string          `json:"notes"`
}

type preparedData struct {
	y                 []float64
	x                 [][]float64
	featureNames      []string
	requestedFeatures []string
}

// RunRegression fits and scores an OLS model for the target column.
func RunRegression(rs *engine.ResultSet, targetColumn string, featureColumns []string, testFraction float64) (*RegressionResult, error) {
	if testFraction <= 0 || testFraction >= 1 {
		testFraction = 0.2
	}

	prepared, err := prepareRegressionData(rs, targetColumn, featureColumns)
	if err != nil {
		return nil, err
	}

	nRows := len(prepared.y)
	featureCount := len(prepared.featureNames)

	rng := rand.New(rand.NewSource(regressionSeed))
	indices := rng.Perm(nRows)

	rawTestSize := int(math.Round(float64(nRows) * testFraction))
	if rawTestSize < 1 {
		rawTestSize = 1
	}
	maxTestSize := nRows - (featureCount + 5)
	if maxTestSize < 1 {
		maxTestSize = 1
	}
	testSize := rawTestSize
	if testSize > maxTestSize {
		testSize = maxTestSize
	}

	testIdx := indices[:testSize]
	trainIdx := indices[testSize:]
	if len(trainIdx) <= featureCount {
		return nil, errs.Validation("not enough training rows for regression")
	}

	coefficients, err := fitOLS(subsetRows(prepared.x, trainIdx), subset(prepared.y, trainIdx))
	if err != nil {
		return nil, err
	}

	yTest := subset(prepared.y, testIdx)
	predictions := make([]float64, len(testIdx))
	residuals := make([]float64, len(testIdx))
	var ssRes, sumAbs float64
	for i, idx := range testIdx {
		predictions[i] = predict(coefficients, prepared.x[idx])
		residuals[i] = yTest[i] - predictions[i]
		ssRes += residuals[i] * residuals[i]
		sumAbs += math.Abs(residuals[i])
	}
	rmse := math.Sqrt(ssRes / float64(len(testIdx)))
	mae := sumAbs / float64(len(testIdx))

	meanTest := mean(yTest)
	var ssTot float64
	for _, y := range yTest {
		ssTot += (y - meanTest) * (y - meanTest)
	}
	rSquared := 0.0
	if ssTot > 1e-12 {
		rSquared = 1 - ssRes/ssTot
	}

	coefficientRows := []Coefficient{{Feature: "intercept", Coefficient: safeFloat(coefficients[0])}}
	for i, name := range prepared.featureNames {
		coefficientRows = append(coefficientRows, Coefficient{Feature: name, Coefficient: safeFloat(coefficients[i+1])})
	}

	topDrivers := append([]Coefficient(nil), coefficientRows[1:]...)
	sort.SliceStable(topDrivers, func(i, j int) bool {
		return math.Abs(topDrivers[i].Coefficient) > math.Abs(topDrivers[j].Coefficient)
	})
	if len(topDrivers) > maxTopDrivers {
		topDrivers = topDrivers[:maxTopDrivers]
	}

	sampleCount := len(testIdx)
	if sampleCount > maxPredictionRows {
		sampleCount = maxPredictionRows
	}
	samplePositions := make([]int, len(testIdx))
	for i := range samplePositions {
		samplePositions[i] = i
	}
	if len(samplePositions) > sampleCount {
		chosen := rng.Perm(len(samplePositions))[:sampleCount]
		sort.Ints(chosen)
		samplePositions = chosen
	}
	predictionSample := make([]PredictionRow, 0, sampleCount)
	for _, pos := range samplePositions {
		predictionSample = append(predictionSample, PredictionRow{
			Actual:    safeFloat(yTest[pos]),
			Predicted: safeFloat(predictions[pos]),
			Residual:  safeFloat(residuals[pos]),
		})
	}

	return &RegressionResult{
		AnalysisType:        "linear_regression",
		TargetColumn:        targetColumn,
		FeatureColumns:      prepared.requestedFeatures,
		EncodedFeatureCount: featureCount,
		RowsAnalyzed:        nRows,
		RowsTrain:           len(trainIdx),
		RowsTest:            len(testIdx),
		Metrics: RegressionMetrics{
			RSquared: safeFloat(rSquared),
			RMSE:     safeFloat(rmse),
			MAE:      safeFloat(mae),
		},
		Coefficients:     coefficientRows,
		TopDrivers:       topDrivers,
		PredictionSample: predictionSample,
		Notes: []string{
			"Model is ordinary least squares linear regression.",
			"Categorical features are one-hot encoded (drop-first).",
			"Use this for directional insight; validate before production decisions.",
		},
	}, nil
}

type columnRole int

const (
	roleNumeric columnRole = iota
	roleTemporal
	roleCategorical
)

func classifyColumn(rs *engine.ResultSet, column string) columnRole {
	var nonNil, numeric int
	for _, row := range rs.Rows {
		value := row[column]
		if value == nil {
			continue
		}
		nonNil++
		switch value.(type) {
		case float64, float32, int, int64:
			numeric++
		}
	}
	if nonNil > 0 && numeric == nonNil {
		return roleNumeric
	}

	sampled, temporal := 0, 0
	for _, row := range rs.Rows {
		value := row[column]
		if value == nil {
			continue
		}
		if sampled >= 200 {
			break
		}
		sampled++
		if _, ok := parseEpochSeconds(value); ok {
			temporal++
		}
	}
	if sampled > 0 && float64(temporal)/float64(sampled) >= 0.8 {
		return roleTemporal
	}
	return roleCategorical
}

var temporalLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006/01/02",
}

func parseEpochSeconds(value interface{}) (float64, bool) {
	if t, ok := value.(time.Time); ok {
		return float64(t.UTC().UnixNano()) / 1e9, true
	}
	s, ok := value.(string)
	if !ok {
		return 0, false
	}
	raw := strings.TrimSpace(s)
	for _, layout := range temporalLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return float64(t.UTC().UnixNano()) / 1e9, true
		}
	}
	return 0, false
}

func selectDefaultFeatures(rs *engine.ResultSet, targetColumn string) []string {
	var numeric, temporal, categorical []string
	for _, column := range rs.Columns {
		if column == targetColumn {
			continue
		}
		switch classifyColumn(rs, column) {
		case roleNumeric:
			numeric = append(numeric, column)
		case roleTemporal:
			temporal = append(temporal, column)
		default:
			categorical = append(categorical, column)
		}
	}

	selected := numeric
	if len(selected) >= maxDefaultFeatures {
		return selected[:maxDefaultFeatures]
	}
	for _, column := range temporal {
		selected = append(selected, column)
		if len(selected) >= maxDefaultFeatures {
			return selected
		}
	}
	for _, column := range categorical {
		if uniqueCount(rs, column) <= maxCategoricalCard {
			selected = append(selected, column)
			if len(selected) >= maxDefaultFeatures {
				return selected
			}
		}
	}
	return selected
}

func uniqueCount(rs *engine.ResultSet, column string) int {
	seen := make(map[string]bool)
	for _, row := range rs.Rows {
		if value := row[column]; value != nil {
			seen[stringOf(value)] = true
		}
	}
	return len(seen)
}

func prepareRegressionData(rs *engine.ResultSet, targetColumn string, featureColumns []string) (*preparedData, error) {
	if !containsColumn(rs.Columns, targetColumn) {
		return nil, errs.Validation("target column %q was not found in the dataset", targetColumn)
	}

	var requested []string
	if len(featureColumns) > 0 {
		for _, column := range featureColumns {
			if column != targetColumn {
				requested = append(requested, column)
			}
		}
	} else {
		requested = selectDefaultFeatures(rs, targetColumn)
	}
	if len(requested) == 0 {
		return nil, errs.Validation("no usable feature columns found for regression")
	}

	var missing []string
	for _, column := range requested {
		if !containsColumn(rs.Columns, column) {
			missing = append(missing, column)
		}
	}
	if len(missing) > 0 {
		return nil, errs.Validation("feature columns not found: %s", strings.Join(missing, ", "))
	}

	// Encode each requested feature as one or more numeric columns.
	// Temporal values become epoch seconds; categorical values one-hot
	// columns with the alphabetically first category dropped.
	type encodedColumn struct {
		name     string
		source   string
		category string // one-hot category, empty for direct columns
		temporal bool
	}

	var encoded []encodedColumn
	for _, column := range requested {
		switch classifyColumn(rs, column) {
		case roleNumeric:
			encoded = append(encoded, encodedColumn{name: column, source: column})
		case roleTemporal:
			encoded = append(encoded, encodedColumn{name: column, source: column, temporal: true})
		default:
			categories := make(map[string]bool)
			for _, row := range rs.Rows {
				if value := row[column]; value != nil {
					categories[stringOf(value)] = true
				}
			}
			sorted := make([]string, 0, len(categories))
			for category := range categories {
				sorted = append(sorted, category)
			}
			sort.Strings(sorted)
			for _, category := range sorted[min(1, len(sorted)):] {
				encoded = append(encoded, encodedColumn{
					name:     column + "_" + category,
					source:   column,
					category: category,
				})
			}
		}
	}
	if len(encoded) == 0 {
		return nil, errs.Validation("feature encoding produced no usable numeric columns")
	}

	var y []float64
	var x [][]float64
	for _, row := range rs.Rows {
		target, ok := charting.ToFloat(row[targetColumn])
		if !ok {
			continue
		}
		features := make([]float64, len(encoded))
		valid := true
		for i, col := range encoded {
			value := row[col.source]
			switch {
			case col.category != "":
				if value != nil && stringOf(value) == col.category {
					features[i] = 1
				}
			case col.temporal:
				epoch, ok := parseEpochSeconds(value)
				if !ok {
					valid = false
				}
				features[i] = epoch
			default:
				f, ok := charting.ToFloat(value)
				if !ok {
					valid = false
				}
				features[i] = f
			}
			if !valid {
				break
			}
		}
		if !valid {
			continue
		}
		y = append(y, target)
		x = append(x, features)
	}

	if len(y) < minCleanRows {
		return nil, errs.Validation("not enough clean rows to run regression (need at least %d)", minCleanRows)
	}
	if len(y) <= len(encoded)+5 {
		return nil, errs.Validation("not enough rows for stable regression given selected feature count")
	}

	names := make([]string, len(encoded))
	for i, col := range encoded {
		names[i] = col.name
	}

	return &preparedData{
		y:                 y,
		x:                 x,
		featureNames:      names,
		requestedFeatures: requested,
	}, nil
}

// fitOLS solves the normal equations for a design matrix with a leading
// intercept column, using Gaussian elimination with partial pivoting.
func fitOLS(x [][]float64, y []float64) ([]float64, error) {
	n := len(x)
	p := len(x[0]) + 1

	design := make([][]float64, n)
	for i := range design {
		design[i] = append([]float64{1}, x[i]...)
	}

	// A = design^T design, b = design^T y
	a := make([][]float64, p)
	b := make([]float64, p)
	for i := 0; i < p; i++ {
		a[i] = make([]float64, p)
		for j := 0; j < p; j++ {
			var sum float64
			for k := 0; k < n; k++ {
				sum += design[k][i] * design[k][j]
			}
			a[i][j] = sum
		}
		var sum float64
		for k := 0; k < n; k++ {
			sum += design[k][i] * y[k]
		}
		b[i] = sum
	}

	for col := 0; col < p; col++ {
		pivot := col
		for row := col + 1; row < p; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, errs.Execution("regression design matrix is singular")
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for row := col + 1; row < p; row++ {
			factor := a[row][col] / a[col][col]
			for k := col; k < p; k++ {
				a[row][k] -= factor * a[col][k]
			}
			b[row] -= factor * b[col]
		}
	}

	beta := make([]float64, p)
	for i := p - 1; i >= 0; i-- {
		sum := b[i]
		for j := i + 1; j < p; j++ {
			sum -= a[i][j] * beta[j]
		}
		beta[i] = sum / a[i][i]
	}
	return beta, nil
}

func predict(coefficients []float64, features []float64) float64 {
	result := coefficients[0]
	for i, f := range features {
		result += coefficients[i+1] * f
	}
	return result
}

func subset(values []float64, indices []int) []float64 {
	out := make([]float64, len(indices))
	for i, idx := range indices {
		out[i] = values[idx]
	}
	return out
}

func subsetRows(rows [][]float64, indices []int) [][]float64 {
	out := make([][]float64, len(indices))
	for i, idx := range indices {
		out[i] = rows[idx]
	}
	return out
}

func safeFloat(value float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}
	return math.Round(value*1e6) / 1e6
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func containsColumn(columns []string, target string) bool {
	for _, c := range columns {
		if c == target {
			return true
		}
	}
	return false
}

func stringOf(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
