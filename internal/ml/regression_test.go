package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insight-agent/backend/internal/engine"
	"github.com/insight-agent/backend/internal/errs"
)

// linearRows builds y = 4 + 2*a - 3*b with a small deterministic wobble.
func linearRows(n int) *engine.ResultSet {
	rs := &engine.ResultSet{Columns: []string{"a", "b", "y"}}
	for i := 0; i < n; i++ {
		a := float64(i % 17)
		b := float64((i * 3) % 11)
		y := 4 + 2*a - 3*b + 0.01*float64(i%5)
		rs.Rows = append(rs.Rows, map[string]interface{}{"a": a, "b": b, "y": y})
	}
	return rs
}

func TestRunRegressionRecoversCoefficients(t *testing.T) {
	result, err := RunRegression(linearRows(120), "y", []string{"a", "b"}, 0.2)
	require.NoError(t, err)

	assert.Equal(t, "linear_regression", result.AnalysisType)
	assert.Equal(t, []string{"a", "b"}, result.FeatureColumns)
	assert.Equal(t, 2, result.EncodedFeatureCount)
	assert.Equal(t, 120, result.RowsAnalyzed)
	assert.Equal(t, result.RowsAnalyzed, result.RowsTrain+result.RowsTest)

	coeffs := make(map[string]float64)
	for _, c := range result.Coefficients {
		coeffs[c.Feature] = c.Coefficient
	}
	assert.InDelta(t, 2.0, coeffs["a"], 0.05)
	assert.InDelta(t, -3.0, coeffs["b"], 0.05)
	assert.InDelta(t, 4.0, coeffs["intercept"], 0.2)

	assert.Greater(t, result.Metrics.RSquared, 0.99)
	assert.Less(t, result.Metrics.RMSE, 0.5)
	assert.LessOrEqual(t, len(result.PredictionSample), 25)
	assert.NotEmpty(t, result.Notes)
}

func TestRunRegressionTopDriversSorted(t *testing.T) {
	result, err := RunRegression(linearRows(120), "y", nil, 0.2)
	require.NoError(t, err)

	require.NotEmpty(t, result.TopDrivers)
	assert.Equal(t, "b", result.TopDrivers[0].Feature)
	for _, driver := range result.TopDrivers {
		assert.NotEqual(t, "intercept", driver.Feature)
	}
}

func TestRunRegressionOneHotEncoding(t *testing.T) {
	rs := &engine.ResultSet{Columns: []string{"x", "tier", "y"}}
	for i := 0; i < 90; i++ {
		tier := []string{"bronze", "gold", "silver"}[i%3]
		bonus := map[string]float64{"bronze": 0, "gold": 20, "silver": 10}[tier]
		x := float64(i % 13)
		rs.Rows = append(rs.Rows, map[string]interface{}{
			"x": x, "tier": tier, "y": 1 + 2*x + bonus,
		})
	}

	result, err := RunRegression(rs, "y", []string{"x", "tier"}, 0.2)
	require.NoError(t, err)

	names := make([]string, 0, len(result.Coefficients))
	for _, c := range result.Coefficients {
		names = append(names, c.Feature)
	}
	// bronze is dropped as the baseline category
	assert.Contains(t, names, "tier_gold")
	assert.Contains(t, names, "tier_silver")
	assert.NotContains(t, names, "tier_bronze")
	assert.Greater(t, result.Metrics.RSquared, 0.99)
}

func TestRunRegressionMissingTarget(t *testing.T) {
	_, err := RunRegression(linearRows(50), "nope", nil, 0.2)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestRunRegressionTooFewRows(t *testing.T) {
	_, err := RunRegression(linearRows(20), "y", []string{"a", "b"}, 0.2)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	assert.Contains(t, err.Error(), "at least 25")
}

func TestRunRegressionUnknownFeature(t *testing.T) {
	_, err := RunRegression(linearRows(60), "y", []string{"a", "ghost"}, 0.2)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	assert.Contains(t, err.Error(), "ghost")
}

func TestRunRegressionIsDeterministic(t *testing.T) {
	first, err := RunRegression(linearRows(120), "y", []string{"a", "b"}, 0.2)
	require.NoError(t, err)
	second, err := RunRegression(linearRows(120), "y", []string{"a", "b"}, 0.2)
	require.NoError(t, err)
	assert.Equal(t, first.Metrics, second.Metrics)
	assert.Equal(t, first.PredictionSample, second.PredictionSample)
}

func TestDetectAnomaliesGlobal(t *testing.T) {
	rs := &engine.ResultSet{Columns: []string{"metric"}}
	for i := 0; i < 60; i++ {
		rs.Rows = append(rs.Rows, map[string]interface{}{"metric": 10.0 + float64(i%5)})
	}
	rs.Rows[42]["metric"] = 500.0

	result, err := DetectAnomalies(rs, "metric", "", 3.0, 25)
	require.NoError(t, err)

	assert.Equal(t, 60, result.RowsAnalyzed)
	require.Equal(t, 1, result.AnomalyCount)
	assert.Equal(t, 42, result.Anomalies[0].SourceRowIndex)
	assert.Greater(t, result.Anomalies[0].ZScore, 3.0)
	assert.Nil(t, result.Anomalies[0].GroupValue)
}

func TestDetectAnomaliesGroupBaseline(t *testing.T) {
	// Two groups with very different scales: a value normal for "large"
	// is anomalous within "small".
	rs := &engine.ResultSet{Columns: []string{"grp", "metric"}}
	for i := 0; i < 40; i++ {
		rs.Rows = append(rs.Rows, map[string]interface{}{"grp": "small", "metric": 10.0 + float64(i%3)})
		rs.Rows = append(rs.Rows, map[string]interface{}{"grp": "large", "metric": 1000.0 + float64(i%3)*10})
	}
	rs.Rows = append(rs.Rows, map[string]interface{}{"grp": "small", "metric": 1000.0})

	result, err := DetectAnomalies(rs, "metric", "grp", 3.0, 25)
	require.NoError(t, err)

	require.GreaterOrEqual(t, result.AnomalyCount, 1)
	top := result.Anomalies[0]
	require.NotNil(t, top.GroupValue)
	assert.Equal(t, "small", *top.GroupValue)
	assert.Equal(t, 1000.0, top.MetricValue)
	assert.Equal(t, "small", top.Context["grp"])
}

func TestDetectAnomaliesZeroVariance(t *testing.T) {
	rs := &engine.ResultSet{Columns: []string{"metric"}}
	for i := 0; i < 50; i++ {
		rs.Rows = append(rs.Rows, map[string]interface{}{"metric": 7.0})
	}

	_, err := DetectAnomalies(rs, "metric", "", 3.0, 25)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	assert.Contains(t, err.Error(), "near-zero variance")
}

func TestDetectAnomaliesTooFewRows(t *testing.T) {
	rs := &engine.ResultSet{Columns: []string{"metric"}}
	for i := 0; i < 10; i++ {
		rs.Rows = append(rs.Rows, map[string]interface{}{"metric": float64(i)})
	}

	_, err := DetectAnomalies(rs, "metric", "", 3.0, 25)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestDetectAnomaliesMissingColumns(t *testing.T) {
	rs := linearRows(40)
	_, err := DetectAnomalies(rs, "ghost", "", 3.0, 25)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	_, err = DetectAnomalies(rs, "y", "ghost", 3.0, 25)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestDetectAnomaliesRanksByAbsZ(t *testing.T) {
	rs := &engine.ResultSet{Columns: []string{"metric"}}
	for i := 0; i < 60; i++ {
		rs.Rows = append(rs.Rows, map[string]interface{}{"metric": 100.0 + float64(i%7)})
	}
	rs.Rows[5]["metric"] = 900.0
	rs.Rows[10]["metric"] = 2000.0

	result, err := DetectAnomalies(rs, "metric", "", 2.0, 25)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(result.Anomalies), 2)
	assert.Equal(t, 10, result.Anomalies[0].SourceRowIndex)
	assert.Equal(t, 5, result.Anomalies[1].SourceRowIndex)
}
