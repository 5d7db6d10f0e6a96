package charting

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rowsFromPairs(xKey, yKey string, pairs [][2]interface{}) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, len(pairs))
	for _, p := range pairs {
		rows = append(rows, map[string]interface{}{xKey: p[0], yKey: p[1]})
	}
	return rows
}

func TestToFloatRejectsBoolsAndNil(t *testing.T) {
	_, ok := ToFloat(true)
	assert.False(t, ok)
	_, ok = ToFloat(nil)
	assert.False(t, ok)

	f, ok := ToFloat("1,200.50")
	assert.True(t, ok)
	assert.Equal(t, 1200.5, f)
}

func TestInferColumns(t *testing.T) {
	columns := []string{"date", "region", "revenue"}
	rows := []map[string]interface{}{
		{"date": "2024-01-01", "region": "north", "revenue": 10.0},
		{"date": "2024-01-02", "region": "south", "revenue": 12.5},
		{"date": "2024-01-03", "region": "north", "revenue": "1,300"},
	}

	numeric, temporal, categorical := InferColumns(columns, rows)
	assert.Equal(t, []string{"revenue"}, numeric)
	assert.Equal(t, []string{"date"}, temporal)
	assert.Equal(t, []string{"region"}, categorical)
}

func TestNormalizeEmptyData(t *testing.T) {
	cfg := Normalize([]string{"a"}, nil, Config{Type: "line", XKey: "a", YKey: "b"})
	assert.Equal(t, Config{Type: "bar"}, cfg)
}

func TestNormalizeRepairsInvalidKeys(t *testing.T) {
	columns := []string{"date", "region", "revenue"}
	rows := []map[string]interface{}{
		{"date": "2024-01-01", "region": "north", "revenue": 10.0},
		{"date": "2024-01-02", "region": "south", "revenue": 12.5},
	}

	cfg := Normalize(columns, rows, Config{Type: "mystery", XKey: "missing", YKey: "missing_too"})
	assert.Equal(t, "bar", cfg.Type)
	assert.Equal(t, "date", cfg.XKey)
	assert.Equal(t, "revenue", cfg.YKey)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	columns := []string{"date", "region", "revenue", "units"}
	rows := []map[string]interface{}{
		{"date": "2024-01-01", "region": "north", "revenue": 10.0, "units": 1.0},
		{"date": "2024-01-02", "region": "south", "revenue": 12.5, "units": 2.0},
	}

	bases := []Config{
		{Type: "scatter", XKey: "region", YKey: "date"},
		{Type: "line", XKey: "region", YKey: "revenue"},
		{Type: "pie", XKey: "bogus", YKey: "bogus"},
		{},
	}
	for _, base := range bases {
		once := Normalize(columns, rows, base)
		twice := Normalize(columns, rows, once)
		assert.Equal(t, once, twice, "base %+v", base)
	}
}

func TestNormalizeScatterDemotedWithoutTwoNumerics(t *testing.T) {
	columns := []string{"region", "revenue"}
	rows := []map[string]interface{}{
		{"region": "north", "revenue": 10.0},
		{"region": "south", "revenue": 12.5},
	}

	cfg := Normalize(columns, rows, Config{Type: "scatter", XKey: "region", YKey: "revenue"})
	assert.Equal(t, "bar", cfg.Type)
}

func TestNormalizeLineForcesTemporalX(t *testing.T) {
	columns := []string{"date", "region", "revenue"}
	rows := []map[string]interface{}{
		{"date": "2024-01-01", "region": "north", "revenue": 10.0},
		{"date": "2024-01-02", "region": "south", "revenue": 12.5},
	}

	cfg := Normalize(columns, rows, Config{Type: "line", XKey: "region", YKey: "revenue"})
	assert.Equal(t, "date", cfg.XKey)
}

func TestNormalizeKeepsValidGroupBy(t *testing.T) {
	columns := []string{"date", "region", "revenue"}
	rows := []map[string]interface{}{
		{"date": "2024-01-01", "region": "north", "revenue": 10.0},
		{"date": "2024-01-02", "region": "south", "revenue": 12.5},
	}

	cfg := Normalize(columns, rows, Config{Type: "line", XKey: "date", YKey: "revenue", GroupBy: "region"})
	assert.Equal(t, "region", cfg.GroupBy)

	cfg = Normalize(columns, rows, Config{Type: "line", XKey: "date", YKey: "revenue", GroupBy: "date"})
	assert.Empty(t, cfg.GroupBy)
}

func TestBuildOptionsDedupAndCap(t *testing.T) {
	columns := []string{"date", "region", "revenue", "units"}
	rows := []map[string]interface{}{
		{"date": "2024-01-01", "region": "north", "revenue": 10.0, "units": 1.0},
		{"date": "2024-01-02", "region": "south", "revenue": 12.5, "units": 2.0},
	}

	options := BuildOptions(columns, rows, Config{Type: "line", XKey: "date", YKey: "revenue"}, "")
	require.NotEmpty(t, options)
	assert.LessOrEqual(t, len(options), 4)

	seen := make(map[string]bool)
	for _, opt := range options {
		sig := fmt.Sprintf("%s|%s|%s|%s", opt.Type, opt.XKey, opt.YKey, opt.GroupBy)
		assert.False(t, seen[sig], "duplicate option %s", sig)
		seen[sig] = true
	}
}

func TestBuildOptionsOrdering(t *testing.T) {
	columns := []string{"date", "region", "revenue", "units"}
	rows := []map[string]interface{}{
		{"date": "2024-01-01", "region": "north", "revenue": 10.0, "units": 1.0},
		{"date": "2024-01-02", "region": "south", "revenue": 12.5, "units": 2.0},
	}

	options := BuildOptions(columns, rows, Config{Type: "bar", XKey: "region", YKey: "revenue"}, "correlation")
	require.NotEmpty(t, options)
	assert.Equal(t, "scatter", options[0].Type)

	options = BuildOptions(columns, rows, Config{Type: "bar", XKey: "region", YKey: "revenue"}, "trend")
	require.NotEmpty(t, options)
	assert.Contains(t, []string{"line", "area"}, options[0].Type)
}

func TestSampleEvenlyKeepsEndpointsAndCap(t *testing.T) {
	data := make([]map[string]interface{}, 1000)
	for i := range data {
		data[i] = map[string]interface{}{"i": float64(i)}
	}

	sampled := SampleEvenly(data, MaxVizPoints)
	assert.LessOrEqual(t, len(sampled), MaxVizPoints)
	assert.Equal(t, 0.0, sampled[0]["i"])

	small := SampleEvenly(data[:10], MaxVizPoints)
	assert.Len(t, small, 10)
}

func TestAggregateCategoriesConservesTotal(t *testing.T) {
	var data []map[string]interface{}
	var expected float64
	for i := 0; i < 50; i++ {
		value := float64(i + 1)
		expected += value
		data = append(data, map[string]interface{}{
			"cat": fmt.Sprintf("c%02d", i),
			"val": value,
		})
	}

	result := AggregateCategories(data, "cat", "val", MaxBarPoints)
	require.Len(t, result, MaxBarPoints)
	assert.Equal(t, "Other", result[MaxBarPoints-1]["cat"])

	var total float64
	for _, row := range result {
		total += row["val"].(float64)
	}
	assert.InDelta(t, expected, total, 1e-9)
}

func TestAggregateCategoriesSkipsUnparseableRows(t *testing.T) {
	data := rowsFromPairs("cat", "val", [][2]interface{}{
		{"a", 5.0},
		{"a", "3"},
		{"b", "oops"},
		{nil, 7.0},
	})

	result := AggregateCategories(data, "cat", "val", 10)
	require.Len(t, result, 1)
	assert.Equal(t, "a", result[0]["cat"])
	assert.Equal(t, 8.0, result[0]["val"])
}

func TestOptimizeDispatch(t *testing.T) {
	data := make([]map[string]interface{}, 800)
	for i := range data {
		data[i] = map[string]interface{}{"x": float64(i), "y": float64(i * 2)}
	}

	scatter := Optimize(data, Config{Type: "scatter", XKey: "x", YKey: "y"})
	assert.LessOrEqual(t, len(scatter), MaxScatterPoints)

	line := Optimize(data, Config{Type: "line", XKey: "x", YKey: "y"})
	assert.LessOrEqual(t, len(line), MaxVizPoints)

	pie := Optimize(data, Config{Type: "pie", XKey: "x", YKey: "y"})
	assert.LessOrEqual(t, len(pie), MaxPiePoints)
}
