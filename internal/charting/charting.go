package charting

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	MaxVizPoints     = 320
	MaxScatterPoints = 700
	MaxBarPoints     = 30
	MaxPiePoints     = 12

	inferenceSample = 200
	ratioThreshold  = 0.8
	maxOptions      = 4
)

var chartTypes = map[string]bool{
	"line":    true,
	"bar":     true,
	"scatter": true,
	"pie":     true,
	"area":    true,
}

// Config describes how a result set should be rendered.
type Config struct {
	Type    string `json:"type"`
	XKey    string `json:"xKey"`
	YKey    string `json:"yKey"`
	GroupBy string `json:"groupBy,omitempty"`
}

// IsNumericValue reports whether a cell can be treated as a number. Bools and
// nils never count; strings are parsed with thousands separators stripped.
func IsNumericValue(value interface{}) bool {
	_, ok := ToFloat(value)
	return ok
}

func ToFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case nil, bool:
		return 0, false
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		cleaned := strings.ReplaceAll(strings.TrimSpace(v), ",", "")
		if cleaned == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

var temporalLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006/01/02",
	"01/02/2006",
	"15:04:05",
}

// LooksTemporal recognizes date-like strings: at least 8 characters with a
// separator that parse under a common layout.
func LooksTemporal(value interface{}) bool {
	if _, ok := value.(time.Time); ok {
		return true
	}
	s, ok := value.(string)
	if !ok {
		return false
	}
	raw := strings.TrimSpace(s)
	if len(raw) < 8 || !strings.ContainsAny(raw, "-/:") {
		return false
	}
	raw = strings.Replace(raw, "Z", "+00:00", 1)
	for _, layout := range temporalLayouts {
		if _, err := time.Parse(layout, strings.TrimSuffix(raw, "+00:00")); err == nil {
			return true
		}
	}
	return false
}

// InferColumns classifies result columns into numeric, temporal and
// categorical roles from a bounded sample. Columns with no observed values
// are left out entirely.
func InferColumns(columns []string, data []map[string]interface{}) (numeric, temporal, categorical []string) {
	if len(data) == 0 {
		return nil, nil, nil
	}

	sample := data
	if len(sample) > inferenceSample {
		sample = sample[:inferenceSample]
	}

	for _, key := range columns {
		var total, numericCount, temporalCount int
		for _, row := range sample {
			value := row[key]
			if value == nil {
				continue
			}
			total++
			if IsNumericValue(value) {
				numericCount++
			}
			if LooksTemporal(value) {
				temporalCount++
			}
		}
		if total == 0 {
			continue
		}
		switch {
		case float64(numericCount)/float64(total) >= ratioThreshold:
			numeric = append(numeric, key)
		case float64(temporalCount)/float64(total) >= ratioThreshold:
			temporal = append(temporal, key)
		default:
			categorical = append(categorical, key)
		}
	}
	return numeric, temporal, categorical
}

// Normalize repairs an oracle-proposed config against the actual result
// shape. The output always names real columns and a renderable chart type.
func Normalize(columns []string, data []map[string]interface{}, base Config) Config {
	if len(data) == 0 {
		return Config{Type: "bar"}
	}

	keys := presentKeys(columns, data[0])
	numericKeys, temporalKeys, _ := InferColumns(columns, data)

	chartType := base.Type
	if !chartTypes[chartType] {
		chartType = "bar"
	}

	xKey := base.XKey
	yKey := base.YKey

	if !contains(keys, xKey) {
		switch {
		case len(temporalKeys) > 0:
			xKey = temporalKeys[0]
		default:
			_, _, categoricalKeys := InferColumns(columns, data)
			if len(categoricalKeys) > 0 {
				xKey = categoricalKeys[0]
			} else {
				xKey = keys[0]
			}
		}
	}

	if !contains(keys, yKey) || yKey == xKey {
		if len(numericKeys) > 0 {
			candidate := numericKeys[0]
			if candidate == xKey && len(numericKeys) > 1 {
				candidate = numericKeys[1]
			}
			yKey = candidate
		} else if len(keys) > 1 {
			yKey = keys[1]
		} else {
			yKey = keys[0]
		}
	}

	if chartType == "scatter" {
		if len(numericKeys) >= 2 {
			xKey = numericKeys[0]
			yKey = numericKeys[1]
		} else {
			chartType = "bar"
		}
	}

	if (chartType == "line" || chartType == "area") && len(temporalKeys) > 0 && !contains(temporalKeys, xKey) {
		xKey = temporalKeys[0]
	}

	normalized := Config{Type: chartType, XKey: xKey, YKey: yKey}
	if base.GroupBy != "" && contains(keys, base.GroupBy) && base.GroupBy != xKey && base.GroupBy != yKey {
		normalized.GroupBy = base.GroupBy
	}
	return normalized
}

// BuildOptions proposes up to four distinct chart configurations, ordered by
// relevance to the analysis type.
func BuildOptions(columns []string, data []map[string]interface{}, base Config, analysisType string) []Config {
	if len(data) == 0 {
		return []Config{base}
	}

	numericKeys, temporalKeys, categoricalKeys := InferColumns(columns, data)
	options := make([]Config, 0, maxOptions)
	seen := make(map[string]bool)

	add := func(option Config) {
		signature := fmt.Sprintf("%s|%s|%s|%s", option.Type, option.XKey, option.YKey, option.GroupBy)
		if seen[signature] {
			return
		}
		seen[signature] = true
		options = append(options, option)
	}

	add(Normalize(columns, data, base))

	if len(temporalKeys) > 0 && len(numericKeys) > 0 {
		add(Config{Type: "line", XKey: temporalKeys[0], YKey: numericKeys[0]})
		add(Config{Type: "area", XKey: temporalKeys[0], YKey: numericKeys[0]})
	}

	if len(categoricalKeys) > 0 && len(numericKeys) > 0 {
		add(Config{Type: "bar", XKey: categoricalKeys[0], YKey: numericKeys[0]})
		if uniqueStringValues(data, categoricalKeys[0]) <= MaxPiePoints {
			add(Config{Type: "pie", XKey: categoricalKeys[0], YKey: numericKeys[0]})
		}
	}

	if len(numericKeys) >= 2 {
		add(Config{Type: "scatter", XKey: numericKeys[0], YKey: numericKeys[1]})
	}

	switch analysisType {
	case "correlation":
		sort.SliceStable(options, func(i, j int) bool {
			return rank(options[i].Type == "scatter") < rank(options[j].Type == "scatter")
		})
	case "trend":
		sort.SliceStable(options, func(i, j int) bool {
			return rank(options[i].Type == "line" || options[i].Type == "area") <
				rank(options[j].Type == "line" || options[j].Type == "area")
		})
	}

	if len(options) > maxOptions {
		options = options[:maxOptions]
	}
	return options
}

// SampleEvenly thins a series with a fixed stride, always trying to keep the
// final point.
func SampleEvenly(data []map[string]interface{}, maxPoints int) []map[string]interface{} {
	if len(data) <= maxPoints {
		return data
	}

	step := len(data) / maxPoints
	if step < 1 {
		step = 1
	}

	sampled := make([]map[string]interface{}, 0, maxPoints+1)
	lastIndex := -1
	for i := 0; i < len(data); i += step {
		sampled = append(sampled, data[i])
		lastIndex = i
	}
	if lastIndex != len(data)-1 {
		sampled = append(sampled, data[len(data)-1])
	}
	if len(sampled) > maxPoints {
		sampled = sampled[:maxPoints]
	}
	return sampled
}

// AggregateCategories sums the y column per x label, keeps the largest
// buckets by absolute value, and folds the remainder into "Other". The total
// across the output equals the total across the input.
func AggregateCategories(data []map[string]interface{}, xKey, yKey string, maxPoints int) []map[string]interface{} {
	totals := make(map[string]float64)
	var order []string
	for _, row := range data {
		xValue := row[xKey]
		yValue, ok := ToFloat(row[yKey])
		if xValue == nil || !ok {
			continue
		}
		label := stringify(xValue)
		if _, exists := totals[label]; !exists {
			order = append(order, label)
		}
		totals[label] += yValue
	}

	sort.SliceStable(order, func(i, j int) bool {
		return math.Abs(totals[order[i]]) > math.Abs(totals[order[j]])
	})

	build := func(label string) map[string]interface{} {
		return map[string]interface{}{xKey: label, yKey: totals[label]}
	}

	if len(order) <= maxPoints {
		result := make([]map[string]interface{}, 0, len(order))
		for _, label := range order {
			result = append(result, build(label))
		}
		return result
	}

	result := make([]map[string]interface{}, 0, maxPoints)
	var otherTotal float64
	for i, label := range order {
		if i < maxPoints-1 {
			result = append(result, build(label))
		} else {
			otherTotal += totals[label]
		}
	}
	result = append(result, map[string]interface{}{xKey: "Other", yKey: otherTotal})
	return result
}

// Optimize reduces a result set to a renderable size for the chosen chart.
func Optimize(data []map[string]interface{}, cfg Config) []map[string]interface{} {
	if len(data) == 0 {
		return data
	}
	if cfg.XKey == "" || cfg.YKey == "" {
		return SampleEvenly(data, MaxVizPoints)
	}

	switch cfg.Type {
	case "scatter":
		return SampleEvenly(data, MaxScatterPoints)
	case "line", "area":
		return SampleEvenly(data, MaxVizPoints)
	case "bar":
		return AggregateCategories(data, cfg.XKey, cfg.YKey, MaxBarPoints)
	case "pie":
		return AggregateCategories(data, cfg.XKey, cfg.YKey, MaxPiePoints)
	default:
		return SampleEvenly(data, MaxVizPoints)
	}
}

func presentKeys(columns []string, first map[string]interface{}) []string {
	keys := make([]string, 0, len(columns))
	for _, col := range columns {
		if _, ok := first[col]; ok {
			keys = append(keys, col)
		}
	}
	if len(keys) == 0 {
		keys = columns
	}
	return keys
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}

func uniqueStringValues(data []map[string]interface{}, key string) int {
	seen := make(map[string]bool)
	for _, row := range data {
		if value := row[key]; value != nil {
			seen[stringify(value)] = true
		}
	}
	return len(seen)
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func rank(preferred bool) int {
	if preferred {
		return 0
	}
	return 1
}
