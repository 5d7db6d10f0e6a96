package engine

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

const (
	correlationColumnCap = 6
	correlationMinAbs    = 0.3
	correlationTopN      = 5
	recommendedCap       = 6
)

func buildProfile(data *tabularData, kinds []columnKind, sampleRows []map[string]interface{}) *DatasetProfile {
	profile := &DatasetProfile{
		TableName:   TableName,
		RowCount:    len(data.records),
		ColumnCount: len(data.columns),
		Columns:     append([]string(nil), data.columns...),
		SampleRows:  sampleRows,
	}

	for i, col := range data.columns {
		switch kinds[i] {
		case kindNumeric:
			profile.NumericColumns = append(profile.NumericColumns, col)
		case kindTemporal:
			profile.TemporalColumns = append(profile.TemporalColumns, col)
		default:
			profile.CategoricalColumns = append(profile.CategoricalColumns, col)
		}
	}

	profile.Correlations = topCorrelations(data, kinds)
	profile.RecommendedQuestions = recommendQuestions(profile)

	return profile
}

// topCorrelations ranks pairwise Pearson coefficients over the first few
// numeric columns, keeping only meaningfully correlated pairs.
func topCorrelations(data *tabularData, kinds []columnKind) []Correlation {
	var numericIdx []int
	for i := range data.columns {
		if kinds[i] == kindNumeric {
			numericIdx = append(numericIdx, i)
			if len(numericIdx) == correlationColumnCap {
				break
			}
		}
	}
	if len(numericIdx) < 2 {
		return nil
	}

	var results []Correlation
	for a := 0; a < len(numericIdx); a++ {
		for b := a + 1; b < len(numericIdx); b++ {
			left, right := numericIdx[a], numericIdx[b]
			var xs, ys []float64
			for _, rec := range data.records {
				x, okX := parseNumeric(rec[left])
				y, okY := parseNumeric(rec[right])
				if okX && okY {
					xs = append(xs, x)
					ys = append(ys, y)
				}
			}
			r, ok := pearson(xs, ys)
			if !ok || math.Abs(r) < correlationMinAbs {
				continue
			}
			results = append(results, Correlation{
				ColumnA:     data.columns[left],
				ColumnB:     data.columns[right],
				Coefficient: math.Round(r*10000) / 10000,
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return math.Abs(results[i].Coefficient) > math.Abs(results[j].Coefficient)
	})
	if len(results) > correlationTopN {
		results = results[:correlationTopN]
	}
	return results
}

func pearson(xs, ys []float64) (float64, bool) {
	n := len(xs)
	if n < 2 || n != len(ys) {
		return 0, false
	}

	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var cov, varX, varY float64
	for i := 0; i < n; i++ {
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

func recommendQuestions(profile *DatasetProfile) []string {
	questions := []string{
		"Give me an overview of this dataset and key metrics.",
	}

	if len(profile.TemporalColumns) > 0 && len(profile.NumericColumns) > 0 {
		questions = append(questions, fmt.Sprintf(
			"Show the trend of %s over %s.",
			profile.NumericColumns[0], profile.TemporalColumns[0],
		))
	}
	if len(profile.CategoricalColumns) > 0 && len(profile.NumericColumns) > 0 {
		questions = append(questions, fmt.Sprintf(
			"Compare %s by %s.",
			profile.NumericColumns[0], profile.CategoricalColumns[0],
		))
	}
	if len(profile.Correlations) > 0 {
		pair := profile.Correlations[0]
		questions = append(questions, fmt.Sprintf(
			"Explain the relationship between %s and %s.",
			pair.ColumnA, pair.ColumnB,
		))
	} else if len(profile.NumericColumns) >= 2 {
		questions = append(questions, fmt.Sprintf(
			"Find correlations between %s and other numeric columns.",
			profile.NumericColumns[0],
		))
	}

	if len(questions) > recommendedCap {
		questions = questions[:recommendedCap]
	}
	return questions
}

// Describe renders a compact schema description for planning prompts.
func (p *DatasetProfile) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table %s: %d rows, %d columns\n", p.TableName, p.RowCount, p.ColumnCount)
	fmt.Fprintf(&b, "Numeric columns: %s\n", strings.Join(p.NumericColumns, ", "))
	fmt.Fprintf(&b, "Temporal columns: %s\n", strings.Join(p.TemporalColumns, ", "))
	fmt.Fprintf(&b, "Categorical columns: %s\n", strings.Join(p.CategoricalColumns, ", "))
	for _, corr := range p.Correlations {
		fmt.Fprintf(&b, "Correlation %s ~ %s: %.4f\n", corr.ColumnA, corr.ColumnB, corr.Coefficient)
	}
	return b.String()
}
