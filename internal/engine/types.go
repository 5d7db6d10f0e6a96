package engine

// ResultSet carries query output with an explicit column order. Row maps are
// keyed by column name; Columns preserves the order the statement produced.
type ResultSet struct {
	Columns []string
	Rows    []map[string]interface{}
}

func (rs *ResultSet) RowCount() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rows)
}

// ColumnValues extracts a single column in row order.
func (rs *ResultSet) ColumnValues(name string) []interface{} {
	values := make([]interface{}, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		values = append(values, row[name])
	}
	return values
}

type Correlation struct {
	ColumnA     string  `json:"column_a"`
	ColumnB     string  `json:"column_b"`
	Coefficient float64 `json:"coefficient"`
}

// DatasetProfile summarizes an uploaded table for planning prompts and the UI.
type DatasetProfile struct {
	TableName            string        `json:"table_name"`
	RowCount             int           `json:"row_count"`
	ColumnCount          int           `json:"column_count"`
	Columns              []string      `json:"columns"`
	NumericColumns       []string      `json:"numeric_columns"`
	TemporalColumns      []string      `json:"temporal_columns"`
	CategoricalColumns   []string      `json:"categorical_columns"`
	Correlations         []Correlation `json:"correlations"`
	RecommendedQuestions []string      `json:"recommended_questions"`
	SampleRows           []map[string]interface{} `json:"sample_rows"`
}
