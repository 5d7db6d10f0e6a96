package engine

import (
	"context"

	"github.com/insight-agent/backend/internal/errs"
)

// Query runs a statement through the safety gate and returns at most maxRows
// rows with column order preserved.
func (s *Session) Query(ctx context.Context, rawSQL string, maxRows int) (*ResultSet, error) {
	sanitized, err := SanitizeSQL(rawSQL)
	if err != nil {
		return nil, err
	}

	safe := WrapWithLimit(sanitized, maxRows)

	rows, err := s.db.QueryContext(ctx, safe)
	if err != nil {
		return nil, errs.Wrap(errs.KindExecution, err, "query execution failed")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errs.Wrap(errs.KindExecution, err, "failed to read result columns")
	}

	result := &ResultSet{Columns: columns}
	values := make([]interface{}, len(columns))
	pointers := make([]interface{}, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(pointers...); err != nil {
			return nil, errs.Wrap(errs.KindExecution, err, "failed to scan result row")
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindExecution, err, "failed to iterate result rows")
	}

	return result, nil
}

func normalizeValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
