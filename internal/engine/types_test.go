package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResultSetRowCount(t *testing.T) {
	rs := &ResultSet{
		Columns: []string{"region"},
		Rows: []map[string]interface{}{
			{"region": "east"},
			{"region": "west"},
		},
	}
	assert.Equal(t, 2, rs.RowCount())

	var nilSet *ResultSet
	assert.Equal(t, 0, nilSet.RowCount())
}

func TestResultSetColumnValues(t *testing.T) {
	rs := &ResultSet{
		Columns: []string{"region", "revenue"},
		Rows: []map[string]interface{}{
			{"region": "east", "revenue": 10.0},
			{"region": "west", "revenue": nil},
			{"region": "north"},
		},
	}

	assert.Equal(t, []interface{}{"east", "west", "north"}, rs.ColumnValues("region"))
	assert.Equal(t, []interface{}{10.0, nil, nil}, rs.ColumnValues("revenue"))
	assert.Equal(t, []interface{}{nil, nil, nil}, rs.ColumnValues("missing"))
}
