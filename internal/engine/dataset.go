package engine

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/insight-agent/backend/internal/errs"
)

const (
	// TableName is the fixed name every uploaded dataset is loaded into.
	TableName = "uploaded_data"

	inferenceSampleRows = 200
	numericRatioMin     = 0.8
)

var temporalLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006/01/02",
	"01/02/2006",
}

type tabularData struct {
	columns []string
	records [][]string
}

type columnKind int

const (
	kindText columnKind = iota
	kindNumeric
	kindTemporal
)

// readCSV parses the upload into normalized columns plus raw string records.
// Ragged rows are padded or truncated to the header width.
func readCSV(r io.Reader) (*tabularData, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	raw, err := reader.ReadAll()
	if err != nil {
		return nil, errs.Validation("failed to parse CSV: %v", err)
	}
	if len(raw) == 0 {
		return nil, errs.Validation("uploaded CSV has no rows")
	}

	columns := normalizeColumnNames(raw[0])
	records := make([][]string, 0, len(raw)-1)
	for _, rec := range raw[1:] {
		row := make([]string, len(columns))
		for i := range columns {
			if i < len(rec) {
				row[i] = rec[i]
			}
		}
		records = append(records, row)
	}
	if len(records) == 0 {
		return nil, errs.Validation("uploaded CSV has no rows")
	}

	return &tabularData{columns: columns, records: records}, nil
}

// normalizeColumnNames trims headers, names blank ones column_N, and suffixes
// duplicates with an occurrence counter.
func normalizeColumnNames(headers []string) []string {
	normalized := make([]string, 0, len(headers))
	seen := make(map[string]int, len(headers))

	for i, raw := range headers {
		base := strings.TrimSpace(raw)
		if base == "" {
			base = fmt.Sprintf("column_%d", i+1)
		}
		count := seen[base]
		seen[base] = count + 1
		if count == 0 {
			normalized = append(normalized, base)
		} else {
			normalized = append(normalized, fmt.Sprintf("%s_%d", base, count+1))
		}
	}
	return normalized
}

// CheckSupportedFile rejects anything that is not a CSV upload.
func CheckSupportedFile(filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext != ".csv" {
		return errs.Validation("unsupported file type %q. Supported types: .csv", ext)
	}
	return nil
}

func inferColumnKinds(data *tabularData) []columnKind {
	kinds := make([]columnKind, len(data.columns))

	sample := data.records
	if len(sample) > inferenceSampleRows {
		sample = sample[:inferenceSampleRows]
	}

	for col := range data.columns {
		var nonEmpty, numeric, temporal int
		for _, rec := range sample {
			value := strings.TrimSpace(rec[col])
			if value == "" {
				continue
			}
			nonEmpty++
			if _, ok := parseNumeric(value); ok {
				numeric++
			}
			if looksTemporal(value) {
				temporal++
			}
		}
		if nonEmpty == 0 {
			kinds[col] = kindText
			continue
		}
		switch {
		case float64(numeric)/float64(nonEmpty) >= numericRatioMin:
			kinds[col] = kindNumeric
		case float64(temporal)/float64(nonEmpty) >= numericRatioMin:
			kinds[col] = kindTemporal
		default:
			kinds[col] = kindText
		}
	}
	return kinds
}

func parseNumeric(value string) (float64, bool) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(value), ",", "")
	if cleaned == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func looksTemporal(value string) bool {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) < 8 {
		return false
	}
	if !strings.ContainsAny(trimmed, "-/:") {
		return false
	}
	for _, layout := range temporalLayouts {
		if _, err := time.Parse(layout, trimmed); err == nil {
			return true
		}
	}
	return false
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// loadTable creates the uploaded_data table and bulk-inserts all records in
// one transaction. Numeric columns are stored as REAL, everything else TEXT.
func loadTable(db *sql.DB, data *tabularData, kinds []columnKind) error {
	defs := make([]string, len(data.columns))
	placeholders := make([]string, len(data.columns))
	for i, col := range data.columns {
		sqlType := "TEXT"
		if kinds[i] == kindNumeric {
			sqlType = "REAL"
		}
		defs[i] = fmt.Sprintf("%s %s", quoteIdentifier(col), sqlType)
		placeholders[i] = "?"
	}

	createStmt := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdentifier(TableName), strings.Join(defs, ", "))
	if _, err := db.Exec(createStmt); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insertStmt := fmt.Sprintf(
		"INSERT INTO %s VALUES (%s)",
		quoteIdentifier(TableName),
		strings.Join(placeholders, ", "),
	)
	stmt, err := tx.Prepare(insertStmt)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]interface{}, len(data.columns))
	for _, rec := range data.records {
		for i := range data.columns {
			value := strings.TrimSpace(rec[i])
			switch {
			case value == "":
				args[i] = nil
			case kinds[i] == kindNumeric:
				if f, ok := parseNumeric(value); ok {
					args[i] = f
				} else {
					args[i] = nil
				}
			default:
				args[i] = value
			}
		}
		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("failed to insert row: %w", err)
		}
	}

	return tx.Commit()
}
