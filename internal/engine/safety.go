package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/insight-agent/backend/internal/errs"
)

// Every statement that reaches a session database passes through SanitizeSQL
// first. Only a single read-only SELECT/WITH statement survives; everything
// else is rejected before touching the connection.

var (
	forbiddenKeywords = regexp.MustCompile(`(?i)\b(ATTACH|CALL|COMMENT|COPY|CREATE|DELETE|DETACH|DROP|EXEC|EXECUTE|EXPORT|IMPORT|INSERT|INSTALL|LOAD|MERGE|PRAGMA|REPLACE|TRUNCATE|UPDATE|VACUUM)\b`)
	forbiddenIOFuncs  = regexp.MustCompile(`(?i)\b(read_csv|read_json|read_parquet|glob|httpfs)\b`)
)

// SanitizeSQL validates a candidate statement and returns its canonical form
// (trimmed, trailing semicolon removed).
func SanitizeSQL(query string) (string, error) {
	cleaned := strings.TrimSpace(query)
	cleaned = strings.TrimSuffix(cleaned, ";")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" {
		return "", errs.Validation("SQL statement is empty")
	}
	if strings.Contains(cleaned, ";") {
		return "", errs.Validation("multiple SQL statements are not allowed")
	}
	if strings.Contains(cleaned, "--") || strings.Contains(cleaned, "/*") {
		return "", errs.Validation("SQL comments are not allowed")
	}

	upper := strings.ToUpper(cleaned)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return "", errs.Validation("only SELECT statements are allowed")
	}

	if match := forbiddenKeywords.FindString(cleaned); match != "" {
		return "", errs.Validation("forbidden SQL keyword: %s", strings.ToUpper(match))
	}
	if match := forbiddenIOFuncs.FindString(cleaned); match != "" {
		return "", errs.Validation("forbidden SQL function: %s", strings.ToLower(match))
	}

	return cleaned, nil
}

// WrapWithLimit nests a sanitized statement inside a hard row cap. The inner
// query keeps its own semantics; the wrapper only bounds output volume.
func WrapWithLimit(sanitized string, limit int) string {
	return fmt.Sprintf("SELECT * FROM (%s) AS safe_query LIMIT %d", sanitized, limit)
}
