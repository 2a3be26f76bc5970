package loadcsv

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopflow/etl/warehouse"
)

// parseRow coerces one CSV record onto the relation's column types in
// declaration order. An empty cell on a nullable column becomes NULL.
func parseRow(rel warehouse.Relation, record []string) ([]any, error) {
	if len(record) != len(rel.Columns) {
		return nil, fmt.Errorf("expected %d fields, got %d", len(rel.Columns), len(record))
	}

	row := make([]any, len(record))
	for i, raw := range record {
		column := rel.Columns[i]
		if raw == "" && !column.NotNull {
			row[i] = nil
			continue
		}

		value, err := parseValue(column.Type, raw)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", column.Name, err)
		}
		row[i] = value
	}

	return row, nil
}

func parseValue(columnType, raw string) (any, error) {
	switch baseType(columnType) {
	case "INT", "BIGINT", "BIGSERIAL":
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("not an integer: %q", raw)
		}
		return v, nil
	case "NUMERIC":
		if _, err := strconv.ParseFloat(raw, 64); err != nil {
			return nil, fmt.Errorf("not a number: %q", raw)
		}
		return raw, nil
	case "TIMESTAMPTZ":
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("not an RFC3339 timestamp: %q", raw)
		}
		return t, nil
	case "DATE":
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, fmt.Errorf("not a date: %q", raw)
		}
		return t, nil
	case "BOOLEAN":
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("not a boolean: %q", raw)
		}
		return v, nil
	default:
		return raw, nil
	}
}

func baseType(columnType string) string {
	if i := strings.IndexByte(columnType, '('); i > 0 {
		columnType = columnType[:i]
	}
	return strings.ToUpper(strings.TrimSpace(columnType))
}

// checkHeader requires the CSV header to name the relation's columns in
// declaration order, so a reordered export fails loudly instead of
// loading values into the wrong columns.
func checkHeader(rel warehouse.Relation, header []string) error {
	expected := rel.ColumnNames()
	if len(header) != len(expected) {
		return fmt.Errorf("header has %d columns, relation %s has %d", len(header), rel.Name, len(expected))
	}
	for i, name := range header {
		if strings.TrimSpace(name) != expected[i] {
			return fmt.Errorf("header column %d is %q, want %q", i, name, expected[i])
		}
	}
	return nil
}
