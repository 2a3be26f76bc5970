package quality

import (
	"regexp"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// Row is one record under inspection, keyed by column name.
type Row map[string]any

// Expectation is a named predicate over one column. A nil value always
// fails NotNull and is skipped by the other expectations, so each rule
// reports exactly one kind of defect.
type Expectation struct {
	Name   string
	Column string
	check  func(any) bool
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// NotNull fails on nil values and empty strings.
func NotNull(column string) Expectation {
	return Expectation{
		Name:   "not_null",
		Column: column,
		check: func(v any) bool {
			if v == nil {
				return false
			}
			s, isString := v.(string)
			return !isString || s != ""
		},
	}
}

// Positive fails on numeric values that are zero or below.
func Positive(column string) Expectation {
	return Expectation{
		Name:   "positive",
		Column: column,
		check: func(v any) bool {
			if v == nil {
				return true
			}
			f, ok := asFloat(v)
			return !ok || f > 0
		},
	}
}

// EmailFormat fails on strings that do not look like an address.
func EmailFormat(column string) Expectation {
	return Expectation{
		Name:   "email_format",
		Column: column,
		check: func(v any) bool {
			s, ok := v.(string)
			if !ok {
				return v == nil
			}
			return emailPattern.MatchString(s)
		},
	}
}

// ValidTimestamp fails on values that are not a time or an RFC3339 string,
// and on times implausibly far from the present.
func ValidTimestamp(column string) Expectation {
	earliest := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	return Expectation{
		Name:   "valid_timestamp",
		Column: column,
		check: func(v any) bool {
			var t time.Time
			switch value := v.(type) {
			case nil:
				return true
			case time.Time:
				t = value
			case string:
				parsed, err := time.Parse(time.RFC3339, value)
				if err != nil {
					return false
				}
				t = parsed
			default:
				return false
			}
			return t.After(earliest) && t.Before(time.Now().Add(24*time.Hour))
		},
	}
}

func asFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int64:
		return float64(value), true
	case int32:
		return float64(value), true
	case int:
		return float64(value), true
	case string:
		f, err := strconv.ParseFloat(value, 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(string(value), 64)
		return f, err == nil
	case pgtype.Numeric:
		f, err := value.Float64Value()
		if err != nil || !f.Valid {
			return 0, false
		}
		return f.Float64, true
	default:
		return 0, false
	}
}
