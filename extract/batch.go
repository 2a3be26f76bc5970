package extract

import (
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// ChangeRecord is one observed state of a source row at a point in time,
// decoded by column name the way the warehouse sink reads snapshots.
// Records are ephemeral: they live only within one extraction-merge cycle.
type ChangeRecord struct {
	ID               int64
	VersionTimestamp time.Time
	EventTime        time.Time
	Values           map[string]any
}

// ChangeBatch is the ordered result of one extraction call. It may hold
// several records for the same ID when the overlap window re-read them.
type ChangeBatch []ChangeRecord

// MaxEventTime returns the latest event time in the batch; ok is false for
// an empty batch, in which case the watermark must not advance.
func (b ChangeBatch) MaxEventTime() (time.Time, bool) {
	if len(b) == 0 {
		return time.Time{}, false
	}

	max := b[0].EventTime
	for _, r := range b[1:] {
		if r.EventTime.After(max) {
			max = r.EventTime
		}
	}
	return max, true
}

// AsInt64 normalizes the integer widths pgx decodes key columns into.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

// AsFloat64 normalizes the numeric representations pgx decodes amount
// columns into.
func AsFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(string(n), 64)
		return f, err == nil
	case pgtype.Numeric:
		f, err := n.Float64Value()
		if err != nil || !f.Valid {
			return 0, false
		}
		return f.Float64, true
	default:
		if i, ok := AsInt64(v); ok {
			return float64(i), true
		}
		return 0, false
	}
}

// AsTime extracts a timestamp column value.
func AsTime(v any) (time.Time, bool) {
	t, ok := v.(time.Time)
	return t, ok
}
