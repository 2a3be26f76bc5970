package scd

import (
	"fmt"
	"time"

	"github.com/shopflow/etl/extract"
	"github.com/shopflow/etl/warehouse"
)

// DimensionSpec binds a source relation to its versioned dimension.
// TrackedColumns are the attributes whose change closes the open version
// and opens a new one; other attributes ride along on the new version but
// never trigger one by themselves.
type DimensionSpec struct {
	Source         warehouse.Relation
	Target         warehouse.Relation
	NaturalKey     string
	TrackedColumns []string
}

// Products maps the source product table onto dim_products, versioning on
// price changes.
func Products(sourceSchema, warehouseSchema string) DimensionSpec {
	return DimensionSpec{
		Source:         warehouse.SourceProducts(sourceSchema),
		Target:         warehouse.DimProducts(warehouseSchema),
		NaturalKey:     "id",
		TrackedColumns: []string{"price"},
	}
}

// Changes is the outcome of comparing a source snapshot against the open
// dimension versions.
type Changes struct {
	New       []warehouse.Row
	Changed   []warehouse.Row
	Unchanged int64
}

// classify splits a source snapshot into keys unseen by the dimension,
// keys whose tracked attributes diverged from the open version, and keys
// that match it. Keys present in the dimension but absent from the
// snapshot are left untouched: a product missing from one extract is not
// evidence it was retired.
func classify(spec DimensionSpec, snapshot []warehouse.Row, current []warehouse.Row) (Changes, error) {
	open := make(map[int64]warehouse.Row, len(current))
	for _, row := range current {
		key, ok := extract.AsInt64(row[spec.NaturalKey])
		if !ok {
			return Changes{}, fmt.Errorf("dimension row has no usable natural key %q", spec.NaturalKey)
		}
		open[key] = row
	}

	var out Changes
	for _, row := range snapshot {
		key, ok := extract.AsInt64(row[spec.NaturalKey])
		if !ok {
			return Changes{}, fmt.Errorf("snapshot row has no usable natural key %q", spec.NaturalKey)
		}

		held, seen := open[key]
		if !seen {
			out.New = append(out.New, row)
			continue
		}

		if trackedDiffer(spec.TrackedColumns, row, held) {
			out.Changed = append(out.Changed, row)
		} else {
			out.Unchanged++
		}
	}

	return out, nil
}

func trackedDiffer(tracked []string, incoming, held warehouse.Row) bool {
	for _, column := range tracked {
		if !equalValue(incoming[column], held[column]) {
			return true
		}
	}
	return false
}

// equalValue compares attribute values across the driver's decoded
// representations. Numerics may arrive as string, []byte or a native
// width depending on the column type, so comparison goes through a
// canonical text form.
func equalValue(a, b any) bool {
	return canonical(a) == canonical(b)
}

func canonical(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", t)
	}
}
