package scd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/errors/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"

	"github.com/shopflow/etl/extract"
	"github.com/shopflow/etl/internal/metric"
	"github.com/shopflow/etl/logger"
	"github.com/shopflow/etl/warehouse"
)

// Result reports what one dimension apply did.
type Result struct {
	Opened    int64
	Closed    int64
	Unchanged int64
}

// Manager maintains a Type 2 dimension: every tracked attribute change
// closes the open version and opens a new one in the same transaction, so
// at most one version per natural key is ever current.
type Manager struct {
	sink   warehouse.Sink
	spec   DimensionSpec
	clock  clockwork.Clock
	metric metric.Metric
}

func NewManager(sink warehouse.Sink, spec DimensionSpec, clock clockwork.Clock, m metric.Metric) *Manager {
	return &Manager{
		sink:   sink,
		spec:   spec,
		clock:  clock,
		metric: m,
	}
}

// Source is the relation whose snapshot feeds Apply.
func (m *Manager) Source() warehouse.Relation {
	return m.spec.Source
}

// Apply compares a full source snapshot against the open dimension
// versions and commits the resulting closes and opens atomically.
// Re-applying an unchanged snapshot is a no-op.
func (m *Manager) Apply(ctx context.Context, snapshot []warehouse.Row) (Result, error) {
	current, err := m.sink.ReadCurrentSnapshot(ctx, m.spec.Target)
	if err != nil {
		return Result{}, errors.Wrap(err, "read open dimension versions")
	}

	changes, err := classify(m.spec, snapshot, current)
	if err != nil {
		return Result{}, err
	}

	result := Result{Unchanged: changes.Unchanged}
	if len(changes.New) == 0 && len(changes.Changed) == 0 {
		logger.Info("dimension already up to date",
			"dimension", m.spec.Target.Name,
			"unchanged", result.Unchanged,
		)
		return result, nil
	}

	now := m.clock.Now().UTC()

	err = m.sink.WithinTx(ctx, func(tx pgx.Tx) error {
		if len(changes.Changed) > 0 {
			keys := make([]int64, 0, len(changes.Changed))
			for _, row := range changes.Changed {
				key, _ := extract.AsInt64(row[m.spec.NaturalKey])
				keys = append(keys, key)
			}

			tag, err := tx.Exec(ctx, m.closeSQL(), now, keys)
			if err != nil {
				return errors.Wrap(err, "close superseded versions")
			}
			result.Closed = tag.RowsAffected()
		}

		insertSQL := m.insertSQL()
		for _, row := range append(changes.New, changes.Changed...) {
			if _, err := tx.Exec(ctx, insertSQL, m.versionValues(row, now)...); err != nil {
				return errors.Wrap(err, "open dimension version")
			}
			result.Opened++
		}

		return nil
	})
	if err != nil {
		return Result{}, err
	}

	m.metric.VersionOpenedIncrement(result.Opened)
	m.metric.VersionClosedIncrement(result.Closed)

	logger.Info("dimension versions applied",
		"dimension", m.spec.Target.Name,
		"opened", result.Opened,
		"closed", result.Closed,
		"unchanged", result.Unchanged,
	)

	return result, nil
}

func (m *Manager) closeSQL() string {
	return fmt.Sprintf(
		"UPDATE %s SET %s = $1, %s = FALSE WHERE %s = ANY($2) AND %s",
		m.spec.Target.QualifiedName(),
		pq.QuoteIdentifier("valid_to"),
		pq.QuoteIdentifier("is_current"),
		pq.QuoteIdentifier(m.spec.NaturalKey),
		m.spec.Target.CurrentFilter,
	)
}

func (m *Manager) insertSQL() string {
	columns := m.spec.Target.ColumnNames()
	placeholders := make([]string, len(columns))
	quoted := make([]string, len(columns))
	for i, c := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		quoted[i] = pq.QuoteIdentifier(c)
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		m.spec.Target.QualifiedName(),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
	)
}

// versionValues projects a source row onto the dimension columns in
// declaration order, filling the validity bookkeeping.
func (m *Manager) versionValues(row warehouse.Row, now time.Time) []any {
	columns := m.spec.Target.ColumnNames()
	values := make([]any, len(columns))
	for i, c := range columns {
		switch c {
		case "valid_from":
			values[i] = now
		case "valid_to":
			values[i] = nil
		case "is_current":
			values[i] = true
		default:
			values[i] = row[c]
		}
	}
	return values
}
