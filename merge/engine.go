package merge

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/shopflow/etl/extract"
	"github.com/shopflow/etl/internal/metric"
	"github.com/shopflow/etl/logger"
	"github.com/shopflow/etl/warehouse"
)

// ValidationError means a record in the batch is malformed. The whole
// batch is rejected before any write: silently dropping single rows would
// leave the target quietly diverging from the source.
type ValidationError struct {
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid change record at index %d: %s", e.Index, e.Reason)
}

// TransactionError wraps a storage or transaction failure mid-merge. The
// transaction has been rolled back in full; the next scheduled run retries
// the same window because the watermark was not advanced.
type TransactionError struct {
	Target string
	Err    error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("merge transaction on %s: %v", e.Target, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// Result reports what one merge call did to the target.
type Result struct {
	Staged   int64
	Inserted int64
	Updated  int64
}

// Engine converges a target relation to match a change batch. Delivery
// from the source is at-least-once; the engine makes that safe by being
// idempotent: re-running the same or an overlapping batch re-confirms the
// final state instead of duplicating it.
type Engine struct {
	sink   warehouse.Sink
	target warehouse.Relation
	metric metric.Metric
}

func NewEngine(sink warehouse.Sink, target warehouse.Relation, m metric.Metric) *Engine {
	return &Engine{
		sink:   sink,
		target: target,
		metric: m,
	}
}

// Merge validates, deduplicates and applies a change batch to the target
// in one atomic transaction: stage via bulk copy, upsert with a version
// guard, drop staging. An empty batch is a no-op.
func (e *Engine) Merge(ctx context.Context, batch extract.ChangeBatch) (Result, error) {
	if len(batch) == 0 {
		logger.Info("no incremental records to process", "target", e.target.Name)
		return Result{}, nil
	}

	if err := validate(batch); err != nil {
		return Result{}, err
	}

	deduped := Deduplicate(batch)
	rows, err := stagingRows(e.target, deduped)
	if err != nil {
		return Result{}, err
	}

	started := time.Now()
	result := Result{}

	err = e.sink.WithinTx(ctx, func(tx pgx.Tx) error {
		// Constraint checking moves to commit time so batch ordering never
		// trips a parent/child foreign key mid-transaction. The FKs are
		// declared DEFERRABLE; enforcement still happens before commit
		// returns, so no gap outlives the transaction boundary.
		if _, err := tx.Exec(ctx, "SET CONSTRAINTS ALL DEFERRED"); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, BuildStagingDDL(e.target)); err != nil {
			return err
		}

		staged, err := e.sink.BulkLoadStaging(ctx, tx, StagingTableName(e.target), e.target.ColumnNames(), rows)
		if err != nil {
			return err
		}
		result.Staged = staged

		upserted, err := tx.Query(ctx, BuildUpsertSQL(e.target))
		if err != nil {
			return err
		}
		defer upserted.Close()

		for upserted.Next() {
			var inserted bool
			if err := upserted.Scan(&inserted); err != nil {
				return err
			}
			if inserted {
				result.Inserted++
			} else {
				result.Updated++
			}
		}

		return upserted.Err()
	})
	if err != nil {
		return Result{}, &TransactionError{Target: e.target.Name, Err: err}
	}

	e.metric.StagedOpIncrement(result.Staged)
	e.metric.InsertOpIncrement(result.Inserted)
	e.metric.UpdateOpIncrement(result.Updated)
	e.metric.SetMergeLatency(time.Since(started).Milliseconds())

	logger.Info("incremental upsert completed",
		"target", e.target.Name,
		"staged", result.Staged,
		"inserted", result.Inserted,
		"updated", result.Updated,
	)

	return result, nil
}

// validate rejects the whole batch on the first malformed record: a
// missing business ID or version timestamp makes deduplication meaningless
// and must surface to the operator instead of being skipped.
func validate(batch extract.ChangeBatch) error {
	for i, record := range batch {
		if record.ID == 0 {
			return &ValidationError{Index: i, Reason: "missing business id"}
		}
		if record.VersionTimestamp.IsZero() {
			return &ValidationError{Index: i, Reason: "missing or unparseable version timestamp"}
		}
	}
	return nil
}

// stagingRows projects records onto the target column order for CopyFrom.
func stagingRows(target warehouse.Relation, batch extract.ChangeBatch) ([][]any, error) {
	columns := target.ColumnNames()
	rows := make([][]any, len(batch))

	for i, record := range batch {
		row := make([]any, len(columns))
		for j, name := range columns {
			v, ok := record.Values[name]
			if !ok {
				return nil, &ValidationError{Index: i, Reason: "missing column " + name}
			}
			row[j] = v
		}
		rows[i] = row
	}

	return rows, nil
}
