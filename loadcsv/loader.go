package loadcsv

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/errors/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"

	"github.com/shopflow/etl/logger"
	"github.com/shopflow/etl/merge"
	"github.com/shopflow/etl/warehouse"
)

// Result reports one file load.
type Result struct {
	File   string
	Table  string
	Loaded int64
}

// Loader moves raw CSV exports into the operational source tables through
// the same staged upsert the merge engine uses, so re-loading a file is
// harmless. Every attempt leaves a row in the audit ledger.
type Loader struct {
	sink         warehouse.Sink
	sourceSchema string
	clock        clockwork.Clock
}

func NewLoader(sink warehouse.Sink, sourceSchema string, clock clockwork.Clock) *Loader {
	return &Loader{
		sink:         sink,
		sourceSchema: sourceSchema,
		clock:        clock,
	}
}

// sourceOrder lists the source relations in parent-before-child order.
func sourceOrder(schema string) []warehouse.Relation {
	return []warehouse.Relation{
		warehouse.SourceCustomers(schema),
		warehouse.SourceProducts(schema),
		warehouse.SourceTransactions(schema),
		warehouse.SourceTransactionItems(schema),
	}
}

// LoadDir loads every expected CSV found in dir, parents first. Missing
// files are skipped.
func (l *Loader) LoadDir(ctx context.Context, dir string) ([]Result, error) {
	var results []Result
	for _, rel := range sourceOrder(l.sourceSchema) {
		path := filepath.Join(dir, rel.Name+".csv")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			logger.Warn("source file missing, skipping", "path", path)
			continue
		}

		result, err := l.LoadFile(ctx, path, rel)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

// LoadFile parses one CSV and upserts it into its source relation in a
// single transaction.
func (l *Loader) LoadFile(ctx context.Context, path string, rel warehouse.Relation) (Result, error) {
	started := l.clock.Now().UTC()

	rows, err := l.parseFile(path, rel)
	if err != nil {
		l.audit(ctx, rel, path, started, 0, err)
		return Result{}, err
	}

	var loaded int64
	err = l.sink.WithinTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SET CONSTRAINTS ALL DEFERRED"); err != nil {
			return errors.Wrap(err, "defer constraints")
		}
		if _, err := tx.Exec(ctx, merge.BuildStagingDDL(rel)); err != nil {
			return errors.Wrap(err, "create staging table")
		}
		if _, err := l.sink.BulkLoadStaging(ctx, tx, merge.StagingTableName(rel), rel.ColumnNames(), rows); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, merge.BuildUpsertSQL(rel))
		if err != nil {
			return errors.Wrap(err, "upsert "+rel.Name)
		}
		loaded = tag.RowsAffected()
		return nil
	})

	l.audit(ctx, rel, path, started, loaded, err)
	if err != nil {
		return Result{}, err
	}

	logger.Info("source file loaded", "table", rel.Name, "file", filepath.Base(path), "rows", loaded)
	return Result{File: path, Table: rel.Name, Loaded: loaded}, nil
}

func (l *Loader) parseFile(path string, rel warehouse.Relation) ([][]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open "+path)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	if err = checkHeader(rel, header); err != nil {
		return nil, errors.Wrap(err, "check header")
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "read records")
	}

	rows := make([][]any, len(records))
	for i, record := range records {
		row, err := parseRow(rel, record)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("record %d", i+1))
		}
		rows[i] = row
	}

	return rows, nil
}

// audit writes one ledger row per load attempt, success or not. Ledger
// failures are logged and swallowed: losing an audit row must not fail a
// load that already committed.
func (l *Loader) audit(ctx context.Context, rel warehouse.Relation, path string, started time.Time, loaded int64, loadErr error) {
	ledger := warehouse.AuditLoads(l.sourceSchema)

	var errText any
	if loadErr != nil {
		errText = loadErr.Error()
	}

	sql := fmt.Sprintf(
		"INSERT INTO %s (table_name, file_name, started_at, finished_at, rows_loaded, success, error) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		ledger.QualifiedName(),
	)
	_, err := l.sink.Pool().Exec(ctx, sql,
		rel.Name, filepath.Base(path), started, l.clock.Now().UTC(), loaded, loadErr == nil, errText)
	if err != nil {
		logger.Error("audit ledger write failed", "table", rel.Name, "error", err)
	}
}
