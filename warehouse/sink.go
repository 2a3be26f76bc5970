package warehouse

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-playground/errors/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"github.com/shopflow/etl/internal/retry"
	"github.com/shopflow/etl/logger"
)

// Sink is the capability surface the merge engine and the dimension
// manager consume. No business logic lives here; it is the persistence
// boundary.
type Sink interface {
	EnsureSchema(ctx context.Context) error
	EnsureRelation(ctx context.Context, rel Relation) error
	WithinTx(ctx context.Context, fn func(pgx.Tx) error) error
	BulkLoadStaging(ctx context.Context, tx pgx.Tx, table string, columns []string, rows [][]any) (int64, error)
	ReadCurrentSnapshot(ctx context.Context, rel Relation) ([]Row, error)
	AcquireTargetLock(ctx context.Context, rel Relation) error
	ReleaseTargetLock(ctx context.Context, rel Relation) error
	Pool() *pgxpool.Pool
	Close()
}

// Row is a decoded relation row keyed by column name.
type Row map[string]any

type sink struct {
	pool   *pgxpool.Pool
	schema string

	lockMu sync.Mutex
	locks  map[int64]*pgxpool.Conn
}

func NewSink(ctx context.Context, dsn string, schema string) (Sink, error) {
	pool, err := connect(ctx, dsn)
	if err != nil {
		return nil, err
	}

	return &sink{
		pool:   pool,
		schema: schema,
		locks:  make(map[int64]*pgxpool.Conn),
	}, nil
}

func connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	retryConfig := retry.OnTransientConfig[*pgxpool.Pool](5, func(err error) bool { return err != nil })
	pool, err := retryConfig.Do(func() (*pgxpool.Pool, error) {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, err
		}

		if err = pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}

		return pool, nil
	})

	if err != nil {
		return nil, errors.Wrap(err, "warehouse connection")
	}

	return pool, nil
}

func (s *sink) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *sink) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pq.QuoteIdentifier(s.schema)))
	if err != nil {
		return errors.Wrap(err, "create warehouse schema")
	}
	return nil
}

func (s *sink) EnsureRelation(ctx context.Context, rel Relation) error {
	if _, err := s.pool.Exec(ctx, rel.CreateDDL()); err != nil {
		return errors.Wrap(err, "create relation "+rel.Name)
	}
	return nil
}

// WithinTx runs fn inside one transaction; any error rolls the whole unit
// of work back.
func (s *sink) WithinTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			logger.Error("transaction rollback", "error", rbErr)
		}
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit transaction")
	}

	return nil
}

func (s *sink) BulkLoadStaging(ctx context.Context, tx pgx.Tx, table string, columns []string, rows [][]any) (int64, error) {
	n, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, errors.Wrap(err, "bulk load staging")
	}
	return n, nil
}

// ReadCurrentSnapshot returns the relation's rows decoded by column name.
// When the relation declares a CurrentFilter only its open rows are read.
func (s *sink) ReadCurrentSnapshot(ctx context.Context, rel Relation) ([]Row, error) {
	query := fmt.Sprintf("SELECT %s FROM %s", quoteJoin(rel.ColumnNames()), rel.QualifiedName())
	if rel.CurrentFilter != "" {
		query += " WHERE " + rel.CurrentFilter
	}

	pgRows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "read current snapshot "+rel.Name)
	}
	defer pgRows.Close()

	names := rel.ColumnNames()
	var out []Row
	for pgRows.Next() {
		values, err := pgRows.Values()
		if err != nil {
			return nil, errors.Wrap(err, "scan snapshot row")
		}
		row := make(Row, len(names))
		for i, name := range names {
			row[name] = values[i]
		}
		out = append(out, row)
	}

	if err = pgRows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate snapshot rows")
	}

	return out, nil
}

func (s *sink) Close() {
	s.lockMu.Lock()
	for key, conn := range s.locks {
		conn.Release()
		delete(s.locks, key)
	}
	s.lockMu.Unlock()
	s.pool.Close()
}
