package transform

import (
	"context"
	"fmt"

	"github.com/go-playground/errors/v5"
	"github.com/jackc/pgx/v5"

	"github.com/shopflow/etl/logger"
	"github.com/shopflow/etl/warehouse"
)

// Loader replaces the analytic snapshot tables in the warehouse with the
// outcome of one transform run. Each table is rewritten inside a single
// transaction, so readers never observe a half-built snapshot.
type Loader struct {
	sink   warehouse.Sink
	schema string
}

func NewLoader(sink warehouse.Sink, schema string) *Loader {
	return &Loader{sink: sink, schema: schema}
}

// Load rebuilds the fact and aggregate tables from the given facts.
func (l *Loader) Load(ctx context.Context, facts []Fact) error {
	targets := []warehouse.Relation{
		warehouse.FactTransactionLines(l.schema),
		warehouse.AggCustomerValue(l.schema),
		warehouse.AggRevenue(l.schema),
		warehouse.AggCoPurchases(l.schema),
	}
	for _, rel := range targets {
		if err := l.sink.EnsureRelation(ctx, rel); err != nil {
			return err
		}
	}

	return l.sink.WithinTx(ctx, func(tx pgx.Tx) error {
		if err := l.replace(ctx, tx, targets[0], factRows(facts)); err != nil {
			return err
		}
		if err := l.replace(ctx, tx, targets[1], customerRows(CustomerLifetimeValue(facts))); err != nil {
			return err
		}

		var revenue [][]any
		for _, g := range []Granularity{Daily, Weekly, Monthly} {
			revenue = append(revenue, revenueRows(Revenue(facts, g))...)
		}
		if err := l.replace(ctx, tx, targets[2], revenue); err != nil {
			return err
		}

		return l.replace(ctx, tx, targets[3], pairRows(CoPurchasePairs(facts)))
	})
}

func (l *Loader) replace(ctx context.Context, tx pgx.Tx, rel warehouse.Relation, rows [][]any) error {
	if _, err := tx.Exec(ctx, fmt.Sprintf("TRUNCATE %s", rel.QualifiedName())); err != nil {
		return errors.Wrap(err, "truncate "+rel.Name)
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{rel.Schema, rel.Name}, rel.ColumnNames(), pgx.CopyFromRows(rows))
	if err != nil {
		return errors.Wrap(err, "load "+rel.Name)
	}

	logger.Info("snapshot table rebuilt", "table", rel.Name, "rows", n)
	return nil
}

func factRows(facts []Fact) [][]any {
	rows := make([][]any, len(facts))
	for i, f := range facts {
		rows[i] = []any{
			f.ItemID, f.TransactionID, f.CustomerID, f.ProductID, f.Category,
			f.Quantity, f.UnitPrice, f.LineTotal, f.OccurredAt, f.PaymentMethod,
		}
	}
	return rows
}

func customerRows(values []CustomerValue) [][]any {
	rows := make([][]any, len(values))
	for i, v := range values {
		rows[i] = []any{v.CustomerID, v.Orders, v.Lifetime}
	}
	return rows
}

func revenueRows(buckets []RevenueBucket) [][]any {
	rows := make([][]any, len(buckets))
	for i, b := range buckets {
		rows[i] = []any{string(b.Granularity), b.Period, b.Revenue, b.Transactions}
	}
	return rows
}

func pairRows(pairs []CoPurchase) [][]any {
	rows := make([][]any, len(pairs))
	for i, p := range pairs {
		rows[i] = []any{p.ProductA, p.ProductB, p.Count}
	}
	return rows
}
