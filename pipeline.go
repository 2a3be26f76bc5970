package etl

import (
	"context"
	"fmt"

	"github.com/go-playground/errors/v5"
	"github.com/jonboulle/clockwork"

	"github.com/shopflow/etl/checkpoint"
	"github.com/shopflow/etl/config"
	"github.com/shopflow/etl/extract"
	"github.com/shopflow/etl/internal/http"
	"github.com/shopflow/etl/internal/metric"
	"github.com/shopflow/etl/logger"
	"github.com/shopflow/etl/merge"
	"github.com/shopflow/etl/quality"
	"github.com/shopflow/etl/scd"
	"github.com/shopflow/etl/transform"
	"github.com/shopflow/etl/warehouse"
)

// ErrQualityGate means the fetched batch violated a data expectation. The
// merge has already committed (converged state is still correct), but the
// watermark is not advanced so the operator sees the same data again after
// fixing the source.
var ErrQualityGate = errors.New("quality gate failed")

// CycleResult summarizes one incremental cycle.
type CycleResult struct {
	Fetched   int
	Merge     merge.Result
	Watermark checkpoint.Watermark
}

// Pipeline wires extraction, merge, versioning, transforms and quality
// into one process around a shared warehouse connection.
type Pipeline interface {
	RunCycle(ctx context.Context) (CycleResult, error)
	RunDimensions(ctx context.Context) ([]scd.Result, error)
	RunTransform(ctx context.Context) error
	RunQuality(ctx context.Context) (bool, error)
	Close()
}

type pipeline struct {
	cfg        config.Config
	sink       warehouse.Sink
	extractor  *extract.Extractor
	engine     *merge.Engine
	store      checkpoint.Store
	dimensions []*scd.Manager
	loader     *transform.Loader
	metric     metric.Metric
	clock      clockwork.Clock
	server     http.Server

	factTarget  warehouse.Relation
	sourceFacts warehouse.Relation
}

// NewPipeline validates the config, connects to the warehouse and builds
// every processing component. The metrics server starts listening
// immediately.
func NewPipeline(ctx context.Context, cfg config.Config, clock clockwork.Clock) (Pipeline, error) {
	cfg.SetDefault()

	if cfg.Logger.Logger == nil {
		cfg.Logger.Logger = logger.NewSlog(cfg.Logger.LogLevel)
	}
	logger.InitLogger(cfg.Logger.Logger)

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}
	cfg.Print()

	sink, err := warehouse.NewSink(ctx, cfg.DSN(), cfg.Warehouse.Schema)
	if err != nil {
		return nil, err
	}

	store, err := checkpoint.NewFileStore(cfg.Checkpoint.Dir, "fact_transactions")
	if err != nil {
		sink.Close()
		return nil, err
	}

	sourceFacts := warehouse.SourceTransactions(cfg.Source.Schema)
	factTarget := warehouse.FactTransactions(cfg.Warehouse.Schema)

	m := metric.NewMetric(factTarget.Name)
	registry := metric.NewRegistry(m)

	p := &pipeline{
		cfg:         cfg,
		sink:        sink,
		extractor:   extract.New(sink.Pool(), sourceFacts, cfg.Incremental.OverlapWindow(), cfg.Incremental.FetchRetry),
		engine:      merge.NewEngine(sink, factTarget, m),
		store:       store,
		loader:      transform.NewLoader(sink, cfg.Warehouse.Schema),
		metric:      m,
		clock:       clock,
		factTarget:  factTarget,
		sourceFacts: sourceFacts,
	}

	p.dimensions = []*scd.Manager{
		scd.NewManager(sink, scd.Products(cfg.Source.Schema, cfg.Warehouse.Schema), clock, m),
	}

	p.server = http.NewServer(cfg, registry, store)
	go p.server.Listen()

	return p, nil
}

// RunCycle executes one watermark-driven extraction and merge. The
// checkpoint is written only after the merge transaction committed and the
// quality gate passed; any earlier failure leaves it untouched so the next
// run repeats the same window.
func (p *pipeline) RunCycle(ctx context.Context) (CycleResult, error) {
	cycleStart := p.clock.Now()

	if err := p.sink.AcquireTargetLock(ctx, p.factTarget); err != nil {
		return CycleResult{}, err
	}
	defer func() {
		if err := p.sink.ReleaseTargetLock(ctx, p.factTarget); err != nil {
			logger.Error("release target lock", "error", err)
		}
	}()

	since, err := p.store.Load()
	if err != nil {
		return CycleResult{}, err
	}

	batch, err := p.extractor.Fetch(ctx, since)
	if err != nil {
		return CycleResult{}, err
	}

	result := CycleResult{Fetched: len(batch), Watermark: since}
	if len(batch) == 0 {
		logger.Info("no new records, watermark unchanged", "since", since.LastProcessed)
		return result, nil
	}

	result.Merge, err = p.engine.Merge(ctx, batch)
	if err != nil {
		return CycleResult{}, err
	}

	if err = p.gateBatch(batch); err != nil {
		return CycleResult{}, err
	}

	maxEventTime, ok := batch.MaxEventTime()
	if !ok {
		return result, nil
	}

	result.Watermark = since.Advance(maxEventTime)
	if err = p.store.Save(result.Watermark); err != nil {
		return CycleResult{}, err
	}

	p.metric.SetCycleDuration(p.clock.Since(cycleStart).Milliseconds())
	p.metric.SetCheckpointLag(p.clock.Since(result.Watermark.LastProcessed).Seconds())

	logger.Info("cycle completed",
		"fetched", result.Fetched,
		"inserted", result.Merge.Inserted,
		"updated", result.Merge.Updated,
		"watermark", result.Watermark.LastProcessed,
	)

	return result, nil
}

// gateBatch runs the in-flight expectations over the merged batch and
// publishes the markdown report. A failed expectation blocks checkpoint
// advancement.
func (p *pipeline) gateBatch(batch extract.ChangeBatch) error {
	rows := make([]quality.Row, len(batch))
	for i, record := range batch {
		rows[i] = quality.Row(record.Values)
	}

	report := quality.Evaluate(p.sourceFacts.Name, rows, []quality.Expectation{
		quality.NotNull("payment_method"),
		quality.Positive("customer_id"),
		quality.ValidTimestamp("occurred_at"),
	}, p.clock.Now())

	if err := quality.WriteMarkdown(p.cfg.Quality.ReportPath, []quality.Report{report}); err != nil {
		logger.Error("quality report write failed", "error", err)
	}

	if !report.Passed() {
		return errors.Wrap(ErrQualityGate, fmt.Sprintf("%d rows failed expectations", report.FailureCount()))
	}
	return nil
}

// RunDimensions applies every configured Type 2 dimension from a fresh
// source snapshot.
func (p *pipeline) RunDimensions(ctx context.Context) ([]scd.Result, error) {
	results := make([]scd.Result, 0, len(p.dimensions))
	for _, manager := range p.dimensions {
		snapshot, err := p.sink.ReadCurrentSnapshot(ctx, manager.Source())
		if err != nil {
			return results, err
		}

		result, err := manager.Apply(ctx, snapshot)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

// RunTransform rebuilds the analytic snapshot tables from the current
// source state.
func (p *pipeline) RunTransform(ctx context.Context) error {
	transactions, items, products, err := p.readSourceState(ctx)
	if err != nil {
		return err
	}

	facts := transform.BuildFacts(transactions, items, products)
	return p.loader.Load(ctx, facts)
}

// RunQuality runs the full-table expectation suites over the source
// tables and publishes one combined report.
func (p *pipeline) RunQuality(ctx context.Context) (bool, error) {
	suites := []struct {
		rel          warehouse.Relation
		expectations []quality.Expectation
	}{
		{warehouse.SourceCustomers(p.cfg.Source.Schema), []quality.Expectation{
			quality.NotNull("name"),
			quality.NotNull("email"),
			quality.EmailFormat("email"),
		}},
		{warehouse.SourceProducts(p.cfg.Source.Schema), []quality.Expectation{
			quality.NotNull("name"),
			quality.Positive("price"),
		}},
		{warehouse.SourceTransactions(p.cfg.Source.Schema), []quality.Expectation{
			quality.NotNull("payment_method"),
			quality.ValidTimestamp("occurred_at"),
		}},
		{warehouse.SourceTransactionItems(p.cfg.Source.Schema), []quality.Expectation{
			quality.Positive("quantity"),
			quality.Positive("unit_price"),
		}},
	}

	now := p.clock.Now()
	passed := true
	reports := make([]quality.Report, 0, len(suites))
	for _, suite := range suites {
		snapshot, err := p.sink.ReadCurrentSnapshot(ctx, suite.rel)
		if err != nil {
			return false, err
		}

		rows := make([]quality.Row, len(snapshot))
		for i, row := range snapshot {
			rows[i] = quality.Row(row)
		}

		report := quality.Evaluate(suite.rel.Name, rows, suite.expectations, now)
		passed = passed && report.Passed()
		reports = append(reports, report)
	}

	if err := quality.WriteMarkdown(p.cfg.Quality.ReportPath, reports); err != nil {
		return false, err
	}

	logger.Info("quality suites completed", "passed", passed, "report", p.cfg.Quality.ReportPath)
	return passed, nil
}

func (p *pipeline) readSourceState(ctx context.Context) ([]transform.Transaction, []transform.Item, []transform.Product, error) {
	txRows, err := p.sink.ReadCurrentSnapshot(ctx, warehouse.SourceTransactions(p.cfg.Source.Schema))
	if err != nil {
		return nil, nil, nil, err
	}
	itemRows, err := p.sink.ReadCurrentSnapshot(ctx, warehouse.SourceTransactionItems(p.cfg.Source.Schema))
	if err != nil {
		return nil, nil, nil, err
	}
	productRows, err := p.sink.ReadCurrentSnapshot(ctx, warehouse.SourceProducts(p.cfg.Source.Schema))
	if err != nil {
		return nil, nil, nil, err
	}

	transactions := make([]transform.Transaction, len(txRows))
	for i, row := range txRows {
		id, _ := extract.AsInt64(row["id"])
		customerID, _ := extract.AsInt64(row["customer_id"])
		occurredAt, _ := extract.AsTime(row["occurred_at"])
		payment, _ := row["payment_method"].(string)
		transactions[i] = transform.Transaction{
			ID:            id,
			CustomerID:    customerID,
			OccurredAt:    occurredAt,
			PaymentMethod: payment,
		}
	}

	items := make([]transform.Item, len(itemRows))
	for i, row := range itemRows {
		id, _ := extract.AsInt64(row["id"])
		txID, _ := extract.AsInt64(row["transaction_id"])
		productID, _ := extract.AsInt64(row["product_id"])
		quantity, _ := extract.AsInt64(row["quantity"])
		unitPrice, _ := extract.AsFloat64(row["unit_price"])
		items[i] = transform.Item{
			ID:            id,
			TransactionID: txID,
			ProductID:     productID,
			Quantity:      quantity,
			UnitPrice:     unitPrice,
		}
	}

	products := make([]transform.Product, len(productRows))
	for i, row := range productRows {
		id, _ := extract.AsInt64(row["id"])
		name, _ := row["name"].(string)
		category, _ := row["category"].(string)
		supplier, _ := row["supplier"].(string)
		price, _ := extract.AsFloat64(row["price"])
		products[i] = transform.Product{
			ID:       id,
			Name:     name,
			Category: category,
			Supplier: supplier,
			Price:    price,
		}
	}

	return transactions, items, products, nil
}

func (p *pipeline) Close() {
	p.server.Shutdown()
	p.sink.Close()
}
