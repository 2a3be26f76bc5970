package integration

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	etl "github.com/shopflow/etl"
	"github.com/shopflow/etl/config"
	"github.com/shopflow/etl/migrate"
)

// The suite needs a disposable Postgres. Point it at one with:
//
//	SHOPFLOW_INTEGRATION=1 SHOPFLOW_TEST_HOST=localhost SHOPFLOW_TEST_PASSWORD=postgres go test ./integration_test/...
func testConfig(t *testing.T) config.Config {
	t.Helper()
	if os.Getenv("SHOPFLOW_INTEGRATION") == "" {
		t.Skip("set SHOPFLOW_INTEGRATION=1 to run integration tests")
	}

	port := 5432
	if v := os.Getenv("SHOPFLOW_TEST_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		require.NoError(t, err)
		port = p
	}

	cfg := config.Config{
		Host:     envOr("SHOPFLOW_TEST_HOST", "localhost"),
		Port:     port,
		Username: envOr("SHOPFLOW_TEST_USER", "postgres"),
		Password: envOr("SHOPFLOW_TEST_PASSWORD", "postgres"),
		Database: envOr("SHOPFLOW_TEST_DB", "shopflow_test"),
	}
	cfg.Checkpoint.Dir = t.TempDir()
	cfg.Quality.ReportPath = t.TempDir() + "/quality_report.md"
	cfg.Metric.Port = 0
	cfg.SetDefault()
	if cfg.Metric.Port == 8080 {
		cfg.Metric.Port = 18080
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func connect(t *testing.T, cfg config.Config) *pgx.Conn {
	t.Helper()
	conn, err := pgx.Connect(context.Background(), cfg.DSN())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(context.Background()) })
	return conn
}

func seedTransaction(t *testing.T, conn *pgx.Conn, id, customerID int, occurred, version time.Time) {
	t.Helper()
	_, err := conn.Exec(context.Background(), `
		INSERT INTO transactions (id, customer_id, occurred_at, payment_method, version_timestamp)
		VALUES ($1, $2, $3, 'card', $4)
		ON CONFLICT (id) DO UPDATE SET occurred_at = EXCLUDED.occurred_at, version_timestamp = EXCLUDED.version_timestamp`,
		id, customerID, occurred, version)
	require.NoError(t, err)
}

func TestIncrementalCycle(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	require.NoError(t, migrate.Up(ctx, cfg.DSN()))

	conn := connect(t, cfg)
	_, err := conn.Exec(ctx, "TRUNCATE transaction_items, transactions, customers CASCADE")
	require.NoError(t, err)
	_, err = conn.Exec(ctx, "TRUNCATE warehouse.fact_transactions_incremental")
	require.NoError(t, err)

	_, err = conn.Exec(ctx, `
		INSERT INTO customers (id, name, email, registered_on, district, version_timestamp)
		VALUES (1, 'Kim Silva', 'kim@example.com', '2023-11-02', 'north', now())`)
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Second).Add(-2 * time.Hour)
	seedTransaction(t, conn, 1, 1, base, base)
	seedTransaction(t, conn, 2, 1, base.Add(time.Minute), base.Add(time.Minute))

	p, err := etl.NewPipeline(ctx, cfg, clockwork.NewRealClock())
	require.NoError(t, err)
	defer p.Close()

	factCount := func() int {
		var n int
		require.NoError(t, conn.QueryRow(ctx, "SELECT count(*) FROM warehouse.fact_transactions_incremental").Scan(&n))
		return n
	}

	t.Run("should merge new records and advance the watermark", func(t *testing.T) {
		result, err := p.RunCycle(ctx)

		require.NoError(t, err)
		assert.Equal(t, 2, result.Fetched)
		assert.Equal(t, int64(2), result.Merge.Inserted)
		assert.Equal(t, 2, factCount())
		assert.Equal(t, base.Add(time.Minute), result.Watermark.LastProcessed.UTC())
	})

	t.Run("should be idempotent across re-execution of the same window", func(t *testing.T) {
		result, err := p.RunCycle(ctx)

		require.NoError(t, err)
		assert.Equal(t, int64(0), result.Merge.Inserted)
		assert.Equal(t, 2, factCount())
	})

	t.Run("should pick up late records inside the overlap window", func(t *testing.T) {
		// An event older than the watermark but within the overlap window.
		seedTransaction(t, conn, 3, 1, base.Add(-time.Hour), time.Now().UTC())

		result, err := p.RunCycle(ctx)

		require.NoError(t, err)
		assert.Equal(t, 3, factCount())
		assert.Equal(t, base.Add(time.Minute), result.Watermark.LastProcessed.UTC())
	})

	t.Run("should keep the highest version on conflicting updates", func(t *testing.T) {
		newer := time.Now().UTC()
		_, err := conn.Exec(ctx, `
			UPDATE transactions SET payment_method = 'cash', version_timestamp = $1 WHERE id = 1`, newer)
		require.NoError(t, err)

		_, err = p.RunCycle(ctx)
		require.NoError(t, err)

		var method string
		require.NoError(t, conn.QueryRow(ctx,
			"SELECT payment_method FROM warehouse.fact_transactions_incremental WHERE id = 1").Scan(&method))
		assert.Equal(t, "cash", method)
	})
}

func TestDimensionVersions(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	require.NoError(t, migrate.Up(ctx, cfg.DSN()))

	conn := connect(t, cfg)
	_, err := conn.Exec(ctx, "TRUNCATE transaction_items CASCADE")
	require.NoError(t, err)
	_, err = conn.Exec(ctx, "TRUNCATE products CASCADE")
	require.NoError(t, err)
	_, err = conn.Exec(ctx, "TRUNCATE warehouse.dim_products")
	require.NoError(t, err)

	_, err = conn.Exec(ctx, `
		INSERT INTO products (id, name, category, price, supplier, version_timestamp)
		VALUES (1, 'lamp', 'home', 19.90, 'acme', now())`)
	require.NoError(t, err)

	p, err := etl.NewPipeline(ctx, cfg, clockwork.NewRealClock())
	require.NoError(t, err)
	defer p.Close()

	currentCount := func(id int) int {
		var n int
		require.NoError(t, conn.QueryRow(ctx,
			"SELECT count(*) FROM warehouse.dim_products WHERE id = $1 AND is_current", id).Scan(&n))
		return n
	}

	t.Run("should bootstrap one open version per product", func(t *testing.T) {
		results, err := p.RunDimensions(ctx)

		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, int64(1), results[0].Opened)
		assert.Equal(t, 1, currentCount(1))
	})

	t.Run("should close and reopen on a price change keeping one current row", func(t *testing.T) {
		_, err := conn.Exec(ctx, "UPDATE products SET price = 24.90, version_timestamp = now() WHERE id = 1")
		require.NoError(t, err)

		results, err := p.RunDimensions(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), results[0].Opened)
		assert.Equal(t, int64(1), results[0].Closed)
		assert.Equal(t, 1, currentCount(1))

		var total int
		require.NoError(t, conn.QueryRow(ctx,
			"SELECT count(*) FROM warehouse.dim_products WHERE id = 1").Scan(&total))
		assert.Equal(t, 2, total)
	})

	t.Run("should be a no-op when reapplied unchanged", func(t *testing.T) {
		results, err := p.RunDimensions(ctx)

		require.NoError(t, err)
		assert.Zero(t, results[0].Opened)
		assert.Zero(t, results[0].Closed)
		assert.Equal(t, 1, currentCount(1))
	})
}
