package warehouse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelationCreateDDL(t *testing.T) {
	t.Run("should render columns primary key and deferrable foreign keys", func(t *testing.T) {
		rel := SourceTransactions("public")

		ddl := rel.CreateDDL()

		assert.Contains(t, ddl, `CREATE TABLE IF NOT EXISTS "public"."transactions"`)
		assert.Contains(t, ddl, `"occurred_at" TIMESTAMPTZ NOT NULL`)
		assert.Contains(t, ddl, `PRIMARY KEY ("id")`)
		assert.Contains(t, ddl, `FOREIGN KEY ("customer_id") REFERENCES "public"."customers" ("id") DEFERRABLE INITIALLY IMMEDIATE`)
	})

	t.Run("should allow nullable columns", func(t *testing.T) {
		ddl := DimProducts("warehouse").CreateDDL()

		assert.Contains(t, ddl, `"valid_to" TIMESTAMPTZ,`)
		assert.NotContains(t, ddl, `"valid_to" TIMESTAMPTZ NOT NULL`)
	})
}

// The relation catalog replaces runtime schema reflection; these checks pin
// the explicit column mapping for every merge and dimension target.
func TestRelationCatalog(t *testing.T) {
	t.Run("fact transactions should mirror the source transaction shape", func(t *testing.T) {
		src := SourceTransactions("public")
		fact := FactTransactions("warehouse")

		assert.Equal(t, src.ColumnNames(), fact.ColumnNames())
		assert.Equal(t, []string{"id"}, fact.MergeKey)
		assert.Equal(t, "version_timestamp", fact.VersionColumn)
		assert.Equal(t, "occurred_at", fact.EventTimeColumn)
	})

	t.Run("dim products should carry the version validity columns", func(t *testing.T) {
		dim := DimProducts("warehouse")

		for _, name := range []string{"valid_from", "valid_to", "is_current"} {
			assert.True(t, dim.HasColumn(name), name)
		}
		assert.Equal(t, []string{"id", "valid_from"}, dim.PrimaryKey)
		assert.Equal(t, "is_current", dim.CurrentFilter)
	})

	t.Run("every versioned relation should include its version column", func(t *testing.T) {
		rels := []Relation{
			SourceCustomers("public"),
			SourceProducts("public"),
			SourceTransactions("public"),
			SourceTransactionItems("public"),
			FactTransactions("warehouse"),
		}

		for _, rel := range rels {
			require.NotEmpty(t, rel.VersionColumn, rel.Name)
			assert.True(t, rel.HasColumn(rel.VersionColumn), rel.Name)
			for _, key := range rel.MergeKey {
				assert.True(t, rel.HasColumn(key), rel.Name)
			}
		}
	})
}

func TestTargetLockKey(t *testing.T) {
	t.Run("should derive distinct keys for distinct targets", func(t *testing.T) {
		a := targetLockKey(FactTransactions("warehouse"))
		b := targetLockKey(DimProducts("warehouse"))

		assert.NotEqual(t, a, b)
	})

	t.Run("should be stable for the same target", func(t *testing.T) {
		assert.Equal(t,
			targetLockKey(FactTransactions("warehouse")),
			targetLockKey(FactTransactions("warehouse")),
		)
	})
}
