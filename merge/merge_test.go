package merge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopflow/etl/extract"
	"github.com/shopflow/etl/warehouse"
)

func record(id int64, version time.Time) extract.ChangeRecord {
	return extract.ChangeRecord{
		ID:               id,
		VersionTimestamp: version,
		Values: map[string]any{
			"id":                id,
			"version_timestamp": version,
		},
	}
}

func TestDeduplicate(t *testing.T) {
	base := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("should keep the record with the maximum version per id", func(t *testing.T) {
		batch := extract.ChangeBatch{
			record(1, base),
			record(2, base),
			record(1, base.Add(time.Hour)),
		}

		out := Deduplicate(batch)

		require.Len(t, out, 2)
		assert.Equal(t, base.Add(time.Hour), out[0].VersionTimestamp)
		assert.Equal(t, int64(2), out[1].ID)
	})

	t.Run("should not let an older version overwrite a newer one", func(t *testing.T) {
		batch := extract.ChangeBatch{
			record(7, base.Add(time.Hour)),
			record(7, base),
		}

		out := Deduplicate(batch)

		require.Len(t, out, 1)
		assert.Equal(t, base.Add(time.Hour), out[0].VersionTimestamp)
	})

	t.Run("should resolve version ties in favor of the later record in batch order", func(t *testing.T) {
		first := record(3, base)
		first.Values["note"] = "first"
		second := record(3, base)
		second.Values["note"] = "second"

		out := Deduplicate(extract.ChangeBatch{first, second})

		require.Len(t, out, 1)
		assert.Equal(t, "second", out[0].Values["note"])
	})

	t.Run("should preserve first appearance order of ids", func(t *testing.T) {
		batch := extract.ChangeBatch{
			record(5, base),
			record(9, base),
			record(5, base.Add(time.Minute)),
			record(2, base),
		}

		out := Deduplicate(batch)

		require.Len(t, out, 3)
		assert.Equal(t, int64(5), out[0].ID)
		assert.Equal(t, int64(9), out[1].ID)
		assert.Equal(t, int64(2), out[2].ID)
	})

	t.Run("should converge to identical winners regardless of batch order", func(t *testing.T) {
		forward := extract.ChangeBatch{
			record(1, base),
			record(1, base.Add(time.Hour)),
			record(4, base.Add(2 * time.Hour)),
			record(4, base.Add(time.Hour)),
		}
		reversed := extract.ChangeBatch{forward[3], forward[2], forward[1], forward[0]}

		winners := func(batch extract.ChangeBatch) map[int64]time.Time {
			got := map[int64]time.Time{}
			for _, r := range Deduplicate(batch) {
				got[r.ID] = r.VersionTimestamp
			}
			return got
		}

		assert.Equal(t, winners(forward), winners(reversed))
	})

	t.Run("should pass small batches through untouched", func(t *testing.T) {
		single := extract.ChangeBatch{record(1, base)}
		assert.Equal(t, single, Deduplicate(single))
		assert.Empty(t, Deduplicate(nil))
	})
}

func TestValidate(t *testing.T) {
	base := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("should reject a record without a business id", func(t *testing.T) {
		err := validate(extract.ChangeBatch{record(1, base), record(0, base)})

		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, 1, vErr.Index)
		assert.Contains(t, vErr.Error(), "business id")
	})

	t.Run("should reject a record without a version timestamp", func(t *testing.T) {
		err := validate(extract.ChangeBatch{record(1, time.Time{})})

		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, 0, vErr.Index)
	})

	t.Run("should accept a well formed batch", func(t *testing.T) {
		assert.NoError(t, validate(extract.ChangeBatch{record(1, base), record(2, base)}))
	})
}

func TestMergeRejectsBeforeAnyWrite(t *testing.T) {
	t.Run("should fail the whole batch on validation without touching the sink", func(t *testing.T) {
		engine := NewEngine(nil, warehouse.FactTransactions("warehouse"), nil)

		_, err := engine.Merge(context.Background(), extract.ChangeBatch{record(0, time.Now())})

		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
	})

	t.Run("should treat an empty batch as a no-op", func(t *testing.T) {
		engine := NewEngine(nil, warehouse.FactTransactions("warehouse"), nil)

		result, err := engine.Merge(context.Background(), nil)

		require.NoError(t, err)
		assert.Equal(t, Result{}, result)
	})
}

func TestStagingRows(t *testing.T) {
	t.Run("should project values onto the target column order", func(t *testing.T) {
		target := warehouse.Relation{
			Name: "things",
			Columns: []warehouse.Column{
				{Name: "id", Type: "BIGINT"},
				{Name: "label", Type: "TEXT"},
			},
		}
		batch := extract.ChangeBatch{{
			ID:     1,
			Values: map[string]any{"label": "a", "id": int64(1)},
		}}

		rows, err := stagingRows(target, batch)

		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, []any{int64(1), "a"}, rows[0])
	})

	t.Run("should surface a missing column as a validation error", func(t *testing.T) {
		target := warehouse.Relation{
			Name:    "things",
			Columns: []warehouse.Column{{Name: "id", Type: "BIGINT"}, {Name: "label", Type: "TEXT"}},
		}
		batch := extract.ChangeBatch{{ID: 1, Values: map[string]any{"id": int64(1)}}}

		_, err := stagingRows(target, batch)

		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.Error(), "label")
	})
}

func TestBuildSQL(t *testing.T) {
	target := warehouse.Relation{
		Schema:        "warehouse",
		Name:          "fact_things",
		Columns:       []warehouse.Column{{Name: "id", Type: "BIGINT"}, {Name: "amount", Type: "NUMERIC"}, {Name: "version_timestamp", Type: "TIMESTAMPTZ"}},
		MergeKey:      []string{"id"},
		VersionColumn: "version_timestamp",
	}

	t.Run("should stage into a transaction scoped temp table", func(t *testing.T) {
		ddl := BuildStagingDDL(target)

		assert.Contains(t, ddl, `CREATE TEMP TABLE "staging_fact_things"`)
		assert.Contains(t, ddl, `LIKE "warehouse"."fact_things"`)
		assert.Contains(t, ddl, "ON COMMIT DROP")
	})

	t.Run("should guard updates with last writer wins by version", func(t *testing.T) {
		sql := BuildUpsertSQL(target)

		assert.Contains(t, sql, `ON CONFLICT ("id") DO UPDATE SET`)
		assert.Contains(t, sql, `WHERE tgt."version_timestamp" <= EXCLUDED."version_timestamp"`)
		assert.Contains(t, sql, "RETURNING (xmax = 0) AS inserted")
	})

	t.Run("should not rewrite the merge key on update", func(t *testing.T) {
		sql := BuildUpsertSQL(target)

		assert.NotContains(t, sql, `"id" = EXCLUDED."id"`)
		assert.Contains(t, sql, `"amount" = EXCLUDED."amount"`)
	})
}
