package merge

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/shopflow/etl/warehouse"
)

// StagingTableName returns the session-scoped temp table used to stage one
// merge call. Temp tables live in pg_temp, so the name is unqualified.
func StagingTableName(target warehouse.Relation) string {
	return "staging_" + target.Name
}

// BuildStagingDDL renders the transient staging structure. ON COMMIT DROP
// discards it whether the surrounding transaction commits or rolls back.
func BuildStagingDDL(target warehouse.Relation) string {
	return fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pq.QuoteIdentifier(StagingTableName(target)),
		target.QualifiedName(),
	)
}

// BuildUpsertSQL renders the idempotent insert-or-update from staging into
// the target. The DO UPDATE guard applies last-writer-wins by version: a
// staged row only overwrites when its version timestamp is at least the
// stored one, so replaying an old batch can never regress target state.
// RETURNING xmax = 0 distinguishes fresh inserts from updates.
func BuildUpsertSQL(target warehouse.Relation) string {
	columns := target.ColumnNames()

	var setClauses []string
	for _, c := range columns {
		if contains(target.MergeKey, c) {
			continue
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", pq.QuoteIdentifier(c), pq.QuoteIdentifier(c)))
	}

	return fmt.Sprintf(
		"INSERT INTO %s AS tgt (%s)\nSELECT %s FROM %s\nON CONFLICT (%s) DO UPDATE SET %s\nWHERE tgt.%s <= EXCLUDED.%s\nRETURNING (xmax = 0) AS inserted",
		target.QualifiedName(),
		quotedList(columns),
		quotedList(columns),
		pq.QuoteIdentifier(StagingTableName(target)),
		quotedList(target.MergeKey),
		strings.Join(setClauses, ", "),
		pq.QuoteIdentifier(target.VersionColumn),
		pq.QuoteIdentifier(target.VersionColumn),
	)
}

func quotedList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = pq.QuoteIdentifier(n)
	}
	return strings.Join(quoted, ", ")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
