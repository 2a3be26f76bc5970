package warehouse

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Column describes one attribute of a relation.
type Column struct {
	Name    string
	Type    string
	NotNull bool
}

// ForeignKey declares a reference to another relation. Constraints are
// created DEFERRABLE so the merge engine can defer checking to commit time
// when a batch arrives in arbitrary parent/child order.
type ForeignKey struct {
	Columns    []string
	RefSchema  string
	RefTable   string
	RefColumns []string
}

// Relation is an explicit, versioned schema description for a source,
// merge or dimension target. Everything here is known at build time;
// nothing is reflected from a live connection. The column mapping is
// checked in tests.
type Relation struct {
	Schema     string
	Name       string
	Columns    []Column
	PrimaryKey []string

	// MergeKey is the conflict target for upserts. It may differ from the
	// primary key when the target is keyed by a unique business attribute.
	MergeKey []string

	// VersionColumn guards updates: a staged row only overwrites the target
	// when its version is at least the stored one (last writer wins by
	// version, not arrival).
	VersionColumn string

	// EventTimeColumn orders incremental extraction windows on source
	// relations.
	EventTimeColumn string

	// CurrentFilter is an optional predicate selecting the open rows of a
	// versioned dimension (e.g. "is_current").
	CurrentFilter string

	ForeignKeys []ForeignKey
}

func (r Relation) QualifiedName() string {
	return pq.QuoteIdentifier(r.Schema) + "." + pq.QuoteIdentifier(r.Name)
}

func (r Relation) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

func (r Relation) HasColumn(name string) bool {
	for _, c := range r.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// CreateDDL renders a create-if-absent statement for the relation.
func (r Relation) CreateDDL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", r.QualifiedName())

	for i, c := range r.Columns {
		fmt.Fprintf(&b, "\t%s %s", pq.QuoteIdentifier(c.Name), c.Type)
		if c.NotNull {
			b.WriteString(" NOT NULL")
		}
		if i < len(r.Columns)-1 || len(r.PrimaryKey) > 0 || len(r.ForeignKeys) > 0 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}

	if len(r.PrimaryKey) > 0 {
		fmt.Fprintf(&b, "\tPRIMARY KEY (%s)", quoteJoin(r.PrimaryKey))
		if len(r.ForeignKeys) > 0 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}

	for i, fk := range r.ForeignKeys {
		fmt.Fprintf(&b, "\tFOREIGN KEY (%s) REFERENCES %s.%s (%s) DEFERRABLE INITIALLY IMMEDIATE",
			quoteJoin(fk.Columns),
			pq.QuoteIdentifier(fk.RefSchema),
			pq.QuoteIdentifier(fk.RefTable),
			quoteJoin(fk.RefColumns),
		)
		if i < len(r.ForeignKeys)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}

	b.WriteString(")")
	return b.String()
}

func quoteJoin(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = pq.QuoteIdentifier(n)
	}
	return strings.Join(quoted, ", ")
}
