package warehouse

// Build-time relation catalog for the ShopFlow retail dataset. Source
// relations live in the operational schema, targets in the warehouse
// schema. Keeping these as literals (instead of reflecting table structure
// at runtime) makes the column mapping a reviewable, testable artifact.

func SourceCustomers(schema string) Relation {
	return Relation{
		Schema: schema,
		Name:   "customers",
		Columns: []Column{
			{Name: "id", Type: "INT", NotNull: true},
			{Name: "name", Type: "TEXT", NotNull: true},
			{Name: "email", Type: "TEXT", NotNull: true},
			{Name: "registered_on", Type: "DATE", NotNull: true},
			{Name: "district", Type: "TEXT", NotNull: true},
			{Name: "version_timestamp", Type: "TIMESTAMPTZ", NotNull: true},
		},
		PrimaryKey:    []string{"id"},
		MergeKey:      []string{"id"},
		VersionColumn: "version_timestamp",
	}
}

func SourceProducts(schema string) Relation {
	return Relation{
		Schema: schema,
		Name:   "products",
		Columns: []Column{
			{Name: "id", Type: "INT", NotNull: true},
			{Name: "name", Type: "TEXT", NotNull: true},
			{Name: "category", Type: "TEXT", NotNull: true},
			{Name: "price", Type: "NUMERIC(10,2)", NotNull: true},
			{Name: "supplier", Type: "TEXT", NotNull: true},
			{Name: "version_timestamp", Type: "TIMESTAMPTZ", NotNull: true},
		},
		PrimaryKey:    []string{"id"},
		MergeKey:      []string{"id"},
		VersionColumn: "version_timestamp",
	}
}

func SourceTransactions(schema string) Relation {
	return Relation{
		Schema: schema,
		Name:   "transactions",
		Columns: []Column{
			{Name: "id", Type: "INT", NotNull: true},
			{Name: "customer_id", Type: "INT", NotNull: true},
			{Name: "occurred_at", Type: "TIMESTAMPTZ", NotNull: true},
			{Name: "payment_method", Type: "TEXT", NotNull: true},
			{Name: "version_timestamp", Type: "TIMESTAMPTZ", NotNull: true},
		},
		PrimaryKey:      []string{"id"},
		MergeKey:        []string{"id"},
		VersionColumn:   "version_timestamp",
		EventTimeColumn: "occurred_at",
		ForeignKeys: []ForeignKey{
			{Columns: []string{"customer_id"}, RefSchema: schema, RefTable: "customers", RefColumns: []string{"id"}},
		},
	}
}

func SourceTransactionItems(schema string) Relation {
	return Relation{
		Schema: schema,
		Name:   "transaction_items",
		Columns: []Column{
			{Name: "id", Type: "INT", NotNull: true},
			{Name: "transaction_id", Type: "INT", NotNull: true},
			{Name: "product_id", Type: "INT", NotNull: true},
			{Name: "quantity", Type: "INT", NotNull: true},
			{Name: "unit_price", Type: "NUMERIC(10,2)", NotNull: true},
			{Name: "version_timestamp", Type: "TIMESTAMPTZ", NotNull: true},
		},
		PrimaryKey:    []string{"id"},
		MergeKey:      []string{"id"},
		VersionColumn: "version_timestamp",
		ForeignKeys: []ForeignKey{
			{Columns: []string{"transaction_id"}, RefSchema: schema, RefTable: "transactions", RefColumns: []string{"id"}},
			{Columns: []string{"product_id"}, RefSchema: schema, RefTable: "products", RefColumns: []string{"id"}},
		},
	}
}

// FactTransactions is the incremental merge target fed by the extractor.
func FactTransactions(schema string) Relation {
	return Relation{
		Schema: schema,
		Name:   "fact_transactions_incremental",
		Columns: []Column{
			{Name: "id", Type: "INT", NotNull: true},
			{Name: "customer_id", Type: "INT", NotNull: true},
			{Name: "occurred_at", Type: "TIMESTAMPTZ", NotNull: true},
			{Name: "payment_method", Type: "TEXT", NotNull: true},
			{Name: "version_timestamp", Type: "TIMESTAMPTZ", NotNull: true},
		},
		PrimaryKey:      []string{"id"},
		MergeKey:        []string{"id"},
		VersionColumn:   "version_timestamp",
		EventTimeColumn: "occurred_at",
	}
}

// DimProducts is the SCD Type 2 dimension tracking product price history.
func DimProducts(schema string) Relation {
	return Relation{
		Schema: schema,
		Name:   "dim_products",
		Columns: []Column{
			{Name: "id", Type: "INT", NotNull: true},
			{Name: "name", Type: "TEXT", NotNull: true},
			{Name: "category", Type: "TEXT", NotNull: true},
			{Name: "supplier", Type: "TEXT", NotNull: true},
			{Name: "price", Type: "NUMERIC(10,2)", NotNull: true},
			{Name: "valid_from", Type: "TIMESTAMPTZ", NotNull: true},
			{Name: "valid_to", Type: "TIMESTAMPTZ"},
			{Name: "is_current", Type: "BOOLEAN", NotNull: true},
		},
		PrimaryKey:    []string{"id", "valid_from"},
		CurrentFilter: "is_current",
	}
}

// FactTransactionLines is the denormalized line-level fact rebuilt by the
// transform step from items joined to their transaction and product.
func FactTransactionLines(schema string) Relation {
	return Relation{
		Schema: schema,
		Name:   "fact_transaction_lines",
		Columns: []Column{
			{Name: "item_id", Type: "INT", NotNull: true},
			{Name: "transaction_id", Type: "INT", NotNull: true},
			{Name: "customer_id", Type: "INT", NotNull: true},
			{Name: "product_id", Type: "INT", NotNull: true},
			{Name: "category", Type: "TEXT", NotNull: true},
			{Name: "quantity", Type: "INT", NotNull: true},
			{Name: "unit_price", Type: "NUMERIC(10,2)", NotNull: true},
			{Name: "line_total", Type: "NUMERIC(12,2)", NotNull: true},
			{Name: "occurred_at", Type: "TIMESTAMPTZ", NotNull: true},
			{Name: "payment_method", Type: "TEXT", NotNull: true},
		},
		PrimaryKey: []string{"item_id"},
	}
}

// AggCustomerValue holds lifetime value and order count per customer.
func AggCustomerValue(schema string) Relation {
	return Relation{
		Schema: schema,
		Name:   "agg_customer_value",
		Columns: []Column{
			{Name: "customer_id", Type: "INT", NotNull: true},
			{Name: "orders", Type: "INT", NotNull: true},
			{Name: "lifetime_value", Type: "NUMERIC(14,2)", NotNull: true},
		},
		PrimaryKey: []string{"customer_id"},
	}
}

// AggRevenue holds revenue rollups at daily, weekly and monthly grain.
func AggRevenue(schema string) Relation {
	return Relation{
		Schema: schema,
		Name:   "agg_revenue",
		Columns: []Column{
			{Name: "granularity", Type: "TEXT", NotNull: true},
			{Name: "period", Type: "TEXT", NotNull: true},
			{Name: "revenue", Type: "NUMERIC(14,2)", NotNull: true},
			{Name: "transactions", Type: "INT", NotNull: true},
		},
		PrimaryKey: []string{"granularity", "period"},
	}
}

// AggCoPurchases counts how often two products appear in one transaction.
func AggCoPurchases(schema string) Relation {
	return Relation{
		Schema: schema,
		Name:   "agg_co_purchases",
		Columns: []Column{
			{Name: "product_a", Type: "INT", NotNull: true},
			{Name: "product_b", Type: "INT", NotNull: true},
			{Name: "pair_count", Type: "INT", NotNull: true},
		},
		PrimaryKey: []string{"product_a", "product_b"},
	}
}

// AuditLoads records one ledger row per bulk CSV load.
func AuditLoads(schema string) Relation {
	return Relation{
		Schema: schema,
		Name:   "audit_loads",
		Columns: []Column{
			{Name: "id", Type: "BIGSERIAL", NotNull: true},
			{Name: "table_name", Type: "TEXT", NotNull: true},
			{Name: "file_name", Type: "TEXT", NotNull: true},
			{Name: "started_at", Type: "TIMESTAMPTZ", NotNull: true},
			{Name: "finished_at", Type: "TIMESTAMPTZ", NotNull: true},
			{Name: "rows_loaded", Type: "INT", NotNull: true},
			{Name: "success", Type: "BOOLEAN", NotNull: true},
			{Name: "error", Type: "TEXT"},
		},
		PrimaryKey: []string{"id"},
	}
}
