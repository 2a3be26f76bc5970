package transform

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Transaction, Item and Product mirror the source relations the way the
// extractor delivers them. The transform step is pure: it joins and
// aggregates in memory, the loader persists the outcome.
type Transaction struct {
	ID            int64
	CustomerID    int64
	OccurredAt    time.Time
	PaymentMethod string
}

type Item struct {
	ID            int64
	TransactionID int64
	ProductID     int64
	Quantity      int64
	UnitPrice     float64
}

type Product struct {
	ID       int64
	Name     string
	Category string
	Supplier string
	Price    float64
}

// Fact is one denormalized transaction line.
type Fact struct {
	ItemID        int64
	TransactionID int64
	CustomerID    int64
	ProductID     int64
	Category      string
	Quantity      int64
	UnitPrice     float64
	LineTotal     float64
	OccurredAt    time.Time
	PaymentMethod string
}

// BuildFacts joins items to their transaction and product. Items whose
// transaction or product is unknown are dropped, matching inner join
// semantics: an orphaned line is a referential problem the quality step
// reports, not something the fact table should carry.
func BuildFacts(transactions []Transaction, items []Item, products []Product) []Fact {
	txByID := make(map[int64]Transaction, len(transactions))
	for _, t := range transactions {
		txByID[t.ID] = t
	}
	productByID := make(map[int64]Product, len(products))
	for _, p := range products {
		productByID[p.ID] = p
	}

	facts := make([]Fact, 0, len(items))
	for _, item := range items {
		tx, haveTx := txByID[item.TransactionID]
		product, haveProduct := productByID[item.ProductID]
		if !haveTx || !haveProduct {
			continue
		}

		facts = append(facts, Fact{
			ItemID:        item.ID,
			TransactionID: item.TransactionID,
			CustomerID:    tx.CustomerID,
			ProductID:     item.ProductID,
			Category:      product.Category,
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			LineTotal:     roundMoney(float64(item.Quantity) * item.UnitPrice),
			OccurredAt:    tx.OccurredAt,
			PaymentMethod: tx.PaymentMethod,
		})
	}

	return facts
}

// CustomerValue is total spend and distinct order count for one customer.
type CustomerValue struct {
	CustomerID int64
	Orders     int64
	Lifetime   float64
}

// CustomerLifetimeValue rolls facts up per customer, ordered by customer id.
func CustomerLifetimeValue(facts []Fact) []CustomerValue {
	totals := map[int64]float64{}
	orders := map[int64]map[int64]struct{}{}

	for _, f := range facts {
		totals[f.CustomerID] += f.LineTotal
		if orders[f.CustomerID] == nil {
			orders[f.CustomerID] = map[int64]struct{}{}
		}
		orders[f.CustomerID][f.TransactionID] = struct{}{}
	}

	out := make([]CustomerValue, 0, len(totals))
	for id, total := range totals {
		out = append(out, CustomerValue{
			CustomerID: id,
			Orders:     int64(len(orders[id])),
			Lifetime:   roundMoney(total),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })

	return out
}

// CoPurchase counts how often an unordered product pair shared a
// transaction.
type CoPurchase struct {
	ProductA int64
	ProductB int64
	Count    int64
}

// CoPurchasePairs emits every unordered pair of distinct products bought
// in the same transaction, most frequent first, pair ids ascending within
// a count.
func CoPurchasePairs(facts []Fact) []CoPurchase {
	perTx := map[int64]map[int64]struct{}{}
	for _, f := range facts {
		if perTx[f.TransactionID] == nil {
			perTx[f.TransactionID] = map[int64]struct{}{}
		}
		perTx[f.TransactionID][f.ProductID] = struct{}{}
	}

	type key struct{ a, b int64 }
	counts := map[key]int64{}
	for _, products := range perTx {
		ids := make([]int64, 0, len(products))
		for id := range products {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				counts[key{ids[i], ids[j]}]++
			}
		}
	}

	out := make([]CoPurchase, 0, len(counts))
	for k, c := range counts {
		out = append(out, CoPurchase{ProductA: k.a, ProductB: k.b, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].ProductA != out[j].ProductA {
			return out[i].ProductA < out[j].ProductA
		}
		return out[i].ProductB < out[j].ProductB
	})

	return out
}

// Granularity names a revenue rollup grain.
type Granularity string

const (
	Daily   Granularity = "daily"
	Weekly  Granularity = "weekly"
	Monthly Granularity = "monthly"
)

// RevenueBucket is revenue and distinct transaction count for one period.
type RevenueBucket struct {
	Granularity  Granularity
	Period       string
	Revenue      float64
	Transactions int64
}

// Revenue rolls facts up into period buckets, ordered by period. Weekly
// periods use the ISO week ("2024-W07"), monthly the calendar month
// ("2024-02"), daily the calendar date.
func Revenue(facts []Fact, granularity Granularity) []RevenueBucket {
	revenue := map[string]float64{}
	txSeen := map[string]map[int64]struct{}{}

	for _, f := range facts {
		period := periodKey(f.OccurredAt, granularity)
		revenue[period] += f.LineTotal
		if txSeen[period] == nil {
			txSeen[period] = map[int64]struct{}{}
		}
		txSeen[period][f.TransactionID] = struct{}{}
	}

	out := make([]RevenueBucket, 0, len(revenue))
	for period, total := range revenue {
		out = append(out, RevenueBucket{
			Granularity:  granularity,
			Period:       period,
			Revenue:      roundMoney(total),
			Transactions: int64(len(txSeen[period])),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })

	return out
}

func periodKey(t time.Time, granularity Granularity) string {
	t = t.UTC()
	switch granularity {
	case Weekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case Monthly:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}

func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
