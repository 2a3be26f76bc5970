package generate

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/errors/v5"

	"github.com/shopflow/etl/logger"
)

// Options shape one synthetic dataset. The same options always produce
// byte-identical files, so fixtures and integration runs are reproducible.
type Options struct {
	Seed         int64
	Customers    int
	Products     int
	Transactions int
	MaxItems     int
	Start        time.Time
	Days         int
	OutDir       string
}

func DefaultOptions(outDir string) Options {
	return Options{
		Seed:         42,
		Customers:    200,
		Products:     50,
		Transactions: 1000,
		MaxItems:     5,
		Start:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Days:         60,
		OutDir:       outDir,
	}
}

var (
	firstNames = []string{"Kim", "Alex", "Sam", "Maria", "Deniz", "Noa", "Ravi", "Lena", "Tomas", "Aisha"}
	lastNames  = []string{"Silva", "Novak", "Ito", "Haddad", "Berg", "Okafor", "Lam", "Costa", "Weber", "Reyes"}
	districts  = []string{"north", "south", "east", "west", "central"}
	categories = []string{"electronics", "home", "furniture", "grocery", "sports", "books"}
	suppliers  = []string{"acme", "globex", "initech", "umbra", "vandelay"}
	nouns      = []string{"lamp", "desk", "kettle", "chair", "monitor", "blender", "mat", "shelf", "mug", "router"}
	adjectives = []string{"compact", "deluxe", "classic", "smart", "eco", "pro"}
	payments   = []string{"card", "cash", "transfer", "voucher"}
)

// Dataset writes customers, products, transactions and transaction_items
// CSV files under Options.OutDir and returns the written paths.
func Dataset(opts Options) ([]string, error) {
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create output directory")
	}

	rng := rand.New(rand.NewSource(opts.Seed))

	paths := make([]string, 0, 4)
	for _, file := range []struct {
		name  string
		write func(*rand.Rand, *csv.Writer, Options) error
	}{
		{"customers.csv", writeCustomers},
		{"products.csv", writeProducts},
		{"transactions.csv", writeTransactions},
		{"transaction_items.csv", writeItems},
	} {
		path := filepath.Join(opts.OutDir, file.name)
		if err := writeCSV(path, func(w *csv.Writer) error { return file.write(rng, w, opts) }); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}

	logger.Info("synthetic dataset generated",
		"dir", opts.OutDir,
		"customers", opts.Customers,
		"products", opts.Products,
		"transactions", opts.Transactions,
	)

	return paths, nil
}

func writeCSV(path string, fill func(*csv.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create "+filepath.Base(path))
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err = fill(w); err != nil {
		return err
	}
	w.Flush()
	if err = w.Error(); err != nil {
		return errors.Wrap(err, "write "+filepath.Base(path))
	}

	return f.Close()
}

func writeCustomers(rng *rand.Rand, w *csv.Writer, opts Options) error {
	if err := w.Write([]string{"id", "name", "email", "registered_on", "district", "version_timestamp"}); err != nil {
		return err
	}
	for i := 1; i <= opts.Customers; i++ {
		name := pick(rng, firstNames) + " " + pick(rng, lastNames)
		email := fmt.Sprintf("user%d@shopflow.example", i)
		registered := opts.Start.AddDate(0, 0, -rng.Intn(365))
		row := []string{
			strconv.Itoa(i),
			name,
			email,
			registered.Format("2006-01-02"),
			pick(rng, districts),
			stamp(opts.Start),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func writeProducts(rng *rand.Rand, w *csv.Writer, opts Options) error {
	if err := w.Write([]string{"id", "name", "category", "price", "supplier", "version_timestamp"}); err != nil {
		return err
	}
	for i := 1; i <= opts.Products; i++ {
		price := 5 + rng.Float64()*195
		row := []string{
			strconv.Itoa(i),
			pick(rng, adjectives) + " " + pick(rng, nouns),
			pick(rng, categories),
			money(price),
			pick(rng, suppliers),
			stamp(opts.Start),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func writeTransactions(rng *rand.Rand, w *csv.Writer, opts Options) error {
	if err := w.Write([]string{"id", "customer_id", "occurred_at", "payment_method", "version_timestamp"}); err != nil {
		return err
	}
	for i := 1; i <= opts.Transactions; i++ {
		occurred := opts.Start.
			AddDate(0, 0, rng.Intn(opts.Days)).
			Add(time.Duration(rng.Intn(24*3600)) * time.Second)
		row := []string{
			strconv.Itoa(i),
			strconv.Itoa(1 + rng.Intn(opts.Customers)),
			stamp(occurred),
			pick(rng, payments),
			stamp(occurred),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func writeItems(rng *rand.Rand, w *csv.Writer, opts Options) error {
	if err := w.Write([]string{"id", "transaction_id", "product_id", "quantity", "unit_price", "version_timestamp"}); err != nil {
		return err
	}
	itemID := 0
	for txID := 1; txID <= opts.Transactions; txID++ {
		for n := 1 + rng.Intn(opts.MaxItems); n > 0; n-- {
			itemID++
			row := []string{
				strconv.Itoa(itemID),
				strconv.Itoa(txID),
				strconv.Itoa(1 + rng.Intn(opts.Products)),
				strconv.Itoa(1 + rng.Intn(4)),
				money(5 + rng.Float64()*195),
				stamp(opts.Start),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}
	return nil
}

func pick(rng *rand.Rand, list []string) string {
	return list[rng.Intn(len(list))]
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
