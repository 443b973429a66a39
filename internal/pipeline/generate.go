package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/ecompipe/internal/config"
	"github.com/JonMunkholm/ecompipe/internal/core"
)

// MetadataFile is written next to the generated CSVs.
const MetadataFile = "generation_metadata.json"

var (
	firstNames = []string{"James", "Mary", "Robert", "Patricia", "John", "Jennifer", "Michael", "Linda",
		"David", "Elizabeth", "William", "Barbara", "Richard", "Susan", "Joseph", "Jessica", "Priya", "Arjun",
		"Wei", "Sofia"}
	lastNames = []string{"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller", "Davis",
		"Rodriguez", "Martinez", "Hernandez", "Lopez", "Wilson", "Anderson", "Thomas", "Taylor", "Patel",
		"Sharma", "Chen", "Nguyen"}
	places = []struct{ city, state, country string }{
		{"New York", "NY", "USA"},
		{"Los Angeles", "CA", "USA"},
		{"Chicago", "IL", "USA"},
		{"Houston", "TX", "USA"},
		{"Phoenix", "AZ", "USA"},
		{"Seattle", "WA", "USA"},
		{"Toronto", "ON", "Canada"},
		{"Vancouver", "BC", "Canada"},
		{"Mumbai", "MH", "India"},
		{"Bengaluru", "KA", "India"},
	}
	streets    = []string{"Main St", "Oak Ave", "Pine Rd", "Maple Dr", "Cedar Ln", "Elm St", "Lake View", "Hill Rd"}
	ageGroups  = []string{"18-25", "26-35", "36-45", "46-60", "60+"}
	categories = []string{"Electronics", "Clothing", "Home & Kitchen", "Books", "Sports", "Beauty"}
	brands     = []string{"Acme", "Globex", "Initech", "Umbrella", "Stark", "Wayne", "Hooli", "Vandelay"}
	discounts  = []int64{0, 5, 10, 15, 20}
)

// GenerationMetadata describes one generated fixture set.
type GenerationMetadata struct {
	GeneratedAt          time.Time            `json:"generated_at"`
	Seed                 int64                `json:"seed"`
	Counts               map[string]int       `json:"record_counts"`
	TransactionDateMin   string               `json:"transaction_date_min"`
	TransactionDateMax   string               `json:"transaction_date_max"`
	ReferentialIntegrity ReferentialIntegrity `json:"referential_integrity"`
}

// ReferentialIntegrity counts orphans in a generated set.
type ReferentialIntegrity struct {
	OrphanTransactionCustomers int `json:"orphan_transactions_customers"`
	OrphanItemTransactions     int `json:"orphan_items_transactions"`
	OrphanItemProducts         int `json:"orphan_items_products"`
	TotalViolations            int `json:"total_violations"`
}

// Generate writes a synthetic, referentially intact set of the four entity
// CSVs plus MetadataFile into dir. The output depends only on cfg and asOf:
// registrations fall in the two years and transactions in the year before
// asOf.
func Generate(dir string, cfg config.GenerateConfig, asOf time.Time) (*GenerationMetadata, error) {
	if cfg.Customers < 1 || cfg.Products < 1 || cfg.Transactions < 0 {
		return nil, core.Configuration("pipeline.generate",
			fmt.Errorf("invalid fixture size: customers=%d products=%d transactions=%d",
				cfg.Customers, cfg.Products, cfg.Transactions))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create raw dir: %w", err)
	}

	g := &generator{
		rnd:  rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(cfg.Seed)^0x9e3779b97f4a7c15)),
		asOf: core.Day(asOf),
	}

	customers := g.customers(cfg.Customers)
	products, prices := g.products(cfg.Products)
	txns, items, dateMin, dateMax := g.transactions(cfg.Transactions, cfg.Customers, cfg.Products, prices)

	sets := []struct {
		entity string
		rows   [][]string
	}{
		{core.EntityCustomers, customers},
		{core.EntityProducts, products},
		{core.EntityTransactions, txns},
		{core.EntityTransactionItems, items},
	}

	meta := &GenerationMetadata{
		GeneratedAt: time.Now().UTC(),
		Seed:        cfg.Seed,
		Counts:      make(map[string]int, len(sets)),
	}
	for _, s := range sets {
		def := core.MustGet(s.entity)
		if err := writeCSV(filepath.Join(dir, def.FileName), def.Columns(), s.rows); err != nil {
			return nil, err
		}
		meta.Counts[s.entity] = len(s.rows)
	}
	if len(txns) > 0 {
		meta.TransactionDateMin = dateMin.Format(core.DateLayout)
		meta.TransactionDateMax = dateMax.Format(core.DateLayout)
	}
	meta.ReferentialIntegrity = checkGenerated(customers, products, txns, items)

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal generation metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetadataFile), data, 0o644); err != nil {
		return nil, fmt.Errorf("write generation metadata: %w", err)
	}
	return meta, nil
}

type generator struct {
	rnd  *rand.Rand
	asOf time.Time
}

func pick[T any](g *generator, xs []T) T { return xs[g.rnd.IntN(len(xs))] }

// daysBack returns a day within the n days up to and including asOf.
func (g *generator) daysBack(n int) time.Time {
	return g.asOf.AddDate(0, 0, -g.rnd.IntN(n+1))
}

func (g *generator) money(lo, hi float64) decimal.Decimal {
	return decimal.NewFromFloat(lo + g.rnd.Float64()*(hi-lo)).Round(2)
}

func (g *generator) customers(n int) [][]string {
	rows := make([][]string, 0, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("CUST%06d", i)
		place := pick(g, places)
		rows = append(rows, []string{
			id,
			pick(g, firstNames),
			pick(g, lastNames),
			strings.ToLower(id) + "@example.com",
			fmt.Sprintf("%03d%03d%04d", 200+g.rnd.IntN(800), g.rnd.IntN(1000), g.rnd.IntN(10000)),
			g.daysBack(730).Format(core.DateLayout),
			place.city,
			place.state,
			place.country,
			pick(g, ageGroups),
		})
	}
	return rows
}

func (g *generator) products(n int) ([][]string, []decimal.Decimal) {
	rows := make([][]string, 0, n)
	prices := make([]decimal.Decimal, 0, n)
	for i := 1; i <= n; i++ {
		category := pick(g, categories)
		price := g.money(10, 500)
		cost := price.Mul(decimal.NewFromFloat(0.4 + g.rnd.Float64()*0.4)).Round(2)
		prices = append(prices, price)
		rows = append(rows, []string{
			fmt.Sprintf("PROD%06d", i),
			fmt.Sprintf("%s Product %d", category, i),
			category,
			core.GeneralSubCat,
			price.StringFixed(2),
			cost.StringFixed(2),
			pick(g, brands),
			strconv.Itoa(g.rnd.IntN(1001)),
			fmt.Sprintf("SUP%04d", 1+g.rnd.IntN(50)),
		})
	}
	return rows, prices
}

func (g *generator) transactions(n, customers, products int, prices []decimal.Decimal) (txns, items [][]string, dateMin, dateMax time.Time) {
	txns = make([][]string, 0, n)
	items = make([][]string, 0, n*3)
	itemSeq := 0
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("TXN%07d", i)
		date := g.daysBack(365)
		if i == 1 || date.Before(dateMin) {
			dateMin = date
		}
		if i == 1 || date.After(dateMax) {
			dateMax = date
		}

		total := decimal.Zero
		for range 1 + g.rnd.IntN(5) {
			itemSeq++
			p := g.rnd.IntN(products)
			qty := 1 + g.rnd.IntN(5)
			discount := decimal.NewFromInt(pick(g, discounts))
			line := core.LineTotal(qty, prices[p], discount)
			total = total.Add(line)
			items = append(items, []string{
				fmt.Sprintf("ITEM%07d", itemSeq),
				id,
				fmt.Sprintf("PROD%06d", p+1),
				strconv.Itoa(qty),
				prices[p].StringFixed(2),
				discount.String(),
				line.StringFixed(2),
			})
		}

		txns = append(txns, []string{
			id,
			fmt.Sprintf("CUST%06d", 1+g.rnd.IntN(customers)),
			date.Format(core.DateLayout),
			fmt.Sprintf("%02d:%02d:%02d", g.rnd.IntN(24), g.rnd.IntN(60), g.rnd.IntN(60)),
			pick(g, core.PaymentMethods),
			fmt.Sprintf("%d %s, %s", 1+g.rnd.IntN(9999), pick(g, streets), pick(g, places).city),
			total.StringFixed(2),
		})
	}
	return txns, items, dateMin, dateMax
}

// checkGenerated counts orphans by column position: transactions carry
// customer_id second, items carry transaction_id second and product_id third.
func checkGenerated(customers, products, txns, items [][]string) ReferentialIntegrity {
	ids := func(rows [][]string) map[string]bool {
		set := make(map[string]bool, len(rows))
		for _, r := range rows {
			set[r[0]] = true
		}
		return set
	}
	custIDs, prodIDs, txnIDs := ids(customers), ids(products), ids(txns)

	var ri ReferentialIntegrity
	for _, t := range txns {
		if !custIDs[t[1]] {
			ri.OrphanTransactionCustomers++
		}
	}
	for _, it := range items {
		if !txnIDs[it[1]] {
			ri.OrphanItemTransactions++
		}
		if !prodIDs[it[2]] {
			ri.OrphanItemProducts++
		}
	}
	ri.TotalViolations = ri.OrphanTransactionCustomers + ri.OrphanItemTransactions + ri.OrphanItemProducts
	return ri
}

func writeCSV(path string, header []string, rows [][]string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close %s: %w", filepath.Base(path), cerr)
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
