package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flooringops/opsdesk/internal/app"
	"github.com/flooringops/opsdesk/internal/inventory"
	"github.com/flooringops/opsdesk/internal/platform/db"
	"github.com/flooringops/opsdesk/internal/sales"
	"github.com/flooringops/opsdesk/internal/shared"
)

var seedActor = shared.Actor{ID: "seed", Email: "seed@opsdesk.local", Role: shared.RoleAdmin}

func main() {
	if app.InTestMode() {
		return
	}
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if len(os.Args) > 1 && os.Args[1] == "-schema" {
		fmt.Println("→ Applying schema...")
		if err := applySchema(ctx, pool, "migrations/0001_init.sql"); err != nil {
			log.Fatalf("apply schema: %v", err)
		}
	}

	audit := shared.NewAuditLogger(pool)
	inv := inventory.NewService(inventory.NewRepository(pool), inventory.ServiceConfig{Audit: audit})
	svc := sales.NewService(sales.NewRepository(pool), sales.Dependencies{Audit: audit}, sales.ServiceConfig{})

	fmt.Println("→ Seeding inventory...")
	items, err := seedInventory(ctx, inv)
	if err != nil {
		log.Fatalf("seed inventory: %v", err)
	}

	fmt.Println("→ Seeding sales...")
	if err := seedSales(ctx, svc, items); err != nil {
		log.Fatalf("seed sales: %v", err)
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func applySchema(ctx context.Context, pool *pgxpool.Pool, path string) error {
	sql, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, string(sql))
	return err
}

func f(v float64) *float64 { return &v }
func s(v string) *string   { return &v }

func seedInventory(ctx context.Context, inv *inventory.Service) (map[string]*inventory.Item, error) {
	categories := map[string]int64{}
	for _, name := range []string{"Carpet", "Vinyl", "Timber", "Accessories"} {
		cat, err := inv.CreateCategory(ctx, inventory.CreateCategoryRequest{Name: name})
		if errors.Is(err, inventory.ErrDuplicateCategory) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", name, err)
		}
		categories[name] = cat.ID
	}

	catalog := []struct {
		category string
		name     string
		sku      string
		cost     float64
		markup   float64
		stock    float64
		min      float64
	}{
		{"Carpet", "Wool twist 80/20 (per m²)", "CAR-WT80", 24, 55, 180, 40},
		{"Carpet", "Underlay 11mm (per m²)", "CAR-UL11", 4.5, 60, 300, 60},
		{"Vinyl", "Luxury vinyl plank (per m²)", "VIN-LVP", 19, 45, 120, 30},
		{"Timber", "Engineered oak 14mm (per m²)", "TIM-EO14", 38, 40, 65, 20},
		{"Accessories", "Gripper rod (per m)", "ACC-GRIP", 0.6, 100, 500, 100},
		{"Accessories", "Threshold strip", "ACC-THR", 6, 75, 4, 10},
	}
	out := make(map[string]*inventory.Item, len(catalog))
	for _, c := range catalog {
		req := inventory.CreateItemRequest{
			Name:          c.name,
			SKU:           s(c.sku),
			StockLevel:    c.stock,
			MinStockLevel: c.min,
			PriceInput:    inventory.PriceInput{CostPrice: f(c.cost), Markup: f(c.markup)},
		}
		if id, ok := categories[c.category]; ok {
			req.CategoryID = &id
		}
		item, err := inv.CreateItem(ctx, req, seedActor)
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", c.sku, err)
		}
		out[c.sku] = item
	}
	return out, nil
}

func seedSales(ctx context.Context, svc *sales.Service, items map[string]*inventory.Item) error {
	if _, err := svc.CreateEnquiry(ctx, sales.CreateEnquiryRequest{
		Name:        "Priya Shah",
		Email:       s("priya@example.com"),
		Phone:       s("07700 900123"),
		EnquiryType: s("carpet"),
		Source:      s("website"),
		Description: s("Stairs and landing, wool blend"),
	}, seedActor); err != nil {
		return fmt.Errorf("enquiry: %w", err)
	}

	customer, err := svc.CreateCustomer(ctx, sales.CreateCustomerRequest{
		Name:    "Tom Hughes",
		Email:   s("tom@example.com"),
		Phone:   "07700 900456",
		Address: s("12 Mill Lane"),
	}, seedActor)
	if err != nil {
		return fmt.Errorf("customer: %w", err)
	}

	lines := []sales.QuoteItemInput{{Description: "Fitting labour", Quantity: 1, UnitPrice: 180, IsCustom: true}}
	if oak, ok := items["TIM-EO14"]; ok {
		lines = append(lines, sales.QuoteItemInput{InventoryItemID: &oak.ID, Description: oak.Name, Quantity: 22, UnitPrice: oak.SellPrice})
	}
	if _, err := svc.CreateQuote(ctx, sales.CreateQuoteRequest{
		CustomerID: customer.ID,
		Name:       "Lounge engineered oak",
		Discount:   50,
		Items:      lines,
	}, seedActor); err != nil {
		return fmt.Errorf("quote: %w", err)
	}
	return nil
}
