package services

import (
	"context"
	"testing"

	"car_scrooper/models"
	"car_scrooper/normalize"
)

func record(url, brand, model, price string) models.ListingRecord {
	return models.ListingRecord{
		ListingURL: url,
		Brand:      brand,
		Model:      model,
		Variant:    "1.5 V",
		Price:      price,
		Year:       "2019",
		Mileage:    "45,000 km",
	}
}

func TestProcessNewListing(t *testing.T) {
	store := newMemStore()
	engine := NewUpsertEngine(store, normalize.DefaultPolicy())

	raw := record("https://example.com/cars/1", "Honda", "City", "RM 55,800")
	result, err := engine.Process(context.Background(), &raw)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !result.IsNew {
		t.Fatal("expected new listing")
	}
	if result.PriceChanged {
		t.Fatal("new listing must not record a price change")
	}

	stored, _ := store.GetListingByURL(context.Background(), raw.ListingURL)
	if stored == nil {
		t.Fatal("listing not stored")
	}
	if stored.Brand != "HONDA" || stored.Price != 55800 {
		t.Fatalf("unexpected stored listing: %+v", stored)
	}
	if stored.Version != 1 {
		t.Fatalf("version = %d, want 1", stored.Version)
	}
	if stored.InformationAdsDate == nil {
		t.Fatal("first-seen date not set")
	}
	if stored.Status != models.StatusActive {
		t.Fatalf("status = %q, want active", stored.Status)
	}
	if len(store.history) != 0 {
		t.Fatalf("price history = %d entries, want 0", len(store.history))
	}
}

func TestProcessReplaySameRecord(t *testing.T) {
	store := newMemStore()
	engine := NewUpsertEngine(store, normalize.DefaultPolicy())
	ctx := context.Background()

	raw := record("https://example.com/cars/1", "Honda", "City", "RM 55,800")
	if _, err := engine.Process(ctx, &raw); err != nil {
		t.Fatalf("first process: %v", err)
	}
	first, _ := store.GetListingByURL(ctx, raw.ListingURL)

	result, err := engine.Process(ctx, &raw)
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if result.IsNew || result.PriceChanged {
		t.Fatalf("replay: IsNew=%v PriceChanged=%v, want false/false", result.IsNew, result.PriceChanged)
	}

	second, _ := store.GetListingByURL(ctx, raw.ListingURL)
	if second.Version != first.Version+1 {
		t.Fatalf("version = %d, want %d", second.Version, first.Version+1)
	}
	if !second.InformationAdsDate.Equal(*first.InformationAdsDate) {
		t.Fatal("first-seen date changed on replay")
	}
	if len(store.history) != 0 {
		t.Fatalf("replay created %d price-history entries", len(store.history))
	}
}

func TestProcessPriceChange(t *testing.T) {
	store := newMemStore()
	engine := NewUpsertEngine(store, normalize.DefaultPolicy())
	ctx := context.Background()

	raw := record("https://example.com/cars/1", "Honda", "City", "RM 55,800")
	if _, err := engine.Process(ctx, &raw); err != nil {
		t.Fatalf("process: %v", err)
	}

	raw.Price = "RM 52,000"
	result, err := engine.Process(ctx, &raw)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !result.PriceChanged {
		t.Fatal("expected price change")
	}
	if result.OldPrice != 55800 || result.NewPrice != 52000 {
		t.Fatalf("old=%d new=%d, want 55800/52000", result.OldPrice, result.NewPrice)
	}
	if len(store.history) != 1 {
		t.Fatalf("price history = %d entries, want 1", len(store.history))
	}
	h := store.history[0]
	if h.OldPrice != 55800 || h.NewPrice != 52000 || h.ListingURL != raw.ListingURL {
		t.Fatalf("unexpected ledger entry: %+v", h)
	}
}

func TestProcessZeroOldPriceIsNotAChange(t *testing.T) {
	store := newMemStore()
	engine := NewUpsertEngine(store, normalize.DefaultPolicy())
	ctx := context.Background()

	raw := record("https://example.com/cars/1", "Honda", "City", "")
	if _, err := engine.Process(ctx, &raw); err != nil {
		t.Fatalf("process: %v", err)
	}

	raw.Price = "RM 55,800"
	result, err := engine.Process(ctx, &raw)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.PriceChanged {
		t.Fatal("zero old price must not produce a ledger entry")
	}
	if len(store.history) != 0 {
		t.Fatalf("price history = %d entries, want 0", len(store.history))
	}

	stored, _ := store.GetListingByURL(ctx, raw.ListingURL)
	if stored.Price != 55800 {
		t.Fatalf("price = %d, want 55800", stored.Price)
	}
}

func TestProcessLedgerAdjacency(t *testing.T) {
	store := newMemStore()
	engine := NewUpsertEngine(store, normalize.DefaultPolicy())
	ctx := context.Background()

	raw := record("https://example.com/cars/1", "Honda", "City", "RM 60,000")
	for _, price := range []string{"RM 60,000", "RM 58,000", "RM 58,000", "RM 55,000"} {
		raw.Price = price
		if _, err := engine.Process(ctx, &raw); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if len(store.history) != 2 {
		t.Fatalf("price history = %d entries, want 2", len(store.history))
	}
	// Each entry's old price matches the previous entry's new price.
	if store.history[0].NewPrice != store.history[1].OldPrice {
		t.Fatalf("ledger not adjacent: %+v", store.history)
	}
	if store.history[0].OldPrice != 60000 || store.history[1].NewPrice != 55000 {
		t.Fatalf("unexpected ledger: %+v", store.history)
	}
}

func TestProcessMissingURL(t *testing.T) {
	engine := NewUpsertEngine(newMemStore(), normalize.DefaultPolicy())
	raw := models.ListingRecord{Brand: "Honda"}
	if _, err := engine.Process(context.Background(), &raw); err == nil {
		t.Fatal("expected error for record without URL")
	}
}

func TestProcessBatchTalliesErrors(t *testing.T) {
	store := newMemStore()
	engine := NewUpsertEngine(store, normalize.DefaultPolicy())

	records := []models.ListingRecord{
		record("https://example.com/cars/1", "Honda", "City", "RM 55,800"),
		{Brand: "no url"},
		record("https://example.com/cars/2", "Perodua", "Myvi", "RM 38,000"),
	}

	stats := engine.ProcessBatch(context.Background(), records)
	if stats.Processed != 2 || stats.New != 2 || stats.Errors != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}
