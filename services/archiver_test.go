package services

import (
	"context"
	"testing"

	"car_scrooper/models"
	"car_scrooper/normalize"
)

func agedListing(id int64, url string, price, ageDays int) models.CarListing {
	return models.CarListing{
		ID:                 id,
		ListingURL:         url,
		Brand:              "HONDA",
		Model:              "CITY",
		Variant:            "1.5 V",
		Price:              price,
		Year:               2019,
		Mileage:            45000,
		Status:             models.StatusActive,
		Version:            1,
		InformationAdsDate: daysAgo(ageDays),
	}
}

func TestArchiverMovesAgedListings(t *testing.T) {
	store := newMemStore()
	store.listings = []models.CarListing{
		agedListing(1, "https://example.com/cars/old", 50000, 120),
		agedListing(2, "https://example.com/cars/fresh", 60000, 10),
	}
	store.history = []models.PriceHistory{
		{ListingURL: "https://example.com/cars/old", OldPrice: 55000, NewPrice: 50000},
		{ListingURL: "https://example.com/cars/fresh", OldPrice: 62000, NewPrice: 60000},
	}

	counts, err := NewArchiver(store, "carlistmy").Run(context.Background(), 3, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if counts.ListingsCopied != 1 || counts.ListingsDeleted != 1 {
		t.Fatalf("listings copied=%d deleted=%d, want 1/1", counts.ListingsCopied, counts.ListingsDeleted)
	}
	if counts.HistoryCopied != 1 || counts.HistoryDeleted != 1 {
		t.Fatalf("history copied=%d deleted=%d, want 1/1", counts.HistoryCopied, counts.HistoryDeleted)
	}

	if _, ok := store.archive["https://example.com/cars/old"]; !ok {
		t.Fatal("aged listing missing from archive")
	}
	if len(store.listings) != 1 || store.listings[0].ListingURL != "https://example.com/cars/fresh" {
		t.Fatalf("live listings after run: %+v", store.listings)
	}
	if len(store.history) != 1 || store.history[0].ListingURL != "https://example.com/cars/fresh" {
		t.Fatalf("live history after run: %+v", store.history)
	}
	if len(store.archHistory) != 1 || store.archHistory[0].OldPrice != 55000 {
		t.Fatalf("archived history after run: %+v", store.archHistory)
	}
}

// The price history of an aged listing must survive the migration even
// though deleting the listing cascades into the live ledger. The fake store
// emulates that cascade, so running the steps out of order would lose rows.
func TestArchiverPreservesHistoryAgainstCascade(t *testing.T) {
	store := newMemStore()
	store.listings = []models.CarListing{
		agedListing(1, "https://example.com/cars/old", 50000, 120),
	}
	store.history = []models.PriceHistory{
		{ListingURL: "https://example.com/cars/old", OldPrice: 58000, NewPrice: 54000},
		{ListingURL: "https://example.com/cars/old", OldPrice: 54000, NewPrice: 50000},
	}

	if _, err := NewArchiver(store, "carlistmy").Run(context.Background(), 3, false); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(store.archHistory) != 2 {
		t.Fatalf("archived history = %d rows, want 2", len(store.archHistory))
	}
	if len(store.history) != 0 {
		t.Fatalf("live history = %d rows, want 0", len(store.history))
	}
}

func TestArchiverRearchiveCoalesces(t *testing.T) {
	store := newMemStore()
	// Previously archived with full data.
	store.archive["https://example.com/cars/back"] = agedListing(0, "https://example.com/cars/back", 48000, 200)

	// Came back live, this time with a missing mileage.
	relisted := agedListing(1, "https://example.com/cars/back", 45000, 120)
	relisted.Mileage = 0
	store.listings = []models.CarListing{relisted}

	if _, err := NewArchiver(store, "carlistmy").Run(context.Background(), 3, false); err != nil {
		t.Fatalf("run: %v", err)
	}

	archived := store.archive["https://example.com/cars/back"]
	if archived.Price != 45000 {
		t.Fatalf("price = %d, want incoming 45000", archived.Price)
	}
	if archived.Mileage != 45000 {
		t.Fatalf("mileage = %d, want preserved 45000", archived.Mileage)
	}
}

func TestArchiverAllNullRowDoesNotClobberArchive(t *testing.T) {
	store := newMemStore()
	good := agedListing(0, "https://example.com/cars/back", 48000, 200)
	store.archive["https://example.com/cars/back"] = good

	empty := models.CarListing{
		ID:                 1,
		ListingURL:         "https://example.com/cars/back",
		InformationAdsDate: daysAgo(120),
	}
	store.listings = []models.CarListing{empty}

	if _, err := NewArchiver(store, "carlistmy").Run(context.Background(), 3, false); err != nil {
		t.Fatalf("run: %v", err)
	}

	archived := store.archive["https://example.com/cars/back"]
	if archived.Brand != good.Brand || archived.Price != good.Price {
		t.Fatalf("archive clobbered by empty row: %+v", archived)
	}
}

func TestArchiverReconcilesRelistedPrices(t *testing.T) {
	store := newMemStore()
	prev := agedListing(0, "https://example.com/cars/back", 48000, 200)
	store.archive["https://example.com/cars/back"] = prev
	store.listings = []models.CarListing{
		agedListing(1, "https://example.com/cars/back", 45000, 120),
	}

	archiver := NewArchiver(store, "carlistmy")
	counts, err := archiver.Run(context.Background(), 3, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if counts.PricesReconciled != 1 {
		t.Fatalf("reconciled = %d, want 1", counts.PricesReconciled)
	}
	if len(store.archHistory) != 1 {
		t.Fatalf("archived history = %d rows, want 1", len(store.archHistory))
	}
	h := store.archHistory[0]
	if h.OldPrice != 48000 || h.NewPrice != 45000 {
		t.Fatalf("reconciled delta %d -> %d, want 48000 -> 45000", h.OldPrice, h.NewPrice)
	}

	// Replaying the same live state must not duplicate the delta.
	store.listings = []models.CarListing{
		agedListing(2, "https://example.com/cars/back", 45000, 120),
	}
	store.archive["https://example.com/cars/back"] = prev
	if _, err := archiver.Run(context.Background(), 3, false); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(store.archHistory) != 1 {
		t.Fatalf("archived history = %d rows after replay, want 1", len(store.archHistory))
	}
}

func TestArchiverDryRun(t *testing.T) {
	store := newMemStore()
	store.listings = []models.CarListing{
		agedListing(1, "https://example.com/cars/old", 50000, 120),
	}
	store.history = []models.PriceHistory{
		{ListingURL: "https://example.com/cars/old", OldPrice: 55000, NewPrice: 50000},
	}

	counts, err := NewArchiver(store, "carlistmy").Run(context.Background(), 3, true)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !counts.DryRun {
		t.Fatal("dry run flag not set")
	}
	if counts.ListingsCopied != 1 || counts.HistoryCopied != 1 {
		t.Fatalf("dry run counts = %+v", counts)
	}
	if len(store.listings) != 1 || len(store.archive) != 0 {
		t.Fatal("dry run must not move rows")
	}
}

func TestArchiverCutoffRespectsMonths(t *testing.T) {
	store := newMemStore()
	store.listings = []models.CarListing{
		agedListing(1, "https://example.com/cars/a", 50000, 80),
	}

	counts, err := NewArchiver(store, "carlistmy").Run(context.Background(), 3, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if counts.ListingsDeleted != 0 {
		t.Fatal("80-day-old listing archived at 3-month cutoff")
	}

	counts, err = NewArchiver(store, "carlistmy").Run(context.Background(), 2, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if counts.ListingsDeleted != 1 {
		t.Fatal("80-day-old listing kept at 2-month cutoff")
	}
}

func TestListingLifecycleUpsertThenArchive(t *testing.T) {
	store := newMemStore()
	engine := NewUpsertEngine(store, normalize.DefaultPolicy())
	ctx := context.Background()

	raw := record("https://example.com/cars/1", "Honda", "City", "RM 50,000")
	if _, err := engine.Process(ctx, &raw); err != nil {
		t.Fatalf("first process: %v", err)
	}
	firstSeen := *store.listings[0].InformationAdsDate

	raw.Price = "RM 55,000"
	result, err := engine.Process(ctx, &raw)
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if !result.PriceChanged || result.OldPrice != 50000 || result.NewPrice != 55000 {
		t.Fatalf("unexpected result: %+v", result)
	}

	live := store.listings[0]
	if live.Version != 2 {
		t.Fatalf("version = %d, want 2", live.Version)
	}
	if !live.InformationAdsDate.Equal(firstSeen) {
		t.Fatal("first-seen date changed on update")
	}
	if len(store.history) != 1 || store.history[0].OldPrice != 50000 || store.history[0].NewPrice != 55000 {
		t.Fatalf("price history = %+v", store.history)
	}

	store.listings[0].InformationAdsDate = daysAgo(120)
	counts, err := NewArchiver(store, "carlistmy").Run(ctx, 3, false)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if counts.ListingsDeleted != 1 || counts.HistoryCopied != 1 {
		t.Fatalf("counts = %+v", counts)
	}

	if len(store.listings) != 0 || len(store.history) != 0 {
		t.Fatal("listing left in live tables after archival")
	}
	archived, ok := store.archive[raw.ListingURL]
	if !ok || archived.Price != 55000 {
		t.Fatalf("archive row = %+v (present=%v)", archived, ok)
	}
	if len(store.archHistory) != 1 || store.archHistory[0].NewPrice != 55000 {
		t.Fatalf("archived history = %+v", store.archHistory)
	}
}
