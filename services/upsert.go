package services

import (
	"context"
	"fmt"
	"time"

	"car_scrooper/models"
	"car_scrooper/normalize"
	"car_scrooper/storage"
)

// UpsertEngine folds raw scraped records into the live listing table for one
// marketplace: normalize, insert or update keyed by URL, and append to the
// price-history ledger on real price changes.
type UpsertEngine struct {
	store  storage.Store
	policy normalize.Policy
}

func NewUpsertEngine(store storage.Store, policy normalize.Policy) *UpsertEngine {
	return &UpsertEngine{store: store, policy: policy}
}

// ProcessResult contains the outcome of upserting one record.
type ProcessResult struct {
	ListingID    int64
	Listing      *models.CarListing
	IsNew        bool
	PriceChanged bool
	OldPrice     int
	NewPrice     int
}

// ProcessStats aggregates results over a batch.
type ProcessStats struct {
	Processed    int
	New          int
	Updated      int
	PriceChanges int
	Errors       int
}

// Process upserts one raw record. Idempotent: replaying the same record
// changes nothing beyond last_scraped_at and version.
func (e *UpsertEngine) Process(ctx context.Context, raw *models.ListingRecord) (*ProcessResult, error) {
	if raw.ListingURL == "" {
		return nil, fmt.Errorf("record has no listing URL")
	}

	clean := e.policy.Clean(raw)
	now := time.Now()
	result := &ProcessResult{NewPrice: clean.Price}

	err := e.store.Transact(ctx, func(tx storage.Tx) error {
		existing, err := tx.GetListingByURL(ctx, raw.ListingURL)
		if err != nil {
			return fmt.Errorf("get listing: %w", err)
		}

		if existing == nil {
			today := now.Truncate(24 * time.Hour)
			clean.InformationAdsDate = &today
			clean.Status = models.StatusActive
			clean.Version = 1
			clean.CreatedAt = now
			clean.LastScrapedAt = &now

			if err := tx.InsertListing(ctx, &clean); err != nil {
				return fmt.Errorf("insert listing: %w", err)
			}
			result.ListingID = clean.ID
			result.IsNew = true
			return nil
		}

		result.ListingID = existing.ID
		result.OldPrice = existing.Price

		// First-seen date never changes on update. The UPDATE's COALESCE
		// backstops this, but the engine does not even offer a new value.
		clean.ID = existing.ID
		clean.InformationAdsDate = existing.InformationAdsDate
		clean.Status = models.StatusActive
		clean.Version = existing.Version + 1
		clean.CreatedAt = existing.CreatedAt
		clean.LastScrapedAt = &now

		if err := tx.UpdateListing(ctx, &clean); err != nil {
			return fmt.Errorf("update listing: %w", err)
		}

		// A ledger entry needs a real change from a real prior price. An old
		// price of zero means the earlier scrape failed to read it; that is
		// not a price change.
		if existing.Price != clean.Price && existing.Price != 0 {
			result.PriceChanged = true
			entry := &models.PriceHistory{
				ListingURL: existing.ListingURL,
				OldPrice:   existing.Price,
				NewPrice:   clean.Price,
				ChangedAt:  now,
			}
			if err := tx.InsertPriceHistory(ctx, entry); err != nil {
				return fmt.Errorf("insert price history: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Listing = &clean
	return result, nil
}

// ProcessBatch upserts a slice of records, tolerating per-record failures.
func (e *UpsertEngine) ProcessBatch(ctx context.Context, records []models.ListingRecord) ProcessStats {
	var stats ProcessStats
	for i := range records {
		result, err := e.Process(ctx, &records[i])
		if err != nil {
			stats.Errors++
			continue
		}
		stats.Processed++
		if result.IsNew {
			stats.New++
		} else {
			stats.Updated++
		}
		if result.PriceChanged {
			stats.PriceChanges++
		}
	}
	return stats
}
