package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"car_scrooper/storage"
)

// Archiver moves listings older than a cutoff, together with their price
// history, from the live tables into the archive twins.
type Archiver struct {
	store  storage.Store
	siteID string
}

func NewArchiver(store storage.Store, siteID string) *Archiver {
	return &Archiver{store: store, siteID: siteID}
}

// MigrationCounts reports what one archive run moved.
type MigrationCounts struct {
	SiteID           string
	Cutoff           time.Time
	HistoryCopied    int64
	HistoryDeleted   int64
	PricesReconciled int64
	ListingsCopied   int64
	ListingsDeleted  int64
	DryRun           bool
}

// Run migrates everything first seen before now minus months. All five steps
// happen in one transaction, in a fixed order: the price history must be
// copied and deleted before any listing row is deleted, because the listing
// delete cascades into the live ledger.
func (a *Archiver) Run(ctx context.Context, months int, dryRun bool) (*MigrationCounts, error) {
	cutoff := time.Now().AddDate(0, -months, 0)
	counts := &MigrationCounts{SiteID: a.siteID, Cutoff: cutoff, DryRun: dryRun}

	if dryRun {
		listings, history, err := a.store.CountAged(ctx, cutoff)
		if err != nil {
			return nil, fmt.Errorf("count aged rows: %w", err)
		}
		counts.ListingsCopied = listings
		counts.HistoryCopied = history
		log.Printf("[%s] dry run: %d listings and %d price-history rows older than %s",
			a.siteID, listings, history, cutoff.Format("2006-01-02"))
		return counts, nil
	}

	err := a.store.Transact(ctx, func(tx storage.Tx) error {
		var err error

		if counts.HistoryCopied, err = tx.CopyAgedPriceHistory(ctx, cutoff); err != nil {
			return fmt.Errorf("copy price history: %w", err)
		}
		if counts.HistoryDeleted, err = tx.DeleteAgedPriceHistory(ctx, cutoff); err != nil {
			return fmt.Errorf("delete price history: %w", err)
		}
		if counts.PricesReconciled, err = tx.ReconcileArchivePrices(ctx, cutoff); err != nil {
			return fmt.Errorf("reconcile archive prices: %w", err)
		}
		if counts.ListingsCopied, err = tx.CopyAgedListings(ctx, cutoff); err != nil {
			return fmt.Errorf("copy listings: %w", err)
		}
		if counts.ListingsDeleted, err = tx.DeleteAgedListings(ctx, cutoff); err != nil {
			return fmt.Errorf("delete listings: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[%s] archived %d listings, %d price-history rows (%d reconciled) older than %s",
		a.siteID, counts.ListingsCopied, counts.HistoryCopied, counts.PricesReconciled,
		cutoff.Format("2006-01-02"))
	return counts, nil
}

// Report logs archive table statistics, typically before and after a run.
func (a *Archiver) Report(ctx context.Context) error {
	stats, err := a.store.ArchiveStatistics(ctx)
	if err != nil {
		return fmt.Errorf("archive statistics: %w", err)
	}
	for _, s := range stats {
		earliest, latest := "-", "-"
		if s.Earliest != nil {
			earliest = s.Earliest.Format("2006-01-02")
		}
		if s.Latest != nil {
			latest = s.Latest.Format("2006-01-02")
		}
		log.Printf("[%s] %s: %d rows, archived %s .. %s", a.siteID, s.Table, s.Rows, earliest, latest)
	}
	return nil
}
