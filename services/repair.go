package services

import (
	"context"
	"fmt"
	"log"

	"car_scrooper/models"
	"car_scrooper/storage"
)

// Repairer re-scrapes listings whose descriptive fields came back empty, a
// cleanup pass over rows left behind by partial extractions.
type Repairer struct {
	store  storage.Store
	probe  StatusProbe
	engine *UpsertEngine
	siteID string
}

func NewRepairer(store storage.Store, probe StatusProbe, engine *UpsertEngine, siteID string) *Repairer {
	return &Repairer{store: store, probe: probe, engine: engine, siteID: siteID}
}

// Run revisits up to limit incomplete listings, re-upserts what it finds,
// and returns the refreshed listings.
func (r *Repairer) Run(ctx context.Context, limit int) ([]models.CarListing, error) {
	listings, err := r.store.ListIncomplete(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list incomplete: %w", err)
	}
	log.Printf("[%s] repairing %d incomplete listings", r.siteID, len(listings))

	var repaired []models.CarListing
	for i := range listings {
		if ctx.Err() != nil {
			return repaired, ctx.Err()
		}
		outcome, err := r.probe.Check(ctx, listings[i].ListingURL)
		if err != nil || outcome.Blocked || outcome.Record == nil {
			log.Printf("Warning: [%s] repair %s skipped: %v", r.siteID, listings[i].ListingURL, err)
			continue
		}
		outcome.Record.ListingURL = listings[i].ListingURL
		result, err := r.engine.Process(ctx, outcome.Record)
		if err != nil {
			log.Printf("Warning: [%s] repair upsert %s: %v", r.siteID, listings[i].ListingURL, err)
			continue
		}
		repaired = append(repaired, *result.Listing)
	}
	return repaired, nil
}
