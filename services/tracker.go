package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"car_scrooper/models"
	"car_scrooper/storage"
)

// CheckOutcome is what a status probe learned about one listing page.
type CheckOutcome struct {
	FinalURL string
	SoldText bool // a sold indicator appeared in the page body
	Blocked  bool // anti-bot challenge, result unusable
	Record   *models.ListingRecord
}

// StatusProbe visits a listing page and reports what it found. The browser
// handler implements it; tests use a scripted fake.
type StatusProbe interface {
	Check(ctx context.Context, url string) (*CheckOutcome, error)
	Reset(ctx context.Context) error
}

// Tracker re-checks listings that have not been verified recently and
// resolves each to sold, active, or unknown. Sold is terminal: sold rows are
// never selected again.
type Tracker struct {
	store  storage.Store
	probe  StatusProbe
	engine *UpsertEngine
	siteID string

	// ActivePathFragment marks a live listing URL. A redirect to a URL
	// without it means the ad was taken down, i.e. sold.
	ActivePathFragment string
	SoldIndicators     []string
	RecheckAfter       time.Duration
	ListingsPerBatch   int
	RetryLimit         int

	stop atomic.Bool
}

func NewTracker(store storage.Store, probe StatusProbe, engine *UpsertEngine, siteID string) *Tracker {
	return &Tracker{
		store:            store,
		probe:            probe,
		engine:           engine,
		siteID:           siteID,
		RecheckAfter:     30 * 24 * time.Hour,
		ListingsPerBatch: 15,
		RetryLimit:       3,
	}
}

// Stop asks a running Run to finish the current listing and return.
func (t *Tracker) Stop() {
	t.stop.Store(true)
}

// TrackStats aggregates one tracking run.
type TrackStats struct {
	Checked int
	Sold    int
	Active  int
	Unknown int
	Errors  int
	Stopped bool
}

// Run walks trackable listings starting at startID and resolves each one.
// The probe session is reset every ListingsPerBatch listings.
func (t *Tracker) Run(ctx context.Context, startID int64) (*TrackStats, error) {
	t.stop.Store(false)
	recheckBefore := time.Now().Add(-t.RecheckAfter)

	listings, err := t.store.ListTrackable(ctx, startID, "", recheckBefore)
	if err != nil {
		return nil, fmt.Errorf("list trackable: %w", err)
	}
	log.Printf("[%s] tracking %d listings from id %d", t.siteID, len(listings), startID)

	stats := &TrackStats{}
	for i := range listings {
		if t.stop.Load() {
			stats.Stopped = true
			log.Printf("[%s] stop requested, %d listings checked", t.siteID, stats.Checked)
			break
		}
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		if i > 0 && t.ListingsPerBatch > 0 && i%t.ListingsPerBatch == 0 {
			if err := t.probe.Reset(ctx); err != nil {
				log.Printf("Warning: [%s] probe reset failed: %v", t.siteID, err)
			}
		}

		if err := t.checkOne(ctx, &listings[i], stats); err != nil {
			stats.Errors++
			log.Printf("Warning: [%s] check %s: %v", t.siteID, listings[i].ListingURL, err)
		}
		stats.Checked++
	}
	return stats, nil
}

func (t *Tracker) checkOne(ctx context.Context, l *models.CarListing, stats *TrackStats) error {
	outcome, err := t.probeWithRetry(ctx, l.ListingURL)
	if err != nil {
		// Exhausted retries: degrade to unknown rather than guessing sold.
		if setErr := t.store.SetStatus(ctx, l.ID, models.StatusUnknown, nil); setErr != nil {
			return setErr
		}
		stats.Unknown++
		return err
	}

	if t.isSold(l.ListingURL, outcome) {
		now := time.Now()
		if err := t.store.SetStatus(ctx, l.ID, models.StatusSold, &now); err != nil {
			return err
		}
		stats.Sold++
		return nil
	}

	// Still live: refresh the row with whatever the probe re-extracted.
	if outcome.Record != nil && t.engine != nil {
		outcome.Record.ListingURL = l.ListingURL
		if _, err := t.engine.Process(ctx, outcome.Record); err != nil {
			log.Printf("Warning: [%s] refresh %s: %v", t.siteID, l.ListingURL, err)
		}
	}
	if err := t.store.SetStatus(ctx, l.ID, models.StatusActive, nil); err != nil {
		return err
	}
	stats.Active++
	return nil
}

func (t *Tracker) probeWithRetry(ctx context.Context, url string) (*CheckOutcome, error) {
	var lastErr error
	for attempt := 1; attempt <= t.RetryLimit; attempt++ {
		outcome, err := t.probe.Check(ctx, url)
		if err == nil && !outcome.Blocked {
			return outcome, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("blocked by anti-bot challenge")
		}
		if attempt < t.RetryLimit {
			if resetErr := t.probe.Reset(ctx); resetErr != nil {
				log.Printf("Warning: [%s] probe reset failed: %v", t.siteID, resetErr)
			}
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", t.RetryLimit, lastErr)
}

// isSold applies the two sold signals: a redirect off the live listing path,
// or a sold indicator in the page text.
func (t *Tracker) isSold(originalURL string, outcome *CheckOutcome) bool {
	if outcome.SoldText {
		return true
	}
	if t.ActivePathFragment == "" {
		return false
	}
	if outcome.FinalURL != "" && outcome.FinalURL != originalURL &&
		!strings.Contains(outcome.FinalURL, t.ActivePathFragment) {
		return true
	}
	return false
}
