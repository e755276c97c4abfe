package scraper

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"car_scrooper/config"
	"car_scrooper/models"
	"car_scrooper/services"
	"car_scrooper/storage"
	"car_scrooper/workers"
)

// SiteServices bundles the per-site pieces the orchestrator drives.
type SiteServices struct {
	Handler *BrowserHandler
	Engine  *services.UpsertEngine
	Images  *workers.ImageWorker // nil when downloads are disabled
}

// Orchestrator runs full scrape passes: index walk, detail extraction, and
// upsert, with run bookkeeping and resume checkpoints in the ops store.
type Orchestrator struct {
	cfg    *config.Config
	ops    *storage.SQLiteStore
	sites  map[string]*SiteServices
	paused atomic.Bool
}

func NewOrchestrator(cfg *config.Config, ops *storage.SQLiteStore, sites map[string]*SiteServices) *Orchestrator {
	return &Orchestrator{cfg: cfg, ops: ops, sites: sites}
}

func (o *Orchestrator) Pause()  { o.paused.Store(true) }
func (o *Orchestrator) Resume() { o.paused.Store(false) }
func (o *Orchestrator) Paused() bool {
	return o.paused.Load()
}

func (o *Orchestrator) RunAll(ctx context.Context) error {
	if o.paused.Load() {
		log.Println("Scraper is paused, skipping run")
		return nil
	}

	for siteID := range o.sites {
		if err := o.RunSite(ctx, siteID); err != nil {
			log.Printf("Error running site %s: %v", siteID, err)
		}
	}
	return nil
}

func (o *Orchestrator) RunSite(ctx context.Context, siteID string) error {
	site, ok := o.sites[siteID]
	if !ok {
		return fmt.Errorf("unknown site: %s", siteID)
	}
	siteCfg := o.cfg.Sites[siteID]

	run := &models.ScrapeRun{
		SiteID:    siteID,
		StartedAt: time.Now(),
		Status:    models.RunStatusRunning,
	}
	runID, err := o.ops.CreateRun(run)
	if err != nil {
		return err
	}
	run.ID = runID

	o.log(run.ID, models.LogLevelInfo, fmt.Sprintf("Starting scrape for %s", siteCfg.Name), siteID)

	stats := services.ProcessStats{}
	defer func() {
		now := time.Now()
		run.FinishedAt = &now
		run.ListingsFound = stats.Processed
		run.ListingsNew = stats.New
		run.PriceChanges = stats.PriceChanges
		run.ErrorsCount = stats.Errors
		if run.Status == models.RunStatusRunning {
			run.Status = models.RunStatusCompleted
		}
		if err := o.ops.UpdateRun(run); err != nil {
			log.Printf("Warning: update run %d: %v", run.ID, err)
		}
		if err := o.ops.UpdateSiteStats(siteID, stats.Processed, stats.PriceChanges); err != nil {
			log.Printf("Warning: update site stats: %v", err)
		}
	}()

	startPage, err := o.ops.GetResumePage(siteID)
	if err != nil {
		log.Printf("Warning: resume page for %s: %v", siteID, err)
	}
	if startPage < 1 {
		startPage = 1
	} else if startPage > 1 {
		o.log(run.ID, models.LogLevelInfo, fmt.Sprintf("Resuming from index page %d", startPage), siteID)
	}

	urls, err := site.Handler.ScrapeIndex(ctx, startPage, 0, func(page int) {
		if err := o.ops.SetResumePage(siteID, page); err != nil {
			log.Printf("Warning: set resume page: %v", err)
		}
	})
	if err != nil {
		run.Status = models.RunStatusFailed
		o.log(run.ID, models.LogLevelError, fmt.Sprintf("Index walk failed: %v", err), siteID)
		return err
	}
	o.log(run.ID, models.LogLevelInfo, fmt.Sprintf("Found %d listing URLs", len(urls)), siteID)

	batch := o.cfg.Scraper.ListingsPerBatch
	for i, listingURL := range urls {
		if ctx.Err() != nil {
			run.Status = models.RunStatusFailed
			return ctx.Err()
		}
		if o.paused.Load() {
			o.log(run.ID, models.LogLevelWarn, "Paused mid-run, stopping", siteID)
			break
		}

		if i > 0 && batch > 0 && i%batch == 0 {
			if err := site.Handler.Reset(ctx); err != nil {
				log.Printf("Warning: [%s] session reset: %v", siteID, err)
			}
		}

		rec, err := site.Handler.ScrapeListing(ctx, listingURL)
		if err != nil {
			stats.Errors++
			o.log(run.ID, models.LogLevelWarn, fmt.Sprintf("Extract %s: %v", listingURL, err), siteID)
			continue
		}

		result, err := site.Engine.Process(ctx, rec)
		if err != nil {
			stats.Errors++
			o.log(run.ID, models.LogLevelWarn, fmt.Sprintf("Upsert %s: %v", listingURL, err), siteID)
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
			o.log(run.ID, models.LogLevelInfo,
				fmt.Sprintf("Price change %s: %d -> %d", listingURL, result.OldPrice, result.NewPrice), siteID)
		}

		if site.Images != nil && result.Listing != nil {
			if _, err := site.Images.Process(ctx, result.Listing); err != nil {
				log.Printf("Warning: [%s] images for listing %d: %v", siteID, result.ListingID, err)
			}
		}
	}

	if err := o.ops.ClearResumePage(siteID); err != nil {
		log.Printf("Warning: clear resume page: %v", err)
	}

	o.log(run.ID, models.LogLevelInfo,
		fmt.Sprintf("Scrape complete: %d processed, %d new, %d price changes, %d errors",
			stats.Processed, stats.New, stats.PriceChanges, stats.Errors), siteID)
	return nil
}

func (o *Orchestrator) log(runID int64, level models.LogLevel, msg, siteID string) {
	log.Printf("[%s] %s", siteID, msg)
	if err := o.ops.Log(&runID, level, msg, siteID); err != nil {
		log.Printf("Warning: write scrape log: %v", err)
	}
}
