package workers

import (
	"context"
	"fmt"
	"log"
	"time"

	"car_scrooper/models"
	"car_scrooper/services"
)

// ArchiveWorker runs the aged-listing migration for every site on an
// interval, or immediately on Trigger.
type ArchiveWorker struct {
	archivers map[string]*services.Archiver
	months    int
	dryRun    bool
	triggerCh chan struct{}
	logFunc   LogFunc
}

func NewArchiveWorker(archivers map[string]*services.Archiver, months int, dryRun bool) *ArchiveWorker {
	return &ArchiveWorker{
		archivers: archivers,
		months:    months,
		dryRun:    dryRun,
		triggerCh: make(chan struct{}, 1),
		logFunc:   NoOpLogger,
	}
}

func (w *ArchiveWorker) SetLogger(fn LogFunc) {
	w.logFunc = fn
}

// Trigger causes the worker to run immediately
func (w *ArchiveWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

func (w *ArchiveWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx, w.months)
		case <-w.triggerCh:
			w.RunOnce(ctx, w.months)
		}
	}
}

// RunOnce migrates every site at the given cutoff. Sites fail independently;
// one broken table set does not stop the others.
func (w *ArchiveWorker) RunOnce(ctx context.Context, months int) {
	if months <= 0 {
		months = w.months
	}

	for siteID, archiver := range w.archivers {
		if err := archiver.Report(ctx); err != nil {
			log.Printf("Warning: [%s] archive report: %v", siteID, err)
		}

		counts, err := archiver.Run(ctx, months, w.dryRun)
		if err != nil {
			w.logFunc(models.LogLevelError, siteID, fmt.Sprintf("Archive run failed: %v", err))
			log.Printf("Error: [%s] archive run: %v", siteID, err)
			continue
		}
		w.logFunc(models.LogLevelInfo, siteID,
			fmt.Sprintf("Archive run: %d listings, %d history rows moved", counts.ListingsCopied, counts.HistoryCopied))

		if err := archiver.Report(ctx); err != nil {
			log.Printf("Warning: [%s] archive report: %v", siteID, err)
		}
	}
}
