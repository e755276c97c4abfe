package workers

import (
	"context"
	"fmt"
	"log"
	"time"

	"car_scrooper/models"
	"car_scrooper/services"
)

// TrackerWorker runs the sold-status sweep for every site on an interval, or
// immediately on Trigger.
type TrackerWorker struct {
	trackers  map[string]*services.Tracker
	triggerCh chan struct{}
	logFunc   LogFunc

	// StartID lets a triggered run begin partway through the table.
	startID int64
}

func NewTrackerWorker(trackers map[string]*services.Tracker) *TrackerWorker {
	return &TrackerWorker{
		trackers:  trackers,
		triggerCh: make(chan struct{}, 1),
		logFunc:   NoOpLogger,
	}
}

func (w *TrackerWorker) SetLogger(fn LogFunc) {
	w.logFunc = fn
}

// Trigger causes the worker to run immediately, starting at startID.
func (w *TrackerWorker) Trigger(startID int64) {
	w.startID = startID
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Stop propagates a stop request to all running trackers.
func (w *TrackerWorker) Stop() {
	for _, t := range w.trackers {
		t.Stop()
	}
}

func (w *TrackerWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx, 0)
		case <-w.triggerCh:
			w.RunOnce(ctx, w.startID)
			w.startID = 0
		}
	}
}

func (w *TrackerWorker) RunOnce(ctx context.Context, startID int64) {
	for siteID, tracker := range w.trackers {
		stats, err := tracker.Run(ctx, startID)
		if err != nil {
			w.logFunc(models.LogLevelError, siteID, fmt.Sprintf("Tracking run failed: %v", err))
			log.Printf("Error: [%s] tracking run: %v", siteID, err)
			continue
		}
		w.logFunc(models.LogLevelInfo, siteID,
			fmt.Sprintf("Tracking run: %d checked, %d sold, %d active, %d unknown",
				stats.Checked, stats.Sold, stats.Active, stats.Unknown))
	}
}
