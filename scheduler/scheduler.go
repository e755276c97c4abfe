package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"car_scrooper/config"
	"car_scrooper/models"
	"car_scrooper/scraper"
	"car_scrooper/storage"
	"car_scrooper/workers"
)

const resumeDelay = 15 * time.Minute

// Scheduler wires the cron expressions and the command queue to the
// orchestrator and the background workers.
type Scheduler struct {
	cfg          *config.Config
	orchestrator *scraper.Orchestrator
	ops          *storage.SQLiteStore
	cron         *cron.Cron
	ticker       *time.Ticker
	stopCh       chan struct{}

	archiveWorker *workers.ArchiveWorker
	trackerWorker *workers.TrackerWorker
}

func New(cfg *config.Config, orchestrator *scraper.Orchestrator, ops *storage.SQLiteStore) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		orchestrator: orchestrator,
		ops:          ops,
		cron:         cron.New(),
		stopCh:       make(chan struct{}),
	}
}

// SetWorkers registers background workers for scheduling and manual triggers
func (s *Scheduler) SetWorkers(archive *workers.ArchiveWorker, tracker *workers.TrackerWorker) {
	s.archiveWorker = archive
	s.trackerWorker = tracker
}

func (s *Scheduler) Start(ctx context.Context) error {
	go s.pollCommands(ctx)
	go s.pollResumes(ctx)

	sched := s.cfg.Scheduler
	if sched.ScrapeCron != "" {
		log.Printf("Scrape cron: %s", sched.ScrapeCron)
		if _, err := s.cron.AddFunc(sched.ScrapeCron, func() {
			if err := s.orchestrator.RunAll(ctx); err != nil {
				log.Printf("Scheduled scrape error: %v", err)
			}
		}); err != nil {
			return fmt.Errorf("invalid scrape cron: %w", err)
		}
	}
	if sched.ArchiveCron != "" && s.archiveWorker != nil {
		log.Printf("Archive cron: %s", sched.ArchiveCron)
		if _, err := s.cron.AddFunc(sched.ArchiveCron, func() {
			s.archiveWorker.Trigger()
		}); err != nil {
			return fmt.Errorf("invalid archive cron: %w", err)
		}
	}
	if sched.TrackCron != "" && s.trackerWorker != nil {
		log.Printf("Track cron: %s", sched.TrackCron)
		if _, err := s.cron.AddFunc(sched.TrackCron, func() {
			s.trackerWorker.Trigger(0)
		}); err != nil {
			return fmt.Errorf("invalid track cron: %w", err)
		}
	}
	s.cron.Start()

	if sched.ScrapeCron == "" && sched.Interval > 0 {
		log.Printf("Scrape interval: %s", sched.Interval)
		s.ticker = time.NewTicker(sched.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					if err := s.orchestrator.RunAll(ctx); err != nil {
						log.Printf("Scheduled scrape error: %v", err)
					}
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	if sched.ScrapeCron == "" && sched.ArchiveCron == "" && sched.TrackCron == "" && sched.Interval <= 0 {
		log.Println("No schedule configured, daemon will only respond to commands")
	}

	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
}

func (s *Scheduler) TriggerNow(ctx context.Context) error {
	return s.orchestrator.RunAll(ctx)
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cmds, err := s.ops.GetPendingCommands()
			if err != nil {
				log.Printf("Error getting commands: %v", err)
				continue
			}

			for _, cmd := range cmds {
				log.Printf("Processing command: %s", cmd.Command)
				if err := s.handleCommand(ctx, &cmd); err != nil {
					log.Printf("Command error: %v", err)
				}
				if err := s.ops.MarkCommandProcessed(cmd.ID); err != nil {
					log.Printf("Error marking command processed: %v", err)
				}
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	params, err := s.ops.ParseCommandParams(cmd)
	if err != nil {
		return fmt.Errorf("parse params: %w", err)
	}

	switch cmd.Command {
	case models.CmdScrapeNow:
		go func() {
			if err := s.TriggerNow(ctx); err != nil {
				log.Printf("Scrape-now error: %v", err)
			}
		}()
	case models.CmdScrapeSite:
		if params.Site == "" {
			return fmt.Errorf("scrape_site needs a site param")
		}
		go func() {
			if err := s.orchestrator.RunSite(ctx, params.Site); err != nil {
				log.Printf("Scrape-site error for %s: %v", params.Site, err)
			}
		}()
	case models.CmdArchiveNow:
		if s.archiveWorker == nil {
			return fmt.Errorf("archive worker not configured")
		}
		if params.Months > 0 {
			go s.archiveWorker.RunOnce(ctx, params.Months)
		} else {
			s.archiveWorker.Trigger()
		}
	case models.CmdTrackNow:
		if s.trackerWorker == nil {
			return fmt.Errorf("tracker worker not configured")
		}
		s.trackerWorker.Trigger(params.StartID)
	case models.CmdPause:
		s.orchestrator.Pause()
		if s.trackerWorker != nil {
			s.trackerWorker.Stop()
		}
		log.Println("Paused via command")
	case models.CmdResume:
		s.orchestrator.Resume()
		log.Println("Resumed via command")
	default:
		return fmt.Errorf("unknown command %q", cmd.Command)
	}
	return nil
}

func (s *Scheduler) pollResumes(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.orchestrator.Paused() {
				continue
			}
			sites, err := s.ops.GetSitesWithResumePage()
			if err != nil {
				log.Printf("Error checking resume pages: %v", err)
				continue
			}

			for _, siteID := range sites {
				lastRun, err := s.ops.GetLastRunTime(siteID)
				if err != nil {
					log.Printf("Error getting last run time for %s: %v", siteID, err)
					continue
				}

				if time.Since(lastRun) >= resumeDelay {
					log.Printf("Resuming scrape for %s", siteID)
					if err := s.orchestrator.RunSite(ctx, siteID); err != nil {
						log.Printf("Resume error for %s: %v", siteID, err)
					}
				}
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}
