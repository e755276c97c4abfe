package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"car_scrooper/config"
	"car_scrooper/httputil"
	"car_scrooper/logging"
	"car_scrooper/models"
	"car_scrooper/proxy"
	"car_scrooper/scheduler"
	"car_scrooper/scraper"
	"car_scrooper/services"
	"car_scrooper/storage"
	"car_scrooper/workers"
)

var (
	scrapeNow  = flag.Bool("scrape", false, "Run scrape once and exit")
	archiveNow = flag.Bool("archive", false, "Run archive migration once and exit")
	trackNow   = flag.Bool("track", false, "Run status tracking once and exit")
	repairNow  = flag.Bool("repair", false, "Re-scrape incomplete listings once and exit")
	statusNow  = flag.Bool("status", false, "Print site stats and recent logs, then exit")
	resetOps   = flag.Bool("reset", false, "Clear the local operational database, then exit")
	siteFlag   = flag.String("site", "", "Limit one-shot run to one site")
	startID    = flag.Int64("start-id", 0, "Tracking start listing id")
	months     = flag.Int("months", 0, "Archive cutoff in months (overrides ARCHIVE_MONTHS)")
	dryRun     = flag.Bool("dry-run", false, "Archive dry run: count rows, move nothing")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	logFile, err := logging.Setup("daemon.log")
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting car_scrooper...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *months > 0 {
		cfg.Archive.Months = *months
	}
	if *dryRun {
		cfg.Archive.DryRun = true
	}

	log.Printf("Loaded %d site configs", len(cfg.Sites))
	for id, site := range cfg.Sites {
		log.Printf("  - %s (%s)", site.Name, id)
	}

	ctx := context.Background()

	pgStore, err := storage.NewPostgresStore(ctx, cfg.DBURL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer pgStore.Close()

	opsStore, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer opsStore.Close()
	log.Printf("SQLite database: %s", cfg.DBPath)

	proxies, err := proxy.NewPool(cfg.Proxy)
	if err != nil {
		log.Fatalf("Proxy config: %v", err)
	}
	clients := httputil.NewClients(proxies.Next())

	var uploader workers.S3Uploader
	if cfg.Images.S3Bucket != "" {
		s3up, err := storage.NewS3Uploader(ctx, storage.S3Config{
			Bucket:          cfg.Images.S3Bucket,
			Region:          cfg.Images.S3Region,
			Endpoint:        cfg.Images.S3Endpoint,
			AccessKeyID:     cfg.Images.S3Key,
			SecretAccessKey: cfg.Images.S3Secret,
			HTTPClient:      clients.Plain,
		})
		if err != nil {
			log.Fatalf("S3 uploader: %v", err)
		}
		uploader = s3up
		log.Printf("Mirroring images to s3://%s", cfg.Images.S3Bucket)
	}

	// Per-site wiring: table set, schema, upsert engine, browser handler,
	// archiver, tracker.
	sites := make(map[string]*scraper.SiteServices)
	archivers := make(map[string]*services.Archiver)
	trackers := make(map[string]*services.Tracker)
	repairers := make(map[string]*services.Repairer)
	imageWorkers := make(map[string]*workers.ImageWorker)

	for id, siteCfg := range cfg.Sites {
		ts, err := storage.NewTableSet(
			siteCfg.ListingTable, siteCfg.PriceHistoryTable,
			siteCfg.ListingArchiveTable, siteCfg.PriceHistoryArchiveTable,
		)
		if err != nil {
			log.Fatalf("Site %s: %v", id, err)
		}
		if err := pgStore.EnsureSchema(ctx, ts); err != nil {
			log.Fatalf("Site %s schema: %v", id, err)
		}

		siteStore := pgStore.ForSite(ts)
		engine := services.NewUpsertEngine(siteStore, siteCfg.Policy)
		handler := scraper.NewBrowserHandler(siteCfg, cfg.Scraper, proxies)

		// The tracker gets its own browser session; in daemon mode it runs
		// concurrently with scrapes and resets its session independently.
		probe := scraper.NewBrowserHandler(siteCfg, cfg.Scraper, proxies)

		sites[id] = &scraper.SiteServices{Handler: handler, Engine: engine}
		archivers[id] = services.NewArchiver(siteStore, id)

		tracker := services.NewTracker(siteStore, probe, engine, id)
		tracker.ActivePathFragment = siteCfg.ActivePathFragment
		tracker.SoldIndicators = siteCfg.SoldIndicators
		tracker.RecheckAfter = cfg.Tracker.RecheckAfter
		tracker.ListingsPerBatch = cfg.Tracker.ListingsPerBatch
		tracker.RetryLimit = cfg.Scraper.RetryLimit
		trackers[id] = tracker

		repairers[id] = services.NewRepairer(siteStore, probe, engine, id)

		if cfg.Images.Enabled {
			iw := workers.NewImageWorker(opsStore, clients.Images, uploader, cfg.Images.Dir, id)
			imageWorkers[id] = iw
			sites[id].Images = iw
		}
	}

	orchestrator := scraper.NewOrchestrator(cfg, opsStore, sites)
	archiveWorker := workers.NewArchiveWorker(archivers, cfg.Archive.Months, cfg.Archive.DryRun)
	trackerWorker := workers.NewTrackerWorker(trackers)

	opsLogger := func(level models.LogLevel, source, message string) {
		if err := opsStore.Log(nil, level, message, source); err != nil {
			log.Printf("Warning: write scrape log: %v", err)
		}
	}
	archiveWorker.SetLogger(opsLogger)
	trackerWorker.SetLogger(opsLogger)
	for _, iw := range imageWorkers {
		iw.SetLogger(opsLogger)
	}

	// One-shot modes
	switch {
	case *scrapeNow:
		if *siteFlag != "" {
			if err := orchestrator.RunSite(ctx, *siteFlag); err != nil {
				log.Fatalf("Scrape failed: %v", err)
			}
		} else if err := orchestrator.RunAll(ctx); err != nil {
			log.Fatalf("Scrape failed: %v", err)
		}
		log.Println("Scrape complete!")
		return
	case *archiveNow:
		archiveWorker.RunOnce(ctx, cfg.Archive.Months)
		log.Println("Archive run complete!")
		return
	case *trackNow:
		trackerWorker.RunOnce(ctx, *startID)
		log.Println("Tracking run complete!")
		return
	case *repairNow:
		for id, repairer := range repairers {
			if *siteFlag != "" && id != *siteFlag {
				continue
			}
			fixed, err := repairer.Run(ctx, 200)
			if err != nil {
				log.Printf("Repair %s: %v", id, err)
				continue
			}
			log.Printf("Repaired %d listings on %s", len(fixed), id)
			if iw := imageWorkers[id]; iw != nil && len(fixed) > 0 {
				ok, partial, failed := iw.ProcessBatch(ctx, fixed)
				log.Printf("Images on %s: %d ok, %d partial, %d failed", id, ok, partial, failed)
			}
		}
		return
	case *statusNow:
		stats, err := opsStore.GetSiteStats()
		if err != nil {
			log.Fatalf("Site stats: %v", err)
		}
		for _, st := range stats {
			lastRun := "never"
			if st.LastRunAt != nil {
				lastRun = st.LastRunAt.Format(time.RFC3339)
			}
			log.Printf("%s: %d listings, %d price changes, last run %s (%s)",
				st.SiteID, st.TotalListings, st.TotalPriceChanges, lastRun, st.LastRunStatus)
		}
		logs, err := opsStore.GetRecentLogs(20)
		if err != nil {
			log.Fatalf("Recent logs: %v", err)
		}
		for _, l := range logs {
			log.Printf("  %s [%s] %s: %s",
				l.Timestamp.Format("2006-01-02 15:04:05"), l.Level, l.SiteID, l.Message)
		}
		return
	case *resetOps:
		if err := opsStore.ResetAllData(); err != nil {
			log.Fatalf("Reset failed: %v", err)
		}
		log.Println("Operational data cleared")
		return
	}

	// Daemon mode
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := scheduler.New(cfg, orchestrator, opsStore)
	sched.SetWorkers(archiveWorker, trackerWorker)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	go archiveWorker.Run(ctx, 24*time.Hour)
	log.Println("Archive worker started")
	go trackerWorker.Run(ctx, 12*time.Hour)
	log.Println("Tracker worker started")

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	trackerWorker.Stop()
	sched.Stop()
	log.Println("Goodbye!")
}
