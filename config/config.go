package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"car_scrooper/normalize"
)

type Config struct {
	DBURL     string
	DBPath    string
	Proxy     ProxyConfig
	Scheduler SchedulerConfig
	Scraper   ScraperConfig
	Archive   ArchiveConfig
	Tracker   TrackerConfig
	Images    ImagesConfig
	LogLevel  string
	Sites     map[string]*SiteConfig
}

type ProxyConfig struct {
	Mode     string // none, oxylabs, custom
	Server   string
	Username string
	Password string
	Custom   []string // ip:port:user:pass entries
}

type SchedulerConfig struct {
	ScrapeCron  string
	ArchiveCron string
	TrackCron   string
	Interval    time.Duration
}

type ScraperConfig struct {
	DelayMinMS        int
	DelayMaxMS        int
	RetryLimit        int
	ListingsPerBatch  int // browser session reinit cadence
	NavigationTimeout time.Duration
}

type ArchiveConfig struct {
	Months int
	DryRun bool
}

type TrackerConfig struct {
	RecheckAfter     time.Duration
	ListingsPerBatch int
}

type ImagesConfig struct {
	Enabled    bool
	Dir        string
	S3Bucket   string
	S3Region   string
	S3Key      string
	S3Secret   string
	S3Endpoint string
}

// SiteConfig describes one marketplace integration: its table set, its
// DOM selectors, and the tokens used when fields come back empty.
type SiteConfig struct {
	ID                       string            `yaml:"id"`
	Name                     string            `yaml:"name"`
	BaseURL                  string            `yaml:"base_url"`
	ListingTable             string            `yaml:"listing_table"`
	PriceHistoryTable        string            `yaml:"price_history_table"`
	ListingArchiveTable      string            `yaml:"listing_archive_table"`
	PriceHistoryArchiveTable string            `yaml:"price_history_archive_table"`
	ActivePathFragment       string            `yaml:"active_path_fragment"`
	SoldIndicators           []string          `yaml:"sold_indicators"`
	Selectors                map[string]string `yaml:"selectors"`
	RateLimitMS              int               `yaml:"rate_limit_ms"`
	Policy                   normalize.Policy  `yaml:"policy"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBURL:  os.Getenv("DATABASE_URL"),
		DBPath: getEnv("DB_PATH", "scraper.db"),
		Proxy: ProxyConfig{
			Mode:     getEnv("PROXY_MODE", "none"),
			Server:   os.Getenv("PROXY_SERVER"),
			Username: os.Getenv("PROXY_USERNAME"),
			Password: os.Getenv("PROXY_PASSWORD"),
			Custom:   splitNonEmpty(os.Getenv("CUSTOM_PROXIES")),
		},
		Scheduler: SchedulerConfig{
			ScrapeCron:  os.Getenv("SCRAPE_CRON"),
			ArchiveCron: os.Getenv("ARCHIVE_CRON"),
			TrackCron:   os.Getenv("TRACK_CRON"),
		},
		Scraper: ScraperConfig{
			DelayMinMS:        getEnvInt("SCRAPE_DELAY_MIN_MS", 3000),
			DelayMaxMS:        getEnvInt("SCRAPE_DELAY_MAX_MS", 12000),
			RetryLimit:        getEnvInt("SCRAPE_RETRY_LIMIT", 3),
			ListingsPerBatch:  getEnvInt("SCRAPE_LISTINGS_PER_BATCH", 15),
			NavigationTimeout: time.Duration(getEnvInt("SCRAPE_NAV_TIMEOUT_SEC", 90)) * time.Second,
		},
		Archive: ArchiveConfig{
			Months: getEnvInt("ARCHIVE_MONTHS", 3),
			DryRun: os.Getenv("ARCHIVE_DRY_RUN") == "true",
		},
		Tracker: TrackerConfig{
			RecheckAfter:     time.Duration(getEnvInt("TRACK_RECHECK_DAYS", 30)) * 24 * time.Hour,
			ListingsPerBatch: getEnvInt("TRACK_LISTINGS_PER_BATCH", 15),
		},
		Images: ImagesConfig{
			Enabled:    os.Getenv("IMAGES_DOWNLOAD") == "true",
			Dir:        getEnv("IMAGES_DIR", "images"),
			S3Bucket:   os.Getenv("IMAGES_S3_BUCKET"),
			S3Region:   getEnv("IMAGES_S3_REGION", "ap-southeast-1"),
			S3Key:      os.Getenv("IMAGES_S3_ACCESS_KEY"),
			S3Secret:   os.Getenv("IMAGES_S3_SECRET_KEY"),
			S3Endpoint: os.Getenv("IMAGES_S3_ENDPOINT"),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Sites:    make(map[string]*SiteConfig),
	}

	if cfg.DBURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if interval := os.Getenv("SCRAPE_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Scheduler.Interval = d
		}
	}

	if err := cfg.loadSiteConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadSiteConfigs() error {
	configDir := "config/sites"
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var site SiteConfig
		if err := yaml.Unmarshal(data, &site); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if err := site.Validate(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		c.Sites[site.ID] = &site
	}

	return nil
}

// Validate rejects site configs with missing identity or table names. Table
// identifiers end up interpolated into SQL, so they are checked again by the
// storage layer against a strict pattern.
func (s *SiteConfig) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("site id is required")
	}
	if s.ListingTable == "" || s.PriceHistoryTable == "" {
		return fmt.Errorf("site %s: listing_table and price_history_table are required", s.ID)
	}
	if s.ListingArchiveTable == "" {
		s.ListingArchiveTable = s.ListingTable + "_archive"
	}
	if s.PriceHistoryArchiveTable == "" {
		s.PriceHistoryArchiveTable = s.PriceHistoryTable + "_archive"
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitNonEmpty(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
