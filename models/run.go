package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

type ScrapeRun struct {
	ID            int64      `json:"id" db:"id"`
	SiteID        string     `json:"site_id" db:"site_id"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	FinishedAt    *time.Time `json:"finished_at" db:"finished_at"`
	Status        RunStatus  `json:"status" db:"status"`
	ListingsFound int        `json:"listings_found" db:"listings_found"`
	ListingsNew   int        `json:"listings_new" db:"listings_new"`
	PriceChanges  int        `json:"price_changes" db:"price_changes"`
	ErrorsCount   int        `json:"errors_count" db:"errors_count"`
}

type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

type ScrapeLog struct {
	ID        int64     `json:"id" db:"id"`
	RunID     *int64    `json:"run_id" db:"run_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Level     LogLevel  `json:"level" db:"level"`
	Message   string    `json:"message" db:"message"`
	SiteID    string    `json:"site_id" db:"site_id"`
}

type SiteStats struct {
	SiteID            string     `json:"site_id" db:"site_id"`
	LastRunAt         *time.Time `json:"last_run_at" db:"last_run_at"`
	LastRunStatus     string     `json:"last_run_status" db:"last_run_status"`
	TotalListings     int        `json:"total_listings" db:"total_listings"`
	TotalPriceChanges int        `json:"total_price_changes" db:"total_price_changes"`
	SuccessRate       float64    `json:"success_rate" db:"success_rate"`
	AvgRunDurationSec int        `json:"avg_run_duration_sec" db:"avg_run_duration_sec"`
	ResumePage        int        `json:"resume_page" db:"resume_page"`
}

// DownloadStatus is the outcome of an image download batch for one listing.
// The download log doubles as a resume checkpoint across runs.
type DownloadStatus string

const (
	DownloadSuccess DownloadStatus = "SUCCESS"
	DownloadPartial DownloadStatus = "PARTIAL"
	DownloadFailed  DownloadStatus = "FAILED"
)

type DownloadRecord struct {
	ListingID  int64          `json:"listing_id" db:"listing_id"`
	SiteID     string         `json:"site_id" db:"site_id"`
	Status     DownloadStatus `json:"status" db:"status"`
	Total      int            `json:"total" db:"total"`
	Saved      int            `json:"saved" db:"saved"`
	RecordedAt time.Time      `json:"recorded_at" db:"recorded_at"`
}
