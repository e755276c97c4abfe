package models

import (
	"time"
)

// Listing status
const (
	StatusActive  = "active"
	StatusSold    = "sold"
	StatusUnknown = "unknown"
)

// CarListing is one scraped marketplace advertisement, identified by its URL.
// The same URL always maps to the same row; re-scrapes update in place and
// bump Version.
type CarListing struct {
	ID                 int64      `json:"id" db:"id"`
	ListingURL         string     `json:"listing_url" db:"listing_url"`
	Brand              string     `json:"brand" db:"brand"`
	ModelGroup         string     `json:"model_group" db:"model_group"`
	Model              string     `json:"model" db:"model"`
	Variant            string     `json:"variant" db:"variant"`
	InformationAds     string     `json:"information_ads" db:"information_ads"`
	InformationAdsDate *time.Time `json:"information_ads_date" db:"information_ads_date"`
	Location           string     `json:"location" db:"location"`
	Condition          string     `json:"condition" db:"condition"`
	Price              int        `json:"price" db:"price"`
	Year               int        `json:"year" db:"year"`
	Mileage            int        `json:"mileage" db:"mileage"`
	Transmission       string     `json:"transmission" db:"transmission"`
	SeatCapacity       string     `json:"seat_capacity" db:"seat_capacity"`
	EngineCC           int        `json:"engine_cc" db:"engine_cc"`
	FuelType           string     `json:"fuel_type" db:"fuel_type"`
	Images             []string   `json:"images" db:"images"` // stored as JSON text
	Status             string     `json:"status" db:"status"`
	Version            int        `json:"version" db:"version"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	LastScrapedAt      *time.Time `json:"last_scraped_at" db:"last_scraped_at"`
	LastStatusCheck    *time.Time `json:"last_status_check" db:"last_status_check"`
	SoldAt             *time.Time `json:"sold_at" db:"sold_at"`
}

// PriceHistory is one entry in the append-only price-change ledger. Entries
// reference the listing by URL, not by surrogate id, so history survives the
// live/archive move.
type PriceHistory struct {
	ID         int64     `json:"id" db:"id"`
	ListingURL string    `json:"listing_url" db:"listing_url"`
	OldPrice   int       `json:"old_price" db:"old_price"`
	NewPrice   int       `json:"new_price" db:"new_price"`
	ChangedAt  time.Time `json:"changed_at" db:"changed_at"`
}

// ArchivedPriceHistory is a ledger entry after migration to the archive twin.
type ArchivedPriceHistory struct {
	PriceHistory
	ArchivedAt time.Time `json:"archived_at" db:"archived_at"`
}

// ListingRecord is the raw output of a site extractor: a flat bag of strings
// exactly as they appeared on the page. Values may be empty or placeholder
// junk ("N/A", "-"); normalization happens in the upsert engine, not here.
type ListingRecord struct {
	ListingURL     string   `json:"listing_url"`
	Brand          string   `json:"brand"`
	ModelGroup     string   `json:"model_group"`
	Model          string   `json:"model"`
	Variant        string   `json:"variant"`
	InformationAds string   `json:"information_ads"`
	Location       string   `json:"location"`
	Condition      string   `json:"condition"`
	Price          string   `json:"price"`
	Year           string   `json:"year"`
	Mileage        string   `json:"mileage"`
	Transmission   string   `json:"transmission"`
	SeatCapacity   string   `json:"seat_capacity"`
	EngineCC       string   `json:"engine_cc"`
	FuelType       string   `json:"fuel_type"`
	Images         []string `json:"images"`
}
