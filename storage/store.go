package storage

import (
	"context"
	"time"

	"car_scrooper/models"
)

// Store is the per-site persistence surface the services depend on. The
// production implementation is SiteStore over a pgx pool; tests swap in
// in-memory fakes.
type Store interface {
	Transact(ctx context.Context, fn func(Tx) error) error
	GetListingByURL(ctx context.Context, url string) (*models.CarListing, error)
	ListTrackable(ctx context.Context, startID int64, statusFilter string, recheckBefore time.Time) ([]models.CarListing, error)
	ListIncomplete(ctx context.Context, limit int) ([]models.CarListing, error)
	SetStatus(ctx context.Context, id int64, status string, soldAt *time.Time) error
	CountAged(ctx context.Context, cutoff time.Time) (listings, history int64, err error)
	ArchiveStatistics(ctx context.Context) ([]ArchiveStats, error)
}

// Tx is the row-level operation set available inside one transaction. The
// aged-row operations return rows affected so the archiver can report counts.
type Tx interface {
	GetListingByURL(ctx context.Context, url string) (*models.CarListing, error)
	InsertListing(ctx context.Context, l *models.CarListing) error
	UpdateListing(ctx context.Context, l *models.CarListing) error
	InsertPriceHistory(ctx context.Context, h *models.PriceHistory) error

	CopyAgedPriceHistory(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteAgedPriceHistory(ctx context.Context, cutoff time.Time) (int64, error)
	ReconcileArchivePrices(ctx context.Context, cutoff time.Time) (int64, error)
	CopyAgedListings(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteAgedListings(ctx context.Context, cutoff time.Time) (int64, error)
}

var (
	_ Store = (*SiteStore)(nil)
	_ Tx    = (*siteTx)(nil)
)
