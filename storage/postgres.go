package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"car_scrooper/models"
)

// identRegex is the only shape of table name the store will interpolate into
// SQL. Table names come from site YAML at startup, never from user input.
var identRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// TableSet names the four tables belonging to one marketplace: the live
// listing table, its price-history ledger, and their archive twins.
type TableSet struct {
	Listing             string
	PriceHistory        string
	ListingArchive      string
	PriceHistoryArchive string
}

func NewTableSet(listing, priceHistory, listingArchive, priceHistoryArchive string) (TableSet, error) {
	ts := TableSet{
		Listing:             listing,
		PriceHistory:        priceHistory,
		ListingArchive:      listingArchive,
		PriceHistoryArchive: priceHistoryArchive,
	}
	for _, name := range []string{listing, priceHistory, listingArchive, priceHistoryArchive} {
		if !identRegex.MatchString(name) {
			return TableSet{}, fmt.Errorf("invalid table identifier %q", name)
		}
	}
	return ts, nil
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// ForSite returns a store view bound to one marketplace's table set.
func (s *PostgresStore) ForSite(ts TableSet) *SiteStore {
	return &SiteStore{pool: s.pool, tables: ts}
}

// EnsureSchema creates the live and archive tables for one marketplace.
// The price-history FK cascades on listing delete; the archiver must copy
// history out before deleting listings, or it is gone.
func (s *PostgresStore) EnsureSchema(ctx context.Context, ts TableSet) error {
	stmts := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				listing_url TEXT UNIQUE NOT NULL,
				brand TEXT,
				model_group TEXT,
				model TEXT,
				variant TEXT,
				information_ads TEXT,
				information_ads_date DATE,
				location TEXT,
				condition TEXT,
				price INTEGER,
				year INTEGER,
				mileage INTEGER,
				transmission TEXT,
				seat_capacity TEXT,
				engine_cc INTEGER,
				fuel_type TEXT,
				images TEXT,
				status TEXT DEFAULT 'active',
				version INTEGER DEFAULT 1,
				created_at TIMESTAMPTZ DEFAULT NOW(),
				last_scraped_at TIMESTAMPTZ,
				last_status_check TIMESTAMPTZ,
				sold_at TIMESTAMPTZ
			)`, ts.Listing),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				listing_url TEXT NOT NULL REFERENCES %s (listing_url) ON DELETE CASCADE,
				old_price INTEGER,
				new_price INTEGER,
				changed_at TIMESTAMPTZ DEFAULT NOW()
			)`, ts.PriceHistory, ts.Listing),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				listing_url TEXT UNIQUE NOT NULL,
				brand TEXT,
				model_group TEXT,
				model TEXT,
				variant TEXT,
				information_ads TEXT,
				information_ads_date DATE,
				location TEXT,
				condition TEXT,
				price INTEGER,
				year INTEGER,
				mileage INTEGER,
				transmission TEXT,
				seat_capacity TEXT,
				engine_cc INTEGER,
				fuel_type TEXT,
				images TEXT,
				status TEXT,
				version INTEGER,
				created_at TIMESTAMPTZ,
				last_scraped_at TIMESTAMPTZ,
				last_status_check TIMESTAMPTZ,
				sold_at TIMESTAMPTZ,
				archived_at TIMESTAMPTZ DEFAULT NOW()
			)`, ts.ListingArchive),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id BIGSERIAL PRIMARY KEY,
				listing_url TEXT NOT NULL,
				old_price INTEGER,
				new_price INTEGER,
				changed_at TIMESTAMPTZ,
				archived_at TIMESTAMPTZ DEFAULT NOW()
			)`, ts.PriceHistoryArchive),
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// SiteStore is the persistence surface for one marketplace. Its Transact
// method hands the same row operations to a callback inside a single
// transaction.
type SiteStore struct {
	pool   *pgxpool.Pool
	tables TableSet
}

func (s *SiteStore) Tables() TableSet {
	return s.tables
}

func (s *SiteStore) Transact(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	view := &siteTx{tx: tx, tables: s.tables}
	if err := fn(view); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit(ctx)
}

func (s *SiteStore) GetListingByURL(ctx context.Context, url string) (*models.CarListing, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE listing_url = $1`, listingColumns, s.tables.Listing)
	l, err := scanListing(s.pool.QueryRow(ctx, query, url))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// ListTrackable selects listings due for a status re-check: never sold, id
// at or past startID, and either never checked or checked before the
// recheck horizon. statusFilter narrows to one status; "" means all.
func (s *SiteStore) ListTrackable(ctx context.Context, startID int64, statusFilter string, recheckBefore time.Time) ([]models.CarListing, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE id >= $1 AND status != 'sold'
		AND (last_status_check IS NULL OR last_status_check < $2)`,
		listingColumns, s.tables.Listing)
	args := []any{startID, recheckBefore}

	if statusFilter != "" {
		query += " AND status = $3"
		args = append(args, statusFilter)
	}
	query += " ORDER BY id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectListings(rows)
}

// ListIncomplete selects listings with missing descriptive fields, for the
// null-repair pass.
func (s *SiteStore) ListIncomplete(ctx context.Context, limit int) ([]models.CarListing, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE status != 'sold' AND (
			brand IS NULL OR brand = '' OR model IS NULL OR model = ''
			OR variant IS NULL OR variant = '' OR price IS NULL OR price = 0
		)
		ORDER BY id
		LIMIT $1`, listingColumns, s.tables.Listing)

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectListings(rows)
}

func (s *SiteStore) SetStatus(ctx context.Context, id int64, status string, soldAt *time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET status = $2, sold_at = COALESCE($3, sold_at), last_status_check = NOW()
		WHERE id = $1`, s.tables.Listing)
	_, err := s.pool.Exec(ctx, query, id, status, soldAt)
	return err
}

// CountAged reports how many listing and price-history rows a migration at
// the given cutoff would move. Used by the archive dry run.
func (s *SiteStore) CountAged(ctx context.Context, cutoff time.Time) (listings, history int64, err error) {
	q1 := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE information_ads_date < $1`, s.tables.Listing)
	if err = s.pool.QueryRow(ctx, q1, cutoff).Scan(&listings); err != nil {
		return 0, 0, err
	}

	q2 := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s ph
		WHERE EXISTS (
			SELECT 1 FROM %s c
			WHERE c.listing_url = ph.listing_url AND c.information_ads_date < $1
		)`, s.tables.PriceHistory, s.tables.Listing)
	if err = s.pool.QueryRow(ctx, q2, cutoff).Scan(&history); err != nil {
		return 0, 0, err
	}
	return listings, history, nil
}

// ArchiveStats reports archive row counts and the archived_at range, for the
// statistics report printed around archive runs.
type ArchiveStats struct {
	Table    string
	Rows     int64
	Earliest *time.Time
	Latest   *time.Time
}

func (s *SiteStore) ArchiveStatistics(ctx context.Context) ([]ArchiveStats, error) {
	var out []ArchiveStats
	for _, table := range []string{s.tables.ListingArchive, s.tables.PriceHistoryArchive} {
		stat := ArchiveStats{Table: table}
		query := fmt.Sprintf(`SELECT COUNT(*), MIN(archived_at), MAX(archived_at) FROM %s`, table)
		if err := s.pool.QueryRow(ctx, query).Scan(&stat.Rows, &stat.Earliest, &stat.Latest); err != nil {
			return nil, err
		}
		out = append(out, stat)
	}
	return out, nil
}

// =============================================================================
// Transactional view
// =============================================================================

const listingColumns = `
	id, listing_url, COALESCE(brand, ''), COALESCE(model_group, ''), COALESCE(model, ''),
	COALESCE(variant, ''), COALESCE(information_ads, ''), information_ads_date,
	COALESCE(location, ''), COALESCE(condition, ''), COALESCE(price, 0), COALESCE(year, 0),
	COALESCE(mileage, 0), COALESCE(transmission, ''), COALESCE(seat_capacity, ''),
	COALESCE(engine_cc, 0), COALESCE(fuel_type, ''), COALESCE(images, '[]'),
	COALESCE(status, 'active'), COALESCE(version, 1), created_at, last_scraped_at,
	last_status_check, sold_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*models.CarListing, error) {
	var l models.CarListing
	var imagesJSON string
	err := row.Scan(
		&l.ID, &l.ListingURL, &l.Brand, &l.ModelGroup, &l.Model,
		&l.Variant, &l.InformationAds, &l.InformationAdsDate,
		&l.Location, &l.Condition, &l.Price, &l.Year,
		&l.Mileage, &l.Transmission, &l.SeatCapacity,
		&l.EngineCC, &l.FuelType, &imagesJSON,
		&l.Status, &l.Version, &l.CreatedAt, &l.LastScrapedAt,
		&l.LastStatusCheck, &l.SoldAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(imagesJSON), &l.Images); err != nil {
		l.Images = nil
	}
	return &l, nil
}

func collectListings(rows pgx.Rows) ([]models.CarListing, error) {
	var listings []models.CarListing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

type siteTx struct {
	tx     pgx.Tx
	tables TableSet
}

func (t *siteTx) exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *siteTx) GetListingByURL(ctx context.Context, url string) (*models.CarListing, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE listing_url = $1`, listingColumns, t.tables.Listing)
	l, err := scanListing(t.tx.QueryRow(ctx, query, url))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (t *siteTx) InsertListing(ctx context.Context, l *models.CarListing) error {
	images, _ := json.Marshal(l.Images)
	query := fmt.Sprintf(`
		INSERT INTO %s (
			listing_url, brand, model_group, model, variant, information_ads,
			information_ads_date, location, condition, price, year, mileage,
			transmission, seat_capacity, engine_cc, fuel_type, images, status,
			version, created_at, last_scraped_at, last_status_check
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22
		)
		RETURNING id`, t.tables.Listing)

	return t.tx.QueryRow(ctx, query,
		l.ListingURL, l.Brand, l.ModelGroup, l.Model, l.Variant, l.InformationAds,
		l.InformationAdsDate, l.Location, l.Condition, l.Price, l.Year, l.Mileage,
		l.Transmission, l.SeatCapacity, l.EngineCC, l.FuelType, string(images), l.Status,
		l.Version, l.CreatedAt, l.LastScrapedAt, l.LastStatusCheck,
	).Scan(&l.ID)
}

func (t *siteTx) UpdateListing(ctx context.Context, l *models.CarListing) error {
	images, _ := json.Marshal(l.Images)
	// information_ads_date is first-seen: COALESCE keeps the stored value
	// whenever one exists.
	query := fmt.Sprintf(`
		UPDATE %s SET
			brand = $2, model_group = $3, model = $4, variant = $5,
			information_ads = $6, information_ads_date = COALESCE(information_ads_date, $7),
			location = $8, condition = $9, price = $10, year = $11, mileage = $12,
			transmission = $13, seat_capacity = $14, engine_cc = $15, fuel_type = $16,
			images = $17, status = $18, version = $19, last_scraped_at = $20
		WHERE id = $1`, t.tables.Listing)

	_, err := t.exec(ctx, query,
		l.ID, l.Brand, l.ModelGroup, l.Model, l.Variant,
		l.InformationAds, l.InformationAdsDate,
		l.Location, l.Condition, l.Price, l.Year, l.Mileage,
		l.Transmission, l.SeatCapacity, l.EngineCC, l.FuelType,
		string(images), l.Status, l.Version, l.LastScrapedAt,
	)
	return err
}

func (t *siteTx) InsertPriceHistory(ctx context.Context, h *models.PriceHistory) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (listing_url, old_price, new_price, changed_at)
		VALUES ($1, $2, $3, $4)`, t.tables.PriceHistory)
	_, err := t.exec(ctx, query, h.ListingURL, h.OldPrice, h.NewPrice, h.ChangedAt)
	return err
}

// CopyAgedPriceHistory copies the ledger rows of aged listings into the
// archive ledger. Must run before any live listing row is deleted; the FK
// cascade would otherwise destroy these rows.
func (t *siteTx) CopyAgedPriceHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (listing_url, old_price, new_price, changed_at, archived_at)
		SELECT ph.listing_url, ph.old_price, ph.new_price, ph.changed_at, NOW()
		FROM %s ph
		WHERE EXISTS (
			SELECT 1 FROM %s c
			WHERE c.listing_url = ph.listing_url AND c.information_ads_date < $1
		)`, t.tables.PriceHistoryArchive, t.tables.PriceHistory, t.tables.Listing)
	return t.exec(ctx, query, cutoff)
}

func (t *siteTx) DeleteAgedPriceHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s ph
		WHERE EXISTS (
			SELECT 1 FROM %s c
			WHERE c.listing_url = ph.listing_url AND c.information_ads_date < $1
		)`, t.tables.PriceHistory, t.tables.Listing)
	return t.exec(ctx, query, cutoff)
}

// ReconcileArchivePrices records a price delta for listings that were
// archived before, came back live with a different price, and are about to
// be archived again. Idempotent on (listing_url, old_price, new_price).
func (t *siteTx) ReconcileArchivePrices(ctx context.Context, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (listing_url, old_price, new_price, changed_at, archived_at)
		SELECT c.listing_url, a.price, c.price, NOW(), NOW()
		FROM %s c
		JOIN %s a ON a.listing_url = c.listing_url
		WHERE c.information_ads_date < $1
		  AND a.price IS DISTINCT FROM c.price
		  AND NOT EXISTS (
			SELECT 1 FROM %s ph
			WHERE ph.listing_url = c.listing_url
			  AND ph.old_price = a.price
			  AND ph.new_price = c.price
		  )`,
		t.tables.PriceHistoryArchive, t.tables.Listing,
		t.tables.ListingArchive, t.tables.PriceHistoryArchive)
	return t.exec(ctx, query, cutoff)
}

// CopyAgedListings upserts aged live rows into the archive. A re-archived
// URL keeps its existing archived values wherever the incoming row is null,
// and an all-null incoming row does not touch the archived record at all.
func (t *siteTx) CopyAgedListings(ctx context.Context, cutoff time.Time) (int64, error) {
	a := t.tables.ListingArchive
	query := fmt.Sprintf(`
		INSERT INTO %s (
			listing_url, brand, model_group, model, variant, information_ads,
			information_ads_date, location, condition, price, year, mileage,
			transmission, seat_capacity, engine_cc, fuel_type, images, status,
			version, created_at, last_scraped_at, last_status_check, sold_at, archived_at
		)
		SELECT
			listing_url, brand, model_group, model, variant, information_ads,
			information_ads_date, location, condition, price, year, mileage,
			transmission, seat_capacity, engine_cc, fuel_type, images, status,
			version, created_at, last_scraped_at, last_status_check, sold_at, NOW()
		FROM %s
		WHERE information_ads_date < $1
		ON CONFLICT (listing_url) DO UPDATE SET
			brand = COALESCE(EXCLUDED.brand, %s.brand),
			model_group = COALESCE(EXCLUDED.model_group, %s.model_group),
			model = COALESCE(EXCLUDED.model, %s.model),
			variant = COALESCE(EXCLUDED.variant, %s.variant),
			information_ads = COALESCE(EXCLUDED.information_ads, %s.information_ads),
			information_ads_date = COALESCE(EXCLUDED.information_ads_date, %s.information_ads_date),
			location = COALESCE(EXCLUDED.location, %s.location),
			condition = COALESCE(EXCLUDED.condition, %s.condition),
			price = COALESCE(EXCLUDED.price, %s.price),
			year = COALESCE(EXCLUDED.year, %s.year),
			mileage = COALESCE(EXCLUDED.mileage, %s.mileage),
			transmission = COALESCE(EXCLUDED.transmission, %s.transmission),
			seat_capacity = COALESCE(EXCLUDED.seat_capacity, %s.seat_capacity),
			engine_cc = COALESCE(EXCLUDED.engine_cc, %s.engine_cc),
			fuel_type = COALESCE(EXCLUDED.fuel_type, %s.fuel_type),
			images = COALESCE(EXCLUDED.images, %s.images),
			status = COALESCE(EXCLUDED.status, %s.status),
			version = COALESCE(EXCLUDED.version, %s.version),
			last_scraped_at = COALESCE(EXCLUDED.last_scraped_at, %s.last_scraped_at),
			last_status_check = COALESCE(EXCLUDED.last_status_check, %s.last_status_check),
			sold_at = COALESCE(EXCLUDED.sold_at, %s.sold_at),
			archived_at = NOW()
		WHERE NOT (
			EXCLUDED.brand IS NULL AND EXCLUDED.model IS NULL AND EXCLUDED.variant IS NULL
			AND EXCLUDED.price IS NULL AND EXCLUDED.mileage IS NULL AND EXCLUDED.year IS NULL
		)`,
		a, t.tables.Listing,
		a, a, a, a, a, a, a, a, a, a, a, a, a, a, a, a, a, a, a, a, a)
	return t.exec(ctx, query, cutoff)
}

func (t *siteTx) DeleteAgedListings(ctx context.Context, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE information_ads_date < $1`, t.tables.Listing)
	return t.exec(ctx, query, cutoff)
}
