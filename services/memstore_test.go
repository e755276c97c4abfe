package services

import (
	"context"
	"time"

	"car_scrooper/models"
	"car_scrooper/storage"
)

// memStore is an in-memory stand-in for one site's Postgres tables. It
// mirrors the semantics the services rely on, including the FK cascade that
// wipes live price history when a listing row is deleted.
type memStore struct {
	listings    []models.CarListing
	history     []models.PriceHistory
	archive     map[string]models.CarListing
	archHistory []models.ArchivedPriceHistory
	nextID      int64
}

func newMemStore() *memStore {
	return &memStore{archive: make(map[string]models.CarListing), nextID: 1}
}

func (m *memStore) Transact(ctx context.Context, fn func(storage.Tx) error) error {
	return fn(m)
}

func (m *memStore) GetListingByURL(ctx context.Context, url string) (*models.CarListing, error) {
	for i := range m.listings {
		if m.listings[i].ListingURL == url {
			l := m.listings[i]
			return &l, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListTrackable(ctx context.Context, startID int64, statusFilter string, recheckBefore time.Time) ([]models.CarListing, error) {
	var out []models.CarListing
	for _, l := range m.listings {
		if l.ID < startID || l.Status == models.StatusSold {
			continue
		}
		if l.LastStatusCheck != nil && !l.LastStatusCheck.Before(recheckBefore) {
			continue
		}
		if statusFilter != "" && l.Status != statusFilter {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (m *memStore) ListIncomplete(ctx context.Context, limit int) ([]models.CarListing, error) {
	var out []models.CarListing
	for _, l := range m.listings {
		if l.Status == models.StatusSold {
			continue
		}
		if l.Brand == "" || l.Model == "" || l.Variant == "" || l.Price == 0 {
			out = append(out, l)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) SetStatus(ctx context.Context, id int64, status string, soldAt *time.Time) error {
	now := time.Now()
	for i := range m.listings {
		if m.listings[i].ID == id {
			m.listings[i].Status = status
			if soldAt != nil {
				m.listings[i].SoldAt = soldAt
			}
			m.listings[i].LastStatusCheck = &now
		}
	}
	return nil
}

func (m *memStore) CountAged(ctx context.Context, cutoff time.Time) (int64, int64, error) {
	var listings, history int64
	for _, l := range m.listings {
		if m.isAged(l, cutoff) {
			listings++
		}
	}
	for _, h := range m.history {
		if m.agedURL(h.ListingURL, cutoff) {
			history++
		}
	}
	return listings, history, nil
}

func (m *memStore) ArchiveStatistics(ctx context.Context) ([]storage.ArchiveStats, error) {
	return []storage.ArchiveStats{
		{Table: "listing_archive", Rows: int64(len(m.archive))},
		{Table: "price_history_archive", Rows: int64(len(m.archHistory))},
	}, nil
}

func (m *memStore) isAged(l models.CarListing, cutoff time.Time) bool {
	return l.InformationAdsDate != nil && l.InformationAdsDate.Before(cutoff)
}

func (m *memStore) agedURL(url string, cutoff time.Time) bool {
	for _, l := range m.listings {
		if l.ListingURL == url && m.isAged(l, cutoff) {
			return true
		}
	}
	return false
}

// Tx operations. memStore acts as its own transaction.

func (m *memStore) InsertListing(ctx context.Context, l *models.CarListing) error {
	l.ID = m.nextID
	m.nextID++
	m.listings = append(m.listings, *l)
	return nil
}

func (m *memStore) UpdateListing(ctx context.Context, l *models.CarListing) error {
	for i := range m.listings {
		if m.listings[i].ID == l.ID {
			date := m.listings[i].InformationAdsDate
			m.listings[i] = *l
			if date != nil {
				m.listings[i].InformationAdsDate = date
			}
		}
	}
	return nil
}

func (m *memStore) InsertPriceHistory(ctx context.Context, h *models.PriceHistory) error {
	h.ID = m.nextID
	m.nextID++
	m.history = append(m.history, *h)
	return nil
}

func (m *memStore) CopyAgedPriceHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for _, h := range m.history {
		if m.agedURL(h.ListingURL, cutoff) {
			m.archHistory = append(m.archHistory, models.ArchivedPriceHistory{
				PriceHistory: h, ArchivedAt: time.Now(),
			})
			n++
		}
	}
	return n, nil
}

func (m *memStore) DeleteAgedPriceHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	var kept []models.PriceHistory
	var n int64
	for _, h := range m.history {
		if m.agedURL(h.ListingURL, cutoff) {
			n++
			continue
		}
		kept = append(kept, h)
	}
	m.history = kept
	return n, nil
}

func (m *memStore) ReconcileArchivePrices(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for _, l := range m.listings {
		if !m.isAged(l, cutoff) {
			continue
		}
		prev, ok := m.archive[l.ListingURL]
		if !ok || prev.Price == l.Price {
			continue
		}
		exists := false
		for _, h := range m.archHistory {
			if h.ListingURL == l.ListingURL && h.OldPrice == prev.Price && h.NewPrice == l.Price {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		m.archHistory = append(m.archHistory, models.ArchivedPriceHistory{
			PriceHistory: models.PriceHistory{
				ListingURL: l.ListingURL, OldPrice: prev.Price, NewPrice: l.Price,
				ChangedAt: time.Now(),
			},
			ArchivedAt: time.Now(),
		})
		n++
	}
	return n, nil
}

func (m *memStore) CopyAgedListings(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for _, l := range m.listings {
		if !m.isAged(l, cutoff) {
			continue
		}
		prev, ok := m.archive[l.ListingURL]
		if !ok {
			m.archive[l.ListingURL] = l
			n++
			continue
		}
		if emptyDescriptive(l) {
			continue
		}
		m.archive[l.ListingURL] = coalesceListing(l, prev)
		n++
	}
	return n, nil
}

// DeleteAgedListings emulates the FK cascade: deleting a live listing also
// deletes its live price-history rows.
func (m *memStore) DeleteAgedListings(ctx context.Context, cutoff time.Time) (int64, error) {
	deleted := make(map[string]bool)
	var kept []models.CarListing
	var n int64
	for _, l := range m.listings {
		if m.isAged(l, cutoff) {
			deleted[l.ListingURL] = true
			n++
			continue
		}
		kept = append(kept, l)
	}
	m.listings = kept

	var keptHistory []models.PriceHistory
	for _, h := range m.history {
		if !deleted[h.ListingURL] {
			keptHistory = append(keptHistory, h)
		}
	}
	m.history = keptHistory
	return n, nil
}

func emptyDescriptive(l models.CarListing) bool {
	return l.Brand == "" && l.Model == "" && l.Variant == "" &&
		l.Price == 0 && l.Mileage == 0 && l.Year == 0
}

func coalesceListing(incoming, prev models.CarListing) models.CarListing {
	out := incoming
	if out.Brand == "" {
		out.Brand = prev.Brand
	}
	if out.ModelGroup == "" {
		out.ModelGroup = prev.ModelGroup
	}
	if out.Model == "" {
		out.Model = prev.Model
	}
	if out.Variant == "" {
		out.Variant = prev.Variant
	}
	if out.Price == 0 {
		out.Price = prev.Price
	}
	if out.Mileage == 0 {
		out.Mileage = prev.Mileage
	}
	if out.Year == 0 {
		out.Year = prev.Year
	}
	return out
}

// daysAgo builds an information_ads_date pointer n days in the past.
func daysAgo(n int) *time.Time {
	t := time.Now().AddDate(0, 0, -n)
	return &t
}

// scriptedProbe returns canned outcomes per URL, for tracker tests.
type scriptedProbe struct {
	outcomes map[string]*CheckOutcome
	failures map[string]int // remaining errors before success
	checks   int
	resets   int
}

func (p *scriptedProbe) Check(ctx context.Context, url string) (*CheckOutcome, error) {
	p.checks++
	if p.failures[url] > 0 {
		p.failures[url]--
		return nil, errProbe
	}
	if o, ok := p.outcomes[url]; ok {
		return o, nil
	}
	return &CheckOutcome{FinalURL: url}, nil
}

func (p *scriptedProbe) Reset(ctx context.Context) error {
	p.resets++
	return nil
}

var errProbe = probeError("navigation timeout")

type probeError string

func (e probeError) Error() string { return string(e) }
