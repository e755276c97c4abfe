package workers

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"car_scrooper/models"
	"car_scrooper/storage"
)

// S3Uploader interface for mirroring photos to S3-compatible storage
type S3Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
	PublicURL(key string) string
}

// ImageWorker downloads listing photos into a BRAND/MODEL/VARIANT/listing-id
// tree on disk, optionally mirroring each file to S3. Outcomes land in the
// download checkpoint so finished listings are not re-fetched.
type ImageWorker struct {
	ops        *storage.SQLiteStore
	httpClient *http.Client
	uploader   S3Uploader
	baseDir    string
	siteID     string
	logFunc    LogFunc
}

func NewImageWorker(ops *storage.SQLiteStore, httpClient *http.Client, uploader S3Uploader, baseDir, siteID string) *ImageWorker {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &ImageWorker{
		ops:        ops,
		httpClient: httpClient,
		uploader:   uploader,
		baseDir:    baseDir,
		siteID:     siteID,
		logFunc:    NoOpLogger,
	}
}

func (w *ImageWorker) SetLogger(fn LogFunc) {
	w.logFunc = fn
}

// Process downloads the photos of one listing. Listings already checkpointed
// as SUCCESS are skipped; PARTIAL and FAILED ones are retried from scratch.
func (w *ImageWorker) Process(ctx context.Context, listing *models.CarListing) (*models.DownloadRecord, error) {
	status, err := w.ops.GetDownloadStatus(listing.ID, w.siteID)
	if err != nil {
		return nil, fmt.Errorf("download checkpoint: %w", err)
	}
	if status == models.DownloadSuccess {
		return nil, nil
	}

	dir := w.listingDir(listing)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	rec := &models.DownloadRecord{
		ListingID: listing.ID,
		SiteID:    w.siteID,
		Total:     len(listing.Images),
	}

	for i, imageURL := range listing.Images {
		if ctx.Err() != nil {
			break
		}
		name := fmt.Sprintf("%03d%s", i+1, extension(imageURL))
		if err := w.downloadOne(ctx, imageURL, filepath.Join(dir, name), listing.ID); err != nil {
			log.Printf("Warning: [%s] image %s: %v", w.siteID, imageURL, err)
			continue
		}
		rec.Saved++
	}

	switch {
	case rec.Total == 0 || rec.Saved == rec.Total:
		rec.Status = models.DownloadSuccess
	case rec.Saved > 0:
		rec.Status = models.DownloadPartial
	default:
		rec.Status = models.DownloadFailed
	}

	if err := w.ops.RecordDownload(rec); err != nil {
		return rec, fmt.Errorf("record download: %w", err)
	}
	w.logFunc(models.LogLevelInfo, w.siteID,
		fmt.Sprintf("Images for listing %d: %s (%d/%d)", listing.ID, rec.Status, rec.Saved, rec.Total))
	return rec, nil
}

// ProcessBatch walks a slice of listings and tallies outcomes.
func (w *ImageWorker) ProcessBatch(ctx context.Context, listings []models.CarListing) (succeeded, partial, failed int) {
	for i := range listings {
		if ctx.Err() != nil {
			return
		}
		rec, err := w.Process(ctx, &listings[i])
		if err != nil {
			log.Printf("Warning: [%s] images for listing %d: %v", w.siteID, listings[i].ID, err)
			failed++
			continue
		}
		if rec == nil {
			continue
		}
		switch rec.Status {
		case models.DownloadSuccess:
			succeeded++
		case models.DownloadPartial:
			partial++
		default:
			failed++
		}
	}
	return
}

func (w *ImageWorker) downloadOne(ctx context.Context, imageURL, dest string, listingID int64) error {
	req, err := http.NewRequestWithContext(ctx, "GET", imageURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "image/*,*/*")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 20*1024*1024))
	if err != nil {
		return err
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return err
	}

	if w.uploader != nil {
		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "image/jpeg"
		}
		key := fmt.Sprintf("%s/%d/%s", w.siteID, listingID, filepath.Base(dest))
		if err := w.uploader.Upload(ctx, key, strings.NewReader(string(data)), contentType); err != nil {
			log.Printf("Warning: [%s] mirror %s: %v", w.siteID, key, err)
		} else {
			log.Printf("[%s] mirrored %s", w.siteID, w.uploader.PublicURL(key))
		}
	}
	return nil
}

func (w *ImageWorker) listingDir(listing *models.CarListing) string {
	return filepath.Join(w.baseDir, w.siteID,
		pathSegment(listing.Brand),
		pathSegment(listing.Model),
		pathSegment(listing.Variant),
		fmt.Sprintf("%d", listing.ID))
}

// pathSegment makes a normalized field safe as a directory name.
func pathSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "UNKNOWN"
	}
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, string(os.PathSeparator), "_")
	return s
}

func extension(imageURL string) string {
	ext := strings.ToLower(path.Ext(imageURL))
	if i := strings.IndexAny(ext, "?#"); i >= 0 {
		ext = ext[:i]
	}
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif":
		return ext
	default:
		return ".jpg"
	}
}
