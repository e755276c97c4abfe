package scraper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"car_scrooper/config"
)

func loadFixture(t *testing.T, name string) *goquery.Document {
	t.Helper()
	f, err := os.Open(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return doc
}

func carlistConfig() *config.SiteConfig {
	return &config.SiteConfig{
		ID:                 "carlistmy",
		BaseURL:            "https://www.carlist.my",
		ActivePathFragment: "used-cars",
		SoldIndicators:     []string{"This car has already been sold."},
		Selectors: map[string]string{
			"price":           "#details-gallery h3.u-color-white.u-text-bold",
			"title":           "div#listing-detail h1.u-text-5.u-text-bold",
			"mileage":         "div.owl-stage div:nth-child(3) span.u-text-bold",
			"transmission":    "div.owl-stage div:nth-child(6) span.u-text-bold",
			"information_ads": "div.listing__item-metadata span:nth-child(1)",
			"location":        "div.c-card__body div.listing__item-metadata span:nth-child(2)",
			"images":          "#details-gallery img",
		},
	}
}

func TestParseListingPage(t *testing.T) {
	doc := loadFixture(t, "carlistmy_detail.html")
	rec := ParseListingPage(doc, carlistConfig())

	if rec.Brand != "Honda" || rec.Model != "City" || rec.Variant != "1.5 V" {
		t.Fatalf("title split = %q/%q/%q", rec.Brand, rec.Model, rec.Variant)
	}
	if rec.Price != "RM 55,800" {
		t.Fatalf("price = %q", rec.Price)
	}
	if rec.Mileage != "45,000 - 50,000 km" {
		t.Fatalf("mileage = %q", rec.Mileage)
	}
	if rec.Transmission != "Automatic" {
		t.Fatalf("transmission = %q", rec.Transmission)
	}
	if rec.Location != "Kuala Lumpur" {
		t.Fatalf("location = %q", rec.Location)
	}
	if rec.InformationAds != "Posted on 12 Mar 2026" {
		t.Fatalf("information_ads = %q", rec.InformationAds)
	}
	// Only absolute URLs, src preferred over data-src.
	if len(rec.Images) != 3 {
		t.Fatalf("images = %v", rec.Images)
	}
}

func TestParseListingPageMissingSelectors(t *testing.T) {
	doc := loadFixture(t, "carlistmy_detail.html")
	site := carlistConfig()
	delete(site.Selectors, "mileage")
	site.Selectors["price"] = "div.does-not-exist"

	rec := ParseListingPage(doc, site)
	if rec.Mileage != "" || rec.Price != "" {
		t.Fatalf("missing selectors should yield empty fields, got mileage=%q price=%q", rec.Mileage, rec.Price)
	}
}

func TestSplitTitle(t *testing.T) {
	tests := []struct {
		title                             string
		brand, modelGroup, model, variant string
	}{
		{"2019 Honda City 1.5 V", "Honda", "City", "City", "1.5 V"},
		{"Perodua Myvi 1.3 X", "Perodua", "Myvi", "Myvi", "1.3 X"},
		{"2021 Toyota", "Toyota", "", "", ""},
		{"", "", "", "", ""},
	}
	for _, tt := range tests {
		brand, modelGroup, model, variant := SplitTitle(tt.title)
		if brand != tt.brand || modelGroup != tt.modelGroup || model != tt.model || variant != tt.variant {
			t.Errorf("SplitTitle(%q) = %q/%q/%q/%q, want %q/%q/%q/%q",
				tt.title, brand, modelGroup, model, variant,
				tt.brand, tt.modelGroup, tt.model, tt.variant)
		}
	}
}

func TestContainsSoldIndicator(t *testing.T) {
	sold := loadFixture(t, "carlistmy_sold.html")
	live := loadFixture(t, "carlistmy_detail.html")
	indicators := []string{"This car has already been sold."}

	if !ContainsSoldIndicator(sold, indicators) {
		t.Fatal("sold page not detected")
	}
	if ContainsSoldIndicator(live, indicators) {
		t.Fatal("live page flagged as sold")
	}
}

func TestIsChallengeTitle(t *testing.T) {
	if !IsChallengeTitle("Just a moment...") {
		t.Fatal("cloudflare interstitial not detected")
	}
	if IsChallengeTitle("2019 Honda City 1.5 V for sale") {
		t.Fatal("listing title flagged as challenge")
	}
}
