package config

import "testing"

func TestSiteConfigValidateDefaults(t *testing.T) {
	site := &SiteConfig{
		ID:                "carlistmy",
		ListingTable:      "cars_scrap_carlistmy",
		PriceHistoryTable: "price_history_scrap_carlistmy",
	}
	if err := site.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if site.ListingArchiveTable != "cars_scrap_carlistmy_archive" {
		t.Fatalf("listing archive table = %q", site.ListingArchiveTable)
	}
	if site.PriceHistoryArchiveTable != "price_history_scrap_carlistmy_archive" {
		t.Fatalf("price history archive table = %q", site.PriceHistoryArchiveTable)
	}
}

func TestSiteConfigValidateRejectsMissing(t *testing.T) {
	if err := (&SiteConfig{}).Validate(); err == nil {
		t.Fatal("empty site config accepted")
	}
	site := &SiteConfig{ID: "x"}
	if err := site.Validate(); err == nil {
		t.Fatal("site without tables accepted")
	}
}
