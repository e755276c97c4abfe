package scraper

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"car_scrooper/config"
	"car_scrooper/models"
)

var leadingYearRegex = regexp.MustCompile(`^(19|20)\d{2}\s+`)

// ParseListingPage extracts a raw record from a listing detail page using
// the site's configured selectors. Missing selectors yield empty fields;
// normalization and fallbacks happen downstream.
func ParseListingPage(doc *goquery.Document, site *config.SiteConfig) *models.ListingRecord {
	sel := func(key string) string {
		s, ok := site.Selectors[key]
		if !ok {
			return ""
		}
		return strings.TrimSpace(doc.Find(s).First().Text())
	}

	rec := &models.ListingRecord{
		Price:          sel("price"),
		Mileage:        sel("mileage"),
		Transmission:   sel("transmission"),
		Year:           sel("year"),
		Location:       sel("location"),
		InformationAds: sel("information_ads"),
		Condition:      sel("condition"),
		SeatCapacity:   sel("seat_capacity"),
		EngineCC:       sel("engine_cc"),
		FuelType:       sel("fuel_type"),
	}

	title := sel("title")
	rec.Brand, rec.ModelGroup, rec.Model, rec.Variant = SplitTitle(title)
	if rec.Year == "" {
		rec.Year = title
	}

	if imgSel, ok := site.Selectors["images"]; ok {
		doc.Find(imgSel).Each(func(_ int, s *goquery.Selection) {
			src, ok := s.Attr("src")
			if !ok || src == "" {
				src, _ = s.Attr("data-src")
			}
			if src != "" && strings.HasPrefix(src, "http") {
				rec.Images = append(rec.Images, src)
			}
		})
	}

	return rec
}

// SplitTitle breaks a listing title like "2019 Honda City 1.5 V" into brand,
// model group, model and variant. The model group mirrors the model; the
// marketplaces only distinguish them for a handful of brands and the
// normalized fallback covers the rest.
func SplitTitle(title string) (brand, modelGroup, model, variant string) {
	t := leadingYearRegex.ReplaceAllString(strings.TrimSpace(title), "")
	fields := strings.Fields(t)
	if len(fields) == 0 {
		return "", "", "", ""
	}
	brand = fields[0]
	if len(fields) > 1 {
		model = fields[1]
		modelGroup = fields[1]
	}
	if len(fields) > 2 {
		variant = strings.Join(fields[2:], " ")
	}
	return brand, modelGroup, model, variant
}

// ContainsSoldIndicator reports whether any of the site's sold phrases
// appear in the page text.
func ContainsSoldIndicator(doc *goquery.Document, indicators []string) bool {
	body := doc.Find("body").Text()
	for _, phrase := range indicators {
		if phrase != "" && strings.Contains(body, phrase) {
			return true
		}
	}
	return false
}

// IsChallengeTitle reports whether the page title is an anti-bot
// interstitial rather than a listing.
func IsChallengeTitle(title string) bool {
	t := strings.ToLower(strings.TrimSpace(title))
	challenges := []string{
		"just a moment",
		"attention required",
		"access denied",
		"checking your browser",
	}
	for _, c := range challenges {
		if strings.Contains(t, c) {
			return true
		}
	}
	return false
}
