package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"car_scrooper/models"
)

// Placeholder strings the marketplaces emit for missing values.
var placeholders = map[string]bool{
	"N/A": true,
	"n/a": true,
	"-":   true,
	"--":  true,
}

var (
	strayCharRegex = regexp.MustCompile(`[\-\(\)_]`)
	punctRegex     = regexp.MustCompile(`[^\w\s]`)
	digitsRegex    = regexp.MustCompile(`\d+`)
	yearRegex      = regexp.MustCompile(`(19|20)\d{2}`)
)

func isPlaceholder(s string) bool {
	return placeholders[s]
}

// Text cleans a free-text field: strip, drop stray punctuation, collapse
// whitespace, uppercase. Empty or placeholder input yields the fallback
// token. Stable under repeated application as long as the fallback itself
// contains no punctuation.
func Text(s, fallback string) string {
	t := strings.TrimSpace(s)
	if t == "" || isPlaceholder(t) {
		return fallback
	}

	t = strayCharRegex.ReplaceAllString(t, " ")
	t = punctRegex.ReplaceAllString(t, "")
	t = strings.Join(strings.Fields(t), " ")
	t = strings.ToUpper(t)

	if t == "" {
		return fallback
	}
	return t
}

// Digits reduces a string to its digits and parses the result. Malformed
// input degrades to 0, never an error.
func Digits(s string) int {
	joined := strings.Join(digitsRegex.FindAllString(s, -1), "")
	if joined == "" {
		return 0
	}
	n, err := strconv.Atoi(joined)
	if err != nil {
		return 0
	}
	return n
}

// Price parses a displayed price ("RM 55,800") into an integer amount.
func Price(s string) int {
	return Digits(s)
}

// Year extracts a four digit model year, 0 if none is present.
func Year(s string) int {
	m := yearRegex.FindString(s)
	if m == "" {
		return 0
	}
	n, _ := strconv.Atoi(m)
	return n
}

// Mileage converts a displayed mileage to kilometres. Ranges like
// "10k - 20k" resolve to the upper bound, a k/K suffix multiplies by 1000,
// "<" and ">" prefixes are ignored. Anything unparseable degrades to 0.
func Mileage(s string) int {
	t := strings.TrimSpace(s)
	if t == "" || isPlaceholder(t) {
		return 0
	}

	// Range: keep the upper bound
	if i := strings.LastIndex(t, " - "); i >= 0 {
		t = strings.TrimSpace(t[i+3:])
	}

	t = strings.ToLower(strings.TrimLeft(t, "<>"))
	t = strings.TrimSpace(strings.TrimSuffix(t, "km"))
	t = strings.ReplaceAll(t, ",", "")
	t = strings.TrimSpace(t)

	if strings.HasSuffix(t, "k") {
		f, err := strconv.ParseFloat(strings.TrimSuffix(t, "k"), 64)
		if err != nil {
			return 0
		}
		return int(f * 1000)
	}

	n, err := strconv.Atoi(t)
	if err != nil {
		return 0
	}
	return n
}

// Policy holds the per-marketplace fallback tokens substituted for empty or
// placeholder fields. Each site instantiates one policy; the cleaning logic
// itself is shared.
type Policy struct {
	BrandFallback      string `yaml:"brand_fallback"`
	ModelGroupFallback string `yaml:"model_group_fallback"`
	ModelFallback      string `yaml:"model_fallback"`
	VariantFallback    string `yaml:"variant_fallback"`
	TextFallback       string `yaml:"text_fallback"`
}

// DefaultPolicy matches the tokens used across the production tables.
func DefaultPolicy() Policy {
	return Policy{
		BrandFallback:      "UNKNOWN",
		ModelGroupFallback: "NO MODEL GROUP",
		ModelFallback:      "UNKNOWN",
		VariantFallback:    "NO VARIANT",
		TextFallback:       "UNKNOWN",
	}
}

func (p Policy) orDefault() Policy {
	d := DefaultPolicy()
	if p.BrandFallback == "" {
		p.BrandFallback = d.BrandFallback
	}
	if p.ModelGroupFallback == "" {
		p.ModelGroupFallback = d.ModelGroupFallback
	}
	if p.ModelFallback == "" {
		p.ModelFallback = d.ModelFallback
	}
	if p.VariantFallback == "" {
		p.VariantFallback = d.VariantFallback
	}
	if p.TextFallback == "" {
		p.TextFallback = d.TextFallback
	}
	return p
}

// Clean normalizes a raw extractor record into typed listing fields. Only
// descriptive fields are populated; identity, status and bookkeeping columns
// belong to the upsert engine.
func (p Policy) Clean(rec *models.ListingRecord) models.CarListing {
	p = p.orDefault()
	return models.CarListing{
		ListingURL:     strings.TrimSpace(rec.ListingURL),
		Brand:          Text(rec.Brand, p.BrandFallback),
		ModelGroup:     Text(rec.ModelGroup, p.ModelGroupFallback),
		Model:          Text(rec.Model, p.ModelFallback),
		Variant:        Text(rec.Variant, p.VariantFallback),
		InformationAds: strings.TrimSpace(rec.InformationAds),
		Location:       Text(rec.Location, p.TextFallback),
		Condition:      Text(rec.Condition, p.TextFallback),
		Price:          Price(rec.Price),
		Year:           Year(rec.Year),
		Mileage:        Mileage(rec.Mileage),
		Transmission:   Text(rec.Transmission, p.TextFallback),
		SeatCapacity:   Text(rec.SeatCapacity, p.TextFallback),
		EngineCC:       Digits(rec.EngineCC),
		FuelType:       Text(rec.FuelType, p.TextFallback),
		Images:         rec.Images,
	}
}
