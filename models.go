package main

import "time"

// ScanRecord is the unified output of one identification: the identity
// fields the classifier produced (possibly corrected by the user), the
// valuation range, and optional marketplace pricing.
type ScanRecord struct {
	ID           string         `json:"id"`
	Fingerprint  string         `json:"fingerprint"` // SHA-256 of the image bytes
	Name         string         `json:"name"`
	Series       string         `json:"series"`
	Attribute    string         `json:"attribute"` // Pyrus, Aquos, Subterra, Haos, Darkus, Ventus
	GPower       int            `json:"g_power"`
	ReleaseYears string         `json:"release_years"`
	Rarity       string         `json:"rarity"`
	Description  string         `json:"description"` // identifying features, free text
	ValueLow     float64        `json:"value_low"`
	ValueHigh    float64        `json:"value_high"`
	Confidence   float64        `json:"confidence"`
	Pricing      *MarketPricing `json:"pricing,omitempty"`
	Corrected    bool           `json:"corrected"`
	CreatedAt    time.Time      `json:"created_at"`
}

// MarketPricing is the marketplace sub-record attached to a scan. When
// Available is true and Listings is non-empty, its range supersedes the
// classifier's own valuation.
type MarketPricing struct {
	Available    bool          `json:"available"`
	AveragePrice float64       `json:"average_price"`
	MinPrice     float64       `json:"min_price"`
	MaxPrice     float64       `json:"max_price"`
	NumListings  int           `json:"num_listings"`
	Listings     []SoldListing `json:"listings,omitempty"`
	Provenance   string        `json:"provenance"`
}

type SoldListing struct {
	Title    string  `json:"title"`
	Price    float64 `json:"price"`
	SoldDate string  `json:"sold_date"`
}

// CorrectionEvent is one user-initiated relabeling. Events are append-only;
// they are never edited in place and only removed by a full-history clear.
type CorrectionEvent struct {
	ID                 int64     `json:"id"`
	Fingerprint        string    `json:"fingerprint"`
	OriginalName       string    `json:"original_name"`
	CorrectedName      string    `json:"corrected_name"`
	CorrectedAttribute string    `json:"corrected_attribute"`
	CorrectedGPower    int       `json:"corrected_g_power"`
	CorrectedVariant   string    `json:"corrected_variant"`
	CorrectedAt        time.Time `json:"corrected_at"`
}

// CorrectionCount is one cell of the derived frequency table.
type CorrectionCount struct {
	OriginalName  string `json:"original_name"`
	CorrectedName string `json:"corrected_name"`
	Count         int    `json:"count"`
}

// CorrectionSummary is a bounded, ranked projection of the frequency table,
// computed fresh per identification and never persisted.
type CorrectionSummary struct {
	Entries     []CorrectionCount `json:"entries"`
	TotalEvents int               `json:"total_events"`
}

// SuggestedCorrection is the highest-count alternate label for an original
// label, surfaced only once the noise-rejection threshold is met.
type SuggestedCorrection struct {
	OriginalName  string `json:"original_name"`
	SuggestedName string `json:"suggested_name"`
	Count         int    `json:"count"`
}
