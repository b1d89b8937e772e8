package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Listings priced outside this band are noise: lots, bulk sales, or
// mislabeled items.
const minSanePrice = 1.0
const maxSanePrice = 500.0

// maxComparableListings bounds the comparable-sales list attached to a scan.
const maxComparableListings = 5

const provenanceNotConfigured = "pricing API not configured"
const provenanceNoSales = "no recent marketplace sales found"

type priceSource interface {
	LookupPrices(ctx context.Context, name, attribute string) (MarketPricing, error)
}

// MarketClient queries a sold-listings search API for recent sales of a
// figure and aggregates the surviving prices.
type MarketClient struct {
	baseURL     string
	apiKey      string
	maxListings int
	httpClient  *http.Client
}

func NewMarketClient(cfg Config) *MarketClient {
	return &MarketClient{
		baseURL:     strings.TrimSuffix(cfg.MarketAPIURL, "/"),
		apiKey:      cfg.MarketAPIKey,
		maxListings: cfg.MarketMaxListings,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.MarketTimeoutSeconds) * time.Second,
		},
	}
}

type marketSearchResponse struct {
	Listings []marketListing `json:"listings"`
}

type marketListing struct {
	Title    string  `json:"title"`
	Price    float64 `json:"price"`
	SoldDate string  `json:"sold_date"`
}

// LookupPrices returns marketplace pricing for the named figure. An
// unconfigured API yields an unavailable result with a provenance note, not
// an error; transport and decode failures are errors for the caller to
// degrade on.
func (m *MarketClient) LookupPrices(ctx context.Context, name, attribute string) (MarketPricing, error) {
	if m.baseURL == "" {
		return MarketPricing{Available: false, Provenance: provenanceNotConfigured}, nil
	}

	query := "Bakugan " + name
	if attribute != "" {
		query += " " + attribute
	}

	apiURL := fmt.Sprintf("%s/sold-listings?q=%s&limit=%d",
		m.baseURL, url.QueryEscape(query), m.maxListings)
	log.Printf("market lookup query=%q", query)

	req, err := http.NewRequestWithContext(ctx, "GET", apiURL, nil)
	if err != nil {
		return MarketPricing{}, fmt.Errorf("creating request: %w", err)
	}
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return MarketPricing{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return MarketPricing{}, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != 200 {
		return MarketPricing{}, fmt.Errorf("market API returned %d: %s", resp.StatusCode, string(body))
	}

	var result marketSearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return MarketPricing{}, fmt.Errorf("parsing response: %w", err)
	}

	pricing := aggregateListings(name, result.Listings)
	log.Printf("market lookup done name=%q listings=%d available=%t", name, pricing.NumListings, pricing.Available)
	return pricing, nil
}

// aggregateListings filters raw listings down to plausible matches for the
// named figure and computes min/max/mean over the surviving prices.
func aggregateListings(name string, listings []marketListing) MarketPricing {
	var prices []float64
	var kept []SoldListing

	lowerName := strings.ToLower(name)
	for _, l := range listings {
		if !strings.Contains(strings.ToLower(l.Title), lowerName) {
			continue
		}
		if l.Price < minSanePrice || l.Price > maxSanePrice {
			continue
		}
		prices = append(prices, l.Price)
		if len(kept) < maxComparableListings {
			kept = append(kept, SoldListing{Title: l.Title, Price: l.Price, SoldDate: l.SoldDate})
		}
	}

	if len(prices) == 0 {
		return MarketPricing{Available: false, Provenance: provenanceNoSales}
	}

	minPrice, maxPrice, sum := prices[0], prices[0], 0.0
	for _, p := range prices {
		if p < minPrice {
			minPrice = p
		}
		if p > maxPrice {
			maxPrice = p
		}
		sum += p
	}

	return MarketPricing{
		Available:    true,
		AveragePrice: roundCents(sum / float64(len(prices))),
		MinPrice:     minPrice,
		MaxPrice:     maxPrice,
		NumListings:  len(prices),
		Listings:     kept,
		Provenance:   fmt.Sprintf("based on %d recent marketplace sales", len(prices)),
	}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
