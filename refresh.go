package main

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// refreshBatchSize caps how many saved scans one refresh pass touches.
const refreshBatchSize = 50

// RefreshResult tracks what one pricing refresh pass did.
type RefreshResult struct {
	Scanned int
	Updated int
	Skipped int
	Errors  []string
}

// RefreshSavedScanPricing re-runs the market lookup for saved scans and
// updates their stored pricing and valuation range. Lookup failures skip the
// scan; they never abort the pass.
func RefreshSavedScanPricing(cfg Config, store *Store, market priceSource) RefreshResult {
	var result RefreshResult

	scans, err := store.ListScans(refreshBatchSize)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	for _, rec := range scans {
		result.Scanned++
		if rec.Name == "" || strings.EqualFold(rec.Name, unknownName) {
			result.Skipped++
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.MarketTimeoutSeconds)*time.Second)
		pricing, err := market.LookupPrices(ctx, rec.Name, rec.Attribute)
		cancel()
		if err != nil {
			log.Printf("price refresh lookup error scan=%s name=%q: %v", rec.ID, rec.Name, err)
			result.Errors = append(result.Errors, err.Error())
			continue
		}

		low, high := rec.ValueLow, rec.ValueHigh
		if pricing.Available && len(pricing.Listings) > 0 {
			low, high = pricing.MinPrice, pricing.MaxPrice
		}
		if err := store.UpdateScanPricing(rec.ID, &pricing, low, high); err != nil {
			log.Printf("price refresh update error scan=%s: %v", rec.ID, err)
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Updated++
	}

	return result
}

// StartPriceRefreshScheduler starts a cron-based scheduler that keeps saved
// scans' marketplace valuations current. The schedule is a standard 5-field
// cron expression (minute hour day-of-month month day-of-week).
// Examples: "0 6 * * *" (daily 6am), "0 6 * * 1" (Mondays 6am).
func StartPriceRefreshScheduler(cfg Config, store *Store, market priceSource) {
	schedule := strings.TrimSpace(cfg.PriceRefreshCron)
	if schedule == "" {
		log.Println("Price refresh disabled (price_refresh_cron not set)")
		return
	}
	if !cfg.MarketConfigured() {
		log.Println("Price refresh disabled: market API is not configured")
		return
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		log.Printf("Invalid price_refresh_cron '%s': %v, price refresh disabled", schedule, err)
		return
	}
	log.Printf("Price refresh scheduled (cron: %s)", schedule)

	go func() {
		for {
			now := time.Now()
			next := sched.Next(now)
			log.Printf("Next price refresh at %s (in %s)", next.Format("Mon Jan 2 15:04"), next.Sub(now).Round(time.Minute))

			time.Sleep(next.Sub(now))

			result := RefreshSavedScanPricing(cfg, store, market)
			log.Printf("Price refresh complete scanned=%d updated=%d skipped=%d errors=%d",
				result.Scanned, result.Updated, result.Skipped, len(result.Errors))
		}
	}()
}
