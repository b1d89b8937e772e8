package main

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// ErrAnalysisFailed marks classifier failures: no response, unparseable
// payload, or missing required fields. The underlying cause is wrapped.
var ErrAnalysisFailed = errors.New("analysis failed")

// Identification is the outcome of one end-to-end run: the merged scan and
// the suggestion review attached to it.
type Identification struct {
	Scan        ScanRecord
	Review      *SuggestionReview
	FromHistory bool
}

// Identifier drives one identification: correction summary, conditioned
// classifier call, price lookup, merge, suggestion evaluation. All
// collaborators are injected.
type Identifier struct {
	cfg        Config
	store      *Store
	classifier visionClassifier
	market     priceSource
}

func NewIdentifier(cfg Config, store *Store, classifier visionClassifier, market priceSource) *Identifier {
	return &Identifier{cfg: cfg, store: store, classifier: classifier, market: market}
}

// Fingerprint is the stable content-derived key for a scanned image.
func Fingerprint(imageBytes []byte) string {
	sum := sha256.Sum256(imageBytes)
	return hex.EncodeToString(sum[:])
}

// Identify runs one identification for the given image bytes. If the same
// image was identified and saved before, the stored result is returned
// without any network calls. Saving a fresh result is the caller's step.
func (idn *Identifier) Identify(ctx context.Context, imageBytes []byte, mediaType string) (*Identification, error) {
	fingerprint := Fingerprint(imageBytes)

	stored, found, err := idn.store.ScanByFingerprint(fingerprint)
	if err != nil {
		return nil, fmt.Errorf("scan lookup: %w", err)
	}
	if found {
		log.Printf("identify fingerprint=%.12s from history", fingerprint)
		review := NewSuggestionReview(idn.store, idn.cfg.SuggestionThreshold)
		if err := review.Evaluate(&stored, true); err != nil {
			return nil, err
		}
		return &Identification{Scan: stored, Review: review, FromHistory: true}, nil
	}

	summary, err := idn.store.CorrectionSummary(idn.cfg.SummaryMaxItems)
	if err != nil {
		return nil, fmt.Errorf("correction summary: %w", err)
	}
	guidance := BuildCorrectionGuidance(&summary)

	cctx, cancel := context.WithTimeout(ctx, time.Duration(idn.cfg.ClassifierTimeoutSeconds)*time.Second)
	defer cancel()
	result, err := idn.classifier.Classify(cctx, ClassifyRequest{
		ImageBase64:        base64.StdEncoding.EncodeToString(imageBytes),
		ImageMediaType:     mediaType,
		CorrectionGuidance: guidance,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}

	rec := ScanRecord{
		ID:           uuid.NewString(),
		Fingerprint:  fingerprint,
		Name:         result.Name,
		Series:       result.Series,
		Attribute:    result.Attribute,
		GPower:       result.GPower,
		ReleaseYears: result.ReleaseYears,
		Rarity:       result.Rarity,
		Description:  result.Description,
		ValueLow:     result.ValueLow,
		ValueHigh:    result.ValueHigh,
		Confidence:   result.Confidence,
		CreatedAt:    time.Now().UTC(),
	}

	pricing := idn.lookupPricing(ctx, rec.Name, rec.Attribute)
	if pricing.Available && len(pricing.Listings) > 0 {
		// Marketplace data supersedes the classifier's own guess.
		rec.ValueLow = pricing.MinPrice
		rec.ValueHigh = pricing.MaxPrice
	}
	rec.Pricing = &pricing
	if rec.ValueHigh < rec.ValueLow {
		rec.ValueLow, rec.ValueHigh = rec.ValueHigh, rec.ValueLow
	}

	review := NewSuggestionReview(idn.store, idn.cfg.SuggestionThreshold)
	if err := review.Evaluate(&rec, false); err != nil {
		// A suggestion is an enhancement; losing it must not lose the scan.
		log.Printf("identify suggestion evaluation error (non-fatal): %v", err)
		review = NewSuggestionReview(idn.store, idn.cfg.SuggestionThreshold)
		review.state = SuggestionNone
	}

	log.Printf("identify fingerprint=%.12s name=%q confidence=%.2f pricing=%t suggestion=%s",
		fingerprint, rec.Name, rec.Confidence, pricing.Available, review.State())
	return &Identification{Scan: rec, Review: review}, nil
}

// lookupPricing never fails the identification: lookup errors and timeouts
// degrade to an unavailable pricing record with a provenance note.
func (idn *Identifier) lookupPricing(ctx context.Context, name, attribute string) MarketPricing {
	pctx, cancel := context.WithTimeout(ctx, time.Duration(idn.cfg.MarketTimeoutSeconds)*time.Second)
	defer cancel()

	pricing, err := idn.market.LookupPrices(pctx, name, attribute)
	if err != nil {
		log.Printf("identify market lookup error (non-fatal): %v", err)
		return MarketPricing{Available: false, Provenance: "marketplace pricing unavailable"}
	}
	return pricing
}
