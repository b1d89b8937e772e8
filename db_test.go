package main

import (
	"fmt"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "bakuscan-test.db")
	db, err := InitDB(dbPath)
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func mustRecord(t *testing.T, store *Store, original, corrected string) CorrectionEvent {
	t.Helper()
	ev, err := store.RecordCorrection(CorrectionEvent{
		Fingerprint:   "fp-test",
		OriginalName:  original,
		CorrectedName: corrected,
	})
	if err != nil {
		t.Fatalf("RecordCorrection(%q -> %q) failed: %v", original, corrected, err)
	}
	return ev
}

func TestRecordCorrectionIncrementsCell(t *testing.T) {
	store := newTestStore(t)

	mustRecord(t, store, "Saurus", "Robotallion")
	mustRecord(t, store, "Saurus", "Robotallion")
	mustRecord(t, store, "Saurus", "Fear Ripper")

	summary, err := store.CorrectionSummary(10)
	if err != nil {
		t.Fatalf("CorrectionSummary failed: %v", err)
	}
	if summary.TotalEvents != 3 {
		t.Fatalf("expected 3 total events, got %d", summary.TotalEvents)
	}
	if len(summary.Entries) != 2 {
		t.Fatalf("expected 2 distinct cells, got %d", len(summary.Entries))
	}
	if summary.Entries[0].CorrectedName != "Robotallion" || summary.Entries[0].Count != 2 {
		t.Fatalf("unexpected top entry: %+v", summary.Entries[0])
	}
}

func TestRecordCorrectionValidation(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.RecordCorrection(CorrectionEvent{CorrectedName: "Dragonoid"}); err == nil {
		t.Fatal("expected error for empty original name")
	}
	if _, err := store.RecordCorrection(CorrectionEvent{OriginalName: "Saurus"}); err == nil {
		t.Fatal("expected error for empty corrected name")
	}
}

func TestRecordCorrectionAssignsEventIDs(t *testing.T) {
	store := newTestStore(t)

	first := mustRecord(t, store, "Saurus", "Robotallion")
	second := mustRecord(t, store, "Saurus", "Robotallion")

	if first.ID <= 0 {
		t.Fatalf("expected a positive event id, got %d", first.ID)
	}
	if second.ID <= first.ID {
		t.Fatalf("expected monotonically increasing event ids, got %d then %d", first.ID, second.ID)
	}
}

func TestCorrectionSummaryConsistentUnderConcurrentWrites(t *testing.T) {
	store := newTestStore(t)
	mustRecord(t, store, "Saurus", "Robotallion")

	// Every event lands in the single (Saurus, Robotallion) cell, so any
	// summary snapshot must report a total equal to that cell's count.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			_, err := store.RecordCorrection(CorrectionEvent{
				Fingerprint:   "fp-test",
				OriginalName:  "Saurus",
				CorrectedName: "Robotallion",
			})
			if err != nil {
				t.Errorf("RecordCorrection failed: %v", err)
				return
			}
		}
	}()

	for {
		summary, err := store.CorrectionSummary(10)
		if err != nil {
			t.Fatalf("CorrectionSummary failed: %v", err)
		}
		if len(summary.Entries) != 1 {
			t.Fatalf("expected a single cell, got %+v", summary.Entries)
		}
		if summary.Entries[0].Count != summary.TotalEvents {
			t.Fatalf("summary snapshot is torn: cell count %d, total events %d",
				summary.Entries[0].Count, summary.TotalEvents)
		}
		select {
		case <-done:
			return
		default:
		}
	}
}

func TestCorrectionSummaryEmptyStore(t *testing.T) {
	store := newTestStore(t)

	summary, err := store.CorrectionSummary(10)
	if err != nil {
		t.Fatalf("CorrectionSummary on empty store failed: %v", err)
	}
	if summary.TotalEvents != 0 {
		t.Fatalf("expected 0 total events, got %d", summary.TotalEvents)
	}
	if len(summary.Entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(summary.Entries))
	}
}

func TestCorrectionSummaryIdempotent(t *testing.T) {
	store := newTestStore(t)
	mustRecord(t, store, "Saurus", "Robotallion")
	mustRecord(t, store, "Juggernoid", "Terrorclaw")

	first, err := store.CorrectionSummary(10)
	if err != nil {
		t.Fatalf("first CorrectionSummary failed: %v", err)
	}
	second, err := store.CorrectionSummary(10)
	if err != nil {
		t.Fatalf("second CorrectionSummary failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("summaries differ:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestCorrectionSummaryCapReturnsHighestCounts(t *testing.T) {
	store := newTestStore(t)

	// 15 distinct cells with counts 1..15.
	for i := 1; i <= 15; i++ {
		original := fmt.Sprintf("Original%02d", i)
		for j := 0; j < i; j++ {
			mustRecord(t, store, original, "Dragonoid")
		}
	}

	summary, err := store.CorrectionSummary(10)
	if err != nil {
		t.Fatalf("CorrectionSummary failed: %v", err)
	}
	if len(summary.Entries) != 10 {
		t.Fatalf("expected exactly 10 entries, got %d", len(summary.Entries))
	}
	// The 10 highest counts are 15..6, descending.
	for idx, e := range summary.Entries {
		want := 15 - idx
		if e.Count != want {
			t.Fatalf("entry %d: expected count %d, got %d (%+v)", idx, want, e.Count, e)
		}
	}
}

func TestSuggestionThreshold(t *testing.T) {
	store := newTestStore(t)

	mustRecord(t, store, "Saurus", "Robotallion")

	got, err := store.Suggestion("Saurus", 2)
	if err != nil {
		t.Fatalf("Suggestion failed: %v", err)
	}
	if got != nil {
		t.Fatalf("a single correction must not trigger a suggestion, got %+v", got)
	}

	mustRecord(t, store, "Saurus", "Robotallion")

	got, err = store.Suggestion("Saurus", 2)
	if err != nil {
		t.Fatalf("Suggestion failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a suggestion after two corrections")
	}
	if got.SuggestedName != "Robotallion" || got.Count != 2 {
		t.Fatalf("unexpected suggestion: %+v", got)
	}

	got, err = store.Suggestion("Dragonoid", 2)
	if err != nil {
		t.Fatalf("Suggestion failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no suggestion for an uncorrected label, got %+v", got)
	}
}

func TestSuggestionTieBreakIsLexicographic(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 2; i++ {
		mustRecord(t, store, "Saurus", "Robotallion")
		mustRecord(t, store, "Saurus", "Fear Ripper")
	}

	for i := 0; i < 3; i++ {
		got, err := store.Suggestion("Saurus", 2)
		if err != nil {
			t.Fatalf("Suggestion failed: %v", err)
		}
		if got == nil || got.SuggestedName != "Fear Ripper" {
			t.Fatalf("expected deterministic tie-break to Fear Ripper, got %+v", got)
		}
	}
}

func TestRebuildCorrectionCountsMatchesLive(t *testing.T) {
	store := newTestStore(t)

	mustRecord(t, store, "Saurus", "Robotallion")
	mustRecord(t, store, "Saurus", "Robotallion")
	mustRecord(t, store, "Juggernoid", "Terrorclaw")
	mustRecord(t, store, "Saurus", "Fear Ripper")

	live, err := store.CorrectionSummary(100)
	if err != nil {
		t.Fatalf("CorrectionSummary failed: %v", err)
	}
	if err := store.RebuildCorrectionCounts(); err != nil {
		t.Fatalf("RebuildCorrectionCounts failed: %v", err)
	}
	rebuilt, err := store.CorrectionSummary(100)
	if err != nil {
		t.Fatalf("CorrectionSummary after rebuild failed: %v", err)
	}
	if !reflect.DeepEqual(live, rebuilt) {
		t.Fatalf("rebuilt table drifted from live table:\nlive:    %+v\nrebuilt: %+v", live, rebuilt)
	}
}

func TestClearCorrectionsDropsLogAndTable(t *testing.T) {
	store := newTestStore(t)
	mustRecord(t, store, "Saurus", "Robotallion")
	mustRecord(t, store, "Saurus", "Robotallion")

	if err := store.ClearCorrections(); err != nil {
		t.Fatalf("ClearCorrections failed: %v", err)
	}

	summary, err := store.CorrectionSummary(10)
	if err != nil {
		t.Fatalf("CorrectionSummary after clear failed: %v", err)
	}
	if summary.TotalEvents != 0 || len(summary.Entries) != 0 {
		t.Fatalf("expected empty summary after clear, got %+v", summary)
	}

	got, err := store.Suggestion("Saurus", 2)
	if err != nil {
		t.Fatalf("Suggestion after clear failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no suggestion after clear, got %+v", got)
	}
}

func TestScanSaveAndLookup(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().UTC().Truncate(time.Second)

	rec := ScanRecord{
		ID:           "scan-1",
		Fingerprint:  "fp-1",
		Name:         "Dragonoid",
		Series:       "Battle Brawlers",
		Attribute:    "Pyrus",
		GPower:       340,
		ReleaseYears: "2007-2008",
		Rarity:       "Common",
		Description:  "red dragon head, folded sphere",
		ValueLow:     8,
		ValueHigh:    25,
		Confidence:   0.91,
		Pricing: &MarketPricing{
			Available:    true,
			AveragePrice: 14.5,
			MinPrice:     8,
			MaxPrice:     25,
			NumListings:  4,
			Listings:     []SoldListing{{Title: "Bakugan Dragonoid Pyrus", Price: 12, SoldDate: "2026-08-01"}},
			Provenance:   "based on 4 recent marketplace sales",
		},
		CreatedAt: base,
	}
	if err := store.SaveScan(rec); err != nil {
		t.Fatalf("SaveScan failed: %v", err)
	}

	byFP, found, err := store.ScanByFingerprint("fp-1")
	if err != nil {
		t.Fatalf("ScanByFingerprint failed: %v", err)
	}
	if !found {
		t.Fatal("expected scan to be found by fingerprint")
	}
	if byFP.Name != "Dragonoid" || byFP.Pricing == nil || byFP.Pricing.NumListings != 4 {
		t.Fatalf("unexpected scan from fingerprint lookup: %+v", byFP)
	}
	if len(byFP.Pricing.Listings) != 1 || byFP.Pricing.Listings[0].Price != 12 {
		t.Fatalf("pricing listings did not round-trip: %+v", byFP.Pricing.Listings)
	}

	_, found, err = store.ScanByFingerprint("fp-missing")
	if err != nil {
		t.Fatalf("ScanByFingerprint missing failed: %v", err)
	}
	if found {
		t.Fatal("did not expect a scan for an unknown fingerprint")
	}

	second := rec
	second.ID = "scan-2"
	second.Fingerprint = "fp-2"
	second.Name = "Saurus"
	second.Pricing = nil
	second.CreatedAt = base.Add(time.Minute)
	if err := store.SaveScan(second); err != nil {
		t.Fatalf("SaveScan second failed: %v", err)
	}

	scans, err := store.ListScans(50)
	if err != nil {
		t.Fatalf("ListScans failed: %v", err)
	}
	if len(scans) != 2 {
		t.Fatalf("expected 2 scans, got %d", len(scans))
	}
	if scans[0].Name != "Saurus" {
		t.Fatalf("expected newest scan first, got %q", scans[0].Name)
	}
	if scans[1].Pricing == nil {
		t.Fatal("expected stored pricing on older scan")
	}

	limited, err := store.ListScans(1)
	if err != nil {
		t.Fatalf("ListScans limited failed: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 scan with limit=1, got %d", len(limited))
	}
}

func TestSaveScanUpsertsByFingerprint(t *testing.T) {
	store := newTestStore(t)

	rec := ScanRecord{ID: "scan-1", Fingerprint: "fp-1", Name: "Saurus", Attribute: "Subterra"}
	if err := store.SaveScan(rec); err != nil {
		t.Fatalf("SaveScan failed: %v", err)
	}
	rec.Name = "Robotallion"
	rec.Corrected = true
	if err := store.SaveScan(rec); err != nil {
		t.Fatalf("SaveScan re-save failed: %v", err)
	}

	got, found, err := store.ScanByFingerprint("fp-1")
	if err != nil || !found {
		t.Fatalf("ScanByFingerprint failed: found=%t err=%v", found, err)
	}
	if got.Name != "Robotallion" || !got.Corrected {
		t.Fatalf("expected upserted scan, got %+v", got)
	}
}

func TestUpdateScanIdentityAndPricing(t *testing.T) {
	store := newTestStore(t)

	rec := ScanRecord{ID: "scan-1", Fingerprint: "fp-1", Name: "Saurus", Attribute: "Subterra", GPower: 280}
	if err := store.SaveScan(rec); err != nil {
		t.Fatalf("SaveScan failed: %v", err)
	}

	if err := store.UpdateScanIdentity("scan-1", "Robotallion", "Haos", 300, true); err != nil {
		t.Fatalf("UpdateScanIdentity failed: %v", err)
	}
	if err := store.UpdateScanIdentity("scan-missing", "X", "Y", 1, true); err == nil {
		t.Fatal("expected error updating a missing scan")
	}

	pricing := &MarketPricing{Available: true, MinPrice: 5, MaxPrice: 20, AveragePrice: 11, NumListings: 3,
		Listings:   []SoldListing{{Title: "Bakugan Robotallion Haos", Price: 11}},
		Provenance: "based on 3 recent marketplace sales"}
	if err := store.UpdateScanPricing("scan-1", pricing, 5, 20); err != nil {
		t.Fatalf("UpdateScanPricing failed: %v", err)
	}

	got, err := store.ScanByID("scan-1")
	if err != nil {
		t.Fatalf("ScanByID failed: %v", err)
	}
	if got.Name != "Robotallion" || got.Attribute != "Haos" || got.GPower != 300 || !got.Corrected {
		t.Fatalf("identity update did not stick: %+v", got)
	}
	if got.ValueLow != 5 || got.ValueHigh != 20 || got.Pricing == nil || got.Pricing.NumListings != 3 {
		t.Fatalf("pricing update did not stick: %+v", got)
	}
}
