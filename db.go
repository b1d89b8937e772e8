package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS scans (
		id            TEXT PRIMARY KEY,
		fingerprint   TEXT NOT NULL UNIQUE,
		name          TEXT NOT NULL,
		series        TEXT DEFAULT '',
		attribute     TEXT DEFAULT '',
		g_power       INTEGER DEFAULT 0,
		release_years TEXT DEFAULT '',
		rarity        TEXT DEFAULT '',
		description   TEXT DEFAULT '',
		value_low     REAL DEFAULT 0,
		value_high    REAL DEFAULT 0,
		confidence    REAL DEFAULT 0,
		pricing       TEXT DEFAULT '',
		corrected     INTEGER DEFAULT 0,
		created_at    DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_scans_created_at ON scans(created_at);

	CREATE TABLE IF NOT EXISTS correction_events (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		fingerprint         TEXT NOT NULL,
		original_name       TEXT NOT NULL,
		corrected_name      TEXT NOT NULL,
		corrected_attribute TEXT DEFAULT '',
		corrected_g_power   INTEGER DEFAULT 0,
		corrected_variant   TEXT DEFAULT '',
		corrected_at        DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ce_original ON correction_events(original_name);
	CREATE INDEX IF NOT EXISTS idx_ce_date ON correction_events(corrected_at);

	CREATE TABLE IF NOT EXISTS correction_counts (
		original_name  TEXT NOT NULL,
		corrected_name TEXT NOT NULL,
		count          INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (original_name, corrected_name)
	);
	`
	_, err = db.Exec(schema)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Store wraps the SQLite handle. The correction log is append-only; the
// correction_counts table is a materialized view of it and is only ever
// mutated in the same transaction as the log.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// RecordCorrection appends a correction event and increments the matching
// frequency cell in one transaction. The cell update is a single upsert so
// concurrent writers cannot lose increments.
func (s *Store) RecordCorrection(ev CorrectionEvent) (CorrectionEvent, error) {
	if ev.OriginalName == "" {
		return CorrectionEvent{}, fmt.Errorf("record correction: original name is empty")
	}
	if ev.CorrectedName == "" {
		return CorrectionEvent{}, fmt.Errorf("record correction: corrected name is empty")
	}
	if ev.CorrectedAt.IsZero() {
		ev.CorrectedAt = time.Now().UTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return CorrectionEvent{}, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO correction_events
		 (fingerprint, original_name, corrected_name, corrected_attribute, corrected_g_power, corrected_variant, corrected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.Fingerprint, ev.OriginalName, ev.CorrectedName,
		ev.CorrectedAttribute, ev.CorrectedGPower, ev.CorrectedVariant, ev.CorrectedAt,
	)
	if err != nil {
		return CorrectionEvent{}, fmt.Errorf("insert correction event: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO correction_counts (original_name, corrected_name, count)
		 VALUES (?, ?, 1)
		 ON CONFLICT(original_name, corrected_name) DO UPDATE SET count = count + 1`,
		ev.OriginalName, ev.CorrectedName,
	)
	if err != nil {
		return CorrectionEvent{}, fmt.Errorf("increment correction count: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return CorrectionEvent{}, fmt.Errorf("correction event id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return CorrectionEvent{}, fmt.Errorf("commit correction: %w", err)
	}
	ev.ID = id
	return ev, nil
}

// CorrectionSummary returns the top maxItems (original, corrected, count)
// triples where the labels differ, highest count first, plus the total
// number of correction events ever recorded. Both reads run in one
// transaction so the total always matches the entries. An empty store yields
// an empty summary, not an error.
func (s *Store) CorrectionSummary(maxItems int) (CorrectionSummary, error) {
	if maxItems < 1 {
		maxItems = 1
	}
	var summary CorrectionSummary

	tx, err := s.db.Begin()
	if err != nil {
		return summary, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`SELECT original_name, corrected_name, count
		 FROM correction_counts
		 WHERE original_name <> corrected_name AND count >= 1
		 ORDER BY count DESC, original_name ASC, corrected_name ASC
		 LIMIT ?`,
		maxItems,
	)
	if err != nil {
		return summary, err
	}
	for rows.Next() {
		var c CorrectionCount
		if err := rows.Scan(&c.OriginalName, &c.CorrectedName, &c.Count); err != nil {
			rows.Close()
			return summary, err
		}
		summary.Entries = append(summary.Entries, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return summary, err
	}
	rows.Close()

	if err := tx.QueryRow(`SELECT COUNT(*) FROM correction_events`).Scan(&summary.TotalEvents); err != nil {
		return summary, err
	}
	return summary, tx.Commit()
}

// Suggestion returns the strongest alternate label for originalName, or nil
// when no corrected label has reached the threshold. Ties break
// lexicographically on the corrected name so the result is stable for a
// given table state.
func (s *Store) Suggestion(originalName string, threshold int) (*SuggestedCorrection, error) {
	if threshold < 1 {
		threshold = 1
	}
	var sc SuggestedCorrection
	err := s.db.QueryRow(
		`SELECT original_name, corrected_name, count
		 FROM correction_counts
		 WHERE original_name = ? AND corrected_name <> ? AND count >= ?
		 ORDER BY count DESC, corrected_name ASC
		 LIMIT 1`,
		originalName, originalName, threshold,
	).Scan(&sc.OriginalName, &sc.SuggestedName, &sc.Count)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *Store) CountCorrectionEvents() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM correction_events`).Scan(&count)
	return count, err
}

// ClearCorrections drops the event log and the derived table together.
// Irrecoverable; callers confirm with the user first.
func (s *Store) ClearCorrections() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM correction_events`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM correction_counts`); err != nil {
		return err
	}
	return tx.Commit()
}

// RebuildCorrectionCounts recomputes the frequency table from the event log.
// Run at startup as an integrity check; the log is the source of truth.
func (s *Store) RebuildCorrectionCounts() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM correction_counts`); err != nil {
		return err
	}
	_, err = tx.Exec(
		`INSERT INTO correction_counts (original_name, corrected_name, count)
		 SELECT original_name, corrected_name, COUNT(*)
		 FROM correction_events
		 GROUP BY original_name, corrected_name`,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// --- Scan history ---

func (s *Store) SaveScan(rec ScanRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	pricingJSON := ""
	if rec.Pricing != nil {
		data, err := json.Marshal(rec.Pricing)
		if err != nil {
			return fmt.Errorf("marshal pricing: %w", err)
		}
		pricingJSON = string(data)
	}
	_, err := s.db.Exec(
		`INSERT INTO scans
		 (id, fingerprint, name, series, attribute, g_power, release_years, rarity, description,
		  value_low, value_high, confidence, pricing, corrected, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
		  name = excluded.name, series = excluded.series, attribute = excluded.attribute,
		  g_power = excluded.g_power, release_years = excluded.release_years,
		  rarity = excluded.rarity, description = excluded.description,
		  value_low = excluded.value_low, value_high = excluded.value_high,
		  confidence = excluded.confidence, pricing = excluded.pricing,
		  corrected = excluded.corrected`,
		rec.ID, rec.Fingerprint, rec.Name, rec.Series, rec.Attribute, rec.GPower,
		rec.ReleaseYears, rec.Rarity, rec.Description,
		rec.ValueLow, rec.ValueHigh, rec.Confidence, pricingJSON, rec.Corrected, rec.CreatedAt,
	)
	return err
}

const scanColumns = `id, fingerprint, name, series, attribute, g_power, release_years, rarity,
	description, value_low, value_high, confidence, pricing, corrected, created_at`

func scanRow(scanner interface{ Scan(...any) error }) (ScanRecord, error) {
	var rec ScanRecord
	var pricingJSON string
	err := scanner.Scan(
		&rec.ID, &rec.Fingerprint, &rec.Name, &rec.Series, &rec.Attribute, &rec.GPower,
		&rec.ReleaseYears, &rec.Rarity, &rec.Description,
		&rec.ValueLow, &rec.ValueHigh, &rec.Confidence, &pricingJSON, &rec.Corrected, &rec.CreatedAt,
	)
	if err != nil {
		return rec, err
	}
	if pricingJSON != "" {
		var p MarketPricing
		if err := json.Unmarshal([]byte(pricingJSON), &p); err != nil {
			return rec, fmt.Errorf("parse stored pricing: %w", err)
		}
		rec.Pricing = &p
	}
	return rec, nil
}

// ScanByFingerprint looks a scan up by its content-derived key. The second
// return value reports whether a stored scan exists.
func (s *Store) ScanByFingerprint(fingerprint string) (ScanRecord, bool, error) {
	row := s.db.QueryRow(
		`SELECT `+scanColumns+` FROM scans WHERE fingerprint = ?`, fingerprint,
	)
	rec, err := scanRow(row)
	if err == sql.ErrNoRows {
		return ScanRecord{}, false, nil
	}
	if err != nil {
		return ScanRecord{}, false, err
	}
	return rec, true, nil
}

func (s *Store) ScanByID(id string) (ScanRecord, error) {
	row := s.db.QueryRow(`SELECT `+scanColumns+` FROM scans WHERE id = ?`, id)
	return scanRow(row)
}

func (s *Store) ListScans(limit int) ([]ScanRecord, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT `+scanColumns+` FROM scans ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScanRecord
	for rows.Next() {
		rec, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateScanIdentity applies a user correction to a stored scan.
func (s *Store) UpdateScanIdentity(id, name, attribute string, gPower int, corrected bool) error {
	res, err := s.db.Exec(
		`UPDATE scans SET name = ?, attribute = ?, g_power = ?, corrected = ? WHERE id = ?`,
		name, attribute, gPower, corrected, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateScanPricing replaces a stored scan's pricing sub-record and
// valuation range; used by the scheduled market refresh.
func (s *Store) UpdateScanPricing(id string, pricing *MarketPricing, low, high float64) error {
	pricingJSON := ""
	if pricing != nil {
		data, err := json.Marshal(pricing)
		if err != nil {
			return fmt.Errorf("marshal pricing: %w", err)
		}
		pricingJSON = string(data)
	}
	_, err := s.db.Exec(
		`UPDATE scans SET pricing = ?, value_low = ?, value_high = ? WHERE id = ?`,
		pricingJSON, low, high, id,
	)
	return err
}
