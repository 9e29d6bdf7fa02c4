// Copyright 2025 Consentry Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store persists finished scan results to SQLite so verdicts
// survive a service restart. The registry serves live scans; this is
// the durable fallback behind it.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite

	"github.com/consentry/consentry/pkg/logger"
	"github.com/consentry/consentry/pkg/models"
)

// DatabaseFile is the SQLite file name under the data directory.
const DatabaseFile = "consentry.db"

// ErrNotFound reports that no stored result matches the scan ID.
var ErrNotFound = errors.New("scan result not found")

type Store struct {
	db  *sql.DB
	log logger.Logger
}

// Open creates the data directory and database if needed and returns a
// ready store. Safe to call on every start.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	path := filepath.Join(dataDir, DatabaseFile)

	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer at a time; a single pooled connection
	// serializes ours instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{
		db:  db,
		log: logger.GetLogger().WithField("component", "store"),
	}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS scans(
	  id               INTEGER PRIMARY KEY AUTOINCREMENT,
	  scan_id          TEXT    NOT NULL UNIQUE,
	  url              TEXT    NOT NULL,
	  domain           TEXT    NOT NULL DEFAULT '',
	  scan_date        TEXT    NOT NULL,
	  verdict          TEXT    NOT NULL DEFAULT 'unknown',
	  opt_out_found    INTEGER NOT NULL DEFAULT 0,
	  opt_out_clicked  INTEGER NOT NULL DEFAULT 0,
	  trackers_before  TEXT    NOT NULL DEFAULT '[]',
	  trackers_after   TEXT    NOT NULL DEFAULT '[]',
	  evidence_notes   TEXT,
	  result_json      TEXT    NOT NULL CHECK (json_valid(result_json))
	);
	CREATE INDEX IF NOT EXISTS idx_scans_url     ON scans(url);
	CREATE INDEX IF NOT EXISTS idx_scans_verdict ON scans(verdict);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts one finished scan keyed by its scan ID. The full result
// is stored as JSON; the flat columns exist for ad-hoc queries.
func (s *Store) Save(result *models.ScanResult) error {
	if result == nil {
		return errors.New("scan result is nil")
	}
	if result.ScanID == "" {
		return errors.New("scan result has no scan ID")
	}

	full, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal scan result: %w", err)
	}
	before, err := json.Marshal(result.TrackersBefore)
	if err != nil {
		return fmt.Errorf("failed to marshal tracker list: %w", err)
	}
	after, err := json.Marshal(result.TrackersAfter)
	if err != nil {
		return fmt.Errorf("failed to marshal tracker list: %w", err)
	}

	scanDate := result.StartedAt
	if scanDate.IsZero() {
		scanDate = time.Now()
	}

	_, err = s.db.Exec(`
	INSERT INTO scans(
	  scan_id, url, domain, scan_date, verdict,
	  opt_out_found, opt_out_clicked,
	  trackers_before, trackers_after, evidence_notes, result_json
	) VALUES(?,?,?,?,?,?,?,?,?,?,json(?))
	ON CONFLICT(scan_id) DO UPDATE SET
	  verdict         = excluded.verdict,
	  opt_out_found   = excluded.opt_out_found,
	  opt_out_clicked = excluded.opt_out_clicked,
	  trackers_before = excluded.trackers_before,
	  trackers_after  = excluded.trackers_after,
	  evidence_notes  = excluded.evidence_notes,
	  result_json     = excluded.result_json`,
		result.ScanID,
		result.URL,
		result.Domain,
		scanDate.Format(time.RFC3339),
		string(result.Verdict),
		boolInt(result.Found),
		boolInt(result.Clicked),
		string(before),
		string(after),
		strings.Join(result.Notes, "; "),
		string(full),
	)
	if err != nil {
		return fmt.Errorf("failed to save scan result: %w", err)
	}
	return nil
}

// GetByScanID loads one stored result.
func (s *Store) GetByScanID(scanID string) (*models.ScanResult, error) {
	var encoded string
	err := s.db.QueryRow(`SELECT result_json FROM scans WHERE scan_id = ?`, scanID).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query scan result: %w", err)
	}
	return decodeResult(encoded)
}

// Violations returns every stored scan with a violation verdict, newest
// first.
func (s *Store) Violations() ([]*models.ScanResult, error) {
	return s.query(`SELECT result_json FROM scans WHERE verdict = ? ORDER BY id DESC`,
		string(models.VerdictViolation))
}

// HistoryForURL returns every scan of one URL, newest first.
func (s *Store) HistoryForURL(url string) ([]*models.ScanResult, error) {
	return s.query(`SELECT result_json FROM scans WHERE url = ? ORDER BY id DESC`, url)
}

func (s *Store) query(stmt string, args ...any) ([]*models.ScanResult, error) {
	rows, err := s.db.Query(stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scans: %w", err)
	}
	defer rows.Close()

	var results []*models.ScanResult
	for rows.Next() {
		var encoded string
		if err := rows.Scan(&encoded); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result, err := decodeResult(encoded)
		if err != nil {
			s.log.Warn("Skipping undecodable stored result", logger.Fields{
				"error": err.Error(),
			})
			continue
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return results, nil
}

func decodeResult(encoded string) (*models.ScanResult, error) {
	var result models.ScanResult
	if err := json.Unmarshal([]byte(encoded), &result); err != nil {
		return nil, fmt.Errorf("failed to decode stored result: %w", err)
	}
	return &result, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
