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

// Package models defines the core data structures used throughout the Consentry system.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Verdict is the terminal outcome of a scan.
type Verdict string

const (
	// VerdictClean means the opt-out was honored: no primary-tracker
	// traffic was observed during the monitoring window.
	VerdictClean Verdict = "clean"
	// VerdictViolation means primary-tracker traffic continued after a
	// completed opt-out.
	VerdictViolation Verdict = "violation"
	// VerdictInconclusive means the scan could not prove either way,
	// for example when no opt-out control was clicked.
	VerdictInconclusive Verdict = "inconclusive"
	// VerdictTimeout means the scan exceeded its hard deadline.
	VerdictTimeout Verdict = "timeout"
	// VerdictUnknown means the worker died without reporting a result.
	VerdictUnknown Verdict = "unknown"
)

// OptOutAttempt records one consent strategy execution.
type OptOutAttempt struct {
	Strategy string `json:"strategy"`
	Clicked  bool   `json:"clicked"`
	Element  string `json:"element,omitempty"`
	Verified bool   `json:"verified,omitempty"`
}

// OptOutOutcome summarizes the whole consent phase. Screenshots maps a
// phase label (optout_before, optout_panel, optout_after, optout_final)
// to the saved file path.
type OptOutOutcome struct {
	Found       bool              `json:"opt_out_found"`
	Clicked     bool              `json:"opt_out_clicked"`
	Verified    bool              `json:"opt_out_verified"`
	Method      string            `json:"opt_out_method,omitempty"`
	Attempts    []OptOutAttempt   `json:"opt_out_attempts,omitempty"`
	Screenshots map[string]string `json:"optout_screenshots,omitempty"`
}

// CapturedRequest is one network request recorded by the monitoring
// listener. RelativeTime is seconds since the listener attached.
type CapturedRequest struct {
	URL            string            `json:"url"`
	Method         string            `json:"method"`
	ResourceType   string            `json:"resource_type,omitempty"`
	PostDataLength int               `json:"post_data_length,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	RelativeTime   float64           `json:"relative_time"`
	Headers        map[string]string `json:"headers,omitempty"`
}

// Cookie is a browser cookie snapshot entry.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value,omitempty"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"same_site,omitempty"`
}

// Key identifies a cookie for diffing snapshots.
func (c Cookie) Key() [2]string {
	return [2]string{c.Name, c.Domain}
}

// DomainFlag is the per-domain entry of the flagged-domains map.
type DomainFlag struct {
	RequestCount int    `json:"count"`
	MatchedRule  string `json:"matched_rule"`
}

// TimelineEntry is one progress checkpoint in the scan timeline.
type TimelineEntry struct {
	Step      int       `json:"step"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ScanResult is the terminal record of one scan. It is produced exactly
// once per scan, either by the worker or synthesized by the supervisor.
type ScanResult struct {
	ScanID    string    `json:"scan_id,omitempty"`
	URL       string    `json:"url"`
	Domain    string    `json:"domain,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Verdict   Verdict   `json:"verdict"`

	OptOutOutcome

	TrackersBefore      []string `json:"trackers_before"`
	TrackersAfter       []string `json:"trackers_after"`
	TikTokTrackersAfter []string `json:"tiktok_trackers_after"`

	FlaggedDomains    map[string]DomainFlag `json:"flagged_domains,omitempty"`
	AllRequestDomains map[string]int        `json:"all_request_domains,omitempty"`
	TotalRequests     int                   `json:"total_requests_captured"`
	RequestDetails    []CapturedRequest     `json:"request_details,omitempty"`

	CookiesBefore []Cookie `json:"cookies_before_details,omitempty"`
	CookiesAfter  []Cookie `json:"cookies_after_details,omitempty"`
	NewCookies    []Cookie `json:"new_cookies_details,omitempty"`

	PageScreenshots map[string]string `json:"screenshots,omitempty"`
	ProductPageURL  string            `json:"product_page_url,omitempty"`

	Timeline []TimelineEntry `json:"scan_timeline,omitempty"`
	Notes    []string        `json:"notes,omitempty"`

	SoftTimeout bool    `json:"soft_timeout,omitempty"`
	Duration    float64 `json:"duration_seconds,omitempty"`
}

// AddNote appends a free-text note explaining degraded or partial data.
func (r *ScanResult) AddNote(format string, args ...any) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

// SaveToFile persists the scan result to a JSON file in the specified directory
func (r *ScanResult) SaveToFile(dirPath string) error {
	if r == nil {
		return errors.New("models.ScanResult is nil")
	}
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	name := r.ScanID
	if name == "" {
		name = time.Now().Format("20060102_150405")
	}
	filePath := filepath.Join(dirPath, fmt.Sprintf("%s_result.json", name))
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
