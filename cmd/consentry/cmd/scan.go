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

package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/consentry/consentry/pkg/logger"
	"github.com/consentry/consentry/pkg/models"
	"github.com/consentry/consentry/pkg/scan"
	"github.com/consentry/consentry/pkg/store"
	"github.com/consentry/consentry/pkg/supervisor"
)

var scanConfigPath string

var scanCmd = &cobra.Command{
	Use:   "scan <url> [url...]",
	Short: "Scan one or more URLs and print a verdict for each",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return scanURLs(cmd.Context(), scanConfigPath, args)
	},
}

func init() {
	scanCmd.Flags().StringVarP(&scanConfigPath, "config", "c", "", "path to configuration file")
	rootCmd.AddCommand(scanCmd)
}

// scanURLs runs each URL through a supervised worker process in turn,
// printing live progress and a per-site summary, then a final report.
// It returns ErrViolation when any site kept tracking after opt-out.
func scanURLs(ctx context.Context, configPath string, rawURLs []string) error {
	cfg, err := loadOrDefault(configPath)
	if err != nil {
		return err
	}

	urls := make([]string, 0, len(rawURLs))
	for _, raw := range rawURLs {
		if u := models.NormalizeURL(raw); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return errors.New("no URLs to scan")
	}

	st, err := store.Open(cfg.Scanner.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open scan store: %w", err)
	}
	defer st.Close()

	sup := supervisor.New(configPath)
	log := logger.GetLogger()

	fmt.Printf("\n[*] Consentry privacy scanner\n")
	fmt.Printf("[*] Scanning %d URL(s)...\n", len(urls))

	results := make([]*models.ScanResult, 0, len(urls))
	for i, target := range urls {
		if ctx.Err() != nil {
			fmt.Printf("\n[!] Interrupted, stopping after %d of %d scans\n", i, len(urls))
			break
		}
		fmt.Printf("\n[%d/%d] Starting scan...\n", i+1, len(urls))

		result := sup.Run(ctx, uuid.NewString(), target, printProgress)
		if err := st.Save(result); err != nil {
			log.Warn("Failed to persist scan result", logger.Fields{
				"url":   target,
				"error": err.Error(),
			})
		}
		printSummary(result)
		results = append(results, result)
	}

	printFinalReport(cfg.Scanner.DataDir, results)

	for _, r := range results {
		if r.Verdict == models.VerdictViolation {
			return ErrViolation
		}
	}
	return nil
}

func printProgress(ev models.ProgressEvent) {
	fmt.Printf("[%2d/%d] %s\n", ev.Step, ev.TotalSteps, ev.Message)
}

// printSummary renders one scan outcome in the fixed-width layout the
// scanner has always used on the console.
func printSummary(r *models.ScanResult) {
	rule := strings.Repeat("─", 60)
	fmt.Printf("\n%s\n", rule)
	fmt.Printf("  SUMMARY FOR: %s\n", r.URL)
	fmt.Println(rule)
	fmt.Printf("  Opt-out banner found : %v\n", r.Found)
	fmt.Printf("  Opt-out clicked      : %v\n", r.Clicked)
	fmt.Printf("  Trackers before      : %d %v\n", len(r.TrackersBefore), r.TrackersBefore)
	fmt.Printf("  Trackers after       : %d %v\n", len(r.TrackersAfter), r.TrackersAfter)
	fmt.Printf("  TikTok after         : %d %v\n", len(r.TikTokTrackersAfter), r.TikTokTrackersAfter)

	if len(r.FlaggedDomains) > 0 {
		fmt.Printf("\n  FLAGGED DOMAINS (post-opt-out browsing):\n")
		domains := make([]string, 0, len(r.FlaggedDomains))
		for d := range r.FlaggedDomains {
			domains = append(domains, d)
		}
		sort.Strings(domains)
		for _, d := range domains {
			f := r.FlaggedDomains[d]
			fmt.Printf("    %-45s  %3d reqs  [%s]\n", d, f.RequestCount, f.MatchedRule)
		}
	}

	switch r.Verdict {
	case models.VerdictViolation:
		fmt.Printf("\n  *** TIKTOK TRACKING CONTINUES AFTER OPT-OUT ***\n")
	case models.VerdictTimeout:
		fmt.Printf("\n  *** TIMEOUT — Scan exceeded time limit ***\n")
	case models.VerdictInconclusive:
		fmt.Printf("\n  *** INCONCLUSIVE — Opt-out could not be verified ***\n")
	case models.VerdictUnknown:
		fmt.Printf("\n  *** ERROR — Scan did not finish ***\n")
	default:
		fmt.Printf("\n  No TikTok tracking after opt-out: OK\n")
	}

	if len(r.Notes) > 0 {
		fmt.Printf("  Notes: %s\n", strings.Join(r.Notes, "; "))
	}
	fmt.Printf("%s\n\n", rule)
}

// printFinalReport groups all results by verdict. Labels are padded to
// a common column so the counts line up.
func printFinalReport(dataDir string, results []*models.ScanResult) {
	rule := strings.Repeat("=", 60)
	fmt.Printf("\n%s\n", rule)
	fmt.Printf("  SCAN COMPLETE — %d site(s) scanned\n", len(results))
	fmt.Println(rule)

	byVerdict := func(v models.Verdict) []*models.ScanResult {
		var out []*models.ScanResult
		for _, r := range results {
			if r.Verdict == v {
				out = append(out, r)
			}
		}
		return out
	}
	violations := byVerdict(models.VerdictViolation)
	clean := byVerdict(models.VerdictClean)
	inconclusive := byVerdict(models.VerdictInconclusive)
	timeouts := byVerdict(models.VerdictTimeout)
	errored := byVerdict(models.VerdictUnknown)

	fmt.Printf("  Violations (still tracking after opt-out): %d\n", len(violations))
	for _, r := range violations {
		fmt.Printf("    - %s\n", r.URL)
	}
	fmt.Printf("  Clean (stopped tracking after opt-out)   : %d\n", len(clean))
	for _, r := range clean {
		fmt.Printf("    - %s\n", r.URL)
	}
	if len(inconclusive) > 0 {
		fmt.Printf("  Inconclusive (opt-out not verified)      : %d\n", len(inconclusive))
		for _, r := range inconclusive {
			fmt.Printf("    - %s\n", r.URL)
		}
	}
	if len(timeouts) > 0 {
		fmt.Printf("  Timeouts (exceeded %.0fs limit)           : %d\n", scan.MaxScanTime.Seconds(), len(timeouts))
		for _, r := range timeouts {
			fmt.Printf("    - %s\n", r.URL)
		}
	}
	if len(errored) > 0 {
		fmt.Printf("  Errors (scan failed)                     : %d\n", len(errored))
		for _, r := range errored {
			reason := "unknown"
			if len(r.Notes) > 0 {
				reason = r.Notes[len(r.Notes)-1]
			}
			fmt.Printf("    - %s: %s\n", r.URL, reason)
		}
	}

	fmt.Printf("\nResults saved to: %s\n", filepath.Join(dataDir, store.DatabaseFile))
	fmt.Printf("Screenshots in:   %s%c\n", filepath.Join(dataDir, "screenshots"), filepath.Separator)
}
