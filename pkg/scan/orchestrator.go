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

// Package scan runs the two-phase compliance scan: visit a site and
// complete the cookie opt-out, then browse it again on a fresh page and
// watch whether the primary tracker still fires.
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/consentry/consentry/pkg/logger"
	"github.com/consentry/consentry/pkg/models"
	"github.com/consentry/consentry/pkg/tracker"
	"github.com/consentry/consentry/pkg/utils/config"
)

const (
	viewportWidth  = 1280
	viewportHeight = 900

	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/120.0.0.0 Safari/537.36"
)

// beaconInterceptJS mirrors navigator.sendBeacon calls into keepalive
// fetches so beacon traffic surfaces as observable network requests.
// Must be installed before any site script runs.
const beaconInterceptJS = `(function() {
	const origBeacon = navigator.sendBeacon.bind(navigator);
	navigator.sendBeacon = function(url, data) {
		try { fetch(url, {method:'POST', body: data, keepalive: true}).catch(()=>{}); } catch(e) {}
		return origBeacon(url, data);
	};
})();`

// startScrollJS starts a fire-and-forget scroll interval inside the
// browser. The scroll keeps running even when the CDP connection
// stalls, so lazy trackers still get triggered.
const startScrollJS = `(seconds) => {
	const end = Date.now() + seconds * 1000;
	const id = setInterval(() => {
		if (Date.now() >= end) { clearInterval(id); return; }
		window.scrollBy(0, 350);
	}, 1500);
}`

// Scanner runs full compliance scans against a live browser.
type Scanner struct {
	browser *rod.Browser
	cfg     config.ScannerConfig
	log     logger.Logger
}

// NewScanner wraps a connected browser. The browser is expected to be
// dedicated to this scanner; isolation between scans comes from the
// worker process boundary.
func NewScanner(browser *rod.Browser, cfg config.ScannerConfig) *Scanner {
	return &Scanner{
		browser: browser,
		cfg:     cfg,
		log:     logger.GetLogger().WithField("component", "scanner"),
	}
}

// scanState threads the per-scan working set through the phases.
type scanState struct {
	result   *models.ScanResult
	reporter *Reporter
	evidence *Evidence

	incognito *rod.Browser
	page      *rod.Page

	targetURL string
	domain    string

	cookiesBefore []models.Cookie
	monitored     []models.CapturedRequest
	onProduct     bool
}

// ScanURL performs a full scan of one URL. Every step is wrapped:
// local failures append notes and the scan advances with degraded
// information. The returned result always carries a verdict.
func (s *Scanner) ScanURL(scanID, targetURL string, progress func(models.ProgressEvent)) *models.ScanResult {
	domain := models.Hostname(targetURL)

	result := &models.ScanResult{
		ScanID:              scanID,
		URL:                 targetURL,
		Domain:              domain,
		StartedAt:           time.Now(),
		Verdict:             models.VerdictUnknown,
		TrackersBefore:      []string{},
		TrackersAfter:       []string{},
		TikTokTrackersAfter: []string{},
		PageScreenshots:     make(map[string]string),
	}
	reporter := NewReporter(progress)

	s.log.Info("Scanning", logger.Fields{"url": targetURL, "scan_id": scanID})
	reporter.Report(1, "Initializing scan for %s", domain)

	evidence, err := NewEvidence(s.cfg.DataDir, domain)
	if err != nil {
		s.log.Warn("Evidence directory unavailable, screenshots disabled", logger.Fields{
			"error": err.Error(),
		})
		evidence = nil
	}

	st := &scanState{
		result:    result,
		reporter:  reporter,
		evidence:  evidence,
		targetURL: targetURL,
		domain:    domain,
	}

	// Each scan gets its own browsing context so cookies and storage
	// never leak between sites. The context dies with the worker
	// process, no explicit disposal needed.
	if err := rod.Try(func() {
		st.incognito = s.browser.MustIncognito()
	}); err != nil {
		result.AddNote("Browser context creation failed: %v", err)
		result.Timeline = reporter.Timeline()
		result.Duration = reporter.Elapsed().Seconds()
		return result
	}

	// The phases run under a recover guard: a panic escaping a step is
	// treated like the original's global timeout and the scan saves
	// whatever it captured so far.
	softTimeout := s.runPhases(st)

	s.analyze(st, softTimeout)
	s.finish(st, softTimeout)

	reporter.Report(20, "Scan complete")
	result.Timeline = reporter.Timeline()
	result.Duration = reporter.Elapsed().Seconds()
	s.logSummary(result)
	return result
}

// runPhases executes both scan phases, converting an escaped panic into
// the soft-timeout flag.
func (s *Scanner) runPhases(st *scanState) (softTimeout bool) {
	defer func() {
		if r := recover(); r != nil {
			softTimeout = true
			elapsed := st.reporter.Elapsed().Seconds()
			s.log.Error("Scan aborted mid-phase", logger.Fields{
				"elapsed": elapsed,
				"panic":   fmt.Sprint(r),
			})
			st.result.AddNote("Scan timed out after %.0fs: %v", elapsed, r)
			st.reporter.Report(15, "Scan timed out after %.0fs — saving partial results", elapsed)
		}
	}()

	s.runPhase1(st)
	s.runPhase2(st)
	return false
}

// runPhase1 visits the site, records the pre-opt-out baseline, and
// drives the consent chain. The page closes at the end; cookies and
// storage stay alive in the context.
func (s *Scanner) runPhase1(st *scanState) {
	page, err := s.newPage(st.incognito)
	if err != nil {
		st.result.AddNote("Phase 1 page setup failed: %v", err)
		return
	}
	st.page = page

	// Baseline listener. Captures page-load traffic only; it never
	// feeds the verdict.
	baseline := AttachObserver(page)
	defer baseline.Detach()

	s.log.Info("Phase 1: Visiting site and completing opt-out")
	st.reporter.Report(2, "Phase 1: Visiting website...")

	if err := s.tolerantNavigate(page, st.targetURL); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.log.Warn("Page load timed out, continuing with what we have")
			st.result.AddNote("Page load timed out.")
		} else {
			s.log.Warn("Error loading page", logger.Fields{"error": err.Error()})
			st.result.AddNote("Page load error: %v", err)
		}
	} else {
		st.reporter.Report(3, "Page loaded successfully")
	}

	// Let deferred scripts and late pixels settle.
	time.Sleep(5 * time.Second)

	if s.capture(st, page, "before", true) {
		st.reporter.Report(4, "Before screenshot captured")
	}

	st.result.TrackersBefore = tracker.CollectHits(baseline.URLs())

	if cookies, err := SnapshotCookies(st.incognito); err == nil {
		st.cookiesBefore = cookies
		st.result.CookiesBefore = cookies
	} else {
		s.log.Warn("Cookie snapshot failed", logger.Fields{"error": err.Error()})
	}

	tiktokBefore := tracker.CollectTikTokHits(baseline.URLs())
	if len(tiktokBefore) > 0 {
		s.log.Info("TikTok requests before opt-out", logger.Fields{
			"domains": strings.Join(tiktokBefore, ", "),
			"count":   len(tracker.CollectTikTokURLs(baseline.URLs())),
		})
	}

	if n := len(st.result.TrackersBefore); n > 0 {
		st.reporter.Report(5, "Initial trackers identified: %d found", n)
	} else {
		st.reporter.Report(5, "No known trackers detected on initial load")
	}

	if tpBefore := tracker.ThirdPartyCookies(st.cookiesBefore, st.domain); len(tpBefore) > 0 {
		domains := cookieDomains(tpBefore)
		encoded, _ := json.Marshal(domains)
		st.result.AddNote("Third-party cookies before opt-out: %s", encoded)
	}

	st.reporter.Report(6, "STEP 2: Looking for opt-out mechanism...")
	outcome := NewConsentRunner(st.evidence, st.targetURL).RunOptOut(page)
	st.result.OptOutOutcome = outcome

	for _, att := range outcome.Attempts {
		if !att.Clicked {
			continue
		}
		switch att.Strategy {
		case "banner_popup":
			s.log.Info("Opt-out type: popup/banner", logger.Fields{"element": att.Element})
		case "footer_link":
			s.log.Info("Opt-out type: footer link", logger.Fields{"element": att.Element})
		case "js_consent_api":
			s.log.Info("Opt-out type: JavaScript API", logger.Fields{"element": att.Element})
		}
		break
	}

	switch {
	case outcome.Verified:
		st.reporter.Report(7, "Opted out via: %s", outcome.Method)
	case outcome.Clicked:
		st.result.AddNote("Opt-out was clicked but banner may still be visible — unverified.")
		st.reporter.Report(7, "Opt-out clicked but banner still visible")
	default:
		st.result.AddNote("No cookie consent banner found.")
		st.reporter.Report(7, "No cookie consent banner found")
	}

	s.log.Info("Phase 1 complete, closing page, cookies preserved in context")
	_ = rod.Try(func() { page.MustClose() })
	st.page = nil
}

// runPhase2 reopens the site on a brand-new page, browses to a product,
// and monitors the traffic that active browsing generates. Only that
// traffic feeds the verdict.
func (s *Scanner) runPhase2(st *scanState) {
	st.reporter.Report(8, "Phase 2: Testing post-opt-out tracking...")

	page, err := s.newPage(st.incognito)
	if err != nil {
		st.result.AddNote("Phase 2 page setup failed: %v", err)
		return
	}
	st.page = page

	if err := s.tolerantNavigate(page, st.targetURL); err != nil {
		s.log.Warn("Phase 2: Homepage load failed", logger.Fields{"error": err.Error()})
	} else {
		time.Sleep(3 * time.Second)
		st.reporter.Report(9, "Phase 2: Homepage loaded")
	}

	st.reporter.Report(10, "STEP 3: Looking for shop/category page...")
	if used := NavigateToShop(page); used != "" {
		s.log.Info("Navigated to category page", logger.Fields{
			"via": used,
			"url": currentURL(page),
		})
		st.reporter.Report(11, "STEP 3: Navigated to category page")
		time.Sleep(3 * time.Second)
	} else {
		st.reporter.Report(11, "STEP 3: No shop page found — using current page")
		st.result.AddNote("Could not find shop page link; browsing from homepage.")
	}

	st.reporter.Report(12, "STEP 4: Looking for products...")
	st.reporter.Report(13, "STEP 4: Clicking product...")

	onProduct, _ := NavigateToProduct(page)
	st.onProduct = onProduct
	if onProduct {
		st.result.ProductPageURL = currentURL(page)
		s.log.Info("Confirmed on product page", logger.Fields{"url": st.result.ProductPageURL})
	} else {
		s.log.Warn("All product navigation attempts failed")
		st.result.AddNote("Could not navigate to a product page; scan marked INCONCLUSIVE.")
	}

	if onProduct {
		if s.capture(st, page, "product", false) {
			st.reporter.Report(14, "STEP 5: Product page screenshot taken")
		} else {
			st.reporter.Report(14, "STEP 5: Product screenshot failed")
		}
	} else {
		st.reporter.Report(14, "STEP 5: No product page found — skipping screenshot")
	}

	// Only now does the monitoring listener attach. Load-time and
	// opt-out traffic is excluded by construction.
	monitor := AttachObserver(page)
	s.log.Info("Monitoring started", logger.Fields{"window_seconds": MonitorWindow.Seconds()})
	st.reporter.Report(15, "STEP 6: Monitoring network during active browsing")

	s.driveMonitorWindow(page)
	monitor.Detach()
	st.monitored = monitor.Requests()

	for _, r := range st.monitored {
		if _, ok := tracker.MatchTikTok(r.URL); ok {
			s.log.Info("TikTok request in monitoring window", logger.Fields{
				"relative": fmt.Sprintf("+%.1fs", r.RelativeTime),
				"url":      truncate(r.URL, 120),
			})
		}
	}
	s.log.Info("Monitoring window closed", logger.Fields{"requests": len(st.monitored)})

	if onProduct {
		st.result.AddNote("Product page: %s. Monitored for %.0fs.",
			st.result.ProductPageURL, MonitorWindow.Seconds())
	}
}

// driveMonitorWindow keeps the page busy for the monitor window. The
// scroll interval runs inside the browser so a wedged CDP connection
// cannot stall this loop; a bounded liveness probe each second detects
// the wedge and ends the window early.
func (s *Scanner) driveMonitorWindow(page *rod.Page) {
	_ = page.Mouse.MoveTo(proto.Point{X: 640, Y: 450})
	if err := rod.Try(func() {
		page.Timeout(clickTimeout).MustEval(startScrollJS, MonitorWindow.Seconds())
	}); err != nil {
		s.log.Warn("Could not start scroll", logger.Fields{"error": err.Error()})
	}

	deadline := time.Now().Add(MonitorWindow)
	lastProbe := time.Now()
	for time.Now().Before(deadline) {
		chunk := 500 * time.Millisecond
		if remaining := time.Until(deadline); remaining < chunk {
			chunk = remaining
		}
		time.Sleep(chunk)

		if time.Since(lastProbe) < time.Second {
			continue
		}
		lastProbe = time.Now()
		probeStart := time.Now()
		err := rod.Try(func() {
			page.Timeout(5 * time.Second).MustEval(`() => document.readyState`)
		})
		if err != nil || time.Since(probeStart) > 5*time.Second {
			s.log.Warn("Page unresponsive during monitoring, ending window early", logger.Fields{
				"elapsed": time.Since(probeStart).Seconds(),
			})
			return
		}
	}
}

// analyze turns the monitored traffic and cookie movement into the
// verdict and the evidence fields.
func (s *Scanner) analyze(st *scanState, softTimeout bool) {
	result := st.result

	urls := make([]string, len(st.monitored))
	for i, r := range st.monitored {
		urls[i] = r.URL
	}

	result.TotalRequests = len(st.monitored)
	result.TrackersAfter = tracker.CollectHits(urls)
	result.TikTokTrackersAfter = tracker.CollectTikTokHits(urls)
	result.RequestDetails = st.monitored

	requestDomains := tracker.GroupByDomain(urls)
	result.AllRequestDomains = requestDomains
	result.FlaggedDomains = tracker.FlagDomains(requestDomains)

	st.reporter.Report(16, "Analyzing post-opt-out network traffic...")
	if n := len(result.FlaggedDomains); n > 0 {
		st.reporter.Report(17, "Found %d flagged tracker domains", n)
	} else {
		st.reporter.Report(17, "No tracker domains found after opt-out")
	}

	// Cookie re-check. After a mid-phase abort the context may already
	// be unusable; the verdict then runs without cookie evidence.
	var newCookies []models.Cookie
	var newTPDomains []string
	if cookiesAfter, err := SnapshotCookies(st.incognito); err == nil {
		result.CookiesAfter = cookiesAfter
		newCookies = NewCookies(st.cookiesBefore, cookiesAfter)
		result.NewCookies = newCookies
		newTPDomains = NewThirdPartyDomains(st.cookiesBefore, cookiesAfter, st.domain)
	} else {
		s.log.Warn("Could not re-check cookies", logger.Fields{"error": err.Error()})
	}

	decision := Decide(st.monitored, newCookies, result.OptOutOutcome, softTimeout)
	result.Verdict = decision.Verdict
	result.Notes = append(result.Notes, decision.Notes...)
	result.SoftTimeout = softTimeout

	// A clean verdict without a product page proves nothing: the
	// monitored traffic never covered real browsing.
	if !st.onProduct && result.Verdict == models.VerdictClean {
		result.Verdict = models.VerdictInconclusive
	}

	if len(newTPDomains) > 0 {
		var nonTracker []string
		for _, d := range newTPDomains {
			if _, ok := tracker.MatchRule(strings.TrimPrefix(d, ".")); !ok {
				nonTracker = append(nonTracker, d)
			}
		}
		if len(nonTracker) > 0 {
			encoded, _ := json.Marshal(nonTracker)
			result.AddNote("Other new third-party cookies: %s", encoded)
		}
	}

	s.log.Info("Verdict determined", logger.Fields{
		"verdict":       string(result.Verdict),
		"tiktok_after":  len(result.TikTokTrackersAfter),
		"soft_timeout":  softTimeout,
		"total_capture": result.TotalRequests,
	})
}

// finish verifies the browser is still on the target, takes the final
// screenshots, and persists the result JSON.
func (s *Scanner) finish(st *scanState, softTimeout bool) {
	result := st.result

	// Skip the return-to-target check after an abort: the page may be
	// stuck and every call on it would burn the remaining budget.
	if !softTimeout && st.page != nil {
		current := currentURL(st.page)
		targetBase := strings.TrimPrefix(st.domain, "www.")
		if targetBase != "" && current != "" && !strings.Contains(current, targetBase) {
			s.log.Warn("Browser navigated away, returning to target", logger.Fields{"url": current})
			result.AddNote("Browser navigated away to %s; returned to target.", current)
			_ = rod.Try(func() {
				st.page.Timeout(PageLoadTimeout).MustNavigate(st.targetURL)
			})
			time.Sleep(3 * time.Second)
		}
	}

	if st.page != nil {
		if s.capture(st, st.page, "after", true) {
			st.reporter.Report(18, "After screenshot captured")
		}
		s.capture(st, st.page, "viewport", false)
		_ = rod.Try(func() { st.page.MustClose() })
		st.page = nil
	}

	if s.cfg.DataDir != "" {
		dir := filepath.Join(s.cfg.DataDir, "results")
		if err := result.SaveToFile(dir); err != nil {
			s.log.Warn("Failed to save result file", logger.Fields{"error": err.Error()})
		} else {
			st.reporter.Report(19, "Results saved")
		}
	}
}

// newPage opens a configured page in the context: viewport, user
// agent, and the sendBeacon interception that must precede any site
// script.
func (s *Scanner) newPage(incognito *rod.Browser) (*rod.Page, error) {
	userAgent := s.cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	var page *rod.Page
	err := rod.Try(func() {
		page = incognito.MustPage()
		page.MustSetViewport(viewportWidth, viewportHeight, 1, false)
		page.MustSetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: userAgent})
		page.MustEvalOnNewDocument(beaconInterceptJS)
	})
	if err != nil {
		if page != nil {
			_ = rod.Try(func() { page.MustClose() })
		}
		return nil, err
	}
	return page, nil
}

// tolerantNavigate navigates with the page-load timeout. The caller
// decides what a failure means for the scan.
func (s *Scanner) tolerantNavigate(page *rod.Page, target string) error {
	return rod.Try(func() {
		page.Timeout(PageLoadTimeout).MustNavigate(target)
	})
}

// capture stores a screenshot under its label, reporting success.
func (s *Scanner) capture(st *scanState, page *rod.Page, label string, fullPage bool) bool {
	if st.evidence == nil {
		return false
	}
	path, err := st.evidence.Capture(page, label, fullPage)
	if err != nil {
		s.log.Warn("Screenshot failed", logger.Fields{"label": label, "error": err.Error()})
		return false
	}
	st.result.PageScreenshots[label] = path
	return true
}

func (s *Scanner) logSummary(result *models.ScanResult) {
	s.log.Info("Scan summary", logger.Fields{
		"url":             result.URL,
		"verdict":         string(result.Verdict),
		"opt_out_found":   result.Found,
		"opt_out_clicked": result.Clicked,
		"trackers_before": len(result.TrackersBefore),
		"trackers_after":  len(result.TrackersAfter),
		"tiktok_after":    strings.Join(result.TikTokTrackersAfter, ", "),
		"flagged_domains": len(result.FlaggedDomains),
		"duration":        fmt.Sprintf("%.1fs", result.Duration),
	})
	for _, note := range result.Notes {
		s.log.Info("Scan note", logger.Fields{"note": note})
	}
}

// cookieDomains returns the sorted unique domains of a cookie list.
func cookieDomains(cookies []models.Cookie) []string {
	set := make(map[string]struct{}, len(cookies))
	for _, c := range cookies {
		set[c.Domain] = struct{}{}
	}
	domains := make([]string, 0, len(set))
	for d := range set {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
