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

package scan

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-rod/rod"

	"github.com/consentry/consentry/pkg/logger"
	"github.com/consentry/consentry/pkg/models"
)

// footerPrivacyTexts are link labels that lead to privacy controls.
// Checked as case-insensitive substrings anywhere on the page.
var footerPrivacyTexts = []string{
	// Privacy choices
	"Your Privacy Rights and Choices",
	"Your Privacy Rights",
	"Your Privacy Choices",
	"Privacy Choices",
	"Privacy Options",
	"Your Choices",
	"Your California Privacy Rights",
	// Cookie management
	"Cookie Preferences",
	"Cookie Settings",
	"Cookie Management",
	"Manage Cookies",
	"Cookie Consent",
	"Manage Your Cookie Preferences",
	"Cookie Policy",
	// Privacy settings
	"Privacy Settings",
	"Privacy Preferences",
	"Manage Privacy",
	"Privacy Center",
	// Do Not Sell variations
	"Do Not Sell My Personal Information",
	"Do Not Sell or Share My Personal Information",
	"Do Not Sell My Info",
	"Do Not Sell or Share",
	"Do Not Sell",
	// Advertising
	"Ad Preferences",
	"Advertising Preferences",
	"AdChoices",
	// Opt out
	"Opt Out",
}

// footerManageTexts are settings buttons found on dedicated privacy
// pages after navigating away from the storefront.
var footerManageTexts = []string{
	"Manage Your Cookie Preferences",
	"Manage Cookie Preferences",
	"Cookie Preferences",
	"Cookie Settings",
	"Manage Cookies",
	"Manage Preferences",
	"Manage Privacy Settings",
	"Cookie Consent Settings",
}

// popupCloseSelectors dismiss marketing popups that block footer
// interactions.
var popupCloseSelectors = []string{
	"#attentive_overlay .attentive-close",
	`#attentive_overlay [aria-label="Close"]`,
	"#attentive_overlay button",
	".attentive-dismiss",
	`[id*="attentive"] [class*="close"]`,
	".popup-close",
	".modal-close",
	`[class*="popup"] [class*="close"]`,
	`[class*="overlay"] [class*="close"]`,
	`[class*="newsletter"] [class*="close"]`,
	`[class*="signup"] [class*="close"]`,
	`button[aria-label="Close"]`,
	`button[aria-label="close"]`,
	`[class*="email-popup"] [class*="close"]`,
}

// ccpaIconSelectors match the CCPA toggle icon and related privacy
// shortcuts.
var ccpaIconSelectors = []string{
	`a[href*="privacy"]`,
	`[class*="ccpa"]`,
	`[class*="privacy-choices"]`,
	`[class*="privacychoices"]`,
	`[id*="ccpa"]`,
	`[id*="privacy"]`,
	`img[alt*="Privacy"]`,
	`img[alt*="CCPA"]`,
	`img[alt*="privacy choices"]`,
	`img[alt*="Your Privacy Choices"]`,
	`a[href*="optout"]`,
	`a[href*="opt-out"]`,
}

// privacyLinkSearchJS scans the whole document for clickable elements
// whose text matches one of the search labels. Hidden elements are
// filtered in-page, footer links sort first, then floating bars.
const privacyLinkSearchJS = `(searchTexts) => {
	const results = [];
	const seen = new Set();
	const els = document.querySelectorAll('a, button, [role="link"], [role="button"], span[onclick], div[onclick]');
	for (const el of els) {
		const text = (el.textContent || '').trim();
		if (!text || text.length > 200) continue;
		const textLower = text.toLowerCase();
		for (const searchText of searchTexts) {
			if (textLower.includes(searchText.toLowerCase())) {
				const rect = el.getBoundingClientRect();
				const style = window.getComputedStyle(el);
				if (style.display === 'none' || style.visibility === 'hidden') continue;
				if (rect.width < 5 || rect.height < 5) continue;
				const key = searchText + '|' + (el.getAttribute('href') || '') + '|' + text.slice(0, 50);
				if (seen.has(key)) continue;
				seen.add(key);
				results.push({
					matchedText: searchText,
					elementText: text.slice(0, 100),
					tag: el.tagName.toLowerCase(),
					href: el.getAttribute('href') || '',
					inFooter: !!el.closest('footer'),
					inFixed: style.position === 'fixed' || style.position === 'sticky',
					xpath: (() => {
						const path = [];
						let node = el;
						while (node && node.nodeType === 1) {
							let idx = 1;
							let sib = node.previousElementSibling;
							while (sib) { if (sib.tagName === node.tagName) idx++; sib = sib.previousElementSibling; }
							path.unshift(node.tagName.toLowerCase() + '[' + idx + ']');
							node = node.parentElement;
						}
						return '/' + path.join('/');
					})()
				});
				break;
			}
		}
	}
	results.sort((a, b) => {
		if (a.inFooter && !b.inFooter) return -1;
		if (!a.inFooter && b.inFooter) return 1;
		if (a.inFixed && !b.inFixed) return -1;
		if (!a.inFixed && b.inFixed) return 1;
		return 0;
	});
	return results;
}`

// privacyLinkCandidate is one clickable match from the in-page search.
type privacyLinkCandidate struct {
	MatchedText string
	ElementText string
	Tag         string
	Href        string
	InFooter    bool
	InFixed     bool
	XPath       string
}

// tryFooterOptOut finds privacy and cookie links anywhere on the page,
// clicks them, and handles whatever opens: a modal, a preference panel,
// or a dedicated privacy page.
func (c *ConsentRunner) tryFooterOptOut(page *rod.Page) models.OptOutAttempt {
	attempt := models.OptOutAttempt{Strategy: "footer_link"}

	dismissPopups(page)

	c.log.Debug("Scrolling to bottom to reveal footer content")
	scrollToBottom(page)

	// Some popups only appear on scroll.
	dismissPopups(page)

	expandFooterSections(page)

	urlBefore := currentURL(page)

	candidates, err := searchPrivacyLinks(page)
	if err != nil {
		c.log.Warn("Privacy link search failed", logger.Fields{"error": err.Error()})
	}
	c.log.Info("Privacy link candidates found", logger.Fields{"count": len(candidates)})

	for _, candidate := range candidates {
		el := resolveCandidate(page, candidate)
		if el == nil {
			continue
		}
		if !clickCandidate(el) {
			continue
		}
		c.log.Info("Clicked privacy link", logger.Fields{
			"text":     candidate.MatchedText,
			"location": candidateLocation(candidate),
		})
		time.Sleep(3 * time.Second)

		urlAfter := currentURL(page)
		navigated := urlAfter != "" && urlAfter != urlBefore

		if navigated {
			c.log.Info("Navigated to privacy page", logger.Fields{"url": urlAfter})
			time.Sleep(3 * time.Second)
			if sub := tryClickButton(page, footerManageTexts); sub != "" {
				c.log.Debug("Clicked settings button on privacy page", logger.Fields{"button": sub})
				time.Sleep(3 * time.Second)
			}
		}

		if result := interactWithPreferencePanel(page); result != "" {
			time.Sleep(2 * time.Second)
			attempt.Clicked = true
			attempt.Verified = true
			attempt.Element = fmt.Sprintf("Footer (%s) → %s", candidate.MatchedText, result)
			if isPreferencePanelDismissed(page) {
				attempt.Element += " [panel dismissed]"
			}
			return attempt
		}

		if navigated {
			_ = rod.Try(func() {
				p := page.Timeout(PageLoadTimeout)
				p.MustNavigate(c.originalURL)
				p.MustWaitLoad()
			})
			time.Sleep(2 * time.Second)
			scrollToBottom(page)
		}
	}

	// The CCPA toggle icon is often an image link with no useful text.
	for _, iconSel := range ccpaIconSelectors {
		for _, scope := range []string{"footer ", ""} {
			fullSel := scope + iconSel
			if !safeClick(page, fullSel) {
				continue
			}
			c.log.Info("Clicked CCPA/privacy icon", logger.Fields{"selector": fullSel})
			time.Sleep(3 * time.Second)
			if result := interactWithPreferencePanel(page); result != "" {
				attempt.Clicked = true
				attempt.Verified = true
				attempt.Element = fmt.Sprintf("CCPA icon (%s) → %s", fullSel, result)
				return attempt
			}
			break
		}
	}

	return attempt
}

// searchPrivacyLinks runs the in-page candidate scan.
func searchPrivacyLinks(page *rod.Page) ([]privacyLinkCandidate, error) {
	obj, err := page.Eval(privacyLinkSearchJS, footerPrivacyTexts)
	if err != nil {
		return nil, fmt.Errorf("privacy link scan failed: %w", err)
	}
	var candidates []privacyLinkCandidate
	for _, item := range obj.Value.Arr() {
		candidates = append(candidates, privacyLinkCandidate{
			MatchedText: item.Get("matchedText").Str(),
			ElementText: item.Get("elementText").Str(),
			Tag:         item.Get("tag").Str(),
			Href:        item.Get("href").Str(),
			InFooter:    item.Get("inFooter").Bool(),
			InFixed:     item.Get("inFixed").Bool(),
			XPath:       item.Get("xpath").Str(),
		})
	}
	return candidates, nil
}

// resolveCandidate re-finds a candidate by XPath, falling back to a
// text match on its tag. The page may have changed since the scan.
func resolveCandidate(page *rod.Page, candidate privacyLinkCandidate) *rod.Element {
	var el *rod.Element
	_ = rod.Try(func() {
		found := page.Timeout(elementWait).MustElementX(candidate.XPath)
		if found.MustVisible() {
			el = found
		}
	})
	if el != nil {
		return el
	}
	pattern := fmt.Sprintf("/%s/i", regexp.QuoteMeta(candidate.MatchedText))
	_ = rod.Try(func() {
		found := page.Timeout(elementWait).MustElementR(candidate.Tag, pattern)
		if found.MustVisible() {
			el = found
		}
	})
	return el
}

// clickCandidate clicks normally, then falls back to a JS click for
// elements a real pointer cannot reach.
func clickCandidate(el *rod.Element) bool {
	if err := rod.Try(func() {
		el.Timeout(5 * time.Second).MustClick()
	}); err == nil {
		return true
	}
	return rod.Try(func() {
		el.Timeout(clickTimeout).MustEval("() => this.click()")
	}) == nil
}

func candidateLocation(candidate privacyLinkCandidate) string {
	switch {
	case candidate.InFooter:
		return "footer"
	case candidate.InFixed:
		return "floating bar"
	}
	return "page"
}

// expandFooterSections opens collapsed footer groups that hide legal
// links on mobile-first layouts.
func expandFooterSections(page *rod.Page) {
	expandTexts := []string{
		"More", "Legal", "Policies", "Information", "About",
		"Company", "Help", "Customer Service", "Resources",
	}
	templates := []string{
		"footer button",
		"footer summary",
		`footer [role="button"]`,
		"footer h3",
		"footer h4",
	}
	for _, text := range expandTexts {
		pattern := fmt.Sprintf("/%s/i", regexp.QuoteMeta(text))
		for _, template := range templates {
			clicked := false
			_ = rod.Try(func() {
				el := page.Timeout(300 * time.Millisecond).MustElementR(template, pattern)
				if el.MustVisible() {
					el.Timeout(2 * time.Second).MustClick()
					clicked = true
				}
			})
			if clicked {
				time.Sleep(500 * time.Millisecond)
				break
			}
		}
	}
}

// dismissPopups closes marketing overlays, falling back to removing
// them from the DOM.
func dismissPopups(page *rod.Page) bool {
	for _, sel := range popupCloseSelectors {
		closed := false
		_ = rod.Try(func() {
			el := page.Timeout(300 * time.Millisecond).MustElement(sel)
			if el.MustVisible() {
				el.Timeout(2 * time.Second).MustClick()
				closed = true
			}
		})
		if closed {
			time.Sleep(500 * time.Millisecond)
			return true
		}
	}

	_, _ = page.Eval(`() => {
		const overlay = document.getElementById('attentive_overlay');
		if (overlay) overlay.remove();
		document.querySelectorAll('[style*="position: fixed"]').forEach(el => {
			if (el.offsetHeight > 300 && el.offsetWidth > 300) {
				const z = parseInt(window.getComputedStyle(el).zIndex) || 0;
				if (z > 1000) el.remove();
			}
		});
	}`)
	time.Sleep(500 * time.Millisecond)
	return false
}

// scrollToBottom scrolls to the page bottom twice, letting lazy-loaded
// footer content settle in between.
func scrollToBottom(page *rod.Page) {
	_, _ = page.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`)
	time.Sleep(1500 * time.Millisecond)
	_, _ = page.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`)
	time.Sleep(1 * time.Second)
}

// currentURL reads the page URL, tolerating a detached page.
func currentURL(page *rod.Page) string {
	info, err := page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}
