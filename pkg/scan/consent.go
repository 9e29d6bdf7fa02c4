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

// Button labels ordered from most explicit to least. A primary label
// opts out with a single click.
var primaryOptOutTexts = []string{
	"Reject All",
	"Reject all",
	"Decline All",
	"Decline all",
	"Decline",
	"Opt Out",
	"Opt out",
	"Only Essential",
	"Only essential",
	"Necessary Only",
	"Necessary only",
	"Deny All",
	"Deny all",
	"Deny",
	"Refuse All",
	"Refuse all",
}

// managePrefsTexts open a settings panel where a save/confirm button
// finishes the opt-out.
var managePrefsTexts = []string{
	"Manage Preferences",
	"Manage preferences",
	"Cookie Settings",
	"Cookie settings",
	"Manage Cookies",
	"Manage cookies",
	"Cookie Manager",
	"Your Privacy Choices",
	"Do Not Sell My Personal Information",
	"Do Not Sell or Share",
	"Manage consent",
	"Manage Consent",
	"Customize",
	"More Options",
	"More options",
}

// saveTexts confirm the minimal selection inside a preference panel.
var saveTexts = []string{
	"Reject All",
	"Reject all",
	"Refuse All",
	"Refuse all",
	"Reject Targeting and Marketing",
	"Confirm My Choices",
	"Confirm my choices",
	"Save",
	"Confirm",
	"Confirm Choices",
	"Confirm choices",
	"Save Preferences",
	"Save preferences",
	"Accept Selected",
	"Accept selected",
	"Save Settings",
	"Save settings",
	"Apply",
	"Submit",
	"Save & Close",
	"Save and close",
}

// bannerSelectors identify known consent framework banners and modals.
var bannerSelectors = []string{
	"#onetrust-banner-sdk",
	"#onetrust-consent-sdk",
	"#CybotCookiebotDialog",
	".truste-consent-track",
	"#truste-consent-track",
	".osano-cm-window",
	`[class*="cookie-banner"]`,
	`[class*="consent-banner"]`,
	`[id*="cookie-banner"]`,
	`[id*="consent-banner"]`,
	`[class*="cookie-modal"]`,
	`[class*="consent-modal"]`,
	`[class*="cookie-notice"]`,
	`[class*="consent-notice"]`,
	".truste_overlay",
	".truste_box_overlay",
	".truste_cm_outerdiv",
}

// preferencePanelSelectors identify settings panels opened by footer
// links or manage buttons.
var preferencePanelSelectors = []string{
	"#onetrust-pc-sdk",
	".ot-preference-center",
	"#CybotCookiebotDialogDetail",
	".truste_overlay",
	".truste_box_overlay",
	".truste_cm_outerdiv",
	`iframe[src*="consent-pref.trustarc"]`,
	`[class*="cookie-settings"]`,
	`[class*="cookie-preferences"]`,
	`[class*="privacy-center"]`,
	`[id*="cookie-settings"]`,
	`[id*="privacy-preferences"]`,
	`[role="dialog"][aria-label*="cookie" i]`,
	`[role="dialog"][aria-label*="privacy" i]`,
	`[role="dialog"][aria-label*="consent" i]`,
}

// lastResortDismissSelectors close whatever overlay is still left when
// every strategy failed.
var lastResortDismissSelectors = []string{
	".cookie-close",
	`[class*="dismiss"]`,
	".close-button",
	`[aria-label="Close"]`,
}

const (
	// elementWait bounds the poll for a single element lookup.
	elementWait = 500 * time.Millisecond
	// clickTimeout bounds one click including the scroll-into-view.
	clickTimeout = 3 * time.Second
)

// ConsentRunner drives the multi-strategy opt-out chain on a page.
type ConsentRunner struct {
	evidence    *Evidence
	originalURL string
	log         logger.Logger
}

// NewConsentRunner prepares the chain for one page. evidence may be nil
// when no screenshots are wanted.
func NewConsentRunner(evidence *Evidence, originalURL string) *ConsentRunner {
	return &ConsentRunner{
		evidence:    evidence,
		originalURL: originalURL,
		log:         logger.GetLogger().WithField("component", "consent"),
	}
}

// RunOptOut executes the strategies in order until one verifies. The
// chain continues on a clicked-but-unverified strategy: a click without
// a dismissed banner proves nothing.
func (c *ConsentRunner) RunOptOut(page *rod.Page) models.OptOutOutcome {
	outcome := models.OptOutOutcome{
		Screenshots: make(map[string]string),
	}

	c.screenshot(page, "optout_before", outcome.Screenshots)

	if c.originalURL == "" {
		c.originalURL = currentURL(page)
	}

	strategies := []struct {
		name string
		run  func(*rod.Page) models.OptOutAttempt
	}{
		{"Popup/Banner", c.tryBannerOptOut},
		{"Footer Privacy Links", c.tryFooterOptOut},
		{"JavaScript Consent API", c.tryJSConsentAPI},
	}

	for _, strategy := range strategies {
		c.log.Info("Trying opt-out strategy", logger.Fields{"strategy": strategy.name})

		attempt := c.runStrategy(strategy.name, strategy.run, page)
		outcome.Attempts = append(outcome.Attempts, attempt)

		if !attempt.Clicked {
			c.log.Debug("Strategy found nothing to click", logger.Fields{"strategy": strategy.name})
			continue
		}

		outcome.Found = true
		outcome.Clicked = true
		c.log.Info("Opt-out clicked", logger.Fields{
			"strategy": strategy.name,
			"element":  attempt.Element,
		})

		c.screenshot(page, "optout_panel", outcome.Screenshots)
		time.Sleep(2 * time.Second)

		verified := false
		switch attempt.Strategy {
		case "footer_link", "js_consent_api":
			// These strategies verify themselves: they only mark the
			// attempt when the full interaction completed.
			verified = attempt.Verified
		default:
			verified = isBannerDismissed(page)
		}

		if verified {
			outcome.Verified = true
			outcome.Method = attempt.Element
			if outcome.Method == "" {
				outcome.Method = strategy.name
			}
			c.screenshot(page, "optout_after", outcome.Screenshots)
			break
		}
		c.log.Warn("Opt-out not verified, trying next strategy", logger.Fields{
			"strategy": strategy.name,
		})
	}

	if !outcome.Verified {
		for _, selector := range lastResortDismissSelectors {
			if !safeClick(page, selector) {
				continue
			}
			time.Sleep(1500 * time.Millisecond)
			if isBannerDismissed(page) {
				outcome.Found = true
				outcome.Clicked = true
				outcome.Verified = true
				outcome.Method = fmt.Sprintf("Dismissed overlay via %s", selector)
				c.log.Info("Dismissed overlay", logger.Fields{"selector": selector})
				break
			}
		}
	}

	c.screenshot(page, "optout_final", outcome.Screenshots)
	return outcome
}

// runStrategy isolates a strategy crash to an unclicked attempt.
func (c *ConsentRunner) runStrategy(name string, run func(*rod.Page) models.OptOutAttempt, page *rod.Page) (attempt models.OptOutAttempt) {
	attempt = models.OptOutAttempt{Strategy: name}
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn("Opt-out strategy panicked", logger.Fields{
				"strategy": name,
				"panic":    fmt.Sprint(r),
			})
		}
	}()
	attempt = run(page)
	return attempt
}

func (c *ConsentRunner) screenshot(page *rod.Page, label string, into map[string]string) {
	if c.evidence == nil {
		return
	}
	if path, err := c.evidence.Capture(page, label, false); err == nil {
		into[label] = path
	}
}

// tryBannerOptOut handles visible consent banners: framework-specific
// reject buttons first, generic text buttons, then the
// manage-preferences flow.
func (c *ConsentRunner) tryBannerOptOut(page *rod.Page) models.OptOutAttempt {
	attempt := models.OptOutAttempt{Strategy: "banner_popup"}

	// OneTrust
	if isVisible(page, "#onetrust-banner-sdk") {
		if safeClick(page, "#onetrust-reject-all-handler") {
			attempt.Clicked = true
			attempt.Element = "OneTrust: Reject All"
			return attempt
		}
		if safeClick(page, "#onetrust-pc-btn-handler") {
			time.Sleep(2 * time.Second)
			if safeClick(page, ".ot-pc-refuse-all-handler") {
				attempt.Clicked = true
				attempt.Element = "OneTrust: Preference Center → Reject All"
				return attempt
			}
			flipped := disableNonEssentialToggles(page)
			if saved := tryClickButton(page, saveTexts); saved != "" {
				attempt.Clicked = true
				attempt.Element = fmt.Sprintf("OneTrust: Preference Center → %s", saved)
				if flipped > 0 {
					attempt.Element += fmt.Sprintf(" (disabled %d toggles)", flipped)
				}
				return attempt
			}
			if safeClick(page, "button.save-preference-btn-handler") {
				attempt.Clicked = true
				attempt.Element = "OneTrust: Preference Center → Save Preferences"
				if flipped > 0 {
					attempt.Element += fmt.Sprintf(" (disabled %d toggles)", flipped)
				}
				return attempt
			}
		}
	}

	// CookieBot
	if isVisible(page, "#CybotCookiebotDialog") {
		if safeClick(page, "#CybotCookiebotDialogBodyButtonDecline") {
			attempt.Clicked = true
			attempt.Element = "CookieBot: Decline"
			return attempt
		}
		if safeClick(page, "#CybotCookiebotDialogBodyLevelButtonCustomize") {
			time.Sleep(1500 * time.Millisecond)
			if safeClick(page, "#CybotCookiebotDialogBodyButtonDecline") {
				attempt.Clicked = true
				attempt.Element = "CookieBot: Customize → Decline"
				return attempt
			}
		}
	}

	// TrustArc
	for _, sel := range []string{".truste-consent-track", "#truste-consent-track"} {
		if !isVisible(page, sel) {
			continue
		}
		if safeClick(page, ".truste-consent-required") {
			attempt.Clicked = true
			attempt.Element = "TrustArc: Required Only"
			return attempt
		}
		if safeClick(page, ".truste-consent-button") {
			time.Sleep(2 * time.Second)
			if saved := tryClickButton(page, saveTexts); saved != "" {
				attempt.Clicked = true
				attempt.Element = fmt.Sprintf("TrustArc: Preferences → %s", saved)
				return attempt
			}
		}
	}

	// Osano
	if isVisible(page, ".osano-cm-window") {
		if safeClick(page, ".osano-cm-deny") {
			attempt.Clicked = true
			attempt.Element = "Osano: Deny"
			return attempt
		}
	}

	// Generic text buttons
	if clicked := tryClickButton(page, primaryOptOutTexts); clicked != "" {
		attempt.Clicked = true
		attempt.Element = fmt.Sprintf("Banner button: %s", clicked)
		return attempt
	}

	// Generic manage-preferences flow
	if manage := tryClickButton(page, managePrefsTexts); manage != "" {
		c.log.Debug("Clicked preferences button", logger.Fields{"button": manage})
		time.Sleep(2 * time.Second)

		if reject := tryClickButton(page, primaryOptOutTexts); reject != "" {
			attempt.Clicked = true
			attempt.Element = fmt.Sprintf("Banner (%s) → %s", manage, reject)
			return attempt
		}

		flipped := disableNonEssentialToggles(page)
		if saved := tryClickButton(page, saveTexts); saved != "" {
			attempt.Clicked = true
			attempt.Element = fmt.Sprintf("Banner (%s) → %s", manage, saved)
			if flipped > 0 {
				attempt.Element += fmt.Sprintf(" (disabled %d toggles)", flipped)
			}
			return attempt
		}
	}

	return attempt
}

// tryJSConsentAPI calls consent manager APIs directly.
func (c *ConsentRunner) tryJSConsentAPI(page *rod.Page) models.OptOutAttempt {
	attempt := models.OptOutAttempt{Strategy: "js_consent_api"}

	if evalBool(page, `() => typeof OneTrust !== 'undefined'`) {
		if _, err := page.Eval(`() => OneTrust.RejectAll()`); err == nil {
			time.Sleep(1500 * time.Millisecond)
			attempt.Clicked = true
			attempt.Verified = true
			attempt.Element = "OneTrust.RejectAll() via JavaScript"
			return attempt
		}
	}

	if safeClick(page, "#onetrust-reject-all-handler") {
		attempt.Clicked = true
		attempt.Verified = true
		attempt.Element = "OneTrust: #onetrust-reject-all-handler"
		return attempt
	}

	if evalBool(page, `() => typeof Cookiebot !== 'undefined'`) {
		if _, err := page.Eval(`() => Cookiebot.withdraw()`); err == nil {
			time.Sleep(1500 * time.Millisecond)
			attempt.Clicked = true
			attempt.Verified = true
			attempt.Element = "Cookiebot.withdraw() via JavaScript"
			return attempt
		}
	}

	if safeClick(page, "#CybotCookiebotDialogBodyButtonDecline") {
		attempt.Clicked = true
		attempt.Verified = true
		attempt.Element = "CookieBot: #CybotCookiebotDialogBodyButtonDecline"
		return attempt
	}

	if safeClick(page, ".truste-consent-required") {
		attempt.Clicked = true
		attempt.Verified = true
		attempt.Element = "TrustArc: .truste-consent-required"
		return attempt
	}

	if evalBool(page, `() => typeof __tcfapi !== 'undefined'`) {
		setConsent := `() => __tcfapi('setConsent', 2, function(){}, {vendor: {consents: {}}, purpose: {consents: {}}})`
		if _, err := page.Eval(setConsent); err == nil {
			time.Sleep(1500 * time.Millisecond)
			attempt.Clicked = true
			attempt.Verified = true
			attempt.Element = "TCF API: setConsent via __tcfapi"
			return attempt
		}
	}

	return attempt
}

// isBannerDismissed reports whether no known consent banner is visible.
func isBannerDismissed(page *rod.Page) bool {
	for _, selector := range bannerSelectors {
		if isVisible(page, selector) {
			return false
		}
	}
	return true
}

// isPreferencePanelDismissed reports whether no preference panel is
// visible.
func isPreferencePanelDismissed(page *rod.Page) bool {
	for _, selector := range preferencePanelSelectors {
		if isVisible(page, selector) {
			return false
		}
	}
	return true
}

// isVisible checks a selector without waiting beyond the short poll.
func isVisible(page *rod.Page, selector string) bool {
	visible := false
	_ = rod.Try(func() {
		el := page.Timeout(elementWait).MustElement(selector)
		visible = el.MustVisible()
	})
	return visible
}

// safeClick clicks a selector if it exists and is visible.
func safeClick(page *rod.Page, selector string) bool {
	clicked := false
	_ = rod.Try(func() {
		el := page.Timeout(elementWait).MustElement(selector)
		if el.MustVisible() {
			el.Timeout(clickTimeout).MustClick()
			clicked = true
		}
	})
	return clicked
}

// tryClickButton finds and clicks a visible button or link whose text
// matches one of the labels. Returns the matched label or "".
func tryClickButton(page *rod.Page, labels []string) string {
	for _, label := range labels {
		pattern := fmt.Sprintf("/%s/i", regexp.QuoteMeta(label))
		clicked := false
		_ = rod.Try(func() {
			el := page.Timeout(elementWait).
				MustElementR(`button, a, [role="button"], input[type="submit"], input[type="button"]`, pattern)
			if el.MustVisible() {
				el.Timeout(clickTimeout).MustClick()
				clicked = true
			}
		})
		if clicked {
			return label
		}
	}
	return ""
}

// evalBool evaluates a JS predicate, treating errors as false.
func evalBool(page *rod.Page, js string) bool {
	obj, err := page.Eval(js)
	if err != nil {
		return false
	}
	return obj.Value.Bool()
}
