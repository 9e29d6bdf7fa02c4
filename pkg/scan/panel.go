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
	"strings"
	"time"

	"github.com/go-rod/rod"
)

// keepEnabledCategories are cookie categories that must stay on. A
// toggle near one of these labels is never flipped.
var keepEnabledCategories = []string{
	"essential",
	"strictly necessary",
	"required",
	"necessary",
}

// disableCategories are the category labels worth flipping off.
var disableCategories = []string{
	"analytics",
	"advertising",
	"marketing",
	"targeting",
	"personalization",
	"performance",
	"social media",
	"targeted advertising",
	"functional",
	"statistics",
	"preference",
	"sale of personal data",
}

// toggleContainerSelectors locate per-category rows inside preference
// panels.
var toggleContainerSelectors = []string{
	".ot-sdk-row",
	".ot-cat-item",
	".cookie-category",
	".consent-category",
	`[class*="preference-group"]`,
	`[class*="cookie-group"]`,
	`[class*="toggle-group"]`,
}

// enabledToggleSelectors match a toggle that is currently on.
var enabledToggleSelectors = []string{
	`input[type="checkbox"]:checked`,
	`[aria-checked="true"]`,
	".ot-switch input:checked",
}

// fallbackToggleSelectors widen the search when category rows were not
// recognized.
var fallbackToggleSelectors = []string{
	`input[type="checkbox"]:checked`,
	`[aria-checked="true"]`,
	`button[role="switch"][aria-checked="true"]`,
	".toggle-switch.active",
	`[class*="toggle"][class*="on"]`,
	`[class*="switch"][class*="active"]`,
}

// interactWithPreferencePanel runs the opt-out actions inside an open
// preference panel. Returns a description of what worked, or "".
func interactWithPreferencePanel(page *rod.Page) string {
	if safeClick(page, "#onetrust-reject-all-handler") {
		return "OneTrust Reject All"
	}
	if safeClick(page, ".ot-pc-refuse-all-handler") {
		return "OneTrust Refuse All"
	}
	if safeClick(page, "#CybotCookiebotDialogBodyButtonDecline") {
		return "CookieBot Decline"
	}
	if safeClick(page, ".truste-consent-required") {
		return "TrustArc Required Only"
	}

	if description := tryTrustArcIframe(page); description != "" {
		return description
	}

	if clicked := tryClickButton(page, primaryOptOutTexts); clicked != "" {
		return clicked
	}

	rejectTexts := []string{
		"Reject All",
		"Reject all",
		"Refuse All",
		"Refuse all",
		"Reject Targeting and Marketing",
	}
	if clicked := tryClickButton(page, rejectTexts); clicked != "" {
		return clicked
	}

	flipped := disableNonEssentialToggles(page)
	if saved := tryClickButton(page, saveTexts); saved != "" {
		if flipped > 0 {
			return fmt.Sprintf("%s (disabled %d toggles)", saved, flipped)
		}
		return saved
	}
	if safeClick(page, "button.save-preference-btn-handler") {
		return "Save Preferences"
	}
	return ""
}

// disableNonEssentialToggles flips off every enabled toggle that is not
// guarding an essential category. Returns the number flipped.
func disableNonEssentialToggles(page *rod.Page) int {
	flipped := 0

	for _, containerSel := range toggleContainerSelectors {
		var containers rod.Elements
		_ = rod.Try(func() {
			containers = page.MustElements(containerSel)
		})
		for _, container := range containers {
			text := ""
			_ = rod.Try(func() {
				text = strings.ToLower(container.MustText())
			})
			if containsAny(text, keepEnabledCategories) {
				continue
			}
			if text != "" && !containsAny(text, disableCategories) {
				continue
			}
			for _, toggleSel := range enabledToggleSelectors {
				var toggles rod.Elements
				_ = rod.Try(func() {
					toggles = container.MustElements(toggleSel)
				})
				for _, toggle := range toggles {
					if clickToggle(toggle) {
						flipped++
					}
				}
			}
		}
	}

	// Category rows are not always recognizable. Sweep any toggle still
	// on, checking nearby text before flipping it.
	for _, toggleSel := range fallbackToggleSelectors {
		var toggles rod.Elements
		_ = rod.Try(func() {
			toggles = page.MustElements(toggleSel)
		})
		for _, toggle := range toggles {
			if nearEssentialLabel(toggle) {
				continue
			}
			if clickToggle(toggle) {
				flipped++
			}
		}
	}

	return flipped
}

// clickToggle clicks a toggle element if visible.
func clickToggle(toggle *rod.Element) bool {
	clicked := false
	_ = rod.Try(func() {
		if toggle.MustVisible() {
			toggle.Timeout(clickTimeout).MustClick()
			clicked = true
		}
	})
	return clicked
}

// nearEssentialLabel walks up three ancestors looking for an essential
// category label around the toggle.
func nearEssentialLabel(toggle *rod.Element) bool {
	essential := false
	_ = rod.Try(func() {
		result := toggle.MustEval(`() => {
			const labels = ['essential', 'strictly necessary', 'required', 'necessary'];
			let node = this;
			for (let i = 0; i < 3 && node; i++) {
				const text = (node.textContent || '').toLowerCase();
				if (labels.some(l => text.includes(l))) {
					return true;
				}
				node = node.parentElement;
			}
			return false;
		}`)
		essential = result.Bool()
	})
	return essential
}

// tryTrustArcIframe drives the TrustArc consent UI that lives inside a
// cross-origin iframe. Returns a description of what worked, or "".
func tryTrustArcIframe(page *rod.Page) string {
	frame := findTrustArcFrame(page)
	if frame == nil {
		return ""
	}

	toggled := 0
	var spans rod.Elements
	_ = rod.Try(func() {
		spans = frame.MustElements("span.gwt-InlineHTML.on:not(.active)")
	})
	for _, span := range spans {
		if clickToggle(span) {
			toggled++
			time.Sleep(500 * time.Millisecond)
		}
	}

	saved := false
	for _, sel := range []string{"a.submit", "button.submit"} {
		if safeClick(frame, sel) {
			saved = true
			break
		}
	}
	if !saved {
		if clicked := tryClickButton(frame, []string{"SAVE", "Save"}); clicked != "" {
			saved = true
		}
	}

	closeTrustArcOverlay(page)

	switch {
	case saved && toggled > 0:
		return fmt.Sprintf("TrustArc iframe: toggled %d to No → Save", toggled)
	case saved:
		return "TrustArc iframe: Save"
	case toggled > 0:
		return fmt.Sprintf("TrustArc iframe: toggled %d to No (save not found)", toggled)
	}
	return ""
}

// findTrustArcFrame locates the TrustArc preferences iframe, if any.
func findTrustArcFrame(page *rod.Page) *rod.Page {
	selectors := []string{
		`iframe[src*="consent-pref.trustarc"]`,
		`iframe[src*="trustarc"]`,
		`iframe[src*="consent-pref"]`,
		`iframe[title*="TrustArc"]`,
	}
	for _, sel := range selectors {
		var frame *rod.Page
		_ = rod.Try(func() {
			el := page.Timeout(elementWait).MustElement(sel)
			frame = el.MustFrame()
		})
		if frame != nil {
			return frame
		}
	}
	return nil
}

// closeTrustArcOverlay closes the iframe overlay, falling back to
// removing it from the DOM.
func closeTrustArcOverlay(page *rod.Page) {
	for _, sel := range []string{"#trustarc-internal-close-button", ".truste-close-button"} {
		if safeClick(page, sel) {
			return
		}
	}
	_, _ = page.Eval(`() => {
		for (const sel of ['.truste_overlay', '.truste_cm_outerdiv', '.truste_box_overlay']) {
			document.querySelectorAll(sel).forEach(el => el.remove());
		}
	}`)
}

// containsAny reports whether text contains any of the needles.
func containsAny(text string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}
