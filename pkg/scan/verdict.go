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
	"sort"
	"strings"

	"github.com/consentry/consentry/pkg/models"
	"github.com/consentry/consentry/pkg/tracker"
)

// Decision is a verdict plus the notes produced while deciding it.
type Decision struct {
	Verdict models.Verdict
	Notes   []string
}

// Decide turns the monitoring-window evidence into a verdict.
//
// Only TikTok traffic can produce a violation; every other tracker is
// evidence. The request timestamps matter: traffic later than
// EarlyInitThreshold proves active tracking, traffic entirely within
// ImmediateThreshold is indistinguishable from cached script startup.
// A new TikTok-namespace tracker cookie upgrades the verdict, but only
// when an opt-out was actually clicked, otherwise there is nothing the
// cookie could have violated.
func Decide(requests []models.CapturedRequest, newCookies []models.Cookie, optOut models.OptOutOutcome, softTimeout bool) Decision {
	var d Decision

	var tikTokTimes []float64
	for _, r := range requests {
		if _, ok := tracker.MatchTikTok(r.URL); ok {
			tikTokTimes = append(tikTokTimes, r.RelativeTime)
		}
	}

	switch {
	case len(tikTokTimes) > 0 && optOut.Clicked:
		hasLate := false
		allEarly := true
		for _, t := range tikTokTimes {
			if t > EarlyInitThreshold.Seconds() {
				hasLate = true
			}
			if t > ImmediateThreshold.Seconds() {
				allEarly = false
			}
		}
		switch {
		case hasLate:
			d.Verdict = models.VerdictViolation
		case allEarly:
			d.Verdict = models.VerdictInconclusive
			d.Notes = append(d.Notes,
				"POSSIBLE FALSE POSITIVE: All TikTok requests occurred within 2s of "+
					"monitoring start — likely cached script initialization, not active tracking.")
		default:
			d.Verdict = models.VerdictInconclusive
			d.Notes = append(d.Notes,
				"TikTok requests found between 2-5s after monitoring start — "+
					"could be delayed initialization. Marking as inconclusive.")
		}
	case softTimeout:
		d.Verdict = models.VerdictTimeout
	case !optOut.Clicked:
		d.Verdict = models.VerdictInconclusive
	default:
		d.Verdict = models.VerdictClean
	}

	// Cookie upgrade. A brand-new cookie in the TikTok namespace after
	// a completed opt-out is a violation on its own.
	if optOut.Clicked {
		trackerDomains := make(map[string]struct{})
		tikTokCookie := false
		for _, c := range newCookies {
			domain := strings.TrimPrefix(c.Domain, ".")
			if _, ok := tracker.MatchRule(domain); !ok {
				continue
			}
			trackerDomains[c.Domain] = struct{}{}
			if tracker.HasTikTokNamespace(c.Domain) {
				tikTokCookie = true
			}
		}
		if len(trackerDomains) > 0 {
			domains := make([]string, 0, len(trackerDomains))
			for domain := range trackerDomains {
				domains = append(domains, domain)
			}
			sort.Strings(domains)
			d.Notes = append(d.Notes, fmt.Sprintf(
				"New tracker cookies after opt-out: %s", strings.Join(domains, ", ")))
		}
		if tikTokCookie {
			d.Verdict = models.VerdictViolation
		}
	}

	return d
}
