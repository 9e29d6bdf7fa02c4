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
	"sort"

	"github.com/go-rod/rod"

	"github.com/consentry/consentry/pkg/models"
	"github.com/consentry/consentry/pkg/tracker"
)

// SnapshotCookies reads every cookie from the browsing context.
func SnapshotCookies(b *rod.Browser) ([]models.Cookie, error) {
	cookies, err := b.GetCookies()
	if err != nil {
		return nil, err
	}
	out := make([]models.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, models.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return out, nil
}

// NewCookies returns the cookies present in after but not in before.
// Identity is (name, domain): a changed value is not a new cookie.
func NewCookies(before, after []models.Cookie) []models.Cookie {
	seen := make(map[[2]string]struct{}, len(before))
	for _, c := range before {
		seen[c.Key()] = struct{}{}
	}
	var fresh []models.Cookie
	for _, c := range after {
		if _, ok := seen[c.Key()]; !ok {
			fresh = append(fresh, c)
		}
	}
	return fresh
}

// NewThirdPartyDomains returns the sorted domains that set third-party
// cookies in the after snapshot but not in the before one.
func NewThirdPartyDomains(before, after []models.Cookie, siteDomain string) []string {
	beforeDomains := make(map[string]struct{})
	for _, c := range tracker.ThirdPartyCookies(before, siteDomain) {
		beforeDomains[c.Domain] = struct{}{}
	}
	freshDomains := make(map[string]struct{})
	for _, c := range tracker.ThirdPartyCookies(after, siteDomain) {
		if _, ok := beforeDomains[c.Domain]; !ok {
			freshDomains[c.Domain] = struct{}{}
		}
	}
	domains := make([]string, 0, len(freshDomains))
	for d := range freshDomains {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}
