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

// Package tracker classifies network requests and cookies against known
// tracker rules. Only TikTok traffic decides the verdict; every other
// tracker is recorded for evidence.
package tracker

import (
	"net/url"
	"sort"
	"strings"

	"github.com/consentry/consentry/pkg/models"
)

// TikTokTrackerDomains are matched by exact hostname, no substrings.
var TikTokTrackerDomains = []string{
	"analytics.tiktok.com",
	"analytics-ipv6.tiktokw.us",
	"www.tiktok.com",
	"business-api.tiktok.com",
	"mcs-va.tiktok.com",
	"mon.tiktok.com",
}

var tikTokDomainSet = func() map[string]struct{} {
	s := make(map[string]struct{}, len(TikTokTrackerDomains))
	for _, d := range TikTokTrackerDomains {
		s[d] = struct{}{}
	}
	return s
}()

// TikTokCookieNames are the cookies the TikTok pixel sets.
var TikTokCookieNames = []string{"_ttp", "_tt_enable_cookie"}

// TrackerDomains are matched as substrings of the full request URL.
var TrackerDomains = []string{
	// Google
	"google-analytics.com",
	"googletagmanager.com",
	"doubleclick.net",
	"googlesyndication.com",
	// Meta / Facebook
	"connect.facebook.net",
	"facebook.net",
	"graph.facebook.com",
	// Microsoft
	"clarity.ms",
	"bat.bing.com",
	// Session recording & analytics
	"hotjar.com",
	"mixpanel.com",
	"segment.com",
	"amplitude.com",
	"fullstory.com",
	"crazyegg.com",
	"mouseflow.com",
	// Marketing platforms
	"hubspot.com",
	"marketo.com",
	"pardot.com",
	// Pinterest
	"ct.pinterest.com",
	// LinkedIn
	"px.ads.linkedin.com",
	// Snapchat
	"sc-static.net",
	"tr.snapchat.com",
	"us-central1-ct.snap.com",
	// Reddit
	"ads.reddit.com",
	"alb.reddit.com",
	"events.reddit.com",
	// TikTok
	"analytics.tiktok.com",
	"business-api.tiktok.com",
	// Twitter / X
	"analytics.twitter.com",
	"ads-api.twitter.com",
	// Criteo
	"criteo.com",
	"criteo.net",
	// Taboola
	"taboola.com",
	// Outbrain
	"outbrain.com",
	// Klaviyo
	"klaviyo.com",
	// Attentive
	"attn.tv",
	"attentivemobile.com",
	// Affiliate / tracking
	"tp.media",
	"impact.com",
	"linksynergy.com",
	"shareasale.com",
}

// TrackerURLPatterns cover trackers living at specific paths on larger
// domains. Both the domain and the path fragment must appear.
var TrackerURLPatterns = []string{
	"tiktok.com/analytics",
	"www.tiktok.com/api",
	"linkedin.com/insight",
	"snap.licdn.com",
	"pinterest.com/tag",
	"twitter.com/i/adsct",
	"www.facebook.com/tr",
	"pixel.facebook.com",
	// t.co is Twitter's tracking redirect, matched with slashes to
	// avoid false positives on words containing "t.co".
	"//t.co/",
}

// MatchRule reports the tracker rule a request URL matches. Domain
// rules are checked first, then path patterns.
func MatchRule(requestURL string) (string, bool) {
	for _, domain := range TrackerDomains {
		if strings.Contains(requestURL, domain) {
			return domain, true
		}
	}
	for _, pattern := range TrackerURLPatterns {
		if strings.Contains(requestURL, pattern) {
			return pattern, true
		}
	}
	return "", false
}

// MatchTikTok reports the TikTok tracker hostname a request URL goes
// to. The hostname is parsed out and compared exactly, never by
// substring, so tiktok-lookalike domains do not match.
func MatchTikTok(requestURL string) (string, bool) {
	u, err := url.Parse(requestURL)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", false
	}
	if _, ok := tikTokDomainSet[host]; ok {
		return host, true
	}
	return "", false
}

// CollectHits returns the sorted unique tracker rules matched by the
// captured request URLs.
func CollectHits(requestURLs []string) []string {
	found := make(map[string]struct{})
	for _, u := range requestURLs {
		if rule, ok := MatchRule(u); ok {
			found[rule] = struct{}{}
		}
	}
	return sortedKeys(found)
}

// CollectTikTokHits returns the sorted unique TikTok tracker hostnames
// contacted.
func CollectTikTokHits(requestURLs []string) []string {
	found := make(map[string]struct{})
	for _, u := range requestURLs {
		if host, ok := MatchTikTok(u); ok {
			found[host] = struct{}{}
		}
	}
	return sortedKeys(found)
}

// CollectTikTokURLs returns the full request URLs that hit TikTok
// tracker domains, in capture order.
func CollectTikTokURLs(requestURLs []string) []string {
	var urls []string
	for _, u := range requestURLs {
		if _, ok := MatchTikTok(u); ok {
			urls = append(urls, u)
		}
	}
	return urls
}

// GroupByDomain counts captured requests per hostname.
func GroupByDomain(requestURLs []string) map[string]int {
	counts := make(map[string]int)
	for _, raw := range requestURLs {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			continue
		}
		counts[u.Host]++
	}
	return counts
}

// FlagDomains matches per-domain request counts against the tracker
// rules. Counts accumulate per domain, they are never overwritten.
func FlagDomains(domainCounts map[string]int) map[string]models.DomainFlag {
	flagged := make(map[string]models.DomainFlag)
	for domain, count := range domainCounts {
		if rule, ok := MatchRule(domain); ok {
			flagged[domain] = models.DomainFlag{RequestCount: count, MatchedRule: rule}
		}
	}
	return flagged
}

// HasTikTokNamespace reports whether a cookie domain belongs to the
// TikTok corporate namespace.
func HasTikTokNamespace(domain string) bool {
	for _, ns := range []string{"tiktok", "bytedance"} {
		if strings.Contains(domain, ns) {
			return true
		}
	}
	return false
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
