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

package tracker

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/consentry/consentry/pkg/models"
)

func TestTracker(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Tracker Suite")
}

var _ = Describe("MatchTikTok", func() {
	It("should match exact TikTok tracker hostnames", func() {
		host, ok := MatchTikTok("https://analytics.tiktok.com/api/v2/pixel/track")
		Expect(ok).To(BeTrue())
		Expect(host).To(Equal("analytics.tiktok.com"))
	})

	It("should match hostnames case-insensitively", func() {
		host, ok := MatchTikTok("https://ANALYTICS.TIKTOK.COM/pixel")
		Expect(ok).To(BeTrue())
		Expect(host).To(Equal("analytics.tiktok.com"))
	})

	It("should not match lookalike domains containing a tracker name", func() {
		_, ok := MatchTikTok("https://www.tiktok.com.evil.example/track")
		Expect(ok).To(BeFalse())
	})

	It("should not match tracker names appearing only in the path", func() {
		_, ok := MatchTikTok("https://cdn.example.com/analytics.tiktok.com/pixel.js")
		Expect(ok).To(BeFalse())
	})

	It("should not match unrelated hosts", func() {
		_, ok := MatchTikTok("https://www.example.com/")
		Expect(ok).To(BeFalse())
	})

	It("should match every configured TikTok domain", func() {
		for _, d := range TikTokTrackerDomains {
			host, ok := MatchTikTok("https://" + d + "/x")
			Expect(ok).To(BeTrue(), "expected %s to match", d)
			Expect(host).To(Equal(d))
		}
	})
})

var _ = Describe("MatchRule", func() {
	It("should match tracker domains as substrings", func() {
		rule, ok := MatchRule("https://www.google-analytics.com/collect?v=1")
		Expect(ok).To(BeTrue())
		Expect(rule).To(Equal("google-analytics.com"))
	})

	It("should match path-specific tracker patterns", func() {
		rule, ok := MatchRule("https://www.facebook.com/tr?id=12345")
		Expect(ok).To(BeTrue())
		Expect(rule).To(Equal("www.facebook.com/tr"))
	})

	It("should prefer domain rules over path patterns", func() {
		rule, ok := MatchRule("https://analytics.tiktok.com/api/v2/pixel")
		Expect(ok).To(BeTrue())
		Expect(rule).To(Equal("analytics.tiktok.com"))
	})

	It("should not match clean URLs", func() {
		_, ok := MatchRule("https://shop.example.com/products/socks")
		Expect(ok).To(BeFalse())
	})

	It("should match the t.co redirect only with surrounding slashes", func() {
		_, ok := MatchRule("https://example.com/about.constant.html")
		Expect(ok).To(BeFalse())

		rule, ok := MatchRule("https://t.co/abc123")
		Expect(ok).To(BeTrue())
		Expect(rule).To(Equal("//t.co/"))
	})
})

var _ = Describe("CollectHits", func() {
	urls := []string{
		"https://www.google-analytics.com/collect",
		"https://www.google-analytics.com/collect?second=1",
		"https://analytics.tiktok.com/pixel",
		"https://shop.example.com/cart",
	}

	It("should return sorted unique matched rules", func() {
		hits := CollectHits(urls)
		Expect(hits).To(Equal([]string{"analytics.tiktok.com", "google-analytics.com"}))
	})

	It("should be deterministic over repeated runs", func() {
		first := CollectHits(urls)
		second := CollectHits(urls)
		Expect(second).To(Equal(first))
	})
})

var _ = Describe("CollectTikTokURLs", func() {
	It("should keep full URLs in capture order", func() {
		urls := []string{
			"https://analytics.tiktok.com/one",
			"https://shop.example.com/two",
			"https://mon.tiktok.com/three",
		}
		Expect(CollectTikTokURLs(urls)).To(Equal([]string{
			"https://analytics.tiktok.com/one",
			"https://mon.tiktok.com/three",
		}))
	})
})

var _ = Describe("GroupByDomain", func() {
	It("should accumulate counts per domain", func() {
		counts := GroupByDomain([]string{
			"https://analytics.tiktok.com/a",
			"https://analytics.tiktok.com/b",
			"https://cdn.example.com/app.js",
		})
		Expect(counts["analytics.tiktok.com"]).To(Equal(2))
		Expect(counts["cdn.example.com"]).To(Equal(1))
	})

	It("should skip unparseable entries", func() {
		counts := GroupByDomain([]string{"not a url", ""})
		Expect(counts).To(BeEmpty())
	})
})

var _ = Describe("FlagDomains", func() {
	It("should flag tracker domains with their counts and rules", func() {
		flags := FlagDomains(map[string]int{
			"analytics.tiktok.com": 2,
			"cdn.example.com":      7,
		})
		Expect(flags).To(HaveLen(1))
		Expect(flags["analytics.tiktok.com"].RequestCount).To(Equal(2))
		Expect(flags["analytics.tiktok.com"].MatchedRule).To(Equal("analytics.tiktok.com"))
	})
})

var _ = Describe("HasTikTokNamespace", func() {
	It("should match tiktok and bytedance cookie domains", func() {
		Expect(HasTikTokNamespace(".tiktok.com")).To(BeTrue())
		Expect(HasTikTokNamespace("log.bytedance.com")).To(BeTrue())
		Expect(HasTikTokNamespace(".doubleclick.net")).To(BeFalse())
	})
})

var _ = Describe("CookiePlatform", func() {
	It("should resolve known tracking cookie names", func() {
		platform, ok := CookiePlatform("_ttp")
		Expect(ok).To(BeTrue())
		Expect(platform).To(Equal("TikTok Ads"))

		_, ok = CookiePlatform("session_id")
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("ThirdPartyCookies", func() {
	It("should keep only cookies from foreign domains", func() {
		cookies := []models.Cookie{
			{Name: "session", Domain: "shop.example.com"},
			{Name: "_ga", Domain: ".example.com"},
			{Name: "_ttp", Domain: ".tiktok.com"},
		}
		tp := ThirdPartyCookies(cookies, "shop.example.com")
		Expect(tp).To(HaveLen(1))
		Expect(tp[0].Name).To(Equal("_ttp"))
	})
})
