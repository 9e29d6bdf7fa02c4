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
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/consentry/consentry/pkg/models"
)

func TestScan(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Scan Suite")
}

func tikTokHits(times ...float64) []models.CapturedRequest {
	var reqs []models.CapturedRequest
	for _, t := range times {
		reqs = append(reqs, models.CapturedRequest{
			URL:          "https://analytics.tiktok.com/api/v2/pixel",
			RelativeTime: t,
		})
	}
	return reqs
}

var clicked = models.OptOutOutcome{Found: true, Clicked: true, Verified: true}
var notClicked = models.OptOutOutcome{}

var _ = Describe("Decide", func() {
	Context("with TikTok traffic after a clicked opt-out", func() {
		It("should return violation when any request arrives later than 5s", func() {
			d := Decide(tikTokHits(0.4, 5.1), nil, clicked, false)
			Expect(d.Verdict).To(Equal(models.VerdictViolation))
		})

		It("should return inconclusive when all requests are within 2s", func() {
			d := Decide(tikTokHits(0.3, 1.8), nil, clicked, false)
			Expect(d.Verdict).To(Equal(models.VerdictInconclusive))
			Expect(d.Notes).To(ContainElement(ContainSubstring("POSSIBLE FALSE POSITIVE")))
		})

		It("should return inconclusive for requests between 2s and 5s", func() {
			d := Decide(tikTokHits(0.3, 3.0), nil, clicked, false)
			Expect(d.Verdict).To(Equal(models.VerdictInconclusive))
			Expect(d.Notes).To(ContainElement(ContainSubstring("between 2-5s")))
		})

		It("should treat exactly 5s as not late", func() {
			d := Decide(tikTokHits(5.0), nil, clicked, false)
			Expect(d.Verdict).To(Equal(models.VerdictInconclusive))
		})

		It("should treat exactly 2s as immediate", func() {
			d := Decide(tikTokHits(2.0), nil, clicked, false)
			Expect(d.Verdict).To(Equal(models.VerdictInconclusive))
			Expect(d.Notes).To(ContainElement(ContainSubstring("POSSIBLE FALSE POSITIVE")))
		})
	})

	Context("without a clicked opt-out", func() {
		It("should return inconclusive even when TikTok traffic was captured", func() {
			d := Decide(tikTokHits(7.0), nil, notClicked, false)
			Expect(d.Verdict).To(Equal(models.VerdictInconclusive))
		})

		It("should return inconclusive when nothing was captured", func() {
			d := Decide(nil, nil, notClicked, false)
			Expect(d.Verdict).To(Equal(models.VerdictInconclusive))
		})
	})

	Context("timeouts", func() {
		It("should return timeout when the soft-timeout flag is set and no TikTok traffic decided first", func() {
			d := Decide(nil, nil, clicked, true)
			Expect(d.Verdict).To(Equal(models.VerdictTimeout))
		})

		It("should let late TikTok traffic outrank the timeout", func() {
			d := Decide(tikTokHits(8.2), nil, clicked, true)
			Expect(d.Verdict).To(Equal(models.VerdictViolation))
		})
	})

	Context("clean runs", func() {
		It("should return clean when the opt-out was clicked and no TikTok traffic followed", func() {
			d := Decide(nil, nil, clicked, false)
			Expect(d.Verdict).To(Equal(models.VerdictClean))
		})

		It("should ignore secondary trackers entirely", func() {
			reqs := []models.CapturedRequest{
				{URL: "https://www.google-analytics.com/collect", RelativeTime: 9.0},
				{URL: "https://connect.facebook.net/en_US/fbevents.js", RelativeTime: 12.0},
			}
			d := Decide(reqs, nil, clicked, false)
			Expect(d.Verdict).To(Equal(models.VerdictClean))
		})
	})

	Context("cookie upgrade", func() {
		It("should upgrade to violation for a new TikTok-namespace cookie", func() {
			cookies := []models.Cookie{{Name: "_ttp", Domain: ".analytics.tiktok.com"}}
			d := Decide(nil, cookies, clicked, false)
			Expect(d.Verdict).To(Equal(models.VerdictViolation))
			Expect(d.Notes).To(ContainElement(ContainSubstring("New tracker cookies after opt-out")))
		})

		It("should not upgrade when the opt-out was never clicked", func() {
			cookies := []models.Cookie{{Name: "_ttp", Domain: ".analytics.tiktok.com"}}
			d := Decide(nil, cookies, notClicked, false)
			Expect(d.Verdict).To(Equal(models.VerdictInconclusive))
		})

		It("should note non-TikTok tracker cookies without changing the verdict", func() {
			cookies := []models.Cookie{{Name: "_ga", Domain: ".google-analytics.com"}}
			d := Decide(nil, cookies, clicked, false)
			Expect(d.Verdict).To(Equal(models.VerdictClean))
			Expect(d.Notes).To(ContainElement(ContainSubstring("google-analytics.com")))
		})

		It("should ignore new cookies from non-tracker domains", func() {
			cookies := []models.Cookie{{Name: "session", Domain: ".example.com"}}
			d := Decide(nil, cookies, clicked, false)
			Expect(d.Verdict).To(Equal(models.VerdictClean))
			Expect(d.Notes).To(BeEmpty())
		})
	})

	It("should be deterministic for identical inputs", func() {
		reqs := tikTokHits(0.5, 3.3, 6.7)
		cookies := []models.Cookie{{Name: "_ttp", Domain: ".analytics.tiktok.com"}}
		first := Decide(reqs, cookies, clicked, false)
		second := Decide(reqs, cookies, clicked, false)
		Expect(second).To(Equal(first))
	})
})
