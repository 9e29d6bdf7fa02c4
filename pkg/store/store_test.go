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

package store

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/consentry/consentry/pkg/models"
)

func TestStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Store Suite")
}

func sampleResult(scanID, url string, verdict models.Verdict) *models.ScanResult {
	return &models.ScanResult{
		ScanID:              scanID,
		URL:                 url,
		Domain:              models.Hostname(url),
		StartedAt:           time.Now(),
		Verdict:             verdict,
		TrackersBefore:      []string{"analytics.tiktok.com"},
		TrackersAfter:       []string{},
		TikTokTrackersAfter: []string{},
		Notes:               []string{"No cookie consent banner found."},
	}
}

var _ = Describe("Store", func() {
	var (
		dir string
		st  *Store
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		var err error
		st, err = Open(dir)
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		Expect(st.Close()).To(Succeed())
	})

	It("should round-trip a scan result", func() {
		saved := sampleResult("scan-1", "https://example.com", models.VerdictClean)
		Expect(st.Save(saved)).To(Succeed())

		loaded, err := st.GetByScanID("scan-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(loaded.URL).To(Equal("https://example.com"))
		Expect(loaded.Verdict).To(Equal(models.VerdictClean))
		Expect(loaded.TrackersBefore).To(Equal([]string{"analytics.tiktok.com"}))
		Expect(loaded.Notes).To(HaveLen(1))
	})

	It("should return ErrNotFound for unknown scan IDs", func() {
		_, err := st.GetByScanID("no-such-scan")
		Expect(err).To(MatchError(ErrNotFound))
	})

	It("should reject results without a scan ID", func() {
		Expect(st.Save(&models.ScanResult{URL: "https://example.com"})).ToNot(Succeed())
	})

	It("should update in place when the same scan is saved twice", func() {
		Expect(st.Save(sampleResult("scan-2", "https://example.com", models.VerdictInconclusive))).To(Succeed())
		Expect(st.Save(sampleResult("scan-2", "https://example.com", models.VerdictViolation))).To(Succeed())

		loaded, err := st.GetByScanID("scan-2")
		Expect(err).ToNot(HaveOccurred())
		Expect(loaded.Verdict).To(Equal(models.VerdictViolation))

		history, err := st.HistoryForURL("https://example.com")
		Expect(err).ToNot(HaveOccurred())
		Expect(history).To(HaveLen(1))
	})

	It("should list only violations", func() {
		Expect(st.Save(sampleResult("scan-3", "https://bad.example.com", models.VerdictViolation))).To(Succeed())
		Expect(st.Save(sampleResult("scan-4", "https://good.example.com", models.VerdictClean))).To(Succeed())

		violations, err := st.Violations()
		Expect(err).ToNot(HaveOccurred())
		Expect(violations).To(HaveLen(1))
		Expect(violations[0].URL).To(Equal("https://bad.example.com"))
	})

	It("should keep results across a close and reopen", func() {
		Expect(st.Save(sampleResult("scan-5", "https://example.com", models.VerdictTimeout))).To(Succeed())
		Expect(st.Close()).To(Succeed())

		var err error
		st, err = Open(dir)
		Expect(err).ToNot(HaveOccurred())

		loaded, err := st.GetByScanID("scan-5")
		Expect(err).ToNot(HaveOccurred())
		Expect(loaded.Verdict).To(Equal(models.VerdictTimeout))
	})
})
