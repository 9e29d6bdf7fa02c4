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

package registry

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/consentry/consentry/pkg/models"
)

func TestRegistry(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Registry Suite")
}

var _ = Describe("Registry", func() {
	var reg *Registry

	BeforeEach(func() {
		reg = New()
	})

	It("should return ErrNotFound for unknown IDs", func() {
		_, err := reg.Scan("missing")
		Expect(err).To(MatchError(ErrNotFound))
		_, err = reg.Batch("missing")
		Expect(err).To(MatchError(ErrNotFound))
	})

	It("should look up a registered scan", func() {
		reg.NewScan("scan-1", "https://example.com")
		s, err := reg.Scan("scan-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(s.URL).To(Equal("https://example.com"))
	})

	It("should stream events in order and close after the scan ends", func() {
		s := reg.NewScan("scan-2", "https://example.com")

		s.Publish("status", models.ProgressEvent{Message: "Phase 1: Visiting website...", Step: 2})
		s.Complete(&models.ScanResult{ScanID: "scan-2", Verdict: models.VerdictClean})
		s.Close()

		ev := <-s.Events()
		Expect(ev.Type).To(Equal("status"))
		ev = <-s.Events()
		Expect(ev.Type).To(Equal("complete"))
		result, ok := ev.Data.(*models.ScanResult)
		Expect(ok).To(BeTrue())
		Expect(result.Verdict).To(Equal(models.VerdictClean))

		_, open := <-s.Events()
		Expect(open).To(BeFalse())
	})

	It("should report status transitions", func() {
		s := reg.NewScan("scan-3", "https://example.com")

		done, result, errMsg := s.Status()
		Expect(done).To(BeFalse())
		Expect(result).To(BeNil())
		Expect(errMsg).To(BeEmpty())

		s.Fail("browser exploded")
		done, result, errMsg = s.Status()
		Expect(done).To(BeTrue())
		Expect(result).To(BeNil())
		Expect(errMsg).To(Equal("browser exploded"))
	})

	It("should drop publishes after close without panicking", func() {
		s := reg.NewScan("scan-4", "https://example.com")
		s.Close()
		s.Close()
		s.Publish("status", nil)
	})

	It("should expire finished entries after the retention window", func() {
		reg.retention = 50 * time.Millisecond
		s := reg.NewScan("scan-5", "https://example.com")
		s.Complete(&models.ScanResult{ScanID: "scan-5"})
		s.Close()

		Eventually(func() error {
			_, err := reg.Scan("scan-5")
			return err
		}, time.Second, 10*time.Millisecond).Should(MatchError(ErrNotFound))
	})

	It("should keep unfinished entries alive indefinitely", func() {
		reg.retention = 50 * time.Millisecond
		reg.NewScan("scan-6", "https://example.com")

		Consistently(func() error {
			_, err := reg.Scan("scan-6")
			return err
		}, 200*time.Millisecond, 25*time.Millisecond).Should(Succeed())
	})

	It("should relay a batch stop request to the runner", func() {
		stopCalled := false
		b := reg.NewBatch("batch-1", []string{"https://a.example.com"}, func() { stopCalled = true })

		b.RequestStop()
		Expect(stopCalled).To(BeTrue())
		Expect(b.Done()).To(BeFalse())

		b.Finish(models.BatchSummary{Total: 1, Stopped: true})
		Expect(b.Done()).To(BeTrue())

		b.Close()
		ev := <-b.Events()
		Expect(ev.Type).To(Equal("batch_complete"))
		summary, ok := ev.Data.(models.BatchSummary)
		Expect(ok).To(BeTrue())
		Expect(summary.Stopped).To(BeTrue())
	})
})
