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

package supervisor

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/consentry/consentry/pkg/logger"
	"github.com/consentry/consentry/pkg/models"
)

func TestSupervisor(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Supervisor Suite")
}

// shellSupervisor substitutes the worker with a shell script so the
// process lifecycle can be exercised without a browser.
func shellSupervisor(script string, deadline, grace time.Duration) *Supervisor {
	return &Supervisor{
		log:      logger.GetLogger().WithField("component", "supervisor"),
		deadline: deadline,
		grace:    grace,
		command: func(scanID, targetURL string) *exec.Cmd {
			return exec.Command("/bin/sh", "-c", script)
		},
	}
}

const resultLine = `{"type":"result","result":{"url":"https://example.com","verdict":"clean","trackers_before":[],"trackers_after":[],"tiktok_trackers_after":[]}}`

var _ = Describe("Supervisor", func() {
	Context("when the worker completes normally", func() {
		It("should return the worker's result and relay progress", func() {
			script := `echo '{"type":"status","message":"Phase 1: Visiting website...","step":2,"total_steps":20,"elapsed":0.4}'; ` +
				`echo '` + resultLine + `'`
			sup := shellSupervisor(script, 10*time.Second, time.Second)

			var events []models.ProgressEvent
			result := sup.Run(context.Background(), "scan-1", "https://example.com",
				func(ev models.ProgressEvent) { events = append(events, ev) })

			Expect(result.Verdict).To(Equal(models.VerdictClean))
			Expect(result.ScanID).To(Equal("scan-1"))
			Expect(events).ToNot(BeEmpty())
			Expect(events[0].Message).To(Equal("Phase 1: Visiting website..."))
			Expect(events[0].Step).To(Equal(2))
			Expect(events[0].TotalSteps).To(Equal(20))
		})

		It("should skip unparseable stdout lines and still find the result", func() {
			script := `echo 'DevTools listening on ws://127.0.0.1'; echo '` + resultLine + `'`
			sup := shellSupervisor(script, 10*time.Second, time.Second)

			result := sup.Run(context.Background(), "scan-2", "https://example.com", nil)
			Expect(result.Verdict).To(Equal(models.VerdictClean))
		})
	})

	Context("when the worker outlives the deadline", func() {
		It("should kill it and synthesize a timeout verdict", func() {
			sup := shellSupervisor(`sleep 30`, 500*time.Millisecond, 200*time.Millisecond)

			start := time.Now()
			result := sup.Run(context.Background(), "scan-3", "https://slow.example.com", nil)

			Expect(time.Since(start)).To(BeNumerically("<", 5*time.Second))
			Expect(result.Verdict).To(Equal(models.VerdictTimeout))
			Expect(result.URL).To(Equal("https://slow.example.com"))
			Expect(result.Domain).To(Equal("slow.example.com"))
			Expect(result.Notes).ToNot(BeEmpty())
			Expect(result.Notes[0]).To(ContainSubstring("Scan timed out after"))
		})
	})

	Context("when the worker exits without a result", func() {
		It("should synthesize an unknown verdict after the grace period", func() {
			sup := shellSupervisor(`exit 0`, 5*time.Second, 200*time.Millisecond)

			result := sup.Run(context.Background(), "scan-4", "https://example.com", nil)
			Expect(result.Verdict).To(Equal(models.VerdictUnknown))
			Expect(result.Notes[0]).To(ContainSubstring("Scan process ended without returning results"))
		})

		It("should include the exit error when the worker failed", func() {
			sup := shellSupervisor(`exit 3`, 5*time.Second, 200*time.Millisecond)

			result := sup.Run(context.Background(), "scan-5", "https://example.com", nil)
			Expect(result.Verdict).To(Equal(models.VerdictUnknown))
			Expect(result.Notes[0]).To(ContainSubstring("exit status 3"))
		})
	})

	Context("when the context is canceled mid-scan", func() {
		It("should kill the worker and report unknown", func() {
			sup := shellSupervisor(`sleep 30`, 10*time.Second, 200*time.Millisecond)

			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				time.Sleep(300 * time.Millisecond)
				cancel()
			}()

			start := time.Now()
			result := sup.Run(ctx, "scan-6", "https://example.com", nil)
			Expect(time.Since(start)).To(BeNumerically("<", 5*time.Second))
			Expect(result.Verdict).To(Equal(models.VerdictUnknown))
			Expect(result.Notes[0]).To(ContainSubstring("canceled"))
		})
	})
})

var _ = Describe("Wire Protocol", func() {
	It("should round-trip a status envelope", func() {
		var buf strings.Builder
		ev := models.ProgressEvent{Message: "Results saved", Step: 19, TotalSteps: 20, Elapsed: 42.5}
		Expect(EncodeStatus(&buf, ev)).To(Succeed())

		env, err := DecodeLine([]byte(strings.TrimSpace(buf.String())))
		Expect(err).ToNot(HaveOccurred())
		Expect(env.Type).To(Equal(TypeStatus))
		Expect(env.Progress()).To(Equal(ev))
	})

	It("should round-trip a result envelope", func() {
		var buf strings.Builder
		result := &models.ScanResult{
			ScanID:  "abc",
			URL:     "https://shop.example.com",
			Verdict: models.VerdictViolation,
			Notes:   []string{"TikTok traffic continued after opt-out"},
		}
		Expect(EncodeResult(&buf, result)).To(Succeed())

		env, err := DecodeLine([]byte(strings.TrimSpace(buf.String())))
		Expect(err).ToNot(HaveOccurred())
		Expect(env.Type).To(Equal(TypeResult))
		Expect(env.Result).ToNot(BeNil())
		Expect(env.Result.Verdict).To(Equal(models.VerdictViolation))
		Expect(env.Result.Notes).To(HaveLen(1))
	})

	It("should reject unknown envelope types", func() {
		_, err := DecodeLine([]byte(`{"type":"bogus"}`))
		Expect(err).To(HaveOccurred())
	})

	It("should reject non-JSON lines", func() {
		_, err := DecodeLine([]byte(`DevTools listening on ws://127.0.0.1:9222`))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("BatchRunner", func() {
	It("should scan every URL and total the verdicts", func() {
		sup := shellSupervisor(`echo '`+resultLine+`'`, 10*time.Second, time.Second)
		runner := NewBatchRunner(sup)

		var completed []int
		summary, err := runner.Run(context.Background(),
			[]string{"example.com", "https://other.example.com"},
			BatchHooks{OnComplete: func(i int, result *models.ScanResult) {
				completed = append(completed, i)
				Expect(result.Verdict).To(Equal(models.VerdictClean))
			}})

		Expect(err).ToNot(HaveOccurred())
		Expect(summary.Total).To(Equal(2))
		Expect(summary.Clean).To(Equal(2))
		Expect(summary.Violations).To(Equal(0))
		Expect(summary.Stopped).To(BeFalse())
		Expect(completed).To(Equal([]int{0, 1}))
	})

	It("should honor a stop request between scans", func() {
		sup := shellSupervisor(`echo '`+resultLine+`'`, 10*time.Second, time.Second)
		runner := NewBatchRunner(sup)

		summary, err := runner.Run(context.Background(),
			[]string{"https://a.example.com", "https://b.example.com"},
			BatchHooks{OnComplete: func(i int, result *models.ScanResult) {
				runner.Stop()
			}})

		Expect(err).To(MatchError(ErrStopped))
		Expect(summary.Stopped).To(BeTrue())
		Expect(summary.Total).To(Equal(2))
		Expect(summary.Clean).To(Equal(1))
	})

	It("should normalize bare domains before scanning", func() {
		var seen []string
		sup := shellSupervisor(`echo '`+resultLine+`'`, 10*time.Second, time.Second)
		sup.command = func(scanID, targetURL string) *exec.Cmd {
			seen = append(seen, targetURL)
			return exec.Command("/bin/sh", "-c", `echo '`+resultLine+`'`)
		}
		runner := NewBatchRunner(sup)

		_, err := runner.Run(context.Background(), []string{"example.com"}, BatchHooks{})
		Expect(err).ToNot(HaveOccurred())
		Expect(seen).To(Equal([]string{"https://example.com"}))
	})
})
