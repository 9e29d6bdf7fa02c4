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

package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/consentry/consentry/pkg/models"
	"github.com/consentry/consentry/pkg/registry"
	"github.com/consentry/consentry/pkg/store"
	"github.com/consentry/consentry/pkg/supervisor"
	"github.com/consentry/consentry/pkg/utils/config"
)

func TestAPI(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "API Suite")
}

const workerResultLine = `{"type":"result","result":{"url":"https://example.com","verdict":"clean","trackers_before":[],"trackers_after":[],"tiktok_trackers_after":[]}}`

func shellWorker(script string) func(string, string) *exec.Cmd {
	return func(scanID, targetURL string) *exec.Cmd {
		return exec.Command("/bin/sh", "-c", script)
	}
}

// readSSETypes collects SSE event names from a stream until the done
// sentinel or the deadline.
func readSSETypes(url string, deadline time.Duration) []string {
	client := &http.Client{Timeout: deadline}
	resp, err := client.Get(url)
	Expect(err).ToNot(HaveOccurred())
	defer resp.Body.Close()

	var types []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "event: ") {
			continue
		}
		eventType := strings.TrimPrefix(line, "event: ")
		types = append(types, eventType)
		if eventType == "done" {
			break
		}
	}
	return types
}

var _ = Describe("API", func() {
	var (
		reg *registry.Registry
		st  *store.Store
		ts  *httptest.Server
	)

	newTestServer := func(script string) {
		reg = registry.New()
		var err error
		st, err = store.Open(GinkgoT().TempDir())
		Expect(err).ToNot(HaveOccurred())

		sup := supervisor.NewWithCommand(shellWorker(script), 10*time.Second, time.Second)
		handler := NewHandler(reg, st, sup)
		srv := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, handler)
		ts = httptest.NewServer(srv.httpServer.Handler)
	}

	AfterEach(func() {
		ts.Close()
		Expect(st.Close()).To(Succeed())
	})

	Describe("health", func() {
		BeforeEach(func() { newTestServer(`echo '` + workerResultLine + `'`) })

		It("should report ok", func() {
			resp, err := http.Get(ts.URL + "/healthz")
			Expect(err).ToNot(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("single scans", func() {
		BeforeEach(func() { newTestServer(`echo '` + workerResultLine + `'`) })

		It("should reject requests without a URL", func() {
			resp, err := http.Post(ts.URL+"/api/scan", "application/json", strings.NewReader(`{}`))
			Expect(err).ToNot(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should accept a scan and serve the result when it finishes", func() {
			resp, err := http.Post(ts.URL+"/api/scan", "application/json",
				strings.NewReader(`{"url":"example.com"}`))
			Expect(err).ToNot(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

			var accepted map[string]string
			Expect(json.NewDecoder(resp.Body).Decode(&accepted)).To(Succeed())
			scanID := accepted["scan_id"]
			Expect(scanID).ToNot(BeEmpty())

			Eventually(func() int {
				r, err := http.Get(ts.URL + "/api/scan/" + scanID + "/result")
				if err != nil {
					return 0
				}
				defer r.Body.Close()
				return r.StatusCode
			}, 5*time.Second, 100*time.Millisecond).Should(Equal(http.StatusOK))

			r, err := http.Get(ts.URL + "/api/scan/" + scanID + "/result")
			Expect(err).ToNot(HaveOccurred())
			defer r.Body.Close()
			var result models.ScanResult
			Expect(json.NewDecoder(r.Body).Decode(&result)).To(Succeed())
			Expect(result.Verdict).To(Equal(models.VerdictClean))
			Expect(result.ScanID).To(Equal(scanID))
		})

		It("should stream events ending with the done sentinel", func() {
			resp, err := http.Post(ts.URL+"/api/scan", "application/json",
				strings.NewReader(`{"url":"example.com"}`))
			Expect(err).ToNot(HaveOccurred())
			defer resp.Body.Close()
			var accepted map[string]string
			Expect(json.NewDecoder(resp.Body).Decode(&accepted)).To(Succeed())

			types := readSSETypes(ts.URL+"/api/scan/"+accepted["scan_id"]+"/events", 10*time.Second)
			Expect(types).To(ContainElement("complete"))
			Expect(types[len(types)-1]).To(Equal("done"))
		})

		It("should return 404 for unknown scans", func() {
			resp, err := http.Get(ts.URL + "/api/scan/not-a-scan/result")
			Expect(err).ToNot(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should serve stored results after the registry entry is gone", func() {
			saved := &models.ScanResult{
				ScanID:              "restart-1",
				URL:                 "https://example.com",
				Verdict:             models.VerdictViolation,
				TrackersBefore:      []string{},
				TrackersAfter:       []string{},
				TikTokTrackersAfter: []string{},
			}
			Expect(st.Save(saved)).To(Succeed())

			resp, err := http.Get(ts.URL + "/api/scan/restart-1/result")
			Expect(err).ToNot(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var result models.ScanResult
			Expect(json.NewDecoder(resp.Body).Decode(&result)).To(Succeed())
			Expect(result.Verdict).To(Equal(models.VerdictViolation))
		})
	})

	Describe("in-progress scans", func() {
		BeforeEach(func() {
			newTestServer(`sleep 1; echo '` + workerResultLine + `'`)
		})

		It("should answer 202 while the scan runs", func() {
			resp, err := http.Post(ts.URL+"/api/scan", "application/json",
				strings.NewReader(`{"url":"example.com"}`))
			Expect(err).ToNot(HaveOccurred())
			defer resp.Body.Close()
			var accepted map[string]string
			Expect(json.NewDecoder(resp.Body).Decode(&accepted)).To(Succeed())

			r, err := http.Get(ts.URL + "/api/scan/" + accepted["scan_id"] + "/result")
			Expect(err).ToNot(HaveOccurred())
			defer r.Body.Close()
			Expect(r.StatusCode).To(Equal(http.StatusAccepted))

			var body map[string]string
			Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
			Expect(body["status"]).To(Equal("in_progress"))
		})
	})

	Describe("batches", func() {
		BeforeEach(func() { newTestServer(`echo '` + workerResultLine + `'`) })

		It("should reject empty URL lists", func() {
			resp, err := http.Post(ts.URL+"/api/batch", "application/json",
				strings.NewReader(`{"urls":["", "  "]}`))
			Expect(err).ToNot(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should scan each URL and finish with batch_complete", func() {
			resp, err := http.Post(ts.URL+"/api/batch", "application/json",
				strings.NewReader(`{"urls":["a.example.com","b.example.com"]}`))
			Expect(err).ToNot(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

			var accepted map[string]string
			Expect(json.NewDecoder(resp.Body).Decode(&accepted)).To(Succeed())
			batchID := accepted["batch_id"]
			Expect(batchID).ToNot(BeEmpty())

			types := readSSETypes(ts.URL+"/api/batch/"+batchID+"/events", 15*time.Second)
			domainCount := 0
			for _, t := range types {
				if t == "domain_complete" {
					domainCount++
				}
			}
			Expect(domainCount).To(Equal(2))
			Expect(types).To(ContainElement("batch_complete"))
			Expect(types[len(types)-1]).To(Equal("done"))
		})

		It("should acknowledge stop requests", func() {
			resp, err := http.Post(ts.URL+"/api/batch", "application/json",
				strings.NewReader(`{"urls":["a.example.com"]}`))
			Expect(err).ToNot(HaveOccurred())
			defer resp.Body.Close()
			var accepted map[string]string
			Expect(json.NewDecoder(resp.Body).Decode(&accepted)).To(Succeed())

			stopResp, err := http.Post(ts.URL+"/api/batch/"+accepted["batch_id"]+"/stop",
				"application/json", nil)
			Expect(err).ToNot(HaveOccurred())
			defer stopResp.Body.Close()
			Expect(stopResp.StatusCode).To(Equal(http.StatusOK))

			var body map[string]string
			Expect(json.NewDecoder(stopResp.Body).Decode(&body)).To(Succeed())
			Expect(body["status"]).To(Equal("stopping"))
		})

		It("should return 404 when stopping an unknown batch", func() {
			resp, err := http.Post(ts.URL+"/api/batch/nope/stop", "application/json", nil)
			Expect(err).ToNot(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})
})
