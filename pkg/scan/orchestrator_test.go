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
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/consentry/consentry/pkg/models"
)

var _ = Describe("Scan Orchestration Helpers", func() {
	Describe("cookieDomains", func() {
		It("should return sorted unique domains", func() {
			cookies := []models.Cookie{
				{Name: "b", Domain: ".tiktok.com"},
				{Name: "a", Domain: "shop.example.com"},
				{Name: "c", Domain: ".tiktok.com"},
			}
			Expect(cookieDomains(cookies)).To(Equal([]string{".tiktok.com", "shop.example.com"}))
		})

		It("should return an empty slice for no cookies", func() {
			Expect(cookieDomains(nil)).To(BeEmpty())
		})
	})

	Describe("truncate", func() {
		It("should leave short strings untouched", func() {
			Expect(truncate("https://example.com", 120)).To(Equal("https://example.com"))
		})

		It("should cut long strings at the limit", func() {
			long := ""
			for i := 0; i < 30; i++ {
				long += "abcde"
			}
			Expect(truncate(long, 120)).To(HaveLen(120))
		})
	})
})
