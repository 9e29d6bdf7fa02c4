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

var _ = Describe("NewCookies", func() {
	It("should key the diff on name and domain", func() {
		before := []models.Cookie{
			{Name: "session", Domain: "shop.example.com", Value: "aaa"},
		}
		after := []models.Cookie{
			{Name: "session", Domain: "shop.example.com", Value: "bbb"},
			{Name: "_ttp", Domain: ".tiktok.com", Value: "xyz"},
		}
		fresh := NewCookies(before, after)
		Expect(fresh).To(HaveLen(1))
		Expect(fresh[0].Name).To(Equal("_ttp"))
	})

	It("should treat the same name on a different domain as new", func() {
		before := []models.Cookie{{Name: "_ga", Domain: ".example.com"}}
		after := []models.Cookie{
			{Name: "_ga", Domain: ".example.com"},
			{Name: "_ga", Domain: ".other.example.net"},
		}
		fresh := NewCookies(before, after)
		Expect(fresh).To(HaveLen(1))
		Expect(fresh[0].Domain).To(Equal(".other.example.net"))
	})

	It("should return nothing when snapshots are identical", func() {
		cookies := []models.Cookie{{Name: "a", Domain: "b"}}
		Expect(NewCookies(cookies, cookies)).To(BeEmpty())
	})
})

var _ = Describe("NewThirdPartyDomains", func() {
	It("should return only domains new to the after snapshot, sorted", func() {
		before := []models.Cookie{
			{Name: "_ga", Domain: ".doubleclick.net"},
			{Name: "session", Domain: "shop.example.com"},
		}
		after := []models.Cookie{
			{Name: "_ga", Domain: ".doubleclick.net"},
			{Name: "_ttp", Domain: ".tiktok.com"},
			{Name: "_fbp", Domain: ".facebook.net"},
			{Name: "cart", Domain: "shop.example.com"},
		}
		domains := NewThirdPartyDomains(before, after, "shop.example.com")
		Expect(domains).To(Equal([]string{".facebook.net", ".tiktok.com"}))
	})

	It("should ignore first-party cookies", func() {
		after := []models.Cookie{{Name: "cart", Domain: ".example.com"}}
		domains := NewThirdPartyDomains(nil, after, "shop.example.com")
		Expect(domains).To(BeEmpty())
	})
})
