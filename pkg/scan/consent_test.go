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
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Consent Helpers", func() {
	Describe("containsAny", func() {
		It("should match a category label as a substring", func() {
			text := strings.ToLower("Strictly Necessary Cookies")
			Expect(containsAny(text, keepEnabledCategories)).To(BeTrue())
		})

		It("should match essential within a longer description", func() {
			text := strings.ToLower("These essential cookies enable core functionality")
			Expect(containsAny(text, keepEnabledCategories)).To(BeTrue())
		})

		It("should not match an advertising category against essential labels", func() {
			text := strings.ToLower("Targeted Advertising Cookies")
			Expect(containsAny(text, keepEnabledCategories)).To(BeFalse())
		})

		It("should recognize advertising as a category to disable", func() {
			text := strings.ToLower("Advertising & Marketing")
			Expect(containsAny(text, disableCategories)).To(BeTrue())
		})

		It("should return false for empty text", func() {
			Expect(containsAny("", keepEnabledCategories)).To(BeFalse())
		})

		It("should return false for empty needles", func() {
			Expect(containsAny("anything", nil)).To(BeFalse())
		})
	})

	Describe("candidateLocation", func() {
		It("should prefer footer over floating", func() {
			c := privacyLinkCandidate{InFooter: true, InFixed: true}
			Expect(candidateLocation(c)).To(Equal("footer"))
		})

		It("should report floating bars", func() {
			c := privacyLinkCandidate{InFixed: true}
			Expect(candidateLocation(c)).To(Equal("floating bar"))
		})

		It("should default to page", func() {
			Expect(candidateLocation(privacyLinkCandidate{})).To(Equal("page"))
		})
	})

	Describe("strategy tables", func() {
		It("should try explicit rejection before softer options", func() {
			Expect(primaryOptOutTexts[0]).To(Equal("Reject All"))
		})

		It("should include Do Not Sell variants in the footer search", func() {
			Expect(footerPrivacyTexts).To(ContainElement("Do Not Sell My Personal Information"))
			Expect(footerPrivacyTexts).To(ContainElement("Do Not Sell"))
		})
	})
})
