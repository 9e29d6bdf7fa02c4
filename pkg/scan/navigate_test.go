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
)

var _ = Describe("Navigation Helpers", func() {
	Describe("isBadLanding", func() {
		It("should flag store locator pages", func() {
			Expect(isBadLanding("https://example.com/stores")).To(BeTrue())
			Expect(isBadLanding("https://example.com/store-locator")).To(BeTrue())
			Expect(isBadLanding("https://example.com/find-a-store?near=nyc")).To(BeTrue())
		})

		It("should flag subpaths of bad pages", func() {
			Expect(isBadLanding("https://example.com/help/shipping")).To(BeTrue())
			Expect(isBadLanding("https://example.com/about/team")).To(BeTrue())
		})

		It("should tolerate trailing slashes", func() {
			Expect(isBadLanding("https://example.com/privacy/")).To(BeTrue())
		})

		It("should not flag shop pages", func() {
			Expect(isBadLanding("https://example.com/collections/all")).To(BeFalse())
			Expect(isBadLanding("https://example.com/shop")).To(BeFalse())
		})

		It("should not flag paths that merely start with a bad word", func() {
			Expect(isBadLanding("https://example.com/storesale")).To(BeFalse())
		})
	})

	Describe("isSameSite", func() {
		It("should accept relative URLs", func() {
			Expect(isSameSite("/products/red-shoe", "example.com")).To(BeTrue())
		})

		It("should accept the target host with and without www", func() {
			Expect(isSameSite("https://example.com/p/1", "example.com")).To(BeTrue())
			Expect(isSameSite("https://www.example.com/p/1", "example.com")).To(BeTrue())
		})

		It("should accept subdomains of the target", func() {
			Expect(isSameSite("https://shop.example.com/products/x", "example.com")).To(BeTrue())
		})

		It("should accept sibling subdomains sharing the registrable domain", func() {
			Expect(isSameSite("https://cdn.brand.com/products/x", "shop.brand.com")).To(BeTrue())
		})

		It("should reject consent vendor product pages", func() {
			Expect(isSameSite("https://www.onetrust.com/products/cookie-consent/", "example.com")).To(BeFalse())
		})

		It("should not treat shared public suffixes as same site", func() {
			Expect(isSameSite("https://other.github.io/products/x", "brand.github.io")).To(BeFalse())
		})
	})

	Describe("productURLsFromHTML", func() {
		It("should extract product hrefs with both quote styles", func() {
			html := `<a href="/products/red-shoe">Red</a> <a href='/product/blue-hat'>Blue</a>`
			urls := productURLsFromHTML(html)
			Expect(urls).To(ContainElement("/products/red-shoe"))
			Expect(urls).To(ContainElement("/product/blue-hat"))
		})

		It("should extract browse and pid style product links", func() {
			html := `<a href="/browse/product.do?cid=12">x</a> <a href="/item?pid=42&color=red">y</a>`
			urls := productURLsFromHTML(html)
			Expect(urls).To(ContainElement("/browse/product.do?cid=12"))
			Expect(urls).To(ContainElement("/item?pid=42&color=red"))
		})

		It("should deduplicate repeated hrefs preserving first-seen order", func() {
			html := `<a href="/products/a">1</a><a href="/products/b">2</a><a href="/products/a">3</a>`
			Expect(productURLsFromHTML(html)).To(Equal([]string{"/products/a", "/products/b"}))
		})

		It("should keep absolute URLs for the same-site filter to judge", func() {
			html := `<a href="https://vendor.example/products/tool">ext</a>`
			urls := productURLsFromHTML(html)
			Expect(urls).To(ContainElement("https://vendor.example/products/tool"))
			Expect(sameSiteOnly(urls, "myshop.com")).To(BeEmpty())
		})

		It("should ignore non-product links", func() {
			html := `<a href="/about">About</a> <a href="/contact">Contact</a>`
			Expect(productURLsFromHTML(html)).To(BeEmpty())
		})
	})
})
