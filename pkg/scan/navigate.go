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
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/publicsuffix"

	"github.com/consentry/consentry/pkg/logger"
)

// shopLinkTexts are labels tried when navigating to a shop or
// all-products page, ordered from explicit to broad.
var shopLinkTexts = []string{
	"Shop All",
	"Shop all",
	"shop all",
	"Shop Now",
	"Shop now",
	"All Products",
	"All products",
	"Products",
	"Collections",
	"All",
	"Browse All",
	"Browse all",
	"New Arrivals",
	"New arrivals",
	"new arrivals",
	"Shop",
	"Catalog",
	"Browse",
	// Category/department pages (fashion/apparel sites)
	"Women",
	"Men",
	"Clothing",
	"Dresses",
	"Accessories",
	"What's New",
	"Sale",
	"Featured",
	// Large retailers / department stores
	"Shop by Category",
	"Furniture",
	"Home Decor",
	"Outdoor",
	"Living Room",
	"Bedroom",
	"Kitchen",
	"Rugs",
	"Lighting",
	"Bath",
}

// shopURLPatterns are common shop paths tried directly when no link
// works.
var shopURLPatterns = []string{
	"/collections/all",
	"/collections",
	"/products",
	"/shop",
	"/shop-all",
	"/shop/all",
	"/catalog",
	"/women",
	"/men",
	"/new-arrivals",
	"/clothing",
	"/sale",
	"/furniture",
	"/c/all",
}

// badLandingPaths look like store locators or legal pages. A shop link
// that lands on one of these did not reach a shop.
var badLandingPaths = []string{
	"/stores", "/store-locator", "/find-a-store", "/locations",
	"/about", "/contact", "/careers", "/help", "/faq",
	"/privacy", "/terms", "/legal",
}

var hamburgerSelectors = []string{
	`button[aria-label*="menu" i]`,
	`button[aria-label*="Menu" i]`,
	`button[aria-label*="nav" i]`,
	`button[class*="hamburger" i]`,
	`button[class*="menu-toggle" i]`,
	`[class*="hamburger"]`,
	`[class*="menu-toggle"]`,
	".mobile-nav-trigger",
	"#menu-toggle",
	"button.navbar-toggler",
}

// topNavItemsJS collects visible top-level navigation links with their
// center coordinates for hovering.
const topNavItemsJS = `() => {
	const items = [];
	const navLinks = document.querySelectorAll('nav a, header nav a, [role="navigation"] a');
	for (const a of navLinks) {
		const rect = a.getBoundingClientRect();
		const style = window.getComputedStyle(a);
		if (style.display === 'none' || style.visibility === 'hidden') continue;
		if (rect.width < 20 || rect.height < 10) continue;
		if (rect.top > 100) continue;
		const text = (a.textContent || '').trim();
		if (text && text.length < 30) {
			items.push({text: text, x: rect.x + rect.width/2, y: rect.y + rect.height/2});
		}
	}
	return items.slice(0, 8);
}`

// dropdownShopLinkJS finds a category link revealed by a hover.
const dropdownShopLinkJS = `() => {
	const links = document.querySelectorAll('a[href]');
	for (const a of links) {
		const href = (a.getAttribute('href') || '').toLowerCase();
		const text = (a.textContent || '').trim().toLowerCase();
		if (!href || href === '/' || href === '#') continue;
		const rect = a.getBoundingClientRect();
		const style = window.getComputedStyle(a);
		if (style.display === 'none' || style.visibility === 'hidden') continue;
		if (rect.width < 10 || rect.height < 10) continue;
		const patterns = ['/collections/', '/products', '/shop/', '/c/', '/category/'];
		if (patterns.some(p => href.includes(p))) {
			return {href: a.getAttribute('href'), text: text.slice(0, 50)};
		}
	}
	return null;
}`

// extractProductURLsJS pulls product links out of the DOM.
const extractProductURLsJS = `() => {
	const selectors = [
		'a[href*="/products/"]',
		'a[href*="/product/"]',
		'a[href*="/product.do"]',
		'a[href*="/browse/product"]',
		'a[href*="/dp/"]',
		'a[href*="/item/"]',
		'a[href*="/p/"]',
		'a[href*="pid="]',
		'a[href*="product_id="]',
	];
	const hrefs = new Set();
	for (const sel of selectors) {
		for (const a of document.querySelectorAll(sel)) {
			const href = a.href || a.getAttribute('href');
			if (href && href !== '/' && href !== '#') hrefs.add(href);
		}
	}
	return [...hrefs];
}`

// Regex fallbacks for product links on pages that render them outside
// anchor href selectors.
var (
	productHrefPattern = regexp.MustCompile(`href=["']([^"']*?/products?/[a-zA-Z0-9][a-zA-Z0-9\-_]*)`)
	browseHrefPattern  = regexp.MustCompile(`href=["']([^"']*?/browse/product[^"']*)`)
	pidHrefPattern     = regexp.MustCompile(`href=["']([^"']*?[?&]pid=[^"']*)`)
)

// NavigateToShop finds and follows a link to the shop or all-products
// page: visible nav links first, then hover-revealed dropdowns, then a
// hamburger menu, then direct URL patterns. Returns the link text or
// URL pattern used, or "" when nothing worked.
func NavigateToShop(page *rod.Page) string {
	log := logger.GetLogger().WithField("component", "navigate")

	preNavURL := currentURL(page)

	// Visible links in the main navigation. After a click, the URL must
	// actually change: some "Shop" buttons only open a dropdown.
	templates := []string{"nav a", "header a", "a", `[role="link"]`}
	for _, text := range shopLinkTexts {
		pattern := fmt.Sprintf("/%s/i", regexp.QuoteMeta(text))
		for _, template := range templates {
			clicked := false
			_ = rod.Try(func() {
				el := page.Timeout(elementWait).MustElementR(template, pattern)
				if el.MustVisible() {
					el.Timeout(5 * time.Second).MustClick()
					clicked = true
				}
			})
			if !clicked {
				continue
			}
			time.Sleep(2 * time.Second)
			if landed := currentURL(page); landed != preNavURL && !isBadLanding(landed) {
				return text
			}
		}
	}

	// Hover over top-level nav items to reveal dropdown menus.
	log.Debug("Trying hover-triggered nav dropdowns")
	if used := hoverNavDropdowns(page, preNavURL); used != "" {
		return used
	}

	// A hamburger menu may hide the whole navigation.
	menuOpened := false
	for _, sel := range hamburgerSelectors {
		opened := false
		_ = rod.Try(func() {
			el := page.Timeout(elementWait).MustElement(sel)
			if el.MustVisible() {
				el.Timeout(clickTimeout).MustClick()
				opened = true
			}
		})
		if opened {
			time.Sleep(1500 * time.Millisecond)
			menuOpened = true
			break
		}
	}
	if menuOpened {
		for _, text := range shopLinkTexts {
			pattern := fmt.Sprintf("/%s/i", regexp.QuoteMeta(text))
			clicked := false
			_ = rod.Try(func() {
				el := page.Timeout(elementWait).MustElementR("a", pattern)
				if el.MustVisible() {
					el.Timeout(5 * time.Second).MustClick()
					clicked = true
				}
			})
			if !clicked {
				continue
			}
			time.Sleep(2 * time.Second)
			if landed := currentURL(page); landed != preNavURL && !isBadLanding(landed) {
				return text
			}
		}
	}

	// Direct URL patterns as the last fallback.
	origin := pageOrigin(page)
	if origin == "" {
		return ""
	}
	for _, pattern := range shopURLPatterns {
		target := origin + pattern
		status, err := navigateWithStatus(page, target, PageLoadTimeout)
		if err != nil || status >= 400 {
			continue
		}
		log.Info("Navigated via URL pattern fallback", logger.Fields{"url": target})
		return pattern
	}

	return ""
}

// hoverNavDropdowns hovers each top-level nav item and follows the
// first category link the dropdown reveals.
func hoverNavDropdowns(page *rod.Page, preNavURL string) string {
	obj, err := page.Eval(topNavItemsJS)
	if err != nil {
		return ""
	}
	for _, item := range obj.Value.Arr() {
		text := item.Get("text").Str()
		point := proto.Point{X: item.Get("x").Num(), Y: item.Get("y").Num()}
		if err := page.Mouse.MoveTo(point); err != nil {
			continue
		}
		time.Sleep(1 * time.Second)

		sub, err := page.Eval(dropdownShopLinkJS)
		if err != nil {
			continue
		}
		href := sub.Value.Get("href").Str()
		if href == "" {
			continue
		}
		subText := sub.Value.Get("text").Str()

		target := href
		if !strings.HasPrefix(target, "http") {
			target = pageOrigin(page) + target
		}
		if err := rod.Try(func() {
			page.Timeout(PageLoadTimeout).MustNavigate(target)
		}); err != nil {
			continue
		}
		time.Sleep(2 * time.Second)
		if landed := currentURL(page); landed != preNavURL && !isBadLanding(landed) {
			return fmt.Sprintf("Hover: %s → %s", text, subText)
		}
	}
	return ""
}

// NavigateToProduct reaches a product detail page without clicking:
// product URLs are extracted from the DOM (regex over the HTML as a
// fallback) and visited directly. Returns the product page URL reached,
// or "" when none worked.
func NavigateToProduct(page *rod.Page) (bool, string) {
	log := logger.GetLogger().WithField("component", "navigate")

	current, err := url.Parse(currentURL(page))
	if err != nil || current.Host == "" {
		return false, ""
	}
	baseURL := current.Scheme + "://" + current.Host
	targetHost := strings.TrimPrefix(strings.ToLower(current.Hostname()), "www.")

	// The current page first: shop navigation may already list products.
	log.Debug("Checking current page for product URLs", logger.Fields{"url": currentURL(page)})
	productURLs := sameSiteOnly(extractProductURLs(page), targetHost)
	log.Info("Product URL candidates on current page", logger.Fields{"count": len(productURLs)})
	if len(productURLs) > 0 {
		if ok, reached := visitFirstProduct(page, productURLs, baseURL); ok {
			return true, reached
		}
	} else {
		productURLs = sameSiteOnly(extractProductURLsFromHTML(page), targetHost)
		log.Info("Product URL candidates from HTML regex", logger.Fields{"count": len(productURLs)})
		if len(productURLs) > 0 {
			if ok, reached := visitFirstProduct(page, productURLs, baseURL); ok {
				return true, reached
			}
		}
	}

	// Common shop pages as a fallback source of product links.
	shopPaths := []string{
		"/collections/all", "/collections", "/products", "/shop", "/shop-all",
		"/shop/all", "/browse", "/catalog",
	}
	for _, path := range shopPaths {
		fullURL := baseURL + path
		status, err := navigateWithStatus(page, fullURL, PageLoadTimeout)
		if err != nil || status != 200 {
			continue
		}
		log.Debug("Landed on shop page", logger.Fields{"url": currentURL(page)})
		time.Sleep(5 * time.Second)

		productURLs = sameSiteOnly(extractProductURLs(page), targetHost)
		if len(productURLs) == 0 {
			productURLs = sameSiteOnly(extractProductURLsFromHTML(page), targetHost)
		}
		if len(productURLs) > 0 {
			if ok, reached := visitFirstProduct(page, productURLs, baseURL); ok {
				return true, reached
			}
		}
	}

	log.Warn("No product URLs found anywhere")
	return false, ""
}

// extractProductURLs pulls product links from the live DOM.
func extractProductURLs(page *rod.Page) []string {
	obj, err := page.Eval(extractProductURLsJS)
	if err != nil {
		return nil
	}
	var urls []string
	for _, item := range obj.Value.Arr() {
		if u := item.Str(); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// extractProductURLsFromHTML applies the regex fallbacks to the raw
// page HTML.
func extractProductURLsFromHTML(page *rod.Page) []string {
	obj, err := page.Eval(`() => document.documentElement.innerHTML`)
	if err != nil {
		return nil
	}
	return productURLsFromHTML(obj.Value.Str())
}

// productURLsFromHTML extracts product hrefs from HTML source,
// deduplicated in first-seen order.
func productURLsFromHTML(html string) []string {
	var urls []string
	seen := make(map[string]struct{})
	for _, pattern := range []*regexp.Regexp{productHrefPattern, browseHrefPattern, pidHrefPattern} {
		for _, match := range pattern.FindAllStringSubmatch(html, -1) {
			href := match[1]
			if _, ok := seen[href]; ok {
				continue
			}
			seen[href] = struct{}{}
			urls = append(urls, href)
		}
	}
	return urls
}

// visitFirstProduct navigates to the first reachable product URL of the
// top three candidates.
func visitFirstProduct(page *rod.Page, productURLs []string, baseURL string) (bool, string) {
	log := logger.GetLogger().WithField("component", "navigate")

	candidates := productURLs
	if len(candidates) > 3 {
		candidates = candidates[:3]
	}
	for _, target := range candidates {
		switch {
		case strings.HasPrefix(target, "/"):
			target = baseURL + target
		case !strings.HasPrefix(target, "http"):
			target = baseURL + "/" + target
		}
		log.Debug("Navigating to product", logger.Fields{"url": target})
		if err := rod.Try(func() {
			page.Timeout(PageLoadTimeout).MustNavigate(target)
		}); err != nil {
			log.Debug("Product navigation failed", logger.Fields{"error": err.Error()})
			continue
		}
		time.Sleep(3 * time.Second)
		reached := currentURL(page)
		log.Info("Product page reached", logger.Fields{"url": reached})
		return true, reached
	}
	return false, ""
}

// sameSiteOnly drops URLs whose host is not the scanned site. Consent
// vendor pages also have /products/ paths.
func sameSiteOnly(urls []string, targetHost string) []string {
	var kept []string
	for _, raw := range urls {
		if isSameSite(raw, targetHost) {
			kept = append(kept, raw)
		}
	}
	return kept
}

// isSameSite accepts relative URLs, the target host and its
// subdomains, and hosts sharing the target's registrable domain.
func isSameSite(rawURL, targetHost string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return true
	}
	host = strings.TrimPrefix(host, "www.")
	if host == targetHost || strings.HasSuffix(host, "."+targetHost) {
		return true
	}
	hostBase, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return false
	}
	targetBase, err := publicsuffix.EffectiveTLDPlusOne(targetHost)
	if err != nil {
		return false
	}
	return hostBase == targetBase
}

// isBadLanding reports whether a URL path looks like a store locator or
// legal page rather than a shop.
func isBadLanding(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.TrimSuffix(strings.ToLower(parsed.Path), "/")
	for _, bad := range badLandingPaths {
		if path == bad || strings.HasPrefix(path, bad+"/") {
			return true
		}
	}
	return false
}

// pageOrigin returns scheme://host of the current page, or "".
func pageOrigin(page *rod.Page) string {
	parsed, err := url.Parse(currentURL(page))
	if err != nil || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}

// navigateWithStatus navigates and reports the document response
// status.
func navigateWithStatus(page *rod.Page, target string, timeout time.Duration) (int, error) {
	var status int
	err := rod.Try(func() {
		p := page.Timeout(timeout)
		e := proto.NetworkResponseReceived{}
		wait := p.WaitEvent(&e)
		p.MustNavigate(target)
		wait()
		status = e.Response.Status
	})
	return status, err
}
