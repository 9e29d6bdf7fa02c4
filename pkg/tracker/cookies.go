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

package tracker

import (
	"strings"

	"github.com/consentry/consentry/pkg/models"
)

// KnownTrackingCookies maps well-known tracking cookie names to the
// platform that sets them, for evidence annotation of cookie diffs.
var KnownTrackingCookies = map[string]string{
	"_fbp":               "Facebook Ads",
	"_fbc":               "Facebook Ads",
	"_ttp":               "TikTok Ads",
	"_tt_enable_cookie":  "TikTok",
	"_pin_unauth":        "Pinterest",
	"_pinterest_ct_ua":   "Pinterest",
	"_gcl_au":            "Google Ads",
	"_gcl_aw":            "Google Ads",
	"_ga":                "Google Analytics",
	"_gid":               "Google Analytics",
	"_gat":               "Google Analytics",
	"_ScCbts":            "Snapchat",
	"_scid":              "Snapchat",
	"_sctr":              "Snapchat",
	"_uetsid":            "Microsoft Ads",
	"_uetvid":            "Microsoft Ads",
	"MR":                 "Microsoft",
	"MUID":               "Microsoft",
	"muc_ads":            "Twitter/X Ads",
	"personalization_id": "Twitter/X",
	"_kla_id":            "Klaviyo",
	"__kla_id":           "Klaviyo",
	"t_pt_gid":           "Taboola",
	"_rdt_uuid":          "Reddit",
	"clinch-sid":         "Clinch",
	"_li_fat_id":         "LinkedIn",
	"_clck":              "Microsoft Clarity",
	"_clsk":              "Microsoft Clarity",
}

// CookiePlatform reports the platform behind a known tracking cookie.
func CookiePlatform(name string) (string, bool) {
	platform, ok := KnownTrackingCookies[name]
	return platform, ok
}

// ThirdPartyCookies returns the cookies that do not belong to the site
// being scanned.
func ThirdPartyCookies(cookies []models.Cookie, siteDomain string) []models.Cookie {
	var thirdParty []models.Cookie
	for _, c := range cookies {
		cookieDomain := strings.TrimPrefix(c.Domain, ".")
		if !strings.Contains(cookieDomain, siteDomain) && !strings.Contains(siteDomain, cookieDomain) {
			thirdParty = append(thirdParty, c)
		}
	}
	return thirdParty
}
