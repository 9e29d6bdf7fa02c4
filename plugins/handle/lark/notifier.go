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

// Package lark implements notification functionality for Lark (Feishu) messaging.
// This file contains the notifier that turns violation scan reports into
// rich card messages, with whitelist filtering for accepted resources.
package lark

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/consentry/consentry/pkg/logger"
	"github.com/consentry/consentry/pkg/models"
	"github.com/consentry/consentry/plugins/handle/lark/whitelist"
	"gorm.io/gorm"
)

type Notifier struct {
	WebhookURL       string
	HTTPClient       *http.Client
	WhitelistService *whitelist.WhitelistService
	Region           string
	log              logger.Logger
}

func NewNotifier(webhookURL string, db *gorm.DB, timeout time.Duration, region string) *Notifier {
	return &Notifier{
		WebhookURL: webhookURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		WhitelistService: whitelist.NewWhitelistService(db, timeout),
		Region:           region,
		log:              logger.GetLogger().WithField("plugin", pluginName),
	}
}

// SendScanNotification alerts on reports whose verdict is a violation.
// Clean, inconclusive and failed scans stay silent.
func (f *Notifier) SendScanNotification(report *models.ScanReport) error {
	if f.WebhookURL == "" {
		return errors.New("webhook URL not configured, skipping notification")
	}
	if report == nil || report.Result == nil {
		return errors.New("scan report is empty")
	}
	result := report.Result
	if result.Verdict != models.VerdictViolation {
		return nil
	}
	host := report.Target.Host
	if host == "" {
		host = result.Domain
	}
	isWhitelisted := false
	var whitelistInfo *whitelist.Whitelist
	if f.WhitelistService != nil {
		whitelisted, entry, err := f.WhitelistService.IsWhitelisted(
			report.Target.Namespace,
			host,
			f.Region,
		)
		if err != nil {
			f.log.Error("Whitelist check failed", logger.Fields{"error": err.Error()})
		} else {
			isWhitelisted = whitelisted
			whitelistInfo = entry
		}
	}
	var cardContent map[string]any
	if isWhitelisted {
		cardContent = f.buildWhitelistMessage(report, host, whitelistInfo)
		f.log.Info("Resource is whitelisted, sending muted notification", logger.Fields{
			"namespace": report.Target.Namespace,
			"host":      host,
		})
	} else {
		cardContent = f.buildAlertMessage(report, host)
	}

	message := webhookMessage{
		MsgType: "interactive",
		Card:    cardContent,
	}
	return f.sendMessage(message)
}

func mdDiv(content string) map[string]any {
	return map[string]any{
		"tag": "div",
		"text": map[string]any{
			"content": content,
			"tag":     "lark_md",
		},
	}
}

func hr() map[string]any {
	return map[string]any{"tag": "hr"}
}

// targetElements renders the resource identity common to both cards.
func (f *Notifier) targetElements(report *models.ScanReport, host string) []map[string]any {
	result := report.Result
	elements := []map[string]any{
		mdDiv("**Region:** " + f.Region),
		mdDiv("**Discovered By:** " + report.DiscoveryName),
	}
	if report.Target.Name != "" {
		elements = append(elements, mdDiv("**Resource Name:** "+report.Target.Name))
	}
	if report.Target.Namespace != "" {
		elements = append(elements, mdDiv("**Namespace:** "+report.Target.Namespace))
	}
	elements = append(elements,
		mdDiv("**Host Address:** "+host),
		mdDiv("**Full URL:** "+result.URL),
	)
	return elements
}

// violationElements renders the opt-out outcome and the tracker
// evidence behind the verdict.
func violationElements(result *models.ScanResult) []map[string]any {
	elements := []map[string]any{
		mdDiv("**Violation Details**"),
		mdDiv(fmt.Sprintf("**Opt-Out Banner Found:** %v", result.Found)),
		mdDiv(fmt.Sprintf("**Opt-Out Clicked:** %v", result.Clicked)),
		mdDiv(fmt.Sprintf("**Opt-Out Verified:** %v", result.Verified)),
	}

	if len(result.TikTokTrackersAfter) > 0 {
		trackerContent := "**TikTok Trackers After Opt-Out:** "
		for i, tracker := range result.TikTokTrackersAfter {
			if i > 0 {
				trackerContent += ", "
			}
			trackerContent += fmt.Sprintf("`%s`", tracker)
		}
		elements = append(elements, mdDiv(trackerContent))
	}

	if len(result.FlaggedDomains) > 0 {
		domains := make([]string, 0, len(result.FlaggedDomains))
		for domain := range result.FlaggedDomains {
			domains = append(domains, domain)
		}
		sort.Slice(domains, func(i, j int) bool {
			a, b := result.FlaggedDomains[domains[i]], result.FlaggedDomains[domains[j]]
			if a.RequestCount != b.RequestCount {
				return a.RequestCount > b.RequestCount
			}
			return domains[i] < domains[j]
		})
		flaggedContent := "**Flagged Domains:**\n"
		for i, domain := range domains {
			if i < 5 {
				flag := result.FlaggedDomains[domain]
				flaggedContent += fmt.Sprintf("  • %s (%d requests, %s)\n", domain, flag.RequestCount, flag.MatchedRule)
			} else if i == 5 {
				flaggedContent += fmt.Sprintf("  • ... %d more domains\n", len(domains)-5)
				break
			}
		}
		elements = append(elements, mdDiv(flaggedContent))
	}

	if len(result.Notes) > 0 {
		elements = append(elements, mdDiv("**Notes:** "+strings.Join(result.Notes, "; ")))
	}
	return elements
}

func (f *Notifier) buildWhitelistMessage(
	report *models.ScanReport,
	host string,
	whitelistInfo *whitelist.Whitelist,
) map[string]any {
	elements := []map[string]any{
		mdDiv("**Resource Information**"),
	}
	elements = append(elements, f.targetElements(report, host)...)

	whitelistElements := []map[string]any{
		hr(),
		mdDiv("**Whitelist Information**"),
		mdDiv("**Whitelist Status:** Added to whitelist"),
	}

	if whitelistInfo != nil {
		var whitelistTypeText string
		var validityText string

		switch whitelistInfo.Type {
		case whitelist.WhitelistTypeNamespace:
			whitelistTypeText = "Namespace Whitelist"
			validityText = "Permanent"
		case whitelist.WhitelistTypeHost:
			whitelistTypeText = "Host Whitelist"
			validityText = "Expires"
		}

		whitelistElements = append(whitelistElements,
			mdDiv("**Whitelist Type:** "+whitelistTypeText),
			mdDiv("**Validity:** "+validityText),
			mdDiv("**Created At:** "+whitelistInfo.CreatedAt.Format(time.DateTime)),
		)

		if whitelistInfo.Type == whitelist.WhitelistTypeNamespace && whitelistInfo.Namespace != "" {
			whitelistElements = append(whitelistElements,
				mdDiv(fmt.Sprintf("**Match Rule:** Namespace `%s`", whitelistInfo.Namespace)))
		} else if whitelistInfo.Type == whitelist.WhitelistTypeHost && whitelistInfo.Hostname != "" {
			whitelistElements = append(whitelistElements,
				mdDiv(fmt.Sprintf("**Match Rule:** Host `%s`", whitelistInfo.Hostname)))
		}

		if whitelistInfo.Remark != "" {
			whitelistElements = append(whitelistElements, mdDiv("**Remark:** "+whitelistInfo.Remark))
		}
	}
	elements = append(elements, whitelistElements...)

	elements = append(elements, hr())
	elements = append(elements, violationElements(report.Result)...)

	elements = append(elements,
		hr(),
		mdDiv("**Detection Time:** "+time.Now().Format(time.DateTime)),
		mdDiv("**This resource is in the whitelist, the violation has been ignored**"),
	)

	return map[string]any{
		"config": map[string]any{
			"wide_screen_mode": true,
		},
		"header": map[string]any{
			"template": "green",
			"title": map[string]any{
				"content": "Whitelisted Resource Violation Notice",
				"tag":     "plain_text",
			},
		},
		"elements": elements,
	}
}

func (f *Notifier) buildAlertMessage(report *models.ScanReport, host string) map[string]any {
	elements := f.targetElements(report, host)

	elements = append(elements, hr())
	elements = append(elements, violationElements(report.Result)...)

	elements = append(elements,
		hr(),
		mdDiv("**Detection Time:** "+time.Now().Format(time.DateTime)),
		mdDiv("**This site keeps sending tracker traffic after the user opts out, please follow up promptly!**"),
	)

	return map[string]any{
		"config": map[string]any{
			"wide_screen_mode": true,
		},
		"header": map[string]any{
			"template": "red",
			"title": map[string]any{
				"content": "Cookie Opt-Out Violation Alert",
				"tag":     "plain_text",
			},
		},
		"elements": elements,
	}
}

func (f *Notifier) sendMessage(message webhookMessage) error {
	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}
	resp, err := f.HTTPClient.Post(
		f.WebhookURL,
		"application/json",
		bytes.NewBuffer(jsonData),
	)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	var larkResp webhookResponse
	if err := json.Unmarshal(body, &larkResp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || larkResp.Code != 0 {
		return fmt.Errorf("Lark webhook notification failed: HTTP status %d, Lark error code %d, error message: %s",
			resp.StatusCode, larkResp.Code, larkResp.Msg)
	}
	return nil
}
