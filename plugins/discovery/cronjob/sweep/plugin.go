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

// Package sweep periodically lists every Ingress in the cluster and
// publishes all exposed hosts as scan targets. The informer catches new
// and changed hosts quickly; the sweep guarantees that long-lived sites
// still get re-audited on a slow cycle.
package sweep

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/consentry/consentry/pkg/constants"
	"github.com/consentry/consentry/pkg/eventbus"
	"github.com/consentry/consentry/pkg/k8s"
	"github.com/consentry/consentry/pkg/logger"
	"github.com/consentry/consentry/pkg/models"
	"github.com/consentry/consentry/pkg/plugin"
	"github.com/consentry/consentry/pkg/utils/config"
	"github.com/consentry/consentry/plugins/discovery/utils"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	pluginName = constants.DiscoveryCronJobSweepName
	pluginType = constants.DiscoveryCronJobPluginType

	sweepTimeout = 90 * time.Second
)

func init() {
	plugin.PluginFactories[pluginName] = func() plugin.Plugin {
		return &SweepPlugin{
			log: logger.GetLogger().WithField("plugin", pluginName),
		}
	}
}

type SweepPlugin struct {
	log         logger.Logger
	stopChan    chan struct{}
	sweepConfig SweepConfig
}

func (p *SweepPlugin) Name() string {
	return pluginName
}

func (p *SweepPlugin) Type() string {
	return pluginType
}

type SweepConfig struct {
	IntervalMinute  int    `json:"intervalMinute"`
	AutoStart       *bool  `json:"autoStart"`
	StartTimeSecond int    `json:"startTimeSecond"`
	NamespacePrefix string `json:"namespacePrefix"`
}

func (p *SweepPlugin) getDefaultSweepConfig() SweepConfig {
	b := false
	return SweepConfig{
		IntervalMinute:  7 * 24 * 60,
		AutoStart:       &b,
		StartTimeSecond: 60,
	}
}

func (p *SweepPlugin) loadConfig(setting string) error {
	p.sweepConfig = p.getDefaultSweepConfig()
	if setting == "" {
		p.log.Info("Using default sweep configuration")
		return nil
	}

	var configFromJSON SweepConfig
	err := json.Unmarshal([]byte(setting), &configFromJSON)
	if err != nil {
		p.log.Error("Failed to parse configuration", logger.Fields{
			"error": err.Error(),
		})
		return err
	}
	if configFromJSON.IntervalMinute > 0 {
		p.sweepConfig.IntervalMinute = configFromJSON.IntervalMinute
	}
	if configFromJSON.AutoStart != nil {
		p.sweepConfig.AutoStart = configFromJSON.AutoStart
	}
	if configFromJSON.StartTimeSecond > 0 {
		p.sweepConfig.StartTimeSecond = configFromJSON.StartTimeSecond
	}
	if configFromJSON.NamespacePrefix != "" {
		p.sweepConfig.NamespacePrefix = configFromJSON.NamespacePrefix
	}

	p.log.Info("Sweep configuration loaded", logger.Fields{
		"intervalMinute":  p.sweepConfig.IntervalMinute,
		"autoStart":       p.sweepConfig.AutoStart != nil && *p.sweepConfig.AutoStart,
		"startTimeSecond": p.sweepConfig.StartTimeSecond,
		"namespacePrefix": p.sweepConfig.NamespacePrefix,
	})
	return nil
}

func (p *SweepPlugin) Start(
	ctx context.Context,
	config config.PluginConfig,
	eventBus *eventbus.EventBus,
) error {
	if err := p.loadConfig(config.Settings); err != nil {
		return err
	}
	// Outside a cluster the plugin degrades to a no-op so serve keeps
	// working with only cron discovery.
	if k8s.ClientSet == nil {
		p.log.Warn("Kubernetes client not initialized, sweep discovery disabled")
		return nil
	}
	p.stopChan = make(chan struct{})
	go p.schedule(ctx, eventBus)
	p.log.Info("Sweep plugin started successfully")
	return nil
}

func (p *SweepPlugin) schedule(ctx context.Context, eventBus *eventbus.EventBus) {
	if p.sweepConfig.AutoStart != nil && *p.sweepConfig.AutoStart {
		delay := time.Duration(p.sweepConfig.StartTimeSecond) * time.Second
		p.log.Info("Auto-start enabled, waiting before initial sweep", logger.Fields{
			"delay": delay.String(),
		})
		select {
		case <-time.After(delay):
			p.runSweep(ctx, eventBus)
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		}
	}

	interval := time.Duration(p.sweepConfig.IntervalMinute) * time.Minute
	p.log.Info("Starting sweep ticker", logger.Fields{
		"interval": interval.String(),
	})
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.runSweep(ctx, eventBus)
		case <-ctx.Done():
			p.log.Info("Context cancelled, stopping sweep scheduler")
			return
		case <-p.stopChan:
			p.log.Info("Stop signal received, stopping sweep scheduler")
			return
		}
	}
}

func (p *SweepPlugin) runSweep(ctx context.Context, eventBus *eventbus.EventBus) {
	sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	ingressList, err := k8s.ClientSet.NetworkingV1().
		Ingresses("").
		List(sweepCtx, metav1.ListOptions{})
	if err != nil {
		p.log.Error("Failed to list ingresses", logger.Fields{
			"error": err.Error(),
		})
		return
	}

	unique := p.dedupeByHost(ingressList.Items)
	published := 0
	for _, target := range unique {
		select {
		case <-sweepCtx.Done():
			p.log.Warn("Sweep cancelled before all targets were published", logger.Fields{
				"publishedCount": published,
				"totalCount":     len(unique),
			})
			return
		default:
			eventBus.Publish(constants.DiscoveryTopic, eventbus.Event{
				Payload: target,
			})
			published++
		}
	}

	p.log.Info("Sweep completed", logger.Fields{
		"ingressCount": len(ingressList.Items),
		"targetCount":  published,
	})
}

func (p *SweepPlugin) Stop(ctx context.Context) error {
	p.log.Info("Stopping sweep plugin")
	if p.stopChan != nil {
		close(p.stopChan)
	}
	return nil
}

// dedupeByHost keeps one target per host. When several ingresses expose
// the same host the newest one wins, matching what the ingress
// controller actually serves.
func (p *SweepPlugin) dedupeByHost(ingresses []networkingv1.Ingress) []models.ScanTarget {
	byHost := make(map[string]*networkingv1.Ingress)
	for i := range ingresses {
		ingress := &ingresses[i]
		if p.sweepConfig.NamespacePrefix != "" &&
			!strings.HasPrefix(ingress.Namespace, p.sweepConfig.NamespacePrefix) {
			continue
		}
		for _, host := range utils.RuleHosts(ingress) {
			existing, ok := byHost[host]
			if !ok || ingress.CreationTimestamp.After(existing.CreationTimestamp.Time) {
				byHost[host] = ingress
			}
		}
	}

	targets := make([]models.ScanTarget, 0, len(byHost))
	for host, ingress := range byHost {
		targets = append(targets, models.ScanTarget{
			DiscoveryName: pluginName,
			Name:          ingress.Name,
			Namespace:     ingress.Namespace,
			Host:          host,
			URL:           fmt.Sprintf("%s://%s", utils.SchemeFor(ingress, host), host),
		})
	}
	return targets
}
