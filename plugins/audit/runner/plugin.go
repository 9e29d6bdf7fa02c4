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

// Package runner consumes discovery targets and runs a supervised
// opt-out scan against each one, publishing the outcome on the report
// topic for the handle plugins.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/consentry/consentry/pkg/constants"
	"github.com/consentry/consentry/pkg/eventbus"
	"github.com/consentry/consentry/pkg/logger"
	"github.com/consentry/consentry/pkg/models"
	"github.com/consentry/consentry/pkg/plugin"
	"github.com/consentry/consentry/pkg/supervisor"
	"github.com/consentry/consentry/pkg/utils/config"
	"github.com/google/uuid"
)

const (
	pluginName = constants.AuditRunnerName
	pluginType = constants.AuditRunnerPluginType
)

func init() {
	plugin.PluginFactories[pluginName] = func() plugin.Plugin {
		return &RunnerPlugin{
			log: logger.GetLogger().WithField("plugin", pluginName),
		}
	}
}

type RunnerPlugin struct {
	log          logger.Logger
	stopChan     chan struct{}
	sup          *supervisor.Supervisor
	runnerConfig RunnerConfig

	// lastScanned is only touched by the consume goroutine.
	lastScanned map[string]time.Time
}

type RunnerConfig struct {
	ConfigPath     string `json:"configPath"`
	CooldownMinute int    `json:"cooldownMinute"`
}

func (p *RunnerPlugin) getDefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		CooldownMinute: 60,
	}
}

func (p *RunnerPlugin) loadConfig(setting string) error {
	p.runnerConfig = p.getDefaultRunnerConfig()
	if setting == "" {
		p.log.Info("Using default runner configuration")
		return nil
	}
	var configFromJSON RunnerConfig
	err := json.Unmarshal([]byte(setting), &configFromJSON)
	if err != nil {
		p.log.Error("Failed to parse config, using defaults", logger.Fields{
			"error": err.Error(),
		})
		return err
	}
	if configFromJSON.ConfigPath != "" {
		p.runnerConfig.ConfigPath = configFromJSON.ConfigPath
	}
	if configFromJSON.CooldownMinute > 0 {
		p.runnerConfig.CooldownMinute = configFromJSON.CooldownMinute
	}
	p.log.Info("Loaded runner configuration", logger.Fields{
		"configPath":     p.runnerConfig.ConfigPath,
		"cooldownMinute": p.runnerConfig.CooldownMinute,
	})
	return nil
}

func (p *RunnerPlugin) Name() string {
	return pluginName
}

func (p *RunnerPlugin) Type() string {
	return pluginType
}

func (p *RunnerPlugin) Start(
	ctx context.Context,
	config config.PluginConfig,
	eventBus *eventbus.EventBus,
) error {
	if err := p.loadConfig(config.Settings); err != nil {
		return err
	}
	p.sup = supervisor.New(p.runnerConfig.ConfigPath)
	p.lastScanned = make(map[string]time.Time)
	p.stopChan = make(chan struct{})
	subscribe := eventBus.Subscribe(constants.DiscoveryTopic)
	go p.consume(ctx, subscribe, eventBus)
	return nil
}

func (p *RunnerPlugin) consume(
	ctx context.Context,
	subscribe eventbus.EventChan,
	eventBus *eventbus.EventBus,
) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Runner goroutine panic", logger.Fields{
				"panic": fmt.Sprintf("%v", r),
			})
		}
	}()
	for {
		select {
		case event, ok := <-subscribe:
			if !ok {
				p.log.Info("Discovery channel closed, stopping runner")
				return
			}
			target, ok := event.Payload.(models.ScanTarget)
			if !ok {
				p.log.Error("Invalid event payload type", logger.Fields{
					"expected": "models.ScanTarget",
					"actual":   fmt.Sprintf("%T", event.Payload),
				})
				continue
			}
			p.scanTarget(ctx, target, eventBus)
		case <-ctx.Done():
			p.log.Info("Context cancelled, stopping runner")
			return
		case <-p.stopChan:
			p.log.Info("Stop signal received, stopping runner")
			return
		}
	}
}

// scanTarget runs one supervised scan unless the host was already
// scanned within the cooldown window. Scans run one at a time because
// each worker owns a full browser.
func (p *RunnerPlugin) scanTarget(
	ctx context.Context,
	target models.ScanTarget,
	eventBus *eventbus.EventBus,
) {
	url := models.NormalizeURL(target.URL)
	if url == "" {
		p.log.Warn("Skipping target without URL", logger.Fields{
			"discovery": target.DiscoveryName,
			"host":      target.Host,
		})
		return
	}
	host := target.Host
	if host == "" {
		host = models.Hostname(url)
	}
	cooldown := time.Duration(p.runnerConfig.CooldownMinute) * time.Minute
	if last, ok := p.lastScanned[host]; ok && time.Since(last) < cooldown {
		p.log.Debug("Skipping target within cooldown", logger.Fields{
			"host":         host,
			"last_scanned": last.Format(time.RFC3339),
		})
		return
	}
	p.lastScanned[host] = time.Now()

	scanID := uuid.NewString()
	p.log.Info("Starting audit scan", logger.Fields{
		"scan_id":   scanID,
		"url":       url,
		"discovery": target.DiscoveryName,
	})
	result := p.sup.Run(ctx, scanID, url, func(ev models.ProgressEvent) {
		p.log.Debug(ev.Message, logger.Fields{
			"scan_id": scanID,
			"step":    ev.Step,
		})
	})
	p.log.Info("Audit scan finished", logger.Fields{
		"scan_id": scanID,
		"url":     url,
		"verdict": result.Verdict,
	})
	eventBus.Publish(constants.ReportTopic, eventbus.Event{
		Payload: &models.ScanReport{
			DiscoveryName: target.DiscoveryName,
			RunnerName:    pluginName,
			Target:        target,
			Result:        result,
		},
	})
}

func (p *RunnerPlugin) Stop(ctx context.Context) error {
	if p.stopChan != nil {
		close(p.stopChan)
	}
	return nil
}
