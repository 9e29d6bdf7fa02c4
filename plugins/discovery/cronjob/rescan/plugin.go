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

// Package rescan re-emits a configured list of target URLs onto the
// discovery topic at a fixed interval, so known sites get audited again
// without any cluster signal.
package rescan

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/consentry/consentry/pkg/constants"
	"github.com/consentry/consentry/pkg/eventbus"
	"github.com/consentry/consentry/pkg/logger"
	"github.com/consentry/consentry/pkg/models"
	"github.com/consentry/consentry/pkg/plugin"
	"github.com/consentry/consentry/pkg/utils/config"
)

const (
	pluginName = constants.DiscoveryCronJobRescanName
	pluginType = constants.DiscoveryCronJobPluginType
)

func init() {
	plugin.PluginFactories[pluginName] = func() plugin.Plugin {
		return &RescanPlugin{
			log: logger.GetLogger().WithField("plugin", pluginName),
		}
	}
}

type RescanPlugin struct {
	log          logger.Logger
	stopChan     chan struct{}
	rescanConfig RescanConfig
}

func (p *RescanPlugin) Name() string {
	return pluginName
}

func (p *RescanPlugin) Type() string {
	return pluginType
}

type RescanConfig struct {
	URLs            []string `json:"urls"`
	IntervalMinute  int      `json:"intervalMinute"`
	AutoStart       *bool    `json:"autoStart"`
	StartTimeSecond int      `json:"startTimeSecond"`
}

func (p *RescanPlugin) getDefaultRescanConfig() RescanConfig {
	b := true
	return RescanConfig{
		IntervalMinute:  24 * 60,
		AutoStart:       &b,
		StartTimeSecond: 60,
	}
}

func (p *RescanPlugin) loadConfig(setting string) error {
	p.rescanConfig = p.getDefaultRescanConfig()
	if setting == "" {
		return errors.New("rescan configuration cannot be empty: at least one target URL is required")
	}

	var configFromJSON RescanConfig
	err := json.Unmarshal([]byte(setting), &configFromJSON)
	if err != nil {
		p.log.Error("Failed to parse configuration", logger.Fields{
			"error": err.Error(),
		})
		return err
	}
	if len(configFromJSON.URLs) == 0 {
		return errors.New("at least one target URL is required")
	}
	p.rescanConfig.URLs = configFromJSON.URLs
	if configFromJSON.IntervalMinute > 0 {
		p.rescanConfig.IntervalMinute = configFromJSON.IntervalMinute
	}
	if configFromJSON.AutoStart != nil {
		p.rescanConfig.AutoStart = configFromJSON.AutoStart
	}
	if configFromJSON.StartTimeSecond > 0 {
		p.rescanConfig.StartTimeSecond = configFromJSON.StartTimeSecond
	}

	p.log.Info("Rescan configuration loaded", logger.Fields{
		"urls":            len(p.rescanConfig.URLs),
		"intervalMinute":  p.rescanConfig.IntervalMinute,
		"autoStart":       p.rescanConfig.AutoStart != nil && *p.rescanConfig.AutoStart,
		"startTimeSecond": p.rescanConfig.StartTimeSecond,
	})
	return nil
}

func (p *RescanPlugin) Start(
	ctx context.Context,
	config config.PluginConfig,
	eventBus *eventbus.EventBus,
) error {
	if err := p.loadConfig(config.Settings); err != nil {
		return err
	}
	p.stopChan = make(chan struct{})
	go p.schedule(ctx, eventBus)
	p.log.Info("Rescan plugin started successfully")
	return nil
}

func (p *RescanPlugin) schedule(ctx context.Context, eventBus *eventbus.EventBus) {
	if p.rescanConfig.AutoStart != nil && *p.rescanConfig.AutoStart {
		delay := time.Duration(p.rescanConfig.StartTimeSecond) * time.Second
		p.log.Info("Auto-start enabled, waiting before initial emission", logger.Fields{
			"delay": delay.String(),
		})
		select {
		case <-time.After(delay):
			p.emitTargets(eventBus)
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		}
	}

	interval := time.Duration(p.rescanConfig.IntervalMinute) * time.Minute
	p.log.Info("Starting rescan ticker", logger.Fields{
		"interval": interval.String(),
	})
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.emitTargets(eventBus)
		case <-ctx.Done():
			p.log.Info("Context cancelled, stopping rescan scheduler")
			return
		case <-p.stopChan:
			p.log.Info("Stop signal received, stopping rescan scheduler")
			return
		}
	}
}

func (p *RescanPlugin) emitTargets(eventBus *eventbus.EventBus) {
	published := 0
	for _, raw := range p.rescanConfig.URLs {
		url := models.NormalizeURL(raw)
		if url == "" {
			continue
		}
		eventBus.Publish(constants.DiscoveryTopic, eventbus.Event{
			Payload: models.ScanTarget{
				DiscoveryName: pluginName,
				Host:          models.Hostname(url),
				URL:           url,
			},
		})
		published++
	}
	p.log.Info("Published rescan targets", logger.Fields{
		"count": published,
	})
}

func (p *RescanPlugin) Stop(ctx context.Context) error {
	p.log.Info("Stopping rescan plugin")
	if p.stopChan != nil {
		close(p.stopChan)
	}
	return nil
}
