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

package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/consentry/consentry/pkg/eventbus"
	"github.com/consentry/consentry/pkg/logger"
	"github.com/consentry/consentry/pkg/utils/config"
)

// PluginStopTimeout bounds the combined shutdown of all plugins.
const PluginStopTimeout = 20 * time.Second

// PluginFactories is the process-wide plugin registry. Importing a
// plugin package for its side effects fills it.
var PluginFactories = make(map[string]PluginFactory)

// PluginInstance pairs a constructed plugin with the config it runs
// under.
type PluginInstance struct {
	Plugin Plugin
	Config config.PluginConfig
}

// Manager owns plugin instances and drives their lifecycle.
type Manager struct {
	pluginInstances map[string]*PluginInstance
	eventBus        *eventbus.EventBus
	mu              sync.RWMutex
}

func NewManager(eventBus *eventbus.EventBus) *Manager {
	return &Manager{
		pluginInstances: make(map[string]*PluginInstance),
		eventBus:        eventBus,
	}
}

// LoadPlugins loads every configured plugin, continuing past failures
// so one bad entry cannot keep the rest down.
func (m *Manager) LoadPlugins(pluginConfigs []config.PluginConfig) error {
	log := logger.GetLogger()
	log.Info("Loading configured plugins", logger.Fields{"count": len(pluginConfigs)})
	for _, pluginConfig := range pluginConfigs {
		if err := m.LoadPlugin(pluginConfig); err != nil {
			log.Error("Plugin load failed", logger.Fields{
				"plugin": pluginConfig.Name,
				"error":  err.Error(),
			})
		}
	}
	return nil
}

// LoadPlugin instantiates one configured plugin. A missing factory is
// logged and skipped rather than failing startup, since a config may
// list plugins a build does not carry.
func (m *Manager) LoadPlugin(pluginConfig config.PluginConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := logger.GetLogger()

	factory, ok := PluginFactories[pluginConfig.Name]
	if !ok {
		log.Warn("No factory registered for plugin", logger.Fields{
			"plugin":    pluginConfig.Name,
			"available": getRegisteredFactoryNames(),
		})
		return nil
	}
	if _, loaded := m.pluginInstances[pluginConfig.Name]; loaded {
		log.Debug("Plugin already loaded, ignoring duplicate", logger.Fields{"plugin": pluginConfig.Name})
		return nil
	}

	m.pluginInstances[pluginConfig.Name] = &PluginInstance{
		Plugin: factory(),
		Config: pluginConfig,
	}
	log.Info("Plugin loaded", logger.Fields{
		"plugin":  pluginConfig.Name,
		"type":    pluginConfig.Type,
		"enabled": pluginConfig.Enabled,
	})
	return nil
}

func getRegisteredFactoryNames() []string {
	names := make([]string, 0, len(PluginFactories))
	for name := range PluginFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartAll starts every enabled plugin in parallel and waits for all of
// them. The first start error is returned after the group finishes.
func (m *Manager) StartAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	log := logger.GetLogger()

	var g errgroup.Group
	for name, instance := range m.pluginInstances {
		if !instance.Config.Enabled {
			log.Debug("Skipping disabled plugin", logger.Fields{"plugin": name})
			continue
		}
		log.Info("Plugin starting", logger.Fields{"plugin": name})
		g.Go(func() error {
			pluginLog := log.WithField("plugin", name)
			err := instance.Plugin.Start(context.Background(), instance.Config, m.eventBus)
			if err != nil {
				pluginLog.Error("Plugin failed to start", logger.Fields{"error": err.Error()})
				return fmt.Errorf("plugin %s failed to start: %w", name, err)
			}
			pluginLog.Info("Plugin started")
			return nil
		})
	}
	return g.Wait()
}

// StopAll stops every loaded plugin under one shared deadline. Stop
// errors are logged, not returned, so a stuck plugin cannot block the
// rest of the shutdown.
func (m *Manager) StopAll() error {
	ctx, cancel := context.WithTimeout(context.Background(), PluginStopTimeout)
	defer cancel()
	m.mu.RLock()
	defer m.mu.RUnlock()
	log := logger.GetLogger()

	log.Info("Stopping plugins", logger.Fields{"count": len(m.pluginInstances)})
	for name, instance := range m.pluginInstances {
		if err := instance.Plugin.Stop(ctx); err != nil {
			log.Error("Plugin stop failed", logger.Fields{
				"plugin": name,
				"error":  err.Error(),
			})
			continue
		}
		log.Debug("Plugin stopped cleanly", logger.Fields{"plugin": name})
	}
	log.Info("Plugin shutdown complete")
	return nil
}
