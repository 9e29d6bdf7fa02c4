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

// Package ingress watches cluster Ingress resources and publishes their
// hosts as scan targets whenever a host appears or changes.
package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/consentry/consentry/pkg/constants"
	"github.com/consentry/consentry/pkg/eventbus"
	"github.com/consentry/consentry/pkg/k8s"
	"github.com/consentry/consentry/pkg/logger"
	"github.com/consentry/consentry/pkg/plugin"
	"github.com/consentry/consentry/pkg/utils/config"
	"github.com/consentry/consentry/plugins/discovery/utils"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/tools/cache"
)

const (
	pluginName = constants.DiscoveryInformerIngressName
	pluginType = constants.DiscoveryInformerPluginType
)

func init() {
	plugin.PluginFactories[pluginName] = func() plugin.Plugin {
		return &IngressPlugin{
			log: logger.GetLogger().WithField("plugin", pluginName),
		}
	}
}

type IngressPlugin struct {
	log             logger.Logger
	stopChan        chan struct{}
	eventBus        *eventbus.EventBus
	factory         informers.SharedInformerFactory
	ingressInformer cache.SharedIndexInformer
	ingressConfig   IngressConfig
}

type IngressConfig struct {
	ResyncTimeSecond   int `json:"resyncTimeSecond"`
	AgeThresholdSecond int `json:"ageThresholdSecond"`
}

func (p *IngressPlugin) getDefaultIngressConfig() IngressConfig {
	return IngressConfig{
		ResyncTimeSecond:   30,
		AgeThresholdSecond: 180,
	}
}

func (p *IngressPlugin) loadConfig(setting string) error {
	p.ingressConfig = p.getDefaultIngressConfig()
	if setting == "" {
		p.log.Info("Using default ingress informer configuration")
		return nil
	}
	var configFromJSON IngressConfig
	err := json.Unmarshal([]byte(setting), &configFromJSON)
	if err != nil {
		p.log.Error("Failed to parse config, using defaults", logger.Fields{
			"error": err.Error(),
		})
		return err
	}
	if configFromJSON.ResyncTimeSecond > 0 {
		p.ingressConfig.ResyncTimeSecond = configFromJSON.ResyncTimeSecond
	}
	if configFromJSON.AgeThresholdSecond > 0 {
		p.ingressConfig.AgeThresholdSecond = configFromJSON.AgeThresholdSecond
	}
	return nil
}

func (p *IngressPlugin) Name() string {
	return pluginName
}

func (p *IngressPlugin) Type() string {
	return pluginType
}

func (p *IngressPlugin) Start(
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
		p.log.Warn("Kubernetes client not initialized, ingress discovery disabled")
		return nil
	}
	p.stopChan = make(chan struct{})
	p.eventBus = eventBus
	go p.startIngressInformerWatch(ctx)
	return nil
}

func (p *IngressPlugin) startIngressInformerWatch(ctx context.Context) {
	if p.factory == nil {
		p.factory = informers.NewSharedInformerFactory(
			k8s.ClientSet,
			time.Duration(p.ingressConfig.ResyncTimeSecond)*time.Second,
		)
	}
	if p.ingressInformer == nil {
		p.ingressInformer = p.factory.Networking().V1().Ingresses().Informer()
	}
	_, err := p.ingressInformer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc: func(obj any) {
			ingress, ok := obj.(*networkingv1.Ingress)
			if !ok {
				p.log.Error("Failed to cast object to Ingress", logger.Fields{
					"object_type": fmt.Sprintf("%T", obj),
				})
				return
			}
			// Resync replays every existing object as an Add; only
			// recently created ingresses are worth a fresh scan.
			if time.Since(
				ingress.CreationTimestamp.Time,
			) > time.Duration(
				p.ingressConfig.AgeThresholdSecond,
			)*time.Second {
				return
			}
			p.publishTargets(ingress)
		},
		UpdateFunc: func(oldObj, newObj any) {
			oldIngress, ok := oldObj.(*networkingv1.Ingress)
			if !ok {
				p.log.Error("Failed to cast object to Ingress", logger.Fields{
					"object_type": fmt.Sprintf("%T", oldObj),
				})
				return
			}
			newIngress, ok := newObj.(*networkingv1.Ingress)
			if !ok {
				p.log.Error("Failed to cast object to Ingress", logger.Fields{
					"object_type": fmt.Sprintf("%T", newObj),
				})
				return
			}
			if p.hasHostsChanged(oldIngress, newIngress) {
				p.publishTargets(newIngress)
			}
		},
	})
	if err != nil {
		p.log.Error("Failed to register ingress event handler", logger.Fields{
			"error": err.Error(),
		})
		return
	}
	p.factory.Start(p.stopChan)
	if !cache.WaitForCacheSync(p.stopChan, p.ingressInformer.HasSynced) {
		p.log.Error("Failed to wait for ingress caches to sync")
		return
	}
	p.log.Info("Ingress informer watcher started successfully")
	select {
	case <-ctx.Done():
		p.log.Info("Ingress watcher stopping due to context cancellation")
	case <-p.stopChan:
		p.log.Info("Ingress watcher stopping due to stop signal")
	}
}

func (p *IngressPlugin) Stop(ctx context.Context) error {
	if p.stopChan != nil {
		close(p.stopChan)
	}
	return nil
}

// hasHostsChanged reports whether the set of rule hosts differs between
// the two versions. Updates that keep the hosts intact, like annotation
// or backend edits, do not trigger a rescan.
func (p *IngressPlugin) hasHostsChanged(oldIngress, newIngress *networkingv1.Ingress) bool {
	oldHosts := utils.RuleHosts(oldIngress)
	newHosts := utils.RuleHosts(newIngress)
	hasChanged := !sameHostSet(oldHosts, newHosts)
	if hasChanged {
		p.log.Debug("Ingress host change detected", logger.Fields{
			"namespace": newIngress.Namespace,
			"name":      newIngress.Name,
			"old_hosts": oldHosts,
			"new_hosts": newHosts,
		})
	}
	return hasChanged
}

func sameHostSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	count := make(map[string]int, len(a))
	for _, host := range a {
		count[host]++
	}
	for _, host := range b {
		count[host]--
		if count[host] < 0 {
			return false
		}
	}
	return true
}

func (p *IngressPlugin) publishTargets(ingress *networkingv1.Ingress) {
	for _, target := range utils.ScanTargets(ingress, pluginName) {
		p.eventBus.Publish(constants.DiscoveryTopic, eventbus.Event{
			Payload: target,
		})
		p.log.Debug("Published ingress scan target", logger.Fields{
			"namespace": ingress.Namespace,
			"name":      ingress.Name,
			"url":       target.URL,
		})
	}
}
