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

// Package plugin defines the lifecycle contract for continuous-audit
// plugins and the manager that drives them.
package plugin

import (
	"context"

	"github.com/consentry/consentry/pkg/eventbus"
	"github.com/consentry/consentry/pkg/utils/config"
)

// Plugin is one continuous-audit component: a discoverer feeding scan
// targets onto the bus, a runner auditing them, or a handler consuming
// finished reports.
type Plugin interface {
	Name() string
	Type() string

	// Start brings the plugin up and returns. Long-running work happens
	// on goroutines the plugin owns, bounded by ctx.
	Start(ctx context.Context, pluginConfig config.PluginConfig, eventBus *eventbus.EventBus) error
	Stop(ctx context.Context) error
}

// PluginFactory builds a fresh plugin instance. Plugin packages
// register one in PluginFactories from an init function, keyed by
// plugin name.
type PluginFactory func() Plugin
