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

package config

// Config is the root configuration structure
type Config struct {
	Server     ServerConfig   `yaml:"server" json:"server"`
	Scanner    ScannerConfig  `yaml:"scanner" json:"scanner"`
	Logging    LoggingConfig  `yaml:"logging" json:"logging"`
	Kubeconfig string         `yaml:"kubeconfig" json:"kubeconfig"`
	Plugins    []PluginConfig `yaml:"plugins" json:"plugins"`
}

// ServerConfig configures the HTTP API server
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// ScannerConfig configures the browser scan environment
type ScannerConfig struct {
	DataDir     string `yaml:"data_dir" json:"data_dir"`
	BrowserPath string `yaml:"browser_path" json:"browser_path"`
	Headless    bool   `yaml:"headless" json:"headless"`
	NoSandbox   bool   `yaml:"no_sandbox" json:"no_sandbox"`
	Proxy       string `yaml:"proxy" json:"proxy"`
	UserAgent   string `yaml:"user_agent" json:"user_agent"`
}

// PluginConfig configures a single plugin instance. Settings carries a
// plugin-specific JSON document parsed by the plugin itself.
type PluginConfig struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Settings string `yaml:"settings" json:"settings"`
}

// LoggingConfig configures log output
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}
