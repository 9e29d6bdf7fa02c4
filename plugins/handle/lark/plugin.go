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

// Package lark implements a notification plugin for Lark (Feishu) messaging platform.
// It provides webhook-based alerts for opt-out violations with optional
// whitelist support to mute resources by namespace or host.
package lark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/consentry/consentry/pkg/constants"
	"github.com/consentry/consentry/pkg/eventbus"
	"github.com/consentry/consentry/pkg/logger"
	"github.com/consentry/consentry/pkg/models"
	"github.com/consentry/consentry/pkg/plugin"
	"github.com/consentry/consentry/pkg/utils/config"
	"github.com/consentry/consentry/plugins/handle/lark/whitelist"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

const (
	pluginName = constants.HandleLark
	pluginType = constants.HandleLarkPluginType
)

func init() {
	plugin.PluginFactories[pluginName] = func() plugin.Plugin {
		return &LarkPlugin{
			log: logger.GetLogger().WithField("plugin", pluginName),
		}
	}
}

type LarkPlugin struct {
	log      logger.Logger
	notifier *Notifier
	db       *gorm.DB
	cfg      LarkConfig
}

func (p *LarkPlugin) Name() string { return pluginName }
func (p *LarkPlugin) Type() string { return pluginType }

// LarkConfig is the plugin settings block. The MySQL fields are only
// required when the whitelist is enabled.
type LarkConfig struct {
	Region           string `json:"region"`
	Webhook          string `json:"webhook"`
	EnabledWhitelist *bool  `json:"enabled_whitelist"`
	Host             string `json:"host"`
	Port             string `json:"port"`
	Username         string `json:"username"`
	Password         string `json:"password"`
	DatabaseName     string `json:"databaseName"`
	Charset          string `json:"charset"`
	HostTimeoutHour  int    `json:"host_timeout_hour"`
}

func (p *LarkPlugin) loadConfig(setting string) error {
	if setting == "" {
		return errors.New("configuration cannot be empty")
	}
	var parsed LarkConfig
	if err := json.Unmarshal([]byte(setting), &parsed); err != nil {
		p.log.Error("Failed to parse config", logger.Fields{"error": err.Error()})
		return err
	}
	if parsed.Webhook == "" {
		return errors.New("webhook configuration cannot be empty")
	}

	whitelistOff := false
	cfg := LarkConfig{
		Region:           "UNKNOWN",
		Webhook:          parsed.Webhook,
		EnabledWhitelist: &whitelistOff,
		DatabaseName:     "consentry",
		Charset:          "utf8mb4",
		HostTimeoutHour:  parsed.HostTimeoutHour,
	}
	if parsed.Region != "" {
		cfg.Region = parsed.Region
	}
	if parsed.DatabaseName != "" {
		cfg.DatabaseName = parsed.DatabaseName
	}
	if parsed.Charset != "" {
		cfg.Charset = parsed.Charset
	}

	if parsed.EnabledWhitelist != nil && *parsed.EnabledWhitelist {
		required := []struct{ name, value string }{
			{"host", parsed.Host},
			{"port", parsed.Port},
			{"username", parsed.Username},
			{"password", parsed.Password},
		}
		for _, field := range required {
			if field.value == "" {
				return fmt.Errorf("%s configuration cannot be empty", field.name)
			}
		}
		cfg.EnabledWhitelist = parsed.EnabledWhitelist
		cfg.Host = parsed.Host
		cfg.Port = parsed.Port
		cfg.Username = parsed.Username
		cfg.Password = parsed.Password
		// The password may arrive as an env reference or encrypted value.
		if pwd, err := config.GetSecureValue(parsed.Password); err == nil {
			cfg.Password = pwd
		}
	}

	p.cfg = cfg
	return nil
}

func (p *LarkPlugin) Start(
	ctx context.Context,
	pluginConfig config.PluginConfig,
	eventBus *eventbus.EventBus,
) error {
	if err := p.loadConfig(pluginConfig.Settings); err != nil {
		return err
	}
	if *p.cfg.EnabledWhitelist {
		if err := p.setupWhitelist(); err != nil {
			return err
		}
	} else {
		p.notifier = NewNotifier(p.cfg.Webhook, nil, 0, p.cfg.Region)
	}

	reports := eventBus.Subscribe(constants.ReportTopic)
	go p.consumeReports(ctx, reports)
	return nil
}

// setupWhitelist opens the whitelist database and wires the notifier to
// it. An example row is seeded on first start so operators can confirm
// the table is reachable.
func (p *LarkPlugin) setupWhitelist() error {
	db, err := p.openDatabase()
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.AutoMigrate(&whitelist.Whitelist{}); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	p.db = db
	p.notifier = NewNotifier(
		p.cfg.Webhook,
		db,
		time.Duration(p.cfg.HostTimeoutHour)*time.Hour,
		p.cfg.Region,
	)

	var count int64
	db.Model(&whitelist.Whitelist{}).Count(&count)
	if count > 0 {
		return nil
	}
	seed := &whitelist.Whitelist{
		Region:    p.cfg.Region,
		Name:      "Example namespace exemption",
		Namespace: "default",
		Hostname:  "test.example.com",
		Type:      whitelist.WhitelistTypeNamespace,
		Remark:    "Seed row inserted on first start to confirm whitelist connectivity",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := db.Create(seed).Error; err != nil {
		p.log.Error("Failed to seed whitelist", logger.Fields{"error": err.Error()})
	} else {
		p.log.Info("Seeded example whitelist entry")
	}
	return nil
}

// openDatabase connects to the MySQL server, ensures the whitelist
// database exists, and reconnects scoped to it.
func (p *LarkPlugin) openDatabase() (*gorm.DB, error) {
	// stdout stays reserved for scan wire output, so gorm logs to stderr
	// like everything else.
	gormCfg := &gorm.Config{
		Logger: gormLogger.New(
			log.New(os.Stderr, "\r\n", log.LstdFlags),
			gormLogger.Config{
				SlowThreshold: 3 * time.Second,
				LogLevel:      gormLogger.Error,
				Colorful:      false,
			},
		),
	}
	db, err := gorm.Open(mysql.Open(p.mysqlDSN("")), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL server: %w", err)
	}
	create := fmt.Sprintf(
		"CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET %s COLLATE %s_unicode_ci",
		p.cfg.DatabaseName, p.cfg.Charset, p.cfg.Charset,
	)
	if err := db.Exec(create).Error; err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	db, err = gorm.Open(mysql.Open(p.mysqlDSN(p.cfg.DatabaseName)), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func (p *LarkPlugin) mysqlDSN(database string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=%s&parseTime=True&loc=Local",
		p.cfg.Username, p.cfg.Password, p.cfg.Host, p.cfg.Port, database, p.cfg.Charset)
}

// consumeReports forwards violation reports to the webhook until the
// context ends or the subscription closes.
func (p *LarkPlugin) consumeReports(ctx context.Context, events eventbus.EventChan) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Plugin goroutine panic", logger.Fields{"panic": r})
		}
	}()
	for {
		select {
		case event, ok := <-events:
			if !ok {
				p.log.Info("Event subscription channel closed")
				return
			}
			report, ok := event.Payload.(*models.ScanReport)
			if !ok {
				p.log.Error("Invalid event payload type", logger.Fields{
					"expected": "*models.ScanReport",
					"actual":   fmt.Sprintf("%T", event.Payload),
				})
				continue
			}
			if err := p.notifier.SendScanNotification(report); err != nil {
				p.log.Error("Failed to send notification", logger.Fields{"error": err.Error()})
			}
		case <-ctx.Done():
			p.log.Info("Plugin received stop signal")
			return
		}
	}
}

func (p *LarkPlugin) Stop(ctx context.Context) error {
	if p.db == nil {
		return nil
	}
	sqlDB, err := p.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}
	return sqlDB.Close()
}
