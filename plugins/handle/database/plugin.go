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

// Package database implements a MySQL handle plugin that persists every
// finished scan report. It creates its schema on startup and saves
// reports as they arrive on the report topic.
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/consentry/consentry/pkg/constants"
	"github.com/consentry/consentry/pkg/eventbus"
	"github.com/consentry/consentry/pkg/logger"
	"github.com/consentry/consentry/pkg/models"
	"github.com/consentry/consentry/pkg/plugin"
	"github.com/consentry/consentry/pkg/utils/config"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

const (
	pluginName = constants.HandleDatabaseMySQL
	pluginType = constants.HandleDatabasePluginType
)

func init() {
	plugin.PluginFactories[pluginName] = func() plugin.Plugin {
		return &DatabasePlugin{
			log: logger.GetLogger().WithField("plugin", pluginName),
		}
	}
}

type DatabasePlugin struct {
	log            logger.Logger
	db             *gorm.DB
	databaseConfig DatabaseConfig
}

type DatabaseConfig struct {
	Region       string `json:"region"`
	Host         string `json:"host"`
	Port         string `json:"port"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	DatabaseName string `json:"databaseName"`
	Charset      string `json:"charset"`
}

func (p *DatabasePlugin) getDefaultConfig() DatabaseConfig {
	return DatabaseConfig{
		DatabaseName: "consentry",
		Charset:      "utf8mb4",
		Region:       "UNKNOWN",
	}
}

func (p *DatabasePlugin) loadConfig(setting string) error {
	p.databaseConfig = p.getDefaultConfig()
	p.log.Debug("Loading database plugin configuration")

	if setting == "" {
		p.log.Error("Configuration cannot be empty")
		return errors.New("configuration cannot be empty")
	}

	var configFromJSON DatabaseConfig
	err := json.Unmarshal([]byte(setting), &configFromJSON)
	if err != nil {
		p.log.Error("Failed to parse configuration", logger.Fields{
			"error": err.Error(),
		})
		return err
	}
	if configFromJSON.Host == "" {
		return errors.New("host configuration cannot be empty")
	}
	if configFromJSON.Port == "" {
		return errors.New("port configuration cannot be empty")
	}
	if configFromJSON.Username == "" {
		return errors.New("username configuration cannot be empty")
	}
	if configFromJSON.Password == "" {
		return errors.New("password configuration cannot be empty")
	}

	p.databaseConfig.Host = configFromJSON.Host
	p.databaseConfig.Port = configFromJSON.Port
	p.databaseConfig.Username = configFromJSON.Username

	// Support secure password from environment variable or encryption
	if pwd, err := config.GetSecureValue(configFromJSON.Password); err == nil {
		p.databaseConfig.Password = pwd
		p.log.Debug("Using secure password from environment/encryption")
	} else {
		p.databaseConfig.Password = configFromJSON.Password
		p.log.Warn("Using plain text password - consider using environment variables")
	}

	if configFromJSON.Region != "" {
		p.databaseConfig.Region = configFromJSON.Region
	}
	if configFromJSON.DatabaseName != "" {
		p.databaseConfig.DatabaseName = configFromJSON.DatabaseName
	}
	if configFromJSON.Charset != "" {
		p.databaseConfig.Charset = configFromJSON.Charset
	}

	p.log.Info("Database configuration loaded", logger.Fields{
		"host":     p.databaseConfig.Host,
		"port":     p.databaseConfig.Port,
		"database": p.databaseConfig.DatabaseName,
		"region":   p.databaseConfig.Region,
	})

	return nil
}

// ScanRecord is the persisted form of one scan report. Slice and map
// evidence is stored as JSON columns so it survives without extra
// tables.
type ScanRecord struct {
	ID            uint   `gorm:"primaryKey"     json:"id"`
	DiscoveryName string `gorm:"size:255"       json:"discovery_name"`
	RunnerName    string `gorm:"size:255"       json:"runner_name"`
	ScanID        string `gorm:"size:64;index"  json:"scan_id"`
	Name          string `gorm:"size:255"       json:"name"`
	Namespace     string `gorm:"size:255"       json:"namespace"`
	Host          string `gorm:"size:255;index" json:"host"`
	URL           string `gorm:"size:500"       json:"url"`
	Verdict       string `gorm:"size:32;index"  json:"verdict"`

	OptOutFound    bool `json:"opt_out_found"`
	OptOutClicked  bool `json:"opt_out_clicked"`
	OptOutVerified bool `json:"opt_out_verified"`

	TrackersBefore *string `gorm:"type:json" json:"trackers_before,omitempty"`
	TrackersAfter  *string `gorm:"type:json" json:"trackers_after,omitempty"`
	TikTokAfter    *string `gorm:"type:json" json:"tiktok_after,omitempty"`
	FlaggedDomains *string `gorm:"type:json" json:"flagged_domains,omitempty"`

	TotalRequests int       `json:"total_requests"`
	Notes         string    `gorm:"type:text" json:"notes,omitempty"`
	Duration      float64   `json:"duration_seconds"`
	Region        string    `gorm:"size:64" json:"region"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (ScanRecord) TableName() string {
	return "scan_reports"
}

func (p *DatabasePlugin) Name() string { return pluginName }
func (p *DatabasePlugin) Type() string { return pluginType }

func (p *DatabasePlugin) Start(
	ctx context.Context,
	config config.PluginConfig,
	eventBus *eventbus.EventBus,
) error {
	p.log.Info("Starting database plugin")

	err := p.loadConfig(config.Settings)
	if err != nil {
		p.log.Error("Failed to load configuration", logger.Fields{
			"error": err.Error(),
		})
		return err
	}

	p.log.Debug("Initializing database connection")
	if err := p.initDB(); err != nil {
		p.log.Error("Failed to initialize database", logger.Fields{
			"error": err.Error(),
		})
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	p.log.Debug("Running database migration")
	if err := p.db.AutoMigrate(&ScanRecord{}); err != nil {
		p.log.Error("Database migration failed", logger.Fields{
			"error": err.Error(),
		})
		return fmt.Errorf("database migration failed: %w", err)
	}

	p.log.Info("Database migration completed successfully")
	subscribe := eventBus.Subscribe(constants.ReportTopic)
	p.log.Debug("Subscribed to report topic", logger.Fields{
		"topic": constants.ReportTopic,
	})

	p.log.Info("Database plugin started successfully")

	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.log.Error("Database plugin panic", logger.Fields{
					"panic": fmt.Sprintf("%v", r),
				})
			}
		}()

		for {
			select {
			case event, ok := <-subscribe:
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

				if err := p.saveReport(report); err != nil {
					p.log.Error("Failed to save report to database", logger.Fields{
						"error": err.Error(),
						"host":  report.Target.Host,
					})
				}
			case <-ctx.Done():
				p.log.Info("Database plugin stopping")
				return
			}
		}
	}()

	return nil
}

func (p *DatabasePlugin) Stop(ctx context.Context) error {
	p.log.Info("Stopping database plugin")

	if p.db != nil {
		sqlDB, err := p.db.DB()
		if err != nil {
			p.log.Error("Failed to get database connection", logger.Fields{
				"error": err.Error(),
			})
			return fmt.Errorf("failed to get database connection: %w", err)
		}

		if err := sqlDB.Close(); err != nil {
			p.log.Error("Failed to close database connection", logger.Fields{
				"error": err.Error(),
			})
			return err
		}

		p.log.Debug("Database connection closed")
	}

	return nil
}

func (p *DatabasePlugin) initDB() error {
	p.log.Debug("Initializing database", logger.Fields{
		"host":     p.databaseConfig.Host,
		"port":     p.databaseConfig.Port,
		"database": p.databaseConfig.DatabaseName,
	})
	serverDSN := p.buildDSN(false)
	dbConfig := &gorm.Config{
		Logger: gormLogger.New(
			log.New(os.Stderr, "\r\n", log.LstdFlags),
			gormLogger.Config{
				SlowThreshold: 3 * time.Second,
				LogLevel:      gormLogger.Error,
				Colorful:      false,
			},
		),
	}
	db, err := gorm.Open(mysql.Open(serverDSN), dbConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to MySQL server: %w", err)
	}
	err = db.Exec(
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s CHARACTER SET %s COLLATE %s_unicode_ci",
			p.databaseConfig.DatabaseName,
			p.databaseConfig.Charset,
			p.databaseConfig.Charset),
	).Error
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	dbDSN := p.buildDSN(true)
	db, err = gorm.Open(mysql.Open(dbDSN), dbConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	p.db = db

	p.log.Info("Database initialized successfully", logger.Fields{
		"database": p.databaseConfig.DatabaseName,
	})

	return nil
}

func (p *DatabasePlugin) buildDSN(includeDB bool) string {
	dbPart := "/"
	if includeDB {
		dbPart = "/" + p.databaseConfig.DatabaseName
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)%s?charset=%s&parseTime=True&loc=Local",
		p.databaseConfig.Username,
		p.databaseConfig.Password,
		p.databaseConfig.Host,
		p.databaseConfig.Port,
		dbPart,
		p.databaseConfig.Charset,
	)
}

func (p *DatabasePlugin) saveReport(report *models.ScanReport) error {
	if p.db == nil {
		p.log.Error("Database connection not initialized")
		return errors.New("database connection not initialized")
	}
	if report == nil {
		p.log.Error("Scan report is nil")
		return errors.New("scan report is nil")
	}
	result := report.Result
	if result == nil {
		p.log.Error("Scan report carries no result")
		return errors.New("scan report carries no result")
	}

	host := report.Target.Host
	if host == "" {
		host = result.Domain
	}
	record := ScanRecord{
		DiscoveryName:  report.DiscoveryName,
		RunnerName:     report.RunnerName,
		ScanID:         result.ScanID,
		Name:           report.Target.Name,
		Namespace:      report.Target.Namespace,
		Host:           host,
		URL:            result.URL,
		Verdict:        string(result.Verdict),
		OptOutFound:    result.Found,
		OptOutClicked:  result.Clicked,
		OptOutVerified: result.Verified,
		TotalRequests:  result.TotalRequests,
		Notes:          strings.Join(result.Notes, "; "),
		Duration:       result.Duration,
		Region:         p.databaseConfig.Region,
	}
	record.TrackersBefore = marshalJSONColumn(result.TrackersBefore)
	record.TrackersAfter = marshalJSONColumn(result.TrackersAfter)
	record.TikTokAfter = marshalJSONColumn(result.TikTokTrackersAfter)
	if len(result.FlaggedDomains) > 0 {
		if flaggedJSON, err := json.Marshal(result.FlaggedDomains); err == nil {
			flaggedStr := string(flaggedJSON)
			record.FlaggedDomains = &flaggedStr
		}
	}

	if err := p.db.Create(&record).Error; err != nil {
		p.log.Error("Failed to insert record", logger.Fields{
			"error":   err.Error(),
			"host":    record.Host,
			"scan_id": record.ScanID,
		})
		return err
	}

	p.log.Debug("Report saved successfully", logger.Fields{
		"host":    record.Host,
		"scan_id": record.ScanID,
		"verdict": record.Verdict,
	})

	return nil
}

// marshalJSONColumn renders a tracker list for a JSON column, keeping
// NULL when the list is empty.
func marshalJSONColumn(values []string) *string {
	if len(values) == 0 {
		return nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}
