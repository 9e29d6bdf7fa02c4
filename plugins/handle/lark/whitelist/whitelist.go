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

package whitelist

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// defaultHostTTL bounds host entries when the plugin config does not
// set host_timeout_hour.
const defaultHostTTL = 7 * 24 * time.Hour

type WhitelistType string

const (
	WhitelistTypeNamespace WhitelistType = "namespace"
	WhitelistTypeHost      WhitelistType = "host"
)

// Whitelist suppresses violation alerts for resources an operator has
// accepted. Namespace entries never expire, host entries do.
type Whitelist struct {
	ID        uint          `gorm:"primaryKey"     json:"id"`
	Region    string        `                      json:"region"`
	Name      string        `gorm:"not null;index" json:"name"`
	Namespace string        `gorm:"index"          json:"namespace"`
	Hostname  string        `gorm:"index"          json:"hostname"`
	Type      WhitelistType `gorm:"not null;index" json:"type"`
	Remark    string        `gorm:"type:text"      json:"remark"`
	CreatedAt time.Time     `                      json:"created_at"`
	UpdatedAt time.Time     `                      json:"updated_at"`
}

func (Whitelist) TableName() string {
	return "whitelists"
}

type WhitelistService struct {
	db      *gorm.DB
	hostTTL time.Duration
}

// NewWhitelistService wraps a whitelist table. A nil db is allowed and
// turns every lookup into a miss, which is how the notifier runs when
// the whitelist is disabled.
func NewWhitelistService(db *gorm.DB, hostTTL time.Duration) *WhitelistService {
	if hostTTL <= 0 {
		hostTTL = defaultHostTTL
	}
	return &WhitelistService{db: db, hostTTL: hostTTL}
}

// lookup runs a silenced query and maps "no rows" to a plain miss.
func (s *WhitelistService) lookup(query string, args ...any) (*Whitelist, error) {
	if s.db == nil {
		return nil, nil
	}
	var entry Whitelist
	err := s.db.Session(&gorm.Session{Logger: logger.Discard}).
		Model(&Whitelist{}).
		Where(query, args...).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *WhitelistService) IsNamespaceWhitelisted(
	namespace, region string,
) (bool, *Whitelist, error) {
	entry, err := s.lookup(
		"namespace = ? AND type = ? AND region = ?",
		namespace, WhitelistTypeNamespace, region,
	)
	return entry != nil, entry, err
}

// IsHostWhitelisted only honors entries younger than the host TTL, so a
// one-off exemption cannot mute a site forever.
func (s *WhitelistService) IsHostWhitelisted(host, region string) (bool, *Whitelist, error) {
	cutoff := time.Now().Add(-s.hostTTL)
	entry, err := s.lookup(
		"hostname = ? AND type = ? AND region = ? AND created_at > ?",
		host, WhitelistTypeHost, region, cutoff,
	)
	return entry != nil, entry, err
}

// IsWhitelisted checks the namespace entry first since it is the
// broader grant, then falls back to the per-host entry.
func (s *WhitelistService) IsWhitelisted(namespace, host, region string) (bool, *Whitelist, error) {
	if namespace != "" {
		ok, entry, err := s.IsNamespaceWhitelisted(namespace, region)
		if err != nil || ok {
			return ok, entry, err
		}
	}
	if host != "" {
		return s.IsHostWhitelisted(host, region)
	}
	return false, nil, nil
}

func (s *WhitelistService) AddNamespaceWhitelist(name, namespace, region, remark string) error {
	if s.db == nil {
		return gorm.ErrInvalidDB
	}
	return s.db.Create(&Whitelist{
		Name:      name,
		Namespace: namespace,
		Region:    region,
		Type:      WhitelistTypeNamespace,
		Remark:    remark,
	}).Error
}

func (s *WhitelistService) AddHostWhitelist(name, hostname, region, remark string) error {
	if s.db == nil {
		return gorm.ErrInvalidDB
	}
	return s.db.Create(&Whitelist{
		Name:     name,
		Hostname: hostname,
		Region:   region,
		Type:     WhitelistTypeHost,
		Remark:   remark,
	}).Error
}

func (s *WhitelistService) GetAllWhitelists() ([]Whitelist, error) {
	if s.db == nil {
		return nil, gorm.ErrInvalidDB
	}
	var entries []Whitelist
	err := s.db.Order("created_at desc").Find(&entries).Error
	return entries, err
}
