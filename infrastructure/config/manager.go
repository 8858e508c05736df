package config

import (
	"errors"
	"fmt"
	"strings"
)

// Errors for config management
var (
	ErrTierNotFound = errors.New("quota tier not found")
	ErrDuplicateKey = errors.New("key already exists")
	ErrInvalidSize  = errors.New("invalid tier size")
)

// ConfigManager provides CRUD operations for config entries
type ConfigManager struct {
	config     *Config
	configPath string
}

// NewConfigManager creates a new config manager
func NewConfigManager(cfg *Config, configPath string) *ConfigManager {
	return &ConfigManager{
		config:     cfg,
		configPath: configPath,
	}
}

// Tier represents a quota tier entry
type Tier struct {
	Position int // evaluation order, first match wins
	Match    string
	GiB      int64
}

func normalizeMatch(match string) string {
	return strings.ToLower(strings.TrimSpace(match))
}

func (m *ConfigManager) findTier(match string) int {
	for i, t := range m.config.Quota.Tiers {
		if normalizeMatch(t.Match) == match {
			return i
		}
	}
	return -1
}

// --- Tier CRUD ---

// AddTier appends a tier; it is evaluated after every existing tier
func (m *ConfigManager) AddTier(match string, gib int64) error {
	match = normalizeMatch(match)
	if match == "" {
		return fmt.Errorf("tier match is required")
	}
	if gib <= 0 {
		return fmt.Errorf("%w: %d GiB", ErrInvalidSize, gib)
	}
	if m.findTier(match) >= 0 {
		return fmt.Errorf("%w: tier %q", ErrDuplicateKey, match)
	}

	m.config.Quota.Tiers = append(m.config.Quota.Tiers, TierConfig{Match: match, GiB: gib})
	return Save(m.config, m.configPath)
}

// ListTiers returns all tiers in evaluation order
func (m *ConfigManager) ListTiers() []Tier {
	result := make([]Tier, 0, len(m.config.Quota.Tiers))
	for i, t := range m.config.Quota.Tiers {
		result = append(result, Tier{Position: i + 1, Match: t.Match, GiB: t.GiB})
	}
	return result
}

// GetTier gets a tier by its match string (case-insensitive)
func (m *ConfigManager) GetTier(match string) (Tier, error) {
	match = normalizeMatch(match)
	if i := m.findTier(match); i >= 0 {
		t := m.config.Quota.Tiers[i]
		return Tier{Position: i + 1, Match: t.Match, GiB: t.GiB}, nil
	}
	return Tier{}, fmt.Errorf("%w: %q", ErrTierNotFound, match)
}

// RemoveTier removes a tier by its match string
func (m *ConfigManager) RemoveTier(match string) error {
	match = normalizeMatch(match)
	i := m.findTier(match)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrTierNotFound, match)
	}

	tiers := m.config.Quota.Tiers
	m.config.Quota.Tiers = append(tiers[:i:i], tiers[i+1:]...)
	return Save(m.config, m.configPath)
}

// UpdateTier changes a tier's allocation
func (m *ConfigManager) UpdateTier(match string, gib int64) error {
	match = normalizeMatch(match)
	i := m.findTier(match)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrTierNotFound, match)
	}
	if gib <= 0 {
		return fmt.Errorf("%w: %d GiB", ErrInvalidSize, gib)
	}

	m.config.Quota.Tiers[i].GiB = gib
	return Save(m.config, m.configPath)
}

// SetDefaultAllocation sets the allocation for memberships no tier matches
func (m *ConfigManager) SetDefaultAllocation(bytes int64) error {
	if bytes < 0 {
		return fmt.Errorf("%w: %d bytes", ErrInvalidSize, bytes)
	}
	m.config.Quota.DefaultAllocationBytes = bytes
	return Save(m.config, m.configPath)
}
