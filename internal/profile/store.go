// Package profile 提供凭据账号的只读元数据视图
// 调度器只通过该视图读取账号ID和等级，凭据本身由外部仓库持有
package profile

import (
	"sync"

	"llm-scheduler/config"
)

// Tier classifies an account by its subscription level. The scheduler uses
// it only as a scoring weight and tie-break.
type Tier string

const (
	TierUltra   Tier = "ultra"
	TierPro     Tier = "pro"
	TierFree    Tier = "free"
	TierUnknown Tier = "unknown"
)

// Weight returns the scoring weight for a tier.
func (t Tier) Weight() int {
	switch t {
	case TierUltra:
		return 3
	case TierPro:
		return 2
	default:
		return 1
	}
}

// ParseTier converts a configuration string into a Tier, falling back to
// TierUnknown for unrecognized values.
func ParseTier(s string) Tier {
	switch Tier(s) {
	case TierUltra, TierPro, TierFree:
		return Tier(s)
	default:
		return TierUnknown
	}
}

// Profile is one authenticated account usable for a provider.
type Profile struct {
	ID   string
	Tier Tier
}

// Store exposes profile metadata per provider.
type Store interface {
	// Profiles returns all profiles configured for a provider.
	Profiles(provider string) []Profile

	// Lookup returns the profile with the given id, if configured.
	Lookup(provider, id string) (Profile, bool)
}

// ConfigStore is a Store backed by the YAML configuration. It supports hot
// reload via UpdateConfig.
type ConfigStore struct {
	mutex    sync.RWMutex
	byName   map[string][]Profile
	byLookup map[string]map[string]Profile
}

// NewConfigStore creates a ConfigStore from the given configuration.
func NewConfigStore(cfg *config.Config) *ConfigStore {
	s := &ConfigStore{}
	s.UpdateConfig(cfg)
	return s
}

// UpdateConfig replaces the store contents with the given configuration.
func (s *ConfigStore) UpdateConfig(cfg *config.Config) {
	byName := make(map[string][]Profile)
	byLookup := make(map[string]map[string]Profile)

	for _, provider := range cfg.Providers {
		profiles := make([]Profile, 0, len(provider.Profiles))
		lookup := make(map[string]Profile, len(provider.Profiles))
		for _, pc := range provider.Profiles {
			p := Profile{ID: pc.ID, Tier: ParseTier(pc.Tier)}
			profiles = append(profiles, p)
			lookup[p.ID] = p
		}
		byName[provider.Name] = profiles
		byLookup[provider.Name] = lookup
	}

	s.mutex.Lock()
	s.byName = byName
	s.byLookup = byLookup
	s.mutex.Unlock()
}

// Profiles returns all profiles configured for a provider.
func (s *ConfigStore) Profiles(provider string) []Profile {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	profiles := s.byName[provider]
	result := make([]Profile, len(profiles))
	copy(result, profiles)
	return result
}

// Lookup returns the profile with the given id, if configured.
func (s *ConfigStore) Lookup(provider, id string) (Profile, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	lookup, ok := s.byLookup[provider]
	if !ok {
		return Profile{}, false
	}
	p, ok := lookup[id]
	return p, ok
}

// Providers returns the names of all configured providers.
func (s *ConfigStore) Providers() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	return names
}
