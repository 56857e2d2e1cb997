package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"llm-scheduler/internal/events"
	"llm-scheduler/internal/profile"
	"llm-scheduler/internal/tracking"
)

// Registry caches one AccountManager per provider for the lifetime of the
// process. It is an explicit object owned by the scheduling subsystem, not
// a package-level singleton, so tests can create and reset isolated
// instances.
type Registry struct {
	mutex    sync.RWMutex
	managers map[string]*AccountManager
	group    singleflight.Group

	store           profile.Store
	eventBus        events.EventBus
	tracker         *tracking.OutcomeTracker
	defaultCooldown time.Duration
}

// NewRegistry creates an empty registry bound to the given profile store.
// eventBus may be nil; managers then skip event publishing.
func NewRegistry(store profile.Store, eventBus events.EventBus) *Registry {
	return &Registry{
		managers: make(map[string]*AccountManager),
		store:    store,
		eventBus: eventBus,
	}
}

// SetOutcomeTracker attaches the outcome tracker applied to every manager
// created afterwards. Call before the first request reaches the registry.
func (r *Registry) SetOutcomeTracker(tracker *tracking.OutcomeTracker) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.tracker = tracker
}

// SetDefaultCooldown sets the UNKNOWN-class cooldown applied to every
// manager created afterwards.
func (r *Registry) SetDefaultCooldown(d time.Duration) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.defaultCooldown = d
}

// Manager returns the AccountManager for a provider, creating it on first
// use. Concurrent first requests for the same provider construct exactly
// one manager.
func (r *Registry) Manager(provider string) *AccountManager {
	r.mutex.RLock()
	manager, ok := r.managers[provider]
	r.mutex.RUnlock()
	if ok {
		return manager
	}

	v, _, _ := r.group.Do(provider, func() (interface{}, error) {
		// Double-check under the write path: another caller may have won
		// an earlier singleflight round.
		r.mutex.Lock()
		defer r.mutex.Unlock()
		if existing, ok := r.managers[provider]; ok {
			return existing, nil
		}

		manager := NewAccountManager(provider, r.store)
		manager.SetEventBus(r.eventBus)
		manager.SetOutcomeTracker(r.tracker)
		if r.defaultCooldown > 0 {
			manager.SetDefaultCooldown(r.defaultCooldown)
		}
		r.managers[provider] = manager

		slog.Info(fmt.Sprintf("🏗️ [账号调度] 创建供应商账号管理器: %s", provider))
		return manager, nil
	})

	return v.(*AccountManager)
}

// Peek returns the manager for a provider only if it already exists.
func (r *Registry) Peek(provider string) (*AccountManager, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	manager, ok := r.managers[provider]
	return manager, ok
}

// Providers returns the providers that currently have a manager.
func (r *Registry) Providers() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	providers := make([]string, 0, len(r.managers))
	for name := range r.managers {
		providers = append(providers, name)
	}
	return providers
}

// Reset drops every cached manager. Intended for tests and operator
// resets; in-flight references to old managers stay valid.
func (r *Registry) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.managers = make(map[string]*AccountManager)
}
