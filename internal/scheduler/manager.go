package scheduler

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"llm-scheduler/internal/events"
	"llm-scheduler/internal/profile"
	"llm-scheduler/internal/tracking"
	"llm-scheduler/internal/utils"
)

// stickyMinScore is the lowest health score at which the sticky strategy
// still considers the previous profile worth reusing.
const stickyMinScore = 50

// AccountManager composes the health scorer, rate-limit tracker and
// backoff policy for a single provider. One instance exists per provider
// for the lifetime of the process.
type AccountManager struct {
	provider string
	store    profile.Store
	health   *HealthScorer
	limits   *RateLimitTracker

	// EventBus for decoupled event publishing
	eventBus events.EventBus

	// 结果跟踪器，未启用时为nil
	tracker *tracking.OutcomeTracker

	// sticky strategy: profile used for the previous request per model
	stickyMutex sync.Mutex
	lastUsed    map[string]string

	// round-robin strategy: rotation pointer, advanced on every call
	rrMutex   sync.Mutex
	rrCounter uint64
}

// ProfileStatus is a snapshot of one profile's scheduler state, used by
// the web interface.
type ProfileStatus struct {
	ProfileID string           `json:"profile_id"`
	Tier      profile.Tier     `json:"tier"`
	Score     int              `json:"score"`
	Pairs     []RateLimitState `json:"pairs,omitempty"`
}

// NewAccountManager creates the manager for one provider, bound to the
// given profile store.
func NewAccountManager(provider string, store profile.Store) *AccountManager {
	m := &AccountManager{
		provider: provider,
		store:    store,
		limits:   NewRateLimitTracker(),
		lastUsed: make(map[string]string),
	}
	m.health = NewHealthScorer(func(profileID string) int {
		if p, ok := store.Lookup(provider, profileID); ok {
			return p.Tier.Weight()
		}
		return profile.TierUnknown.Weight()
	})
	return m
}

// SetEventBus 设置EventBus事件总线
func (m *AccountManager) SetEventBus(eventBus events.EventBus) {
	m.eventBus = eventBus
}

// SetOutcomeTracker 设置结果跟踪器
func (m *AccountManager) SetOutcomeTracker(tracker *tracking.OutcomeTracker) {
	m.tracker = tracker
}

// SetDefaultCooldown 设置未分类失败的冷却时长
func (m *AccountManager) SetDefaultCooldown(d time.Duration) {
	m.limits.SetDefaultCooldown(d)
}

// Provider returns the provider this manager schedules for.
func (m *AccountManager) Provider() string {
	return m.provider
}

// OnSuccess reports a successful call for the (profile, model) pair. The
// cooldown clears, the health score is rewarded and the profile becomes
// the sticky preference for the model.
func (m *AccountManager) OnSuccess(profileID, modelID string) {
	wasLimited := m.limits.IsRateLimited(profileID, modelID)

	m.health.RecordSuccess(profileID)
	m.limits.MarkSuccess(profileID, modelID)

	m.stickyMutex.Lock()
	m.lastUsed[modelID] = profileID
	m.stickyMutex.Unlock()

	if m.tracker != nil {
		m.tracker.Record(tracking.OutcomeRecord{
			Provider:  m.provider,
			ProfileID: profileID,
			ModelID:   modelID,
			Outcome:   "success",
		})
	}

	if wasLimited {
		slog.Info(fmt.Sprintf("✅ [账号调度] 账号恢复可用: %s (供应商: %s, 模型: %s)",
			profileID, m.provider, modelID))
		m.publish(events.EventProfileRecovered, events.PriorityHigh, map[string]interface{}{
			"provider": m.provider,
			"profile":  profileID,
			"model":    modelID,
		})
	}
}

// OnFailure reports a failed call for the (profile, model) pair with its
// caller-resolved error class. The health score is penalized and the pair
// enters (or extends) a cooldown computed by the backoff policy.
func (m *AccountManager) OnFailure(profileID, modelID string, class ErrorClass) {
	if class.IsRateLimit() {
		m.health.RecordRateLimited(profileID)
	} else {
		m.health.RecordFailure(profileID)
	}

	delay, recorded := m.limits.MarkRateLimited(profileID, modelID, class)
	if !recorded {
		slog.Debug(fmt.Sprintf("🔁 [账号调度] 去重窗口内的重复失败上报，忽略: %s (模型: %s)",
			profileID, modelID))
		return
	}

	slog.Warn(fmt.Sprintf("❄️ [账号调度] 账号进入冷却: %s (供应商: %s, 模型: %s, 错误: %s, 冷却: %s, 健康分: %d)",
		profileID, m.provider, modelID, class, utils.FormatDuration(delay), m.health.Score(profileID)))

	if m.tracker != nil {
		m.tracker.Record(tracking.OutcomeRecord{
			Provider:            m.provider,
			ProfileID:           profileID,
			ModelID:             modelID,
			Outcome:             "failure",
			ErrorClass:          string(class),
			CooldownMs:          delay.Milliseconds(),
			ConsecutiveFailures: m.limits.ConsecutiveFailures(profileID, modelID),
		})
	}

	m.publish(events.EventProfileRateLimited, events.PriorityHigh, map[string]interface{}{
		"provider":    m.provider,
		"profile":     profileID,
		"model":       modelID,
		"error_class": string(class),
		"cooldown":    utils.FormatDuration(delay),
		"score":       m.health.Score(profileID),
	})
}

// CooldownRemaining returns how long the (profile, model) pair remains in
// cooldown, for retry loops deciding whether to wait, switch or give up.
func (m *AccountManager) CooldownRemaining(profileID, modelID string) time.Duration {
	return m.limits.CooldownRemaining(profileID, modelID)
}

// OrderCandidates orders the candidate profiles for a request against
// modelID per the strategy. The result contains exactly the unique
// candidates from the input, never profiles the caller did not supply.
// A preferred profile present in the candidate set is always forced to
// the front, overriding the strategy's own placement.
func (m *AccountManager) OrderCandidates(candidateIDs []string, modelID string, strategy Strategy, preferred string) []string {
	candidates := dedupe(candidateIDs)
	if len(candidates) == 0 {
		return candidates
	}

	var ordered []string
	switch strategy {
	case StrategyRoundRobin:
		ordered = m.orderRoundRobin(candidates, modelID)
	case StrategySticky:
		ordered = m.orderSticky(candidates, modelID)
	default:
		ordered = m.orderHybrid(candidates, modelID)
	}

	if preferred != "" {
		ordered = moveToFront(ordered, preferred)
	}
	return ordered
}

// orderHybrid partitions candidates into available and rate-limited,
// sorts the available ones by health descending and appends the limited
// ones soonest-to-recover first.
func (m *AccountManager) orderHybrid(candidates []string, modelID string) []string {
	var available, limited []string
	for _, id := range candidates {
		if m.limits.IsRateLimited(id, modelID) {
			limited = append(limited, id)
		} else {
			available = append(available, id)
		}
	}

	result := make([]string, 0, len(candidates))
	for _, sp := range m.health.SortedByHealth(available) {
		result = append(result, sp.ProfileID)
	}

	sort.SliceStable(limited, func(i, j int) bool {
		ri := m.limits.CooldownRemaining(limited[i], modelID)
		rj := m.limits.CooldownRemaining(limited[j], modelID)
		if ri != rj {
			return ri < rj
		}
		return limited[i] < limited[j]
	})
	result = append(result, limited...)

	return result
}

// orderSticky reuses the profile that served the previous request for the
// same model when it is still healthy and not rate-limited, then falls
// back to hybrid ordering for the remainder.
func (m *AccountManager) orderSticky(candidates []string, modelID string) []string {
	m.stickyMutex.Lock()
	last := m.lastUsed[modelID]
	m.stickyMutex.Unlock()

	ordered := m.orderHybrid(candidates, modelID)
	if last == "" || !contains(ordered, last) {
		return ordered
	}
	if m.limits.IsRateLimited(last, modelID) || m.health.Score(last) < stickyMinScore {
		return ordered
	}

	return moveToFront(ordered, last)
}

// orderRoundRobin rotates strictly through the candidates, advancing the
// pointer on every call and parking currently rate-limited candidates at
// the tail of the rotation. Health scores are ignored.
func (m *AccountManager) orderRoundRobin(candidates []string, modelID string) []string {
	m.rrMutex.Lock()
	start := int(m.rrCounter % uint64(len(candidates)))
	m.rrCounter++
	m.rrMutex.Unlock()

	var rotation, limited []string
	for i := 0; i < len(candidates); i++ {
		id := candidates[(start+i)%len(candidates)]
		if m.limits.IsRateLimited(id, modelID) {
			limited = append(limited, id)
		} else {
			rotation = append(rotation, id)
		}
	}
	return append(rotation, limited...)
}

// Status returns a snapshot of every configured profile's health score and
// cooldown pairs for the web interface.
func (m *AccountManager) Status() []ProfileStatus {
	profiles := m.store.Profiles(m.provider)
	statuses := make([]ProfileStatus, 0, len(profiles))
	for _, p := range profiles {
		statuses = append(statuses, ProfileStatus{
			ProfileID: p.ID,
			Tier:      p.Tier,
			Score:     m.health.Score(p.ID),
			Pairs:     m.limits.States(p.ID),
		})
	}
	return statuses
}

// Reset restores one profile to full health and clears its cooldowns
// across all models. Used by the operator reset endpoint.
func (m *AccountManager) Reset(profileID string) {
	m.health.Reset(profileID)
	m.limits.ResetProfile(profileID)

	slog.Info(fmt.Sprintf("🔄 [账号调度] 手动重置账号状态: %s (供应商: %s)", profileID, m.provider))
	m.publish(events.EventProfileRecovered, events.PriorityHigh, map[string]interface{}{
		"provider": m.provider,
		"profile":  profileID,
		"reset":    true,
	})
}

// publish 通过EventBus发布调度事件，未设置EventBus时静默跳过
func (m *AccountManager) publish(eventType events.EventType, priority events.EventPriority, data map[string]interface{}) {
	if m.eventBus == nil {
		return
	}
	m.eventBus.Publish(events.Event{
		Type:     eventType,
		Source:   "account_manager",
		Priority: priority,
		Data:     data,
	})
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		result = append(result, id)
	}
	return result
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func moveToFront(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			result := make([]string, 0, len(ids))
			result = append(result, id)
			result = append(result, ids[:i]...)
			result = append(result, ids[i+1:]...)
			return result
		}
	}
	return ids
}
