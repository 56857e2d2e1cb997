package scheduler

import (
	"sync"
	"time"
)

const (
	// dedupWindow collapses near-simultaneous failure reports for the same
	// (profile, model) pair into a single state update, so a burst of
	// concurrent requests failing against one exhausted account cannot
	// each re-extend the cooldown.
	dedupWindow = 2 * time.Second

	// inactivityReset treats a pair as freshly seen when this much time
	// has passed since its last recorded failure, so stale history cannot
	// trigger the extended cooldown prematurely.
	inactivityReset = 60 * time.Second

	// Idle entries older than gcIdleAfter are dropped opportunistically
	// once the map grows past gcThreshold entries.
	gcIdleAfter = 10 * time.Minute
	gcThreshold = 512
)

type pairKey struct {
	profileID string
	modelID   string
}

// RateLimitState is a snapshot of the cooldown state for one
// (profile, model) pair.
type RateLimitState struct {
	ProfileID           string     `json:"profile_id"`
	ModelID             string     `json:"model_id"`
	CooldownUntil       time.Time  `json:"cooldown_until"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastFailureAt       time.Time  `json:"last_failure_at"`
	LastErrorClass      ErrorClass `json:"last_error_class"`
}

type rateLimitEntry struct {
	cooldownUntil       time.Time
	consecutiveFailures int
	lastFailureAt       time.Time
	lastErrorClass      ErrorClass
}

// RateLimitTracker maintains per-(profile, model) cooldown state. Entries
// are created lazily on the first failure report and garbage-collected
// opportunistically once stale.
type RateLimitTracker struct {
	mutex sync.Mutex
	pairs map[pairKey]*rateLimitEntry
	now   func() time.Time

	// 未分类失败的冷却时长，0表示使用UNKNOWN类的内置延迟
	defaultCooldown time.Duration
}

// NewRateLimitTracker creates an empty tracker.
func NewRateLimitTracker() *RateLimitTracker {
	return &RateLimitTracker{
		pairs: make(map[pairKey]*rateLimitEntry),
		now:   time.Now,
	}
}

// SetDefaultCooldown overrides the cooldown applied to UNKNOWN-class
// failures before the extended-cooldown override takes effect.
func (t *RateLimitTracker) SetDefaultCooldown(d time.Duration) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.defaultCooldown = d
}

// IsRateLimited reports whether the pair is currently cooling down.
func (t *RateLimitTracker) IsRateLimited(profileID, modelID string) bool {
	return t.CooldownRemaining(profileID, modelID) > 0
}

// CooldownRemaining returns how long the pair remains unavailable, or 0.
func (t *RateLimitTracker) CooldownRemaining(profileID, modelID string) time.Duration {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	entry, ok := t.pairs[pairKey{profileID, modelID}]
	if !ok {
		return 0
	}
	remaining := entry.cooldownUntil.Sub(t.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// MarkRateLimited records a failure of the given class for the pair and
// starts (or extends) its cooldown. Reports within the dedup window of the
// previous failure are no-ops. Returns the applied cooldown and whether
// the report was recorded.
func (t *RateLimitTracker) MarkRateLimited(profileID, modelID string, class ErrorClass) (time.Duration, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	now := t.now()
	key := pairKey{profileID, modelID}
	entry, ok := t.pairs[key]
	if !ok {
		entry = &rateLimitEntry{}
		t.pairs[key] = entry
		t.maybeGC(now)
	}

	if !entry.lastFailureAt.IsZero() {
		since := now.Sub(entry.lastFailureAt)
		if since < dedupWindow {
			// 去重窗口内的重复上报，吸收并发请求的雪崩效应
			return entry.cooldownUntil.Sub(now), false
		}
		if since > inactivityReset {
			// 长时间无失败，按全新账号对处理
			entry.consecutiveFailures = 0
		}
	}

	delay := BackoffDelay(class, entry.consecutiveFailures)
	if class == ErrorUnknown && t.defaultCooldown > 0 && entry.consecutiveFailures < extendedThreshold {
		delay = t.defaultCooldown
		if delay < minBackoff {
			delay = minBackoff
		}
	}
	if entry.consecutiveFailures < maxTrackedFailures {
		entry.consecutiveFailures++
	}
	entry.cooldownUntil = now.Add(delay)
	entry.lastFailureAt = now
	entry.lastErrorClass = class

	return delay, true
}

// ConsecutiveFailures returns the pair's current failure counter.
func (t *RateLimitTracker) ConsecutiveFailures(profileID, modelID string) int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	entry, ok := t.pairs[pairKey{profileID, modelID}]
	if !ok {
		return 0
	}
	return entry.consecutiveFailures
}

// MarkSuccess clears the pair's cooldown and failure history.
func (t *RateLimitTracker) MarkSuccess(profileID, modelID string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	entry, ok := t.pairs[pairKey{profileID, modelID}]
	if !ok {
		return
	}
	entry.cooldownUntil = time.Time{}
	entry.consecutiveFailures = 0
}

// ResetProfile clears all cooldown state for one profile across models.
func (t *RateLimitTracker) ResetProfile(profileID string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	for key := range t.pairs {
		if key.profileID == profileID {
			delete(t.pairs, key)
		}
	}
}

// States returns a snapshot of all tracked pairs for one profile, or for
// every profile when profileID is empty.
func (t *RateLimitTracker) States(profileID string) []RateLimitState {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	states := make([]RateLimitState, 0, len(t.pairs))
	for key, entry := range t.pairs {
		if profileID != "" && key.profileID != profileID {
			continue
		}
		states = append(states, RateLimitState{
			ProfileID:           key.profileID,
			ModelID:             key.modelID,
			CooldownUntil:       entry.cooldownUntil,
			ConsecutiveFailures: entry.consecutiveFailures,
			LastFailureAt:       entry.lastFailureAt,
			LastErrorClass:      entry.lastErrorClass,
		})
	}
	return states
}

// maybeGC drops entries that carry no active cooldown and have been idle
// past gcIdleAfter. Called with the lock held, only when the map has grown
// past gcThreshold.
func (t *RateLimitTracker) maybeGC(now time.Time) {
	if len(t.pairs) < gcThreshold {
		return
	}
	for key, entry := range t.pairs {
		if entry.cooldownUntil.Before(now) && now.Sub(entry.lastFailureAt) > gcIdleAfter {
			delete(t.pairs, key)
		}
	}
}
