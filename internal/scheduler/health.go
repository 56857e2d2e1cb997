package scheduler

import (
	"sort"
	"sync"
	"time"
)

const (
	healthMaxScore = 100
	healthMinScore = 0

	healthSuccessReward    = 5
	healthFailurePenalty   = 15
	healthRateLimitPenalty = 10

	// Passive recovery credited per full minute since the last update,
	// applied lazily on read so no background timer is needed.
	healthRecoveryPerMinute = 2
)

// healthState holds the bounded reputation score for one profile.
type healthState struct {
	score       int
	lastUpdated time.Time
}

// ScoredProfile pairs a profile with its current health score.
type ScoredProfile struct {
	ProfileID string
	Score     int
}

// HealthScorer maintains a bounded health score per profile. Unseen
// profiles implicitly start at the maximum score.
type HealthScorer struct {
	mutex      sync.Mutex
	profiles   map[string]*healthState
	tierWeight func(profileID string) int
	now        func() time.Time
}

// NewHealthScorer creates a HealthScorer. tierWeight is used only as the
// first tie-break when sorting equal scores; a nil func weighs every
// profile equally.
func NewHealthScorer(tierWeight func(profileID string) int) *HealthScorer {
	if tierWeight == nil {
		tierWeight = func(string) int { return 1 }
	}
	return &HealthScorer{
		profiles:   make(map[string]*healthState),
		tierWeight: tierWeight,
		now:        time.Now,
	}
}

// RecordSuccess rewards a profile for a successful call.
func (h *HealthScorer) RecordSuccess(profileID string) {
	h.adjust(profileID, healthSuccessReward)
}

// RecordFailure penalizes a profile for a failed call.
func (h *HealthScorer) RecordFailure(profileID string) {
	h.adjust(profileID, -healthFailurePenalty)
}

// RecordRateLimited applies the milder penalty for a rate-limited call.
func (h *HealthScorer) RecordRateLimited(profileID string) {
	h.adjust(profileID, -healthRateLimitPenalty)
}

// Score returns the profile's current score with passive recovery applied.
func (h *HealthScorer) Score(profileID string) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.currentScore(profileID)
}

// Reset restores a profile to the initial full score.
func (h *HealthScorer) Reset(profileID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.profiles[profileID] = &healthState{score: healthMaxScore, lastUpdated: h.now()}
}

// SortedByHealth returns the candidates paired with their current scores,
// ordered by score descending. Equal scores order by tier weight
// descending, then by profile ID ascending, so the ordering is fully
// deterministic.
func (h *HealthScorer) SortedByHealth(candidateIDs []string) []ScoredProfile {
	h.mutex.Lock()
	scored := make([]ScoredProfile, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		scored = append(scored, ScoredProfile{ProfileID: id, Score: h.currentScore(id)})
	}
	h.mutex.Unlock()

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		wi, wj := h.tierWeight(scored[i].ProfileID), h.tierWeight(scored[j].ProfileID)
		if wi != wj {
			return wi > wj
		}
		return scored[i].ProfileID < scored[j].ProfileID
	})

	return scored
}

// adjust applies a delta to a profile's score, after crediting passive
// recovery up to now.
func (h *HealthScorer) adjust(profileID string, delta int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	score := h.currentScore(profileID)
	h.profiles[profileID] = &healthState{
		score:       clampScore(score + delta),
		lastUpdated: h.now(),
	}
}

// currentScore returns the recovered score for a profile. Recovery is
// credited in whole minutes; the remainder stays pending by advancing
// lastUpdated only by the credited amount. Must be called with the lock
// held.
func (h *HealthScorer) currentScore(profileID string) int {
	state, ok := h.profiles[profileID]
	if !ok {
		return healthMaxScore
	}

	elapsed := h.now().Sub(state.lastUpdated)
	minutes := int(elapsed / time.Minute)
	if minutes > 0 && state.score < healthMaxScore {
		state.score = clampScore(state.score + minutes*healthRecoveryPerMinute)
		state.lastUpdated = state.lastUpdated.Add(time.Duration(minutes) * time.Minute)
	}

	return state.score
}

func clampScore(score int) int {
	if score > healthMaxScore {
		return healthMaxScore
	}
	if score < healthMinScore {
		return healthMinScore
	}
	return score
}
