package scheduler

import "time"

const (
	// minBackoff is the floor applied to every computed delay so a
	// zero/near-zero backoff loop can never form.
	minBackoff = 500 * time.Millisecond

	// extendedCooldown replaces the per-class delay once an account has
	// failed extendedThreshold times in a row, regardless of error class.
	extendedCooldown  = 300 * time.Second
	extendedThreshold = 3

	// maxTrackedFailures caps the stored consecutive-failure counter. The
	// extended cooldown already fires from extendedThreshold on; the cap
	// only keeps the counter bounded.
	maxTrackedFailures = 8

	// MaxAcceptableWait is the caller-visible ceiling on how long waiting
	// out cooldowns is worth it. The backoff policy does not enforce it;
	// a retry loop that finds every candidate above this should fail the
	// request instead of waiting.
	MaxAcceptableWait = 120 * time.Second
)

// Base delay per error class.
var baseDelays = map[ErrorClass]time.Duration{
	ErrorRateLimitExceeded:      5 * time.Second,
	ErrorQuotaExhausted:         60 * time.Second,
	ErrorModelCapacityExhausted: 10 * time.Second,
	ErrorServerError:            2 * time.Second,
	ErrorUnknown:                5 * time.Second,
}

// Progressive tiers for capacity exhaustion, indexed by
// min(consecutiveFailures, 3).
var capacityTiers = [4]time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
}

// Progressive tiers for quota exhaustion: 1min → 5min → 30min → 2h.
var quotaTiers = [4]time.Duration{
	60 * time.Second,
	300 * time.Second,
	1800 * time.Second,
	7200 * time.Second,
}

// classDelay returns the per-class delay for the given consecutive-failure
// count, before the extended-cooldown override is considered.
func classDelay(class ErrorClass, consecutiveFailures int) time.Duration {
	tier := consecutiveFailures
	if tier > 3 {
		tier = 3
	}
	if tier < 0 {
		tier = 0
	}

	switch class {
	case ErrorModelCapacityExhausted:
		return capacityTiers[tier]
	case ErrorQuotaExhausted:
		return quotaTiers[tier]
	}

	if delay, ok := baseDelays[class]; ok {
		return delay
	}
	return baseDelays[ErrorUnknown]
}

// BackoffDelay computes the cooldown for a failure of the given class,
// where consecutiveFailures counts the failures recorded for the
// (profile, model) pair before this one.
//
// The extended-cooldown override wins over the per-class tier tables: once
// the pair has already failed three times in a row, every further failure
// cools down for exactly 300s, even where the quota tier table would have
// produced a longer delay. This stops a chronically failing account from
// being hammered without parking it for hours at a time.
func BackoffDelay(class ErrorClass, consecutiveFailures int) time.Duration {
	var delay time.Duration
	if consecutiveFailures >= extendedThreshold {
		delay = extendedCooldown
	} else {
		delay = classDelay(class, consecutiveFailures)
	}

	if delay < minBackoff {
		delay = minBackoff
	}
	return delay
}
