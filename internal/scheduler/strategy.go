package scheduler

// Strategy selects how candidate profiles are ordered for a request.
type Strategy string

const (
	// StrategyHybrid orders available profiles by health and parks
	// rate-limited ones at the tail, soonest-to-recover first.
	StrategyHybrid Strategy = "hybrid"

	// StrategySticky prefers the profile that served the previous request
	// for the same model, falling back to hybrid ordering.
	StrategySticky Strategy = "sticky"

	// StrategyRoundRobin rotates through candidates in a fixed cyclic
	// order, ignoring health scores.
	StrategyRoundRobin Strategy = "round-robin"
)

// ParseStrategy converts a configuration string into a Strategy,
// defaulting to hybrid for unrecognized values.
func ParseStrategy(s string) Strategy {
	switch Strategy(s) {
	case StrategySticky, StrategyRoundRobin:
		return Strategy(s)
	default:
		return StrategyHybrid
	}
}
