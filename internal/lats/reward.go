package lats

// RewardConfig holds the weights the reward function applies. Defaults
// match the values the search has been tuned against.
type RewardConfig struct {
	CoverageWeight  float64
	CompileBonus    float64
	CompilePenalty  float64
	ConditionWeight float64
	SizePenalty     float64
	EarlyBonus      float64
	ClipMin         float64
	ClipMax         float64
}

// DefaultRewardConfig returns the documented default weights.
func DefaultRewardConfig() RewardConfig {
	return RewardConfig{
		CoverageWeight:  10,
		CompileBonus:    2,
		CompilePenalty:  -1,
		ConditionWeight: 0.5,
		SizePenalty:     -0.1,
		EarlyBonus:      3,
		ClipMin:         -5,
		ClipMax:         15,
	}
}

// Reward computes the weighted-sum reward for a transition from old to new
// state under the observed execution result, clipped to [ClipMin, ClipMax].
// It is pure and deterministic in its inputs.
func (c RewardConfig) Reward(old, next *TestState, result ExecutionResult) float64 {
	r := c.CoverageWeight * (next.CurrentCoverage - old.CurrentCoverage)

	if result.Compiled {
		r += c.CompileBonus
	} else {
		r += c.CompilePenalty
	}

	r += c.ConditionWeight * float64(old.UncoveredConditions.Len()-next.UncoveredConditions.Len())
	r += c.SizePenalty * float64(len(next.SuiteNames))

	if len(old.SuiteNames) == 0 && result.Compiled && next.CurrentCoverage > old.CurrentCoverage {
		r += c.EarlyBonus
	}

	if r < c.ClipMin {
		return c.ClipMin
	}
	if r > c.ClipMax {
		return c.ClipMax
	}
	return r
}

// TerminalBonus scores a state that has reached its coverage target.
// Reserved for the final best-node score summary; it is never folded into
// backpropagated rewards.
func TerminalBonus(state *TestState) float64 {
	if state.CurrentCoverage < state.CoverageTarget {
		return 0
	}
	return 5 + 10*(state.CurrentCoverage-state.CoverageTarget)
}
