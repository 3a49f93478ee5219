// Package lats implements the Language-Agent Tree Search engine: the tree
// and state model, UCB1 selection, adaptive expansion/simulation, reward
// computation, backpropagation and termination for synthesizing a minimal
// test suite that reaches a target MC/DC coverage ratio for one function.
package lats

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ConditionInfo is an obligation to exercise one atomic Boolean
// sub-expression both TRUE and FALSE (as required) for MC/DC coverage.
// Equality and hashing consider all four fields, which is what makes a
// ConditionInfo usable as a set element in uncoveredConditions.
type ConditionInfo struct {
	Expression     string
	NeedTrue       bool
	NeedFalse      bool
	ParentDecision string
}

// key returns the identity used for set membership and map keys.
func (c ConditionInfo) key() string {
	return fmt.Sprintf("%s\x00%t\x00%t\x00%s", c.Expression, c.NeedTrue, c.NeedFalse, c.ParentDecision)
}

// ConditionSet is an insertion-ordered set of ConditionInfo, preserving the
// order conditions were discovered since prompts surface the first few.
type ConditionSet struct {
	order []ConditionInfo
	index map[string]int
}

// NewConditionSet builds a set from a sequence, deduplicating by key.
func NewConditionSet(conditions []ConditionInfo) *ConditionSet {
	s := &ConditionSet{index: make(map[string]int, len(conditions))}
	for _, c := range conditions {
		s.Add(c)
	}
	return s
}

// Add inserts c if not already present. Returns true if it was newly added.
func (s *ConditionSet) Add(c ConditionInfo) bool {
	k := c.key()
	if _, ok := s.index[k]; ok {
		return false
	}
	s.index[k] = len(s.order)
	s.order = append(s.order, c)
	return true
}

// Remove deletes every member of other from s, in place.
func (s *ConditionSet) Remove(other []ConditionInfo) {
	if len(other) == 0 || len(s.order) == 0 {
		return
	}
	drop := make(map[string]bool, len(other))
	for _, c := range other {
		drop[c.key()] = true
	}
	kept := s.order[:0:0]
	for _, c := range s.order {
		if !drop[c.key()] {
			kept = append(kept, c)
		}
	}
	s.order = kept
	s.index = make(map[string]int, len(kept))
	for i, c := range kept {
		s.index[c.key()] = i
	}
}

// Len returns the number of conditions currently in the set.
func (s *ConditionSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Items returns the conditions in insertion order. Callers must not mutate
// the returned slice.
func (s *ConditionSet) Items() []ConditionInfo {
	if s == nil {
		return nil
	}
	return s.order
}

// Clone returns an independent copy so descendants never alias a parent's set.
func (s *ConditionSet) Clone() *ConditionSet {
	if s == nil {
		return NewConditionSet(nil)
	}
	cp := make([]ConditionInfo, len(s.order))
	copy(cp, s.order)
	return NewConditionSet(cp)
}

// CoverageBreakdown holds the three coverage ratios the executor reports.
type CoverageBreakdown struct {
	Statement float64
	Branch    float64
	MCDC      float64
}

// ExecutionResult is the outcome of submitting one candidate test to the
// coverage executor. Coverage values are cumulative over the whole suite,
// not per-test. If Compiled is false, SuiteNames MUST equal the suite that
// was passed into the call: the failed test is never appended.
type ExecutionResult struct {
	NewTestName          string
	Compiled             bool
	Error                string
	SuiteNames           []string
	StatementCoverage    float64
	BranchCoverage       float64
	MCDCCoverage         float64
	ConditionsNowCovered []ConditionInfo
}

// Failed reports whether the candidate did not compile or run.
func (r ExecutionResult) Failed() bool { return !r.Compiled }

// PrimaryCoverage is the coverage metric the search optimizes: MC/DC.
func (r ExecutionResult) PrimaryCoverage() float64 { return r.MCDCCoverage }

// TestState is a node's immutable snapshot: the suite it has accumulated,
// the coverage that suite achieves, and what remains uncovered.
type TestState struct {
	// Immutable context, copied unchanged into every descendant.
	FunctionSignature string
	FunctionPath      string
	Context           string
	CoverageTarget    float64

	// Evolving fields.
	SuiteNames         []string
	CurrentCoverage    float64
	CoverageBreakdown  CoverageBreakdown
	UncoveredConditions *ConditionSet
	ExecutionErrors    []string
	LearnedRules       []string

	// hasConditionInventory is false when the executor's get_conditions
	// call came back empty (transport failure or a function the executor
	// can't inventory). In that case an empty UncoveredConditions set
	// does not mean "fully covered" — it means "unknown" — so IsTerminal
	// falls back to CurrentCoverage alone, per spec's guidance to treat
	// an empty inventory as unknown rather than trivially terminal.
	hasConditionInventory bool
}

// NewRootState constructs the root state from the initial condition
// inventory and a copy of the session's accumulated learned rules.
func NewRootState(functionSignature, functionPath, context string, coverageTarget float64, conditions []ConditionInfo, learnedRules []string) *TestState {
	rules := make([]string, len(learnedRules))
	copy(rules, learnedRules)
	return &TestState{
		FunctionSignature:     functionSignature,
		FunctionPath:          functionPath,
		Context:               context,
		CoverageTarget:        coverageTarget,
		SuiteNames:            nil,
		CurrentCoverage:       0,
		UncoveredConditions:   NewConditionSet(conditions),
		LearnedRules:          rules,
		hasConditionInventory: len(conditions) > 0,
	}
}

// SuiteSize is the number of tests currently accepted into the suite.
func (s *TestState) SuiteSize() int { return len(s.SuiteNames) }

// CoverageProgress is how far current coverage has advanced toward target,
// clamped to [0, 1] (target of 0 is treated as already satisfied).
func (s *TestState) CoverageProgress() float64 {
	if s.CoverageTarget <= 0 {
		return 1
	}
	p := s.CurrentCoverage / s.CoverageTarget
	if p > 1 {
		return 1
	}
	return p
}

// ConditionsRemaining is the count of still-uncovered conditions.
func (s *TestState) ConditionsRemaining() int { return s.UncoveredConditions.Len() }

// IsTerminal reports whether this state needs no further expansion.
func (s *TestState) IsTerminal() bool {
	if s.CurrentCoverage >= s.CoverageTarget {
		return true
	}
	return s.hasConditionInventory && s.UncoveredConditions.Len() == 0
}

// CloneWith builds the child state that results from accepting (or
// rejecting) one candidate test, per result. Learned rules are copied, never
// aliased, so siblings can diverge independently.
func (s *TestState) CloneWith(result ExecutionResult) *TestState {
	// A rejected candidate never regresses the coverage the suite already
	// had: a transport/parse failure reports zero-valued coverage fields
	// on the synthetic result, and adopting those unconditionally would
	// violate coverage monotonicity along the path.
	coverage := s.CoverageBreakdown
	primaryCoverage := s.CurrentCoverage
	if result.Compiled {
		coverage = CoverageBreakdown{
			Statement: result.StatementCoverage,
			Branch:    result.BranchCoverage,
			MCDC:      result.MCDCCoverage,
		}
		primaryCoverage = result.MCDCCoverage
	}

	child := &TestState{
		FunctionSignature:     s.FunctionSignature,
		FunctionPath:          s.FunctionPath,
		Context:               s.Context,
		CoverageTarget:        s.CoverageTarget,
		SuiteNames:            append([]string(nil), result.SuiteNames...),
		CurrentCoverage:       primaryCoverage,
		CoverageBreakdown:     coverage,
		UncoveredConditions:   s.UncoveredConditions.Clone(),
		ExecutionErrors:       append([]string(nil), s.ExecutionErrors...),
		LearnedRules:          append([]string(nil), s.LearnedRules...),
		hasConditionInventory: s.hasConditionInventory,
	}
	child.UncoveredConditions.Remove(result.ConditionsNowCovered)
	if !result.Compiled && result.Error != "" {
		child.ExecutionErrors = append(child.ExecutionErrors, result.Error)
	}
	return child
}

// AddLearnedRule appends rule if it is not already present (exact string
// equality). No-op for empty rules.
func (s *TestState) AddLearnedRule(rule string) {
	if rule == "" {
		return
	}
	for _, r := range s.LearnedRules {
		if r == rule {
			return
		}
	}
	s.LearnedRules = append(s.LearnedRules, rule)
}

// FingerprintTestBody returns the 16-hex-digit truncated SHA-256 fingerprint
// of a trimmed test body, used by the executor client's dedup cache and by
// within-batch candidate deduplication.
func FingerprintTestBody(body string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(body)))
	return hex.EncodeToString(sum[:])[:16]
}
