package lats

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// ControllerConfig is the MCTS Controller's tuning surface. Zero values
// are never valid configuration; use DefaultControllerConfig and override.
type ControllerConfig struct {
	MaxIterations       int
	ExplorationCoef     float64
	MaxDepth            int
	ExpansionK          int
	MinK                int
	MaxK                int
	AdaptiveK           bool
	EnablePruning       bool
	PruneThreshold      float64
	BeamWidth           int
	CoverageTarget      float64
	MaxNoProgressIters  int
	Verbose             bool
	TokenBudget         int
}

// DefaultControllerConfig matches §4.7's documented defaults.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		MaxIterations:      100,
		ExplorationCoef:    1.414213562,
		MaxDepth:           50,
		ExpansionK:         3,
		MinK:               1,
		MaxK:               5,
		AdaptiveK:          true,
		EnablePruning:      true,
		PruneThreshold:     -2.0,
		BeamWidth:          5,
		CoverageTarget:     0.95,
		MaxNoProgressIters: 10,
		TokenBudget:        defaultTokenBudget,
	}
}

const responseMaxTokens = 2048

// SearchRequest mirrors LATSSearchRequest from §6.
type SearchRequest struct {
	SessionID         string
	FunctionSignature string
	FunctionPath      string
	FunctionCode      string
	Context           string
	CoverageTarget    float64
	MaxIterations     int
	CoverageType      string
}

// SearchStatus is the outcome classification of a search.
type SearchStatus string

const (
	StatusSuccess SearchStatus = "success"
	StatusFailed  SearchStatus = "failed"
	StatusTimeout SearchStatus = "timeout"
)

// SearchResponse mirrors LATSSearchResponse from §6.
type SearchResponse struct {
	SessionID            string
	Status               SearchStatus
	TestNames            []string
	FinalCoverage        float64
	Iterations           int
	TotalTestsGenerated  int
	TotalTestsInSuite    int
	TokensUsed           int
	SearchTimeSeconds    float64
	LearnedRules         []string
	CoverageDetails      CoverageBreakdown
	ErrorMessage         string
}

// Controller orchestrates the select / expand+simulate / backpropagate loop.
type Controller struct {
	Executor *ExecutorClient
	LM       *LMClient
	Prompts  *PromptManager
	Sessions *ContextManager
	Reward   RewardConfig
	Config   ControllerConfig

	nextNodeID int
}

// NewController wires the collaborators behind the search loop.
func NewController(executor *ExecutorClient, lm *LMClient, prompts *PromptManager, sessions *ContextManager, cfg ControllerConfig) *Controller {
	return &Controller{
		Executor: executor,
		LM:       lm,
		Prompts:  prompts,
		Sessions: sessions,
		Reward:   DefaultRewardConfig(),
		Config:   cfg,
	}
}

func (c *Controller) newNodeID() string {
	c.nextNodeID++
	return fmt.Sprintf("n%d", c.nextNodeID)
}

// Search runs one LATS search to completion (or termination) and returns
// the best suite found. It never returns an error for ordinary search
// failure modes — those are reported via Status/ErrorMessage, matching the
// controller's "never raises from inside its loop" contract. The returned
// error is reserved for request-level problems: when ctx is cancelled or its
// deadline passes, the search stops before the next iteration and returns
// ctx.Err(), which the gateway turns into a 408 (deadline) or a 500.
func (c *Controller) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	start := time.Now()

	coverageTarget := req.CoverageTarget
	if coverageTarget <= 0 {
		coverageTarget = c.Config.CoverageTarget
	}
	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = c.Config.MaxIterations
	}

	tokenBudget := c.Config.TokenBudget
	if tokenBudget <= 0 {
		tokenBudget = defaultTokenBudget
	}
	session := c.Sessions.GetOrCreate(req.SessionID, req.FunctionSignature, req.FunctionPath, req.FunctionCode, req.Context, coverageTarget, maxIterations, tokenBudget)

	conditions := c.Executor.GetConditions(ctx, req.FunctionPath)
	root := NewRootNode(c.newNodeID(), NewRootState(req.FunctionSignature, req.FunctionPath, req.Context, coverageTarget, conditions, session.LearnedRules))

	best := root
	noProgressCount := 0
	iteration := 0

	for ; iteration < maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return c.buildResponse(req.SessionID, session, root, best, iteration, start), err
		}
		if c.shouldTerminate(session, best, noProgressCount, iteration, maxIterations) {
			break
		}

		leaf := c.selectLeaf(root)
		if leaf == nil {
			break
		}

		if leaf.State.IsTerminal() {
			best = c.updateBest(best, leaf)
			break
		}

		rewards := c.expandAndSimulate(ctx, leaf, session)
		if len(rewards) == 0 {
			noProgressCount++
			continue
		}

		bestReward := rewards[0]
		for _, r := range rewards[1:] {
			if r > bestReward {
				bestReward = r
			}
		}
		for ancestor := leaf.Parent; ancestor != nil; ancestor = ancestor.Parent {
			ancestor.Update(bestReward)
		}

		prevCoverage := best.State.CurrentCoverage
		for _, child := range leaf.ChildrenSnapshot() {
			best = c.updateBest(best, child)
		}
		if best.State.CurrentCoverage > prevCoverage {
			noProgressCount = 0
		} else {
			noProgressCount++
		}
	}

	return c.buildResponse(req.SessionID, session, root, best, iteration, start), nil
}

const defaultTokenBudget = 100_000

func (c *Controller) shouldTerminate(session *SessionContext, best *TreeNode, noProgressCount, iteration, maxIterations int) bool {
	if best.State.CurrentCoverage >= session.CoverageTarget {
		return true
	}
	if noProgressCount >= c.Config.MaxNoProgressIters {
		return true
	}
	if session.BudgetExceeded() {
		return true
	}
	if iteration >= maxIterations {
		return true
	}
	return false
}

// selectLeaf descends from root by best_child(explorationCoef) until it
// finds a terminal node, an unexpanded node, or hits max depth.
func (c *Controller) selectLeaf(root *TreeNode) *TreeNode {
	current := root
	for current.Depth() < c.Config.MaxDepth {
		if current.State.IsTerminal() || !current.FullyExpanded() || current.IsLeaf() {
			return current
		}
		next := current.BestChild(c.Config.ExplorationCoef)
		if next == nil {
			return current
		}
		current = next
	}
	return current
}

// updateBest applies the Pareto best-node rule: strictly higher coverage,
// or equal coverage with a strictly smaller suite.
func (c *Controller) updateBest(best, candidate *TreeNode) *TreeNode {
	if candidate.State.CurrentCoverage > best.State.CurrentCoverage {
		return candidate
	}
	if candidate.State.CurrentCoverage == best.State.CurrentCoverage &&
		len(candidate.State.SuiteNames) < len(best.State.SuiteNames) {
		return candidate
	}
	return best
}

func (c *Controller) adaptiveK(currentCoverage, target float64) int {
	if !c.Config.AdaptiveK {
		return c.Config.ExpansionK
	}
	progress := 1.0
	if target > 0 {
		progress = currentCoverage / target
	}
	switch {
	case progress < 0.3:
		return c.Config.MaxK
	case progress < 0.7:
		return c.Config.ExpansionK
	default:
		return c.Config.MinK
	}
}

func temperatureFor(coverage float64) float64 {
	switch {
	case coverage < 0.3:
		return 0.9
	case coverage < 0.7:
		return 0.7
	default:
		return 0.5
	}
}

func (c *Controller) promptModeFor(state *TestState) (PromptMode, ConditionInfo, bool) {
	if state.CurrentCoverage == 0.0 {
		return PromptInitialize, ConditionInfo{}, false
	}
	if state.UncoveredConditions.Len() <= 3 && state.CurrentCoverage > 0.5 {
		items := state.UncoveredConditions.Items()
		if len(items) > 0 {
			return PromptTargeted, items[0], true
		}
	}
	return PromptBatch, ConditionInfo{}, false
}

// recentErrors harvests error snippets from the node's own children, in
// child insertion order (oldest first, most recent last).
func recentErrors(node *TreeNode) []string {
	var errs []string
	for _, child := range node.ChildrenSnapshot() {
		errs = append(errs, child.State.ExecutionErrors...)
	}
	return errs
}

type generatedTest struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type testsEnvelope struct {
	Tests []generatedTest `json:"tests"`
}

func parseGeneratedTests(raw json.RawMessage) []generatedTest {
	var envelope testsEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Tests) > 0 {
		return envelope.Tests
	}
	var bare []generatedTest
	if err := json.Unmarshal(raw, &bare); err == nil {
		return bare
	}
	return nil
}

// expandAndSimulate performs one full expansion+simulation step on leaf:
// decide K and temperature, render and submit a prompt, dedupe and execute
// the resulting candidates, prune and beam-limit, attach surviving children,
// and return their rewards. It never returns an error; every failure mode
// degrades to zero candidates for this iteration.
func (c *Controller) expandAndSimulate(ctx context.Context, leaf *TreeNode, session *SessionContext) []float64 {
	state := leaf.State
	k := c.adaptiveK(state.CurrentCoverage, state.CoverageTarget)
	temperature := temperatureFor(state.CurrentCoverage)
	mode, target, hasTarget := c.promptModeFor(state)

	params := PromptParams{
		FunctionSignature:   state.FunctionSignature,
		FunctionCode:        session.FunctionCode,
		Context:             state.Context,
		LearnedRules:        session.LearnedRules,
		RequestedCount:      k,
		UncoveredConditions: state.UncoveredConditions.Items(),
		RecentSuiteNames:    state.SuiteNames,
		RecentErrors:        append(append([]string(nil), state.ExecutionErrors...), recentErrors(leaf)...),
	}
	if hasTarget {
		params.TargetCondition = target.Expression
	}

	prompt, err := c.Prompts.Render(mode, params)
	if err != nil {
		return nil
	}

	text, promptTokens, completionTokens, err := c.LM.Generate(ctx, prompt, temperature, responseMaxTokens, "")
	c.Sessions.AddTokenUsage(session.SessionID, promptTokens, completionTokens)
	if err != nil {
		return nil
	}

	raw, err := ExtractJSON(text)
	if err != nil {
		if c.Config.Verbose {
			log.Info("LM response unparsable; no candidates this iteration", "session", session.SessionID, "error", err)
		}
		return nil
	}
	candidates := parseGeneratedTests(raw)
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	type survivor struct {
		name   string
		code   string
		result ExecutionResult
		child  *TestState
		reward float64
	}

	seenHashes := make(map[string]bool)
	seenNames := make(map[string]bool)
	for _, n := range state.SuiteNames {
		seenNames[n] = true
	}

	var survivors []survivor
	ordinal := len(state.SuiteNames)
	for _, cand := range candidates {
		code := strings.TrimSpace(cand.Code)
		if code == "" {
			continue
		}
		name := strings.TrimSpace(cand.Name)
		if name == "" {
			ordinal++
			name = fmt.Sprintf("test_%d", ordinal)
		}

		hash := FingerprintTestBody(code)
		if seenHashes[hash] || seenNames[name] {
			continue
		}
		seenHashes[hash] = true
		seenNames[name] = true

		result := c.Executor.Execute(ctx, state.FunctionPath, code, name, state.SuiteNames)
		childState := state.CloneWith(result)
		reward := c.Reward.Reward(state, childState, result)

		if c.Config.EnablePruning && reward < c.Config.PruneThreshold {
			continue
		}

		survivors = append(survivors, survivor{name: name, code: code, result: result, child: childState, reward: reward})
	}

	if len(survivors) == 0 {
		return nil
	}

	if c.Config.BeamWidth > 0 && len(survivors) > c.Config.BeamWidth {
		sort.SliceStable(survivors, func(i, j int) bool { return survivors[i].reward > survivors[j].reward })
		survivors = survivors[:c.Config.BeamWidth]
	}

	rewards := make([]float64, 0, len(survivors))
	for _, s := range survivors {
		child := leaf.AddChild(c.newNodeID(), s.child, ActionExpandBatch, s.code)
		switch mode {
		case PromptInitialize:
			child.Action = ActionInitialize
		case PromptTargeted:
			child.Action = ActionExpandTargeted
		}
		child.Update(s.reward)
		leaf.Update(s.reward)
		rewards = append(rewards, s.reward)
	}

	return rewards
}

func (c *Controller) buildResponse(sessionID string, session *SessionContext, root, best *TreeNode, iterations int, start time.Time) SearchResponse {
	status := StatusSuccess
	if best.State.CurrentCoverage < session.CoverageTarget {
		status = StatusFailed
	}

	visits, _ := root.Snapshot()

	return SearchResponse{
		SessionID:           sessionID,
		Status:              status,
		TestNames:           best.State.SuiteNames,
		FinalCoverage:       best.State.CurrentCoverage,
		Iterations:          iterations,
		TotalTestsGenerated: visits,
		TotalTestsInSuite:   len(best.State.SuiteNames),
		TokensUsed:          session.TotalTokens(),
		SearchTimeSeconds:   roundTo2(time.Since(start).Seconds()),
		LearnedRules:        session.LearnedRules,
		CoverageDetails:     best.State.CoverageBreakdown,
	}
}

func roundTo2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
