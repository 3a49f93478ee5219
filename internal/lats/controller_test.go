package lats

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latsforge/latsforge/internal/llm"
)

// newScriptedExecutor serves get-conditions with an empty inventory and
// execute-with-suite according to script, keyed by the candidate's test
// case name.
func newScriptedExecutor(t *testing.T, script map[string]struct {
	status string
	mcdc   float64
	log    string
}) *ExecutorClient {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/test-execution/get-conditions":
			_ = json.NewEncoder(w).Encode(map[string]any{"conditions": []any{}})
		case "/api/test-execution/execute-with-suite":
			var body executeRequest
			_ = json.NewDecoder(r.Body).Decode(&body)
			s, ok := script[body.TestCaseName]
			if !ok {
				s.status = "success"
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": s.status,
				"coverage": map[string]any{
					"statement": map[string]any{"percentage": s.mcdc * 100},
					"branch":    map[string]any{"percentage": s.mcdc * 100},
					"mcdc":      map[string]any{"percentage": s.mcdc * 100},
				},
				"log": s.log,
			})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "success"})
		}
	}))
	t.Cleanup(server.Close)
	client := NewExecutorClient(server.URL, 2*time.Second)
	t.Cleanup(client.Close)
	return client
}

// newConstantExecutor always reports the same compiled/coverage outcome,
// regardless of which candidate is submitted.
func newConstantExecutor(t *testing.T, mcdc float64) *ExecutorClient {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/test-execution/get-conditions":
			_ = json.NewEncoder(w).Encode(map[string]any{"conditions": []any{}})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "success",
				"coverage": map[string]any{
					"statement": map[string]any{"percentage": mcdc * 100},
					"branch":    map[string]any{"percentage": mcdc * 100},
					"mcdc":      map[string]any{"percentage": mcdc * 100},
				},
			})
		}
	}))
	t.Cleanup(server.Close)
	client := NewExecutorClient(server.URL, 2*time.Second)
	t.Cleanup(client.Close)
	return client
}

// newScriptedLM returns an LMClient whose Generate calls are answered in
// order by responses, never sleeping between retries.
func newScriptedLM(t *testing.T, responses ...string) *LMClient {
	t.Helper()
	lm := NewLMClient("openai", "key", "https://example.test", "model-x")
	lm.sleep = func(time.Duration) {}
	call := 0
	lm.newHandler = func(llm.ApiHandlerOptions) (llm.ApiHandler, error) {
		idx := call
		call++
		if idx >= len(responses) {
			idx = len(responses) - 1
		}
		return &fakeApiHandler{chunks: []llm.ApiStreamChunk{llm.ApiStreamTextChunk{Text: responses[idx]}}}, nil
	}
	return lm
}

func batchJSON(tests ...generatedTest) string {
	b, _ := json.Marshal(testsEnvelope{Tests: tests})
	return string(b)
}

func testController(executor *ExecutorClient, lm *LMClient, cfg ControllerConfig) *Controller {
	return NewController(executor, lm, NewPromptManager(""), NewContextManager(time.Hour), cfg)
}

func TestSearchImmediateSuccessOnFirstIteration(t *testing.T) {
	executor := newScriptedExecutor(t, map[string]struct {
		status string
		mcdc   float64
		log    string
	}{
		"test_1": {status: "success", mcdc: 0.96},
	})
	lm := newScriptedLM(t, batchJSON(generatedTest{Name: "test_1", Code: "func TestOne(t *testing.T){}"}))

	cfg := DefaultControllerConfig()
	cfg.MaxIterations = 10
	cfg.CoverageTarget = 0.95

	c := testController(executor, lm, cfg)
	resp, err := c.Search(context.Background(), SearchRequest{
		SessionID:         "s1",
		FunctionSignature: "func F(a int) bool",
		FunctionPath:      "pkg/f.go",
		CoverageTarget:    0.95,
		MaxIterations:     10,
	})

	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, 1, resp.Iterations)
	assert.Equal(t, []string{"test_1"}, resp.TestNames)
	assert.InDelta(t, 0.96, resp.FinalCoverage, 1e-9)
}

func TestSearchStopsOnNoProgressBeforeMaxIterations(t *testing.T) {
	executor := newConstantExecutor(t, 0.30)
	responses := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		responses = append(responses, batchJSON(generatedTest{
			Name: fmt.Sprintf("test_%d", i),
			Code: fmt.Sprintf("func TestN%d(t *testing.T){}", i),
		}))
	}
	lm := newScriptedLM(t, responses...)

	cfg := DefaultControllerConfig()
	cfg.MaxIterations = 100
	cfg.MaxNoProgressIters = 5
	cfg.ExpansionK = 1
	cfg.AdaptiveK = false
	cfg.CoverageTarget = 0.95

	c := testController(executor, lm, cfg)
	resp, err := c.Search(context.Background(), SearchRequest{
		SessionID:         "s2",
		FunctionSignature: "func F() bool",
		FunctionPath:      "pkg/f.go",
		CoverageTarget:    0.95,
		MaxIterations:     100,
	})

	require.NoError(t, err)
	assert.Less(t, resp.Iterations, 100)
	assert.InDelta(t, 0.30, resp.FinalCoverage, 1e-9)
	assert.Equal(t, StatusFailed, resp.Status)
}

func TestAdaptiveKStagesByCoverageProgress(t *testing.T) {
	cfg := DefaultControllerConfig()
	cfg.MinK = 1
	cfg.ExpansionK = 3
	cfg.MaxK = 5
	cfg.AdaptiveK = true

	c := testController(nil, nil, cfg)
	assert.Equal(t, 5, c.adaptiveK(0.10, 0.95))
	assert.Equal(t, 3, c.adaptiveK(0.50, 0.95))
	assert.Equal(t, 1, c.adaptiveK(0.85, 0.95))
}

func TestAdaptiveKDisabledAlwaysReturnsExpansionK(t *testing.T) {
	cfg := DefaultControllerConfig()
	cfg.AdaptiveK = false
	cfg.ExpansionK = 3
	c := testController(nil, nil, cfg)
	assert.Equal(t, 3, c.adaptiveK(0.0, 0.95))
	assert.Equal(t, 3, c.adaptiveK(0.99, 0.95))
}

// buildPruningHarness constructs a leaf with a parent and a scripted
// executor/LM pair producing one compiling high-reward candidate, one
// compile failure, and one compiling low-reward candidate, matching the
// weights in DefaultRewardConfig.
func buildPruningHarness(t *testing.T) (*Controller, *TreeNode, *TreeNode, *SessionContext) {
	t.Helper()
	executor := newScriptedExecutor(t, map[string]struct {
		status string
		mcdc   float64
		log    string
	}{
		"testA2": {status: "success", mcdc: 0.9},
		"testB2": {status: "failed", log: "compile error"},
		"testC2": {status: "success", mcdc: 0.55},
	})
	lm := newScriptedLM(t, batchJSON(
		generatedTest{Name: "testA2", Code: "CODE_A2"},
		generatedTest{Name: "testB2", Code: "CODE_B2"},
		generatedTest{Name: "testC2", Code: "CODE_C2"},
	))

	cfg := DefaultControllerConfig()
	cfg.AdaptiveK = false
	cfg.ExpansionK = 3
	cfg.EnablePruning = true
	cfg.PruneThreshold = -0.5
	cfg.BeamWidth = 5

	c := testController(executor, lm, cfg)
	sessions := NewContextManager(time.Hour)
	c.Sessions = sessions
	session := sessions.GetOrCreate("s3", "func F() bool", "pkg/f.go", "", "", 0.99, 10, 100000)

	root := NewRootNode("root", NewRootState("func F() bool", "pkg/f.go", "", 0.99, nil, nil))
	existingState := root.State.CloneWith(ExecutionResult{Compiled: true, SuiteNames: []string{"test_0"}, MCDCCoverage: 0.5})
	leaf := root.AddChild("child1", existingState, ActionInitialize, "CODE_0")

	return c, root, leaf, session
}

func TestExpandAndSimulatePrunesCandidatesBelowThreshold(t *testing.T) {
	c, _, leaf, session := buildPruningHarness(t)

	rewards := c.expandAndSimulate(context.Background(), leaf, session)

	children := leaf.ChildrenSnapshot()
	require.Len(t, children, 2, "the compile failure must be pruned")
	require.Len(t, rewards, 2)

	var gotCoverages []float64
	for _, child := range children {
		gotCoverages = append(gotCoverages, child.State.CurrentCoverage)
	}
	assert.ElementsMatch(t, []float64{0.9, 0.55}, gotCoverages)
}

func TestExpandAndSimulateBackpropUsesMaxSurvivorReward(t *testing.T) {
	c, root, leaf, session := buildPruningHarness(t)

	rewards := c.expandAndSimulate(context.Background(), leaf, session)
	require.Len(t, rewards, 2)

	best := rewards[0]
	for _, r := range rewards[1:] {
		if r > best {
			best = r
		}
	}
	for ancestor := leaf.Parent; ancestor != nil; ancestor = ancestor.Parent {
		ancestor.Update(best)
	}

	visits, total := root.Snapshot()
	assert.Equal(t, 1, visits)
	assert.InDelta(t, best, total, 1e-9)
	assert.InDelta(t, 5.8, best, 1e-9, "the surviving high-reward candidate must drive backprop, not the pruned one")
}

func TestExpandAndSimulateBeamWidthKeepsOnlyTopRewardSurvivors(t *testing.T) {
	c, _, leaf, session := buildPruningHarness(t)
	c.Config.PruneThreshold = -100
	c.Config.BeamWidth = 1

	rewards := c.expandAndSimulate(context.Background(), leaf, session)
	require.Len(t, rewards, 1)

	children := leaf.ChildrenSnapshot()
	require.Len(t, children, 1)
	assert.InDelta(t, 0.9, children[0].State.CurrentCoverage, 1e-9, "beam width must keep the highest-reward candidate")
}

func TestUpdateBestPrefersHigherCoverageThenSmallerSuite(t *testing.T) {
	cfg := DefaultControllerConfig()
	c := testController(nil, nil, cfg)

	makeNode := func(coverage float64, suiteSize int) *TreeNode {
		state := NewRootState("f", "p", "", 0.95, nil, nil)
		state.CurrentCoverage = coverage
		state.SuiteNames = make([]string, suiteSize)
		return NewRootNode("n", state)
	}

	worst := makeNode(0.0, 0)
	candSmall := makeNode(0.80, 3)
	candLarge := makeNode(0.80, 4)

	best := c.updateBest(worst, candSmall)
	best = c.updateBest(best, candLarge)
	assert.Same(t, candSmall, best, "equal coverage must prefer the smaller suite")

	bestReverseOrder := c.updateBest(worst, candLarge)
	bestReverseOrder = c.updateBest(bestReverseOrder, candSmall)
	assert.Same(t, candSmall, bestReverseOrder, "order of arrival must not change the Pareto outcome")
}

func TestSearchTerminatesOnTokenBudgetExhaustion(t *testing.T) {
	executor := newConstantExecutor(t, 0.30)
	lm := NewLMClient("openai", "key", "https://example.test", "model-x")
	lm.sleep = func(time.Duration) {}
	lm.newHandler = func(llm.ApiHandlerOptions) (llm.ApiHandler, error) {
		return &fakeApiHandler{chunks: []llm.ApiStreamChunk{
			llm.ApiStreamTextChunk{Text: batchJSON(generatedTest{Name: "t1", Code: "func TestT1(t *testing.T){}"})},
			llm.ApiStreamUsageChunk{InputTokens: 600, OutputTokens: 500},
		}}, nil
	}

	cfg := DefaultControllerConfig()
	cfg.MaxIterations = 100
	cfg.TokenBudget = 1000
	cfg.CoverageTarget = 0.95

	c := testController(executor, lm, cfg)
	resp, err := c.Search(context.Background(), SearchRequest{
		SessionID:         "s4",
		FunctionSignature: "func F() bool",
		FunctionPath:      "pkg/f.go",
		CoverageTarget:    0.95,
		MaxIterations:     100,
	})

	require.NoError(t, err)
	assert.Equal(t, 1, resp.Iterations)
	assert.Equal(t, 1100, resp.TokensUsed)
	assert.Equal(t, StatusFailed, resp.Status)

	session, ok := c.Sessions.Get("s4")
	require.True(t, ok)
	assert.True(t, session.BudgetExceeded())
}

func TestSearchIsDeterministicForIdenticalScripts(t *testing.T) {
	build := func(sessionID string) (*Controller, SearchRequest) {
		executor := newScriptedExecutor(t, map[string]struct {
			status string
			mcdc   float64
			log    string
		}{
			"test_1": {status: "success", mcdc: 0.5},
			"test_2": {status: "success", mcdc: 0.8},
		})
		lm := newScriptedLM(t,
			batchJSON(generatedTest{Name: "test_1", Code: "func TestOne(t *testing.T){}"}),
			batchJSON(generatedTest{Name: "test_2", Code: "func TestTwo(t *testing.T){}"}),
		)
		cfg := DefaultControllerConfig()
		cfg.AdaptiveK = false
		cfg.ExpansionK = 1
		cfg.MaxIterations = 2
		cfg.CoverageTarget = 0.99
		return testController(executor, lm, cfg), SearchRequest{
			SessionID:         sessionID,
			FunctionSignature: "func F() bool",
			FunctionPath:      "pkg/f.go",
			CoverageTarget:    0.99,
			MaxIterations:     2,
		}
	}

	c1, req1 := build("run-a")
	c2, req2 := build("run-b")

	resp1, err1 := c1.Search(context.Background(), req1)
	resp2, err2 := c2.Search(context.Background(), req2)

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, resp1.Iterations, resp2.Iterations)
	assert.Equal(t, resp1.FinalCoverage, resp2.FinalCoverage)
	assert.Equal(t, resp1.TestNames, resp2.TestNames)
}

func TestSearchNeverExceedsMaxIterations(t *testing.T) {
	executor := newConstantExecutor(t, 0.10)
	responses := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		responses = append(responses, batchJSON(generatedTest{
			Name: fmt.Sprintf("t%d", i),
			Code: fmt.Sprintf("func TestT%d(t *testing.T){}", i),
		}))
	}
	lm := newScriptedLM(t, responses...)

	cfg := DefaultControllerConfig()
	cfg.MaxIterations = 5
	cfg.MaxNoProgressIters = 1000
	cfg.CoverageTarget = 0.95

	c := testController(executor, lm, cfg)
	resp, err := c.Search(context.Background(), SearchRequest{
		SessionID:         "s5",
		FunctionSignature: "func F() bool",
		FunctionPath:      "pkg/f.go",
		CoverageTarget:    0.95,
		MaxIterations:     5,
	})

	require.NoError(t, err)
	assert.LessOrEqual(t, resp.Iterations, 5)
}
