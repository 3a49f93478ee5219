package lats

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T, handler http.HandlerFunc) *ExecutorClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewExecutorClient(server.URL, 2*time.Second)
	t.Cleanup(client.Close)
	return client
}

func TestExecuteSuccessAppendsToSuite(t *testing.T) {
	client := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/test-execution/execute-with-suite", r.URL.Path)
		var body executeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "MCDC", body.CoverageType)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"coverage": map[string]any{
				"statement": map[string]any{"percentage": 80.0},
				"branch":    map[string]any{"percentage": 70.0},
				"mcdc":      map[string]any{"percentage": 60.0},
			},
			"uncoveredConditions": []any{},
			"allConditions": []map[string]any{
				{"condition": "a > 0", "needTrue": true, "needFalse": true},
			},
		})
	})

	result := client.Execute(context.Background(), "pkg/f.go", "func TestX(t *testing.T){}", "test_1", nil)

	assert.True(t, result.Compiled)
	assert.Equal(t, []string{"test_1"}, result.SuiteNames)
	assert.InDelta(t, 0.6, result.MCDCCoverage, 1e-9)
	require.Len(t, result.ConditionsNowCovered, 1)
	assert.Equal(t, "a > 0", result.ConditionsNowCovered[0].Expression)
}

func TestExecuteCompileFailureKeepsSuiteUnchanged(t *testing.T) {
	client := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "failed",
			"log":    "compile error: undefined x",
		})
	})

	result := client.Execute(context.Background(), "pkg/f.go", "func TestX(t *testing.T){}", "test_1", []string{"existing"})

	assert.False(t, result.Compiled)
	assert.Equal(t, []string{"existing"}, result.SuiteNames)
	assert.Equal(t, "compile error: undefined x", result.Error)
}

func TestExecuteTransportFailureIsSyntheticAndNeverAppends(t *testing.T) {
	client := NewExecutorClient("http://127.0.0.1:0", 50*time.Millisecond)
	defer client.Close()

	result := client.Execute(context.Background(), "pkg/f.go", "func TestX(t *testing.T){}", "test_1", []string{"existing"})

	assert.False(t, result.Compiled)
	assert.Equal(t, []string{"existing"}, result.SuiteNames)
	assert.NotEmpty(t, result.Error)
}

func TestExecuteCacheHitSkipsRemoteCompile(t *testing.T) {
	var executeCalls, coverageCalls int
	client := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/test-execution/execute-with-suite":
			executeCalls++
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":   "success",
				"coverage": map[string]any{"statement": map[string]any{}, "branch": map[string]any{}, "mcdc": map[string]any{"percentage": 50.0}},
			})
		case "/api/test-execution/get-coverage":
			coverageCalls++
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":   "success",
				"coverage": map[string]any{"statement": map[string]any{}, "branch": map[string]any{}, "mcdc": map[string]any{"percentage": 55.0}},
			})
		}
	})

	body := "func TestDup(t *testing.T){}"
	first := client.Execute(context.Background(), "pkg/f.go", body, "test_1", nil)
	require.True(t, first.Compiled)

	second := client.Execute(context.Background(), "pkg/f.go", body, "test_2", []string{"other"})
	require.True(t, second.Compiled)

	assert.Equal(t, 1, executeCalls)
	assert.Equal(t, 1, coverageCalls)
	assert.InDelta(t, 0.55, second.MCDCCoverage, 1e-9)
}

func TestGetConditionsReturnsEmptyOnError(t *testing.T) {
	client := NewExecutorClient("http://127.0.0.1:0", 50*time.Millisecond)
	defer client.Close()

	conditions := client.GetConditions(context.Background(), "pkg/f.go")
	assert.Empty(t, conditions)
}

func TestGetConditionsParsesWireShape(t *testing.T) {
	client := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"conditions": []map[string]any{
				{"condition": "x != nil", "needTrue": true, "needFalse": true, "parentDecision": "if x != nil"},
			},
		})
	})

	conditions := client.GetConditions(context.Background(), "pkg/f.go")
	require.Len(t, conditions, 1)
	assert.Equal(t, "x != nil", conditions[0].Expression)
	assert.Equal(t, "if x != nil", conditions[0].ParentDecision)
}

func TestClearCacheForcesRecompile(t *testing.T) {
	var executeCalls int
	client := newTestExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		executeCalls++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":   "success",
			"coverage": map[string]any{"statement": map[string]any{}, "branch": map[string]any{}, "mcdc": map[string]any{"percentage": 10.0}},
		})
	})

	body := "func TestDup(t *testing.T){}"
	client.Execute(context.Background(), "pkg/f.go", body, "test_1", nil)
	client.ClearCache()
	client.Execute(context.Background(), "pkg/f.go", body, "test_2", nil)

	assert.Equal(t, 2, executeCalls)
}
