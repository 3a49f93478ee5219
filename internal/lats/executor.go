package lats

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// executeRequest is the wire body for execute-with-suite.
type executeRequest struct {
	FunctionPath      string   `json:"functionPath"`
	TestScript        string   `json:"testScript"`
	TestCaseName      string   `json:"testCaseName"`
	ExistingTestNames []string `json:"existingTestNames"`
	CoverageType      string   `json:"coverageType"`
}

// coverageRequest is the wire body for get-coverage.
type coverageRequest struct {
	FunctionPath      string   `json:"functionPath"`
	ExistingTestNames []string `json:"existingTestNames"`
	CoverageType      string   `json:"coverageType"`
}

type conditionsRequest struct {
	FunctionPath string `json:"functionPath"`
}

type wireMetric struct {
	Covered    int     `json:"covered"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

type wireCondition struct {
	Condition      string `json:"condition"`
	NeedTrue       bool   `json:"needTrue"`
	NeedFalse      bool   `json:"needFalse"`
	ParentDecision string `json:"parentDecision,omitempty"`
}

type executionResponse struct {
	Status   string `json:"status"`
	Coverage struct {
		Statement wireMetric `json:"statement"`
		Branch    wireMetric `json:"branch"`
		MCDC      wireMetric `json:"mcdc"`
	} `json:"coverage"`
	Log                string          `json:"log"`
	UncoveredConditions []wireCondition `json:"uncoveredConditions"`
	AllConditions       []wireCondition `json:"allConditions,omitempty"`
}

type conditionsResponse struct {
	Conditions []wireCondition `json:"conditions"`
}

func fromWireCondition(w wireCondition) ConditionInfo {
	return ConditionInfo{
		Expression:     w.Condition,
		NeedTrue:       w.NeedTrue,
		NeedFalse:      w.NeedFalse,
		ParentDecision: w.ParentDecision,
	}
}

// conditionsNowCovered derives the covered set as allConditions minus
// uncoveredConditions when the executor supplies the full inventory, per
// §6 of the wire contract; otherwise it is left empty.
func conditionsNowCovered(resp executionResponse) []ConditionInfo {
	if len(resp.AllConditions) == 0 {
		return nil
	}
	uncovered := make(map[string]bool, len(resp.UncoveredConditions))
	for _, w := range resp.UncoveredConditions {
		uncovered[fromWireCondition(w).key()] = true
	}
	var covered []ConditionInfo
	for _, w := range resp.AllConditions {
		c := fromWireCondition(w)
		if !uncovered[c.key()] {
			covered = append(covered, c)
		}
	}
	return covered
}

// cacheEntry records which test name a body fingerprint was accepted
// (executed and compiled) under.
type cacheEntry struct {
	testName string
}

// ExecutorClient wraps the remote coverage executor: it hashes and caches
// compiled test bodies by fingerprint so an identical body that already
// compiled is not compiled again (a body that failed is not cached and is
// resubmitted), and it degrades every transport failure into a
// synthetic failed ExecutionResult rather than propagating an error.
type ExecutorClient struct {
	baseURL string
	http    *http.Client

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewExecutorClient builds a client against baseURL with the given
// per-call timeout.
func NewExecutorClient(baseURL string, timeout time.Duration) *ExecutorClient {
	return &ExecutorClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		cache:   make(map[string]cacheEntry),
	}
}

// Execute submits one candidate test. A body fingerprint already present in
// the local cache skips the remote compile and instead recomputes cumulative
// coverage for existingNames plus the previously-accepted name.
func (c *ExecutorClient) Execute(ctx context.Context, functionPath, testBody, testName string, existingNames []string) ExecutionResult {
	fp := FingerprintTestBody(testBody)

	c.mu.Lock()
	entry, hit := c.cache[fp]
	c.mu.Unlock()

	if hit {
		return c.Coverage(ctx, functionPath, append(append([]string(nil), existingNames...), entry.testName))
	}

	req := executeRequest{
		FunctionPath:      functionPath,
		TestScript:        testBody,
		TestCaseName:      testName,
		ExistingTestNames: existingNames,
		CoverageType:      "MCDC",
	}

	resp, err := c.post(ctx, "/api/test-execution/execute-with-suite", req)
	if err != nil {
		return ExecutionResult{
			NewTestName: testName,
			Compiled:    false,
			Error:       err.Error(),
			SuiteNames:  existingNames,
		}
	}

	var parsed executionResponse
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return ExecutionResult{
			NewTestName: testName,
			Compiled:    false,
			Error:       fmt.Sprintf("unparsable executor response: %v", err),
			SuiteNames:  existingNames,
		}
	}

	compiled := parsed.Status == "success"
	result := ExecutionResult{
		NewTestName:          testName,
		Compiled:             compiled,
		StatementCoverage:    parsed.Coverage.Statement.Percentage / 100,
		BranchCoverage:       parsed.Coverage.Branch.Percentage / 100,
		MCDCCoverage:         parsed.Coverage.MCDC.Percentage / 100,
		ConditionsNowCovered: conditionsNowCovered(parsed),
	}
	if compiled {
		result.SuiteNames = append(append([]string(nil), existingNames...), testName)
		c.mu.Lock()
		c.cache[fp] = cacheEntry{testName: testName}
		c.mu.Unlock()
	} else {
		result.SuiteNames = existingNames
		result.Error = parsed.Log
	}
	return result
}

// Coverage recomputes cumulative suite metrics for an existing suite
// without executing a new test.
func (c *ExecutorClient) Coverage(ctx context.Context, functionPath string, suiteNames []string) ExecutionResult {
	req := coverageRequest{
		FunctionPath:      functionPath,
		ExistingTestNames: suiteNames,
		CoverageType:      "MCDC",
	}

	resp, err := c.post(ctx, "/api/test-execution/get-coverage", req)
	if err != nil {
		return ExecutionResult{
			Compiled:   false,
			Error:      err.Error(),
			SuiteNames: suiteNames,
		}
	}

	var parsed executionResponse
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return ExecutionResult{
			Compiled:   false,
			Error:      fmt.Sprintf("unparsable executor response: %v", err),
			SuiteNames: suiteNames,
		}
	}

	return ExecutionResult{
		Compiled:             parsed.Status == "success",
		SuiteNames:           suiteNames,
		StatementCoverage:    parsed.Coverage.Statement.Percentage / 100,
		BranchCoverage:       parsed.Coverage.Branch.Percentage / 100,
		MCDCCoverage:         parsed.Coverage.MCDC.Percentage / 100,
		ConditionsNowCovered: conditionsNowCovered(parsed),
	}
}

// GetConditions retrieves the full residual/initial condition inventory
// used to seed the root state. Any error yields an empty sequence; the
// search then falls back to tracking coverage percentage only.
func (c *ExecutorClient) GetConditions(ctx context.Context, functionPath string) []ConditionInfo {
	resp, err := c.post(ctx, "/api/test-execution/get-conditions", conditionsRequest{FunctionPath: functionPath})
	if err != nil {
		return nil
	}
	var parsed conditionsResponse
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return nil
	}
	conditions := make([]ConditionInfo, 0, len(parsed.Conditions))
	for _, w := range parsed.Conditions {
		conditions = append(conditions, fromWireCondition(w))
	}
	return conditions
}

// ClearCache drops every cached fingerprint↔name mapping.
func (c *ExecutorClient) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]cacheEntry)
}

// Close releases the underlying HTTP transport's idle connections.
func (c *ExecutorClient) Close() {
	c.http.CloseIdleConnections()
}

func (c *ExecutorClient) post(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executor request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read executor response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("executor returned status %d: %s", resp.StatusCode, string(data))
	}

	return data, nil
}
