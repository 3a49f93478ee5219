package lats

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderInitializeIncludesFunctionAndConditions(t *testing.T) {
	m := NewPromptManager("")
	text, err := m.Render(PromptInitialize, PromptParams{
		FunctionSignature:   "func F(a int) bool",
		FunctionCode:        "func F(a int) bool { return a > 0 }",
		RequestedCount:      3,
		UncoveredConditions: sampleConditions(),
		LearnedRules:        []string{"always check nil"},
	})
	require.NoError(t, err)
	assert.Contains(t, text, "func F(a int) bool")
	assert.Contains(t, text, "a > 0")
	assert.Contains(t, text, "always check nil")
	assert.Contains(t, text, `{"tests":[{"name":"...","code":"..."}]}`)
}

func TestRenderTargetedIncludesTargetCondition(t *testing.T) {
	m := NewPromptManager("")
	text, err := m.Render(PromptTargeted, PromptParams{
		FunctionSignature: "func F(a int) bool",
		TargetCondition:   "a > 0",
		PriorFailures:     []string{"compile error: unexpected }"},
	})
	require.NoError(t, err)
	assert.Contains(t, text, "a > 0")
	assert.Contains(t, text, "compile error: unexpected }")
}

func TestRenderBatchIncludesRecentErrorsAndSuite(t *testing.T) {
	m := NewPromptManager("")
	text, err := m.Render(PromptBatch, PromptParams{
		FunctionSignature: "func F(a int) bool",
		RecentSuiteNames:  []string{"test_1", "test_2"},
		RecentErrors:      []string{"nil pointer dereference"},
	})
	require.NoError(t, err)
	assert.Contains(t, text, "test_1")
	assert.Contains(t, text, "nil pointer dereference")
}

func TestRenderCapsUncoveredConditionsAtTen(t *testing.T) {
	var conditions []ConditionInfo
	for i := 0; i < 20; i++ {
		conditions = append(conditions, ConditionInfo{Expression: "cond"})
	}
	m := NewPromptManager("")
	text, err := m.Render(PromptInitialize, PromptParams{
		FunctionSignature:   "func F() bool",
		UncoveredConditions: conditions,
	})
	require.NoError(t, err)
	assert.Equal(t, 10, strings.Count(text, "- cond "))
}

func TestRenderCapsRecentSuiteNamesAtFiveKeepingMostRecent(t *testing.T) {
	names := []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7"}
	m := NewPromptManager("")
	text, err := m.Render(PromptBatch, PromptParams{
		FunctionSignature: "func F() bool",
		RecentSuiteNames:  names,
	})
	require.NoError(t, err)
	assert.NotContains(t, text, "t1\n")
	assert.Contains(t, text, "t7")
}

func TestTemplateDirectoryOverridesBuiltin(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "batch.tmpl"), []byte("CUSTOM {{.FunctionSignature}}"), 0o644))

	m := NewPromptManager(dir)
	text, err := m.Render(PromptBatch, PromptParams{FunctionSignature: "func G()"})
	require.NoError(t, err)
	assert.Equal(t, "CUSTOM func G()", text)
}

func TestTemplateIsCachedAfterFirstLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "batch.tmpl")
	require.NoError(t, os.WriteFile(path, []byte("V1 {{.FunctionSignature}}"), 0o644))

	m := NewPromptManager(dir)
	first, err := m.Render(PromptBatch, PromptParams{FunctionSignature: "f"})
	require.NoError(t, err)
	assert.Equal(t, "V1 f", first)

	require.NoError(t, os.WriteFile(path, []byte("V2 {{.FunctionSignature}}"), 0o644))
	second, err := m.Render(PromptBatch, PromptParams{FunctionSignature: "f"})
	require.NoError(t, err)
	assert.Equal(t, "V1 f", second, "template must be cached in memory after first load")
}
