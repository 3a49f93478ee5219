package lats

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
)

// PromptMode selects which of the three rendering modes a request uses.
type PromptMode string

const (
	PromptInitialize PromptMode = "initialize"
	PromptTargeted   PromptMode = "targeted"
	PromptBatch      PromptMode = "batch"
)

const (
	maxUncoveredInPrompt = 10
	maxRecentSuiteNames  = 5
	maxRecentErrors      = 5
)

// PromptParams carries everything a template may reference. Every mode
// ignores the fields it does not use.
type PromptParams struct {
	FunctionSignature string
	FunctionCode      string
	Context           string
	LearnedRules      []string
	RequestedCount    int

	UncoveredConditions []ConditionInfo // capped by the manager before rendering

	TargetCondition string
	SimilarTests    []string
	PriorFailures   []string

	RecentSuiteNames []string
	RecentErrors     []string
}

// defaultTemplates are used when a mode's file is absent from the template
// directory, so the manager always has something to render.
var defaultTemplates = map[PromptMode]string{
	PromptInitialize: `Write {{.RequestedCount}} foundational unit tests for:

{{.FunctionSignature}}

{{.FunctionCode}}
{{if .Context}}
Ambient context:
{{.Context}}
{{end}}{{if .UncoveredConditions}}
Conditions to exercise:
{{range .UncoveredConditions}}- {{.Expression}} (need_true={{.NeedTrue}}, need_false={{.NeedFalse}})
{{end}}{{end}}{{if .LearnedRules}}
Rules learned from earlier attempts:
{{range .LearnedRules}}- {{.}}
{{end}}{{end}}
Respond with JSON: {"tests":[{"name":"...","code":"..."}]}.`,

	PromptTargeted: `Write one unit test that specifically exercises this condition:

{{.TargetCondition}}

Function under test:
{{.FunctionSignature}}

{{.FunctionCode}}
{{if .SimilarTests}}
Similar existing tests:
{{range .SimilarTests}}{{.}}
{{end}}{{end}}{{if .PriorFailures}}
Prior failed attempts for this condition:
{{range .PriorFailures}}- {{.}}
{{end}}{{end}}{{if .LearnedRules}}
Rules learned from earlier attempts:
{{range .LearnedRules}}- {{.}}
{{end}}{{end}}
Respond with JSON: {"tests":[{"name":"...","code":"..."}]}.`,

	PromptBatch: `Extend the test suite for:

{{.FunctionSignature}}

{{.FunctionCode}}
{{if .RecentSuiteNames}}
Suite so far (most recent):
{{range .RecentSuiteNames}}- {{.}}
{{end}}{{end}}{{if .UncoveredConditions}}
Conditions still uncovered:
{{range .UncoveredConditions}}- {{.Expression}} (need_true={{.NeedTrue}}, need_false={{.NeedFalse}})
{{end}}{{end}}{{if .LearnedRules}}
Rules learned from earlier attempts:
{{range .LearnedRules}}- {{.}}
{{end}}{{end}}{{if .RecentErrors}}
Recent execution errors to avoid repeating:
{{range .RecentErrors}}- {{.}}
{{end}}{{end}}
Respond with JSON: {"tests":[{"name":"...","code":"..."}]}.`,
}

// PromptManager renders one of the three prompt modes from templates
// loaded from a well-known directory and cached in memory on first use.
type PromptManager struct {
	dir string

	mu        sync.Mutex
	templates map[PromptMode]*template.Template
}

// NewPromptManager points a manager at dir (where {mode}.tmpl files, if
// present, override the built-in defaults).
func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{dir: dir, templates: make(map[PromptMode]*template.Template)}
}

func (m *PromptManager) load(mode PromptMode) (*template.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.templates[mode]; ok {
		return t, nil
	}

	body := defaultTemplates[mode]
	if m.dir != "" {
		path := filepath.Join(m.dir, string(mode)+".tmpl")
		if data, err := os.ReadFile(path); err == nil {
			body = string(data)
		}
	}

	t, err := template.New(string(mode)).Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse %s template: %w", mode, err)
	}
	m.templates[mode] = t
	return t, nil
}

// Render produces the prompt text for mode against params. Uncovered
// conditions are capped to the first maxUncoveredInPrompt before the
// template sees them.
func (m *PromptManager) Render(mode PromptMode, params PromptParams) (string, error) {
	if len(params.UncoveredConditions) > maxUncoveredInPrompt {
		params.UncoveredConditions = params.UncoveredConditions[:maxUncoveredInPrompt]
	}
	if len(params.RecentSuiteNames) > maxRecentSuiteNames {
		params.RecentSuiteNames = params.RecentSuiteNames[len(params.RecentSuiteNames)-maxRecentSuiteNames:]
	}
	if len(params.RecentErrors) > maxRecentErrors {
		params.RecentErrors = params.RecentErrors[len(params.RecentErrors)-maxRecentErrors:]
	}

	t, err := m.load(mode)
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	if err := t.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("render %s template: %w", mode, err)
	}
	return buf.String(), nil
}
