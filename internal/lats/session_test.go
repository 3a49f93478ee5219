package lats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time { return current }
}

func TestGetOrCreateReturnsSameObjectOnSecondCall(t *testing.T) {
	m := NewContextManager(time.Hour)
	first := m.GetOrCreate("s1", "sig", "path", "code", "", 0.95, 100, 1000)
	second := m.GetOrCreate("s1", "different sig", "different path", "", "", 0.5, 5, 1)

	assert.Same(t, first, second)
	assert.Equal(t, "sig", second.FunctionSignature, "GetOrCreate must not overwrite an existing session")
}

func TestUpdateLearnedRulesDedupes(t *testing.T) {
	m := NewContextManager(time.Hour)
	m.GetOrCreate("s1", "sig", "path", "", "", 0.95, 100, 1000)

	m.UpdateLearnedRules("s1", "always nil-check")
	m.UpdateLearnedRules("s1", "always nil-check")
	m.UpdateLearnedRules("s1", "cover the error branch")

	session, ok := m.Get("s1")
	require.True(t, ok)
	assert.Equal(t, []string{"always nil-check", "cover the error branch"}, session.LearnedRules)
}

func TestAddTokenUsageAccumulatesAndBudget(t *testing.T) {
	m := NewContextManager(time.Hour)
	m.GetOrCreate("s1", "sig", "path", "", "", 0.95, 100, 1000)

	m.AddTokenUsage("s1", 600, 500)

	session, ok := m.Get("s1")
	require.True(t, ok)
	assert.Equal(t, 1100, session.TotalTokens())
	assert.Equal(t, 0, session.TokensRemaining())
	assert.True(t, session.BudgetExceeded())
}

func TestRemoveReturnsFalseForUnknownSession(t *testing.T) {
	m := NewContextManager(time.Hour)
	assert.False(t, m.Remove("missing"))

	m.GetOrCreate("s1", "sig", "path", "", "", 0.95, 100, 1000)
	assert.True(t, m.Remove("s1"))
	_, ok := m.Get("s1")
	assert.False(t, ok)
}

func TestCleanupExpiredEvictsOnlyStaleSessions(t *testing.T) {
	start := time.Now()
	m := NewContextManager(time.Minute)
	clock := fixedClock(start)
	m.now = clock

	m.GetOrCreate("stale", "sig", "path", "", "", 0.95, 100, 1000)

	clock2 := fixedClock(start.Add(2 * time.Minute))
	m.now = clock2
	m.GetOrCreate("fresh", "sig", "path", "", "", 0.95, 100, 1000)

	evicted := m.CleanupExpired()
	assert.Equal(t, 1, evicted)

	_, staleOK := m.Get("stale")
	_, freshOK := m.Get("fresh")
	assert.False(t, staleOK)
	assert.True(t, freshOK)
}

func TestCleanupExpiredIsIdempotentOnQuiescentCache(t *testing.T) {
	m := NewContextManager(time.Hour)
	m.GetOrCreate("s1", "sig", "path", "", "", 0.95, 100, 1000)

	first := m.CleanupExpired()
	second := m.CleanupExpired()
	assert.Equal(t, 0, first)
	assert.Equal(t, 0, second)
}

func TestActiveIDsAndStats(t *testing.T) {
	m := NewContextManager(time.Hour)
	m.GetOrCreate("s1", "sig", "path", "", "", 0.95, 100, 1000)
	m.GetOrCreate("s2", "sig", "path", "", "", 0.95, 100, 1000)
	m.AddTokenUsage("s1", 10, 20)

	ids := m.ActiveIDs()
	assert.ElementsMatch(t, []string{"s1", "s2"}, ids)

	stats := m.Stats()
	require.Len(t, stats, 2)
	for _, st := range stats {
		if st.SessionID == "s1" {
			assert.Equal(t, 30, st.TotalTokens)
		}
	}
}
