package lats

import (
	"sync"
	"time"
)

// SessionContext is the per-search mutable cache: function metadata,
// accumulated learned rules, and the token budget a search is allowed to
// spend. A session outlives a single search request so repeat requests
// against the same session_id resume with the rules already learned.
type SessionContext struct {
	SessionID         string
	FunctionSignature string
	FunctionPath      string
	FunctionCode      string
	Context           string
	CoverageTarget    float64
	MaxIterations     int

	LearnedRules []string

	PromptTokens     int
	CompletionTokens int
	MaxTokens        int

	CreatedAt    time.Time
	LastAccessed time.Time
}

// TotalTokens is the sum of prompt and completion tokens spent so far.
func (s *SessionContext) TotalTokens() int { return s.PromptTokens + s.CompletionTokens }

// TokensRemaining is max(0, max_tokens - total_tokens).
func (s *SessionContext) TokensRemaining() int {
	remaining := s.MaxTokens - s.TotalTokens()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// BudgetExceeded reports whether the session has spent its full token budget.
func (s *SessionContext) BudgetExceeded() bool { return s.TotalTokens() >= s.MaxTokens }

func (s *SessionContext) addLearnedRule(rule string) {
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

// SessionStats summarizes one session for the GET /sessions listing.
type SessionStats struct {
	SessionID    string
	TotalTokens  int
	CreatedAt    time.Time
	LastAccessed time.Time
}

// ContextManager is the process-wide session cache: one mutual-exclusion
// lock guards the whole map, and every operation holds it for its full
// read/modify cycle. It is the only place SessionContext values are
// mutated, matching the single-lock design the controller relies on.
type ContextManager struct {
	mu       sync.Mutex
	sessions map[string]*SessionContext
	ttl      time.Duration
	now      func() time.Time
}

// NewContextManager builds an empty cache with the given eviction TTL.
func NewContextManager(ttl time.Duration) *ContextManager {
	return &ContextManager{
		sessions: make(map[string]*SessionContext),
		ttl:      ttl,
		now:      time.Now,
	}
}

// GetOrCreate returns the existing session for id, or creates one seeded
// from the supplied request fields. Calling it twice with the same id
// returns the same context object without overwriting learned_rules or
// token counters.
func (m *ContextManager) GetOrCreate(id, functionSignature, functionPath, functionCode, context string, coverageTarget float64, maxIterations, maxTokens int) *SessionContext {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		s.LastAccessed = m.now()
		return s
	}

	now := m.now()
	s := &SessionContext{
		SessionID:         id,
		FunctionSignature: functionSignature,
		FunctionPath:      functionPath,
		FunctionCode:      functionCode,
		Context:           context,
		CoverageTarget:    coverageTarget,
		MaxIterations:     maxIterations,
		MaxTokens:         maxTokens,
		CreatedAt:         now,
		LastAccessed:      now,
	}
	m.sessions[id] = s
	return s
}

// Get looks up a session by id, bumping LastAccessed on a hit.
func (m *ContextManager) Get(id string) (*SessionContext, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if ok {
		s.LastAccessed = m.now()
	}
	return s, ok
}

// UpdateLearnedRules appends rule to the session's deduplicating list.
func (m *ContextManager) UpdateLearnedRules(id, rule string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	s.addLearnedRule(rule)
	s.LastAccessed = m.now()
}

// AddTokenUsage accrues prompt/completion token counts onto the session.
func (m *ContextManager) AddTokenUsage(id string, prompt, completion int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	s.PromptTokens += prompt
	s.CompletionTokens += completion
	s.LastAccessed = m.now()
}

// Remove deletes a session explicitly. Returns true if it existed.
func (m *ContextManager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	return true
}

// CleanupExpired evicts every session whose LastAccessed is older than the
// configured TTL and returns the number evicted. Idempotent on a quiescent
// cache: a second call with no intervening access finds nothing to do.
func (m *ContextManager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	evicted := 0
	for id, s := range m.sessions {
		if now.Sub(s.LastAccessed) > m.ttl {
			delete(m.sessions, id)
			evicted++
		}
	}
	return evicted
}

// ActiveIDs returns the session ids currently held, in no particular order.
func (m *ContextManager) ActiveIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Stats returns a summary of every active session, for GET /sessions.
func (m *ContextManager) Stats() []SessionStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionStats, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, SessionStats{
			SessionID:    s.SessionID,
			TotalTokens:  s.TotalTokens(),
			CreatedAt:    s.CreatedAt,
			LastAccessed: s.LastAccessed,
		})
	}
	return out
}
