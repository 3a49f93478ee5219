package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/latsforge/latsforge/internal/lats"
)

// searchRequestBody is the wire shape of LATSSearchRequest.
type searchRequestBody struct {
	SessionID         string  `json:"session_id"`
	FunctionSignature string  `json:"function_signature"`
	FunctionPath      string  `json:"function_path"`
	FunctionCode      string  `json:"function_code"`
	Context           string  `json:"context,omitempty"`
	CoverageTarget    float64 `json:"coverage_target"`
	MaxIterations     int     `json:"max_iterations"`
	CoverageType      string  `json:"coverage_type"`
}

type coverageDetailsBody struct {
	Statement float64 `json:"statement"`
	Branch    float64 `json:"branch"`
	MCDC      float64 `json:"mcdc"`
}

type searchResponseBody struct {
	SessionID            string               `json:"session_id"`
	Status               string               `json:"status"`
	TestNames            []string             `json:"test_names"`
	FinalCoverage        float64              `json:"final_coverage"`
	Iterations           int                  `json:"iterations"`
	TotalTestsGenerated  int                  `json:"total_tests_generated"`
	TotalTestsInSuite    int                  `json:"total_tests_in_suite"`
	TokensUsed           int                  `json:"tokens_used"`
	SearchTimeSeconds    float64              `json:"search_time_seconds"`
	LearnedRules         []string             `json:"learned_rules"`
	CoverageDetails      coverageDetailsBody  `json:"coverage_details"`
	ErrorMessage         string               `json:"error_message,omitempty"`
}

func (req searchRequestBody) validate() string {
	if req.FunctionSignature == "" {
		return "function_signature is required"
	}
	if req.FunctionPath == "" {
		return "function_path is required"
	}
	if req.CoverageTarget < 0 || req.CoverageTarget > 1 {
		return "coverage_target must be in [0,1]"
	}
	if req.MaxIterations != 0 && (req.MaxIterations < 1 || req.MaxIterations > 1000) {
		return "max_iterations must be in [1,1000]"
	}
	return ""
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body searchRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if msg := body.validate(); msg != "" {
		s.writeError(w, http.StatusBadRequest, msg)
		return
	}
	if body.SessionID == "" {
		body.SessionID = uuid.NewString()
	}
	if body.CoverageTarget == 0 {
		body.CoverageTarget = 0.95
	}
	if body.MaxIterations == 0 {
		body.MaxIterations = 100
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.searchTimeout())
	defer cancel()

	resp, err := s.controller.Search(ctx, lats.SearchRequest{
		SessionID:         body.SessionID,
		FunctionSignature: body.FunctionSignature,
		FunctionPath:      body.FunctionPath,
		FunctionCode:      body.FunctionCode,
		Context:           body.Context,
		CoverageTarget:    body.CoverageTarget,
		MaxIterations:     body.MaxIterations,
		CoverageType:      body.CoverageType,
	})

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			s.writeError(w, http.StatusRequestTimeout, "search timed out")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, toSearchResponseBody(resp))
}

func toSearchResponseBody(r lats.SearchResponse) searchResponseBody {
	return searchResponseBody{
		SessionID:           r.SessionID,
		Status:              string(r.Status),
		TestNames:           r.TestNames,
		FinalCoverage:       r.FinalCoverage,
		Iterations:          r.Iterations,
		TotalTestsGenerated: r.TotalTestsGenerated,
		TotalTestsInSuite:   r.TotalTestsInSuite,
		TokensUsed:          r.TokensUsed,
		SearchTimeSeconds:   r.SearchTimeSeconds,
		LearnedRules:        r.LearnedRules,
		CoverageDetails: coverageDetailsBody{
			Statement: r.CoverageDetails.Statement,
			Branch:    r.CoverageDetails.Branch,
			MCDC:      r.CoverageDetails.MCDC,
		},
		ErrorMessage: r.ErrorMessage,
	}
}

func (s *Server) searchTimeout() time.Duration {
	if s.config != nil && s.config.MCTS.MaxIterations > 0 && s.config.Executor.TimeoutSecs > 0 {
		perIteration := time.Duration(s.config.Executor.TimeoutSecs) * time.Second
		return perIteration * time.Duration(s.config.MCTS.MaxIterations)
	}
	return 5 * time.Minute
}

type sessionSummaryBody struct {
	SessionID    string `json:"session_id"`
	TotalTokens  int    `json:"total_tokens"`
	CreatedAt    string `json:"created_at"`
	LastAccessed string `json:"last_accessed"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	session, ok := s.sessions.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.writeJSON(w, http.StatusOK, sessionSummaryBody{
		SessionID:    session.SessionID,
		TotalTokens:  session.TotalTokens(),
		CreatedAt:    session.CreatedAt.UTC().Format(time.RFC3339),
		LastAccessed: session.LastAccessed.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.sessions.Remove(id) {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	stats := s.sessions.Stats()
	out := make([]sessionSummaryBody, 0, len(stats))
	for _, st := range stats {
		out = append(out, sessionSummaryBody{
			SessionID:    st.SessionID,
			TotalTokens:  st.TotalTokens,
			CreatedAt:    st.CreatedAt.UTC().Format(time.RFC3339),
			LastAccessed: st.LastAccessed.UTC().Format(time.RFC3339),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}
