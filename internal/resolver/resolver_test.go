package resolver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predictfi/settlebot/internal/domain"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role       string `json:"role"`
		Content    string `json:"content"`
		ToolCallID string `json:"tool_call_id,omitempty"`
	} `json:"messages"`
	Tools []struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	} `json:"tools,omitempty"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

// fakeProvider is an OpenAI-compatible chat completion endpoint whose replies
// are scripted per call.
type fakeProvider struct {
	t        *testing.T
	requests []chatRequest
	respond  func(call int, req chatRequest) string
}

func (p *fakeProvider) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(p.t, err)

		var req chatRequest
		require.NoError(p.t, json.Unmarshal(body, &req))
		p.requests = append(p.requests, req)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(p.respond(len(p.requests), req)))
	}
}

func textReply(content string) string {
	msg := map[string]any{
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message": map[string]any{
				"role":    "assistant",
				"content": content,
			},
		}},
	}
	b, _ := json.Marshal(msg)
	return string(b)
}

func toolCallReply(query string) string {
	args, _ := json.Marshal(map[string]string{"query": query})
	msg := map[string]any{
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "tool_calls",
			"message": map[string]any{
				"role":    "assistant",
				"content": "",
				"tool_calls": []map[string]any{{
					"id":   "call_1",
					"type": "function",
					"function": map[string]any{
						"name":      "web_search",
						"arguments": string(args),
					},
				}},
			},
		}},
	}
	b, _ := json.Marshal(msg)
	return string(b)
}

type fakeSearcher struct {
	queries []string
	results []SearchResult
	err     error
}

func (s *fakeSearcher) Search(_ context.Context, query string) ([]SearchResult, error) {
	s.queries = append(s.queries, query)
	return s.results, s.err
}

func newTestResolver(t *testing.T, provider *fakeProvider, search Searcher) *Resolver {
	t.Helper()
	srv := httptest.NewServer(provider.handler())
	t.Cleanup(srv.Close)

	r, err := New(Config{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		Model:      "test-model",
		StepBudget: 3,
	}, search, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return r
}

func TestResolveDirectAnswer(t *testing.T) {
	provider := &fakeProvider{t: t, respond: func(_ int, _ chatRequest) string {
		return textReply(`{"result":"YES","confidence":8700}`)
	}}
	r := newTestResolver(t, provider, &fakeSearcher{})

	verdict, ev, err := r.Resolve(context.Background(), Question{Title: "Did the Lakers win the 2025 NBA Finals?"})
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictYes, verdict.Result)
	assert.Equal(t, 8700, verdict.Confidence)
	assert.Equal(t, 1, ev.Steps)
	assert.Equal(t, `{"result":"YES","confidence":8700}`, ev.RawOutput)

	require.Len(t, provider.requests, 1)
	assert.NotEmpty(t, provider.requests[0].Tools, "non-final steps must offer the search tool")
}

func TestResolveWithSearch(t *testing.T) {
	provider := &fakeProvider{t: t, respond: func(call int, _ chatRequest) string {
		if call == 1 {
			return toolCallReply("lakers 2025 nba finals result")
		}
		return textReply(`{"result":"NO","confidence":9200}`)
	}}
	search := &fakeSearcher{results: []SearchResult{{Title: "Finals recap", URL: "https://example.com", Snippet: "..."}}}
	r := newTestResolver(t, provider, search)

	verdict, ev, err := r.Resolve(context.Background(), Question{Title: "Did the Lakers win the 2025 NBA Finals?"})
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictNo, verdict.Result)
	assert.Equal(t, []string{"lakers 2025 nba finals result"}, search.queries)
	assert.Equal(t, []string{"lakers 2025 nba finals result"}, ev.SearchQueries)
	assert.Equal(t, 2, ev.Steps)

	// The second request carries the tool result back to the model.
	require.Len(t, provider.requests, 2)
	second := provider.requests[1]
	var sawToolMsg bool
	for _, m := range second.Messages {
		if m.Role == "tool" && m.ToolCallID == "call_1" {
			sawToolMsg = true
		}
	}
	assert.True(t, sawToolMsg)
}

func TestResolveStepBudgetForcesAnswer(t *testing.T) {
	// The provider asks for a search on every turn it is allowed to. The
	// final step carries no tools, so it must answer.
	provider := &fakeProvider{t: t, respond: func(call int, req chatRequest) string {
		if len(req.Tools) > 0 {
			return toolCallReply("another query")
		}
		return textReply(`{"result":"INCONCLUSIVE","confidence":1200}`)
	}}
	r := newTestResolver(t, provider, &fakeSearcher{})

	verdict, ev, err := r.Resolve(context.Background(), Question{Title: "Will it rain tomorrow?"})
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictInconclusive, verdict.Result)
	assert.Equal(t, 3, ev.Steps)

	require.Len(t, provider.requests, 3)
	last := provider.requests[2]
	assert.Empty(t, last.Tools, "final step must not offer tools")
	require.NotNil(t, last.ResponseFormat)
	assert.Equal(t, "json_object", last.ResponseFormat.Type)
}

func TestResolveRejectsUnstructuredOutput(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{"prose", "The Lakers won, so the answer is YES."},
		{"markdown fence", "```json\n{\"result\":\"YES\",\"confidence\":8700}\n```"},
		{"extra field", `{"result":"YES","confidence":8700,"reason":"sources agree"}`},
		{"float confidence", `{"result":"YES","confidence":0.87}`},
		{"out of range", `{"result":"YES","confidence":20000}`},
		{"unknown result", `{"result":"PROBABLY","confidence":5000}`},
		{"trailing data", `{"result":"YES","confidence":8700}{"result":"NO","confidence":1}`},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeProvider{t: t, respond: func(_ int, _ chatRequest) string {
				return textReply(tt.output)
			}}
			r := newTestResolver(t, provider, &fakeSearcher{})

			_, ev, err := r.Resolve(context.Background(), Question{Title: "Did X happen?"})
			require.ErrorIs(t, err, domain.ErrNoStructuredOutput)
			assert.NotErrorIs(t, err, domain.ErrResolverUnavailable)
			assert.Equal(t, tt.output, ev.RawOutput)
		})
	}
}

func TestResolveProviderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	r, err := New(Config{APIKey: "k", BaseURL: srv.URL}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	_, _, err = r.Resolve(context.Background(), Question{Title: "Did X happen?"})
	require.ErrorIs(t, err, domain.ErrResolverUnavailable)
	assert.NotErrorIs(t, err, domain.ErrNoStructuredOutput)
}

func TestResolveFallbackLiteralParses(t *testing.T) {
	provider := &fakeProvider{t: t, respond: func(_ int, _ chatRequest) string {
		return textReply(fallbackLiteral)
	}}
	r := newTestResolver(t, provider, &fakeSearcher{})

	verdict, _, err := r.Resolve(context.Background(), Question{Title: "Something unverifiable"})
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictInconclusive, verdict.Result)
	assert.Equal(t, 0, verdict.Confidence)
	assert.Equal(t, domain.OutcomeInconclusive, domain.OutcomeForVerdict(verdict.Result))
}

func TestResolveSearchFailureIsReportedToModel(t *testing.T) {
	provider := &fakeProvider{t: t, respond: func(call int, _ chatRequest) string {
		if call == 1 {
			return toolCallReply("q")
		}
		return textReply(`{"result":"INCONCLUSIVE","confidence":0}`)
	}}
	search := &fakeSearcher{err: context.DeadlineExceeded}
	r := newTestResolver(t, provider, search)

	verdict, _, err := r.Resolve(context.Background(), Question{Title: "Did X happen?"})
	require.NoError(t, err, "a failed search must not fail the resolution")
	assert.Equal(t, domain.VerdictInconclusive, verdict.Result)
}

func TestCacheKeyDependsOnForwardedData(t *testing.T) {
	a := Question{Title: "Did X happen?", Criteria: "Resolves YES if X."}
	b := Question{Title: "Did X happen?", Criteria: "Different rules."}

	assert.Equal(t, a.CacheKey(false), b.CacheKey(false))
	assert.NotEqual(t, a.CacheKey(true), b.CacheKey(true))
	assert.NotEqual(t, a.CacheKey(true), a.CacheKey(false))
}
