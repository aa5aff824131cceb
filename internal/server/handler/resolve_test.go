package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predictfi/settlebot/internal/domain"
)

type stubResolver struct {
	verdict domain.Verdict
	err     error
	prompts []string
}

func (s *stubResolver) Resolve(_ context.Context, prompt string) (domain.Verdict, error) {
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return domain.Verdict{}, s.err
	}
	return s.verdict, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func doResolve(t *testing.T, resolver Resolver, body string) *httptest.ResponseRecorder {
	t.Helper()
	h := NewResolveHandler(resolver, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/resolve", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.Resolve(rr, req)
	return rr
}

func TestResolveReturnsVerdictEnvelope(t *testing.T) {
	stub := &stubResolver{verdict: domain.Verdict{Result: domain.VerdictYes, Confidence: 8700}}

	rr := doResolve(t, stub, `{"prompt":"Did the Lakers win the 2025 NBA Finals?"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Output domain.Verdict `json:"output"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, domain.VerdictYes, resp.Output.Result)
	assert.Equal(t, 8700, resp.Output.Confidence)
	assert.Equal(t, []string{"Did the Lakers win the 2025 NBA Finals?"}, stub.prompts)
}

func TestResolveRejectsBadRequests(t *testing.T) {
	stub := &stubResolver{}

	rr := doResolve(t, stub, `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doResolve(t, stub, `not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	assert.Empty(t, stub.prompts, "invalid requests must not reach the resolver")
}

func TestResolveMapsFailuresToErrorEnvelope(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unstructured output", domain.ErrNoStructuredOutput, http.StatusBadGateway},
		{"provider down", domain.ErrResolverUnavailable, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doResolve(t, &stubResolver{err: tt.err}, `{"prompt":"Did X happen?"}`)
			require.Equal(t, tt.want, rr.Code)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp["error"])
			assert.NotContains(t, rr.Body.String(), "output")
		})
	}
}
