package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/predictfi/settlebot/internal/domain"
)

// maxPromptBytes caps the request body for the resolution endpoint.
const maxPromptBytes = 16 << 10

// Resolver answers ad-hoc market questions with a structured verdict.
type Resolver interface {
	Resolve(ctx context.Context, prompt string) (domain.Verdict, error)
}

// ResolveHandler serves the raw resolution endpoint.
type ResolveHandler struct {
	resolver Resolver
	logger   *slog.Logger
}

// NewResolveHandler creates a ResolveHandler.
func NewResolveHandler(resolver Resolver, logger *slog.Logger) *ResolveHandler {
	return &ResolveHandler{resolver: resolver, logger: logger}
}

type resolveRequest struct {
	Prompt string `json:"prompt"`
}

// Resolve runs the outcome resolver on a caller-supplied question. The
// response carries either the structured verdict or a JSON error on a
// non-2xx status; it never returns free-form model text.
// POST /api/resolve
func (h *ResolveHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	body := http.MaxBytesReader(w, r.Body, maxPromptBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	verdict, err := h.resolver.Resolve(r.Context(), req.Prompt)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "resolution failed",
			slog.String("error", err.Error()),
		)
		switch {
		case errors.Is(err, domain.ErrNoStructuredOutput):
			writeError(w, http.StatusBadGateway, "model did not produce a structured verdict")
		case errors.Is(err, domain.ErrResolverUnavailable):
			writeError(w, http.StatusBadGateway, "resolution service unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "resolution failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"output": verdict,
	})
}
