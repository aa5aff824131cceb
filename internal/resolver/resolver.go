// Package resolver turns an untrusted market question into a structured
// verdict by querying a search-augmented language model and gating its output
// through a strict schema. It guarantees output shape, never correctness: the
// model is a best-effort oracle, and everything that fails the gate degrades
// to an inconclusive resolution failure instead of a guessed outcome.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/predictfi/settlebot/internal/domain"
)

const (
	defaultModel      = "gemini-3-pro-preview"
	defaultStepBudget = 3
	defaultMaxTokens  = 800
	defaultTimeout    = 90 * time.Second
)

// searchToolName is the function name the model calls to search the web.
const searchToolName = "web_search"

// searchToolParams is the JSON schema for the web_search tool arguments.
var searchToolParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {
			"type": "string",
			"description": "The web search query."
		}
	},
	"required": ["query"]
}`)

// Config holds resolver settings.
type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	Temperature     float32
	MaxTokens       int
	Timeout         time.Duration
	StepBudget      int
	IncludeCriteria bool
}

// Resolver is the outcome resolver. It owns no state beyond its provider
// client; every call is a single request/response cycle bounded by the step
// budget.
type Resolver struct {
	api             *openai.Client
	search          Searcher
	model           string
	temperature     float32
	maxTokens       int
	timeout         time.Duration
	stepBudget      int
	includeCriteria bool
	logger          *slog.Logger
}

// Evidence is the record of one resolution attempt: the exact final model
// output plus interaction metadata. It is archived alongside the settlement
// so the on-chain evidence reference points at something auditable.
type Evidence struct {
	Model         string    `json:"model"`
	Question      string    `json:"question"`
	Steps         int       `json:"steps"`
	SearchQueries []string  `json:"search_queries,omitempty"`
	RawOutput     string    `json:"raw_output"`
	ResolvedAt    time.Time `json:"resolved_at"`
}

// New creates a Resolver from config. search may be nil, in which case the
// model gets no tool and must answer from its own knowledge.
func New(cfg Config, search Searcher, logger *slog.Logger) (*Resolver, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("resolver: API key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	stepBudget := cfg.StepBudget
	if stepBudget <= 0 {
		stepBudget = defaultStepBudget
	}

	apiCfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	return &Resolver{
		api:             openai.NewClientWithConfig(apiCfg),
		search:          search,
		model:           model,
		temperature:     cfg.Temperature,
		maxTokens:       maxTokens,
		timeout:         timeout,
		stepBudget:      stepBudget,
		includeCriteria: cfg.IncludeCriteria,
		logger:          logger.With(slog.String("component", "resolver")),
	}, nil
}

// IncludeCriteria reports whether resolution criteria are forwarded to the
// model alongside the question title.
func (r *Resolver) IncludeCriteria() bool {
	return r.includeCriteria
}

// Resolve determines the outcome of the given market question. On success the
// returned verdict satisfies domain.Verdict.Validate. Failures are classified:
// domain.ErrNoStructuredOutput when the model's final output fails the schema
// gate, domain.ErrResolverUnavailable for transport or provider errors. The
// returned Evidence is populated in both cases so failed attempts remain
// auditable.
func (r *Resolver) Resolve(ctx context.Context, q Question) (domain.Verdict, Evidence, error) {
	ev := Evidence{
		Model:      r.model,
		Question:   q.Title,
		ResolvedAt: time.Now().UTC(),
	}
	if strings.TrimSpace(q.Title) == "" {
		return domain.Verdict{}, ev, fmt.Errorf("resolver: question must not be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemInstruction},
		{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(q, r.includeCriteria)},
	}

	var tools []openai.Tool
	if r.search != nil {
		tools = []openai.Tool{{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        searchToolName,
				Description: "Search the web for current, factual information.",
				Parameters:  searchToolParams,
			},
		}}
	}

	// The step budget bounds the tool-use loop: the final step carries no
	// tools, forcing an answer, so the loop terminates regardless of model
	// behavior.
	for step := 1; step <= r.stepBudget; step++ {
		ev.Steps = step
		final := step == r.stepBudget

		req := openai.ChatCompletionRequest{
			Model:       r.model,
			Messages:    messages,
			MaxTokens:   r.maxTokens,
			Temperature: r.temperature,
		}
		if !final && tools != nil {
			req.Tools = tools
		} else {
			req.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			}
		}

		resp, err := r.api.CreateChatCompletion(ctx, req)
		if err != nil {
			return domain.Verdict{}, ev, fmt.Errorf("resolver: completion step %d: %w: %v",
				step, domain.ErrResolverUnavailable, err)
		}
		if len(resp.Choices) == 0 {
			return domain.Verdict{}, ev, fmt.Errorf("resolver: empty response at step %d: %w",
				step, domain.ErrResolverUnavailable)
		}

		msg := resp.Choices[0].Message

		if len(msg.ToolCalls) > 0 && !final {
			messages = append(messages, msg)
			messages = append(messages, r.runToolCalls(ctx, msg.ToolCalls, &ev)...)
			continue
		}

		ev.RawOutput = msg.Content
		verdict, err := parseVerdict(msg.Content)
		if err != nil {
			r.logger.WarnContext(ctx, "model output failed schema gate",
				slog.Int("step", step),
				slog.String("error", err.Error()),
			)
			return domain.Verdict{}, ev, err
		}

		r.logger.InfoContext(ctx, "question resolved",
			slog.String("result", string(verdict.Result)),
			slog.Int("confidence", verdict.Confidence),
			slog.Int("steps", step),
		)
		return verdict, ev, nil
	}

	// Unreachable while stepBudget >= 1; kept so the compiler and the reader
	// agree the loop cannot fall through to success.
	return domain.Verdict{}, ev, fmt.Errorf("resolver: step budget exhausted: %w", domain.ErrNoStructuredOutput)
}

// runToolCalls executes the model's search requests and returns the tool
// response messages. Search failures are reported back to the model as data
// rather than failing the resolution; the model can still answer or fall back
// to the inconclusive literal.
func (r *Resolver) runToolCalls(ctx context.Context, calls []openai.ToolCall, ev *Evidence) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(calls))
	for _, call := range calls {
		content := r.runSearchCall(ctx, call, ev)
		out = append(out, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Name:       call.Function.Name,
			ToolCallID: call.ID,
			Content:    content,
		})
	}
	return out
}

func (r *Resolver) runSearchCall(ctx context.Context, call openai.ToolCall, ev *Evidence) string {
	if call.Function.Name != searchToolName {
		return fmt.Sprintf(`{"error":"unknown tool %q"}`, call.Function.Name)
	}

	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil || strings.TrimSpace(args.Query) == "" {
		return `{"error":"invalid web_search arguments"}`
	}

	ev.SearchQueries = append(ev.SearchQueries, args.Query)

	results, err := r.search.Search(ctx, args.Query)
	if err != nil {
		r.logger.WarnContext(ctx, "web search failed",
			slog.String("query", args.Query),
			slog.String("error", err.Error()),
		)
		return `{"error":"search unavailable"}`
	}

	payload, err := json.Marshal(map[string]any{"results": results})
	if err != nil {
		return `{"error":"search unavailable"}`
	}
	return string(payload)
}

// parseVerdict applies the schema gate to the model's final output. Anything
// other than a single JSON object with exactly the two expected keys, an
// enumerated result, and an in-range integer confidence is classified as
// domain.ErrNoStructuredOutput.
func parseVerdict(raw string) (domain.Verdict, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return domain.Verdict{}, fmt.Errorf("resolver: empty model output: %w", domain.ErrNoStructuredOutput)
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.DisallowUnknownFields()

	var v domain.Verdict
	if err := dec.Decode(&v); err != nil {
		return domain.Verdict{}, fmt.Errorf("resolver: decode output: %w: %v", domain.ErrNoStructuredOutput, err)
	}
	if dec.More() {
		return domain.Verdict{}, fmt.Errorf("resolver: trailing data after verdict: %w", domain.ErrNoStructuredOutput)
	}
	if err := v.Validate(); err != nil {
		return domain.Verdict{}, fmt.Errorf("resolver: %v: %w", err, domain.ErrNoStructuredOutput)
	}
	return v, nil
}

// IsResolutionFailure reports whether err is one of the resolver's two
// failure classes, both of which must degrade to manual resolution.
func IsResolutionFailure(err error) bool {
	return errors.Is(err, domain.ErrNoStructuredOutput) ||
		errors.Is(err, domain.ErrResolverUnavailable)
}
