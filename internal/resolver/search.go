package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SearchResult is a single web search hit handed back to the model.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher executes a web search on behalf of the resolution model.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// HTTPSearcher is a client for a JSON search API (Serper-style: POST /search
// with a query, X-API-KEY auth). It is the backing implementation for the
// model's web_search tool.
type HTTPSearcher struct {
	baseURL    string
	apiKey     string
	maxResults int
	httpClient *http.Client
}

// NewHTTPSearcher creates a search client. maxResults caps how many hits are
// forwarded to the model per tool call; values below 1 default to 5.
func NewHTTPSearcher(baseURL, apiKey string, maxResults int) *HTTPSearcher {
	if maxResults < 1 {
		maxResults = 5
	}
	return &HTTPSearcher{
		baseURL:    baseURL,
		apiKey:     apiKey,
		maxResults: maxResults,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type searchRequest struct {
	Query string `json:"q"`
	Num   int    `json:"num"`
}

type searchResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

// Search performs one search call and returns at most maxResults hits.
func (s *HTTPSearcher) Search(ctx context.Context, query string) ([]SearchResult, error) {
	payload, err := json.Marshal(searchRequest{Query: query, Num: s.maxResults})
	if err != nil {
		return nil, fmt.Errorf("resolver/search: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("resolver/search: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-KEY", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolver/search: do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("resolver/search: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("resolver/search: status %d: %s", resp.StatusCode, string(body))
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("resolver/search: decode response: %w", err)
	}

	results := make([]SearchResult, 0, len(parsed.Organic))
	for _, hit := range parsed.Organic {
		results = append(results, SearchResult{
			Title:   hit.Title,
			URL:     hit.Link,
			Snippet: hit.Snippet,
		})
		if len(results) >= s.maxResults {
			break
		}
	}
	return results, nil
}
