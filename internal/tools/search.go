package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SearchClient calls the web-search backend (a SearXNG front). The backend
// enforces no limits of its own: timeout, result count and response size are
// all capped here, on the caller side.
type SearchClient struct {
	baseURL    string
	key        string
	maxResults int
	maxChars   int
	httpc      *http.Client
	log        *slog.Logger
}

// NewSearchClient builds a client for the search backend. url may be empty,
// in which case the tool reports itself unconfigured at call time.
func NewSearchClient(baseURL, key string, timeout time.Duration, maxResults, maxChars int, log *slog.Logger) *SearchClient {
	if timeout <= 0 {
		timeout = 6 * time.Second
	}
	if maxResults <= 0 {
		maxResults = 8
	}
	if maxChars <= 0 {
		maxChars = 6000
	}
	return &SearchClient{
		baseURL:    baseURL,
		key:        key,
		maxResults: maxResults,
		maxChars:   maxChars,
		httpc:      &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Configured reports whether a backend URL is set.
func (c *SearchClient) Configured() bool {
	return c != nil && c.baseURL != ""
}

// SearchInput is the model-facing argument shape for search_web.
type SearchInput struct {
	Query        string `json:"query" jsonschema_description:"Search query."`
	FocusMode    string `json:"focus_mode,omitempty" jsonschema:"enum=webSearch,enum=academicSearch,enum=wolframAlphaSearch,enum=youtubeSearch,enum=imageSearch,enum=socialSearch,enum=newsSearch" jsonschema_description:"Optional focus mode to steer engines/categories."`
	Question     string `json:"question,omitempty" jsonschema_description:"User question prompting the search (optional)."`
	UserLanguage string `json:"user_language,omitempty" jsonschema_description:"User language hint, e.g. 'fr' or 'en' (optional)."`
	Context      string `json:"context,omitempty" jsonschema_description:"Optional context to help summarize results."`
}

// Definition returns the search_web tool definition bound to this client.
func (c *SearchClient) Definition() Definition {
	return Definition{
		Name:        "search_web",
		Description: "Perform a web search via the search backend (SearXNG) with optional focus modes.",
		InputSchema: GenerateSchema[SearchInput](),
		Handler: func(ctx context.Context, input json.RawMessage, _ Context) (string, error) {
			var in SearchInput
			if err := json.Unmarshal(input, &in); err != nil {
				return "", fmt.Errorf("invalid search_web input: %w", err)
			}
			return c.Search(ctx, in), nil
		},
	}
}

// Search performs the search and returns a model-facing text result. Backend
// failures are reported in the result text so the model can react to them.
func (c *SearchClient) Search(ctx context.Context, in SearchInput) string {
	if !c.Configured() {
		return "Websearch backend not configured."
	}
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return "Missing required parameter: query"
	}
	focus := strings.TrimSpace(in.FocusMode)
	if focus == "" {
		focus = focusModeFor(query, in.Question, in.Context)
	}

	form := url.Values{}
	form.Set("q", query)
	form.Set("format", "json")
	form.Set("focus_mode", focus)

	finalURL := c.baseURL
	if c.key != "" && !strings.Contains(finalURL, "code=") {
		sep := "?"
		if strings.Contains(finalURL, "?") {
			sep = "&"
		}
		finalURL += sep + "code=" + c.key
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, finalURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "websearch call failed: " + redactSecrets(err.Error())
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	c.log.Debug("websearch request", "focus", focus, "query_len", len(query))
	resp, err := c.httpc.Do(req)
	if err != nil {
		return "websearch call failed: " + redactSecrets(err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "websearch call failed: " + redactSecrets(err.Error())
	}
	text := string(body)
	if resp.StatusCode >= 400 {
		return fmt.Sprintf("websearch error %d: %s", resp.StatusCode, truncate(redactSecrets(text), 500))
	}
	return truncate(c.extractResult(text), c.maxChars)
}

// extractResult prefers structured fields, then a formatted results list,
// then compact JSON, then raw text.
func (c *SearchClient) extractResult(text string) string {
	var data map[string]any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		if strings.TrimSpace(text) == "" {
			return "No search results returned by the websearch service."
		}
		return text
	}
	for _, key := range []string{"output_text", "summary", "result", "content"} {
		if val, ok := data[key].(string); ok && strings.TrimSpace(val) != "" {
			return val
		}
	}
	if results, ok := data["results"].([]any); ok && len(results) > 0 {
		if len(results) > c.maxResults {
			results = results[:c.maxResults]
		}
		var b strings.Builder
		for i, r := range results {
			entry, ok := r.(map[string]any)
			if !ok {
				continue
			}
			if i > 0 {
				b.WriteString("\n\n")
			}
			title, _ := entry["title"].(string)
			u, _ := entry["url"].(string)
			snippet, _ := entry["content"].(string)
			fmt.Fprintf(&b, "%s - %s", title, u)
			if snippet != "" {
				b.WriteString("\n")
				b.WriteString(snippet)
			}
		}
		if b.Len() > 0 {
			return b.String()
		}
	}
	if errVal, ok := data["error"]; ok && errVal != nil {
		compact, _ := json.Marshal(data)
		return "No search results found. Service returned: " + truncate(string(compact), 200)
	}
	compact, err := json.Marshal(data)
	if err != nil {
		return text
	}
	return string(compact)
}

// focusModeFor guesses a focus mode from the request text when the model
// did not pick one.
func focusModeFor(query, question, contextText string) string {
	text := strings.ToLower(query + " " + question + " " + contextText)
	contains := func(keys ...string) bool {
		for _, k := range keys {
			if strings.Contains(text, k) {
				return true
			}
		}
		return false
	}
	switch {
	case contains("arxiv", "scholar", "pubmed", "doi", "preprint", "paper"):
		return "academicSearch"
	case contains("wolfram", "derivative", "integral", "equation", "solve", "compute"):
		return "wolframAlphaSearch"
	case contains("youtube", "video", "channel", "watch"):
		return "youtubeSearch"
	case contains("image", "images", "photo", "jpg", "png", "gif", "diagram", "logo"):
		return "imageSearch"
	case contains("twitter", "x.com", "reddit", "mastodon", "instagram", "tiktok", "linkedin", "hacker news", "lobsters"):
		return "socialSearch"
	case contains("weather", "météo", "today", "now", "forecast", "news", "breaking", "update"):
		return "newsSearch"
	default:
		return "webSearch"
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
