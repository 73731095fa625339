package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DocClient calls the document-service backend behind the classic
// document tools. Like the Python originals, backend errors are rendered
// into the tool result text so the model can recover.
type DocClient struct {
	baseURL string
	key     string
	httpc   *http.Client
	log     *slog.Logger
}

// NewDocClient builds a client for the document service. baseURL may be
// empty; tools then report themselves unconfigured at call time.
func NewDocClient(baseURL, key string, log *slog.Logger) *DocClient {
	return &DocClient{
		baseURL: baseURL,
		key:     key,
		httpc:   &http.Client{Timeout: 60 * time.Second},
		log:     log,
	}
}

// Configured reports whether a backend URL is set.
func (c *DocClient) Configured() bool {
	return c != nil && c.baseURL != ""
}

// buildURL normalizes the base (scheme defaulting: localhost gets http,
// everything else https), joins the path and appends the function key once.
func (c *DocClient) buildURL(path string) string {
	base := strings.TrimSpace(c.baseURL)
	if base == "" {
		return ""
	}
	lower := strings.ToLower(base)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		if strings.Contains(lower, "localhost") || strings.Contains(lower, "127.0.0.1") {
			base = "http://" + base
		} else {
			base = "https://" + base
		}
	}
	base = strings.TrimRight(base, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	final := base + path
	if c.key != "" && !strings.Contains(final, "code=") {
		sep := "?"
		if strings.Contains(final, "?") {
			sep = "&"
		}
		final += sep + "code=" + c.key
	}
	return final
}

func (c *DocClient) request(ctx context.Context, method, path string, body any) string {
	u := c.buildURL(path)
	if u == "" {
		return "Document service backend not configured. Set DOCSVC_BASE_URL."
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return "docsvc call failed: " + err.Error()
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return "docsvc call failed: " + redactSecrets(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "docsvc call failed: " + redactSecrets(err.Error())
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "docsvc call failed: " + redactSecrets(err.Error())
	}
	text := string(data)
	if resp.StatusCode >= 400 {
		return fmt.Sprintf("docsvc error %d: %s", resp.StatusCode, truncate(redactSecrets(text), 500))
	}
	// Re-encode structured payloads compactly; pass plain text through.
	var parsed any
	if err := json.Unmarshal(data, &parsed); err == nil {
		switch parsed.(type) {
		case map[string]any, []any:
			if compact, err := json.Marshal(parsed); err == nil {
				return string(compact)
			}
		}
	}
	return redactSecrets(text)
}

type ConvertWordToPDFInput struct {
	Blob string `json:"blob" jsonschema_description:"Blob path under the container, e.g. 'user123/new.docx'."`
}

type InitUserInput struct {
	UserID string `json:"user_id,omitempty" jsonschema_description:"User identifier (optional, current user is used if not provided)."`
}

type ListImagesInput struct {
	UserID string `json:"user_id,omitempty" jsonschema_description:"User identifier (optional, current user is used if not provided)."`
}

type ListSharedTemplatesInput struct{}

type ListTemplatesInput struct {
	UserID string `json:"user_id,omitempty" jsonschema_description:"User identifier (optional, current user is used if not provided)."`
}

// Definitions returns the document-service tool definitions bound to this
// client.
func (c *DocClient) Definitions() []Definition {
	return []Definition{
		{
			Name:        "convert_word_to_pdf",
			Description: "Convert a Microsoft Word document (stored in blob) to PDF via the document service.",
			InputSchema: GenerateSchema[ConvertWordToPDFInput](),
			Handler: func(ctx context.Context, input json.RawMessage, _ Context) (string, error) {
				var in ConvertWordToPDFInput
				if err := json.Unmarshal(input, &in); err != nil {
					return "", fmt.Errorf("invalid convert_word_to_pdf input: %w", err)
				}
				blob := strings.TrimSpace(in.Blob)
				if blob == "" {
					return "Missing required parameter: blob", nil
				}
				return c.request(ctx, http.MethodPost, "/convert/word-to-pdf?blob="+blob, nil), nil
			},
		},
		{
			Name:        "init_user",
			Description: "Initialize the user's blob container.",
			InputSchema: GenerateSchema[InitUserInput](),
			Handler: func(ctx context.Context, input json.RawMessage, tc Context) (string, error) {
				var in InitUserInput
				if err := json.Unmarshal(input, &in); err != nil {
					return "", fmt.Errorf("invalid init_user input: %w", err)
				}
				userID := firstNonEmpty(in.UserID, tc.UserID)
				if userID == "" {
					return "Missing required parameter: user_id", nil
				}
				return c.initUser(ctx, userID), nil
			},
		},
		{
			Name:        "list_images",
			Description: "List images available in the user's blob container.",
			InputSchema: GenerateSchema[ListImagesInput](),
			Handler: func(ctx context.Context, input json.RawMessage, tc Context) (string, error) {
				var in ListImagesInput
				if err := json.Unmarshal(input, &in); err != nil {
					return "", fmt.Errorf("invalid list_images input: %w", err)
				}
				userID := firstNonEmpty(in.UserID, tc.UserID)
				if userID == "" {
					return "Missing required parameter: user_id", nil
				}
				return c.request(ctx, http.MethodGet, "/users/"+userID+"/images", nil), nil
			},
		},
		{
			Name:        "list_shared_templates",
			Description: "List shared templates.",
			InputSchema: GenerateSchema[ListSharedTemplatesInput](),
			Handler: func(ctx context.Context, _ json.RawMessage, _ Context) (string, error) {
				return c.request(ctx, http.MethodGet, "/templates", nil), nil
			},
		},
		{
			Name:        "list_templates_http",
			Description: "List templates for a specific user.",
			InputSchema: GenerateSchema[ListTemplatesInput](),
			Handler: func(ctx context.Context, input json.RawMessage, tc Context) (string, error) {
				var in ListTemplatesInput
				if err := json.Unmarshal(input, &in); err != nil {
					return "", fmt.Errorf("invalid list_templates_http input: %w", err)
				}
				userID := firstNonEmpty(in.UserID, tc.UserID)
				if userID == "" {
					return "Missing required parameter: user_id", nil
				}
				return c.request(ctx, http.MethodGet, "/users/"+userID+"/templates", nil), nil
			},
		},
	}
}

// initUser prefers a concise human-readable confirmation when the backend
// returns its structured payload.
func (c *DocClient) initUser(ctx context.Context, userID string) string {
	resp := c.request(ctx, http.MethodPost, "/users/"+userID+"/init", nil)
	var parsed struct {
		UserID  string `json:"userId"`
		Created []any  `json:"created"`
	}
	if err := json.Unmarshal([]byte(resp), &parsed); err == nil {
		id := firstNonEmpty(parsed.UserID, userID)
		if parsed.Created != nil {
			return fmt.Sprintf("Initialized user blob container for '%s'. Created %d placeholder items.", id, len(parsed.Created))
		}
		if parsed.UserID != "" {
			return fmt.Sprintf("Initialized user blob container for '%s'.", parsed.UserID)
		}
	}
	return resp
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
