package llm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
)

const (
	promptCacheKey = "system_prompt"
	promptCacheTTL = 300 * time.Second
	promptFetchTim = 5 * time.Second
)

// PromptSource loads the system prompt: a remote URL when configured (cached
// for five minutes), then a local markdown file, then a builtin fallback.
// The token {{today}} is replaced with the current ISO date.
type PromptSource struct {
	path      string
	url       string
	hasSearch bool
	cache     *ristretto.Cache
	httpc     *http.Client
	log       *slog.Logger
	now       func() time.Time
}

// NewPromptSource builds a prompt source. hasSearch controls whether the
// builtin fallback advertises the search_web tool.
func NewPromptSource(path, url string, hasSearch bool, log *slog.Logger) *PromptSource {
	cache, _ := ristretto.NewCache(&ristretto.Config{
		NumCounters: 64,
		MaxCost:     8,
		BufferItems: 64,
		// Items are stored at cost 1; without this the per-item overhead
		// ristretto adds would exceed MaxCost and nothing gets admitted.
		IgnoreInternalCost: true,
	})
	return &PromptSource{
		path:      path,
		url:       url,
		hasSearch: hasSearch,
		cache:     cache,
		httpc:     &http.Client{Timeout: promptFetchTim},
		log:       log,
		now:       time.Now,
	}
}

// Load returns the system prompt text. Failures degrade through the
// fallbacks instead of erroring: the service must answer even when the
// prompt backend is down.
func (p *PromptSource) Load(ctx context.Context) string {
	today := p.now().UTC().Format("2006-01-02")
	if p.url != "" {
		if text := p.remote(ctx); text != "" {
			return strings.ReplaceAll(text, "{{today}}", today)
		}
	}
	if p.path != "" {
		if data, err := os.ReadFile(p.path); err == nil {
			return strings.ReplaceAll(string(data), "{{today}}", today)
		}
	}
	base := fmt.Sprintf("You are a helpful assistant. Prefer prior conversation context to disambiguate. Current date: %s. ", today)
	if p.hasSearch {
		base += "Use the 'search_web' tool for time-sensitive questions (weather, news, live results, availability)."
	}
	return base
}

func (p *PromptSource) remote(ctx context.Context) string {
	if cached, ok := p.cache.Get(promptCacheKey); ok {
		if text, ok := cached.(string); ok {
			return text
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return ""
	}
	resp, err := p.httpc.Do(req)
	if err != nil {
		p.log.Warn("system prompt fetch failed", "error", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		p.log.Warn("system prompt fetch failed", "status", resp.StatusCode)
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ""
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return ""
	}
	p.cache.SetWithTTL(promptCacheKey, text, 1, promptCacheTTL)
	p.cache.Wait()
	return text
}
