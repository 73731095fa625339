// Package config loads service configuration from an optional YAML file,
// with environment variables taking precedence over file values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Models maps a routing mode to a model deployment name.
type Models struct {
	Trivial  string `yaml:"trivial"`
	Standard string `yaml:"standard"`
	Tools    string `yaml:"tools"`
	Deep     string `yaml:"deep"`
}

// Search configures the web-search backend and the client-side limits
// enforced by the caller (the backend itself enforces nothing).
type Search struct {
	URL        string        `yaml:"url"`
	Key        string        `yaml:"key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxResults int           `yaml:"max_results"`
	MaxChars   int           `yaml:"max_chars"`
}

// Docsvc configures the document-service backend used by the classic tools.
type Docsvc struct {
	BaseURL string `yaml:"base_url"`
	Key     string `yaml:"key"`
}

// MCP configures the remote MCP tool server.
type MCP struct {
	ServerURL string `yaml:"server_url"`
	Key       string `yaml:"key"`
}

// Config is the root configuration for the service.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	QueueName     string        `yaml:"queue_name"`
	JobTTL        time.Duration `yaml:"job_ttl"`
	MaxDeliveries int           `yaml:"max_deliveries"`

	// Result delay bounds drive the recommended poll interval reported to
	// clients; they do not delay processing.
	ResultMinDelay time.Duration `yaml:"result_min_delay"`
	ResultMaxDelay time.Duration `yaml:"result_max_delay"`

	Models          Models   `yaml:"models"`
	DefaultModel    string   `yaml:"default_model"`
	ReasoningModels []string `yaml:"reasoning_models"`
	DefaultEffort   string   `yaml:"default_reasoning_effort"`

	SystemPromptPath string `yaml:"system_prompt_path"`
	SystemPromptURL  string `yaml:"system_prompt_url"`

	Search Search `yaml:"search"`
	Docsvc Docsvc `yaml:"docsvc"`
	MCP    MCP    `yaml:"mcp"`

	AllowedOrigins []string `yaml:"allowed_origins"`

	MemoryTTL time.Duration `yaml:"memory_ttl"`
}

// Default returns the configuration baseline before file and env overlays.
func Default() Config {
	return Config{
		ListenAddr:     ":8080",
		RedisAddr:      "127.0.0.1:6379",
		QueueName:      "mcpjobs-copilot",
		JobTTL:         time.Hour,
		MaxDeliveries:  5,
		ResultMinDelay: 2 * time.Second,
		ResultMaxDelay: 5 * time.Second,
		Models: Models{
			Trivial:  "claude-haiku-4-5",
			Standard: "claude-sonnet-4-5",
			Tools:    "claude-sonnet-4-5",
			Deep:     "claude-opus-4-1",
		},
		DefaultModel:     "claude-sonnet-4-5",
		DefaultEffort:    "low",
		SystemPromptPath: "system_prompt.md",
		Search: Search{
			Timeout:    6 * time.Second,
			MaxResults: 8,
			MaxChars:   6000,
		},
		MemoryTTL: 60 * 24 * time.Hour,
	}
}

// Load reads the YAML file at path (when non-empty) on top of defaults, then
// applies environment overrides. A missing file with an empty path is fine;
// an explicit path that cannot be read is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}
	cfg.applyEnv()
	if cfg.ResultMaxDelay < cfg.ResultMinDelay {
		cfg.ResultMinDelay, cfg.ResultMaxDelay = cfg.ResultMaxDelay, cfg.ResultMinDelay
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.ListenAddr, "CONDUIT_LISTEN")
	setString(&c.RedisAddr, "CONDUIT_REDIS_ADDR")
	setString(&c.RedisPassword, "CONDUIT_REDIS_PASSWORD")
	setInt(&c.RedisDB, "CONDUIT_REDIS_DB")
	setString(&c.QueueName, "MCP_JOBS_QUEUE")
	setSeconds(&c.JobTTL, "MCP_JOBS_TTL_SECONDS")
	setInt(&c.MaxDeliveries, "MCP_JOBS_MAX_DELIVERIES")
	setSeconds(&c.ResultMinDelay, "MCP_RESULT_MIN_DELAY_SECONDS")
	setSeconds(&c.ResultMaxDelay, "MCP_RESULT_MAX_DELAY_SECONDS")

	setString(&c.Models.Trivial, "ORCHESTRATOR_MODEL_TRIVIAL")
	setString(&c.Models.Standard, "ORCHESTRATOR_MODEL_STANDARD")
	setString(&c.Models.Tools, "ORCHESTRATOR_MODEL_TOOLS")
	setString(&c.Models.Deep, "ORCHESTRATOR_MODEL_REASONING")
	setString(&c.DefaultModel, "CHAT_MODEL_DEPLOYMENT_NAME")
	setList(&c.ReasoningModels, "REASONING_MODELS")
	setString(&c.DefaultEffort, "DEFAULT_REASONING_EFFORT")

	setString(&c.SystemPromptPath, "SYSTEM_PROMPT_PATH")
	setString(&c.SystemPromptURL, "SYSTEM_PROMPT_URL")

	setString(&c.Search.URL, "WEBSEARCH_FUNCTION_URL")
	setString(&c.Search.Key, "WEBSEARCH_FUNCTION_KEY")
	setString(&c.Docsvc.BaseURL, "DOCSVC_BASE_URL")
	setString(&c.Docsvc.Key, "DOCSVC_FUNCTION_KEY")
	setString(&c.MCP.ServerURL, "TOOLS_SSE_URL")
	setString(&c.MCP.Key, "TOOLS_FUNCTIONS_KEY")

	setList(&c.AllowedOrigins, "ALLOWED_CORS_ORIGINS")
	setSeconds(&c.MemoryTTL, "MEMORY_TTL_SECONDS")
}

// RecommendedPollInterval is the minimum interval clients should wait between
// status polls, floored at one second.
func (c Config) RecommendedPollInterval() time.Duration {
	if c.ResultMinDelay < time.Second {
		return time.Second
	}
	return c.ResultMinDelay
}

// ModelFor returns the model configured for a routing mode. Unknown modes get
// the standard model.
func (c Config) ModelFor(mode string) string {
	switch mode {
	case "trivial":
		return c.Models.Trivial
	case "tools":
		return c.Models.Tools
	case "deep":
		return c.Models.Deep
	default:
		return c.Models.Standard
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func setSeconds(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && n >= 0 {
			*dst = time.Duration(n * float64(time.Second))
		}
	}
}

func setList(dst *[]string, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}
