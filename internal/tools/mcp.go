package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// defaultRemoteAllowed is the conservative allow-list applied when the
// caller asked for tools without restricting them.
var defaultRemoteAllowed = []string{"hello_mcp"}

// RemoteConfig describes a remote MCP tool server.
type RemoteConfig struct {
	ServerURL string
	Key       string
	Label     string
}

// ResolveRemote decides whether the service runs with a remote MCP server.
// A nil config with a nil error means "run without remote tools"; tools
// requested with no server configured is an error. Per-request allow-list
// filtering happens later, in Definitions.
func ResolveRemote(serverURL, key string, rawAllowed any) (*RemoteConfig, error) {
	normalized, specified := NormalizeAllowed(rawAllowed)

	if serverURL == "" {
		if !specified || len(normalized) == 0 {
			return nil, nil
		}
		return nil, errors.New("missing MCP server URL: configure TOOLS_SSE_URL")
	}
	if specified && len(normalized) == 0 {
		return nil, nil
	}

	cfg := &RemoteConfig{
		ServerURL: serverURL,
		Key:       key,
		Label:     "local-mcp-function",
	}
	if strings.HasPrefix(serverURL, "https://") {
		cfg.Label = "remote-mcp-function"
	}
	return cfg, nil
}

// remoteAllowed resolves a request's remote tool allow-list. enabled false
// disables remote tools for the request; a nil list with enabled true means
// every tool the server offers. An unspecified value falls back to the
// conservative default.
func remoteAllowed(rawAllowed any) (allowed []string, enabled bool) {
	normalized, specified := NormalizeAllowed(rawAllowed)
	switch {
	case !specified:
		return defaultRemoteAllowed, true
	case len(normalized) == 0:
		return nil, false
	case AllowsAll(normalized):
		return nil, true
	default:
		return normalized, true
	}
}

// RemoteToolset is a connected MCP client exposing the server's tools as
// local definitions.
type RemoteToolset struct {
	client *mcpclient.Client
	cfg    *RemoteConfig
	log    *slog.Logger
}

// ConnectRemote dials the MCP server over SSE and completes the initialize
// handshake.
func ConnectRemote(ctx context.Context, cfg *RemoteConfig, log *slog.Logger) (*RemoteToolset, error) {
	var opts []transport.ClientOption
	if cfg.Key != "" {
		opts = append(opts, transport.WithHeaders(map[string]string{"x-functions-key": cfg.Key}))
	}
	c, err := mcpclient.NewSSEMCPClient(cfg.ServerURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "conduit", Version: "1"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, fmt.Errorf("MCP initialize failed: %w", err)
	}
	log.Debug("connected to MCP server", "label", cfg.Label, "url", redactSecrets(cfg.ServerURL))
	return &RemoteToolset{client: c, cfg: cfg, log: log}, nil
}

// Definitions lists the server's tools, filtered by the request's allow-list.
// The connection is shared across requests; the allow-list is resolved here
// so each request sees its own view of the server.
func (t *RemoteToolset) Definitions(ctx context.Context, rawAllowed any) ([]Definition, error) {
	names, enabled := remoteAllowed(rawAllowed)
	if !enabled {
		return nil, nil
	}
	res, err := t.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("MCP list tools failed: %w", err)
	}
	allowed := map[string]struct{}{}
	for _, name := range names {
		allowed[name] = struct{}{}
	}
	var defs []Definition
	for _, tool := range res.Tools {
		if names != nil {
			if _, ok := allowed[tool.Name]; !ok {
				continue
			}
		}
		defs = append(defs, t.definition(tool))
	}
	return defs, nil
}

func (t *RemoteToolset) definition(tool mcp.Tool) Definition {
	return Definition{
		Name:        tool.Name,
		Description: tool.Description,
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: tool.InputSchema.Properties,
			Required:   tool.InputSchema.Required,
		},
		Handler: func(ctx context.Context, input json.RawMessage, _ Context) (string, error) {
			args := map[string]any{}
			if len(input) > 0 {
				if err := json.Unmarshal(input, &args); err != nil {
					return "", fmt.Errorf("invalid %s input: %w", tool.Name, err)
				}
			}
			req := mcp.CallToolRequest{}
			req.Params.Name = tool.Name
			req.Params.Arguments = args
			res, err := t.client.CallTool(ctx, req)
			if err != nil {
				return "", fmt.Errorf("MCP call %s failed: %w", tool.Name, err)
			}
			text := flattenContent(res.Content)
			if res.IsError && text == "" {
				text = "Tool execution failed."
			}
			return text, nil
		},
	}
}

// Close shuts the client connection down.
func (t *RemoteToolset) Close() error {
	return t.client.Close()
}

func flattenContent(content []mcp.Content) string {
	var b strings.Builder
	for _, c := range content {
		if tc, ok := mcp.AsTextContent(c); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}
