// Package tools defines the classic tool surface exposed to the model:
// web search, the document-service tools, and tools discovered on a remote
// MCP server. Definitions carry a JSON schema derived from Go structs.
package tools

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/invopop/jsonschema"
)

// Context carries per-call identity down to tool handlers. Tools that need a
// user id fall back to it when the model omits the argument.
type Context struct {
	UserID string
}

// Definition describes one callable tool.
type Definition struct {
	Name        string
	Description string
	InputSchema anthropic.ToolInputSchemaParam
	Handler     func(ctx context.Context, input json.RawMessage, tc Context) (string, error)
}

// GenerateSchema derives the JSON input schema for a tool from its input
// struct type.
func GenerateSchema[T any]() anthropic.ToolInputSchemaParam {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)
	return anthropic.ToolInputSchemaParam{
		Properties: schema.Properties,
		Required:   schema.Required,
	}
}

// Filter returns the definitions whose names appear in allowed. A nil allowed
// list means no restriction; an empty one removes everything.
func Filter(defs []Definition, allowed []string) []Definition {
	if allowed == nil {
		return defs
	}
	set := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		set[name] = struct{}{}
	}
	out := make([]Definition, 0, len(defs))
	for _, d := range defs {
		if _, ok := set[d.Name]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Names returns the tool names in order.
func Names(defs []Definition) []string {
	out := make([]string, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.Name)
	}
	return out
}
