package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/lbreton/conduit/internal/tools"
)

// maxToolTurns caps the tool loop: a run that still wants tools after this
// many rounds returns whatever text it has.
const maxToolTurns = 6

const defaultMaxTokens = 4096

// Turn is one prior exchange half injected as conversation history.
type Turn struct {
	Role    string
	Content string
}

// ToolUse records one tool invocation during a run.
type ToolUse struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// RunInput describes a single model run.
type RunInput struct {
	Model   string
	System  string
	History []Turn
	Prompt  string

	Tools       []tools.Definition
	ToolContext tools.Context
	// ForceTool requires the single available tool when exactly one tool
	// survived filtering.
	ForceTool bool

	// Effort enables extended thinking on models that support it.
	Effort          string
	ReasoningModels []string

	MaxTokens int64

	// OnDelta streams text deltas; only honored when no tools are attached
	// (the tool loop needs complete responses).
	OnDelta func(string)
	// OnTool is invoked before each tool execution.
	OnTool func(name string)
}

// Output is the result of a run.
type Output struct {
	Text       string
	ToolsUsed  []ToolUse
	Turns      int
	StopReason string
}

// Engine executes runs against the Messages API, handling the tool loop.
type Engine struct {
	client *anthropic.Client
	log    *slog.Logger
}

func NewEngine(client *anthropic.Client, log *slog.Logger) *Engine {
	return &Engine{client: client, log: log}
}

// Run performs the request, executing tool calls until the model stops
// asking for them. When tools were attached but the final text came back
// empty, it retries once without tools so the caller always gets an answer.
func (e *Engine) Run(ctx context.Context, in RunInput) (*Output, error) {
	params := e.buildParams(in)
	conv := params.Messages

	out := &Output{}
	for turn := 0; turn < maxToolTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out.Turns = turn + 1
		params.Messages = conv

		var resp *anthropic.Message
		var err error
		if in.OnDelta != nil && len(in.Tools) == 0 {
			resp, err = e.stream(ctx, params, in.OnDelta)
		} else {
			resp, err = e.client.Messages.New(ctx, params)
		}
		if err != nil {
			return nil, fmt.Errorf("model request failed: %w", err)
		}
		out.StopReason = string(resp.StopReason)

		var text string
		var toolResults []anthropic.ContentBlockParamUnion
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				text += block.Text
			case "tool_use":
				result, isErr := e.execute(ctx, in, block.Name, block.Input)
				toolResults = append(toolResults, anthropic.NewToolResultBlock(block.ID, result, isErr))
				out.ToolsUsed = append(out.ToolsUsed, ToolUse{Name: block.Name, Arguments: block.Input})
			}
		}

		if len(toolResults) == 0 {
			out.Text = text
			break
		}
		out.Text = text
		conv = append(conv, resp.ToParam())
		conv = append(conv, anthropic.NewUserMessage(toolResults...))
		// A forced tool choice must not survive the first round or the
		// model can never produce the final answer.
		params.ToolChoice = anthropic.ToolChoiceUnionParam{}
	}

	if out.Text == "" && len(in.Tools) > 0 {
		e.log.Debug("empty answer after tool loop, retrying without tools", "model", in.Model)
		retry := in
		retry.Tools = nil
		retry.ForceTool = false
		retry.OnDelta = nil
		p := e.buildParams(retry)
		resp, err := e.client.Messages.New(ctx, p)
		if err != nil {
			return out, nil
		}
		for _, block := range resp.Content {
			if block.Type == "text" {
				out.Text += block.Text
			}
		}
		out.StopReason = string(resp.StopReason)
	}
	return out, nil
}

func (e *Engine) execute(ctx context.Context, in RunInput, name string, input json.RawMessage) (string, bool) {
	var def *tools.Definition
	for i := range in.Tools {
		if in.Tools[i].Name == name {
			def = &in.Tools[i]
			break
		}
	}
	if def == nil {
		return fmt.Sprintf("Unknown tool: %s", name), true
	}
	if in.OnTool != nil {
		in.OnTool(name)
	}
	result, err := def.Handler(ctx, input, in.ToolContext)
	if err != nil {
		e.log.Warn("tool execution failed", "tool", name, "error", err)
		return "Tool execution failed: " + err.Error(), true
	}
	return result, false
}

func (e *Engine) buildParams(in RunInput) anthropic.MessageNewParams {
	maxTokens := in.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	var messages []anthropic.MessageParam
	for _, t := range in.History {
		if t.Content == "" {
			continue
		}
		if t.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Content)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Content)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(in.Prompt)))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(in.Model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if in.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: in.System}}
	}
	if len(in.Tools) > 0 {
		apiTools := make([]anthropic.ToolUnionParam, 0, len(in.Tools))
		for _, d := range in.Tools {
			apiTools = append(apiTools, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
				Name:        d.Name,
				Description: anthropic.String(d.Description),
				InputSchema: d.InputSchema,
			}})
		}
		params.Tools = apiTools
		if in.ForceTool && len(in.Tools) == 1 {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{
				OfTool: &anthropic.ToolChoiceToolParam{Name: in.Tools[0].Name},
			}
		}
	}
	if in.Effort != "" && SupportsReasoning(in.Model, in.ReasoningModels) {
		budget := thinkingBudget(in.Effort)
		if params.MaxTokens <= budget {
			params.MaxTokens = budget + defaultMaxTokens
		}
		params.Thinking = anthropic.ThinkingConfigParamUnion{
			OfEnabled: &anthropic.ThinkingConfigEnabledParam{BudgetTokens: budget},
		}
	}
	return params
}

// stream accumulates a streamed response, forwarding text deltas.
func (e *Engine) stream(ctx context.Context, params anthropic.MessageNewParams, onDelta func(string)) (*anthropic.Message, error) {
	stream := e.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			e.log.Debug("stream accumulate error", "error", err)
		}
		switch evt := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := evt.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				onDelta(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return &message, nil
}
