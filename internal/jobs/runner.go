package jobs

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/lbreton/conduit/internal/config"
	"github.com/lbreton/conduit/internal/llm"
	"github.com/lbreton/conduit/internal/memory"
	"github.com/lbreton/conduit/internal/metrics"
	"github.com/lbreton/conduit/internal/router"
	"github.com/lbreton/conduit/internal/tools"
)

// Progress conventions. A job starts at 10 once claimed, streaming walks
// from 20 towards 90, tool execution pins 50, completion is 100.
const (
	progressRunning   = 10
	progressStreaming = 20
	progressTool      = 50
	progressStreamCap = 90
	progressDone      = 100
)

// Status messages surfaced to polling clients.
const (
	MsgQueued    = "Préparation de la réponse…"
	MsgRouting   = "Analyse et sélection du modèle optimal…"
	MsgThinking  = "Réflexion en cours…"
	MsgStreaming = "Génération en cours…"
	MsgDone      = "Terminé"
	MsgRetrying  = "Nouvelle tentative de traitement…"
	MsgFailed    = "Le traitement a échoué."
)

const historyTurns = 6

// UpdateFunc applies a mutation to the job state. Runners call it to
// publish progress; implementations decide where the state lives.
type UpdateFunc func(fn func(*State))

// Result is the outcome of a completed run.
type Result struct {
	Text           string
	Mode           string
	Model          string
	UsedTools      []string
	ConversationID string
	DurationMS     int64
}

// Runner routes a request to a model, executes it with the appropriate
// toolset, and persists the conversation turn. It serves both the
// synchronous endpoints and the queue worker.
type Runner struct {
	cfg      *config.Config
	engine   *llm.Engine
	prompts  *llm.PromptSource
	registry *tools.Registry
	remote   *tools.RemoteToolset
	memory   *memory.Store
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRemoteToolset attaches a connected MCP toolset.
func WithRemoteToolset(rt *tools.RemoteToolset) RunnerOption {
	return func(r *Runner) { r.remote = rt }
}

// WithRunnerClock overrides the time source (tests).
func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

func NewRunner(
	cfg *config.Config,
	engine *llm.Engine,
	prompts *llm.PromptSource,
	registry *tools.Registry,
	mem *memory.Store,
	m *metrics.Metrics,
	log *slog.Logger,
	opts ...RunnerOption,
) *Runner {
	r := &Runner{
		cfg:      cfg,
		engine:   engine,
		prompts:  prompts,
		registry: registry,
		memory:   mem,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureConversation resolves the conversation id for a request. An empty
// or "init" id allocates a fresh conversation for the user.
func (r *Runner) EnsureConversation(ctx context.Context, userID, convID string) (string, error) {
	if userID == "" {
		return "", nil
	}
	if convID != "" && convID != "init" {
		return convID, nil
	}
	n, err := r.memory.NextID(ctx, userID)
	if err != nil {
		return "", err
	}
	return memory.ConversationID(userID, n), nil
}

// Preview computes the routing decision for a request without executing it,
// so start endpoints can report mode and model at enqueue time. The worker
// routes again when it claims the job.
func (r *Runner) Preview(kind string, req *Request) (mode, model string) {
	hasTools := false
	var explicit []string
	if kind == KindOrchestrate {
		allowed, specified := tools.NormalizeAllowed(req.AllowedTools)
		hasTools = !specified || len(allowed) > 0
		if specified {
			explicit = allowed
		}
	}
	cons := router.DecodeConstraints(req.Constraints)
	m := router.Route(req.Prompt, hasTools, cons, explicit)
	return string(m), r.modelFor(m, req)
}

// modelFor picks the model for a routed mode, honoring a caller override.
func (r *Runner) modelFor(mode router.Mode, req *Request) string {
	if req.Model != "" {
		return req.Model
	}
	return r.cfg.ModelFor(string(mode))
}

// Run executes one job. Progress is published through update; the caller
// owns the terminal completed/failed transition. A nil update means a
// synchronous call: no progress is published and the response is not
// streamed.
func (r *Runner) Run(ctx context.Context, kind string, req *Request, update UpdateFunc) (*Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("missing required parameter: prompt")
	}
	stream := update != nil
	if update == nil {
		update = func(func(*State)) {}
	}
	start := r.now()
	startedAt := start.UTC()
	update(func(s *State) {
		s.Status = StatusRunning
		s.Progress = progressRunning
		s.Message = MsgRouting
		s.StartedAt = &startedAt
	})

	convID, err := r.EnsureConversation(ctx, req.UserID, req.ConversationID)
	if err != nil {
		r.log.Warn("failed to resolve conversation", "user_id", req.UserID, "error", err)
		convID = ""
	}

	defs, err := r.toolset(ctx, kind, req)
	if err != nil {
		return nil, err
	}
	if len(defs) > 0 {
		r.log.Debug("toolset resolved", "tools", tools.Names(defs))
	}

	cons := router.DecodeConstraints(req.Constraints)
	// Tools mode requires an explicit caller allow-list; a resolvable
	// toolset alone is not enough.
	var explicit []string
	if allowed, specified := tools.NormalizeAllowed(req.AllowedTools); specified {
		explicit = allowed
	}
	mode := router.Route(req.Prompt, len(defs) > 0, cons, explicit)
	if mode != router.ModeTools {
		defs = nil
	}
	model := r.modelFor(mode, req)

	update(func(s *State) {
		s.Mode = string(mode)
		s.Model = model
		s.Message = MsgThinking
	})

	history, err := r.history(ctx, req.UserID, convID)
	if err != nil {
		r.log.Warn("failed to load conversation history", "conversation_id", convID, "error", err)
	}

	in := llm.RunInput{
		Model:           model,
		System:          r.prompts.Load(ctx),
		History:         history,
		Prompt:          req.Prompt,
		Tools:           defs,
		ToolContext:     tools.Context{UserID: req.UserID},
		ForceTool:       len(defs) == 1,
		Effort:          r.effortFor(mode, req.Effort),
		ReasoningModels: r.cfg.ReasoningModels,
	}
	if len(defs) > 0 {
		in.OnTool = func(name string) {
			r.metrics.ToolCalls.WithLabelValues(name).Inc()
			update(func(s *State) {
				s.Progress = progressTool
				s.Tool = name
				s.Message = toolMessage(name)
			})
		}
	} else if stream {
		progress := progressStreaming
		in.OnDelta = func(delta string) {
			if progress < progressStreamCap {
				progress += 2
			}
			p := progress
			update(func(s *State) {
				s.Progress = p
				s.Message = MsgStreaming
				s.PartialText += delta
			})
		}
	}

	out, err := r.engine.Run(ctx, in)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Text:           out.Text,
		Mode:           string(mode),
		Model:          model,
		ConversationID: convID,
		DurationMS:     r.now().Sub(start).Milliseconds(),
	}
	for _, tu := range out.ToolsUsed {
		res.UsedTools = append(res.UsedTools, tu.Name)
	}

	if req.UserID != "" && convID != "" {
		if _, err := r.memory.AppendTurn(ctx, req.UserID, convID, req.Prompt, out.Text); err != nil {
			r.log.Warn("failed to persist conversation turn", "conversation_id", convID, "error", err)
		}
	}
	return res, nil
}

// toolset assembles the tool definitions for a run. Ask jobs never carry
// tools; orchestrate jobs combine builtins with the remote MCP toolset,
// filtered by the request allow-list.
func (r *Runner) toolset(ctx context.Context, kind string, req *Request) ([]tools.Definition, error) {
	if kind != KindOrchestrate {
		return nil, nil
	}
	allowed, specified := tools.NormalizeAllowed(req.AllowedTools)
	if specified && len(allowed) == 0 {
		return nil, nil
	}
	defs := r.registry.Builtin()
	if r.remote != nil {
		remote, err := r.remote.Definitions(ctx, req.AllowedTools)
		if err != nil {
			r.log.Warn("failed to list remote tools", "error", err)
		} else {
			defs = append(defs, remote...)
		}
	}
	if !specified || tools.AllowsAll(allowed) {
		return defs, nil
	}
	return tools.Filter(defs, allowed), nil
}

func (r *Runner) history(ctx context.Context, userID, convID string) ([]llm.Turn, error) {
	if userID == "" || convID == "" {
		return nil, nil
	}
	msgs, err := r.memory.Messages(ctx, userID, convID, historyTurns)
	if err != nil {
		return nil, err
	}
	turns := make([]llm.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, llm.Turn{Role: m.Role, Content: m.Content})
	}
	return turns, nil
}

func (r *Runner) effortFor(mode router.Mode, requested string) string {
	if requested != "" {
		return requested
	}
	if mode == router.ModeDeep {
		return r.cfg.DefaultEffort
	}
	return ""
}

func toolMessage(name string) string {
	if name == "search_web" {
		return "Web search in progress..."
	}
	return "Using tool: " + name
}
