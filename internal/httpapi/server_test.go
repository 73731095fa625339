package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/anthropics/anthropic-sdk-go/option"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lbreton/conduit/internal/config"
	"github.com/lbreton/conduit/internal/jobs"
	"github.com/lbreton/conduit/internal/llm"
	"github.com/lbreton/conduit/internal/logging"
	"github.com/lbreton/conduit/internal/memory"
	"github.com/lbreton/conduit/internal/metrics"
	"github.com/lbreton/conduit/internal/tools"
)

type testEnv struct {
	handler http.Handler
	queue   *jobs.Queue
	jobs    *jobs.Store
	memory  *memory.Store
}

// newTestEnv wires a full server against miniredis. modelURL, when set,
// points the model client at a fake Messages backend.
func newTestEnv(t *testing.T, modelURL string, mutate func(*config.Config)) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	log := logging.NewNop()

	queue := jobs.NewQueue(client, cfg.QueueName, jobs.WithQueueLogger(log))
	jobStore := jobs.NewStore(client)
	mem := memory.NewFromClient(client)

	registry := tools.NewRegistry(
		tools.NewSearchClient("", "", 0, 0, 0, log),
		tools.NewDocClient("", "", log),
		log,
	)
	var opts []option.RequestOption
	if modelURL != "" {
		opts = append(opts, option.WithBaseURL(modelURL))
	}
	engine := llm.NewEngine(llm.NewClient("test-key", opts...), log)
	prompts := llm.NewPromptSource("", "", false, log)
	m := metrics.New()
	runner := jobs.NewRunner(&cfg, engine, prompts, registry, mem, m, log)

	srv := New(cfg, runner, queue, jobStore, mem, m, log)
	return &testEnv{handler: srv.Handler(), queue: queue, jobs: jobStore, memory: mem}
}

func doJSON(t *testing.T, handler http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var resp map[string]any
	if rr.Body.Len() > 0 {
		json.Unmarshal(rr.Body.Bytes(), &resp)
	}
	return rr, resp
}

func TestPing(t *testing.T) {
	env := newTestEnv(t, "", nil)
	rr, resp := doJSON(t, env.handler, http.MethodGet, "/api/ping", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", resp["status"])
}

func TestStartEnqueuesJob(t *testing.T) {
	env := newTestEnv(t, "", nil)

	rr, resp := doJSON(t, env.handler, http.MethodPost, "/api/ask/start",
		`{"prompt":"quelle heure est-il","user_id":"alice"}`)
	require.Equal(t, http.StatusAccepted, rr.Code)

	jobID, _ := resp["job_id"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, "queued", resp["status"])
	assert.Equal(t, jobs.MsgQueued, resp["message"])
	assert.Equal(t, "trivial", resp["mode"])
	assert.Equal(t, "claude-haiku-4-5", resp["selected_model"])
	assert.Equal(t, float64(3), resp["retry_after_sec"])
	assert.Equal(t, "3", rr.Header().Get("Retry-After"))
	assert.Equal(t, "alice_1", resp["conversation_id"])
	assert.Equal(t, "alice_1", rr.Header().Get("X-Conversation-Id"))

	n, err := env.queue.Length(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	state, err := env.jobs.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusQueued, state.Status)
	assert.Equal(t, jobs.MsgQueued, state.Message)
	assert.Equal(t, "trivial", state.Mode)
	assert.Equal(t, "claude-haiku-4-5", state.Model)

	// The request sidecar carries the resolved conversation id.
	sidecar, err := env.jobs.Request(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, "alice_1", sidecar["conversation_id"])
}

func TestStartMissingPrompt(t *testing.T) {
	env := newTestEnv(t, "", nil)
	rr, resp := doJSON(t, env.handler, http.MethodPost, "/api/orchestrate/start", `{"prompt":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, resp["error"], "prompt")
}

func TestStatusUnknownJob(t *testing.T) {
	env := newTestEnv(t, "", nil)
	rr, resp := doJSON(t, env.handler, http.MethodGet, "/api/ask/status?job_id=nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "unknown", resp["status"])
	assert.Equal(t, float64(5), resp["retry_after_sec"])
	assert.Equal(t, "5", rr.Header().Get("Retry-After"))
}

func TestStatusReportsToolPhase(t *testing.T) {
	env := newTestEnv(t, "", nil)
	ctx := context.Background()

	_, err := env.jobs.Create(ctx, "j1", map[string]any{"prompt": "x", "conversation_id": "alice_1"}, jobs.MsgQueued)
	require.NoError(t, err)
	_, err = env.jobs.Update(ctx, "j1", func(s *jobs.State) {
		s.Status = jobs.StatusRunning
		s.Progress = 50
		s.Tool = "search_web"
		s.Message = "Web search in progress..."
	})
	require.NoError(t, err)

	rr, resp := doJSON(t, env.handler, http.MethodGet, "/api/orchestrate/status?job_id=j1", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, "tool", resp["status"])
	assert.Equal(t, "search_web", resp["tool"])
	assert.Equal(t, "alice_1", resp["conversation_id"])
	assert.Equal(t, float64(2), resp["retry_after_sec"])
	assert.Equal(t, "2", rr.Header().Get("Retry-After"))
}

func TestStatusCompletedHasNoRetry(t *testing.T) {
	env := newTestEnv(t, "", nil)
	ctx := context.Background()

	_, err := env.jobs.Create(ctx, "j1", map[string]any{"prompt": "x"}, jobs.MsgQueued)
	require.NoError(t, err)
	_, err = env.jobs.Update(ctx, "j1", func(s *jobs.State) {
		s.Status = jobs.StatusCompleted
		s.Progress = 100
		s.FinalText = "done"
	})
	require.NoError(t, err)

	rr, resp := doJSON(t, env.handler, http.MethodGet, "/api/ask/status?job_id=j1", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "completed", resp["status"])
	assert.Equal(t, "done", resp["final_text"])
	assert.Empty(t, rr.Header().Get("Retry-After"))
	_, hasRetry := resp["retry_after_sec"]
	assert.False(t, hasRetry)
}

func TestMemoriesEndpoints(t *testing.T) {
	env := newTestEnv(t, "", nil)
	ctx := context.Background()

	_, err := env.memory.AppendTurn(ctx, "alice", "alice_1", "bonjour", "salut")
	require.NoError(t, err)

	rr, resp := doJSON(t, env.handler, http.MethodGet, "/api/mcp-memories?user_id=alice", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(1), resp["count"])

	rr, resp = doJSON(t, env.handler, http.MethodGet, "/api/mcp-memory?user_id=alice&memory_id=alice_1", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "alice_1", resp["id"])
	msgs, _ := resp["messages"].([]any)
	assert.Len(t, msgs, 2)

	rr, _ = doJSON(t, env.handler, http.MethodGet, "/api/mcp-memory?user_id=alice&memory_id=alice_9", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, _ = doJSON(t, env.handler, http.MethodGet, "/api/mcp-memories", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, "", func(cfg *config.Config) {
		cfg.AllowedOrigins = []string{"https://app.example"}
	})

	preflight := httptest.NewRequest(http.MethodOptions, "/api/ask", nil)
	preflight.Header.Set("Origin", "https://app.example")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, preflight)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://app.example", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET,POST,OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "x-functions-key")
	assert.Equal(t, "Origin", rr.Header().Get("Vary"))

	denied := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	denied.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, denied)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, "", nil)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSyncAsk(t *testing.T) {
	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-haiku-4-5",
			"content": [{"type": "text", "text": "Il est midi."}],
			"stop_reason": "end_turn",
			"stop_sequence": null,
			"usage": {"input_tokens": 1, "output_tokens": 1}
		}`))
	}))
	defer model.Close()

	env := newTestEnv(t, model.URL, nil)
	rr, resp := doJSON(t, env.handler, http.MethodPost, "/api/ask",
		`{"prompt":"quelle heure est-il","user_id":"alice"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	assert.Equal(t, "Il est midi.", resp["output_text"])
	assert.Equal(t, "claude-haiku-4-5", resp["model"])
	assert.NotEmpty(t, resp["run_id"])
	assert.Equal(t, "alice_1", resp["conversation_id"])
	assert.Equal(t, true, resp["new_conversation"])
	assert.Equal(t, "claude-haiku-4-5", rr.Header().Get("X-Model-Used"))
	assert.Equal(t, "alice_1", rr.Header().Get("X-Conversation-Id"))

	// Conversation persisted.
	conv, err := env.memory.Get(context.Background(), "alice", "alice_1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "Il est midi.", conv.Messages[1].Content)
}

func TestOrchestrateDecisionOnly(t *testing.T) {
	env := newTestEnv(t, "", nil)
	rr, resp := doJSON(t, env.handler, http.MethodPost, "/api/orchestrate",
		`{"prompt":"pourquoi le ciel est-il bleu, démontrer pas à pas","execute":false,"allowed_tools":[]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	assert.Equal(t, "deep", resp["mode"])
	assert.Equal(t, "claude-opus-4-1", resp["selected_model"])
	assert.Equal(t, true, resp["use_reasoning"])
	assert.Equal(t, "low", resp["reasoning_effort"])
	_, hasText := resp["output_text"]
	assert.False(t, hasText)
}

func TestOrchestrateDecisionTools(t *testing.T) {
	env := newTestEnv(t, "", nil)
	rr, resp := doJSON(t, env.handler, http.MethodPost, "/api/orchestrate",
		`{"prompt":"météo à Paris","execute":"false","allowed_tools":["search_web"]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	assert.Equal(t, "tools", resp["mode"])
	assert.Equal(t, "claude-sonnet-4-5", resp["selected_model"])
	assert.Equal(t, false, resp["use_reasoning"])
	assert.Nil(t, resp["reasoning_effort"])
}

func TestQueryOnlyDecision(t *testing.T) {
	env := newTestEnv(t, "", nil)
	rr, resp := doJSON(t, env.handler, http.MethodPost,
		"/api/orchestrate?prompt=salut&execute=false", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "trivial", resp["mode"])
	assert.Equal(t, false, resp["use_reasoning"])
}

func TestSyncAskMissingPrompt(t *testing.T) {
	env := newTestEnv(t, "", nil)
	rr, _ := doJSON(t, env.handler, http.MethodPost, "/api/ask", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
