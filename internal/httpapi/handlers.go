package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lbreton/conduit/internal/jobs"
	"github.com/lbreton/conduit/internal/memory"
)

// Suggested client poll intervals per job status, in seconds. Running jobs
// use the configured result delay bounds instead.
const (
	retryQueued  = 3
	retryUnknown = 5
)

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "conduit",
	})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	s.runSync(w, r, jobs.KindAsk)
}

func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	s.runSync(w, r, jobs.KindOrchestrate)
}

// runSync executes a job inline and returns the answer in the response.
func (s *Server) runSync(w http.ResponseWriter, r *http.Request, kind string) {
	body, ok := s.decodeBody(w, r)
	if !ok {
		return
	}
	mergeQuery(r, body)
	req, err := jobs.DecodeRequest(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		s.writeError(w, http.StatusBadRequest, "Missing required parameter: prompt")
		return
	}

	// Orchestrate can return the routing decision without executing it.
	if kind == jobs.KindOrchestrate && !executeRequested(body) {
		mode, model := s.runner.Preview(kind, req)
		s.writeJSON(w, http.StatusOK, s.decisionPayload(mode, model, req.Effort))
		return
	}

	newConv := req.UserID != "" &&
		(req.ConversationID == "" || strings.EqualFold(req.ConversationID, "init"))

	res, err := s.runner.Run(r.Context(), kind, req, nil)
	if err != nil {
		s.log.Error("synchronous run failed", "kind", kind, "error", err)
		s.writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	payload := map[string]any{
		"output_text": res.Text,
		"model":       res.Model,
		"duration_ms": res.DurationMS,
		"run_id":      uuid.NewString(),
	}
	if kind == jobs.KindOrchestrate {
		for k, v := range s.decisionPayload(res.Mode, res.Model, req.Effort) {
			payload[k] = v
		}
	}
	if req.UserID != "" {
		payload["conversation_id"] = res.ConversationID
		payload["new_conversation"] = newConv
	}

	w.Header().Set("X-Model-Used", res.Model)
	if res.ConversationID != "" {
		w.Header().Set("X-Conversation-Id", res.ConversationID)
	}
	s.writeJSON(w, http.StatusOK, payload)
}

// decisionPayload is the routing decision block shared by the decision-only
// response and the executed orchestrate response.
func (s *Server) decisionPayload(mode, model, effort string) map[string]any {
	var reasoningEffort any
	if mode == "deep" {
		if effort == "" {
			effort = s.cfg.DefaultEffort
		}
		reasoningEffort = effort
	}
	return map[string]any{
		"mode":             mode,
		"selected_model":   model,
		"use_reasoning":    mode == "deep",
		"reasoning_effort": reasoningEffort,
	}
}

// executeRequested reads the execute flag from an orchestrate body; absent
// means true.
func executeRequested(body map[string]any) bool {
	v, ok := body["execute"]
	if !ok {
		return true
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "on":
			return true
		}
		return false
	}
	return true
}

// startHandler enqueues a job and returns its id for polling.
func (s *Server) startHandler(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := s.decodeBody(w, r)
		if !ok {
			return
		}
		mergeQuery(r, body)
		req, err := jobs.DecodeRequest(body)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			s.writeError(w, http.StatusBadRequest, "Missing required parameter: prompt")
			return
		}

		// Resolve the conversation up front so the client learns its id
		// without waiting for the job to run.
		convID := ""
		if req.UserID != "" {
			resolved, err := s.runner.EnsureConversation(r.Context(), req.UserID, req.ConversationID)
			if err != nil {
				s.log.Warn("failed to resolve conversation", "user_id", req.UserID, "error", err)
			} else {
				convID = resolved
				body["conversation_id"] = resolved
			}
		}

		mode, model := s.runner.Preview(kind, req)
		msg := jobs.MsgQueued
		if mode == "deep" {
			msg = jobs.MsgRouting
		}

		jobID := uuid.NewString()
		_, err = s.jobs.Create(r.Context(), jobID, body, msg, func(st *jobs.State) {
			st.Mode = mode
			st.Model = model
		})
		if err != nil {
			s.log.Error("failed to create job", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to create job")
			return
		}
		if err := s.queue.Enqueue(r.Context(), jobs.Message{JobID: jobID, Kind: kind, Body: body}); err != nil {
			s.log.Error("failed to enqueue job", "job_id", jobID, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to enqueue job")
			return
		}

		w.Header().Set("Retry-After", strconv.Itoa(retryQueued))
		if convID != "" {
			w.Header().Set("X-Conversation-Id", convID)
		}
		s.writeJSON(w, http.StatusAccepted, map[string]any{
			"ok":              true,
			"job_id":          jobID,
			"status":          jobs.StatusQueued,
			"message":         msg,
			"progress":        0,
			"tool":            "",
			"mode":            mode,
			"selected_model":  model,
			"conversation_id": convID,
			"retry_after_sec": retryQueued,
		})
	}
}

type statusResponse struct {
	*jobs.State
	OK             bool   `json:"ok"`
	JobID          string `json:"job_id"`
	Status         string `json:"status"`
	ConversationID string `json:"conversation_id"`
	RetryAfterSec  int    `json:"retry_after_sec,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.URL.Query().Get("job_id"))
	if jobID == "" {
		s.writeError(w, http.StatusBadRequest, "Missing required parameter: job_id")
		return
	}

	state, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			w.Header().Set("Retry-After", strconv.Itoa(retryUnknown))
			s.writeJSON(w, http.StatusNotFound, map[string]any{
				"ok":              false,
				"job_id":          jobID,
				"status":          "unknown",
				"message":         "Job not found",
				"retry_after_sec": retryUnknown,
			})
			return
		}
		s.log.Error("failed to load job state", "job_id", jobID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load job state")
		return
	}

	status := state.Status
	if status == jobs.StatusRunning && state.Tool != "" {
		status = "tool"
	}

	// The conversation id lives in the request sidecar, not the state.
	convID := ""
	if sidecar, err := s.jobs.Request(r.Context(), jobID); err == nil {
		convID, _ = sidecar["conversation_id"].(string)
	}

	resp := statusResponse{State: state, OK: true, JobID: jobID, Status: status, ConversationID: convID}
	switch state.Status {
	case jobs.StatusQueued:
		resp.RetryAfterSec = retryQueued
	case jobs.StatusRunning:
		resp.RetryAfterSec = int(s.cfg.RecommendedPollInterval() / time.Second)
	}
	if resp.RetryAfterSec > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfterSec))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMemories(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "Missing required parameter: user_id")
		return
	}
	limit := queryInt(r, "limit")

	summaries, err := s.memory.List(r.Context(), userID, limit)
	if err != nil {
		s.log.Error("failed to list conversations", "user_id", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"count":    len(summaries),
		"memories": summaries,
	})
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	convID := strings.TrimSpace(r.URL.Query().Get("memory_id"))
	if convID == "" {
		convID = strings.TrimSpace(r.URL.Query().Get("conversation_id"))
	}
	if userID == "" || convID == "" {
		s.writeError(w, http.StatusBadRequest, "Missing required parameters: user_id, memory_id")
		return
	}

	conv, err := s.memory.Get(r.Context(), userID, convID)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		s.log.Error("failed to load conversation", "conversation_id", convID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if limit := queryInt(r, "limit"); limit > 0 && len(conv.Messages) > limit {
		conv.Messages = conv.Messages[len(conv.Messages)-limit:]
	}
	s.writeJSON(w, http.StatusOK, conv)
}

// mergeQuery overlays request parameters passed in the query string onto the
// body. Body keys win on conflict.
func mergeQuery(r *http.Request, body map[string]any) {
	for _, k := range []string{"prompt", "model", "reasoning_effort", "user_id", "conversation_id", "execute"} {
		if _, ok := body[k]; ok {
			continue
		}
		if v := strings.TrimSpace(r.URL.Query().Get(k)); v != "" {
			body[k] = v
		}
	}
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var body map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		// Query-only requests carry no body at all.
		if !errors.Is(err, io.EOF) {
			s.writeError(w, http.StatusBadRequest, "Invalid request body")
			return nil, false
		}
	}
	if body == nil {
		body = map[string]any{}
	}
	return body, true
}

func queryInt(r *http.Request, name string) int {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
