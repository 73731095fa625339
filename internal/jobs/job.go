package jobs

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Job kinds. Ask runs a single routed completion; Orchestrate adds tool
// access and model selection constraints.
const (
	KindAsk         = "ask"
	KindOrchestrate = "orchestrate"
)

// Job statuses as exposed by the status endpoints.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// State is the persisted progress record of a job.
type State struct {
	Status      string   `json:"status"`
	Progress    int      `json:"progress"`
	Message     string   `json:"message,omitempty"`
	Tool        string   `json:"tool,omitempty"`
	PartialText string   `json:"partial_text,omitempty"`
	FinalText   string   `json:"final_text,omitempty"`
	Mode        string   `json:"mode,omitempty"`
	Model       string   `json:"selected_model,omitempty"`
	UsedTools   []string `json:"used_tools,omitempty"`
	Error       string   `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	DurationMS int64      `json:"duration_ms,omitempty"`
}

// Message is the envelope pushed on the queue.
type Message struct {
	JobID string         `json:"job_id"`
	Kind  string         `json:"type"`
	Body  map[string]any `json:"body"`
}

// Request is the decoded job body shared by both job kinds. Unknown keys
// are preserved in Extra so constraint hints survive the queue round trip.
type Request struct {
	Prompt         string `mapstructure:"prompt"`
	UserID         string `mapstructure:"user_id"`
	ConversationID string `mapstructure:"conversation_id"`
	Model          string `mapstructure:"model"`
	Effort         string `mapstructure:"reasoning_effort"`

	AllowedTools any            `mapstructure:"allowed_tools"`
	Constraints  map[string]any `mapstructure:"constraints"`

	Extra map[string]any `mapstructure:",remain"`
}

// DecodeRequest interprets a queue message body.
func DecodeRequest(body map[string]any) (*Request, error) {
	var req Request
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &req,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(body); err != nil {
		return nil, fmt.Errorf("decode job body: %w", err)
	}
	return &req, nil
}
