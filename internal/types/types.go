// Package types holds the shared data model for the conversation
// pipeline and the knowledge engine. Everything here is plain data;
// behavior lives in the packages that consume it.
package types

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a conversation. Immutable once created.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message stamped with a fresh ID and the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// WorkflowStep names the pipeline state that last ran for an invocation.
type WorkflowStep string

const (
	StepStart           WorkflowStep = "start"
	StepThreadCheck     WorkflowStep = "thread_check"
	StepClassify        WorkflowStep = "classify"
	StepValidate        WorkflowStep = "validate"
	StepAskInfo         WorkflowStep = "ask_info"
	StepRoute           WorkflowStep = "route"
	StepHandler         WorkflowStep = "handler"
	StepDefaultResponse WorkflowStep = "default_response"
	StepConfidence      WorkflowStep = "confidence"
	StepEscalate        WorkflowStep = "escalate"
	StepPersist         WorkflowStep = "persist"
)

// DefaultCategory is the sentinel assigned when classification is skipped
// or the classifier returns an unrecognized name.
const DefaultCategory = "default"

// AgentState is the per-user conversation state. One instance per
// (agent, user) pair, owned by the processor for the duration of a
// single invocation and persisted between invocations.
type AgentState struct {
	Messages            []Message      `json:"messages"`
	Category            string         `json:"category,omitempty"`
	MissingRequirements []string       `json:"missing_requirements,omitempty"`
	RequirementAttempts map[string]int `json:"requirement_attempts,omitempty"`
	Confidence          *float64       `json:"confidence,omitempty"`
	NeedsEscalation     bool           `json:"needs_escalation,omitempty"`
	WorkflowStep        WorkflowStep   `json:"workflow_step,omitempty"`
}

// NewAgentState returns an empty state ready for a first message.
func NewAgentState() *AgentState {
	return &AgentState{
		RequirementAttempts: make(map[string]int),
	}
}

// LastUserMessage returns the most recent user message, or nil.
func (s *AgentState) LastUserMessage() *Message {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return &s.Messages[i]
		}
	}
	return nil
}

// RecentUserMessages returns up to n user messages preceding the last
// message, in chronological order. Used by thread-continuity detection.
func (s *AgentState) RecentUserMessages(n int) []string {
	var out []string
	for i := len(s.Messages) - 1; i >= 0 && len(out) < n; i-- {
		if s.Messages[i].Role == RoleUser {
			out = append(out, s.Messages[i].Content)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// CategoryRequirement declares the fields a category needs present in
// user input before routing proceeds. Static configuration.
type CategoryRequirement struct {
	Category       string   `yaml:"category" json:"category"`
	RequiredFields []string `yaml:"required_fields" json:"required_fields"`
}

// HandlerResponse is what a custom handler or escalation routine returns.
type HandlerResponse struct {
	Messages []Message
}

// ContentRecord is one indexed chunk of a loaded knowledge source.
// Records for a source are superseded wholesale when its hash changes.
type ContentRecord struct {
	Source      string    `json:"source"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	ChunkIndex  int       `json:"chunk_index"`
	TotalChunks int       `json:"total_chunks"`
	LoadedAt    time.Time `json:"loaded_at"`
}

// LoadStats aggregates per-source outcomes of one knowledge load pass.
type LoadStats struct {
	Total            int
	Loaded           int
	Failed           int
	SkippedUnchanged int
	Errors           []string
}
