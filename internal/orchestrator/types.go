// Package orchestrator drives conversations through matched workflows. Each
// user has one conversation context and at most one workflow instance; the
// orchestrator boundary never returns an error to the caller, only text.
package orchestrator

import "time"

// State is the lifecycle state of a workflow instance.
type State string

const (
	StateInitialized State = "initialized"
	StateActive      State = "active"
	StatePaused      State = "paused"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// Message is one conversation turn with metadata.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender"` // user | system | ai
	Timestamp time.Time `json:"timestamp"`
}

// Metadata tracks conversation-level signals.
type Metadata struct {
	StartTime        time.Time `json:"startTime"`
	LastInteraction  time.Time `json:"lastInteraction"`
	TopicTransitions []string  `json:"topicTransitions"`
	Confidence       float64   `json:"confidence"`
}

// Instance is a running occurrence of a workflow for one conversation.
type Instance struct {
	ID           string    `json:"id"`
	WorkflowID   string    `json:"workflowId"`
	WorkflowName string    `json:"workflowName"`
	State        State     `json:"state"`
	CurrentStep  int       `json:"currentStep"`
	TotalSteps   int       `json:"totalSteps"`
	StartedAt    time.Time `json:"startedAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Conversation is the per-user context.
type Conversation struct {
	ID       string    `json:"id"`
	UserID   string    `json:"userId"`
	History  []Message `json:"history"`
	Metadata Metadata  `json:"metadata"`
	Instance *Instance `json:"instance,omitempty"`
}

// Event names for workflow lifecycle notifications.
const (
	EventWorkflowInitialized = "workflowInitialized"
	EventWorkflowCompleted   = "workflowCompleted"
	EventWorkflowFailed      = "workflowFailed"
)

// Event is a workflow lifecycle notification.
type Event struct {
	Name     string
	UserID   string
	Instance Instance
}
