// Package taskqueue layers typed tasks, producers and workers on top of the
// broker. A Client enqueues tasks into named queues, a Registry binds
// (queue, action) pairs to processors, and a Worker drains one queue with a
// bounded pool, retrying failures with exponential backoff and publishing
// every lifecycle transition on the shared event feed.
package taskqueue

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Priority names map onto broker priority values; lower runs first.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Value returns the broker priority for the name. Unknown names get medium.
func (p Priority) Value() uint32 {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 10
	default:
		return 5
	}
}

// Task is the unit of work flowing through a queue.
type Task struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Action       string          `json:"action"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	ParentTaskID string          `json:"parentTaskId,omitempty"`
	// MaxAttempts overrides the queue's delivery attempt limit when > 0.
	MaxAttempts int `json:"maxAttempts,omitempty"`
}

// JobOptions tune placement of one enqueue.
type JobOptions struct {
	// JobID doubles as the task id and the idempotency key. Empty means a
	// generated UUID.
	JobID    string
	Priority Priority
	Delay    time.Duration
	// MaxAttempts overrides the queue's attempt limit for this task.
	MaxAttempts int
}

// QueueConfig describes one named queue.
type QueueConfig struct {
	Name        string
	Concurrency int           // in-flight jobs per worker, default 3
	MaxAttempts int           // total delivery attempts, default 3
	BackoffBase time.Duration // first retry delay, default 200ms
	BackoffCap  time.Duration // retry delay ceiling, default 30s
	Lease       time.Duration // per-delivery lease, default 30s
	Poll        time.Duration // idle poll interval, default 100ms
	Sweep       time.Duration // lease sweeper interval, default 1s
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 200 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.Lease <= 0 {
		c.Lease = 30 * time.Second
	}
	if c.Poll <= 0 {
		c.Poll = 100 * time.Millisecond
	}
	if c.Sweep <= 0 {
		c.Sweep = time.Second
	}
	return c
}

// Result is what a processor produced for a task.
type Result struct {
	// Value is recorded on the task and published with the completed event.
	Value json.RawMessage
	// Next lists follow-on tasks the worker enqueues after completion, so
	// chained work stays observable.
	Next []FollowOn
}

// FollowOn is a task spec produced by a processor.
type FollowOn struct {
	Queue   string
	Action  string
	Payload json.RawMessage
	Options JobOptions
}

// LifecycleEvent is the feed payload for every task state transition.
type LifecycleEvent struct {
	// Ts is the publish time in Unix milliseconds, stamped once so replayed
	// deliveries keep their original ordering.
	Ts           int64           `json:"ts"`
	TaskID       string          `json:"taskId"`
	Queue        string          `json:"queue"`
	Action       string          `json:"action"`
	Status       Status          `json:"status"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	Attempts     int             `json:"attempts,omitempty"`
	ParentTaskID string          `json:"parentTaskId,omitempty"`
}

// Sentinel configuration and dispatch errors.
var (
	ErrDuplicateQueue   = errors.New("taskqueue: queue already registered")
	ErrUnknownQueue     = errors.New("taskqueue: queue not registered")
	ErrNoProcessor      = errors.New("taskqueue: no processor bound for action")
	ErrDuplicateBinding = errors.New("taskqueue: binding already registered")
)

// backoffDelay computes the retry delay for a failure on the given 1-based
// attempt: base doubled per prior attempt, capped.
func backoffDelay(base, cap time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}
