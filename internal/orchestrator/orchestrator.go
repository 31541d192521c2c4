package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mouimet-infinisoft/ibrain2024/internal/intent"
	"github.com/mouimet-infinisoft/ibrain2024/internal/taskqueue"
	"github.com/mouimet-infinisoft/ibrain2024/pkg/log"
)

// Queue and action the orchestrator enqueues step work onto.
const (
	QueueMessages      = "message"
	ActionProcessInput = "process-input"
)

// ProcessInput is the payload of the step task enqueued per message.
type ProcessInput struct {
	UserID     string `json:"userId"`
	Input      string `json:"input"`
	WorkflowID string `json:"workflowId"`
	InstanceID string `json:"instanceId"`
	Step       int    `json:"step"`
}

// User-facing replies. ProcessMessage always returns one of these families
// and never an error.
const (
	replyClarify    = "I'm unable to determine the specific workflow for your request. Could you please clarify?"
	replyStepFailed = "An error occurred during workflow execution. Let's start over."
	replyUnexpected = "I encountered an unexpected error while processing your request."
)

// Enqueuer is the slice of the task client the orchestrator needs.
// *taskqueue.Client satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue, action string, payload json.RawMessage, opts taskqueue.JobOptions) (taskqueue.Task, error)
}

// StepHandler executes the work of one workflow step. The default handler
// enqueues a background task; custom handlers can run steps inline.
type StepHandler interface {
	ExecuteStep(ctx context.Context, userID, input string, inst *Instance) error
}

// historyWindow caps how many prior turns feed classification.
const historyWindow = 10

type conversation struct {
	mu sync.Mutex
	Conversation
}

// Orchestrator owns per-user conversation state and advances workflow
// instances one step per message.
type Orchestrator struct {
	engine  *intent.Engine
	tasks   Enqueuer
	logger  log.Logger
	step    StepHandler
	idleTTL time.Duration
	now     func() time.Time
	onEvent func(Event)

	mu    sync.Mutex
	convs map[string]*conversation
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTasks wires the task client used to enqueue step work.
func WithTasks(t Enqueuer) Option {
	return func(o *Orchestrator) { o.tasks = t }
}

// WithStepHandler replaces the default step handler.
func WithStepHandler(h StepHandler) Option {
	return func(o *Orchestrator) { o.step = h }
}

// WithIdleTTL sets how long an idle conversation survives before EvictIdle
// drops it. Zero disables eviction.
func WithIdleTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) { o.idleTTL = ttl }
}

// WithEventHook registers a callback invoked for every workflow lifecycle
// event. The hook runs on the caller's goroutine and must not block.
func WithEventHook(fn func(Event)) Option {
	return func(o *Orchestrator) { o.onEvent = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator over the intent engine.
func New(engine *intent.Engine, logger log.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine: engine,
		logger: logger.WithComponent("orchestrator"),
		now:    time.Now,
		convs:  map[string]*conversation{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) emit(ev Event) {
	if o.onEvent != nil {
		o.onEvent(ev)
	}
}

// conversationFor returns the user's conversation, creating it on first
// contact. Callers lock the returned conversation before touching its state.
func (o *Orchestrator) conversationFor(userID string) *conversation {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.convs[userID]; ok {
		return c
	}
	now := o.now()
	c := &conversation{Conversation: Conversation{
		ID:     uuid.NewString(),
		UserID: userID,
		Metadata: Metadata{
			StartTime:       now,
			LastInteraction: now,
			Confidence:      0.5,
		},
	}}
	o.convs[userID] = c
	o.logger.Debug("conversation created",
		log.F("userId", userID), log.F("conversationId", c.Conversation.ID))
	return c
}

// ProcessMessage routes one user message: it classifies the input, matches a
// workflow when none is in flight, and advances the current instance one
// step. It always returns a non-empty reply and never panics outward.
// Messages from the same user are serialized; different users proceed
// concurrently.
func (o *Orchestrator) ProcessMessage(ctx context.Context, userID, text string) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic processing message",
				log.F("userId", userID), log.F("panic", fmt.Sprint(r)))
			reply = replyUnexpected
		}
	}()

	c := o.conversationFor(userID)
	c.mu.Lock()
	defer c.mu.Unlock()

	now := o.now()
	c.Metadata.LastInteraction = now

	history := recentUserTurns(c.History, historyWindow)
	def, class := o.engine.FindMostAppropriateWorkflow(ctx, text, history)

	c.History = append(c.History, Message{
		ID:        uuid.NewString(),
		Content:   text,
		Sender:    "user",
		Timestamp: now,
	})
	c.Metadata.Confidence = class.Strength
	o.trackTopic(c, class.Domain)

	// An unmatched message never advances an instance, active or not.
	if def == nil {
		o.logger.Info("no workflow matched, asking for clarification",
			log.F("userId", userID), log.F("domain", class.Domain))
		return o.respond(c, replyClarify, now)
	}

	inst := c.Instance
	if inst != nil && inst.State == StatePaused {
		return o.respond(c,
			fmt.Sprintf("The %s workflow is paused. Resume it to continue.", inst.WorkflowName), now)
	}
	if inst == nil {
		inst = &Instance{
			ID:           uuid.NewString(),
			WorkflowID:   def.ID,
			WorkflowName: def.Name,
			State:        StateInitialized,
			TotalSteps:   def.Steps(),
			StartedAt:    now,
			UpdatedAt:    now,
		}
		c.Instance = inst
		o.logger.Info("workflow instance initialized",
			log.F("userId", userID), log.F("workflow", def.Name), log.F("instanceId", inst.ID))
		o.emit(Event{Name: EventWorkflowInitialized, UserID: userID, Instance: *inst})
	}

	if err := o.dispatchStep(ctx, userID, text, inst); err != nil {
		o.logger.Error("workflow step failed",
			log.Err(err), log.F("userId", userID), log.F("instanceId", inst.ID))
		inst.State = StateFailed
		inst.UpdatedAt = now
		o.emit(Event{Name: EventWorkflowFailed, UserID: userID, Instance: *inst})
		c.Instance = nil
		return o.respond(c, replyStepFailed, now)
	}

	inst.State = StateActive
	inst.CurrentStep++
	inst.UpdatedAt = now
	if inst.CurrentStep >= inst.TotalSteps {
		inst.State = StateCompleted
		o.logger.Info("workflow instance completed",
			log.F("userId", userID), log.F("instanceId", inst.ID))
		o.emit(Event{Name: EventWorkflowCompleted, UserID: userID, Instance: *inst})
		c.Instance = nil
		return o.respond(c,
			fmt.Sprintf("Workflow %s has been successfully completed.", inst.WorkflowName), now)
	}
	return o.respond(c,
		fmt.Sprintf("Progressing in %s workflow.", inst.WorkflowName), now)
}

// dispatchStep runs the custom step handler when one is set, otherwise
// enqueues the background task that does the real work of the step. Without
// either, the step is a pure state advance. A panicking handler fails the
// step instead of unwinding past the instance bookkeeping.
func (o *Orchestrator) dispatchStep(ctx context.Context, userID, text string, inst *Instance) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("orchestrator: step panic: %v", r)
		}
	}()
	if o.step != nil {
		return o.step.ExecuteStep(ctx, userID, text, inst)
	}
	if o.tasks == nil {
		return nil
	}
	payload, err := json.Marshal(ProcessInput{
		UserID:     userID,
		Input:      text,
		WorkflowID: inst.WorkflowID,
		InstanceID: inst.ID,
		Step:       inst.CurrentStep,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: marshal step payload: %w", err)
	}
	_, err = o.tasks.Enqueue(ctx, QueueMessages, ActionProcessInput, payload, taskqueue.JobOptions{
		JobID:    fmt.Sprintf("%s/%d", inst.ID, inst.CurrentStep),
		Priority: taskqueue.PriorityHigh,
	})
	return err
}

func (o *Orchestrator) respond(c *conversation, text string, now time.Time) string {
	c.History = append(c.History, Message{
		ID:        uuid.NewString(),
		Content:   text,
		Sender:    "system",
		Timestamp: now,
	})
	return text
}

// trackTopic records a transition when the classified domain changes.
func (o *Orchestrator) trackTopic(c *conversation, domain string) {
	n := len(c.Metadata.TopicTransitions)
	if domain == "" || (n > 0 && c.Metadata.TopicTransitions[n-1] == domain) {
		return
	}
	c.Metadata.TopicTransitions = append(c.Metadata.TopicTransitions, domain)
}

func recentUserTurns(history []Message, limit int) []string {
	var turns []string
	for _, m := range history {
		if m.Sender == "user" {
			turns = append(turns, m.Content)
		}
	}
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns
}

// Pause suspends the user's current workflow instance.
func (o *Orchestrator) Pause(userID string) error {
	return o.setState(userID, StateActive, StatePaused)
}

// Resume reactivates a paused instance.
func (o *Orchestrator) Resume(userID string) error {
	return o.setState(userID, StatePaused, StateActive)
}

func (o *Orchestrator) setState(userID string, from, to State) error {
	o.mu.Lock()
	c, ok := o.convs[userID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("orchestrator: no conversation for user %s", userID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	inst := c.Instance
	if inst == nil {
		return fmt.Errorf("orchestrator: no workflow instance for user %s", userID)
	}
	if inst.State != from && !(from == StateActive && inst.State == StateInitialized) {
		return fmt.Errorf("orchestrator: instance is %s, not %s", inst.State, from)
	}
	inst.State = to
	inst.UpdatedAt = o.now()
	o.logger.Info("workflow instance state changed",
		log.F("userId", userID), log.F("instanceId", inst.ID), log.F("state", string(to)))
	return nil
}

// Snapshot returns a copy of the user's conversation for read-only use.
func (o *Orchestrator) Snapshot(userID string) (Conversation, bool) {
	o.mu.Lock()
	c, ok := o.convs[userID]
	o.mu.Unlock()
	if !ok {
		return Conversation{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.Conversation
	out.History = append([]Message(nil), c.History...)
	out.Metadata.TopicTransitions = append([]string(nil), c.Metadata.TopicTransitions...)
	if c.Instance != nil {
		inst := *c.Instance
		out.Instance = &inst
	}
	return out, true
}

// EvictIdle drops conversations whose last interaction is older than the
// idle TTL and returns how many were removed. A zero TTL evicts nothing.
func (o *Orchestrator) EvictIdle(now time.Time) int {
	if o.idleTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-o.idleTTL)
	o.mu.Lock()
	defer o.mu.Unlock()
	evicted := 0
	for userID, c := range o.convs {
		c.mu.Lock()
		idle := c.Metadata.LastInteraction.Before(cutoff)
		c.mu.Unlock()
		if idle {
			delete(o.convs, userID)
			evicted++
		}
	}
	if evicted > 0 {
		o.logger.Info("idle conversations evicted", log.F("count", evicted))
	}
	return evicted
}

// RunJanitor evicts idle conversations on the interval until ctx is done.
func (o *Orchestrator) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 || o.idleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.EvictIdle(o.now())
		}
	}
}
