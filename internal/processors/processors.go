// Package processors holds the built-in task handlers and the explicit
// binding table the server registers at startup. Handlers are idempotent
// under redelivery: completed results are cached in the task store by task id
// and returned as-is on a second delivery.
package processors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mouimet-infinisoft/ibrain2024/internal/intent"
	"github.com/mouimet-infinisoft/ibrain2024/internal/llm"
	"github.com/mouimet-infinisoft/ibrain2024/internal/orchestrator"
	"github.com/mouimet-infinisoft/ibrain2024/internal/taskqueue"
	"github.com/mouimet-infinisoft/ibrain2024/internal/taskstore"
	"github.com/mouimet-infinisoft/ibrain2024/pkg/log"
)

// Queue and action names served by the built-in handlers.
const (
	QueueCommunication = "communication"
	QueueBackground    = "background"

	ActionGenerateResponse = "generate-response"
	ActionGenerateCode     = "generate-code"
	ActionResearch         = "research"
)

// GenerateResponse is the payload for communication/generate-response tasks.
type GenerateResponse struct {
	UserID     string `json:"userId"`
	Input      string `json:"input"`
	WorkflowID string `json:"workflowId"`
	Step       int    `json:"step"`
	Domain     string `json:"domain"`
	Context    string `json:"context"`
}

// BackgroundRequest is the payload for background queue tasks.
type BackgroundRequest struct {
	UserID  string `json:"userId"`
	Request string `json:"request"`
}

// Deps are the collaborators the built-in handlers need.
type Deps struct {
	LLM    llm.Client
	Engine *intent.Engine
	Store  *taskstore.Store
	Logger log.Logger
}

type handlers struct {
	llm    llm.Client
	engine *intent.Engine
	store  *taskstore.Store
	logger log.Logger
}

// Bindings returns the binding table for the built-in handlers. The server
// registers it verbatim; there is no runtime discovery.
func Bindings(d Deps) []taskqueue.Binding {
	h := &handlers{
		llm:    d.LLM,
		engine: d.Engine,
		store:  d.Store,
		logger: d.Logger.WithComponent("processors"),
	}
	return []taskqueue.Binding{
		{Queue: orchestrator.QueueMessages, Action: orchestrator.ActionProcessInput,
			Processor: taskqueue.ProcessorFunc(h.processInput)},
		{Queue: QueueCommunication, Action: ActionGenerateResponse,
			Processor: taskqueue.ProcessorFunc(h.generateResponse)},
		{Queue: QueueBackground, Action: ActionGenerateCode,
			Processor: h.background("code generation")},
		{Queue: QueueBackground, Action: ActionResearch,
			Processor: h.background("research")},
	}
}

// cached returns the stored result when this task already completed, so a
// redelivered task never does its work twice.
func (h *handlers) cached(taskID string) (taskqueue.Result, bool) {
	if h.store == nil {
		return taskqueue.Result{}, false
	}
	rec, err := h.store.Get(taskID)
	if err != nil {
		if !errors.Is(err, taskstore.ErrNotFound) {
			h.logger.Warn("result cache lookup failed", log.Err(err), log.F("taskId", taskID))
		}
		return taskqueue.Result{}, false
	}
	if rec.Status != string(taskqueue.StatusCompleted) || rec.Result == nil {
		return taskqueue.Result{}, false
	}
	h.logger.Debug("returning cached result", log.F("taskId", taskID))
	return taskqueue.Result{Value: rec.Result}, true
}

// normalizeInput collapses whitespace runs and trims the message.
func normalizeInput(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// processInput classifies the user message and hands the response work to the
// communication queue as a follow-on, so the chain stays observable.
func (h *handlers) processInput(ctx context.Context, task taskqueue.Task) (taskqueue.Result, error) {
	if res, ok := h.cached(task.ID); ok {
		return res, nil
	}
	var p orchestrator.ProcessInput
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return taskqueue.Result{}, fmt.Errorf("processors: decode process-input payload: %w", err)
	}
	input := normalizeInput(p.Input)
	if input == "" {
		return taskqueue.Result{}, fmt.Errorf("processors: empty input for task %s", task.ID)
	}

	class := h.engine.Classify(ctx, input, nil)
	h.logger.Info("input classified",
		log.F("taskId", task.ID), log.F("domain", class.Domain), log.F("context", class.Context))

	next, err := json.Marshal(GenerateResponse{
		UserID:     p.UserID,
		Input:      input,
		WorkflowID: p.WorkflowID,
		Step:       p.Step,
		Domain:     class.Domain,
		Context:    class.Context,
	})
	if err != nil {
		return taskqueue.Result{}, fmt.Errorf("processors: marshal follow-on payload: %w", err)
	}
	value, err := json.Marshal(map[string]any{
		"domain":   class.Domain,
		"context":  class.Context,
		"strength": class.Strength,
	})
	if err != nil {
		return taskqueue.Result{}, fmt.Errorf("processors: marshal result: %w", err)
	}
	return taskqueue.Result{
		Value: value,
		Next: []taskqueue.FollowOn{{
			Queue:   QueueCommunication,
			Action:  ActionGenerateResponse,
			Payload: next,
			Options: taskqueue.JobOptions{
				JobID:    task.ID + "/response",
				Priority: taskqueue.PriorityHigh,
			},
		}},
	}, nil
}

// generateResponse asks the chat collaborator for the user-facing reply. The
// reply rides on the completed event; the listener mirrors and notifies.
func (h *handlers) generateResponse(ctx context.Context, task taskqueue.Task) (taskqueue.Result, error) {
	if res, ok := h.cached(task.ID); ok {
		return res, nil
	}
	var p GenerateResponse
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return taskqueue.Result{}, fmt.Errorf("processors: decode generate-response payload: %w", err)
	}

	prompt := fmt.Sprintf(
		"You are a helpful assistant working through the %q step of a %s workflow.\n"+
			"Conversation domain: %s. Context: %s.\n\nUser message: %s",
		stepLabel(p.Step), p.WorkflowID, p.Domain, p.Context, p.Input)
	reply, err := h.llm.Complete(ctx, prompt)
	if err != nil {
		return taskqueue.Result{}, fmt.Errorf("processors: generate response: %w", err)
	}

	value, err := json.Marshal(map[string]string{
		"userId":   p.UserID,
		"response": reply,
	})
	if err != nil {
		return taskqueue.Result{}, fmt.Errorf("processors: marshal result: %w", err)
	}
	return taskqueue.Result{Value: value}, nil
}

func stepLabel(step int) string {
	return fmt.Sprintf("step-%d", step+1)
}

// background returns a one-shot LLM handler for the background queue. Kind
// names the work in the prompt and the result.
func (h *handlers) background(kind string) taskqueue.ProcessorFunc {
	return func(ctx context.Context, task taskqueue.Task) (taskqueue.Result, error) {
		if res, ok := h.cached(task.ID); ok {
			return res, nil
		}
		var p BackgroundRequest
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return taskqueue.Result{}, fmt.Errorf("processors: decode background payload: %w", err)
		}
		out, err := h.llm.Complete(ctx,
			fmt.Sprintf("Perform the following %s task and report the outcome.\n\n%s", kind, p.Request))
		if err != nil {
			return taskqueue.Result{}, fmt.Errorf("processors: background %s: %w", kind, err)
		}
		value, err := json.Marshal(map[string]string{
			"userId": p.UserID,
			"kind":   kind,
			"update": out,
		})
		if err != nil {
			return taskqueue.Result{}, fmt.Errorf("processors: marshal result: %w", err)
		}
		return taskqueue.Result{Value: value}, nil
	}
}
