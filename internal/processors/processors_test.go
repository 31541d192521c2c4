package processors

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mouimet-infinisoft/ibrain2024/internal/intent"
	"github.com/mouimet-infinisoft/ibrain2024/internal/llm"
	"github.com/mouimet-infinisoft/ibrain2024/internal/orchestrator"
	pebblestore "github.com/mouimet-infinisoft/ibrain2024/internal/storage/pebble"
	"github.com/mouimet-infinisoft/ibrain2024/internal/taskqueue"
	"github.com/mouimet-infinisoft/ibrain2024/internal/taskstore"
	"github.com/mouimet-infinisoft/ibrain2024/internal/workflow"
	"github.com/mouimet-infinisoft/ibrain2024/pkg/log"
)

type fakeLLM struct {
	completeErr error
	completions int
}

func (f *fakeLLM) Embed(_ context.Context, _ string) ([]float64, error) {
	return []float64{1, 0}, nil
}

func (f *fakeLLM) AnalyzeIntent(_ context.Context, _ string, _ []string) (llm.IntentAnalysis, error) {
	return llm.IntentAnalysis{Domain: "support", Context: "technical", Strength: 0.8}, nil
}

func (f *fakeLLM) Complete(_ context.Context, prompt string) (string, error) {
	if f.completeErr != nil {
		return "", f.completeErr
	}
	f.completions++
	return "generated: " + prompt[:20], nil
}

func testLogger() log.Logger {
	return log.NewLogger(log.WithLevel(log.FatalLevel))
}

func testDeps(t *testing.T, fake *fakeLLM) (Deps, *taskstore.Store) {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := taskstore.New(db)
	reg := workflow.NewRegistry(fake, testLogger())
	engine := intent.NewEngine(fake, reg, testLogger())
	return Deps{LLM: fake, Engine: engine, Store: store, Logger: testLogger()}, store
}

func resolve(t *testing.T, d Deps, queue, action string) taskqueue.Processor {
	t.Helper()
	reg := taskqueue.NewRegistry()
	require.NoError(t, reg.RegisterAll(Bindings(d)))
	p, err := reg.Resolve(queue, action)
	require.NoError(t, err)
	return p
}

func TestBindingsCoverAllActions(t *testing.T) {
	d, _ := testDeps(t, &fakeLLM{})
	reg := taskqueue.NewRegistry()
	require.NoError(t, reg.RegisterAll(Bindings(d)))

	for _, pair := range [][2]string{
		{orchestrator.QueueMessages, orchestrator.ActionProcessInput},
		{QueueCommunication, ActionGenerateResponse},
		{QueueBackground, ActionGenerateCode},
		{QueueBackground, ActionResearch},
	} {
		_, err := reg.Resolve(pair[0], pair[1])
		assert.NoError(t, err, pair[0]+"/"+pair[1])
	}
}

func TestProcessInputChainsGenerateResponse(t *testing.T) {
	d, _ := testDeps(t, &fakeLLM{})
	p := resolve(t, d, orchestrator.QueueMessages, orchestrator.ActionProcessInput)

	payload, _ := json.Marshal(orchestrator.ProcessInput{
		UserID:     "u1",
		Input:      "  my   server is down  ",
		WorkflowID: "support",
		Step:       1,
	})
	res, err := p.Process(context.Background(), taskqueue.Task{
		ID: "t1", Queue: orchestrator.QueueMessages,
		Action: orchestrator.ActionProcessInput, Payload: payload,
	})
	require.NoError(t, err)

	var value map[string]any
	require.NoError(t, json.Unmarshal(res.Value, &value))
	assert.Equal(t, "support", value["domain"])

	require.Len(t, res.Next, 1)
	next := res.Next[0]
	assert.Equal(t, QueueCommunication, next.Queue)
	assert.Equal(t, ActionGenerateResponse, next.Action)
	assert.Equal(t, "t1/response", next.Options.JobID)

	var gr GenerateResponse
	require.NoError(t, json.Unmarshal(next.Payload, &gr))
	assert.Equal(t, "my server is down", gr.Input)
	assert.Equal(t, "u1", gr.UserID)
	assert.Equal(t, "support", gr.Domain)
}

func TestProcessInputRejectsEmptyInput(t *testing.T) {
	d, _ := testDeps(t, &fakeLLM{})
	p := resolve(t, d, orchestrator.QueueMessages, orchestrator.ActionProcessInput)

	payload, _ := json.Marshal(orchestrator.ProcessInput{UserID: "u1", Input: "   "})
	_, err := p.Process(context.Background(), taskqueue.Task{ID: "t1", Payload: payload})
	require.Error(t, err)
}

func TestGenerateResponseReturnsReply(t *testing.T) {
	fake := &fakeLLM{}
	d, _ := testDeps(t, fake)
	p := resolve(t, d, QueueCommunication, ActionGenerateResponse)

	payload, _ := json.Marshal(GenerateResponse{UserID: "u1", Input: "help me debug this"})
	res, err := p.Process(context.Background(), taskqueue.Task{ID: "t2", Payload: payload})
	require.NoError(t, err)

	var value map[string]string
	require.NoError(t, json.Unmarshal(res.Value, &value))
	assert.Equal(t, "u1", value["userId"])
	assert.Contains(t, value["response"], "generated:")
	assert.Equal(t, 1, fake.completions)
}

func TestGenerateResponsePropagatesLLMError(t *testing.T) {
	d, _ := testDeps(t, &fakeLLM{completeErr: errors.New("rate limited")})
	p := resolve(t, d, QueueCommunication, ActionGenerateResponse)

	payload, _ := json.Marshal(GenerateResponse{UserID: "u1", Input: "hello"})
	_, err := p.Process(context.Background(), taskqueue.Task{ID: "t3", Payload: payload})
	require.ErrorContains(t, err, "rate limited")
}

func TestRedeliveryReturnsCachedResult(t *testing.T) {
	fake := &fakeLLM{}
	d, store := testDeps(t, fake)
	p := resolve(t, d, QueueCommunication, ActionGenerateResponse)
	ctx := context.Background()

	payload, _ := json.Marshal(GenerateResponse{UserID: "u1", Input: "help me debug this"})
	task := taskqueue.Task{ID: "t4", Queue: QueueCommunication, Action: ActionGenerateResponse, Payload: payload}

	first, err := p.Process(ctx, task)
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(task.ID, task.Queue, task.Action,
		string(taskqueue.StatusCompleted), first.Value, ""))

	second, err := p.Process(ctx, task)
	require.NoError(t, err)
	assert.JSONEq(t, string(first.Value), string(second.Value))
	assert.Equal(t, 1, fake.completions)
}

func TestBackgroundHandlersProduceUpdates(t *testing.T) {
	d, _ := testDeps(t, &fakeLLM{})
	payload, _ := json.Marshal(BackgroundRequest{UserID: "u1", Request: "summarize recent changes"})

	for _, action := range []string{ActionGenerateCode, ActionResearch} {
		p := resolve(t, d, QueueBackground, action)
		res, err := p.Process(context.Background(), taskqueue.Task{ID: "b-" + action, Payload: payload})
		require.NoError(t, err)

		var value map[string]string
		require.NoError(t, json.Unmarshal(res.Value, &value))
		assert.Equal(t, "u1", value["userId"])
		assert.NotEmpty(t, value["kind"])
		assert.NotEmpty(t, value["update"])
	}
}
