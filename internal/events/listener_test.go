package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mouimet-infinisoft/ibrain2024/internal/broker"
	pebblestore "github.com/mouimet-infinisoft/ibrain2024/internal/storage/pebble"
	"github.com/mouimet-infinisoft/ibrain2024/internal/taskqueue"
	"github.com/mouimet-infinisoft/ibrain2024/internal/taskstore"
	"github.com/mouimet-infinisoft/ibrain2024/pkg/log"
)

func testLogger() log.Logger {
	return log.NewLogger(log.WithLevel(log.FatalLevel))
}

func testFixture(t *testing.T) (*broker.Feed, *taskstore.Store) {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	feed, err := broker.OpenFeed(db, taskqueue.FeedName)
	require.NoError(t, err)
	return feed, taskstore.New(db)
}

func appendEvent(t *testing.T, feed *broker.Feed, ev taskqueue.LifecycleEvent) uint64 {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	seq, err := feed.Append(context.Background(), []byte(ev.Status), b)
	require.NoError(t, err)
	return seq
}

func startListener(t *testing.T, l *Listener) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestListenerMirrorsLifecycle(t *testing.T) {
	feed, store := testFixture(t)
	hub := NewHub()
	notifications, cancel := hub.Subscribe("u1", 8)
	defer cancel()

	l := NewListener(feed, store, testLogger(), WithNotifier(hub))
	startListener(t, l)

	payload, _ := json.Marshal(map[string]string{"input": "hello"})
	appendEvent(t, feed, taskqueue.LifecycleEvent{
		TaskID: "t1", Queue: "communication", Action: "generate-response",
		Status: taskqueue.StatusWaiting, Payload: payload,
	})
	appendEvent(t, feed, taskqueue.LifecycleEvent{
		TaskID: "t1", Queue: "communication", Action: "generate-response",
		Status: taskqueue.StatusActive, Attempts: 1,
	})
	result, _ := json.Marshal(map[string]string{"userId": "u1", "response": "hi there"})
	appendEvent(t, feed, taskqueue.LifecycleEvent{
		TaskID: "t1", Queue: "communication", Action: "generate-response",
		Status: taskqueue.StatusCompleted, Result: result,
	})

	waitFor(t, func() bool {
		rec, err := store.Get("t1")
		return err == nil && rec.Status == string(taskqueue.StatusCompleted)
	})

	rec, err := store.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, "communication", rec.Queue)
	assert.JSONEq(t, string(result), string(rec.Result))

	msgs, err := store.Messages("u1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "assistant", msgs[0].Role)
	assert.Equal(t, "hi there", msgs[0].Content)
	assert.Equal(t, "t1", msgs[0].TaskID)

	select {
	case n := <-notifications:
		assert.Equal(t, "generate-response", n.Action)
		assert.True(t, n.IsComplete)
		assert.Equal(t, "u1", n.UserID)
	case <-time.After(5 * time.Second):
		t.Fatal("no notification received")
	}
}

func TestListenerMirrorsFailure(t *testing.T) {
	feed, store := testFixture(t)
	l := NewListener(feed, store, testLogger())
	startListener(t, l)

	appendEvent(t, feed, taskqueue.LifecycleEvent{
		TaskID: "t1", Queue: "message", Action: "process-input",
		Status: taskqueue.StatusFailed, Error: "boom", Attempts: 3,
	})

	waitFor(t, func() bool {
		rec, err := store.Get("t1")
		return err == nil && rec.Status == string(taskqueue.StatusFailed)
	})
	rec, _ := store.Get("t1")
	assert.Equal(t, "boom", rec.Error)
}

func TestListenerBackgroundNotification(t *testing.T) {
	feed, store := testFixture(t)
	hub := NewHub()
	all, cancel := hub.Subscribe("", 8)
	defer cancel()

	l := NewListener(feed, store, testLogger(), WithNotifier(hub))
	startListener(t, l)

	result, _ := json.Marshal(map[string]string{"userId": "u1", "kind": "research", "update": "done"})
	appendEvent(t, feed, taskqueue.LifecycleEvent{
		TaskID: "b1", Queue: "background", Action: "research",
		Status: taskqueue.StatusCompleted, Result: result,
	})

	select {
	case n := <-all:
		assert.Equal(t, "background_update", n.Action)
		assert.Equal(t, "u1", n.UserID)
		assert.True(t, n.IsComplete)
	case <-time.After(5 * time.Second):
		t.Fatal("no notification received")
	}
}

func TestListenerFilterSkipsButAdvances(t *testing.T) {
	feed, store := testFixture(t)
	filter, err := NewFilter(`queue == "communication"`)
	require.NoError(t, err)

	l := NewListener(feed, store, testLogger(), WithFilter(filter))
	startListener(t, l)

	appendEvent(t, feed, taskqueue.LifecycleEvent{
		TaskID: "skipped", Queue: "background", Action: "research",
		Status: taskqueue.StatusWaiting,
	})
	last := appendEvent(t, feed, taskqueue.LifecycleEvent{
		TaskID: "kept", Queue: "communication", Action: "generate-response",
		Status: taskqueue.StatusWaiting,
	})

	waitFor(t, func() bool {
		_, err := store.Get("kept")
		return err == nil
	})
	_, err = store.Get("skipped")
	assert.ErrorIs(t, err, taskstore.ErrNotFound)

	waitFor(t, func() bool {
		cur, ok := feed.GetCursor(DefaultGroup)
		return ok && cur == last
	})
}

func TestListenerResumesFromCursor(t *testing.T) {
	feed, store := testFixture(t)

	seq := appendEvent(t, feed, taskqueue.LifecycleEvent{
		TaskID: "t1", Queue: "message", Action: "process-input",
		Status: taskqueue.StatusWaiting,
	})

	first := NewListener(feed, store, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = first.Run(ctx) }()
	waitFor(t, func() bool {
		cur, ok := feed.GetCursor(DefaultGroup)
		return ok && cur == seq
	})
	cancel()
	<-done

	// a restarted listener picks up after the committed cursor
	hub := NewHub()
	all, cancelSub := hub.Subscribe("", 8)
	defer cancelSub()
	second := NewListener(feed, store, testLogger(), WithNotifier(hub))
	startListener(t, second)

	result, _ := json.Marshal(map[string]string{"userId": "u1", "update": "x", "kind": "code"})
	appendEvent(t, feed, taskqueue.LifecycleEvent{
		TaskID: "t2", Queue: "background", Action: "generate-code",
		Status: taskqueue.StatusCompleted, Result: result,
	})

	select {
	case n := <-all:
		assert.Equal(t, "t2", n.TaskID)
	case <-time.After(5 * time.Second):
		t.Fatal("no notification received")
	}
}

func TestListenerSkipsCorruptEvent(t *testing.T) {
	feed, store := testFixture(t)
	l := NewListener(feed, store, testLogger())
	startListener(t, l)

	_, err := feed.Append(context.Background(), []byte("junk"), []byte("not json"))
	require.NoError(t, err)
	last := appendEvent(t, feed, taskqueue.LifecycleEvent{
		TaskID: "t1", Queue: "message", Action: "process-input",
		Status: taskqueue.StatusWaiting,
	})

	waitFor(t, func() bool {
		cur, ok := feed.GetCursor(DefaultGroup)
		return ok && cur == last
	})
	_, err = store.Get("t1")
	assert.NoError(t, err)
}

func TestNewFilterRejectsBadExpression(t *testing.T) {
	_, err := NewFilter("status ==")
	require.Error(t, err)
}

func TestFilterEval(t *testing.T) {
	f, err := NewFilter(`status == "completed" && payload.userId == "u1"`)
	require.NoError(t, err)

	payload, _ := json.Marshal(map[string]string{"userId": "u1"})
	match := taskqueue.LifecycleEvent{Status: taskqueue.StatusCompleted, Payload: payload}
	assert.True(t, f.Eval(1, match))

	other := taskqueue.LifecycleEvent{Status: taskqueue.StatusWaiting, Payload: payload}
	assert.False(t, f.Eval(2, other))

	// missing payload field evaluates to an error, which is a non-match
	empty := taskqueue.LifecycleEvent{Status: taskqueue.StatusCompleted}
	assert.False(t, f.Eval(3, empty))
}

func TestHubRouting(t *testing.T) {
	hub := NewHub()
	u1, cancel1 := hub.Subscribe("u1", 4)
	defer cancel1()
	u2, cancel2 := hub.Subscribe("u2", 4)
	defer cancel2()
	all, cancelAll := hub.Subscribe("", 4)
	defer cancelAll()

	hub.Notify(Notification{TaskID: "t1", UserID: "u1"})

	select {
	case n := <-u1:
		assert.Equal(t, "t1", n.TaskID)
	default:
		t.Fatal("u1 subscriber missed notification")
	}
	select {
	case <-u2:
		t.Fatal("u2 subscriber should not receive u1 notification")
	default:
	}
	select {
	case n := <-all:
		assert.Equal(t, "t1", n.TaskID)
	default:
		t.Fatal("wildcard subscriber missed notification")
	}
}
