// Package events tails the task lifecycle feed and keeps the durable task
// store in sync. The listener commits its feed cursor only after the mirror
// write lands, so delivery is at-least-once; the store's upserts make the
// replay harmless.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mouimet-infinisoft/ibrain2024/internal/broker"
	"github.com/mouimet-infinisoft/ibrain2024/internal/processors"
	"github.com/mouimet-infinisoft/ibrain2024/internal/taskqueue"
	"github.com/mouimet-infinisoft/ibrain2024/internal/taskstore"
	"github.com/mouimet-infinisoft/ibrain2024/pkg/id"
	"github.com/mouimet-infinisoft/ibrain2024/pkg/log"
)

// DefaultGroup is the cursor group the mirror listener commits under.
const DefaultGroup = "taskstore-mirror"

// Notification is what clients receive when a task finishes.
type Notification struct {
	Action     string          `json:"action"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Status     string          `json:"status"`
	IsComplete bool            `json:"isComplete"`
	UserID     string          `json:"userId,omitempty"`
	TaskID     string          `json:"taskId"`
}

// Notifier receives client-facing notifications. Hub implements it.
type Notifier interface {
	Notify(n Notification)
}

// Listener tails the lifecycle feed and mirrors events into the task store.
type Listener struct {
	feed     *broker.Feed
	store    *taskstore.Store
	notifier Notifier
	filter   Filter
	logger   log.Logger

	group      string
	batchSize  int
	waitPoll   time.Duration
	retryDelay time.Duration
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithNotifier sets the notification sink. Without one, the listener only
// mirrors.
func WithNotifier(n Notifier) ListenerOption {
	return func(l *Listener) { l.notifier = n }
}

// WithGroup overrides the cursor group name.
func WithGroup(group string) ListenerOption {
	return func(l *Listener) { l.group = group }
}

// WithFilter installs a compiled event filter. Events the filter rejects are
// skipped entirely but still advance the cursor.
func WithFilter(f Filter) ListenerOption {
	return func(l *Listener) { l.filter = f }
}

// WithBatchSize caps how many events one read pulls.
func WithBatchSize(n int) ListenerOption {
	return func(l *Listener) { l.batchSize = n }
}

// NewListener creates a Listener over the feed and store.
func NewListener(feed *broker.Feed, store *taskstore.Store, logger log.Logger, opts ...ListenerOption) *Listener {
	l := &Listener{
		feed:       feed,
		store:      store,
		logger:     logger.WithComponent("events"),
		group:      DefaultGroup,
		batchSize:  64,
		waitPoll:   time.Second,
		retryDelay: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run tails the feed until ctx is canceled. A mirror failure stops cursor
// progress and the event is retried after a short delay.
func (l *Listener) Run(ctx context.Context) error {
	cursor, _ := l.feed.GetCursor(l.group)
	l.logger.Info("listener started", log.F("group", l.group), log.F("cursor", cursor))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		events, err := l.feed.Read(cursor, l.batchSize)
		if err != nil {
			l.logger.Error("feed read failed", log.Err(err))
			if !sleepCtx(ctx, l.retryDelay) {
				return ctx.Err()
			}
			continue
		}
		if len(events) == 0 {
			l.feed.WaitForAppend(ctx, l.waitPoll)
			continue
		}

		for _, ev := range events {
			if err := l.apply(ctx, ev); err != nil {
				l.logger.Error("mirror write failed, will retry",
					log.Err(err), log.F("seq", ev.Seq))
				if !sleepCtx(ctx, l.retryDelay) {
					return ctx.Err()
				}
				break
			}
			cursor = ev.Seq
			if err := l.feed.CommitCursor(l.group, cursor); err != nil {
				l.logger.Error("cursor commit failed", log.Err(err), log.F("seq", cursor))
			}
		}
	}
}

// apply mirrors one feed event into the store and emits notifications for
// terminal communication and background tasks.
func (l *Listener) apply(_ context.Context, raw broker.Event) error {
	var ev taskqueue.LifecycleEvent
	if err := json.Unmarshal(raw.Payload, &ev); err != nil {
		// A corrupt event cannot be mirrored; skip it rather than wedge.
		l.logger.Error("corrupt lifecycle event, skipping",
			log.Err(err), log.F("seq", raw.Seq))
		return nil
	}
	if !l.filter.Eval(raw.Seq, ev) {
		return nil
	}

	switch ev.Status {
	case taskqueue.StatusWaiting:
		if err := l.store.Upsert(taskstore.Record{
			ID:           ev.TaskID,
			Queue:        ev.Queue,
			Action:       ev.Action,
			Payload:      ev.Payload,
			Status:       string(ev.Status),
			ParentTaskID: ev.ParentTaskID,
		}); err != nil {
			return err
		}
	default:
		if err := l.store.SetStatus(ev.TaskID, ev.Queue, ev.Action,
			string(ev.Status), ev.Result, ev.Error); err != nil {
			return err
		}
	}

	switch {
	case ev.Status == taskqueue.StatusCompleted && ev.Queue == processors.QueueCommunication:
		return l.deliverReply(raw.Seq, ev)
	case ev.Status == taskqueue.StatusCompleted && ev.Queue == processors.QueueBackground:
		l.notify(Notification{
			Action:     "background_update",
			Payload:    ev.Result,
			Status:     string(ev.Status),
			IsComplete: true,
			UserID:     resultUserID(ev.Result),
			TaskID:     ev.TaskID,
		})
	case ev.Status == taskqueue.StatusFailed:
		l.notify(Notification{
			Action:     ev.Action,
			Status:     string(ev.Status),
			IsComplete: true,
			TaskID:     ev.TaskID,
		})
	}
	return nil
}

// deliverReply records the assistant turn and pushes the reply notification.
// The message id is derived from the event's publish time and feed sequence:
// it sorts chronologically next to user turns and stays stable across
// redeliveries.
func (l *Listener) deliverReply(seq uint64, ev taskqueue.LifecycleEvent) error {
	var result struct {
		UserID   string `json:"userId"`
		Response string `json:"response"`
	}
	if err := json.Unmarshal(ev.Result, &result); err != nil || result.UserID == "" {
		l.logger.Warn("completed reply without user id, not delivering",
			log.F("taskId", ev.TaskID))
		return nil
	}
	if err := l.store.InsertMessage(taskstore.Message{
		ID:             id.FromParts(ev.Ts, seq).String(),
		ConversationID: result.UserID,
		Role:           "assistant",
		Content:        result.Response,
		TaskID:         ev.TaskID,
	}); err != nil {
		return err
	}
	l.notify(Notification{
		Action:     ev.Action,
		Payload:    ev.Result,
		Status:     string(ev.Status),
		IsComplete: true,
		UserID:     result.UserID,
		TaskID:     ev.TaskID,
	})
	return nil
}

func (l *Listener) notify(n Notification) {
	if l.notifier == nil {
		return
	}
	l.notifier.Notify(n)
}

func resultUserID(result json.RawMessage) string {
	var v struct {
		UserID string `json:"userId"`
	}
	_ = json.Unmarshal(result, &v)
	return v.UserID
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
