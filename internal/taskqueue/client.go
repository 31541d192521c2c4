package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mouimet-infinisoft/ibrain2024/internal/broker"
	pebblestore "github.com/mouimet-infinisoft/ibrain2024/internal/storage/pebble"
	"github.com/mouimet-infinisoft/ibrain2024/pkg/log"
)

// FeedName is the shared lifecycle event feed all queues publish to.
const FeedName = "task-events"

// Client is the producer facade. Queue handles are created lazily on first
// use and cached for the life of the client.
type Client struct {
	db     *pebblestore.DB
	feed   *broker.Feed
	logger log.Logger

	mu      sync.Mutex
	configs map[string]QueueConfig
	queues  map[string]*broker.Queue
}

// NewClient creates a Client over the shared store.
func NewClient(db *pebblestore.DB, logger log.Logger) (*Client, error) {
	feed, err := broker.OpenFeed(db, FeedName)
	if err != nil {
		return nil, fmt.Errorf("taskqueue: open feed: %w", err)
	}
	return &Client{
		db:      db,
		feed:    feed,
		logger:  logger.WithComponent("taskqueue"),
		configs: map[string]QueueConfig{},
		queues:  map[string]*broker.Queue{},
	}, nil
}

// RegisterQueue declares a queue configuration. Registering the same name
// twice is a configuration error.
func (c *Client) RegisterQueue(cfg QueueConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("taskqueue: queue name is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.configs[cfg.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateQueue, cfg.Name)
	}
	c.configs[cfg.Name] = cfg.withDefaults()
	return nil
}

// Config returns the registered configuration for a queue.
func (c *Client) Config(name string) (QueueConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, ok := c.configs[name]
	return cfg, ok
}

// Feed exposes the lifecycle event feed for listeners.
func (c *Client) Feed() *broker.Feed { return c.feed }

// queue lazily opens and caches the broker queue for name.
func (c *Client) queue(name string) (*broker.Queue, QueueConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, ok := c.configs[name]
	if !ok {
		return nil, QueueConfig{}, fmt.Errorf("%w: %s", ErrUnknownQueue, name)
	}
	if q, ok := c.queues[name]; ok {
		return q, cfg, nil
	}
	q, err := broker.OpenQueue(c.db, name)
	if err != nil {
		return nil, QueueConfig{}, fmt.Errorf("taskqueue: open queue %s: %w", name, err)
	}
	q.StartSweeper(cfg.Sweep, 0)
	c.queues[name] = q
	c.logger.Debug("queue opened", log.F("queue", name))
	return q, cfg, nil
}

// Enqueue places a task on a queue and publishes its waiting event. The
// returned task carries the assigned id.
func (c *Client) Enqueue(ctx context.Context, queue, action string, payload json.RawMessage, opts JobOptions) (Task, error) {
	q, _, err := c.queue(queue)
	if err != nil {
		return Task{}, err
	}

	task := Task{
		ID:          opts.JobID,
		Queue:       queue,
		Action:      action,
		Payload:     payload,
		MaxAttempts: opts.MaxAttempts,
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	header, err := json.Marshal(task)
	if err != nil {
		return Task{}, fmt.Errorf("taskqueue: marshal task: %w", err)
	}

	seq, dup, err := q.Enqueue(ctx, header, payload, broker.EnqueueOptions{
		JobID:    task.ID,
		Priority: opts.Priority.Value(),
		DelayMs:  opts.Delay.Milliseconds(),
	})
	if err != nil {
		return Task{}, fmt.Errorf("taskqueue: enqueue on %s: %w", queue, err)
	}
	if dup {
		c.logger.Debug("duplicate enqueue ignored",
			log.F("queue", queue), log.F("taskId", task.ID), log.F("seq", seq))
		return task, nil
	}

	c.publish(ctx, LifecycleEvent{
		TaskID:  task.ID,
		Queue:   queue,
		Action:  action,
		Status:  StatusWaiting,
		Payload: payload,
	})
	c.logger.Info("task enqueued",
		log.F("queue", queue), log.F("action", action), log.F("taskId", task.ID))
	return task, nil
}

// EnqueueChild is Enqueue with parent lineage recorded on the task.
func (c *Client) EnqueueChild(ctx context.Context, parentID string, spec FollowOn) (Task, error) {
	q, _, err := c.queue(spec.Queue)
	if err != nil {
		return Task{}, err
	}
	task := Task{
		ID:           spec.Options.JobID,
		Queue:        spec.Queue,
		Action:       spec.Action,
		Payload:      spec.Payload,
		ParentTaskID: parentID,
		MaxAttempts:  spec.Options.MaxAttempts,
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	header, err := json.Marshal(task)
	if err != nil {
		return Task{}, fmt.Errorf("taskqueue: marshal task: %w", err)
	}
	_, dup, err := q.Enqueue(ctx, header, spec.Payload, broker.EnqueueOptions{
		JobID:    task.ID,
		Priority: spec.Options.Priority.Value(),
		DelayMs:  spec.Options.Delay.Milliseconds(),
	})
	if err != nil {
		return Task{}, fmt.Errorf("taskqueue: enqueue on %s: %w", spec.Queue, err)
	}
	if !dup {
		c.publish(ctx, LifecycleEvent{
			TaskID:       task.ID,
			Queue:        spec.Queue,
			Action:       spec.Action,
			Status:       StatusWaiting,
			Payload:      spec.Payload,
			ParentTaskID: parentID,
		})
	}
	return task, nil
}

// Close stops sweepers on all opened queues.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, q := range c.queues {
		q.StopSweeper()
	}
}

func (c *Client) publish(ctx context.Context, ev LifecycleEvent) {
	if ev.Ts == 0 {
		ev.Ts = time.Now().UnixMilli()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		c.logger.Error("marshal lifecycle event", log.Err(err))
		return
	}
	if _, err := c.feed.Append(ctx, []byte(ev.Status), b); err != nil {
		c.logger.Error("publish lifecycle event",
			log.Err(err), log.F("taskId", ev.TaskID), log.F("status", string(ev.Status)))
	}
}
