package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mouimet-infinisoft/ibrain2024/internal/broker"
	"github.com/mouimet-infinisoft/ibrain2024/pkg/log"
)

// Worker drains one queue with a bounded pool of in-flight jobs.
type Worker struct {
	client   *Client
	registry *Registry
	cfg      QueueConfig
	logger   log.Logger
}

// NewWorker creates a Worker for a registered queue.
func NewWorker(client *Client, registry *Registry, queueName string, logger log.Logger) (*Worker, error) {
	cfg, ok := client.Config(queueName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queueName)
	}
	return &Worker{
		client:   client,
		registry: registry,
		cfg:      cfg,
		logger:   logger.WithComponent("worker").With(log.F("queue", queueName)),
	}, nil
}

// Run processes the queue until ctx is canceled. In-flight jobs are allowed
// to finish before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	q, _, err := w.client.queue(w.cfg.Name)
	if err != nil {
		return err
	}

	sem := make(chan struct{}, w.cfg.Concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	w.logger.Info("worker started", log.F("concurrency", w.cfg.Concurrency))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		free := w.cfg.Concurrency - len(sem)
		if free == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.cfg.Poll):
			}
			continue
		}

		msgs, err := q.Dequeue(ctx, free, w.cfg.Lease.Milliseconds())
		if err != nil {
			w.logger.Error("dequeue failed", log.Err(err))
			time.Sleep(w.cfg.Poll)
			continue
		}
		if len(msgs) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.cfg.Poll):
			}
			continue
		}

		for _, msg := range msgs {
			sem <- struct{}{}
			wg.Add(1)
			go func(m broker.Leased) {
				defer wg.Done()
				defer func() { <-sem }()
				w.handle(ctx, q, m)
			}(msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, q *broker.Queue, msg broker.Leased) {
	var task Task
	if err := json.Unmarshal(msg.Header, &task); err != nil {
		w.logger.Error("corrupt task header, dead-lettering",
			log.Err(err), log.F("seq", msg.Seq))
		_ = q.Fail(ctx, msg.Seq, 0, true)
		return
	}
	attempt := int(msg.Attempts) + 1

	w.publish(ctx, LifecycleEvent{
		TaskID:       task.ID,
		Queue:        task.Queue,
		Action:       task.Action,
		Status:       StatusActive,
		Attempts:     attempt,
		ParentTaskID: task.ParentTaskID,
	})

	proc, err := w.registry.Resolve(task.Queue, task.Action)
	if err != nil {
		// Unbound actions fail permanently; retrying cannot fix dispatch.
		w.logger.Error("no processor for task",
			log.F("action", task.Action), log.F("taskId", task.ID))
		_ = q.Fail(ctx, msg.Seq, 0, true)
		w.publish(ctx, LifecycleEvent{
			TaskID:       task.ID,
			Queue:        task.Queue,
			Action:       task.Action,
			Status:       StatusFailed,
			Error:        err.Error(),
			Attempts:     attempt,
			ParentTaskID: task.ParentTaskID,
		})
		return
	}

	maxAttempts := w.cfg.MaxAttempts
	if task.MaxAttempts > 0 {
		maxAttempts = task.MaxAttempts
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go w.keepLease(hbCtx, q, msg.Seq, task.ID)
	result, procErr := w.runProcessor(ctx, proc, task)
	stopHeartbeat()
	if procErr != nil {
		if attempt >= maxAttempts {
			w.logger.Error("task failed permanently",
				log.Err(procErr), log.F("taskId", task.ID), log.F("attempt", attempt))
			_ = q.Fail(ctx, msg.Seq, 0, true)
			w.publish(ctx, LifecycleEvent{
				TaskID:       task.ID,
				Queue:        task.Queue,
				Action:       task.Action,
				Status:       StatusFailed,
				Error:        procErr.Error(),
				Attempts:     attempt,
				ParentTaskID: task.ParentTaskID,
			})
			return
		}
		delay := backoffDelay(w.cfg.BackoffBase, w.cfg.BackoffCap, attempt)
		w.logger.Warn("task failed, retrying",
			log.Err(procErr), log.F("taskId", task.ID),
			log.F("attempt", attempt), log.F("retryIn", delay.String()))
		_ = q.Fail(ctx, msg.Seq, delay.Milliseconds(), false)
		return
	}

	if err := q.Complete(ctx, msg.Seq); err != nil {
		w.logger.Error("complete failed", log.Err(err), log.F("taskId", task.ID))
		return
	}
	w.publish(ctx, LifecycleEvent{
		TaskID:       task.ID,
		Queue:        task.Queue,
		Action:       task.Action,
		Status:       StatusCompleted,
		Result:       result.Value,
		Attempts:     attempt,
		ParentTaskID: task.ParentTaskID,
	})
	w.logger.Info("task completed", log.F("taskId", task.ID), log.F("action", task.Action))

	for _, next := range result.Next {
		if _, err := w.client.EnqueueChild(ctx, task.ID, next); err != nil {
			w.logger.Error("enqueue follow-on failed",
				log.Err(err), log.F("parent", task.ID), log.F("queue", next.Queue))
		}
	}
}

// keepLease renews the delivery lease at half the lease interval while the
// processor runs, so a handler slower than the lease is not redelivered
// mid-flight.
func (w *Worker) keepLease(ctx context.Context, q *broker.Queue, seq uint64, taskID string) {
	interval := w.cfg.Lease / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.ExtendLease(ctx, seq, w.cfg.Lease.Milliseconds()); err != nil {
				w.logger.Warn("lease extension failed",
					log.Err(err), log.F("taskId", taskID), log.F("seq", seq))
				return
			}
		}
	}
}

// runProcessor isolates panics so one bad handler cannot take the worker down.
func (w *Worker) runProcessor(ctx context.Context, proc Processor, task Task) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("taskqueue: processor panic: %v", r)
		}
	}()
	return proc.Process(ctx, task)
}

func (w *Worker) publish(ctx context.Context, ev LifecycleEvent) {
	// Worker publishes through the client feed so readers see one stream.
	w.client.publish(ctx, ev)
}

// RunWorkers starts one Worker per registered queue name and blocks until ctx
// is canceled.
func RunWorkers(ctx context.Context, client *Client, registry *Registry, queues []string, logger log.Logger) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(queues))
	for _, name := range queues {
		w, err := NewWorker(client, registry, name, logger)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	return <-errCh
}
