// Package runtime wires storage and the task plumbing for a single-node
// instance. Higher layers get handles, not globals.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mouimet-infinisoft/ibrain2024/internal/config"
	pebblestore "github.com/mouimet-infinisoft/ibrain2024/internal/storage/pebble"
	"github.com/mouimet-infinisoft/ibrain2024/internal/taskqueue"
	"github.com/mouimet-infinisoft/ibrain2024/internal/taskstore"
	"github.com/mouimet-infinisoft/ibrain2024/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	DataDir string
	Fsync   pebblestore.FsyncMode
	// FsyncInterval bounds WAL sync coalescing when Fsync is interval mode.
	FsyncInterval time.Duration
	Config        config.Config
	Logger        log.Logger
}

// Runtime owns the shared Pebble database and the facades built on it.
type Runtime struct {
	db     *pebblestore.DB
	config config.Config
	store  *taskstore.Store
	tasks  *taskqueue.Client
}

// Queues every instance serves.
var defaultQueues = []string{"message", "communication", "background"}

// Open initializes storage and registers the standard queues.
func Open(opts Options) (*Runtime, error) {
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       opts.DataDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
	})
	if err != nil {
		return nil, err
	}
	tasks, err := taskqueue.NewClient(db, opts.Logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	qd := opts.Config.Queue
	for _, name := range defaultQueues {
		if err := tasks.RegisterQueue(taskqueue.QueueConfig{
			Name:        name,
			Concurrency: qd.Concurrency,
			MaxAttempts: qd.MaxAttempts,
			BackoffBase: qd.BackoffBase,
			BackoffCap:  qd.BackoffCap,
			Lease:       qd.LeaseDuration,
			Poll:        qd.PollInterval,
			Sweep:       qd.SweepInterval,
		}); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("runtime: register queue %s: %w", name, err)
		}
	}
	return &Runtime{
		db:     db,
		config: opts.Config,
		store:  taskstore.New(db),
		tasks:  tasks,
	}, nil
}

// Close releases the task client and the database.
func (r *Runtime) Close() error {
	if r.tasks != nil {
		r.tasks.Close()
	}
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth verifies the database answers reads.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("runtime: db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// Queues returns the queue names this instance serves.
func (r *Runtime) Queues() []string {
	return append([]string(nil), defaultQueues...)
}

// DB exposes the underlying store for components that share it.
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Store returns the durable task record store.
func (r *Runtime) Store() *taskstore.Store { return r.store }

// Tasks returns the queue producer client.
func (r *Runtime) Tasks() *taskqueue.Client { return r.tasks }

// Config returns the runtime configuration.
func (r *Runtime) Config() config.Config { return r.config }
