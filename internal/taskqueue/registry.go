package taskqueue

import (
	"context"
	"fmt"
	"sync"
)

// Processor handles one task action.
type Processor interface {
	Process(ctx context.Context, task Task) (Result, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, task Task) (Result, error)

func (f ProcessorFunc) Process(ctx context.Context, task Task) (Result, error) {
	return f(ctx, task)
}

// Binding declares one (queue, action) to processor mapping.
type Binding struct {
	Queue     string
	Action    string
	Processor Processor
}

// Registry is the explicit dispatch table built at startup. Lookup is exact;
// an unbound action is a permanent dispatch failure, not a retry.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]Processor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{bindings: map[string]Processor{}}
}

func bindingKey(queue, action string) string { return queue + "/" + action }

// Register adds a binding. Duplicates fail fast.
func (r *Registry) Register(queue, action string, p Processor) error {
	if queue == "" || action == "" {
		return fmt.Errorf("taskqueue: binding needs queue and action")
	}
	if p == nil {
		return fmt.Errorf("taskqueue: binding %s/%s needs a processor", queue, action)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := bindingKey(queue, action)
	if _, exists := r.bindings[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateBinding, key)
	}
	r.bindings[key] = p
	return nil
}

// RegisterAll adds every binding, stopping at the first error.
func (r *Registry) RegisterAll(bindings []Binding) error {
	for _, b := range bindings {
		if err := r.Register(b.Queue, b.Action, b.Processor); err != nil {
			return err
		}
	}
	return nil
}

// Resolve returns the processor bound to (queue, action).
func (r *Registry) Resolve(queue, action string) (Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.bindings[bindingKey(queue, action)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProcessor, bindingKey(queue, action))
	}
	return p, nil
}
