package taskqueue

import (
	"context"
	"errors"
	"testing"
)

func nopProcessor() Processor {
	return ProcessorFunc(func(ctx context.Context, task Task) (Result, error) {
		return Result{}, nil
	})
}

func TestRegistryExactResolve(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("message", "process-input", nopProcessor()); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Resolve("message", "process-input"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// exact match only: same action on another queue is unbound
	if _, err := r.Resolve("background", "process-input"); !errors.Is(err, ErrNoProcessor) {
		t.Fatalf("err = %v, want ErrNoProcessor", err)
	}
	if _, err := r.Resolve("message", "other"); !errors.Is(err, ErrNoProcessor) {
		t.Fatalf("err = %v, want ErrNoProcessor", err)
	}
}

func TestRegistryDuplicateBindingFails(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("q", "a", nopProcessor()); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("q", "a", nopProcessor()); !errors.Is(err, ErrDuplicateBinding) {
		t.Fatalf("err = %v, want ErrDuplicateBinding", err)
	}
}

func TestRegistryRejectsNilProcessor(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("q", "a", nil); err == nil {
		t.Fatalf("expected error for nil processor")
	}
}
