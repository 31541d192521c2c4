package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mouimet-infinisoft/ibrain2024/pkg/log"
)

// Registry stores workflow definitions keyed by id, preserving registration
// order. Matching relies on that order for deterministic tie-breaks.
type Registry struct {
	embedder Embedder
	logger   log.Logger

	mu    sync.RWMutex
	byID  map[string]*Definition
	order []string
}

// NewRegistry creates an empty Registry.
func NewRegistry(embedder Embedder, logger log.Logger) *Registry {
	return &Registry{
		embedder: embedder,
		logger:   logger.WithComponent("workflow-registry"),
		byID:     map[string]*Definition{},
	}
}

// Register computes the definition's semantic vector and stores it.
func (r *Registry) Register(ctx context.Context, def Definition) error {
	combined := strings.Join(append([]string{def.Name, def.Description}, def.TriggerKeywords...), " ")
	vec, err := r.embedder.Embed(ctx, combined)
	if err != nil {
		return fmt.Errorf("workflow: embed %q: %w", def.Name, err)
	}
	def.SemanticVector = vec

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[def.ID]; exists {
		return fmt.Errorf("workflow: id %s already registered", def.ID)
	}
	r.byID[def.ID] = &def
	r.order = append(r.order, def.ID)
	r.logger.Info("workflow registered",
		log.F("workflow", def.Name), log.F("id", def.ID),
		log.F("vectorDims", len(vec)))
	return nil
}

// RegisterConfigs validates and registers each config in order.
func (r *Registry) RegisterConfigs(ctx context.Context, configs []Config) error {
	for _, cfg := range configs {
		def, err := New(cfg, r.logger)
		if err != nil {
			return err
		}
		if err := r.Register(ctx, def); err != nil {
			return err
		}
	}
	return nil
}

// GetByID returns the definition with the given id.
func (r *Registry) GetByID(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byID[id]
	if !ok {
		return Definition{}, false
	}
	return *def, true
}

// All returns every definition in registration order.
func (r *Registry) All() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}
	return out
}

// UpdateEmbeddings folds a new context into a workflow's semantic vector as
// an element-wise moving average, so repeated matches keep teaching the
// registry what the workflow is about.
func (r *Registry) UpdateEmbeddings(ctx context.Context, id, newContext string) error {
	newVec, err := r.embedder.Embed(ctx, newContext)
	if err != nil {
		return fmt.Errorf("workflow: embed update context: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.byID[id]
	if !ok {
		r.logger.Warn("workflow not found for embedding update", log.F("id", id))
		return fmt.Errorf("workflow: id %s not found", id)
	}
	if len(def.SemanticVector) != len(newVec) {
		return fmt.Errorf("workflow: embedding dimension mismatch: %d vs %d",
			len(def.SemanticVector), len(newVec))
	}
	for i := range def.SemanticVector {
		def.SemanticVector[i] = (def.SemanticVector[i] + newVec[i]) / 2
	}
	r.logger.Debug("workflow embedding updated", log.F("id", id))
	return nil
}

// Remove deletes a workflow from the registry.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}
