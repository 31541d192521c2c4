// Package workflow holds workflow definitions and the registry that matches
// them against classified intents. Definitions carry an intent signature and
// a semantic vector computed at registration time.
package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mouimet-infinisoft/ibrain2024/pkg/log"
)

// IntentSignature describes what kind of requests a workflow serves.
type IntentSignature struct {
	PrimaryDomains       []string `json:"primaryDomains"`
	SecondaryContexts    []string `json:"secondaryContexts"`
	RequiredCapabilities []string `json:"requiredCapabilities"`
	ComplexityLevel      int      `json:"complexityLevel"`
}

// Definition is one registered workflow.
type Definition struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	IntentSignature IntentSignature `json:"intentSignature"`
	TriggerKeywords []string        `json:"triggerKeywords"`
	// SemanticVector is computed over name, description and keywords when the
	// definition is registered.
	SemanticVector []float64 `json:"semanticVector,omitempty"`
}

// Steps returns how many steps an instance of this workflow advances through.
// Each required capability corresponds to one step.
func (d Definition) Steps() int {
	return len(d.IntentSignature.RequiredCapabilities)
}

// Config is the input to New. IntentSignature is required; a missing ID gets
// a generated UUID.
type Config struct {
	ID              string
	Name            string
	Description     string
	IntentSignature *IntentSignature
	TriggerKeywords []string
}

// Embedder produces semantic vectors. llm.Client satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// New validates a Config into a Definition. A name and an intent signature
// are required; missing trigger keywords only degrade matching, so they get
// a warning rather than an error.
func New(cfg Config, logger log.Logger) (Definition, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return Definition{}, fmt.Errorf("workflow: a non-empty name is required")
	}
	if cfg.IntentSignature == nil {
		return Definition{}, fmt.Errorf("workflow %q: an intent signature is required", cfg.Name)
	}
	def := Definition{
		ID:              cfg.ID,
		Name:            cfg.Name,
		Description:     cfg.Description,
		IntentSignature: *cfg.IntentSignature,
		TriggerKeywords: cfg.TriggerKeywords,
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if len(def.TriggerKeywords) == 0 {
		logger.Warn("workflow has no trigger keywords, matching may suffer",
			log.F("workflow", def.Name))
	}
	return def, nil
}
