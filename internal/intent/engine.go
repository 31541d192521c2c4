// Package intent classifies user messages and matches them to registered
// workflows with a weighted multi-dimensional score. Classification degrades
// instead of failing: when a collaborator is down the caller still gets a
// usable low-confidence read.
package intent

import (
	"context"

	"github.com/mouimet-infinisoft/ibrain2024/internal/llm"
	"github.com/mouimet-infinisoft/ibrain2024/internal/workflow"
	"github.com/mouimet-infinisoft/ibrain2024/pkg/log"
)

// degradedEmbeddingDims sizes the zero vector used when embedding fails.
const degradedEmbeddingDims = 1536

// Classification is the multi-dimensional read of one message.
type Classification struct {
	Embedding    []float64
	Domain       string
	Context      string
	Strength     float64
	Capabilities []string
}

// Engine scores workflows against classified intents.
type Engine struct {
	llm      llm.Client
	registry *workflow.Registry
	logger   log.Logger
}

// NewEngine creates an Engine over the LLM collaborator and the registry.
func NewEngine(client llm.Client, registry *workflow.Registry, logger log.Logger) *Engine {
	return &Engine{
		llm:      client,
		registry: registry,
		logger:   logger.WithComponent("intent"),
	}
}

// Classify produces a Classification for the input. It never returns an
// error: collaborator failures degrade to a zero embedding, the "general"
// domain and a 0.5 strength so the caller can still respond.
func (e *Engine) Classify(ctx context.Context, input string, history []string) Classification {
	embedding, err := e.llm.Embed(ctx, input)
	if err != nil {
		e.logger.Warn("embedding failed, degrading classification", log.Err(err))
		return degraded()
	}
	analysis, err := e.llm.AnalyzeIntent(ctx, input, history)
	if err != nil {
		e.logger.Warn("intent analysis failed, degrading classification", log.Err(err))
		return degraded()
	}
	c := Classification{
		Embedding:    embedding,
		Domain:       analysis.Domain,
		Context:      analysis.Context,
		Strength:     analysis.Strength,
		Capabilities: analysis.Capabilities,
	}
	if c.Domain == "" {
		c.Domain = "general"
	}
	if c.Context == "" {
		c.Context = "undefined"
	}
	if c.Strength == 0 {
		c.Strength = 0.7
	}
	return c
}

func degraded() Classification {
	return Classification{
		Embedding: make([]float64, degradedEmbeddingDims),
		Domain:    "general",
		Context:   "undefined",
		Strength:  0.5,
	}
}

// Score computes the weighted match score of one workflow against a
// classification.
func Score(def workflow.Definition, c Classification) float64 {
	return weightSemantic*cosineSimilarity(c.Embedding, def.SemanticVector) +
		weightDomain*domainSimilarity(def.IntentSignature.PrimaryDomains, c.Domain) +
		weightContext*contextAlignment(def.IntentSignature.SecondaryContexts, c.Context) +
		weightCapability*capabilityAlignment(c.Capabilities, def.IntentSignature.RequiredCapabilities)
}

// FindMostAppropriateWorkflow classifies the input and returns the highest
// scoring workflow above the confidence threshold, or nil when none
// qualifies. Ties go to the earliest registered workflow.
func (e *Engine) FindMostAppropriateWorkflow(ctx context.Context, input string, history []string) (*workflow.Definition, Classification) {
	c := e.Classify(ctx, input, history)

	var best *workflow.Definition
	bestScore := 0.0
	for _, def := range e.registry.All() {
		def := def
		score := Score(def, c)
		e.logger.Debug("workflow scored",
			log.F("workflow", def.Name), log.F("score", score))
		if score > bestScore {
			best = &def
			bestScore = score
		}
	}
	if best == nil || bestScore <= matchThreshold {
		e.logger.Info("no workflow above threshold",
			log.F("bestScore", bestScore), log.F("workflows", len(e.registry.All())))
		return nil, c
	}
	e.logger.Info("workflow matched",
		log.F("workflow", best.Name), log.F("score", bestScore))
	return best, c
}
