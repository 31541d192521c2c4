package intent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mouimet-infinisoft/ibrain2024/internal/llm"
	"github.com/mouimet-infinisoft/ibrain2024/internal/workflow"
	"github.com/mouimet-infinisoft/ibrain2024/pkg/log"
)

type fakeLLM struct {
	embed      func(text string) []float64
	analysis   llm.IntentAnalysis
	embedErr   error
	analyzeErr error
}

func (f *fakeLLM) Embed(_ context.Context, text string) ([]float64, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	if f.embed != nil {
		return f.embed(text), nil
	}
	return []float64{1, 0, 0}, nil
}

func (f *fakeLLM) AnalyzeIntent(_ context.Context, _ string, _ []string) (llm.IntentAnalysis, error) {
	if f.analyzeErr != nil {
		return llm.IntentAnalysis{}, f.analyzeErr
	}
	return f.analysis, nil
}

func (f *fakeLLM) Complete(_ context.Context, _ string) (string, error) {
	return "ok", nil
}

func testLogger() log.Logger {
	return log.NewLogger(log.WithLevel(log.FatalLevel))
}

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{3, 4}, []float64{3, 4}, 1},
		{"scaled", []float64{1, 2}, []float64{2, 4}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"zero vector", []float64{0, 0}, []float64{1, 1}, 0},
		{"both zero", []float64{0, 0}, []float64{0, 0}, 0},
		{"length mismatch", []float64{1, 0}, []float64{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, cosineSimilarity(tc.a, tc.b), 1e-9)
		})
	}
}

func TestClassifyDegradesOnEmbedFailure(t *testing.T) {
	e := NewEngine(&fakeLLM{embedErr: errors.New("down")}, nil, testLogger())
	c := e.Classify(context.Background(), "hello", nil)

	assert.Len(t, c.Embedding, 1536)
	for _, v := range c.Embedding {
		require.Zero(t, v)
	}
	assert.Equal(t, "general", c.Domain)
	assert.Equal(t, "undefined", c.Context)
	assert.Equal(t, 0.5, c.Strength)
	assert.Empty(t, c.Capabilities)
}

func TestClassifyDegradesOnAnalysisFailure(t *testing.T) {
	e := NewEngine(&fakeLLM{analyzeErr: errors.New("down")}, nil, testLogger())
	c := e.Classify(context.Background(), "hello", nil)
	assert.Equal(t, "general", c.Domain)
	assert.Equal(t, 0.5, c.Strength)
}

func TestScoreMonotonicInSemanticSimilarity(t *testing.T) {
	def := workflow.Definition{
		Name:           "w",
		SemanticVector: []float64{1, 0},
		IntentSignature: workflow.IntentSignature{
			PrimaryDomains: []string{"support"},
		},
	}
	base := Classification{Domain: "support", Context: "undefined"}

	low := base
	low.Embedding = []float64{0.2, 0.98}
	mid := base
	mid.Embedding = []float64{0.7, 0.71}
	high := base
	high.Embedding = []float64{1, 0.05}

	sLow, sMid, sHigh := Score(def, low), Score(def, mid), Score(def, high)
	assert.Less(t, sLow, sMid)
	assert.Less(t, sMid, sHigh)
}

func registryWith(t *testing.T, emb workflow.Embedder, configs []workflow.Config) *workflow.Registry {
	t.Helper()
	r := workflow.NewRegistry(emb, testLogger())
	require.NoError(t, r.RegisterConfigs(context.Background(), configs))
	return r
}

func TestFindReturnsNilBelowThreshold(t *testing.T) {
	// workflows embed on one axis, the message on another
	fake := &fakeLLM{
		embed: func(text string) []float64 {
			if strings.Contains(text, "Workflow") {
				return []float64{1, 0}
			}
			return []float64{0, 1}
		},
		analysis: llm.IntentAnalysis{Domain: "cooking", Context: "recipes", Strength: 0.9},
	}
	reg := registryWith(t, fake, []workflow.Config{
		{Name: "Some Workflow", IntentSignature: &workflow.IntentSignature{
			PrimaryDomains:       []string{"support"},
			SecondaryContexts:    []string{"technical"},
			RequiredCapabilities: []string{"diagnostic"},
		}},
	})
	e := NewEngine(fake, reg, testLogger())

	def, c := e.FindMostAppropriateWorkflow(context.Background(), "how do I bake bread", nil)
	assert.Nil(t, def)
	assert.Equal(t, "cooking", c.Domain)
}

func TestFindTieBreakEarliestRegistered(t *testing.T) {
	// identical signatures and vectors: both score the same, first wins
	fake := &fakeLLM{
		embed:    func(string) []float64 { return []float64{1, 0} },
		analysis: llm.IntentAnalysis{Domain: "support", Context: "technical", Strength: 0.9},
	}
	sig := func() *workflow.IntentSignature {
		return &workflow.IntentSignature{
			PrimaryDomains:       []string{"support"},
			SecondaryContexts:    []string{"technical"},
			RequiredCapabilities: []string{"diagnostic"},
		}
	}
	reg := registryWith(t, fake, []workflow.Config{
		{Name: "First", IntentSignature: sig()},
		{Name: "Second", IntentSignature: sig()},
	})
	e := NewEngine(fake, reg, testLogger())

	def, _ := e.FindMostAppropriateWorkflow(context.Background(), "help me", nil)
	require.NotNil(t, def)
	assert.Equal(t, "First", def.Name)
}

func TestFindMatchesLegacyRefactoring(t *testing.T) {
	// embeddings: refactoring text and the user message share an axis, the
	// other builtins sit elsewhere
	fake := &fakeLLM{
		embed: func(text string) []float64 {
			lower := strings.ToLower(text)
			if strings.Contains(lower, "refactor") || strings.Contains(lower, "legacy") {
				return []float64{1, 0, 0}
			}
			return []float64{0, 1, 0}
		},
		analysis: llm.IntentAnalysis{
			Domain:       "software_engineering",
			Context:      "legacy_system",
			Strength:     0.9,
			Capabilities: []string{"code_analysis"},
		},
	}
	reg := registryWith(t, fake, workflow.Builtins())
	e := NewEngine(fake, reg, testLogger())

	def, _ := e.FindMostAppropriateWorkflow(context.Background(),
		"I need to refactor our legacy billing system", nil)
	require.NotNil(t, def)
	assert.Equal(t, "Legacy Code Refactoring Workflow", def.Name)
}

func TestDomainSimilarity(t *testing.T) {
	cases := []struct {
		name      string
		workflow  []string
		classDom  string
		want      float64
	}{
		{"exact", []string{"support"}, "support", 1},
		{"partial", []string{"software_engineering", "code_quality", "modernization"}, "software_engineering", 1.0 / 3},
		{"case insensitive", []string{"Support"}, "support desk", 1},
		{"no overlap", []string{"support"}, "cooking", 0},
		{"empty workflow domains", nil, "support", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, domainSimilarity(tc.workflow, tc.classDom), 1e-9)
		})
	}
}

func TestCapabilityAlignment(t *testing.T) {
	cases := []struct {
		name       string
		classified []string
		required   []string
		want       float64
	}{
		{"both empty", nil, nil, 0},
		{"classified empty", nil, []string{"diagnostic"}, 0},
		{"substring either way", []string{"code"}, []string{"code_analysis"}, 1},
		{"full overlap", []string{"diagnostic"}, []string{"diagnostic"}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, capabilityAlignment(tc.classified, tc.required), 1e-9)
		})
	}
}
