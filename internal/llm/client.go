// Package llm abstracts the language-model collaborators: text generation,
// embeddings and structured intent analysis. The rest of the system depends
// on the Client interface only; tests substitute a deterministic fake.
package llm

import "context"

// IntentAnalysis is the structured read of one user message.
type IntentAnalysis struct {
	// Domain is the contextual domain the message belongs to, e.g.
	// "software development" or "project management".
	Domain string `json:"domain"`
	// Context is a short free-text summary of what the user is doing.
	Context string `json:"context"`
	// Strength is the model's confidence in the read, 0..1.
	Strength float64 `json:"strength"`
	// Capabilities the message calls for, e.g. "code analysis".
	Capabilities []string `json:"capabilities"`
}

// Client is the language-model collaborator surface.
type Client interface {
	// Embed returns a semantic vector for the text.
	Embed(ctx context.Context, text string) ([]float64, error)
	// AnalyzeIntent extracts a structured intent read from the input given
	// recent conversation history.
	AnalyzeIntent(ctx context.Context, input string, history []string) (IntentAnalysis, error)
	// Complete generates a free-text reply for the prompt.
	Complete(ctx context.Context, prompt string) (string, error)
}
