package engine

import "context"

// Adapter abstracts the completion engine used by the extraction pipeline.
// Concrete implementations attach to a running OpenAI-compatible server or
// spawn one per model directory.
type Adapter interface {
	// Start prepares a session for the given model directory and parameters.
	Start(modelDir string, params Params) (Session, error)
}

// Session represents a usable connection to a loaded model.
type Session interface {
	// Complete streams the completion for prompt. onToken is invoked per
	// fragment; the accumulated text is returned in Result.Content.
	// Implementations must return when the context is canceled.
	Complete(ctx context.Context, prompt string, onToken func(string) error) (Result, error)
	// Close releases any resources associated with the session.
	Close() error
}

// Params captures sampling parameters passed to the engine.
type Params struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
	Stop        []string
	Seed        int
}

// Result summarizes one completion.
type Result struct {
	Content      string
	FinishReason string
}
