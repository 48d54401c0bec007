// Package ai provides the text-generation capability behind the extraction
// engine. The model backend sits behind a single-method interface so retry
// and fallback behavior can be tested without a live model.
package ai

import "context"

// Generator produces a free-text completion for a prompt. Implementations
// own their transport-level retries; callers still treat any returned error
// as a recoverable extraction failure.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls the wrapped function.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
