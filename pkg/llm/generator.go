// Package llm is the boundary to the text generation collaborator used by
// the compression engine. Callers depend on the Generator interface; the
// concrete client speaks an OpenAI-compatible chat completions API.
package llm

import "context"

// Generator produces a completion for a prompt. When useHistory is true the
// implementation may carry prior turns as conversational context; memory
// operations (summarization, fact extraction, consolidation) pass false so
// each call is stateless.
type Generator interface {
	Generate(ctx context.Context, prompt string, useHistory bool) (string, error)
}

// GenerateFunc adapts a function to the Generator interface.
type GenerateFunc func(ctx context.Context, prompt string, useHistory bool) (string, error)

func (f GenerateFunc) Generate(ctx context.Context, prompt string, useHistory bool) (string, error) {
	return f(ctx, prompt, useHistory)
}
