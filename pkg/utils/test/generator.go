package testutils

import (
	"context"
	"errors"
	"sync"
)

// ScriptedGenerator is a test generator that returns canned replies in
// call order and records every prompt it receives.
type ScriptedGenerator struct {
	mu sync.Mutex

	// Replies are handed out one per Generate call, in order.
	Replies []string

	// Errs, when non-nil at the call index, is returned instead of the
	// reply at that index.
	Errs []error

	prompts []string
	calls   int
}

// Generate implements llm.Generator.
func (g *ScriptedGenerator) Generate(_ context.Context, prompt string, _ bool) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.prompts = append(g.prompts, prompt)
	i := g.calls
	g.calls++

	if i < len(g.Errs) && g.Errs[i] != nil {
		return "", g.Errs[i]
	}
	if i < len(g.Replies) {
		return g.Replies[i], nil
	}
	return "", errors.New("no scripted reply")
}

// Queue appends replies for subsequent Generate calls.
func (g *ScriptedGenerator) Queue(replies ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Replies = append(g.Replies, replies...)
}

// Prompts returns a copy of every prompt seen so far.
func (g *ScriptedGenerator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.prompts))
	copy(out, g.prompts)
	return out
}

// Calls returns how many times Generate has been invoked.
func (g *ScriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}
