// Package llmtest provides a scripted llm.Backend for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"dbspelunker/internal/llm"
)

// Handler answers one request.
type Handler func(ctx context.Context, req llm.Request) (llm.Response, error)

// Backend dispatches each request to the handler registered for its output
// name, falling back to Default. It records every request it sees.
type Backend struct {
	Handlers map[string]Handler
	Default  Handler

	mu    sync.Mutex
	calls []llm.Request
}

func (b *Backend) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	b.mu.Lock()
	b.calls = append(b.calls, req)
	b.mu.Unlock()

	if h, ok := b.Handlers[req.Output.Name]; ok {
		return h(ctx, req)
	}
	if b.Default != nil {
		return b.Default(ctx, req)
	}
	return llm.Response{}, fmt.Errorf("llmtest: no handler for output %q", req.Output.Name)
}

// Calls returns a copy of the requests seen so far.
func (b *Backend) Calls() []llm.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]llm.Request(nil), b.calls...)
}

// CallsFor returns the requests whose output is named name.
func (b *Backend) CallsFor(name string) []llm.Request {
	var out []llm.Request
	for _, c := range b.Calls() {
		if c.Output.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Structured answers every request with v encoded as the structured output.
func Structured(v any) Handler {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("llmtest: marshal %T: %v", v, err))
	}
	return func(context.Context, llm.Request) (llm.Response, error) {
		return llm.Response{Structured: raw}, nil
	}
}

// Sequence answers the n-th request with the n-th handler and repeats the
// last one once they run out.
func Sequence(hs ...Handler) Handler {
	var mu sync.Mutex
	n := 0
	return func(ctx context.Context, req llm.Request) (llm.Response, error) {
		mu.Lock()
		h := hs[min(n, len(hs)-1)]
		n++
		mu.Unlock()
		return h(ctx, req)
	}
}

// Text answers with free text only.
func Text(s string) Handler {
	return func(context.Context, llm.Request) (llm.Response, error) {
		return llm.Response{Text: s}, nil
	}
}

// Fail answers with err.
func Fail(err error) Handler {
	return func(context.Context, llm.Request) (llm.Response, error) {
		return llm.Response{}, err
	}
}

// CallTool answers with a single tool call.
func CallTool(name string, input any) Handler {
	raw, err := json.Marshal(input)
	if err != nil {
		panic(fmt.Sprintf("llmtest: marshal %T: %v", input, err))
	}
	return func(context.Context, llm.Request) (llm.Response, error) {
		return llm.Response{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: name, Input: raw}}}, nil
	}
}
