// Package llm talks to a language-model backend and retries calls that fail
// in transport or come back in the wrong shape.
package llm

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Settings are the generation knobs passed through to the backend. Zero
// values mean "backend default".
type Settings struct {
	Model           string
	Temperature     float64
	TopP            float64
	MaxOutputTokens int
	ThinkingBudget  int
	Seed            *int64
}

// OutputSpec names the structured value the caller expects back.
type OutputSpec struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
}

// ToolSpec declares one tool the model may call.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// Request is one model call: the system instruction, the conversation so
// far rendered as a single text, and what the model may answer with.
type Request struct {
	System   string
	Prompt   string
	Output   OutputSpec
	Tools    []ToolSpec
	Settings Settings
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Response is what came back. Structured is set when the backend returned
// the declared output; Text holds any free text; ToolCalls is non-empty when
// the model wants tools run before it answers.
type Response struct {
	Structured json.RawMessage
	Text       string
	ToolCalls  []ToolCall
}

// Backend generates a response for a request.
type Backend interface {
	Generate(ctx context.Context, req Request) (Response, error)
}
