// Package agent runs a conversation with a model until it returns a typed
// answer, executing the tools it asks for along the way.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dbspelunker/internal/llm"
	"dbspelunker/internal/logger"
)

const defaultMaxToolCalls = 10

// ErrToolCallLimit means the model asked for more tool calls than allowed.
var ErrToolCallLimit = errors.New("tool call limit exceeded")

type Config struct {
	Name     string
	System   string
	Output   llm.OutputSpec
	Tools    *Toolset
	Invoker  *llm.Invoker
	Settings llm.Settings

	// MaxToolCalls bounds the tool calls of a single Run.
	MaxToolCalls int

	// Fatal reports tool errors that must end the run instead of being
	// shown to the model.
	Fatal func(error) bool

	Log logger.Scoped
}

// Agent holds one conversation. It is not safe for concurrent use; build a
// fresh one per task.
type Agent[T any] struct {
	cfg     Config
	history []string
	calls   int
}

func New[T any](cfg Config) *Agent[T] {
	if cfg.MaxToolCalls <= 0 {
		cfg.MaxToolCalls = defaultMaxToolCalls
	}
	if cfg.Output.Name == "" {
		cfg.Output.Name = cfg.Name
	}
	if cfg.Output.Schema == nil {
		var zero T
		cfg.Output.Schema = llm.SchemaFor(zero)
	}
	return &Agent[T]{cfg: cfg}
}

// History returns a copy of the conversation so far.
func (a *Agent[T]) History() []string {
	return append([]string(nil), a.history...)
}

// ToolCalls returns how many tool calls the last Run made.
func (a *Agent[T]) ToolCalls() int { return a.calls }

// Run adds prompt to the conversation and drives it to a typed answer.
func (a *Agent[T]) Run(ctx context.Context, prompt string) (T, error) {
	var zero T
	a.history = append(a.history, prompt)
	a.calls = 0

	for {
		var out T
		var answered bool
		resp, err := a.cfg.Invoker.Do(ctx, llm.Call{
			Build: a.request,
			Accept: func(resp llm.Response) error {
				if len(resp.ToolCalls) > 0 {
					return nil
				}
				var v T
				if err := llm.DecodeStructured(resp, &v); err != nil {
					return err
				}
				out, answered = v, true
				return nil
			},
			OnShapeError: func(resp llm.Response, se *llm.ShapeError) {
				a.history = append(a.history, fmt.Sprintf(
					"Your previous answer could not be used: %v\nIt was:\n%s\nAnswer again using the %s tool.",
					se.Err, se.Raw, a.cfg.Output.Name))
			},
		})
		if err != nil {
			return zero, fmt.Errorf("%s: %w", a.cfg.Name, err)
		}
		if answered {
			return out, nil
		}

		for _, call := range resp.ToolCalls {
			a.calls++
			if a.calls > a.cfg.MaxToolCalls {
				return zero, fmt.Errorf("%s: %w after %d calls", a.cfg.Name, ErrToolCallLimit, a.cfg.MaxToolCalls)
			}
			turn, err := a.runTool(ctx, call)
			if err != nil {
				return zero, fmt.Errorf("%s: %w", a.cfg.Name, err)
			}
			a.history = append(a.history, turn)
		}
	}
}

func (a *Agent[T]) request() llm.Request {
	return llm.Request{
		System:   a.cfg.System,
		Prompt:   strings.Join(a.history, "\n\n"),
		Output:   a.cfg.Output,
		Tools:    a.cfg.Tools.Specs(),
		Settings: a.cfg.Settings,
	}
}

func (a *Agent[T]) runTool(ctx context.Context, call llm.ToolCall) (string, error) {
	a.cfg.Log.Debug("%s calls %s(%s)", a.cfg.Name, call.Name, call.Input)
	result, err := a.cfg.Tools.Dispatch(ctx, call)
	if err == nil {
		return fmt.Sprintf("Tool call %s(%s) returned:\n%s", call.Name, call.Input, result), nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if a.cfg.Fatal != nil && a.cfg.Fatal(err) {
		return "", fmt.Errorf("tool %s: %w", call.Name, err)
	}
	a.cfg.Log.Warn("%s: tool %s failed: %v", a.cfg.Name, call.Name, err)
	return fmt.Sprintf("Tool call %s(%s) failed: %v", call.Name, call.Input, err), nil
}
