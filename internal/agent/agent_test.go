package agent_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbspelunker/internal/agent"
	"dbspelunker/internal/llm"
	"dbspelunker/internal/llm/llmtest"
)

type summary struct {
	Text string `json:"text"`
}

type tableArgs struct {
	TableName string `json:"table_name"`
}

var errOffline = errors.New("database offline")

func lookupTool(calls *int) agent.Tool {
	return agent.NewTool(agent.GetTableDetails, "Describe a table.",
		func(ctx context.Context, in tableArgs) (map[string]string, error) {
			*calls++
			switch in.TableName {
			case "missing":
				return nil, errors.New("no such table")
			case "offline":
				return nil, errOffline
			}
			return map[string]string{"name": in.TableName}, nil
		})
}

func newAgent(t *testing.T, b llm.Backend, tools ...agent.Tool) *agent.Agent[summary] {
	t.Helper()
	ts, err := agent.NewToolset(tools...)
	require.NoError(t, err)
	return agent.New[summary](agent.Config{
		Name:         "tester",
		System:       "sys",
		Tools:        ts,
		Invoker:      llm.NewInvoker(b, llm.WithBackoff(func(int) time.Duration { return 0 })),
		MaxToolCalls: 3,
		Fatal:        func(err error) bool { return errors.Is(err, errOffline) },
	})
}

func TestRunDirectAnswer(t *testing.T) {
	b := &llmtest.Backend{Default: llmtest.Structured(summary{Text: "done"})}
	a := newAgent(t, b)

	got, err := a.Run(context.Background(), "summarize")
	require.NoError(t, err)
	assert.Equal(t, "done", got.Text)
	assert.Equal(t, []string{"summarize"}, a.History())

	req := b.Calls()[0]
	assert.Equal(t, "sys", req.System)
	assert.Equal(t, "tester", req.Output.Name)
	assert.NotNil(t, req.Output.Schema)
}

func TestRunExecutesToolsThenAnswers(t *testing.T) {
	calls := 0
	b := &llmtest.Backend{Default: llmtest.Sequence(
		llmtest.CallTool("get_table_details", tableArgs{TableName: "users"}),
		llmtest.Structured(summary{Text: "users table"}),
	)}
	a := newAgent(t, b, lookupTool(&calls))

	got, err := a.Run(context.Background(), "describe users")
	require.NoError(t, err)
	assert.Equal(t, "users table", got.Text)
	assert.Equal(t, 1, calls)

	h := a.History()
	require.Len(t, h, 2)
	assert.True(t, strings.HasPrefix(h[1], "Tool call get_table_details("))
	assert.Contains(t, h[1], `"name": "users"`)
	// the second request sees the tool result
	assert.Contains(t, b.Calls()[1].Prompt, "returned:")
	require.Len(t, b.Calls()[1].Tools, 1)
}

func TestRunToolErrorBecomesTurn(t *testing.T) {
	calls := 0
	b := &llmtest.Backend{Default: llmtest.Sequence(
		llmtest.CallTool("get_table_details", tableArgs{TableName: "missing"}),
		llmtest.CallTool("no_such_tool", map[string]string{}),
		llmtest.Structured(summary{Text: "gave up"}),
	)}
	a := newAgent(t, b, lookupTool(&calls))

	got, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "gave up", got.Text)

	h := a.History()
	require.Len(t, h, 3)
	assert.Contains(t, h[1], "failed: no such table")
	assert.Contains(t, h[2], "unknown tool")
}

func TestRunConnectivityErrorAborts(t *testing.T) {
	calls := 0
	b := &llmtest.Backend{Default: llmtest.CallTool("get_table_details", tableArgs{TableName: "offline"})}
	a := newAgent(t, b, lookupTool(&calls))

	_, err := a.Run(context.Background(), "go")
	assert.ErrorIs(t, err, errOffline)
}

func TestRunToolCallLimit(t *testing.T) {
	calls := 0
	b := &llmtest.Backend{Default: llmtest.CallTool("get_table_details", tableArgs{TableName: "users"})}
	a := newAgent(t, b, lookupTool(&calls))

	_, err := a.Run(context.Background(), "loop forever")
	require.ErrorIs(t, err, agent.ErrToolCallLimit)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 4, a.ToolCalls())
}

func TestRunToolCallLimitIsPerRun(t *testing.T) {
	calls := 0
	tool := llmtest.CallTool("get_table_details", tableArgs{TableName: "users"})
	b := &llmtest.Backend{Default: llmtest.Sequence(
		tool, tool, llmtest.Structured(summary{Text: "first"}),
		tool, tool, llmtest.Structured(summary{Text: "second"}),
	)}
	a := newAgent(t, b, lookupTool(&calls))

	got, err := a.Run(context.Background(), "first pass")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Text)
	assert.Equal(t, 2, a.ToolCalls())

	// four calls over both runs, but never more than three in one
	got, err = a.Run(context.Background(), "second pass")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Text)
	assert.Equal(t, 2, a.ToolCalls())
	assert.Equal(t, 4, calls)
}

func TestRunShapeErrorAddsDiagnostic(t *testing.T) {
	b := &llmtest.Backend{Default: llmtest.Sequence(
		llmtest.Text("here is my summary"),
		llmtest.Structured(summary{Text: "structured now"}),
	)}
	a := newAgent(t, b)

	got, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "structured now", got.Text)

	h := a.History()
	require.Len(t, h, 2)
	assert.Contains(t, h[1], "here is my summary")
	assert.Contains(t, b.Calls()[1].Prompt, "could not be used")
}

func TestRunExhausted(t *testing.T) {
	b := &llmtest.Backend{Default: llmtest.Fail(errors.New("503"))}
	a := newAgent(t, b)

	_, err := a.Run(context.Background(), "go")
	assert.ErrorIs(t, err, llm.ErrInvocationExhausted)
}

func TestHistoryIsACopy(t *testing.T) {
	b := &llmtest.Backend{Default: llmtest.Structured(summary{Text: "x"})}
	a := newAgent(t, b)
	_, err := a.Run(context.Background(), "go")
	require.NoError(t, err)

	h := a.History()
	h[0] = "changed"
	assert.Equal(t, "go", a.History()[0])
}
