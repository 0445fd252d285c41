package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbspelunker/internal/llm"
)

type queryArgs struct {
	SQL string `json:"sql" jsonschema:"description=A single read-only SELECT statement"`
}

func echoTool() Tool {
	return NewTool(ExecuteSQLQuery, "Run SQL.", func(ctx context.Context, in queryArgs) ([]string, error) {
		return []string{in.SQL}, nil
	})
}

func TestToolSpec(t *testing.T) {
	spec := echoTool().Spec()
	assert.Equal(t, "execute_sql_query", spec.Name)
	prop, ok := spec.InputSchema.Properties.Get("sql")
	require.True(t, ok)
	assert.Equal(t, "A single read-only SELECT statement", prop.Description)
}

func TestToolInvokeStrict(t *testing.T) {
	tool := echoTool()

	out, err := tool.Invoke(context.Background(), json.RawMessage(`{"sql":"SELECT 1"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"SELECT 1"}, out)

	_, err = tool.Invoke(context.Background(), json.RawMessage(`{"query":"SELECT 1"}`))
	assert.ErrorContains(t, err, "invalid arguments")
}

func TestNewToolsetRejectsDuplicates(t *testing.T) {
	_, err := NewToolset(echoTool(), echoTool())
	assert.Error(t, err)
}

func TestDispatch(t *testing.T) {
	ts, err := NewToolset(echoTool())
	require.NoError(t, err)
	assert.Equal(t, []Kind{ExecuteSQLQuery}, ts.Kinds())

	got, err := ts.Dispatch(context.Background(), llm.ToolCall{Name: "execute_sql_query", Input: json.RawMessage(`{"sql":"SELECT 2"}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `["SELECT 2"]`, got)

	_, err = ts.Dispatch(context.Background(), llm.ToolCall{Name: "drop_everything"})
	assert.ErrorIs(t, err, ErrUnknownTool)

	var empty *Toolset
	_, err = empty.Dispatch(context.Background(), llm.ToolCall{Name: "execute_sql_query"})
	assert.ErrorIs(t, err, ErrUnknownTool)
}
