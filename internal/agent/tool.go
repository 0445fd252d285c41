package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"dbspelunker/internal/llm"
)

// Kind names a tool the model can call.
type Kind string

const (
	GetDatabaseOverview        Kind = "get_database_overview"
	ExecuteSQLQuery            Kind = "execute_sql_query"
	GetTableDetails            Kind = "get_table_details"
	AnalyzeTableRelationships  Kind = "analyze_table_relationships"
	GetTableIndexes            Kind = "get_table_indexes"
	GetTableTriggers           Kind = "get_table_triggers"
	GetStoredProcedures        Kind = "get_stored_procedures"
	CallSchemaExplorer         Kind = "call_schema_explorer"
	CallDetailAnalyzer         Kind = "call_detail_analyzer"
	CallDocumentationGenerator Kind = "call_documentation_generator"
)

var ErrUnknownTool = errors.New("unknown tool")

// Tool is one callable capability. Invoke receives the model's raw JSON
// arguments and returns a JSON-encodable result.
type Tool interface {
	Kind() Kind
	Spec() llm.ToolSpec
	Invoke(ctx context.Context, input json.RawMessage) (any, error)
}

type typedTool[In, Out any] struct {
	kind Kind
	desc string
	fn   func(context.Context, In) (Out, error)
}

// NewTool wraps fn as a Tool whose input schema is reflected from In.
// Arguments are decoded strictly; unknown fields are an error the model
// gets to see.
func NewTool[In, Out any](kind Kind, desc string, fn func(context.Context, In) (Out, error)) Tool {
	return typedTool[In, Out]{kind: kind, desc: desc, fn: fn}
}

func (t typedTool[In, Out]) Kind() Kind { return t.kind }

func (t typedTool[In, Out]) Spec() llm.ToolSpec {
	var in In
	return llm.ToolSpec{Name: string(t.kind), Description: t.desc, InputSchema: llm.SchemaFor(in)}
}

func (t typedTool[In, Out]) Invoke(ctx context.Context, input json.RawMessage) (any, error) {
	var in In
	if len(bytes.TrimSpace(input)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(input))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&in); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}
	return t.fn(ctx, in)
}

// Toolset is the fixed set of tools one agent may call.
type Toolset struct {
	byKind map[Kind]Tool
	order  []Kind
}

func NewToolset(tools ...Tool) (*Toolset, error) {
	ts := &Toolset{byKind: make(map[Kind]Tool, len(tools))}
	for _, t := range tools {
		if _, dup := ts.byKind[t.Kind()]; dup {
			return nil, fmt.Errorf("tool %s registered twice", t.Kind())
		}
		ts.byKind[t.Kind()] = t
		ts.order = append(ts.order, t.Kind())
	}
	return ts, nil
}

// Specs returns the declarations of every tool in registration order.
func (ts *Toolset) Specs() []llm.ToolSpec {
	if ts == nil {
		return nil
	}
	specs := make([]llm.ToolSpec, 0, len(ts.order))
	for _, k := range ts.order {
		specs = append(specs, ts.byKind[k].Spec())
	}
	return specs
}

// Kinds returns the registered kinds in registration order.
func (ts *Toolset) Kinds() []Kind {
	if ts == nil {
		return nil
	}
	return append([]Kind(nil), ts.order...)
}

// Dispatch runs the tool named by call and returns its result as JSON text.
func (ts *Toolset) Dispatch(ctx context.Context, call llm.ToolCall) (string, error) {
	var t Tool
	if ts != nil {
		t = ts.byKind[Kind(call.Name)]
	}
	if t == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}
	out, err := t.Invoke(ctx, call.Input)
	if err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s result: %w", call.Name, err)
	}
	return string(b), nil
}
