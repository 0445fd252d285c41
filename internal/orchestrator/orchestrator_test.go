package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbspelunker/internal/db"
	"dbspelunker/internal/db/dbtest"
	_ "dbspelunker/internal/db/extractors"
	"dbspelunker/internal/introspect"
	"dbspelunker/internal/llm"
	"dbspelunker/internal/llm/llmtest"
	"dbspelunker/internal/report"
)

func shopSource(t *testing.T) db.Source {
	t.Helper()
	conn, err := db.Connect(context.Background(), "sqlite", dbtest.SQLite(t, dbtest.Shop...), db.Options{MaxRows: 50})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// tableSummaries names each table after the table in its prompt.
func tableSummaries(_ context.Context, req llm.Request) (llm.Response, error) {
	for _, name := range []string{"order_items", "orders", "users"} {
		if strings.Contains(req.Prompt, "Describe table main."+name+"\n") {
			return llmtest.Structured(TableSummary{Summary: "about " + name, RelationshipSummary: "linked"})(context.Background(), req)
		}
	}
	return llm.Response{}, errors.New("unexpected table prompt")
}

func shopBackend() *llmtest.Backend {
	return &llmtest.Backend{Handlers: map[string]llmtest.Handler{
		"initiator":               llmtest.Structured(Plan{AnalysisPlan: "Explore main first.", NextActions: []string{"explore main"}}),
		"schema_explorer":         llmtest.Structured(SchemaNotes{Description: "An online shop.", ComplexityAssessment: "Low."}),
		"table_summary":           tableSummaries,
		"trigger_summary":         llmtest.Structured(Summary{Summary: "Audits user updates."}),
		"documentation_generator": llmtest.Structured(report.Narrative{ExecutiveSummary: "A small shop."}),
	}}
}

func newTestOrchestrator(src db.Source, b llm.Backend, opts Options) *Orchestrator {
	inv := llm.NewInvoker(b, llm.WithBackoff(func(int) time.Duration { return 0 }))
	opts.Model = "test-model"
	opts.Now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	return New(src, inv, opts)
}

func findTable(t *testing.T, s introspect.Schema, name string) introspect.Table {
	t.Helper()
	tab, ok := s.FindTable(name)
	require.True(t, ok, "table %s", name)
	return tab
}

func TestRunFullAnalysis(t *testing.T) {
	backend := shopBackend()
	o := newTestOrchestrator(shopSource(t), backend, Options{Concurrency: 4})

	rep, err := o.RunFullAnalysis(context.Background())
	require.NoError(t, err)

	ov := rep.Overview
	assert.Equal(t, 3, ov.TotalTables)
	assert.Equal(t, 1, ov.TotalViews)
	assert.Equal(t, 1, ov.TotalTriggers)
	require.Len(t, ov.Schemas, 1)
	main := ov.Schemas[0]
	require.NotNil(t, main.Description)
	assert.Equal(t, "An online shop.\n\nLow.", *main.Description)

	users := findTable(t, main, "users")
	require.NotNil(t, users.Summary)
	assert.Equal(t, "about users", *users.Summary)
	assert.Equal(t, "linked", *users.RelationshipSummary)
	require.Len(t, users.Triggers, 1)
	assert.Equal(t, "Audits user updates.", *users.Triggers[0].Summary)
	assert.Equal(t, "about orders", *findTable(t, main, "orders").Summary)

	// views are documented but not summarised
	assert.Nil(t, findTable(t, main, "active_users").Summary)

	var docs []string
	for _, d := range rep.TableDocumentation {
		docs = append(docs, d.Name)
	}
	assert.Equal(t, []string{"active_users", "order_items", "orders", "users"}, docs)

	require.Len(t, rep.Relationships, 2)
	assert.True(t, strings.HasPrefix(rep.Relationships[0], "orders.user_id -> users.id"), rep.Relationships[0])
	assert.True(t, strings.HasPrefix(rep.Relationships[1], "users.manager_id -> users.id"), rep.Relationships[1])

	assert.Contains(t, rep.ExecutiveSummary, "with 2 relationships.")
	assert.Contains(t, rep.ExecutiveSummary, "A small shop.")
	assert.Equal(t, "Explore main first.", rep.GenerationMetadata["analysis_plan"])
	assert.Equal(t, "explore main", rep.GenerationMetadata["next_actions"])
	assert.Equal(t, "0", rep.GenerationMetadata["enhancement_failures"])
	assert.Equal(t, "test-model", rep.GenerationMetadata["model"])
	assert.NotEmpty(t, rep.GenerationMetadata["run_id"])
	assert.Equal(t, time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC), rep.GeneratedAt)

	// the synthesizer saw what the enhancement wrote
	synth := backend.CallsFor("documentation_generator")
	require.Len(t, synth, 1)
	assert.Contains(t, synth[0].Prompt, "about users")
	assert.Contains(t, synth[0].Prompt, "An online shop.")

	// every role declared its own tools
	calls := backend.CallsFor("initiator")
	require.NotEmpty(t, calls)
	var names []string
	for _, spec := range calls[0].Tools {
		names = append(names, spec.Name)
	}
	assert.Equal(t, []string{"get_database_overview", "execute_sql_query", "call_schema_explorer"}, names)
	assert.Len(t, backend.CallsFor("table_summary"), 3)
}

func TestRunFullAnalysisPartialEnhancement(t *testing.T) {
	stub := &stubEnhancer{fail: map[string]bool{"orders": true, "trg_users_audit": true}}
	o := newTestOrchestrator(shopSource(t), shopBackend(), Options{
		Enhancer: func(Env) Enhancer { return stub },
	})

	rep, err := o.RunFullAnalysis(context.Background())
	require.NoError(t, err)

	main := rep.Overview.Schemas[0]
	assert.Nil(t, findTable(t, main, "orders").Summary)
	assert.Equal(t, "about users", *findTable(t, main, "users").Summary)
	assert.Nil(t, findTable(t, main, "users").Triggers[0].Summary)
	assert.Equal(t, "2", rep.GenerationMetadata["enhancement_failures"])
	assert.Equal(t, 1, rep.Overview.TotalTriggers)
}

func TestRunFullAnalysisEnhancementBackendDown(t *testing.T) {
	backend := shopBackend()
	backend.Handlers["table_summary"] = llmtest.Fail(errors.New("503"))
	backend.Handlers["trigger_summary"] = llmtest.Fail(errors.New("503"))
	o := newTestOrchestrator(shopSource(t), backend, Options{})

	rep, err := o.RunFullAnalysis(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "4", rep.GenerationMetadata["enhancement_failures"])
	for _, d := range rep.TableDocumentation {
		assert.Nil(t, d.Summary, d.Name)
	}
}

func TestRunFullAnalysisExplorerFailureIsFatal(t *testing.T) {
	backend := shopBackend()
	backend.Handlers["schema_explorer"] = llmtest.Fail(errors.New("503"))
	o := newTestOrchestrator(shopSource(t), backend, Options{})

	_, err := o.RunFullAnalysis(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrInvocationExhausted)
	assert.Contains(t, err.Error(), "explorer")
	assert.Empty(t, backend.CallsFor("table_summary"))
	assert.Empty(t, backend.CallsFor("documentation_generator"))
}

func TestRunFullAnalysisInitiatorDelegates(t *testing.T) {
	backend := shopBackend()
	backend.Handlers["initiator"] = llmtest.Sequence(
		llmtest.CallTool("call_schema_explorer", map[string]any{"schema_name": "main", "tables": []string{"users"}}),
		llmtest.Structured(Plan{AnalysisPlan: "Done."}),
	)
	o := newTestOrchestrator(shopSource(t), backend, Options{})

	_, err := o.RunFullAnalysis(context.Background())
	require.NoError(t, err)

	// once through the delegation, once for the schema itself
	assert.Len(t, backend.CallsFor("schema_explorer"), 2)
	calls := backend.CallsFor("initiator")
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1].Prompt, "Tool call call_schema_explorer")
	assert.Contains(t, calls[1].Prompt, `"name": "users"`)
	assert.NotContains(t, calls[1].Prompt, `"name": "orders"`)
}

func TestRunSchemaAnalysis(t *testing.T) {
	backend := shopBackend()
	o := newTestOrchestrator(shopSource(t), backend, Options{})

	s, err := o.RunSchemaAnalysis(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, []string{"order_items", "orders", "users"}, s.TableNames())
	assert.Len(t, s.Relationships, 2)
	assert.Equal(t, "about users", *findTable(t, s, "users").Summary)
	assert.Empty(t, backend.CallsFor("documentation_generator"))

	_, err = o.RunSchemaAnalysis(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSchemaNotFound)
}

func TestRunTableAnalysis(t *testing.T) {
	backend := shopBackend()
	o := newTestOrchestrator(shopSource(t), backend, Options{})

	tab, err := o.RunTableAnalysis(context.Background(), "", "orders")
	require.NoError(t, err)
	assert.Equal(t, "main", tab.Schema)
	assert.Len(t, tab.Columns, 3)
	assert.Empty(t, backend.Calls())

	_, err = o.RunTableAnalysis(context.Background(), "", "ghost")
	assert.ErrorIs(t, err, db.ErrTableNotFound)
}

func TestSchemaFilter(t *testing.T) {
	backend := shopBackend()
	o := newTestOrchestrator(shopSource(t), backend, Options{Schemas: []string{"other"}})

	rep, err := o.RunFullAnalysis(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rep.Overview.Schemas)
	assert.Empty(t, backend.CallsFor("schema_explorer"))
	assert.Contains(t, rep.ExecutiveSummary, "0 tables")
}

func TestRunFullAnalysisSelfReference(t *testing.T) {
	conn, err := db.Connect(context.Background(), "sqlite", dbtest.SQLite(t, dbtest.Shop[0]), db.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	o := newTestOrchestrator(conn, shopBackend(), Options{})

	rep, err := o.RunFullAnalysis(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Overview.TotalTables)
	assert.Zero(t, rep.Overview.TotalRoutines)
	assert.Zero(t, rep.Overview.TotalTriggers)
	rels := rep.Overview.Schemas[0].Relationships
	require.Len(t, rels, 1)
	assert.Equal(t, "users", rels[0].SourceTable)
	assert.Equal(t, "manager_id", rels[0].SourceColumn)
	assert.Equal(t, "users", rels[0].TargetTable)
	assert.Equal(t, "id", rels[0].TargetColumn)
	assert.Contains(t, rep.ExecutiveSummary, "1 relationship.")
}

func TestRunFullAnalysisFailedEnhancementKeepsStructure(t *testing.T) {
	src := shopSource(t)
	stub := &stubEnhancer{fail: map[string]bool{
		"users": true, "orders": true, "order_items": true, "trg_users_audit": true,
	}}
	o := newTestOrchestrator(src, shopBackend(), Options{Enhancer: func(Env) Enhancer { return stub }})

	rep, err := o.RunFullAnalysis(context.Background())
	require.NoError(t, err)

	main := rep.Overview.Schemas[0]
	for _, name := range main.TableNames() {
		want, err := src.Table(context.Background(), "main", name)
		require.NoError(t, err)
		assert.Equal(t, want, findTable(t, main, name), name)
	}
	assert.Equal(t, "4", rep.GenerationMetadata["enhancement_failures"])
}

func TestRunSchemaAnalysisBlankRelationshipSummary(t *testing.T) {
	backend := shopBackend()
	backend.Handlers["table_summary"] = llmtest.Structured(TableSummary{Summary: "A table.", RelationshipSummary: " "})
	o := newTestOrchestrator(shopSource(t), backend, Options{})

	s, err := o.RunSchemaAnalysis(context.Background(), "main")
	require.NoError(t, err)
	users := findTable(t, s, "users")
	require.NotNil(t, users.Summary)
	assert.Equal(t, "A table.", *users.Summary)
	assert.Nil(t, users.RelationshipSummary)
}
