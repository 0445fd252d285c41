package orchestrator

import (
	"cmp"
	"context"

	"dbspelunker/internal/agent"
	"dbspelunker/internal/db"
	"dbspelunker/internal/introspect"
	"dbspelunker/internal/report"
)

type noArgs struct{}

type queryArgs struct {
	SQL string `json:"sql" jsonschema:"description=One read-only statement starting with SELECT SHOW DESCRIBE EXPLAIN or WITH"`
}

type tableArgs struct {
	Table  string `json:"table_name"`
	Schema string `json:"schema_name,omitempty" jsonschema:"description=Defaults to the schema under analysis"`
}

type schemaArgs struct {
	Schema string `json:"schema_name,omitempty" jsonschema:"description=Defaults to the schema under analysis"`
}

// Introspection tools. schema is the default for tools whose arguments
// leave the schema out.

func overviewTool(src db.Source) agent.Tool {
	return agent.NewTool(agent.GetDatabaseOverview,
		"Get the database overview: engine, version, size and the tables and views of every schema.",
		func(ctx context.Context, _ noArgs) (introspect.DatabaseOverview, error) {
			return src.Overview(ctx)
		})
}

func queryTool(src db.Source) agent.Tool {
	return agent.NewTool(agent.ExecuteSQLQuery,
		"Execute a read-only SQL query and return its rows. Writes are rejected.",
		func(ctx context.Context, in queryArgs) ([]map[string]any, error) {
			return src.Query(ctx, in.SQL)
		})
}

func tableDetailsTool(src db.Source, schema string) agent.Tool {
	return agent.NewTool(agent.GetTableDetails,
		"Get the columns, constraints, indexes, triggers, row count and size of one table or view.",
		func(ctx context.Context, in tableArgs) (introspect.Table, error) {
			return src.Table(ctx, cmp.Or(in.Schema, schema), in.Table)
		})
}

func relationshipsTool(src db.Source, schema string) agent.Tool {
	return agent.NewTool(agent.AnalyzeTableRelationships,
		"List the foreign-key relationships of a schema with their cardinality and referential actions.",
		func(ctx context.Context, in schemaArgs) ([]introspect.Relationship, error) {
			return src.Relationships(ctx, cmp.Or(in.Schema, schema))
		})
}

func indexesTool(src db.Source, schema string) agent.Tool {
	return agent.NewTool(agent.GetTableIndexes,
		"Get the indexes of one table.",
		func(ctx context.Context, in tableArgs) ([]introspect.Index, error) {
			return src.Indexes(ctx, cmp.Or(in.Schema, schema), in.Table)
		})
}

func triggersTool(src db.Source, schema string) agent.Tool {
	return agent.NewTool(agent.GetTableTriggers,
		"Get the triggers of one table with their definitions.",
		func(ctx context.Context, in tableArgs) ([]introspect.Trigger, error) {
			return src.Triggers(ctx, cmp.Or(in.Schema, schema), in.Table)
		})
}

func routinesTool(src db.Source, schema string) agent.Tool {
	return agent.NewTool(agent.GetStoredProcedures,
		"Get the stored procedures and functions of a schema with their parameters and bodies.",
		func(ctx context.Context, in schemaArgs) ([]introspect.StoredRoutine, error) {
			return src.Routines(ctx, cmp.Or(in.Schema, schema))
		})
}

// Delegation tools run another role's whole pipeline and hand its output
// back to the calling model.

type explorerArgs struct {
	Schema string   `json:"schema_name"`
	Tables []string `json:"tables,omitempty" jsonschema:"description=Restrict the exploration to these tables"`
}

func schemaExplorerTool(env Env) agent.Tool {
	return agent.NewTool(agent.CallSchemaExplorer,
		"Delegate the detailed structural analysis of one schema to the schema explorer.",
		func(ctx context.Context, in explorerArgs) (introspect.Schema, error) {
			o, err := env.Source.Overview(ctx)
			if err != nil {
				return introspect.Schema{}, err
			}
			s, ok := o.FindSchema(in.Schema)
			if !ok {
				return introspect.Schema{}, schemaNotFound(in.Schema)
			}
			return NewExplorer(env).Run(ctx, onlyTables(s, in.Tables))
		})
}

type analyzerArgs struct {
	FocusAreas []string `json:"focus_areas" jsonschema:"description=Areas to examine such as indexes or triggers or procedures or security"`
}

func detailAnalyzerTool(env Env, schema string) agent.Tool {
	return agent.NewTool(agent.CallDetailAnalyzer,
		"Delegate the analysis of indexes, triggers and stored procedures to the detail analyzer.",
		func(ctx context.Context, in analyzerArgs) (Analysis, error) {
			return NewAnalyzer(env).Run(ctx, Focus{Schema: schema, Areas: in.FocusAreas})
		})
}

type synthesizerArgs struct {
	AnalysisData string `json:"analysis_data" jsonschema:"description=Everything learned so far that the documentation should cover"`
}

func documentationTool(env Env) agent.Tool {
	return agent.NewTool(agent.CallDocumentationGenerator,
		"Delegate writing the final documentation narrative to the documentation generator.",
		func(ctx context.Context, in synthesizerArgs) (report.Narrative, error) {
			return NewSynthesizer(env).Run(ctx, in.AnalysisData)
		})
}

// onlyTables keeps the named tables and views of s; no names keeps all.
func onlyTables(s introspect.Schema, names []string) introspect.Schema {
	if len(names) == 0 {
		return s
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	keep := func(ts []introspect.Table) []introspect.Table {
		out := []introspect.Table{}
		for _, t := range ts {
			if want[t.Name] {
				out = append(out, t)
			}
		}
		return out
	}
	s.Tables = keep(s.Tables)
	s.Views = keep(s.Views)
	return s
}
