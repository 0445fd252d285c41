package orchestrator

import (
	"fmt"
	"strings"

	"dbspelunker/internal/introspect"
)

const (
	initiatorSystem = "You coordinate the documentation of a relational database. " +
		"You only ever read from the database and you never guess at structure you have not seen."

	explorerSystem = "You analyse the structure of one database schema: tables, columns, constraints and the relationships between them."

	analyzerSystem = "You are an expert in indexes, triggers, stored procedures and database performance. " +
		"Base every observation on metadata or query results you have seen."

	synthesizerSystem = "You write technical documentation of database systems for engineers and stakeholders. " +
		"Base everything on the analysis you are given; do not invent tables or columns."

	enhancerSystem = "You write short, factual descriptions of database objects from their metadata."
)

var readOnlyRule = "Only run read-only SQL; anything else is rejected before it reaches the database."

func initiatorPrompt(o introspect.DatabaseOverview) Prompt {
	var listing strings.Builder
	for _, s := range o.Schemas {
		fmt.Fprintf(&listing, "- %s: %s", s.Name, plural(len(s.Tables), "table"))
		if names := s.TableNames(); len(names) > 0 {
			fmt.Fprintf(&listing, " (%s)", strings.Join(names, ", "))
		}
		fmt.Fprintf(&listing, ", %s\n", plural(len(s.Views), "view"))
	}
	version := "unknown"
	if o.Version != nil {
		version = *o.Version
	}
	return Prompt{
		Title: "Database Analysis Orchestrator",
		Mission: []string{
			"You are the primary orchestrator for the documentation of this database.",
			"Start from the overview and plan how the schemas should be analysed.",
		},
		Instructions: []string{
			"Review the schemas, tables and views listed below.",
			"Use the tools to check anything the overview leaves unclear.",
			"Delegate a schema to the schema explorer when its structure needs a closer look.",
			"Write an analysis plan and list the next actions the analysis should take.",
		},
		Rules: []string{
			"Always use tools to gather actual database information; never make assumptions.",
			readOnlyRule,
		},
		Output: "Answer with the analysis plan as prose and the next actions as short imperative sentences.",
		Supporting: []Block{
			{Title: "Target Database", Body: fmt.Sprintf("%s (%s %s)", o.Name, o.Engine, version)},
			{Title: "Schemas", Body: listing.String()},
		},
		Metadata: [][2]string{{"agent_type", "initiator"}, {"role", "orchestrator"}},
	}
}

func explorerPrompt(s introspect.Schema) Prompt {
	var tables strings.Builder
	for _, t := range append(append([]introspect.Table{}, s.Tables...), s.Views...) {
		fmt.Fprintf(&tables, "- %s (%s): %s, %s", t.Name, t.Kind,
			plural(len(t.Columns), "column"), plural(len(t.Indexes), "index"))
		if pk := t.PrimaryKey(); len(pk) > 0 {
			fmt.Fprintf(&tables, ", primary key (%s)", strings.Join(pk, ", "))
		}
		tables.WriteString("\n")
	}
	var rels strings.Builder
	for _, r := range s.Relationships {
		fmt.Fprintf(&rels, "- %s.%s -> %s.%s (%s)\n", r.SourceTable, r.SourceColumn, r.TargetTable, r.TargetColumn, r.Type)
	}
	return Prompt{
		Title: "Database Schema Deep Analysis Specialist",
		Mission: []string{
			"You are a specialist in table structures and relationships.",
			"The structure of the schema has already been collected; explain it.",
		},
		Instructions: []string{
			"Describe what the schema holds and how its tables relate.",
			"Look at table details or relationships with the tools when the summary below is not enough.",
			"Delegate index, trigger and procedure questions to the detail analyzer.",
			"Assess how complex the schema is to work with.",
		},
		Rules: []string{
			"Use the tools for actual schema information; no assumptions.",
			readOnlyRule,
		},
		Output: "Answer with a description of the schema and a short complexity assessment.",
		Supporting: []Block{
			{Title: "Target Schema", Body: s.Name},
			{Title: "Tables to Analyze", Body: tables.String()},
			{Title: "Relationships", Body: rels.String()},
		},
		Metadata: [][2]string{{"agent_type", "schema_explorer"}, {"role", "structure_analyst"}},
	}
}

func analyzerPrompt(f Focus) Prompt {
	areas := f.Areas
	if len(areas) == 0 {
		areas = []string{"indexes", "triggers", "stored procedures"}
	}
	return Prompt{
		Title: "Advanced Database Features Specialist",
		Mission: []string{
			"You are an expert in advanced database features and performance optimization.",
		},
		Instructions: []string{
			"Analyze index coverage and find missing or redundant indexes.",
			"Document what the triggers do and when they fire.",
			"Assess the stored procedures and functions and their dependencies.",
			"Identify performance bottlenecks and security considerations.",
		},
		Rules: []string{
			"Document the actual implementation of triggers and procedures as read from the catalog.",
			readOnlyRule,
		},
		Output: "Answer with an analysis per feature and lists of performance insights, optimization recommendations and security considerations.",
		Supporting: []Block{
			{Title: "Schema", Body: f.Schema},
			{Title: "Analysis Focus Areas", Body: strings.Join(areas, "\n")},
		},
		Metadata: [][2]string{{"agent_type", "detail_analyzer"}, {"role", "performance_specialist"}},
	}
}

func synthesizerPrompt(analysis string) Prompt {
	return Prompt{
		Title: "Database Documentation Synthesis Expert",
		Mission: []string{
			"You turn analysis data into clear documentation for technical teams and stakeholders.",
		},
		Instructions: []string{
			"Write an executive summary of what the database is for and its key findings.",
			"Explain how the tables relate and how well the indexes serve them.",
			"Give actionable recommendations backed by the analysis.",
		},
		Rules: []string{
			"Base the documentation on the analysis data; no fabrication.",
			"Counts and listings are computed separately; do not repeat them.",
		},
		Output: "Answer with the executive summary, the relationship and index analyses, and lists of performance insights, security considerations and recommendations.",
		Supporting: []Block{
			{Title: "Analysis Data", Body: analysis},
		},
		Metadata: [][2]string{{"agent_type", "documentation_generator"}, {"role", "synthesis_expert"}},
	}
}

func tablePrompt(t introspect.Table, rels []introspect.Relationship) Prompt {
	var cols strings.Builder
	for _, c := range t.Columns {
		fmt.Fprintf(&cols, "- %s %s", c.Name, c.DataType)
		if c.IsPrimaryKey {
			cols.WriteString(" primary key")
		}
		if c.IsForeignKey && c.ForeignTable != nil {
			fmt.Fprintf(&cols, " references %s", *c.ForeignTable)
		}
		if !c.Nullable {
			cols.WriteString(" not null")
		}
		cols.WriteString("\n")
	}
	var edges strings.Builder
	for _, r := range rels {
		fmt.Fprintf(&edges, "- %s.%s -> %s.%s (%s)\n", r.SourceTable, r.SourceColumn, r.TargetTable, r.TargetColumn, r.Type)
	}
	p := Prompt{
		Title: "Describe table " + t.Schema + "." + t.Name,
		Instructions: []string{
			"Summarise in two or three sentences what the table stores.",
			"Summarise in one or two sentences how it relates to other tables; say so when it has no relationships.",
		},
		Supporting: []Block{{Title: "Columns", Body: cols.String()}},
	}
	if edges.Len() > 0 {
		p.Supporting = append(p.Supporting, Block{Title: "Relationships", Body: edges.String()})
	}
	if t.Comment != nil {
		p.Supporting = append(p.Supporting, Block{Title: "Comment", Body: *t.Comment})
	}
	return p
}

func triggerPrompt(t introspect.Trigger) Prompt {
	return Prompt{
		Title:        "Describe trigger " + t.Name,
		Instructions: []string{"Summarise in one or two sentences what the trigger does and when it fires."},
		Supporting: []Block{
			{Title: "Trigger", Body: fmt.Sprintf("%s %s on %s", t.Timing, t.Event, t.Table)},
			{Title: "Definition", Body: t.Definition},
		},
	}
}

func routinePrompt(r introspect.StoredRoutine) Prompt {
	params := make([]string, len(r.Parameters))
	for i, p := range r.Parameters {
		params[i] = strings.TrimSpace(fmt.Sprintf("%s %s %s", p.Mode, p.Name, p.Type))
	}
	signature := fmt.Sprintf("%s.%s(%s)", r.Schema, r.Name, strings.Join(params, ", "))
	if r.ReturnType != nil {
		signature += " returns " + *r.ReturnType
	}
	return Prompt{
		Title:        "Describe routine " + r.Schema + "." + r.Name,
		Instructions: []string{"Summarise in two or three sentences what the routine does and what it returns."},
		Supporting: []Block{
			{Title: "Signature", Body: signature},
			{Title: "Definition", Body: r.Definition},
		},
	}
}

func plural(n int, noun string) string {
	switch {
	case n == 1:
		return "1 " + noun
	case strings.HasSuffix(noun, "x"), strings.HasSuffix(noun, "s"):
		return fmt.Sprintf("%d %ses", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
