package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"dbspelunker/internal/agent"
	"dbspelunker/internal/db"
	"dbspelunker/internal/introspect"
	"dbspelunker/internal/llm"
	"dbspelunker/internal/logger"
	"dbspelunker/internal/report"
)

// Env is what the roles of one run share. Every member is safe for
// concurrent use; agents themselves are built per task and never shared.
type Env struct {
	Source       db.Source
	Invoker      *llm.Invoker
	Settings     llm.Settings
	MaxToolCalls int
	Concurrency  int
	Log          logger.Scoped
}

func (e Env) agentConfig(name, system string, tools *agent.Toolset) agent.Config {
	return agent.Config{
		Name:         name,
		System:       system,
		Tools:        tools,
		Invoker:      e.Invoker,
		Settings:     e.Settings,
		MaxToolCalls: e.MaxToolCalls,
		Fatal:        db.IsConnectivityError,
		Log:          e.Log,
	}
}

func (e Env) limit() int {
	return max(e.Concurrency, 1)
}

// runAgent renders p and runs a fresh agent on it.
func runAgent[T any](ctx context.Context, env Env, name, system string, p Prompt, tools ...agent.Tool) (T, error) {
	var zero T
	ts, err := agent.NewToolset(tools...)
	if err != nil {
		return zero, err
	}
	text, err := p.Render()
	if err != nil {
		return zero, fmt.Errorf("%s: %w", name, err)
	}
	return agent.New[T](env.agentConfig(name, system, ts)).Run(ctx, text)
}

// Plan is the initiator's account of how the analysis should proceed.
type Plan struct {
	AnalysisPlan string   `json:"analysis_plan" jsonschema:"description=How the database should be analysed and in what order"`
	NextActions  []string `json:"next_actions"`
}

func (p Plan) Validate() error {
	if strings.TrimSpace(p.AnalysisPlan) == "" {
		return errors.New("analysis_plan is empty")
	}
	return nil
}

// Initiator fetches the overview and plans the analysis.
type Initiator struct {
	env     Env
	schemas []string
}

// NewInitiator returns an Initiator restricted to schemas; none means all.
func NewInitiator(env Env, schemas []string) *Initiator {
	return &Initiator{env: env, schemas: schemas}
}

func (i *Initiator) Run(ctx context.Context) (introspect.DatabaseOverview, Plan, error) {
	o, err := i.env.Source.Overview(ctx)
	if err != nil {
		return introspect.DatabaseOverview{}, Plan{}, fmt.Errorf("overview: %w", err)
	}
	o = o.FilterSchemas(i.schemas)
	i.env.Log.Info("overview of %s: %d schemas, %d tables, %d views",
		o.Name, len(o.Schemas), o.TotalTables, o.TotalViews)

	plan, err := runAgent[Plan](ctx, i.env, "initiator", initiatorSystem, initiatorPrompt(o),
		overviewTool(i.env.Source),
		queryTool(i.env.Source),
		schemaExplorerTool(i.env),
	)
	if err != nil {
		return introspect.DatabaseOverview{}, Plan{}, err
	}
	return o, plan, nil
}

// SchemaNotes is what the explorer's model adds to a collected schema.
type SchemaNotes struct {
	Description          string `json:"description" jsonschema:"description=What the schema holds and how its tables fit together"`
	ComplexityAssessment string `json:"complexity_assessment"`
}

func (n SchemaNotes) Validate() error {
	if strings.TrimSpace(n.Description) == "" {
		return errors.New("description is empty")
	}
	return nil
}

// Explorer turns a thin schema from the overview into a fully populated one.
type Explorer struct {
	env Env
}

func NewExplorer(env Env) *Explorer {
	return &Explorer{env: env}
}

// Run collects the structure of every table and view of thin, its
// relationships and its routines, then asks the model to describe it.
func (e *Explorer) Run(ctx context.Context, thin introspect.Schema) (introspect.Schema, error) {
	s, err := e.collect(ctx, thin)
	if err != nil {
		return introspect.Schema{}, fmt.Errorf("schema %s: %w", thin.Name, err)
	}
	e.env.Log.Info("schema %s: %d tables, %d views, %d relationships, %d routines",
		s.Name, len(s.Tables), len(s.Views), len(s.Relationships), len(s.Routines))

	notes, err := runAgent[SchemaNotes](ctx, e.env, "schema_explorer", explorerSystem, explorerPrompt(s),
		tableDetailsTool(e.env.Source, s.Name),
		relationshipsTool(e.env.Source, s.Name),
		queryTool(e.env.Source),
		detailAnalyzerTool(e.env, s.Name),
	)
	if err != nil {
		return introspect.Schema{}, err
	}
	desc := strings.TrimSpace(notes.Description)
	if c := strings.TrimSpace(notes.ComplexityAssessment); c != "" {
		desc += "\n\n" + c
	}
	s.Description = &desc
	return s, nil
}

func (e *Explorer) collect(ctx context.Context, thin introspect.Schema) (introspect.Schema, error) {
	s := introspect.Schema{Name: thin.Name}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tables, err := e.tables(gctx, thin.Name, thin.Tables)
		s.Tables = tables
		return err
	})
	g.Go(func() error {
		views, err := e.tables(gctx, thin.Name, thin.Views)
		s.Views = views
		return err
	})
	g.Go(func() error {
		rels, err := e.env.Source.Relationships(gctx, thin.Name)
		s.Relationships = rels
		return err
	})
	g.Go(func() error {
		routines, err := e.env.Source.Routines(gctx, thin.Name)
		s.Routines = routines
		return err
	})
	if err := g.Wait(); err != nil {
		return introspect.Schema{}, err
	}
	return s, nil
}

// tables introspects thin entries concurrently; the result keeps their order.
func (e *Explorer) tables(ctx context.Context, schema string, thin []introspect.Table) ([]introspect.Table, error) {
	out := make([]introspect.Table, len(thin))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.env.limit())
	for i, t := range thin {
		g.Go(func() error {
			full, err := e.env.Source.Table(gctx, schema, t.Name)
			if err != nil {
				return err
			}
			out[i] = full
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Focus is what the analyzer is asked to look at.
type Focus struct {
	Schema string
	Areas  []string
}

// Analysis is the analyzer's commentary on the advanced features of a schema.
type Analysis struct {
	IndexAnalysis               string   `json:"index_analysis"`
	TriggerAnalysis             string   `json:"trigger_analysis"`
	RoutineAnalysis             string   `json:"routine_analysis"`
	PerformanceInsights         []string `json:"performance_insights"`
	OptimizationRecommendations []string `json:"optimization_recommendations"`
	SecurityConsiderations      []string `json:"security_considerations"`
}

// Analyzer comments on indexes, triggers and routines.
type Analyzer struct {
	env Env
}

func NewAnalyzer(env Env) *Analyzer {
	return &Analyzer{env: env}
}

func (a *Analyzer) Run(ctx context.Context, f Focus) (Analysis, error) {
	return runAgent[Analysis](ctx, a.env, "detail_analyzer", analyzerSystem, analyzerPrompt(f),
		indexesTool(a.env.Source, f.Schema),
		triggersTool(a.env.Source, f.Schema),
		routinesTool(a.env.Source, f.Schema),
		queryTool(a.env.Source),
		documentationTool(a.env),
	)
}

// Synthesizer writes the report narrative from the aggregated analysis.
type Synthesizer struct {
	env Env
}

func NewSynthesizer(env Env) *Synthesizer {
	return &Synthesizer{env: env}
}

func (s *Synthesizer) Run(ctx context.Context, analysis string) (report.Narrative, error) {
	return runAgent[report.Narrative](ctx, s.env, "documentation_generator", synthesizerSystem, synthesizerPrompt(analysis),
		queryTool(s.env.Source),
		overviewTool(s.env.Source),
	)
}
