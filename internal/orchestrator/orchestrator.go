// Package orchestrator sequences the analysis roles over one database and
// owns the concurrent enhancement of the entities they find.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dbspelunker/internal/db"
	"dbspelunker/internal/introspect"
	"dbspelunker/internal/llm"
	"dbspelunker/internal/logger"
	"dbspelunker/internal/report"
)

// ErrSchemaNotFound means the requested schema is not in the overview.
var ErrSchemaNotFound = errors.New("schema not found")

func schemaNotFound(name string) error {
	return fmt.Errorf("%w: %q", ErrSchemaNotFound, name)
}

type Options struct {
	// Model is recorded in the report metadata.
	Model        string
	Settings     llm.Settings
	MaxToolCalls int
	Concurrency  int

	// Schemas restricts a full analysis; empty means every schema.
	Schemas      []string
	CacheEntries int64

	// Enhancer replaces the agent-backed enhancer when set.
	Enhancer func(Env) Enhancer

	Now func() time.Time
}

type Orchestrator struct {
	src  db.Source
	inv  *llm.Invoker
	opts Options
}

func New(src db.Source, inv *llm.Invoker, opts Options) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Enhancer == nil {
		opts.Enhancer = func(env Env) Enhancer { return NewAgentEnhancer(env) }
	}
	return &Orchestrator{src: src, inv: inv, opts: opts}
}

// run is the state of one operation: its ID and the cache its roles share.
type run struct {
	id    string
	env   Env
	cache *db.Cache
}

func (o *Orchestrator) begin() (*run, error) {
	id := uuid.NewString()
	cache, err := db.NewCache(o.src, o.opts.CacheEntries)
	if err != nil {
		return nil, err
	}
	return &run{
		id:    id,
		cache: cache,
		env: Env{
			Source:       cache,
			Invoker:      o.inv,
			Settings:     o.opts.Settings,
			MaxToolCalls: o.opts.MaxToolCalls,
			Concurrency:  o.opts.Concurrency,
			Log:          logger.With(id),
		},
	}, nil
}

func (r *run) end() { r.cache.Close() }

// RunFullAnalysis documents the whole database: overview and plan, then for
// each schema in turn its structure followed by the enhancement of its
// tables, triggers and routines, then the narrative and the report.
// Failures of the structural roles or of the narrative end the run;
// enhancement failures only leave summaries out.
func (o *Orchestrator) RunFullAnalysis(ctx context.Context) (report.Report, error) {
	r, err := o.begin()
	if err != nil {
		return report.Report{}, err
	}
	defer r.end()
	started := o.opts.Now()
	r.env.Log.Info("starting full analysis")

	overview, plan, err := NewInitiator(r.env, o.opts.Schemas).Run(ctx)
	if err != nil {
		return report.Report{}, fmt.Errorf("initiator: %w", err)
	}

	enh := &enhancement{env: r.env, enhancer: o.opts.Enhancer(r.env)}
	schemas := make([]introspect.Schema, 0, len(overview.Schemas))
	for _, thin := range overview.Schemas {
		full, err := NewExplorer(r.env).Run(ctx, thin)
		if err != nil {
			return report.Report{}, fmt.Errorf("explorer: %w", err)
		}
		schemas = append(schemas, enh.schema(ctx, full))
	}
	if err := ctx.Err(); err != nil {
		return report.Report{}, err
	}
	overview = overview.WithSchemas(schemas)
	failures := int(enh.failures.Load())
	if failures > 0 {
		r.env.Log.Warn("%d entities were left without summaries", failures)
	}

	analysis, err := analysisData(overview, plan)
	if err != nil {
		return report.Report{}, err
	}
	narrative, err := NewSynthesizer(r.env).Run(ctx, analysis)
	if err != nil {
		return report.Report{}, fmt.Errorf("synthesizer: %w", err)
	}

	rep := report.Assemble(overview, narrative, report.Meta{
		RunID:               r.id,
		Model:               o.opts.Model,
		AnalysisPlan:        plan.AnalysisPlan,
		NextActions:         plan.NextActions,
		EnhancementFailures: failures,
		GeneratedAt:         o.opts.Now().UTC(),
	})
	r.env.Log.Info("full analysis done in %s", o.opts.Now().Sub(started).Round(time.Millisecond))
	return rep, nil
}

// RunSchemaAnalysis explores and enhances one schema.
func (o *Orchestrator) RunSchemaAnalysis(ctx context.Context, name string) (introspect.Schema, error) {
	r, err := o.begin()
	if err != nil {
		return introspect.Schema{}, err
	}
	defer r.end()

	overview, err := r.env.Source.Overview(ctx)
	if err != nil {
		return introspect.Schema{}, fmt.Errorf("overview: %w", err)
	}
	thin, ok := overview.FindSchema(name)
	if !ok {
		return introspect.Schema{}, schemaNotFound(name)
	}
	full, err := NewExplorer(r.env).Run(ctx, thin)
	if err != nil {
		return introspect.Schema{}, fmt.Errorf("explorer: %w", err)
	}
	enh := &enhancement{env: r.env, enhancer: o.opts.Enhancer(r.env)}
	s := enh.schema(ctx, full)
	return s, ctx.Err()
}

// RunTableAnalysis introspects one table. An empty schema picks the first
// schema holding a table of that name.
func (o *Orchestrator) RunTableAnalysis(ctx context.Context, schema, table string) (introspect.Table, error) {
	r, err := o.begin()
	if err != nil {
		return introspect.Table{}, err
	}
	defer r.end()

	if schema == "" {
		overview, err := r.env.Source.Overview(ctx)
		if err != nil {
			return introspect.Table{}, fmt.Errorf("overview: %w", err)
		}
		for _, s := range overview.Schemas {
			if _, ok := s.FindTable(table); ok {
				schema = s.Name
				break
			}
		}
		if schema == "" {
			return introspect.Table{}, fmt.Errorf("%s: %w", table, db.ErrTableNotFound)
		}
	}
	return r.env.Source.Table(ctx, schema, table)
}

// digest is the analysis handed to the synthesizer: the prose the other
// roles produced and enough structure to write about.
type digest struct {
	Database string         `json:"database"`
	Engine   string         `json:"engine"`
	Plan     string         `json:"analysis_plan,omitempty"`
	Schemas  []schemaDigest `json:"schemas"`
}

type schemaDigest struct {
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	Tables        []tableDigest `json:"tables"`
	Relationships []string      `json:"relationships"`
	Routines      []string      `json:"routines,omitempty"`
}

type tableDigest struct {
	Name          string `json:"name"`
	Kind          string `json:"kind"`
	Columns       int    `json:"columns"`
	Indexes       int    `json:"indexes"`
	Triggers      int    `json:"triggers"`
	RowCount      *int64 `json:"row_count,omitempty"`
	Summary       string `json:"summary,omitempty"`
	Relationships string `json:"relationships,omitempty"`
}

func analysisData(o introspect.DatabaseOverview, plan Plan) (string, error) {
	d := digest{Database: o.Name, Engine: string(o.Engine), Plan: plan.AnalysisPlan, Schemas: []schemaDigest{}}
	for _, s := range o.Schemas {
		sd := schemaDigest{Name: s.Name, Description: deref(s.Description), Tables: []tableDigest{}, Relationships: []string{}}
		for _, t := range append(append([]introspect.Table{}, s.Tables...), s.Views...) {
			sd.Tables = append(sd.Tables, tableDigest{
				Name:          t.Name,
				Kind:          string(t.Kind),
				Columns:       len(t.Columns),
				Indexes:       len(t.Indexes),
				Triggers:      len(t.Triggers),
				RowCount:      t.RowCount,
				Summary:       deref(t.Summary),
				Relationships: deref(t.RelationshipSummary),
			})
		}
		for _, rel := range s.Relationships {
			sd.Relationships = append(sd.Relationships, fmt.Sprintf("%s.%s -> %s.%s (%s)",
				rel.SourceTable, rel.SourceColumn, rel.TargetTable, rel.TargetColumn, rel.Type))
		}
		for _, rt := range s.Routines {
			line := rt.Name
			if rt.Summary != nil {
				line += ": " + *rt.Summary
			}
			sd.Routines = append(sd.Routines, line)
		}
		d.Schemas = append(d.Schemas, sd)
	}
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding analysis: %w", err)
	}
	return string(b), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
