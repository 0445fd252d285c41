package orchestrator

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"dbspelunker/internal/introspect"
)

// Enhancer adds model-written summaries to single entities. Implementations
// return a new value and leave their argument untouched.
type Enhancer interface {
	EnhanceTable(ctx context.Context, t introspect.Table, rels []introspect.Relationship) (introspect.Table, error)
	EnhanceTrigger(ctx context.Context, t introspect.Trigger) (introspect.Trigger, error)
	EnhanceRoutine(ctx context.Context, r introspect.StoredRoutine) (introspect.StoredRoutine, error)
}

// TableSummary is the model's description of one table.
type TableSummary struct {
	Summary             string `json:"summary" jsonschema:"description=What the table stores"`
	RelationshipSummary string `json:"relationship_summary" jsonschema:"description=How the table relates to other tables"`
}

func (s TableSummary) Validate() error {
	if strings.TrimSpace(s.Summary) == "" {
		return errors.New("summary is empty")
	}
	return nil
}

// Summary is the model's description of a trigger or routine.
type Summary struct {
	Summary string `json:"summary"`
}

func (s Summary) Validate() error {
	if strings.TrimSpace(s.Summary) == "" {
		return errors.New("summary is empty")
	}
	return nil
}

// AgentEnhancer asks a fresh agent for every entity.
type AgentEnhancer struct {
	env Env
}

func NewAgentEnhancer(env Env) *AgentEnhancer {
	return &AgentEnhancer{env: env}
}

func (e *AgentEnhancer) EnhanceTable(ctx context.Context, t introspect.Table, rels []introspect.Relationship) (introspect.Table, error) {
	s, err := runAgent[TableSummary](ctx, e.env, "table_summary", enhancerSystem, tablePrompt(t, rels))
	if err != nil {
		return t, err
	}
	return t.WithSummary(strings.TrimSpace(s.Summary), strings.TrimSpace(s.RelationshipSummary)), nil
}

func (e *AgentEnhancer) EnhanceTrigger(ctx context.Context, t introspect.Trigger) (introspect.Trigger, error) {
	s, err := runAgent[Summary](ctx, e.env, "trigger_summary", enhancerSystem, triggerPrompt(t))
	if err != nil {
		return t, err
	}
	return t.WithSummary(strings.TrimSpace(s.Summary)), nil
}

func (e *AgentEnhancer) EnhanceRoutine(ctx context.Context, r introspect.StoredRoutine) (introspect.StoredRoutine, error) {
	s, err := runAgent[Summary](ctx, e.env, "routine_summary", enhancerSystem, routinePrompt(r))
	if err != nil {
		return r, err
	}
	return r.WithSummary(strings.TrimSpace(s.Summary)), nil
}

// fanOut runs fn over items with at most limit running at once and waits
// for all of them. The result is index-aligned with items; where fn failed
// the original item is kept and errs holds the cause.
func fanOut[T any](ctx context.Context, limit int, items []T, fn func(context.Context, T) (T, error)) (out []T, errs []error) {
	type outcome struct {
		val T
		err error
	}
	results := make([]outcome, len(items))
	var g errgroup.Group
	g.SetLimit(max(limit, 1))
	for i, it := range items {
		g.Go(func() error {
			v, err := fn(ctx, it)
			results[i] = outcome{v, err}
			return nil
		})
	}
	_ = g.Wait()

	out = slices.Clone(items)
	errs = make([]error, len(items))
	for i, r := range results {
		if r.err != nil {
			errs[i] = r.err
			continue
		}
		out[i] = r.val
	}
	return out, errs
}

// enhancement is the enhancement phase of one run.
type enhancement struct {
	env      Env
	enhancer Enhancer
	failures atomic.Int64
}

func (e *enhancement) failed(kind, name string, err error) {
	e.failures.Add(1)
	e.env.Log.Warn("enhancing %s %s failed, leaving it as is: %v", kind, name, err)
}

// schema enhances every table of s, with its triggers, and every routine.
// Tables and routines are handled concurrently with each other. A failure
// only leaves the entity concerned without summaries.
func (e *enhancement) schema(ctx context.Context, s introspect.Schema) introspect.Schema {
	var g errgroup.Group
	var tables []introspect.Table
	var routines []introspect.StoredRoutine
	g.Go(func() error {
		tables = e.tables(ctx, s.Tables, s.Relationships)
		return nil
	})
	g.Go(func() error {
		routines = e.routines(ctx, s.Routines)
		return nil
	})
	_ = g.Wait()

	s.Tables = tables
	s.Routines = routines
	return s
}

func (e *enhancement) tables(ctx context.Context, tables []introspect.Table, rels []introspect.Relationship) []introspect.Table {
	out, errs := fanOut(ctx, e.env.limit(), tables, func(ctx context.Context, t introspect.Table) (introspect.Table, error) {
		var inner errgroup.Group
		var summarized introspect.Table
		var summaryErr error
		var triggers []introspect.Trigger
		inner.Go(func() error {
			summarized, summaryErr = e.enhancer.EnhanceTable(ctx, t, touching(t.Name, rels))
			return nil
		})
		inner.Go(func() error {
			triggers = e.triggers(ctx, t.Triggers)
			return nil
		})
		_ = inner.Wait()

		if summaryErr != nil {
			e.failed("table", t.Schema+"."+t.Name, summaryErr)
			return t.WithTriggers(triggers), nil
		}
		return summarized.WithTriggers(triggers), nil
	})
	for i, err := range errs {
		if err != nil {
			e.failed("table", tables[i].Name, err)
		}
	}
	return out
}

func (e *enhancement) triggers(ctx context.Context, triggers []introspect.Trigger) []introspect.Trigger {
	out, errs := fanOut(ctx, e.env.limit(), triggers, e.enhancer.EnhanceTrigger)
	for i, err := range errs {
		if err != nil {
			e.failed("trigger", triggers[i].Name, err)
		}
	}
	return out
}

func (e *enhancement) routines(ctx context.Context, routines []introspect.StoredRoutine) []introspect.StoredRoutine {
	out, errs := fanOut(ctx, e.env.limit(), routines, e.enhancer.EnhanceRoutine)
	for i, err := range errs {
		if err != nil {
			e.failed("routine", routines[i].Schema+"."+routines[i].Name, err)
		}
	}
	return out
}

// touching returns the relationships that start or end at table.
func touching(table string, rels []introspect.Relationship) []introspect.Relationship {
	var out []introspect.Relationship
	for _, r := range rels {
		if r.SourceTable == table || r.TargetTable == table {
			out = append(out, r)
		}
	}
	return out
}
