package introspect

// DatabaseOverview is the root of the canonical model.
type DatabaseOverview struct {
	Name           string            `json:"name"`
	Engine         EngineKind        `json:"database_type"`
	Version        *string           `json:"version,omitempty"`
	Schemas        []Schema          `json:"schemas"`
	TotalTables    int               `json:"total_tables"`
	TotalViews     int               `json:"total_views"`
	TotalRoutines  int               `json:"total_stored_procedures"`
	TotalTriggers  int               `json:"total_triggers"`
	TotalIndexes   int               `json:"total_indexes"`
	SizeBytes      *int64            `json:"size_bytes,omitempty"`
	Charset        *string           `json:"charset,omitempty"`
	Collation      *string           `json:"collation,omitempty"`
	ConnectionInfo map[string]string `json:"connection_info,omitempty"`
}

// Finalize returns a copy of o whose totals are recomputed from Schemas.
// Triggers and indexes are counted over tables and views alike.
func (o DatabaseOverview) Finalize() DatabaseOverview {
	if o.Schemas == nil {
		o.Schemas = []Schema{}
	}
	o.TotalTables, o.TotalViews, o.TotalRoutines, o.TotalTriggers, o.TotalIndexes = 0, 0, 0, 0, 0
	for _, s := range o.Schemas {
		o.TotalTables += len(s.Tables)
		o.TotalViews += len(s.Views)
		o.TotalRoutines += len(s.Routines)
		for _, t := range s.Tables {
			o.TotalTriggers += len(t.Triggers)
			o.TotalIndexes += len(t.Indexes)
		}
		for _, v := range s.Views {
			o.TotalTriggers += len(v.Triggers)
			o.TotalIndexes += len(v.Indexes)
		}
	}
	return o
}

// FindSchema looks a schema up by name.
func (o DatabaseOverview) FindSchema(name string) (Schema, bool) {
	for _, s := range o.Schemas {
		if s.Name == name {
			return s, true
		}
	}
	return Schema{}, false
}

// WithSchemas returns a finalized copy of o holding schemas instead of its own.
func (o DatabaseOverview) WithSchemas(schemas []Schema) DatabaseOverview {
	o.Schemas = schemas
	return o.Finalize()
}

// FilterSchemas keeps only the named schemas; an empty list keeps everything.
func (o DatabaseOverview) FilterSchemas(names []string) DatabaseOverview {
	if len(names) == 0 {
		return o.Finalize()
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	kept := []Schema{}
	for _, s := range o.Schemas {
		if want[s.Name] {
			kept = append(kept, s)
		}
	}
	return o.WithSchemas(kept)
}
