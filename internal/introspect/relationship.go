package introspect

// RelationshipType tags the cardinality of a foreign-key edge.
type RelationshipType string

const (
	OneToOne   RelationshipType = "one_to_one"
	OneToMany  RelationshipType = "one_to_many"
	ManyToOne  RelationshipType = "many_to_one"
	ManyToMany RelationshipType = "many_to_many"
)

// Cardinality classifies the edge from one table to another by counting the
// constraints that run in each direction. A self-referencing constraint is
// counted once, in the forward direction only.
func Cardinality(from, to string, rels []Relationship) RelationshipType {
	forward, backward := 0, 0
	for _, r := range rels {
		switch {
		case r.SourceTable == from && r.TargetTable == to:
			forward++
		case r.SourceTable == to && r.TargetTable == from:
			backward++
		}
	}
	switch {
	case forward > 0 && backward > 0:
		return ManyToMany
	case forward == 1 && backward == 0:
		return OneToMany
	case forward == 0 && backward == 1:
		return ManyToOne
	default:
		return OneToOne
	}
}

// ClassifyRelationships returns a copy of rels with every Type set from
// the source table's perspective.
func ClassifyRelationships(rels []Relationship) []Relationship {
	out := make([]Relationship, len(rels))
	for i, r := range rels {
		r.Type = Cardinality(r.SourceTable, r.TargetTable, rels)
		out[i] = r
	}
	return out
}
