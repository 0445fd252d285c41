package introspect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rel(src, srcCol, dst, dstCol, name string) Relationship {
	return Relationship{SourceTable: src, SourceColumn: srcCol, TargetTable: dst, TargetColumn: dstCol, ConstraintName: name}
}

func TestCardinality(t *testing.T) {
	both := []Relationship{rel("a", "x", "b", "y", "a_b"), rel("b", "y", "a", "x", "b_a")}
	single := []Relationship{rel("a", "x", "b", "y", "a_b")}
	double := []Relationship{rel("a", "x", "b", "y", "a_b1"), rel("a", "z", "b", "y", "a_b2")}

	var tests = []struct {
		name     string
		from, to string
		rels     []Relationship
		want     RelationshipType
	}{
		{"paired constraints", "a", "b", both, ManyToMany},
		{"single forward", "a", "b", single, OneToMany},
		{"single seen from target", "b", "a", single, ManyToOne},
		{"two forward", "a", "b", double, OneToOne},
		{"unrelated", "a", "c", single, OneToOne},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Cardinality(tt.from, tt.to, tt.rels))
		})
	}
}

func TestClassifyRelationshipsSelfReference(t *testing.T) {
	in := []Relationship{rel("users", "manager_id", "users", "id", "users_manager_id_fkey")}

	out := ClassifyRelationships(in)

	require.Len(t, out, 1)
	assert.Equal(t, OneToMany, out[0].Type)
	assert.Empty(t, in[0].Type, "input must not be modified")
}
