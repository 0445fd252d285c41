package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckReadOnly(t *testing.T) {
	var tests = []struct {
		name string
		sql  string
		want error
	}{
		{"select", "SELECT * FROM t", nil},
		{"lower case", "select 1", nil},
		{"with", "WITH x AS (SELECT 1) SELECT * FROM x", nil},
		{"explain", "EXPLAIN SELECT * FROM t", nil},
		{"show", "show tables", nil},
		{"describe", "DESCRIBE users", nil},
		{"leading whitespace", "\n\t  SELECT id\nFROM users", nil},
		{"empty", "", ErrEmptyQuery},
		{"blank", "   \n ", ErrEmptyQuery},
		{"delete", "DELETE FROM t", ErrUnsafeQuery},
		{"stacked drop", "SELECT * FROM t; DROP TABLE t", ErrUnsafeQuery},
		{"cte insert", "WITH x AS ( INSERT INTO t VALUES (1) RETURNING * ) SELECT * FROM x", ErrUnsafeQuery},
		{"select glued to paren", "SELECT(1)", ErrUnsafeQuery},
		// known gaps of a whitespace tokenizer: keywords glued to punctuation pass
		{"glued drop passes", "SELECT 1;DROP TABLE t", nil},
		{"glued cte insert passes", "WITH x AS (INSERT INTO t VALUES (1)) SELECT * FROM x", nil},
		{"keyword in literal", "SELECT 'please update me' FROM t", ErrUnsafeQuery},
		{"column named like keyword", "SELECT updated_at FROM t", nil},
		{"set", "SET search_path TO x", ErrUnsafeQuery},
		{"vacuum", "VACUUM", ErrUnsafeQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckReadOnly(tt.sql))
			assert.Equal(t, tt.want == nil, IsReadOnly(tt.sql))
		})
	}
}
