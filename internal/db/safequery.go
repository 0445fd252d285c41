package db

import (
	"errors"
	"strings"
)

var (
	ErrEmptyQuery  = errors.New("empty query")
	ErrUnsafeQuery = errors.New("only read-only statements are allowed")
)

var readOnlyLeaders = map[string]bool{
	"SELECT":   true,
	"SHOW":     true,
	"DESCRIBE": true,
	"EXPLAIN":  true,
	"WITH":     true,
}

var forbiddenKeywords = map[string]bool{
	"INSERT":    true,
	"UPDATE":    true,
	"DELETE":    true,
	"DROP":      true,
	"CREATE":    true,
	"ALTER":     true,
	"TRUNCATE":  true,
	"GRANT":     true,
	"REVOKE":    true,
	"COMMIT":    true,
	"ROLLBACK":  true,
	"SAVEPOINT": true,
	"MERGE":     true,
}

// tokenize upper-cases sql and splits it on whitespace only. Punctuation
// stays attached, so "SELECT(1)" has no SELECT token and "1;DROP" no DROP.
func tokenize(sql string) []string {
	return strings.Fields(strings.ToUpper(sql))
}

// CheckReadOnly is a keyword gate, not a parser. A forbidden keyword inside a
// string literal is rejected, and mutations glued to punctuation slip
// through; it guards against accidental writes by our own callers, nothing
// more.
func CheckReadOnly(sql string) error {
	tokens := tokenize(sql)
	if len(tokens) == 0 {
		return ErrEmptyQuery
	}
	if !readOnlyLeaders[tokens[0]] {
		return ErrUnsafeQuery
	}
	for _, tok := range tokens {
		if forbiddenKeywords[tok] {
			return ErrUnsafeQuery
		}
	}
	return nil
}

// IsReadOnly reports whether sql passes CheckReadOnly.
func IsReadOnly(sql string) bool {
	return CheckReadOnly(sql) == nil
}
