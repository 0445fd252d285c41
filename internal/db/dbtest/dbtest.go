// Package dbtest builds throwaway SQLite databases for tests.
package dbtest

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// Shop is a small schema with a self-referencing key, a composite primary
// key, a view and a trigger.
var Shop = []string{
	`CREATE TABLE users (
		id INTEGER PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		manager_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
		CHECK (length(email) > 3)
	)`,
	`CREATE TABLE orders (
		id INTEGER PRIMARY KEY,
		user_id INTEGER NOT NULL,
		total DECIMAL(10,2),
		FOREIGN KEY (user_id) REFERENCES users(id)
	)`,
	`CREATE TABLE order_items (
		order_id INTEGER NOT NULL,
		line INTEGER NOT NULL,
		sku TEXT,
		PRIMARY KEY (order_id, line)
	)`,
	`CREATE INDEX idx_orders_user ON orders(user_id)`,
	`CREATE VIEW active_users AS SELECT id, email FROM users`,
	`CREATE TRIGGER trg_users_audit AFTER UPDATE ON users BEGIN SELECT 1; END`,
	`INSERT INTO users (id, email, manager_id) VALUES (1, 'boss@example.com', NULL), (2, 'dev@example.com', 1)`,
	`INSERT INTO orders (id, user_id, total) VALUES (10, 2, 19.99)`,
}

// SQLite creates a database file in a temp dir, runs stmts against it and
// returns its path. The file is removed when the test ends.
func SQLite(t testing.TB, stmts ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer conn.Close()
	for _, s := range stmts {
		if _, err := conn.Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
	return path
}

// Open is SQLite followed by sql.Open on the result.
func Open(t testing.TB, stmts ...string) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite", SQLite(t, stmts...))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}
