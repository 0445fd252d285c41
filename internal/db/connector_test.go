package db

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"testing"
	"time"

	"dbspelunker/internal/introspect"
)

var testdialect string = "testdialect"

type testExtractor struct{}

func (testExtractor) Engine() introspect.EngineKind { return introspect.EngineSQLite }

func (testExtractor) Overview(ctx context.Context, dbConn *sql.DB) (introspect.DatabaseOverview, error) {
	return introspect.DatabaseOverview{Name: "test"}.Finalize(), nil
}

func (testExtractor) Table(ctx context.Context, dbConn *sql.DB, schema, table string) (introspect.Table, error) {
	return introspect.Table{}, errors.New("not implemented")
}

func (testExtractor) Relationships(ctx context.Context, dbConn *sql.DB, schema string) ([]introspect.Relationship, error) {
	return nil, nil
}

func (testExtractor) Indexes(ctx context.Context, dbConn *sql.DB, schema, table string) ([]introspect.Index, error) {
	return nil, nil
}

func (testExtractor) Triggers(ctx context.Context, dbConn *sql.DB, schema, table string) ([]introspect.Trigger, error) {
	return nil, nil
}

func (testExtractor) Routines(ctx context.Context, dbConn *sql.DB, schema string) ([]introspect.StoredRoutine, error) {
	return nil, nil
}

func TestRegister(t *testing.T) {
	// tests both Register and RegisteredDialects because they take the same setup

	Register(testdialect, testExtractor{})

	if _, ok := lookup(testdialect); !ok {
		t.Errorf("\ndialect %v not registered correctly in %v", testdialect, listRegistered())
	}

	rd := RegisteredDialects()

	if !slices.Contains(rd, testdialect) || !slices.IsSorted(rd) {
		t.Errorf("\nRegisteredDialects returned unexpected result %v", rd)
	}
}

func TestConnect(t *testing.T) {

	var tests = []struct {
		name          string
		dialect       string
		dsn           string
		registerFirst bool
		errIsNil      bool
		connErr       bool
	}{
		{"unregistered dialect", "nosuchdialect", "", false, false, false},
		{"sqlite with testExtractor", "sqlite", ":memory:", true, true, false},
		{"unreachable postgres", "postgres", "postgres://u:p@127.0.0.1:1/db?sslmode=disable&connect_timeout=1", true, false, true},
	}

	for _, tt := range tests {
		// Use t.Run to run each case as a subtest with a descriptive name
		t.Run(tt.name, func(t *testing.T) {
			if tt.registerFirst {
				Register(tt.dialect, testExtractor{})
			}

			c, err := Connect(context.Background(), tt.dialect, tt.dsn, Options{ConnectTimeout: 2 * time.Second})
			if c != nil {
				defer c.Close()
			}

			if (err == nil) != tt.errIsNil {
				if tt.errIsNil {
					t.Errorf("\ngot unexpected error: \"%v\"", err)
				} else {
					t.Errorf("\nexpected an error, did not receive one")
				}
			}
			if tt.connErr && !errors.Is(err, ErrConnection) {
				t.Errorf("\ngot error %v, wanted ErrConnection", err)
			}
		})
	}
}

func TestConnectionOverviewAddsDriver(t *testing.T) {
	Register("sqlite", testExtractor{})
	c, err := Connect(context.Background(), "sqlite3", ":memory:", Options{})
	if err != nil {
		t.Fatalf("\ngot unexpected error: %v", err)
	}
	defer c.Close()

	o, err := c.Overview(context.Background())
	if err != nil {
		t.Fatalf("\ngot unexpected error: %v", err)
	}
	if o.ConnectionInfo["driver"] != "sqlite" {
		t.Errorf("\ngot connection info %v, wanted driver sqlite", o.ConnectionInfo)
	}
}
