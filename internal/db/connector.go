package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"dbspelunker/internal/introspect"
	"dbspelunker/internal/logger"
	"dbspelunker/pkg/config"
)

// Extractor reads structural metadata through one engine's catalog dialect.
type Extractor interface {
	Engine() introspect.EngineKind

	// Overview lists schemas with bare table and view entries.
	Overview(ctx context.Context, db *sql.DB) (introspect.DatabaseOverview, error)

	// Table returns a fully populated table or view.
	Table(ctx context.Context, db *sql.DB, schema, table string) (introspect.Table, error)

	Relationships(ctx context.Context, db *sql.DB, schema string) ([]introspect.Relationship, error)
	Indexes(ctx context.Context, db *sql.DB, schema, table string) ([]introspect.Index, error)
	Triggers(ctx context.Context, db *sql.DB, schema, table string) ([]introspect.Trigger, error)
	Routines(ctx context.Context, db *sql.DB, schema string) ([]introspect.StoredRoutine, error)
}

var (
	dialectsMu sync.RWMutex
	dialects   = map[string]Extractor{}
)

// Register makes an Extractor available under name.
func Register(name string, e Extractor) {
	dialectsMu.Lock()
	defer dialectsMu.Unlock()
	dialects[strings.ToLower(name)] = e
}

func lookup(name string) (Extractor, bool) {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()
	e, ok := dialects[name]
	return e, ok
}

// listRegistered returns the registered dialect keys (for diagnostics).
func listRegistered() []string {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()
	keys := make([]string, 0, len(dialects))
	for k := range dialects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RegisteredDialects is a helper that allows main to print registered dialects
func RegisteredDialects() []string {
	return listRegistered()
}

// Options tunes a Connection.
type Options struct {
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
	MaxRows        int
	MaxOpenConns   int
}

// Connection binds an open pool to the extractor for its dialect.
// It is safe for concurrent use.
type Connection struct {
	db        *sql.DB
	driver    string
	extractor Extractor
	exec      *Executor
}

// Connect opens the database and verifies it is reachable. A failed ping is
// reported as ErrConnection and is never retried.
func Connect(ctx context.Context, driver, dsn string, opts Options) (*Connection, error) {
	driver = config.NormalizeDriver(driver)
	extractor, ok := lookup(driver)
	if !ok {
		return nil, fmt.Errorf("dialect not registered: %q (available: %v)", driver, listRegistered())
	}
	dbConn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrConnection, driver, err)
	}
	if opts.MaxOpenConns > 0 {
		dbConn.SetMaxOpenConns(opts.MaxOpenConns)
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := dbConn.PingContext(pingCtx); err != nil {
		dbConn.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", ErrConnection, driver, err)
	}
	logger.Info("connected using %s dialect (%s)", driver, extractor.Engine())
	return &Connection{
		db:        dbConn,
		driver:    driver,
		extractor: extractor,
		exec:      NewExecutor(dbConn, opts.QueryTimeout, opts.MaxRows),
	}, nil
}

func (c *Connection) Engine() introspect.EngineKind { return c.extractor.Engine() }

func (c *Connection) Driver() string { return c.driver }

func (c *Connection) Overview(ctx context.Context) (introspect.DatabaseOverview, error) {
	o, err := c.extractor.Overview(ctx, c.db)
	if err != nil {
		return o, err
	}
	if o.ConnectionInfo == nil {
		o.ConnectionInfo = map[string]string{}
	}
	o.ConnectionInfo["driver"] = c.driver
	return o, nil
}

func (c *Connection) Table(ctx context.Context, schema, table string) (introspect.Table, error) {
	return c.extractor.Table(ctx, c.db, schema, table)
}

func (c *Connection) Relationships(ctx context.Context, schema string) ([]introspect.Relationship, error) {
	return c.extractor.Relationships(ctx, c.db, schema)
}

func (c *Connection) Indexes(ctx context.Context, schema, table string) ([]introspect.Index, error) {
	return c.extractor.Indexes(ctx, c.db, schema, table)
}

func (c *Connection) Triggers(ctx context.Context, schema, table string) ([]introspect.Trigger, error) {
	return c.extractor.Triggers(ctx, c.db, schema, table)
}

func (c *Connection) Routines(ctx context.Context, schema string) ([]introspect.StoredRoutine, error) {
	return c.extractor.Routines(ctx, c.db, schema)
}

// Query runs an ad hoc statement through the read-only gate.
func (c *Connection) Query(ctx context.Context, query string) ([]map[string]any, error) {
	return c.exec.Query(ctx, query)
}

func (c *Connection) Close() error {
	return c.db.Close()
}
