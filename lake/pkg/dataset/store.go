package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/jellydator/ttlcache/v3"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "modernc.org/sqlite"
)

// Driver selects the database/sql driver backing the store.
type Driver string

const (
	DriverSQLite Driver = "sqlite"
	DriverDuckDB Driver = "duckdb"
)

const (
	defaultMaxRows        = 10_000
	defaultMaxTextLength  = 100
	defaultSchemaCacheTTL = time.Minute
	defaultBusyRetries    = 3
	defaultSampleRows     = 3
)

// Config configures a Store.
type Config struct {
	Logger *slog.Logger
	Driver Driver
	DSN    string

	// MaxRows caps the rows carried in a read result. RowCount stays exact.
	MaxRows int

	// MaxTextLength truncates long text cells in read results.
	MaxTextLength int

	SchemaCacheTTL time.Duration
	BusyRetries    uint
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	switch c.Driver {
	case "":
		c.Driver = DriverSQLite
	case DriverSQLite, DriverDuckDB:
	default:
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}
	if c.DSN == "" && c.Driver == DriverSQLite {
		return errors.New("dsn is required for sqlite")
	}
	if c.MaxRows <= 0 {
		c.MaxRows = defaultMaxRows
	}
	if c.MaxTextLength <= 0 {
		c.MaxTextLength = defaultMaxTextLength
	}
	if c.SchemaCacheTTL <= 0 {
		c.SchemaCacheTTL = defaultSchemaCacheTTL
	}
	if c.BusyRetries == 0 {
		c.BusyRetries = defaultBusyRetries
	}
	return nil
}

// StatementError is a failure attributable to the submitted SQL rather than to
// the store itself. Callers surface it to users; any other error is an
// infrastructure failure.
type StatementError struct {
	Err error
}

func (e *StatementError) Error() string { return e.Err.Error() }
func (e *StatementError) Unwrap() error { return e.Err }

// ReadResult is the outcome of a read statement.
type ReadResult struct {
	Columns  []string
	Rows     []Row
	RowCount int
}

// WriteResult is the outcome of a write payload.
type WriteResult struct {
	RowsAffected int64
	Statements   int
}

// Store is the flat relational store datasets live in.
type Store struct {
	log     *slog.Logger
	cfg     Config
	db      *sql.DB
	dialect dialect
	schemas *ttlcache.Cache[string, *TableSchema]
}

// Open connects to the configured database.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	db, err := sql.Open(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}
	if cfg.Driver == DriverSQLite {
		// One connection keeps ":memory:" databases shared and avoids writer contention.
		db.SetMaxOpenConns(1)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.Driver, err)
	}

	cfg.Logger.Info("dataset store opened", "driver", cfg.Driver)
	return &Store{
		log:     cfg.Logger,
		cfg:     cfg,
		db:      db,
		dialect: dialects[cfg.Driver],
		schemas: ttlcache.New(ttlcache.WithTTL[string, *TableSchema](cfg.SchemaCacheTTL)),
	}, nil
}

// DB exposes the underlying handle for seeding and administration.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ListTables returns every user table, excluding engine-internal ones.
func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.listTables)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tables: %w", err)
	}
	return tables, nil
}

// RunRead executes a single SELECT. Rows get a leading "#" index and long text
// cells are truncated.
func (s *Store) RunRead(ctx context.Context, query string) (*ReadResult, error) {
	if err := checkRead(query); err != nil {
		return nil, &StatementError{Err: err}
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &StatementError{Err: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, &StatementError{Err: err}
	}
	keys := append([]string{IndexColumn}, cols...)

	result := &ReadResult{Rows: []Row{}}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &StatementError{Err: err}
		}
		result.RowCount++
		if len(result.Rows) >= s.cfg.MaxRows {
			continue
		}
		cells := make([]any, 0, len(keys))
		cells = append(cells, result.RowCount)
		for _, v := range values {
			cells = append(cells, s.normalize(v))
		}
		result.Rows = append(result.Rows, NewRow(keys, cells))
	}
	if err := rows.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &StatementError{Err: err}
	}
	if result.RowCount > 0 {
		result.Columns = keys
	} else {
		result.Columns = []string{}
	}
	return result, nil
}

// RunWrite executes an INSERT, UPDATE or DELETE payload. Multiple statements
// separated by semicolons run in one transaction; any failure rolls back the
// whole batch.
func (s *Store) RunWrite(ctx context.Context, query string) (*WriteResult, error) {
	stmts, err := checkWrite(query)
	if err != nil {
		return nil, &StatementError{Err: err}
	}

	return retryBusy(ctx, s.log, s.cfg.BusyRetries, "write", func() (*WriteResult, error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		result := &WriteResult{Statements: len(stmts)}
		for i, stmt := range stmts {
			res, err := tx.ExecContext(ctx, stmt)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				if len(stmts) > 1 {
					err = fmt.Errorf("statement %d of %d: %w", i+1, len(stmts), err)
				}
				return nil, &StatementError{Err: err}
			}
			n, err := res.RowsAffected()
			if err == nil {
				result.RowsAffected += n
			}
		}
		if err := tx.Commit(); err != nil {
			return nil, &StatementError{Err: fmt.Errorf("failed to commit: %w", err)}
		}
		return result, nil
	})
}

func (s *Store) normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return s.truncate(string(t))
	case string:
		return s.truncate(t)
	default:
		return v
	}
}

func (s *Store) truncate(str string) string {
	if utf8.RuneCountInString(str) <= s.cfg.MaxTextLength {
		return str
	}
	r := []rune(str)
	return string(r[:s.cfg.MaxTextLength-3]) + "..."
}

type dialect struct {
	listTables string
}

var dialects = map[Driver]dialect{
	DriverSQLite: {
		listTables: `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`,
	},
	DriverDuckDB: {
		listTables: `SELECT table_name FROM information_schema.tables WHERE table_schema = 'main' AND table_type = 'BASE TABLE' ORDER BY table_name`,
	},
}
