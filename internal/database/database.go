package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"wahagate/internal/migrations"
	"wahagate/internal/models"
	"wahagate/internal/security"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Querier is satisfied by *sql.DB, *sql.Tx and the rebinding wrappers handed out by Database
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Database struct {
	db        *sql.DB
	driver    string
	encryptor *encryptor
	conn      Querier
}

// New opens the configured database, applies pending migrations and prepares the secret encryptor
func New(ctx context.Context, cfg models.DatabaseConfig) (*Database, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = migrations.DriverSQLite
	}

	dsn, err := dataSourceName(driver, cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := migrations.Apply(ctx, db, driver, toMillis(time.Now())); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	d, err := NewWithDB(db, driver)
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("%w (close error: %v)", err, closeErr)
		}
		return nil, err
	}
	return d, nil
}

// NewWithDB wraps an already opened handle; the schema is assumed to exist
func NewWithDB(db *sql.DB, driver string) (*Database, error) {
	if driver != migrations.DriverSQLite && driver != migrations.DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	enc, err := NewEncryptor()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{
		db:        db,
		driver:    driver,
		encryptor: enc,
		conn:      rebinder{q: db, driver: driver},
	}, nil
}

func dataSourceName(driver string, cfg models.DatabaseConfig) (string, error) {
	switch driver {
	case migrations.DriverPostgres:
		if cfg.DSN == "" {
			return "", fmt.Errorf("postgres requires a DSN")
		}
		return cfg.DSN, nil
	case migrations.DriverSQLite:
		if cfg.DSN != "" {
			return cfg.DSN, nil
		}
		path := cfg.Path
		if len(path) == 0 || path[0] == '\x00' {
			return "", fmt.Errorf("invalid database path")
		}
		if err := security.ValidateFilePath(path); err != nil {
			return "", fmt.Errorf("invalid database path: %w", err)
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return "", fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		// Immediate transactions serialize writers instead of failing lock upgrades mid-transaction
		return path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", nil
	default:
		return "", fmt.Errorf("unsupported database driver: %s", driver)
	}
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Driver returns the SQL driver name in use
func (d *Database) Driver() string {
	return d.driver
}

// Ping checks connectivity
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Conn returns a non-transactional querier
func (d *Database) Conn() Querier {
	return d.conn
}

// WithTx runs fn inside a transaction. The whole transaction is retried on
// transient lock errors; any error from fn rolls it back.
func (d *Database) WithTx(ctx context.Context, fn func(q Querier) error) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if err := fn(rebinder{q: tx, driver: d.driver}); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				return fmt.Errorf("%w (rollback error: %v)", err, rbErr)
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	}, "transaction")
}

func (d *Database) querier(q Querier) Querier {
	if q == nil {
		return d.conn
	}
	return q
}

// rebinder rewrites "?" placeholders to "$n" for postgres
type rebinder struct {
	q      Querier
	driver string
}

func (r rebinder) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return r.q.ExecContext(ctx, Rebind(r.driver, query), args...)
}

func (r rebinder) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return r.q.QueryContext(ctx, Rebind(r.driver, query), args...)
}

func (r rebinder) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return r.q.QueryRowContext(ctx, Rebind(r.driver, query), args...)
}

// Rebind converts "?" placeholders outside string literals into the driver's bind syntax
func Rebind(driver, query string) string {
	if driver != migrations.DriverPostgres || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inString := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inString = !inString
			b.WriteByte(c)
		case c == '?' && !inString:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullableMillis(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
