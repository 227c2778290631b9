// Package store persists exams, sessions, responses and results in SQLite or
// PostgreSQL through database/sql. Queries use $N placeholders, which both
// drivers accept. Single-record reads return (nil, nil) when nothing matches.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite

	"github.com/examhall/examhall/internal/model"
)

// Driver selects the database backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

var (
	// ErrNotFound is returned by writes that reference a missing record.
	ErrNotFound = errors.New("not found")
	// ErrSessionClosed is returned when a write needs an in-progress session.
	ErrSessionClosed = errors.New("session is not in progress")
	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("record already exists")
)

// Store wraps the database handle.
type Store struct {
	db     *sql.DB
	driver Driver
}

// Open connects to the database and creates the schema if needed.
// An empty dsn picks a local default for the driver.
func Open(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite"
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
		drvName = "pgx"
		if dsn == "" {
			dsn = "postgres://localhost:5432/examhall?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %q", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		// One writer at a time; busy_timeout covers other processes.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	slog.Debug("database ready", "driver", driver)
	return s, nil
}

// sqliteDSN turns a plain path into a DSN with the pragmas the store relies on.
func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = "examhall.db"
	}
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver reports which backend the store runs on.
func (s *Store) Driver() Driver { return s.driver }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	schema := schemaSQLite
	if s.driver == DriverPostgres {
		schema = schemaPostgres
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// withTx runs fn inside a transaction, committing when it returns nil.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// isUniqueViolation recognizes unique-constraint errors from both drivers
// without importing driver-specific error types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "SQLSTATE 23505") // postgres
}

// answerJSON encodes an answer for a nullable JSON text column.
func answerJSON(a model.Answer) (any, error) {
	if a.IsEmpty() {
		return nil, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// parseStoredAnswer decodes a JSON text column. Malformed values are logged
// and read as empty so one bad row cannot block grading.
func parseStoredAnswer(raw sql.NullString, table, id string) model.Answer {
	if !raw.Valid {
		return model.Empty()
	}
	a, err := model.ParseAnswer([]byte(raw.String))
	if err != nil {
		slog.Warn("unreadable stored answer", "table", table, "id", id, "error", err)
		return model.Empty()
	}
	return a
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func utcNow() time.Time {
	return time.Now().UTC()
}
