// Package data provides the SQLite-based data access layer for MarkAI.
// It uses modernc.org/sqlite for pure-Go, CGO-free database access.
package data

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/markai/markai/pkg/types"
)

// storageErrorf wraps an I/O failure so callers can classify it with
// errors.Is(err, types.ErrStorage) while keeping the cause in the chain.
func storageErrorf(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, types.ErrStorage, err)
}

//go:embed migrations/001_initial_schema.sql
var initialSchema string

//go:embed migrations/002_long_term_memory.sql
var longTermMemorySchema string

// Store provides access to the SQLite database. It is the single source of
// truth for conversations, messages, and consolidated long-term memory, and
// is safe for use from many goroutines.
type Store struct {
	db *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
// The dataDir should point to a local directory (e.g., ~/.markai).
func NewDB(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "conversations.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite works best with a single writer. Serializing connections here
	// is also what gives appends to one conversation a well-defined order.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db}

	if err := store.initPragmas(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize pragmas: %w", err)
	}

	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// initPragmas configures SQLite for optimal performance and safety.
func (s *Store) initPragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",   // Write-Ahead Logging for concurrent reads
		"PRAGMA synchronous = NORMAL", // Balance safety and performance
		"PRAGMA foreign_keys = ON",    // Enforce referential integrity
		"PRAGMA busy_timeout = 5000",  // Wait 5 seconds if locked
		"PRAGMA cache_size = -64000",  // 64MB cache (negative = KB)
		"PRAGMA temp_store = MEMORY",  // Keep temp tables in memory
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Migrate runs all embedded schema migrations.
// This is idempotent - safe to call multiple times.
func (s *Store) Migrate() error {
	migrations := []struct {
		name   string
		schema string
	}{
		{"initial_schema", initialSchema},
		{"long_term_memory", longTermMemorySchema},
	}

	for _, m := range migrations {
		if err := s.runMigration(m.name, m.schema); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
	}

	return nil
}

// runMigration executes a single migration schema inside a transaction.
func (s *Store) runMigration(name, schema string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range splitSQL(schema) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute statement %d: %w\nSQL: %s", i+1, err, stmt)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}

	return nil
}

// Health checks if the database connection is alive and responsive.
func (s *Store) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var result int
	err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if result != 1 {
		return fmt.Errorf("health check returned unexpected value: %d", result)
	}

	return nil
}

// Close closes the database connection.
// This should be called when shutting down the application.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}

	// Flush WAL to the main database file before closing.
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: WAL checkpoint failed: %v\n", err)
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}

	return nil
}

// DB returns the underlying *sql.DB for advanced operations.
// Use with caution - prefer the Store methods when possible.
func (s *Store) DB() *sql.DB {
	return s.db
}

// BeginTx starts a new transaction with the given context and options.
func (s *Store) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, storageErrorf("begin transaction", err)
	}
	return tx, nil
}

// WithTx executes a function within a transaction.
// If the function returns an error, the transaction is rolled back.
// Otherwise, it is committed.
func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErrorf("commit transaction", err)
	}

	return nil
}

// splitSQL splits a multi-statement SQL string into individual statements.
// Comment and blank lines are dropped before the split, so semicolons inside
// comments never terminate a statement. The schemas here contain no triggers,
// so a statement always ends at a line-final semicolon.
func splitSQL(schema string) []string {
	var statements []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSuffix(strings.TrimSpace(current.String()), ";")
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for _, line := range strings.Split(schema, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()

	return statements
}
