package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/interactions-gateway/internal/storage"
	"github.com/tjfontaine/interactions-gateway/internal/storage/dialect"
)

// Store is a SQL implementation of DeliveryStore that supports multiple
// database dialects.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var _ storage.DeliveryStore = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // Driver name: sqlite, postgres, mysql
	DSN    string // Data source name / connection string
}

// New creates a new SQL store with the specified configuration.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if d.Name() == string(dialect.SQLite) {
		// A single writer avoids SQLITE_BUSY between pooled connections.
		db.SetMaxOpenConns(1)
	}

	// Run dialect-specific initialization (e.g., PRAGMA for SQLite)
	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, dialect: d}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite creates a new SQLite store.
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect returns the dialect being used
func (s *Store) Dialect() dialect.Dialect {
	return s.dialect
}

func (s *Store) initSchema() error {
	d := s.dialect
	columns := []string{
		"id " + d.KeyType() + " PRIMARY KEY",
		"interaction_id " + d.KeyType() + " NOT NULL",
		"application_id " + d.KeyType() + " NOT NULL",
		"command " + d.KeyType() + " NOT NULL",
		"outcome VARCHAR(32) NOT NULL",
		"status_code INTEGER NOT NULL",
		"attempts INTEGER NOT NULL",
		"error " + d.TextType() + " NOT NULL",
		"created_at " + d.TimestampType() + " NOT NULL",
		"completed_at " + d.TimestampType() + " NOT NULL",
	}
	indexes := []struct{ name, column string }{
		{"idx_deliveries_interaction", "interaction_id"},
		{"idx_deliveries_command", "command"},
		{"idx_deliveries_completed", "completed_at"},
	}
	for _, idx := range indexes {
		if clause := d.InlineIndex(idx.name, idx.column); clause != "" {
			columns = append(columns, clause)
		}
	}

	statements := []string{
		"CREATE TABLE IF NOT EXISTS deliveries (\n\t" + strings.Join(columns, ",\n\t") + "\n)",
	}
	for _, idx := range indexes {
		if stmt := d.CreateIndex(idx.name, "deliveries", idx.column); stmt != "" {
			statements = append(statements, stmt)
		}
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func (s *Store) RecordDelivery(ctx context.Context, rec *storage.DeliveryRecord) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = now
	}

	query := s.dialect.Rebind(`INSERT INTO deliveries
		(id, interaction_id, application_id, command, outcome, status_code, attempts, error, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.InteractionID, rec.ApplicationID, rec.Command, string(rec.Outcome),
		rec.StatusCode, rec.Attempts, rec.Error, rec.CreatedAt.UTC(), rec.CompletedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert delivery %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) GetDelivery(ctx context.Context, id string) (*storage.DeliveryRecord, error) {
	var rec storage.DeliveryRecord
	query := s.dialect.Rebind(`SELECT id, interaction_id, application_id, command, outcome, status_code, attempts, error, created_at, completed_at
		FROM deliveries WHERE id = ?`)
	if err := s.db.GetContext(ctx, &rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("delivery %s: %w", id, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("get delivery %s: %w", id, err)
	}
	normalize(&rec)
	return &rec, nil
}

func (s *Store) ListDeliveries(ctx context.Context, opts storage.ListOptions) ([]*storage.DeliveryRecord, error) {
	var (
		where []string
		args  []any
	)
	if opts.Command != "" {
		where = append(where, "command = ?")
		args = append(args, opts.Command)
	}
	if opts.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(opts.Outcome))
	}

	query := `SELECT id, interaction_id, application_id, command, outcome, status_code, attempts, error, created_at, completed_at
		FROM deliveries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY completed_at DESC, id DESC"

	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = math.MaxInt32
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, opts.Offset)
	}

	var records []*storage.DeliveryRecord
	if err := s.db.SelectContext(ctx, &records, s.dialect.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	for _, rec := range records {
		normalize(rec)
	}
	return records, nil
}

func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM deliveries WHERE completed_at < ?`), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func normalize(rec *storage.DeliveryRecord) {
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.CompletedAt = rec.CompletedAt.UTC()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
