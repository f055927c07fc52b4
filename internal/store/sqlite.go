package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	migrate "github.com/rubenv/sql-migrate"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
	now func() time.Time
}

func NewSQLiteStore(dataSourceName string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db, log: logger.Named("store"), now: time.Now}
	if err = store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err = store.seedAdvisories(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed advisories: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	src := &migrate.EmbedFileSystemMigrationSource{FileSystem: migrationsFS, Root: "migrations"}
	n, err := migrate.Exec(s.db, "sqlite3", src, migrate.Up)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info("Applied migrations", zap.Int("count", n))
	}
	return nil
}

func (s *SQLiteStore) seedAdvisories(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM advisories").Scan(&count); err != nil {
		return fmt.Errorf("failed to count advisories: %w", err)
	}
	if count > 0 {
		return nil
	}
	_, err := s.ReplaceAdvisories(ctx, stockAdvisories(s.now()))
	return err
}

// Gov query methods
func (s *SQLiteStore) CreateGovQuery(ctx context.Context, q *GovQuery) error {
	if err := q.Validate(); err != nil {
		return err
	}
	q.ID = uuid.NewString()
	q.CreatedAt = s.now().UTC()

	var sessionID sql.NullString
	if q.SessionID != "" {
		sessionID = sql.NullString{String: q.SessionID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO gov_queries (id, name, location, query_type, message, session_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		q.ID, q.Name, q.Location, string(q.QueryType), q.Message, sessionID, q.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute gov query insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetGovQuery(ctx context.Context, id string) (*GovQuery, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, location, query_type, message, session_id, created_at FROM gov_queries WHERE id = ?", id)
	q, err := scanGovQuery(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get gov query: %w", err)
	}
	return q, nil
}

// ListGovQueries returns the most recent queries first. An empty sessionID
// lists the queries of every session.
func (s *SQLiteStore) ListGovQueries(ctx context.Context, sessionID string, limit int) ([]GovQuery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, location, query_type, message, session_id, created_at FROM gov_queries
		WHERE ? = '' OR session_id = ? ORDER BY created_at DESC LIMIT ?`, sessionID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query gov queries: %w", err)
	}
	defer rows.Close()

	var queries []GovQuery
	for rows.Next() {
		q, err := scanGovQuery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gov query row: %w", err)
		}
		queries = append(queries, *q)
	}
	return queries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGovQuery(sc scanner) (*GovQuery, error) {
	var (
		q         GovQuery
		queryType string
		sessionID sql.NullString
	)
	if err := sc.Scan(&q.ID, &q.Name, &q.Location, &queryType, &q.Message, &sessionID, &q.CreatedAt); err != nil {
		return nil, err
	}
	q.QueryType = QueryType(queryType)
	if sessionID.Valid {
		q.SessionID = sessionID.String
	}
	return &q, nil
}

// Advisory methods
func (s *SQLiteStore) ListAdvisories(ctx context.Context) ([]Advisory, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, title, content, posted_at FROM advisories ORDER BY posted_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query advisories: %w", err)
	}
	defer rows.Close()

	now := s.now()
	var advisories []Advisory
	for rows.Next() {
		var a Advisory
		if err := rows.Scan(&a.ID, &a.Title, &a.Content, &a.PostedAt); err != nil {
			return nil, fmt.Errorf("failed to scan advisory row: %w", err)
		}
		a.setPosted(now)
		advisories = append(advisories, a)
	}
	return advisories, rows.Err()
}

// ReplaceAdvisories swaps the whole advisory list in one transaction.
func (s *SQLiteStore) ReplaceAdvisories(ctx context.Context, advisories []Advisory) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM advisories"); err != nil {
		return 0, fmt.Errorf("failed to delete advisories: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO advisories (title, content, posted_at) VALUES (?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("failed to prepare advisory insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range advisories {
		if _, err := stmt.ExecContext(ctx, a.Title, a.Content, a.PostedAt.UTC()); err != nil {
			return 0, fmt.Errorf("failed to execute advisory insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit advisories: %w", err)
	}
	return len(advisories), nil
}
