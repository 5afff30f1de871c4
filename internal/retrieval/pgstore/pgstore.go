// Package pgstore implements the Retriever interface over a PostgreSQL table
// of standard commands with a pgvector embedding column.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/nadzzz/homenlu/internal/command"
	"github.com/nadzzz/homenlu/internal/config"
	"github.com/nadzzz/homenlu/internal/embedding"
	"github.com/nadzzz/homenlu/internal/retrieval"
)

var tableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Store searches standard commands by L2 distance (<->). Scores are squared
// so they share a scale with the memory backend.
type Store struct {
	db       *sqlx.DB
	table    string
	embedder embedding.Embedder
}

// row is one standard command as stored.
type row struct {
	Text       string         `db:"text"`
	Predefined sql.NullString `db:"predefined"`
	Score      float64        `db:"score"`
}

// Open connects to PostgreSQL and checks the connection.
func Open(cfg config.PGVectorConfig, e embedding.Embedder) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: pgvector.dsn is empty", retrieval.ErrUnavailable)
	}
	table := cfg.Table
	if table == "" {
		table = "standard_commands"
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db, table: table, embedder: e}, nil
}

// NewWithDB wraps an existing connection.
func NewWithDB(db *sqlx.DB, table string, e embedding.Embedder) *Store {
	return &Store{db: db, table: table, embedder: e}
}

// Name returns the backend identifier.
func (s *Store) Name() string { return "pgvector" }

// EnsureSchema creates the extension and table if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			text TEXT NOT NULL UNIQUE,
			predefined JSONB,
			embedding vector(%d) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.table, s.embedder.Dimensions()),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}

// Upsert embeds records and writes them in one transaction, replacing rows
// with the same text. It returns the number of rows written.
func (s *Store) Upsert(ctx context.Context, records []retrieval.KnowledgeRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	vectors, err := s.embedder.EmbedBatch(ctx, retrieval.Texts(records))
	if err != nil {
		return 0, fmt.Errorf("embedding records: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (text, predefined, embedding) VALUES ($1, $2, $3)
		ON CONFLICT (text) DO UPDATE
		SET predefined = EXCLUDED.predefined, embedding = EXCLUDED.embedding, updated_at = NOW()`, s.table))
	if err != nil {
		return 0, fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	written := 0
	for i, rec := range records {
		var predefined sql.NullString
		if rec.Predefined != nil {
			b, err := json.Marshal(rec.Predefined)
			if err != nil {
				return written, fmt.Errorf("encoding predefined output for %q: %w", rec.Text, err)
			}
			predefined = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, rec.Text, predefined, pgvector.NewVector(vectors[i])); err != nil {
			return written, fmt.Errorf("upserting %q: %w", rec.Text, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing: %w", err)
	}
	return written, nil
}

// Search returns the topK nearest standard commands.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]retrieval.Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	q, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", retrieval.ErrUnavailable, err)
	}

	var rows []row
	sqlQuery := fmt.Sprintf(`
		SELECT text, predefined::text AS predefined, power(embedding <-> $1, 2) AS score
		FROM %s
		ORDER BY embedding <-> $1
		LIMIT $2`, s.table)
	if err := s.db.SelectContext(ctx, &rows, sqlQuery, pgvector.NewVector(q), topK); err != nil {
		return nil, fmt.Errorf("%w: %v", retrieval.ErrUnavailable, err)
	}

	matches := make([]retrieval.Match, 0, len(rows))
	for _, r := range rows {
		rec := retrieval.KnowledgeRecord{Text: r.Text}
		if r.Predefined.Valid && strings.TrimSpace(r.Predefined.String) != "" {
			var cmd command.ParsedCommand
			if err := json.Unmarshal([]byte(r.Predefined.String), &cmd); err != nil {
				slog.Warn("ignoring unreadable predefined output", "text", r.Text, "error", err)
			} else {
				rec.Predefined = &cmd
			}
		}
		matches = append(matches, retrieval.Match{CommandText: r.Text, Score: r.Score, Record: rec})
	}
	return matches, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
