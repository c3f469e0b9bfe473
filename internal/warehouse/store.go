package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/models"
)

var (
	messageColumns = []string{
		"message_id", "channel_name", "message_text", "views", "forwards",
		"message_date", "has_media", "image_path",
	}
	enrichedColumns = []string{
		"message_id", "channel_key", "message_text", "view_count", "forwards",
		"message_date", "has_image", "image_path", "content_category",
		"tone_label", "translated_text", "final_category",
	}
	detectionColumns = []string{
		"message_id", "detected_objects", "confidence_score", "image_category", "image_path",
	}
)

const (
	messagesDDL = `(
		message_id   BIGINT,
		channel_name TEXT,
		message_text TEXT,
		views        INTEGER,
		forwards     INTEGER,
		message_date TIMESTAMPTZ,
		has_media    BOOLEAN,
		image_path   TEXT
	)`
	enrichedDDL = `(
		message_id       BIGINT,
		channel_key      TEXT,
		message_text     TEXT,
		view_count       INTEGER,
		forwards         INTEGER,
		message_date     TIMESTAMPTZ,
		has_image        BOOLEAN,
		image_path       TEXT,
		content_category TEXT,
		tone_label       TEXT,
		translated_text  TEXT,
		final_category   TEXT
	)`
	detectionsDDL = `(
		message_id       BIGINT,
		detected_objects TEXT,
		confidence_score DOUBLE PRECISION,
		image_category   TEXT,
		image_path       TEXT
	)`
)

// Store is the PostgreSQL implementation of the loader stores.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewStore(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates schema if it is missing.
func (s *Store) EnsureSchema(ctx context.Context, schema string) error {
	if _, err := s.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", schema, err)
	}
	return nil
}

func (s *Store) EnsureMessagesTable(ctx context.Context, schema, table string) error {
	return s.ensureTable(ctx, schema, table, messagesDDL)
}

func (s *Store) EnsureEnrichedTable(ctx context.Context, schema, table string) error {
	return s.ensureTable(ctx, schema, table, enrichedDDL)
}

func (s *Store) ensureTable(ctx context.Context, schema, table, ddl string) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+qualified(schema, table)+" "+ddl); err != nil {
		return fmt.Errorf("failed to create table %s.%s: %w", schema, table, err)
	}
	return nil
}

// AppendMessages bulk-inserts msgs in one transaction.
func (s *Store) AppendMessages(ctx context.Context, schema, table string, msgs []models.Message) (int, error) {
	rows := make([][]any, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, []any{
			m.MessageID, m.ChannelName, m.MessageText, m.Views, m.Forwards,
			nullTime(m.MessageDate), m.HasMedia, m.ImagePath,
		})
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := copyRows(ctx, tx, schema, table, messageColumns, rows); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit messages: %w", err)
	}
	return len(rows), nil
}

// AppendEnriched bulk-inserts enriched messages in one transaction.
func (s *Store) AppendEnriched(ctx context.Context, schema, table string, msgs []models.EnrichedMessage) (int, error) {
	rows := make([][]any, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, []any{
			m.MessageID, m.ChannelKey, m.MessageText, m.ViewCount, m.Forwards,
			nullTime(m.MessageDate), m.HasImage, m.ImagePath, m.ContentCategory,
			m.ToneLabel, m.TranslatedText, m.FinalCategory,
		})
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := copyRows(ctx, tx, schema, table, enrichedColumns, rows); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit enriched messages: %w", err)
	}
	return len(rows), nil
}

// ReplaceDetections drops and recreates schema.table and fills it with rows,
// all in one transaction. Readers see either the old or the new table.
func (s *Store) ReplaceDetections(ctx context.Context, schema, table string, rows []models.Detection) (int, error) {
	if err := s.EnsureSchema(ctx, schema); err != nil {
		return 0, err
	}

	values := make([][]any, 0, len(rows))
	for _, d := range rows {
		values = append(values, []any{d.MessageID, d.DetectedObjects, d.ConfidenceScore, d.ImageCategory, d.ImagePath})
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	name := qualified(schema, table)
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
		return 0, fmt.Errorf("failed to drop %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, "CREATE TABLE "+name+" "+detectionsDDL); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", name, err)
	}
	if err := copyRows(ctx, tx, schema, table, detectionColumns, values); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit detections: %w", err)
	}
	return len(values), nil
}

func copyRows(ctx context.Context, tx *sqlx.Tx, schema, table string, columns []string, rows [][]any) error {
	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema(schema, table, columns...))
	if err != nil {
		return fmt.Errorf("failed to prepare copy into %s.%s: %w", schema, table, err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r...); err != nil {
			return fmt.Errorf("failed to copy row into %s.%s: %w", schema, table, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to flush copy into %s.%s: %w", schema, table, err)
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
