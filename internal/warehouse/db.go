// Package warehouse loads lake data and detection results into PostgreSQL.
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/config"
)

// EnsureDatabase creates the warehouse database when it does not exist yet.
// It connects to the maintenance database because a database cannot be
// created from a connection to itself, and CREATE DATABASE is issued outside
// any transaction.
func EnsureDatabase(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.MaintenanceDSN())
	if err != nil {
		return fmt.Errorf("failed to connect to maintenance database: %w", err)
	}
	defer db.Close()

	var exists int
	err = db.GetContext(ctx, &exists, `SELECT 1 FROM pg_database WHERE datname = $1`, cfg.Database.Name)
	switch {
	case err == nil:
		logger.Debug("Warehouse database exists", zap.String("database", cfg.Database.Name))
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to look up database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(cfg.Database.Name)); err != nil {
		return fmt.Errorf("failed to create database %s: %w", cfg.Database.Name, err)
	}
	logger.Info("Created warehouse database", zap.String("database", cfg.Database.Name))
	return nil
}

// NewPostgresDB establishes a connection to the warehouse database.
func NewPostgresDB(ctx context.Context, dsn string, logger *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Successfully connected to the database")
	return db, nil
}

// Connect makes sure the warehouse database exists and returns a store on it.
func Connect(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Store, error) {
	if err := EnsureDatabase(ctx, cfg, logger); err != nil {
		return nil, err
	}
	db, err := NewPostgresDB(ctx, cfg.DSN(), logger)
	if err != nil {
		return nil, err
	}
	return NewStore(db, logger), nil
}

func qualified(schema, table string) string {
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
}
