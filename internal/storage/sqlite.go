package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS items (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// SQLite keeps items in a single key/value table.
type SQLite struct {
	db    *sqlx.DB
	quota int64
}

// NewSQLite opens (and creates if needed) the database at path. Use
// ":memory:" for a throwaway database.
func NewSQLite(path string, quota int64) (*SQLite, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("falha ao criar diretório do banco: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("falha ao abrir banco: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite doesn't benefit from multiple connections
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("falha ao criar tabela: %w", err)
	}
	return &SQLite{db: db, quota: quota}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// GetItem implements Storage.
func (s *SQLite) GetItem(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM items WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("falha ao ler %q: %w", key, err)
	}
	return value, true, nil
}

// SetItem implements Storage.
func (s *SQLite) SetItem(ctx context.Context, key, value string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("falha ao iniciar transação: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if s.quota > 0 {
		var usage struct {
			Used     int64 `db:"used"`
			Replaced int64 `db:"replaced"`
		}
		err := tx.GetContext(ctx, &usage, `
			SELECT
				COALESCE(SUM(LENGTH(CAST(key AS BLOB)) + LENGTH(CAST(value AS BLOB))), 0) AS used,
				COALESCE(SUM(CASE WHEN key = ? THEN LENGTH(CAST(key AS BLOB)) + LENGTH(CAST(value AS BLOB)) ELSE 0 END), 0) AS replaced
			FROM items`, key)
		if err != nil {
			return fmt.Errorf("falha ao calcular uso: %w", err)
		}
		if err := checkQuota(s.quota, usage.Used, usage.Replaced, key, value); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO items (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, key, value)
	if err != nil {
		return fmt.Errorf("falha ao gravar %q: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("falha ao confirmar gravação: %w", err)
	}
	return nil
}
