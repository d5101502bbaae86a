package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"intakebot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps each collection as one JSON document row, so the
// whole-document semantics match the file driver.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) ReadAll(ctx context.Context, c Collection) ([]json.RawMessage, error) {
	if !c.valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, c)
	}
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM collections WHERE name = ?`, string(c)).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return []json.RawMessage{}, nil
	}
	if err != nil {
		return nil, err
	}
	items, err := decodeList([]byte(doc))
	if err != nil {
		return nil, fmt.Errorf("parse collection %s: %w", c, err)
	}
	return items, nil
}

func (s *sqliteStore) WriteAll(ctx context.Context, c Collection, items []json.RawMessage) error {
	if !c.valid() {
		return fmt.Errorf("%w: %s", ErrUnknownCollection, c)
	}
	b, err := encodeList(items)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO collections(name, doc, updated_at) VALUES(?,?,?)
		 ON CONFLICT(name) DO UPDATE SET doc=excluded.doc, updated_at=excluded.updated_at`,
		string(c), string(b), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
