package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"intakebot/pkg/logx"
)

// fileStore keeps one flat JSON file per collection:
//   - <dir>/requests.json
//   - <dir>/notification_users.json
//
// Reads and writes are whole-file. Writes go through a temp file + rename so
// a crash mid-write never leaves a truncated document behind.
type fileStore struct {
	dir string
	log logx.Logger
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		dir = "./data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &fileStore{dir: dir, log: log}
	for _, c := range Collections {
		p := s.path(c)
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			if err := os.WriteFile(p, []byte("[]"), 0o644); err != nil {
				return nil, err
			}
			log.Debug("collection initialised", logx.String("path", p))
		} else if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *fileStore) path(c Collection) string {
	return filepath.Join(s.dir, string(c)+".json")
}

func (s *fileStore) ReadAll(ctx context.Context, c Collection) ([]json.RawMessage, error) {
	_ = ctx
	if !c.valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, c)
	}
	b, err := os.ReadFile(s.path(c))
	if errors.Is(err, fs.ErrNotExist) {
		return []json.RawMessage{}, nil
	}
	if err != nil {
		return nil, err
	}
	items, err := decodeList(b)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path(c), err)
	}
	return items, nil
}

func (s *fileStore) WriteAll(ctx context.Context, c Collection, items []json.RawMessage) error {
	_ = ctx
	if !c.valid() {
		return fmt.Errorf("%w: %s", ErrUnknownCollection, c)
	}
	b, err := encodeList(items)
	if err != nil {
		return err
	}
	dst := s.path(c)
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

func (s *fileStore) Close() error { return nil }
