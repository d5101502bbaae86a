package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrUnknownCollection = errors.New("unknown collection")

// Collection names a whole-document list.
type Collection string

const (
	Requests Collection = "requests"
	Users    Collection = "notification_users"
)

// Collections lists every collection the service initialises on open.
var Collections = []Collection{Requests, Users}

func (c Collection) valid() bool {
	for _, k := range Collections {
		if k == c {
			return true
		}
	}
	return false
}

// Store reads and replaces whole collections.
//
// ReadAll returns an empty (non-nil) slice when the collection is absent.
// WriteAll overwrites prior contents. Callers doing read-modify-write must
// serialise themselves; the store does not.
type Store interface {
	ReadAll(ctx context.Context, c Collection) ([]json.RawMessage, error)
	WriteAll(ctx context.Context, c Collection, items []json.RawMessage) error
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "file": one JSON file per collection under Path (a directory)
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

func decodeList(b []byte) ([]json.RawMessage, error) {
	if len(b) == 0 {
		return []json.RawMessage{}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	return items, nil
}

func encodeList(items []json.RawMessage) ([]byte, error) {
	if items == nil {
		items = []json.RawMessage{}
	}
	return json.MarshalIndent(items, "", "  ")
}
