// Package dataset reads the bundled seed sessions used when local storage
// is empty.
package dataset

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"chatsave/internal/store"
)

// DefaultName is the bundled dataset file.
const DefaultName = "mock_sessions.json"

var (
	ErrNotFound = errors.New("dataset not found")
	ErrDecode   = errors.New("dataset malformed")
)

//go:embed mock_sessions.json
var bundled embed.FS

// Reader returns the raw bytes of a named dataset.
type Reader interface {
	Read(name string) ([]byte, error)
}

type fsReader struct {
	fsys fs.FS
}

func (r fsReader) Read(name string) ([]byte, error) {
	data, err := fs.ReadFile(r.fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return data, err
}

// Embedded reads from the dataset compiled into the binary.
func Embedded() Reader {
	return fsReader{fsys: bundled}
}

// Dir reads datasets from a directory on disk.
func Dir(path string) Reader {
	return fsReader{fsys: os.DirFS(path)}
}

// FS reads datasets from an arbitrary file system.
func FS(fsys fs.FS) Reader {
	return fsReader{fsys: fsys}
}

// LoadSessions reads and decodes a JSON array of sessions.
func LoadSessions(ctx context.Context, r Reader, name string) ([]store.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := r.Read(name)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}

	var sessions []store.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, name, err)
	}
	for i := range sessions {
		if sessions[i].Category == "" {
			sessions[i].Category = store.CategoryOther
		}
	}
	return sessions, nil
}
