package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore persists records as individual JSON files in a directory,
// one {id}.json per session.
type FileStore struct {
	dir string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore rooted at dir, creating the
// directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save writes a record to disk as indented JSON.
func (f *FileStore) Save(_ context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := os.WriteFile(f.path(rec.ID), b, 0o644); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

// Load reads a record from disk by id.
func (f *FileStore) Load(_ context.Context, id string) (*Record, error) {
	b, err := os.ReadFile(f.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &rec, nil
}

// Delete removes a record file from disk.
func (f *FileStore) Delete(_ context.Context, id string) error {
	if err := os.Remove(f.path(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("delete session file: %w", err)
	}
	return nil
}

// List reads every record in the directory. Files that fail to parse
// are skipped rather than failing the listing.
func (f *FileStore) List(ctx context.Context) ([]*Record, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("read session dir: %w", err)
	}
	var out []*Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		rec, err := f.Load(ctx, strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Fork loads a record, clones it under a fresh id, saves the clone, and
// returns it.
func (f *FileStore) Fork(ctx context.Context, id string) (*Record, error) {
	rec, err := f.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	forked := rec.Clone()
	if err := f.Save(ctx, forked); err != nil {
		return nil, err
	}
	return forked, nil
}

func (f *FileStore) path(id string) string {
	// Session ids are generated, but sanitize anyway so a crafted id
	// cannot escape the store directory.
	safe := strings.ReplaceAll(id, string(filepath.Separator), "_")
	return filepath.Join(f.dir, safe+".json")
}
