package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileStore persists one JSON document per job under dir. Every write goes to
// a temp file that is fsynced and renamed over the record, so a crash leaves
// either the old or the new document and readers never see a partial one.
type FileStore struct {
	dir   string
	locks sync.Map // job id -> *sync.Mutex
}

// NewFileStore creates dir if needed and removes temp files left by a crash.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, "*.json.tmp*"))
	for _, p := range leftovers {
		_ = os.Remove(p)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileStore) lock(id string) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *FileStore) Create(ctx context.Context, id string, fields Fields) error {
	if err := ValidateJobID(id); err != nil {
		return err
	}
	unlock := s.lock(id)
	defer unlock()

	if _, err := os.Stat(s.path(id)); err == nil {
		return ErrJobExists
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat job record: %w", err)
	}
	rec := Fields{}
	rec.apply(fields)
	return s.write(id, rec)
}

func (s *FileStore) Get(ctx context.Context, id string) (Fields, error) {
	if err := ValidateJobID(id); err != nil {
		return nil, ErrNotFound
	}
	// rename is atomic, so reads need no lock
	return s.read(id)
}

func (s *FileStore) Set(ctx context.Context, id string, patch Fields) error {
	return s.Update(ctx, id, func(Fields) (Fields, error) { return patch, nil })
}

func (s *FileStore) Update(ctx context.Context, id string, fn UpdateFunc) error {
	if err := ValidateJobID(id); err != nil {
		return ErrNotFound
	}
	unlock := s.lock(id)
	defer unlock()

	rec, err := s.read(id)
	if err != nil {
		return err
	}
	patch, err := fn(rec.Clone())
	if err != nil {
		return err
	}
	if len(patch) == 0 {
		return nil
	}
	rec.apply(patch)
	return s.write(id, rec)
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read ledger dir: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) read(id string) (Fields, error) {
	b, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read job record: %w", err)
	}
	rec := Fields{}
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode job record %s: %w", id, err)
	}
	return rec, nil
}

func (s *FileStore) write(id string, rec Fields) error {
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, id+".json.tmp*")
	if err != nil {
		return fmt.Errorf("create tmp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write tmp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync tmp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close tmp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(id)); err != nil {
		return fmt.Errorf("rename tmp file: %w", err)
	}
	return nil
}
