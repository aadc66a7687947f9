// Package jsonstore persists named JSON documents in a directory.
//
// Every document has its own lock. Load, Save and Update all hold it, so a
// read-modify-write through Update is atomic with respect to other callers in
// this process.
package jsonstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Store is a directory of JSON documents.
type Store struct {
	dir   string
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a store rooted at dir. The directory is created lazily.
func New(dir string) *Store {
	return &Store{dir: dir, locks: make(map[string]*sync.Mutex)}
}

// Dir returns the backing directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file backing the named document.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *Store) lock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

func (s *Store) ensureDir() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	return nil
}

// Load reads the named document. A missing or empty file yields def and is not created.
func Load[T any](s *Store, name string, def T) (T, error) {
	l := s.lock(name)
	l.Lock()
	defer l.Unlock()
	return load(s, name, def)
}

// Save overwrites the named document with v.
func Save[T any](s *Store, name string, v T) error {
	l := s.lock(name)
	l.Lock()
	defer l.Unlock()
	return save(s, name, v)
}

// Update loads the named document, passes it to fn and saves the result.
// Nothing is written when fn returns an error.
func Update[T any](s *Store, name string, def T, fn func(T) (T, error)) error {
	l := s.lock(name)
	l.Lock()
	defer l.Unlock()

	cur, err := load(s, name, def)
	if err != nil {
		return err
	}
	next, err := fn(cur)
	if err != nil {
		return err
	}
	return save(s, name, next)
}

func load[T any](s *Store, name string, def T) (T, error) {
	if err := s.ensureDir(); err != nil {
		return def, err
	}
	raw, err := os.ReadFile(s.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("read %s: %w", name, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return def, nil
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return def, fmt.Errorf("parse %s: %w", name, err)
	}
	return v, nil
}

func save[T any](s *Store, name string, v T) error {
	if err := s.ensureDir(); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, s.Path(name)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}
