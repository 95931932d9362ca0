// Package memory implements an in-memory snapshot archive for tests.
package memory

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"objectcore/internal/archive/core"
)

type entry struct {
	info core.Info
	data []byte
}

// Store implements core.Archive backed by process memory.
type Store struct {
	mu   sync.RWMutex
	docs map[string]entry
	now  func() time.Time
}

// New returns an empty in-memory archive.
func New() *Store {
	return &Store{docs: make(map[string]entry), now: time.Now}
}

// Driver returns the archive driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Put stores a new document; it fails if name exists.
func (s *Store) Put(_ context.Context, name string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if err := core.ValidateName(name); err != nil {
		return core.Info{}, err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[name]; exists {
		return core.Info{}, core.Exists(name)
	}
	info := core.NewInfo(name, b, opts, s.now())
	s.docs[name] = entry{info: info, data: b}
	return copyInfo(info), nil
}

// Get returns a document and its metadata.
func (s *Store) Get(_ context.Context, name string) (core.Info, io.ReadCloser, error) {
	s.mu.RLock()
	e, ok := s.docs[name]
	s.mu.RUnlock()
	if !ok {
		return core.Info{}, nil, core.NotFound(name)
	}
	data := make([]byte, len(e.data))
	copy(data, e.data)
	return copyInfo(e.info), io.NopCloser(bytes.NewReader(data)), nil
}

// Head returns document metadata only.
func (s *Store) Head(_ context.Context, name string) (core.Info, error) {
	s.mu.RLock()
	e, ok := s.docs[name]
	s.mu.RUnlock()
	if !ok {
		return core.Info{}, core.NotFound(name)
	}
	return copyInfo(e.info), nil
}

// Delete removes a document, reporting whether it existed.
func (s *Store) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.docs[name]
	delete(s.docs, name)
	return ok, nil
}

// List returns the documents whose name starts with prefix, sorted by name.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Info, 0, len(s.docs))
	for name, e := range s.docs {
		if strings.HasPrefix(name, prefix) {
			out = append(out, copyInfo(e.info))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func copyInfo(info core.Info) core.Info {
	info.Metadata = core.CloneMetadata(info.Metadata)
	return info
}
