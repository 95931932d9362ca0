// Package fs implements a snapshot archive on the local filesystem.
package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"objectcore/internal/archive/core"
)

const metaSuffix = ".meta"

// Store implements core.Archive on a directory tree. Each document lives at
// root/<name> with a JSON sidecar root/<name>.meta carrying its Info.
type Store struct {
	root string
	now  func() time.Time
}

// DefaultRoot is used when New receives an empty root.
const DefaultRoot = "./snapshots"

// New returns a filesystem archive rooted at root, creating it if needed.
func New(root string) (*Store, error) {
	if root == "" {
		root = DefaultRoot
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create archive root: %w", err)
	}
	return &Store{root: root, now: time.Now}, nil
}

// Root returns the archive directory.
func (s *Store) Root() string { return s.root }

// Driver returns the archive driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

func (s *Store) pathFor(name string) (dataPath, metaPath string, err error) {
	if err := core.ValidateName(name); err != nil {
		return "", "", err
	}
	if strings.HasSuffix(name, metaSuffix) {
		return "", "", fmt.Errorf("%w: %q uses the reserved %s suffix", core.ErrInvalidName, name, metaSuffix)
	}
	clean := filepath.Clean(filepath.FromSlash(name))
	dataPath = filepath.Join(s.root, clean)
	return dataPath, dataPath + metaSuffix, nil
}

// Put writes a new document through a temp file and renames it into place.
func (s *Store) Put(_ context.Context, name string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	dataPath, metaPath, err := s.pathFor(name)
	if err != nil {
		return core.Info{}, err
	}
	if _, err := os.Stat(dataPath); err == nil {
		return core.Info{}, core.Exists(name)
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return core.Info{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dataPath), ".tmp-*")
	if err != nil {
		return core.Info{}, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return core.Info{}, err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return core.Info{}, err
	}
	if err := tmp.Close(); err != nil {
		return core.Info{}, err
	}
	info := core.NewInfo(name, data, opts, s.now())
	if err := writeMeta(metaPath, info); err != nil {
		return core.Info{}, err
	}
	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		_ = os.Remove(metaPath)
		return core.Info{}, err
	}
	return info, nil
}

// Get opens a stored document.
func (s *Store) Get(_ context.Context, name string) (core.Info, io.ReadCloser, error) {
	dataPath, metaPath, err := s.pathFor(name)
	if err != nil {
		return core.Info{}, nil, err
	}
	file, err := os.Open(dataPath)
	if errors.Is(err, iofs.ErrNotExist) {
		return core.Info{}, nil, core.NotFound(name)
	}
	if err != nil {
		return core.Info{}, nil, err
	}
	info, err := readMeta(metaPath)
	if err != nil {
		_ = file.Close()
		return core.Info{}, nil, err
	}
	return info, file, nil
}

// Head reads the sidecar of a stored document.
func (s *Store) Head(_ context.Context, name string) (core.Info, error) {
	dataPath, metaPath, err := s.pathFor(name)
	if err != nil {
		return core.Info{}, err
	}
	if _, err := os.Stat(dataPath); errors.Is(err, iofs.ErrNotExist) {
		return core.Info{}, core.NotFound(name)
	}
	return readMeta(metaPath)
}

// Delete removes a document and its sidecar.
func (s *Store) Delete(_ context.Context, name string) (bool, error) {
	dataPath, metaPath, err := s.pathFor(name)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(dataPath); errors.Is(err, iofs.ErrNotExist) {
		return false, nil
	}
	if err := os.Remove(dataPath); err != nil {
		return false, err
	}
	_ = os.Remove(metaPath)
	return true, nil
}

// List walks the root collecting sidecars whose name starts with prefix.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	var infos []core.Info
	err := filepath.WalkDir(s.root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, metaSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, strings.TrimSuffix(path, metaSuffix))
		if err != nil {
			return err
		}
		if !strings.HasPrefix(filepath.ToSlash(rel), prefix) {
			return nil
		}
		info, err := readMeta(path)
		if err != nil {
			return err
		}
		infos = append(infos, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func writeMeta(path string, info core.Info) error {
	b, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func readMeta(path string) (core.Info, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return core.Info{}, err
	}
	var info core.Info
	if err := json.Unmarshal(b, &info); err != nil {
		return core.Info{}, fmt.Errorf("decode sidecar %s: %w", filepath.Base(path), err)
	}
	return info, nil
}
