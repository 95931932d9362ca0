// Package snapshot checkpoints an object store into an archive and restores
// it again. A checkpoint closes the store's change epoch.
package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"objectcore/internal/archive"
	"objectcore/internal/observability"
	"objectcore/pkg/objects"
	"objectcore/pkg/serialization"
)

// Mode selects how Restore treats the objects already in the store.
type Mode int

const (
	// ModeReplace empties the store and resets its allocators first.
	ModeReplace Mode = iota
	// ModeMerge loads the document on top of the current objects. Identity
	// collisions fail the restore.
	ModeMerge
)

func (m Mode) String() string {
	switch m {
	case ModeReplace:
		return "replace"
	case ModeMerge:
		return "merge"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// MetaTypes is the checkpoint metadata key listing the stored object types.
const MetaTypes = "object-types"

// Service ties a store, the wire format and an archive together.
type Service struct {
	store   *objects.Store
	archive archive.Archive
	writer  *serialization.Writer
	reader  *serialization.Reader
	logger  observability.Logger
	metrics observability.MetricsRecorder
	tracer  observability.Tracer
	clock   objects.Clock
	newName func() string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger installs a logger.
func WithLogger(l observability.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsRecorder installs a metrics recorder.
func WithMetricsRecorder(m observability.MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(t observability.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithClock overrides the clock used for latency measurements.
func WithClock(c objects.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithNameGenerator overrides how unnamed checkpoints are named.
func WithNameGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newName = fn
		}
	}
}

// NewService builds a Service over store and arch.
func NewService(store *objects.Store, arch archive.Archive, opts ...Option) *Service {
	s := &Service{
		store:   store,
		archive: arch,
		writer:  serialization.NewWriter(store.Registry()),
		reader:  serialization.NewReader(store.Registry()),
		logger:  observability.NopLogger{},
		metrics: observability.NopMetrics{},
		tracer:  observability.NopTracer{},
		clock:   objects.ClockFunc(time.Now),
		newName: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, op)
	start := s.clock.Now()
	err := fn(ctx)
	s.metrics.Observe(ctx, op, err == nil, s.clock.Now().Sub(start))
	span.End(err)
	if err != nil {
		s.logger.Error("snapshot operation failed", "operation", op, "error", err)
	}
	return err
}

// Checkpoint serializes the store into the archive under name and clears the
// store's change records. An empty name gets a random UUID.
func (s *Service) Checkpoint(ctx context.Context, name string) (archive.Info, error) {
	if name == "" {
		name = s.newName()
	}
	var info archive.Info
	err := s.run(ctx, "snapshot.checkpoint", func(ctx context.Context) error {
		data, err := s.writer.Marshal(s.store)
		if err != nil {
			return fmt.Errorf("checkpoint %s: %w", name, err)
		}
		opts := archive.PutOptions{
			ObjectCount: s.store.Len(),
			Metadata:    map[string]string{MetaTypes: joinTypes(s.store.Types())},
		}
		info, err = s.archive.Put(ctx, name, bytes.NewReader(data), opts)
		if err != nil {
			return fmt.Errorf("checkpoint %s: %w", name, err)
		}
		s.store.ClearChanges()
		s.logger.Info("checkpoint written", "name", info.Name, "objects", info.ObjectCount, "bytes", info.Size, "driver", s.archive.Driver())
		return nil
	})
	return info, err
}

// RestoreResult reports what Restore loaded.
type RestoreResult struct {
	Info   archive.Info
	Loaded []objects.Handle
}

// Restore loads the named checkpoint. A failed restore leaves the store as
// it was: replace mode proves the document against a scratch store before
// emptying the real one, and merge mode relies on the reader's rollback.
func (s *Service) Restore(ctx context.Context, name string, mode Mode) (RestoreResult, error) {
	var res RestoreResult
	err := s.run(ctx, "snapshot.restore", func(ctx context.Context) error {
		info, rc, err := s.archive.Get(ctx, name)
		if err != nil {
			return fmt.Errorf("restore %s: %w", name, err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return fmt.Errorf("restore %s: %w", name, err)
		}
		doc, err := serialization.Parse(data)
		if err != nil {
			return fmt.Errorf("restore %s: %w", name, err)
		}
		switch mode {
		case ModeReplace:
			scratch := objects.NewStore(s.store.Registry())
			if _, err := s.reader.Load(scratch, doc); err != nil {
				return fmt.Errorf("restore %s: %w", name, err)
			}
			s.store.RemoveAll()
			s.store.ResetAllIdentityAllocators()
		case ModeMerge:
		default:
			return fmt.Errorf("restore %s: unknown mode %s", name, mode)
		}
		loaded, err := s.reader.Load(s.store, doc)
		if err != nil {
			return fmt.Errorf("restore %s: %w", name, err)
		}
		s.store.ClearChanges()
		res = RestoreResult{Info: info, Loaded: loaded}
		s.logger.Info("checkpoint restored", "name", name, "mode", mode.String(), "objects", len(loaded))
		return nil
	})
	return res, err
}

// List returns the archived checkpoints whose name starts with prefix.
func (s *Service) List(ctx context.Context, prefix string) ([]archive.Info, error) {
	var infos []archive.Info
	err := s.run(ctx, "snapshot.list", func(ctx context.Context) error {
		var err error
		infos, err = s.archive.List(ctx, prefix)
		return err
	})
	return infos, err
}

// Delete removes an archived checkpoint.
func (s *Service) Delete(ctx context.Context, name string) (bool, error) {
	var ok bool
	err := s.run(ctx, "snapshot.delete", func(ctx context.Context) error {
		var err error
		ok, err = s.archive.Delete(ctx, name)
		if ok {
			s.logger.Info("checkpoint deleted", "name", name)
		}
		return err
	})
	return ok, err
}

// Pending summarizes the store's change records since the last checkpoint
// or restore.
type Pending struct {
	Added   map[objects.TypeKey]int
	Removed map[objects.TypeKey]int
}

// Empty reports whether nothing changed.
func (p Pending) Empty() bool { return len(p.Added) == 0 && len(p.Removed) == 0 }

// Pending counts added and removed objects per type.
func (s *Service) Pending() Pending {
	p := Pending{Added: make(map[objects.TypeKey]int), Removed: make(map[objects.TypeKey]int)}
	changes := s.store.Changes()
	for _, h := range changes.Added() {
		p.Added[h.Type()]++
	}
	for _, h := range changes.Removed() {
		p.Removed[h.Type()]++
	}
	return p
}

func joinTypes(types []objects.TypeKey) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
