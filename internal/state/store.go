package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Backend persists a single snapshot document.
// Implementations must be safe for sequential use; Store guarantees that
// at most one Save runs at a time.
type Backend interface {
	// Load returns the last saved snapshot or ErrNoSnapshot.
	Load(ctx context.Context) (*Snapshot, error)
	// Save replaces the stored snapshot.
	Save(ctx context.Context, s *Snapshot) error
	Close() error
}

// Store writes snapshots produced by a source function to a Backend.
//
// Saves are serialized and the snapshot is taken while holding the writer
// lock, so a later Save never persists older state than an earlier one.
// A Save made through the context of an open BulkChange only marks that
// scope dirty and the outermost Commit writes once. Saves from other
// callers are never deferred by someone else's scope.
type Store struct {
	backend Backend
	log     *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	source   func() *Snapshot
	deferred int
	closed   bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for save/load messages.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithNow overrides the clock used to stamp SavedAt.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore wraps backend. SetSource must be called before Save.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{backend: backend, log: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetSource sets the function that produces the snapshot to persist.
func (s *Store) SetSource(fn func() *Snapshot) {
	s.mu.Lock()
	s.source = fn
	s.mu.Unlock()
}

// Load reads the stored snapshot. A backend without a snapshot yields an
// empty one.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	snap, err := s.backend.Load(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		s.log.Info("No persisted workspace state found, starting empty")
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	snap.Normalize()
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("invalid persisted state: %w", err)
	}
	s.log.Info("Loaded workspace state",
		"allocations", len(snap.Allocations),
		"pending_reclamation", len(snap.LastUsed),
		"projects", len(snap.Projects))
	return snap, nil
}

// Save persists the current state. When ctx carries an open bulk change of
// this store the write is deferred to the outermost Commit; any other caller
// writes immediately.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if root := s.scopeLocked(ctx); root != nil {
		if !root.dirty {
			root.dirty = true
			s.deferred++
		}
		return nil
	}
	return s.writeLocked(ctx)
}

// InScope reports whether a Save with ctx would be deferred.
func (s *Store) InScope(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scopeLocked(ctx) != nil
}

func (s *Store) scopeLocked(ctx context.Context) *BulkChange {
	b, ok := ctx.Value(scopeKey{}).(*BulkChange)
	if !ok || b.s != s {
		return nil
	}
	for b.parent != nil {
		b = b.parent
	}
	if b.done {
		return nil
	}
	return b
}

func (s *Store) writeLocked(ctx context.Context) error {
	if s.closed {
		return errors.New("state store is closed")
	}
	if s.source == nil {
		return errors.New("state store has no source")
	}
	snap := s.source()
	snap.Version = CurrentVersion
	snap.SavedAt = s.now().UTC()
	snap.Normalize()
	if err := s.backend.Save(ctx, snap); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	s.log.Debug("Persisted workspace state", "allocations", len(snap.Allocations))
	return nil
}

type scopeKey struct{}

// BulkChange groups the saves made through one context into one write.
type BulkChange struct {
	s        *Store
	parent   *BulkChange
	dirty    bool
	done     bool
	onCommit []func()
}

// Bulk opens a bulk change scope and returns the context that owns it.
// Only saves made with the returned context, or one derived from it, are
// deferred. A scope opened from a context that already owns a scope of the
// same store nests inside it; each must be committed.
func (s *Store) Bulk(ctx context.Context) (context.Context, *BulkChange) {
	b := &BulkChange{s: s}
	if p, ok := ctx.Value(scopeKey{}).(*BulkChange); ok && p.s == s {
		b.parent = p
	}
	return context.WithValue(ctx, scopeKey{}, b), b
}

// OnCommit registers fn to run after the scope is committed.
func (b *BulkChange) OnCommit(fn func()) {
	b.s.mu.Lock()
	b.onCommit = append(b.onCommit, fn)
	b.s.mu.Unlock()
}

// Commit closes the scope. The outermost commit writes if any save was
// deferred inside it. Calling Commit more than once is a no-op.
func (b *BulkChange) Commit(ctx context.Context) error {
	s := b.s
	s.mu.Lock()
	if b.done {
		s.mu.Unlock()
		return nil
	}
	b.done = true
	var err error
	if b.parent == nil && b.dirty {
		b.dirty = false
		s.deferred--
		if !s.closed {
			err = s.writeLocked(ctx)
		}
	}
	hooks := b.onCommit
	b.onCommit = nil
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	return err
}

// Pending reports whether an open scope has a deferred save waiting for its
// commit.
func (s *Store) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deferred > 0
}

// Close flushes deferred state and closes the backend.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	var flushErr error
	if s.deferred > 0 && s.source != nil {
		flushErr = s.writeLocked(ctx)
	}
	s.closed = true
	return errors.Join(flushErr, s.backend.Close())
}
