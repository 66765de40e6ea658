package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"
)

// CurrentVersion is the schema version written by this build.
// Version 0 (missing field) is read as version 1.
const CurrentVersion = 1

// ErrNoSnapshot is returned by a Backend that has never been saved to.
var ErrNoSnapshot = errors.New("no snapshot stored")

// Allocation is a root path that was bound to a node when the snapshot was
// taken. Owner is the node name at that time; it is a hint used to hand the
// path back to the same node after a restart, not a durable identity.
type Allocation struct {
	Path  string `json:"path"`
	Owner string `json:"owner,omitempty"`
}

// Snapshot is the persisted state of the allocator and the project registry.
type Snapshot struct {
	Version     int                  `json:"version"`
	SavedAt     time.Time            `json:"saved_at"`
	Allocations []Allocation         `json:"allocations"`
	LastUsed    map[string]time.Time `json:"last_used"`
	Projects    map[string]string    `json:"projects"`
}

// New returns an empty snapshot at the current schema version.
func New() *Snapshot {
	return &Snapshot{
		Version:     CurrentVersion,
		Allocations: []Allocation{},
		LastUsed:    map[string]time.Time{},
		Projects:    map[string]string{},
	}
}

// Normalize fills nil collections, upgrades version 0 and sorts allocations
// so encodings are stable.
func (s *Snapshot) Normalize() {
	if s.Version == 0 {
		s.Version = CurrentVersion
	}
	if s.Allocations == nil {
		s.Allocations = []Allocation{}
	}
	if s.LastUsed == nil {
		s.LastUsed = map[string]time.Time{}
	}
	if s.Projects == nil {
		s.Projects = map[string]string{}
	}
	sort.Slice(s.Allocations, func(i, j int) bool { return s.Allocations[i].Path < s.Allocations[j].Path })
}

// Validate checks the schema version and the invariants that must hold in a
// persisted snapshot: allocated paths are unique and an allocated path is
// never pending reclamation at the same time.
func (s *Snapshot) Validate() error {
	if s.Version < 0 || s.Version > CurrentVersion {
		return fmt.Errorf("unsupported snapshot version %d (max %d)", s.Version, CurrentVersion)
	}
	seen := make(map[string]struct{}, len(s.Allocations))
	for _, a := range s.Allocations {
		if a.Path == "" {
			return errors.New("snapshot contains an allocation with empty path")
		}
		if _, dup := seen[a.Path]; dup {
			return fmt.Errorf("snapshot allocates %q more than once", a.Path)
		}
		seen[a.Path] = struct{}{}
		if _, pending := s.LastUsed[a.Path]; pending {
			return fmt.Errorf("snapshot path %q is both allocated and pending reclamation", a.Path)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{
		Version:     s.Version,
		SavedAt:     s.SavedAt,
		Allocations: append([]Allocation(nil), s.Allocations...),
		LastUsed:    make(map[string]time.Time, len(s.LastUsed)),
		Projects:    make(map[string]string, len(s.Projects)),
	}
	for k, v := range s.LastUsed {
		out.LastUsed[k] = v
	}
	for k, v := range s.Projects {
		out.Projects[k] = v
	}
	return out
}

// Encode writes the snapshot as indented JSON.
func Encode(w io.Writer, s *Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// Decode reads a JSON snapshot, normalizes and validates it.
func Decode(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	s.Normalize()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
