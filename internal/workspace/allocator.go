package workspace

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/loykin/sharedws/internal/state"
)

// AllocatorOptions configures an Allocator.
type AllocatorOptions struct {
	// Combinator joins a base path and its suffix index. Default "@".
	Combinator string
	// MaxProbe caps the candidates tried per allocation; 0 means unbounded.
	MaxProbe int
	Clock    clockwork.Clock
}

type binding struct {
	path    string
	touched time.Time
}

// Allocator owns the node to root path table and the last-used index.
//
// One mutex covers both tables together with the orphaned reservations
// restored from a snapshot and the set of paths currently being reclaimed.
// A path is in at most one of: live table, orphans, lastUsed, reclaiming.
type Allocator struct {
	combinator string
	maxProbe   int
	clock      clockwork.Clock

	mu         sync.Mutex
	byNode     map[string]binding
	byPath     map[string]string
	orphans    map[string]string
	lastUsed   map[string]time.Time
	reclaiming map[string]time.Time
}

func NewAllocator(opts AllocatorOptions) *Allocator {
	if opts.Combinator == "" {
		opts.Combinator = DefaultCombinator
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Allocator{
		combinator: opts.Combinator,
		maxProbe:   opts.MaxProbe,
		clock:      opts.Clock,
		byNode:     make(map[string]binding),
		byPath:     make(map[string]string),
		orphans:    make(map[string]string),
		lastUsed:   make(map[string]time.Time),
		reclaiming: make(map[string]time.Time),
	}
}

// Combinator returns the suffix separator in use.
func (a *Allocator) Combinator() string { return a.combinator }

// Allocate binds node to the first free candidate among base, base@2,
// base@3 and so on. A node that already holds a path keeps it, and a node
// whose name owns an orphaned reservation re-adopts that path.
func (a *Allocator) Allocate(node Node, base string) (string, error) {
	path, _, err := a.allocate(node, base)
	return path, err
}

// allocate also reports how many candidates were examined; 0 means no probing.
func (a *Allocator) allocate(node Node, base string) (string, int, error) {
	if node.Name == "" {
		return "", 0, fmt.Errorf("allocate: node name: %w", ErrInvalidArgument)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocateLocked(node, base)
}

func (a *Allocator) allocateLocked(node Node, base string) (string, int, error) {
	if b, ok := a.byNode[node.Name]; ok {
		return b.path, 0, nil
	}
	if p, ok := a.orphanOfLocked(node.Name); ok {
		delete(a.orphans, p)
		a.bindLocked(node.Name, p)
		return p, 0, nil
	}
	if base == "" {
		return "", 0, fmt.Errorf("allocate %s: %w", node.Name, ErrEmptyBasePath)
	}
	for i := 1; ; i++ {
		if a.maxProbe > 0 && i > a.maxProbe {
			return "", i - 1, fmt.Errorf("allocate %s from %s after %d candidates: %w",
				node.Name, base, a.maxProbe, ErrAllocationExhausted)
		}
		cand := base
		if i > 1 {
			cand = base + a.combinator + strconv.Itoa(i)
		}
		if a.takenLocked(cand) {
			continue
		}
		a.bindLocked(node.Name, cand)
		return cand, i, nil
	}
}

func (a *Allocator) takenLocked(p string) bool {
	if _, ok := a.byPath[p]; ok {
		return true
	}
	if _, ok := a.orphans[p]; ok {
		return true
	}
	_, ok := a.reclaiming[p]
	return ok
}

// bindLocked records node -> p and drops p from the last-used index left
// over from a previous holder.
func (a *Allocator) bindLocked(node, p string) {
	a.byNode[node] = binding{path: p, touched: a.clock.Now()}
	a.byPath[p] = node
	delete(a.lastUsed, p)
}

// orphanOfLocked returns the lowest orphaned path owned by name.
func (a *Allocator) orphanOfLocked(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	var found string
	for p, owner := range a.orphans {
		if owner == name && (found == "" || p < found) {
			found = p
		}
	}
	return found, found != ""
}

// Deallocate releases the path held by node and stamps it in the last-used
// index. It returns false when node holds nothing.
func (a *Allocator) Deallocate(node Node) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.byNode[node.Name]; ok {
		delete(a.byNode, node.Name)
		delete(a.byPath, b.path)
		a.lastUsed[b.path] = a.clock.Now()
		return b.path, true
	}
	if p, ok := a.orphanOfLocked(node.Name); ok {
		delete(a.orphans, p)
		a.lastUsed[p] = a.clock.Now()
		return p, true
	}
	return "", false
}

// Reallocate moves the path held by oldNode to newNode without probing. When
// oldNode holds nothing it allocates for newNode from base. Any other path
// held by newNode, live or orphaned, is released.
func (a *Allocator) Reallocate(oldNode, newNode Node, base string) (string, error) {
	r, err := a.reallocate(oldNode, newNode, base)
	return r.path, err
}

type reallocation struct {
	path     string
	moved    bool
	released []string
	probed   int
}

func (a *Allocator) reallocate(oldNode, newNode Node, base string) (reallocation, error) {
	if newNode.Name == "" {
		return reallocation{}, fmt.Errorf("reallocate: node name: %w", ErrInvalidArgument)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	path, fromOrphan := "", false
	if b, ok := a.byNode[oldNode.Name]; ok {
		path = b.path
	} else if p, ok := a.orphanOfLocked(oldNode.Name); ok {
		path, fromOrphan = p, true
	}
	if path == "" {
		p, n, err := a.allocateLocked(newNode, base)
		return reallocation{path: p, probed: n}, err
	}

	r := reallocation{path: path, moved: oldNode.Name != newNode.Name}
	now := a.clock.Now()
	if prev, ok := a.byNode[newNode.Name]; ok && prev.path != path {
		delete(a.byPath, prev.path)
		a.lastUsed[prev.path] = now
		r.released = append(r.released, prev.path)
	}
	if fromOrphan {
		delete(a.orphans, path)
	}
	for p, owner := range a.orphans {
		if owner == newNode.Name && p != path {
			delete(a.orphans, p)
			a.lastUsed[p] = now
			r.released = append(r.released, p)
		}
	}
	sort.Strings(r.released)
	delete(a.byNode, oldNode.Name)
	a.bindLocked(newNode.Name, path)
	return r, nil
}

// RootPathOf returns the path held by node, including an orphaned
// reservation recorded under its name.
func (a *Allocator) RootPathOf(node Node) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.byNode[node.Name]; ok {
		return b.path, true
	}
	return a.orphanOfLocked(node.Name)
}

// ClaimExpired removes every path released more than retention ago from the
// last-used index and holds it as reclaiming until FinishReclaim. Allocation
// skips reclaiming paths.
func (a *Allocator) ClaimExpired(retention time.Duration) []Expired {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.clock.Now()
	var out []Expired
	for p, t := range a.lastUsed {
		if now.Sub(t) <= retention {
			continue
		}
		e := Expired{Path: p, LastUsed: t}
		if owner, ok := a.byPath[p]; ok {
			delete(a.byPath, p)
			delete(a.byNode, owner)
			e.StaleOwner = owner
		}
		if owner, ok := a.orphans[p]; ok {
			delete(a.orphans, p)
			e.StaleOwner = owner
		}
		delete(a.lastUsed, p)
		a.reclaiming[p] = t
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// FinishReclaim ends reclamation of path. With keep set the path goes back
// to the last-used index under its original timestamp so the next sweep
// retries it.
func (a *Allocator) FinishReclaim(path string, keep bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.reclaiming[path]
	if !ok {
		return
	}
	delete(a.reclaiming, path)
	if keep {
		a.lastUsed[path] = t
	}
}

// Allocations lists live bindings and orphaned reservations sorted by path.
func (a *Allocator) Allocations() []Binding {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Binding, 0, len(a.byNode)+len(a.orphans))
	for n, b := range a.byNode {
		out = append(out, Binding{Node: n, Path: b.path, Touched: b.touched})
	}
	for p, owner := range a.orphans {
		out = append(out, Binding{Node: owner, Path: p, Orphan: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// PendingReclamation returns a copy of the last-used index.
func (a *Allocator) PendingReclamation() map[string]time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]time.Time, len(a.lastUsed))
	for p, t := range a.lastUsed {
		out[p] = t
	}
	return out
}

// Export returns the persisted form of the tables. Paths still being
// reclaimed are written back to last_used so an interrupted sweep is retried
// after a restart.
func (a *Allocator) Export() ([]state.Allocation, map[string]time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	allocs := make([]state.Allocation, 0, len(a.byPath)+len(a.orphans))
	for p, n := range a.byPath {
		allocs = append(allocs, state.Allocation{Path: p, Owner: n})
	}
	for p, owner := range a.orphans {
		allocs = append(allocs, state.Allocation{Path: p, Owner: owner})
	}
	lastUsed := make(map[string]time.Time, len(a.lastUsed)+len(a.reclaiming))
	for p, t := range a.lastUsed {
		lastUsed[p] = t
	}
	for p, t := range a.reclaiming {
		lastUsed[p] = t
	}
	return allocs, lastUsed
}

// Import replaces all tables. Every allocation becomes an orphaned
// reservation until its owner registers again.
func (a *Allocator) Import(allocs []state.Allocation, lastUsed map[string]time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byNode = make(map[string]binding)
	a.byPath = make(map[string]string)
	a.reclaiming = make(map[string]time.Time)
	a.orphans = make(map[string]string, len(allocs))
	for _, al := range allocs {
		a.orphans[al.Path] = al.Owner
	}
	a.lastUsed = make(map[string]time.Time, len(lastUsed))
	for p, t := range lastUsed {
		if _, held := a.orphans[p]; held {
			continue
		}
		a.lastUsed[p] = t
	}
}

// counts returns live+orphan and pending sizes.
func (a *Allocator) counts() (allocated, pending int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.byNode) + len(a.orphans), len(a.lastUsed)
}
