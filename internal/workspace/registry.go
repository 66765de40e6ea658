package workspace

import "sync"

// Registry maps a project's full name to the workspace it was last built in.
// Entries are advisory and not checked against the allocator.
type Registry struct {
	mu       sync.RWMutex
	projects map[string]string
}

func NewRegistry() *Registry {
	return &Registry{projects: make(map[string]string)}
}

// Record upserts project -> path; the latest write wins.
func (r *Registry) Record(project, path string) {
	r.mu.Lock()
	r.projects[project] = path
	r.mu.Unlock()
}

// Forget removes the entry and returns the path it held.
func (r *Registry) Forget(project string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[project]
	if ok {
		delete(r.projects, project)
	}
	return p, ok
}

func (r *Registry) WorkspaceOf(project string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[project]
	return p, ok
}

// Rename moves the entry of oldName to newName, replacing any entry newName
// already had. It reports whether oldName had an entry.
func (r *Registry) Rename(oldName, newName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[oldName]
	if !ok {
		return false
	}
	delete(r.projects, oldName)
	r.projects[newName] = p
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.projects)
}

// Export returns a copy of the index.
func (r *Registry) Export() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.projects))
	for k, v := range r.projects {
		out[k] = v
	}
	return out
}

// Import replaces the index.
func (r *Registry) Import(projects map[string]string) {
	m := make(map[string]string, len(projects))
	for k, v := range projects {
		m[k] = v
	}
	r.mu.Lock()
	r.projects = m
	r.mu.Unlock()
}
