package client

import "time"

// NodeRef identifies a build node. Name is the identity key; Root is the
// node's configured workspace root.
type NodeRef struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Root        string `json:"root,omitempty"`
}

// NodeUpdateRequest hands the root path of Old to New.
type NodeUpdateRequest struct {
	Old NodeRef `json:"old"`
	New NodeRef `json:"new"`
}

// RootPathResponse carries an allocated (or resolved) root path.
type RootPathResponse struct {
	RootPath string `json:"root_path"`
	// Allocated is false when RootPath is only the node's configured root.
	Allocated bool `json:"allocated"`
}

// ReleaseResponse reports the path released by a node deletion.
type ReleaseResponse struct {
	RootPath string `json:"root_path,omitempty"`
	Released bool   `json:"released"`
}

// BuildRequest records the workspace a build of Project ran in.
type BuildRequest struct {
	Project   string `json:"project"`
	Workspace string `json:"workspace"`
}

// RenameRequest moves the recorded workspace of Old to New.
type RenameRequest struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// WorkspaceResponse is the recorded or located workspace of a project.
type WorkspaceResponse struct {
	Project   string `json:"project"`
	Workspace string `json:"workspace"`
}

// ForgetResponse reports whether a project entry was removed.
type ForgetResponse struct {
	Workspace string `json:"workspace,omitempty"`
	Deleted   bool   `json:"deleted"`
}

// Binding is a root path held by a node or an orphaned reservation.
type Binding struct {
	Node    string    `json:"node"`
	Path    string    `json:"path"`
	Touched time.Time `json:"touched,omitempty"`
	Orphan  bool      `json:"orphan,omitempty"`
}

// StatusResponse is a snapshot of all workspace tables.
type StatusResponse struct {
	Combinator         string               `json:"combinator"`
	Allocations        []Binding            `json:"allocations"`
	PendingReclamation map[string]time.Time `json:"pending_reclamation"`
	Projects           map[string]string    `json:"projects"`
	StatePending       bool                 `json:"state_pending"`
}

// ReclaimFailure is a path whose deletion failed during a sweep.
type ReclaimFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
	Kept  bool   `json:"kept"`
}

// ReclaimReport summarizes one sweep.
type ReclaimReport struct {
	Started  time.Time        `json:"started"`
	Duration time.Duration    `json:"duration"`
	Skipped  bool             `json:"skipped,omitempty"`
	Deleted  []string         `json:"deleted"`
	Failed   []ReclaimFailure `json:"failed"`
}

// OKResponse acknowledges a request without a payload.
type OKResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
