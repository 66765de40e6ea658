// Package workspace allocates unique workspace root paths on shared storage
// to build nodes and remembers where each project was last built.
package workspace

import (
	"errors"
	"time"
)

var (
	// ErrEmptyBasePath is returned when a node has no root to derive a path from.
	ErrEmptyBasePath = errors.New("empty base path")
	// ErrAllocationExhausted is returned when MaxProbe candidates were all taken.
	ErrAllocationExhausted = errors.New("allocation exhausted")
	// ErrInvalidArgument is returned for empty node or project names.
	ErrInvalidArgument = errors.New("invalid argument")
)

// DefaultCombinator separates a base path from its collision suffix.
const DefaultCombinator = "@"

// Node identifies a build node. Name is the identity key; DisplayName is only
// used in logs; Root is the node's own configured workspace root.
type Node struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Root        string `json:"root,omitempty"`
}

func (n Node) String() string {
	if n.DisplayName != "" {
		return n.DisplayName
	}
	return n.Name
}

// Binding is a root path held by a node.
// Orphan is set for reservations restored from a snapshot that no node has
// claimed yet; Node is then the owner recorded at save time.
type Binding struct {
	Node    string    `json:"node"`
	Path    string    `json:"path"`
	Touched time.Time `json:"touched,omitempty"`
	Orphan  bool      `json:"orphan,omitempty"`
}

// Expired is a released root path handed to the reclaimer.
type Expired struct {
	Path     string
	LastUsed time.Time
	// StaleOwner is set when a live binding still pointed at the path.
	StaleOwner string
}
