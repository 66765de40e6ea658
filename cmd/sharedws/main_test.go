package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestHelpListsCommands(t *testing.T) {
	root := buildRoot()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetArgs([]string{"--help"})
	if err := root.Execute(); err != nil {
		t.Fatalf("help should succeed: %v", err)
	}
	for _, name := range []string{"serve", "node", "project", "build", "locate", "reclaim", "status", "config"} {
		if !strings.Contains(out.String(), name) {
			t.Errorf("help output misses %q: %s", name, out.String())
		}
	}
}

func TestRequiredFlags(t *testing.T) {
	root := buildRoot()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"node", "create", "--name", "agent-1"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "root") {
		t.Fatalf("expected missing --root error, got %v", err)
	}
}
