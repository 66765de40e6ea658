package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loykin/sharedws/internal/config"
)

func TestTemplateCreate(t *testing.T) {
	out := &bytes.Buffer{}
	c := command{flags: &GlobalFlags{}, out: out}
	p := filepath.Join(t.TempDir(), "etc", "sharedws.toml")

	if err := c.TemplateCreate(TemplateCreateFlags{Type: "sqlite", Name: "farm", Output: p}); err != nil {
		t.Fatalf("TemplateCreate: %v", err)
	}
	if !strings.Contains(out.String(), p) {
		t.Fatalf("output should mention the file: %s", out.String())
	}
	cfg, err := config.Load(p)
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if !strings.HasPrefix(cfg.State.DSN, "sqlite://") {
		t.Fatalf("state dsn = %s", cfg.State.DSN)
	}

	if err := c.TemplateCreate(TemplateCreateFlags{Type: "local", Output: p}); err == nil {
		t.Fatal("expected error for existing file without --force")
	}
	if err := c.TemplateCreate(TemplateCreateFlags{Type: "local", Output: p, Force: true}); err != nil {
		t.Fatalf("TemplateCreate --force: %v", err)
	}
}

func TestTemplateCreateUnknownType(t *testing.T) {
	c := command{flags: &GlobalFlags{}, out: &bytes.Buffer{}}
	p := filepath.Join(t.TempDir(), "x.toml")
	if err := c.TemplateCreate(TemplateCreateFlags{Type: "nope", Output: p}); err == nil {
		t.Fatal("expected error for unknown type")
	}
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Fatal("no file should be written for an unknown type")
	}
}
