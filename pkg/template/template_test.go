package template

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/sharedws/internal/config"
)

func TestGenerator_Generate(t *testing.T) {
	generator := NewGenerator()

	tests := []struct {
		name         string
		templateType TemplateType
		validate     func(*testing.T, *ConfigTemplate)
	}{
		{
			name:         "local",
			templateType: TypeLocal,
			validate: func(t *testing.T, c *ConfigTemplate) {
				if c.State.DSN != "/var/lib/sharedws/farm/state.json" {
					t.Errorf("unexpected state dsn: %s", c.State.DSN)
				}
				if len(c.History) != 0 {
					t.Errorf("expected no history sinks, got %d", len(c.History))
				}
			},
		},
		{
			name:         "sqlite",
			templateType: TypeSQLite,
			validate: func(t *testing.T, c *ConfigTemplate) {
				if !strings.HasPrefix(c.State.DSN, "sqlite://") {
					t.Errorf("expected sqlite state dsn, got %s", c.State.DSN)
				}
				if len(c.History) != 1 {
					t.Errorf("expected 1 history sink, got %d", len(c.History))
				}
			},
		},
		{
			name:         "postgres",
			templateType: TypePostgres,
			validate: func(t *testing.T, c *ConfigTemplate) {
				if !strings.Contains(c.State.DSN, "/farm?") {
					t.Errorf("database should be named after the deployment: %s", c.State.DSN)
				}
			},
		},
		{
			name:         "etcd",
			templateType: TypeEtcd,
			validate: func(t *testing.T, c *ConfigTemplate) {
				if c.State.DSN != "etcd://localhost:2379/sharedws/farm" {
					t.Errorf("unexpected etcd dsn: %s", c.State.DSN)
				}
				if !c.Reclaim.KeepFailed {
					t.Error("expected keep_failed for etcd template")
				}
			},
		},
		{
			name:         "tls",
			templateType: TypeTLS,
			validate: func(t *testing.T, c *ConfigTemplate) {
				if c.Server.TLS == nil || !c.Server.TLS.Enabled || !c.Server.TLS.AutoGenerate {
					t.Error("expected auto-generated TLS")
				}
			},
		},
		{
			name:         "observable",
			templateType: TypeObservable,
			validate: func(t *testing.T, c *ConfigTemplate) {
				if len(c.History) != 3 {
					t.Errorf("expected 3 history sinks, got %d", len(c.History))
				}
				if c.Log.Format != "json" {
					t.Errorf("expected json logs, got %s", c.Log.Format)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := generator.Generate(tt.templateType, "farm")
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			tt.validate(t, c)
		})
	}
}

func TestGenerator_UnknownType(t *testing.T) {
	_, err := NewGenerator().Generate("mystery", "x")
	if err == nil || !strings.Contains(err.Error(), "unknown template type") {
		t.Fatalf("expected unknown template type error, got %v", err)
	}
}

func TestGenerator_DefaultName(t *testing.T) {
	c, err := NewGenerator().Generate(TypeLocal, "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if c.State.DSN != "/var/lib/sharedws/sharedws/state.json" {
		t.Fatalf("unexpected state dsn: %s", c.State.DSN)
	}
}

// Every supported template must load as a valid daemon config.
func TestGenerator_TOMLLoads(t *testing.T) {
	g := NewGenerator()
	dir := t.TempDir()
	for _, typ := range g.GetSupportedTypes() {
		t.Run(typ, func(t *testing.T) {
			data, err := g.GenerateTOML(TemplateType(typ), "farm")
			if err != nil {
				t.Fatalf("GenerateTOML: %v", err)
			}
			p := filepath.Join(dir, typ+".toml")
			if err := os.WriteFile(p, data, 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			cfg, err := config.Load(p)
			if err != nil {
				t.Fatalf("generated config does not load: %v\n%s", err, data)
			}
			if cfg.Reclaim.Retention != 720*time.Hour {
				t.Errorf("retention = %v", cfg.Reclaim.Retention)
			}
			if cfg.Workspace.Combinator != "@" {
				t.Errorf("combinator = %q", cfg.Workspace.Combinator)
			}
		})
	}
}
