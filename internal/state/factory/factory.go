package factory

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/loykin/sharedws/internal/state"
	"github.com/loykin/sharedws/internal/state/etcd"
	pg "github.com/loykin/sharedws/internal/state/postgres"
	sq "github.com/loykin/sharedws/internal/state/sqlite"
)

// NewFromDSN selects a state backend based on DSN.
// Supported:
//   - memory:   "memory://"
//   - file:     "file:///<path>" or a bare path not ending in a sqlite extension
//   - sqlite:   "sqlite://<path>" or a bare path ending in .db, .sqlite or .sqlite3
//   - postgres: DSN starting with "postgres://" or "postgresql://"
//   - etcd:     "etcd://host:port[,host:port...][/prefix]"
func NewFromDSN(dsn string) (state.Backend, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	switch {
	case strings.HasPrefix(ld, "memory://"):
		return state.NewMemoryBackend(), nil
	case strings.HasPrefix(ld, "postgres://"), strings.HasPrefix(ld, "postgresql://"):
		return pg.New(d)
	case strings.HasPrefix(ld, "sqlite://"):
		return sq.New(d[len("sqlite://"):])
	case strings.HasPrefix(ld, "file://"):
		p := d[len("file://"):]
		if p == "" {
			return nil, errors.New("empty file path")
		}
		return state.NewFileBackend(p), nil
	case strings.HasPrefix(ld, "etcd://"):
		endpoints, prefix, err := parseEtcd(d[len("etcd://"):])
		if err != nil {
			return nil, err
		}
		return etcd.New(endpoints, prefix)
	case strings.Contains(ld, "://"):
		return nil, fmt.Errorf("unsupported state DSN scheme: %s", d)
	}
	switch strings.ToLower(filepath.Ext(d)) {
	case ".db", ".sqlite", ".sqlite3":
		return sq.New(d)
	}
	return state.NewFileBackend(d), nil
}

func parseEtcd(rest string) ([]string, string, error) {
	hosts, prefix, _ := strings.Cut(rest, "/")
	var endpoints []string
	for _, h := range strings.Split(hosts, ",") {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		endpoints = append(endpoints, "http://"+h)
	}
	if len(endpoints) == 0 {
		return nil, "", errors.New("etcd DSN has no endpoints")
	}
	if prefix != "" {
		p, err := url.PathUnescape(prefix)
		if err != nil {
			return nil, "", fmt.Errorf("invalid etcd prefix: %w", err)
		}
		prefix = p
	}
	return endpoints, prefix, nil
}
