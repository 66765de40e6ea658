// Package etcd keeps the snapshot under a single key in etcd so that several
// controllers can share one state document.
package etcd

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/loykin/sharedws/internal/state"
)

// DefaultPrefix is used when the DSN carries no key prefix.
const DefaultPrefix = "/sharedws"

type Backend struct {
	client *clientv3.Client
	key    string
}

// New connects to the given endpoints. The snapshot is stored at
// <prefix>/snapshot.
func New(endpoints []string, prefix string) (*Backend, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("etcd: no endpoints")
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return NewWithClient(cli, prefix), nil
}

// NewWithClient uses an existing client. Close closes it.
func NewWithClient(cli *clientv3.Client, prefix string) *Backend {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultPrefix
	}
	return &Backend{client: cli, key: path.Join("/", prefix, "snapshot")}
}

// Key returns the etcd key holding the snapshot.
func (b *Backend) Key() string { return b.key }

func (b *Backend) Load(ctx context.Context) (*state.Snapshot, error) {
	resp, err := b.client.Get(ctx, b.key)
	if err != nil {
		return nil, fmt.Errorf("etcd: get %s: %w", b.key, err)
	}
	if len(resp.Kvs) == 0 || len(bytes.TrimSpace(resp.Kvs[0].Value)) == 0 {
		return nil, state.ErrNoSnapshot
	}
	return state.Decode(bytes.NewReader(resp.Kvs[0].Value))
}

func (b *Backend) Save(ctx context.Context, s *state.Snapshot) error {
	var buf bytes.Buffer
	if err := state.Encode(&buf, s); err != nil {
		return err
	}
	if _, err := b.client.Put(ctx, b.key, buf.String()); err != nil {
		return fmt.Errorf("etcd: put %s: %w", b.key, err)
	}
	return nil
}

func (b *Backend) Close() error { return b.client.Close() }
