// Package sqlstate stores a state.Snapshot in four relational tables.
// It is shared by the sqlite and postgres backends, which differ only in
// driver and placeholder syntax.
package sqlstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/loykin/sharedws/internal/state"
)

// Dialect captures the syntax differences between supported databases.
type Dialect struct {
	Name string
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder func(n int) string
}

var (
	SQLite = Dialect{
		Name:        "sqlite",
		Placeholder: func(int) string { return "?" },
	}
	Postgres = Dialect{
		Name:        "postgres",
		Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	}
)

// DefaultTablePrefix is prepended to every table name.
const DefaultTablePrefix = "sharedws_"

// Backend implements state.Backend over database/sql.
type Backend struct {
	db     *sql.DB
	d      Dialect
	prefix string

	schemaMu sync.Mutex
	schemaOK bool
}

// New wraps an open database. The schema is created by EnsureSchema or on
// first Load/Save, so no connection is made here.
func New(db *sql.DB, d Dialect, tablePrefix string) *Backend {
	if tablePrefix == "" {
		tablePrefix = DefaultTablePrefix
	}
	return &Backend{db: db, d: d, prefix: tablePrefix}
}

func (b *Backend) table(name string) string { return b.prefix + name }

// EnsureSchema creates the tables if they do not exist.
// Timestamps are stored as unix nanoseconds to stay driver independent.
func (b *Backend) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + b.table("meta") + `(
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL,
			saved_at BIGINT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ` + b.table("allocations") + `(
			path TEXT PRIMARY KEY,
			owner TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS ` + b.table("last_used") + `(
			path TEXT PRIMARY KEY,
			released_at BIGINT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ` + b.table("projects") + `(
			project TEXT PRIMARY KEY,
			workspace TEXT NOT NULL
		);`,
	}
	b.schemaMu.Lock()
	defer b.schemaMu.Unlock()
	if b.schemaOK {
		return nil
	}
	for _, q := range stmts {
		if _, err := b.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%s: ensure schema: %w", b.d.Name, err)
		}
	}
	b.schemaOK = true
	return nil
}

func (b *Backend) Load(ctx context.Context) (*state.Snapshot, error) {
	if err := b.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	snap := state.New()
	var savedAt int64
	err := b.db.QueryRowContext(ctx,
		`SELECT version, saved_at FROM `+b.table("meta")+` WHERE id = 1;`).
		Scan(&snap.Version, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, state.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("%s: read meta: %w", b.d.Name, err)
	}
	snap.SavedAt = time.Unix(0, savedAt).UTC()

	rows, err := b.db.QueryContext(ctx, `SELECT path, owner FROM `+b.table("allocations")+` ORDER BY path;`)
	if err != nil {
		return nil, fmt.Errorf("%s: read allocations: %w", b.d.Name, err)
	}
	for rows.Next() {
		var a state.Allocation
		if err := rows.Scan(&a.Path, &a.Owner); err != nil {
			_ = rows.Close()
			return nil, err
		}
		snap.Allocations = append(snap.Allocations, a)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = b.db.QueryContext(ctx, `SELECT path, released_at FROM `+b.table("last_used")+`;`)
	if err != nil {
		return nil, fmt.Errorf("%s: read last used: %w", b.d.Name, err)
	}
	for rows.Next() {
		var p string
		var ns int64
		if err := rows.Scan(&p, &ns); err != nil {
			_ = rows.Close()
			return nil, err
		}
		snap.LastUsed[p] = time.Unix(0, ns).UTC()
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = b.db.QueryContext(ctx, `SELECT project, workspace FROM `+b.table("projects")+`;`)
	if err != nil {
		return nil, fmt.Errorf("%s: read projects: %w", b.d.Name, err)
	}
	for rows.Next() {
		var p, w string
		if err := rows.Scan(&p, &w); err != nil {
			_ = rows.Close()
			return nil, err
		}
		snap.Projects[p] = w
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return snap, nil
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	return err
}

// Save replaces all stored rows in a single transaction.
func (b *Backend) Save(ctx context.Context, s *state.Snapshot) (err error) {
	if err = b.EnsureSchema(ctx); err != nil {
		return err
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", b.d.Name, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, t := range []string{"meta", "allocations", "last_used", "projects"} {
		if _, err = tx.ExecContext(ctx, `DELETE FROM `+b.table(t)+`;`); err != nil {
			return fmt.Errorf("%s: clear %s: %w", b.d.Name, t, err)
		}
	}
	p := b.d.Placeholder
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO `+b.table("meta")+`(id, version, saved_at) VALUES(1, `+p(1)+`, `+p(2)+`);`,
		s.Version, s.SavedAt.UnixNano()); err != nil {
		return fmt.Errorf("%s: write meta: %w", b.d.Name, err)
	}
	for _, a := range s.Allocations {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO `+b.table("allocations")+`(path, owner) VALUES(`+p(1)+`, `+p(2)+`);`,
			a.Path, a.Owner); err != nil {
			return fmt.Errorf("%s: write allocation %s: %w", b.d.Name, a.Path, err)
		}
	}
	for path, t := range s.LastUsed {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO `+b.table("last_used")+`(path, released_at) VALUES(`+p(1)+`, `+p(2)+`);`,
			path, t.UnixNano()); err != nil {
			return fmt.Errorf("%s: write last used %s: %w", b.d.Name, path, err)
		}
	}
	for project, ws := range s.Projects {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO `+b.table("projects")+`(project, workspace) VALUES(`+p(1)+`, `+p(2)+`);`,
			project, ws); err != nil {
			return fmt.Errorf("%s: write project %s: %w", b.d.Name, project, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", b.d.Name, err)
	}
	return nil
}

func (b *Backend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
