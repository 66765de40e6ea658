package sqlite

import (
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/sharedws/internal/state/sqlstate"
)

// New opens a SQLite database at path. Tables are created on first use.
// Use ":memory:" for an in-memory database.
func New(path string) (*sqlstate.Backend, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// an in-memory database exists per connection
	if p == ":memory:" {
		d.SetMaxOpenConns(1)
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return sqlstate.New(d, sqlstate.SQLite, ""), nil
}
