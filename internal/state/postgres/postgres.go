package postgres

import (
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/sharedws/internal/state/sqlstate"
)

// New returns a backend on PostgreSQL through the pgx stdlib driver.
// The connection is established lazily by the first Load or Save.
func New(dsn string) (*sqlstate.Backend, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return sqlstate.New(d, sqlstate.Postgres, ""), nil
}
