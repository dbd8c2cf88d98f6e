package postgres

import (
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open returns a *sql.DB registered under pgx's database/sql driver. It does
// not verify connectivity; callers should Ping or rely on the first query to
// surface a dial failure.
func Open(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}
