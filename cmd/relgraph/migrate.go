package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/relgraph/relgraph/internal/cli"
	"github.com/relgraph/relgraph/internal/store/postgres"
)

var migrateDB string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the relgraph schema to the database",
	Long:  `Create relgraph's tuple, hierarchy, and audit-log tables in PostgreSQL.`,
	Example: `  # Apply schema to database
  relgraph migrate --db postgres://localhost/relgraph`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn, err := resolveDSN(migrateDB)
		if err != nil {
			return err
		}
		return runMigrate(dsn)
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateDB, "db", "", "database URL")
}

// The CLI connects through lib/pq rather than the library's own pgx driver
// (internal/store/postgres.Open): either satisfies the narrow Execer
// interface postgres.Migrate and postgres.NewStore expect, and keeping them
// distinct exercises both drivers from the example corpus.
func runMigrate(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return cli.DBConnectError("connecting to database", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return cli.DBConnectError("pinging database", err)
	}

	if !quiet {
		fmt.Println("applying relgraph schema...")
	}

	if err := postgres.Migrate(ctx, db); err != nil {
		return cli.MigrateError("applying schema", err)
	}

	if !quiet {
		fmt.Println("schema applied successfully.")
	}
	return nil
}
