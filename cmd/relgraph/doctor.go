package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/relgraph/relgraph"
	"github.com/relgraph/relgraph/internal/cli"
	"github.com/relgraph/relgraph/internal/store/postgres"
)

var (
	doctorDB        string
	doctorNamespace string
	doctorVerbose   bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks against a namespace",
	Long:  `Scan a namespace's group-membership and resource-parent tuples for cycles and print its statistics. Hierarchy rules are counted, not scanned.`,
	Example: `  # Run health checks against the "acme" namespace
  relgraph doctor --db postgres://localhost/relgraph --namespace acme`,
	RunE: func(cmd *cobra.Command, args []string) error {
		namespace := resolveString(doctorNamespace)
		if namespace == "" {
			return cli.ConfigError("--namespace is required", nil)
		}
		verbose := resolveBool(doctorVerbose, cfg.Doctor.Verbose)

		dsn, err := resolveDSN(doctorDB)
		if err != nil {
			return err
		}
		return runDoctor(dsn, namespace, verbose)
	},
}

func init() {
	f := doctorCmd.Flags()
	f.StringVar(&doctorDB, "db", "", "database URL")
	f.StringVar(&doctorNamespace, "namespace", "", "namespace to check (required)")
	f.BoolVar(&doctorVerbose, "verbose", false, "show per-warning detail")
}

func runDoctor(dsn, namespace string, verbose bool) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return cli.DBConnectError("connecting to database", err)
	}
	defer func() { _ = db.Close() }()

	store := postgres.NewStore(db)
	engine := relgraph.NewEngine(store, store, relgraph.WithAuditSink(store), relgraph.WithLocker(postgres.NewLocker(db)))

	scope, err := relgraph.NewScope(namespace)
	if err != nil {
		return cli.GeneralError("invalid namespace", err)
	}

	ctx := context.Background()

	if !quiet {
		fmt.Println("relgraph doctor - health check")
	}

	warnings, err := engine.VerifyIntegrity(ctx, scope)
	if err != nil {
		return cli.GeneralError("running integrity checks", err)
	}

	stats, err := engine.GetStats(ctx, scope)
	if err != nil {
		return cli.GeneralError("fetching stats", err)
	}

	fmt.Printf("namespace %q: %d tuples, %d hierarchy rules, %d distinct subjects, %d distinct resources\n",
		namespace, stats.TupleCount, stats.HierarchyCount, stats.DistinctSubjects, stats.DistinctResources)

	if len(warnings) == 0 {
		fmt.Println("no integrity problems found.")
		return nil
	}

	for _, w := range warnings {
		fmt.Printf("WARNING [%s]: %d affected\n", w.Kind, len(w.Details))
		if verbose {
			for _, d := range w.Details {
				fmt.Printf("  - %s\n", d)
			}
		}
	}

	return cli.GeneralError(fmt.Sprintf("%d integrity warning(s) found", len(warnings)), nil)
}
