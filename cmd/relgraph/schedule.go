package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/relgraph/relgraph"
	"github.com/relgraph/relgraph/internal/audit"
	"github.com/relgraph/relgraph/internal/cli"
	"github.com/relgraph/relgraph/internal/store/postgres"
)

var (
	scheduleDB              string
	scheduleNamespaces      []string
	schedulePartitionsAhead int
	scheduleRetentionMonths int
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the partition and expiration maintenance scheduler",
	Long: `Run relgraph's background maintenance loop: keep audit-log partitions
created ahead of need, drop ones past retention, and sweep expired tuples
in each configured namespace. Blocks until interrupted.`,
	Example: `  # Run maintenance for two namespaces
  relgraph schedule --db postgres://localhost/relgraph --namespace acme --namespace globex`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(scheduleNamespaces) == 0 {
			return cli.ConfigError("at least one --namespace is required", nil)
		}
		partitionsAhead := schedulePartitionsAhead
		if partitionsAhead == 0 {
			partitionsAhead = cfg.Schedule.PartitionsAhead
		}
		retentionMonths := scheduleRetentionMonths
		if retentionMonths == 0 {
			retentionMonths = cfg.Schedule.RetentionMonths
		}

		dsn, err := resolveDSN(scheduleDB)
		if err != nil {
			return err
		}
		return runSchedule(dsn, scheduleNamespaces, partitionsAhead, retentionMonths)
	},
}

func init() {
	f := scheduleCmd.Flags()
	f.StringVar(&scheduleDB, "db", "", "database URL")
	f.StringArrayVar(&scheduleNamespaces, "namespace", nil, "namespace to sweep for expired tuples (repeatable)")
	f.IntVar(&schedulePartitionsAhead, "partitions-ahead", 0, "months of audit partitions to keep created ahead (default from config)")
	f.IntVar(&scheduleRetentionMonths, "retention-months", 0, "months of audit partitions to retain (default from config)")
}

func runSchedule(dsn string, namespaces []string, partitionsAhead, retentionMonths int) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return cli.DBConnectError("connecting to database", err)
	}
	defer func() { _ = db.Close() }()

	store := postgres.NewStore(db)
	engine := relgraph.NewEngine(store, store,
		relgraph.WithAuditSink(store),
		relgraph.WithLocker(postgres.NewLocker(db)),
	)

	opts := []audit.Option{
		audit.WithPartitionsAhead(partitionsAhead),
		audit.WithRetentionMonths(retentionMonths),
	}
	for _, ns := range namespaces {
		scope, err := relgraph.NewScope(ns)
		if err != nil {
			return cli.GeneralError(fmt.Sprintf("invalid namespace %q", ns), err)
		}
		opts = append(opts, audit.WithCleanup(func(ctx context.Context) (int, error) {
			return engine.CleanupExpired(ctx, scope)
		}))
	}

	scheduler := audit.New(engine, opts...)
	if err := scheduler.Start(); err != nil {
		return cli.GeneralError("starting scheduler", err)
	}

	if !quiet {
		fmt.Printf("scheduler running for namespaces %v (partitions-ahead=%d, retention-months=%d); press ctrl-c to stop\n",
			namespaces, partitionsAhead, retentionMonths)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	if !quiet {
		fmt.Println("stopping scheduler...")
	}
	<-scheduler.Stop().Done()
	return nil
}
