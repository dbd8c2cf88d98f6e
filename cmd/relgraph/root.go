package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relgraph/relgraph/internal/cli"
)

var (
	cfgFile   string
	verbosity int
	quiet     bool
	cfg       *cli.Config
	cfgPath   string
)

const (
	groupDB      = "db"
	groupUtility = "utility"
)

var rootCmd = &cobra.Command{
	Use:   "relgraph",
	Short: "Operate a relgraph permission-graph deployment",
	Long: `relgraph manages the PostgreSQL-backed storage for a relationship-based
access control engine: applying the schema, running health checks, reporting
namespace statistics, and driving the audit-log maintenance scheduler.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, path, err := cli.LoadConfig(cfgFile)
		if err != nil {
			return cli.ConfigError("loading configuration", err)
		}
		cfg = loaded
		cfgPath = path
		if verbosity > 0 && !quiet {
			if cfgPath != "" {
				fmt.Fprintf(os.Stderr, "using config file: %s\n", cfgPath)
			} else {
				fmt.Fprintln(os.Stderr, "no config file found, using defaults and environment")
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to relgraph.yaml (default: search upward from cwd)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase output verbosity")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupDB, Title: "Database Commands:"},
		&cobra.Group{ID: groupUtility, Title: "Utility Commands:"},
	)

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(versionCmd)

	migrateCmd.GroupID = groupDB
	doctorCmd.GroupID = groupDB
	statsCmd.GroupID = groupDB
	scheduleCmd.GroupID = groupDB
	versionCmd.GroupID = groupUtility
}

// Execute runs the root command, exiting the process with an appropriate
// code on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		cli.ExitWithError(err)
	}
}

// resolveString returns the first non-empty value in precedence order:
// flag, config.
func resolveString(flagVal string, configVals ...string) string {
	if flagVal != "" {
		return flagVal
	}
	for _, v := range configVals {
		if v != "" {
			return v
		}
	}
	return ""
}

// resolveBool returns flagVal if set true, else configVal. Cobra bool
// flags default to false, so an explicit --flag always wins; otherwise the
// config value stands.
func resolveBool(flagVal, configVal bool) bool {
	if flagVal {
		return true
	}
	return configVal
}

// resolveDSN resolves the database DSN from flag or config.
func resolveDSN(flagDSN string) (string, error) {
	if flagDSN != "" {
		return flagDSN, nil
	}
	dsn, err := cfg.DSN()
	if err != nil {
		return "", cli.ConfigError("database configuration", err)
	}
	return dsn, nil
}
