// Package main provides enrichctl, the operator CLI. It works on an embedded
// store or, with --store-driver=remote, on a running enrichd.
package main

import (
	"context"
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/celerix-dev/celerix-enrich/internal/app"
	"github.com/celerix-dev/celerix-enrich/internal/config"
	"github.com/celerix-dev/celerix-enrich/pkg/schema"
)

var version = "dev"

// cli holds what every subcommand shares.
type cli struct {
	configFile string
	output     string
	operator   string

	cfg    *config.Config
	format outputFormat
	app    *app.App
}

// noStore marks commands that run without opening the store.
const noStore = "no-store"

func (c *cli) op() schema.Operator {
	return schema.Operator{Name: c.operator}
}

func defaultOperator() string {
	if name := os.Getenv("ENRICH_OPERATOR"); name != "" {
		return name
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

func newRootCmd(c *cli) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "enrichctl",
		Short: "Triage and review enrichment records",
		Long: `enrichctl is the operator CLI for enrichment records.

It reports resolution statistics, walks the triage queue field by field,
runs the interactive review of one user's network, and migrates data
between stores. By default it opens the embedded store in --store-data-dir;
use --store-driver=remote --store-addr=host:7001 to work against enrichd.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(c.output)
			if err != nil {
				return err
			}
			c.format = format

			cfg, err := config.Load(c.configFile, cmd.Flags())
			if err != nil {
				return err
			}
			c.cfg = cfg
			if cmd.Annotations[noStore] != "" {
				return nil
			}

			logger, err := cfg.Logger()
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.app == nil {
				return nil
			}
			return c.app.Close()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&c.configFile, "config", "", "Path to a YAML config file")
	pf.StringVarP(&c.output, "output", "o", "table", "Output format: table, json, yaml")
	pf.StringVar(&c.operator, "operator", defaultOperator(), "Operator name written to the action log")
	pf.String("store-driver", config.DriverMemory, "Store backend: memory, sqlite, postgres or remote")
	pf.String("store-addr", "", "enrichd TCP address for the remote driver")
	pf.String("store-dsn", "", "Database DSN for sqlite or postgres")
	pf.String("store-data-dir", "./data", "Snapshot directory for the memory store")
	pf.Bool("tls-enabled", false, "Dial enrichd with TLS")
	pf.String("cache-driver", "memory", "View cache: memory, redis or none")
	pf.String("log-level", "info", "Log level")

	rootCmd.AddCommand(newStatsCmd(c))
	rootCmd.AddCommand(newNextCmd(c))
	rootCmd.AddCommand(newFixCmd(c))
	rootCmd.AddCommand(newReviewCmd(c))
	rootCmd.AddCommand(newOverviewCmd(c))
	rootCmd.AddCommand(newLeaderboardCmd(c))
	rootCmd.AddCommand(newSearchCmd(c))
	rootCmd.AddCommand(newRerunCmd(c))
	rootCmd.AddCommand(newMigrateCmd(c))
	rootCmd.AddCommand(newSealCmd(c))
	return rootCmd
}

func main() {
	if err := newRootCmd(&cli{}).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
