package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/celerix-dev/celerix-enrich/internal/config"
	"github.com/celerix-dev/celerix-enrich/internal/engine"
	"github.com/celerix-dev/celerix-enrich/internal/review"
	"github.com/celerix-dev/celerix-enrich/internal/triage"
	"github.com/celerix-dev/celerix-enrich/internal/tui"
	"github.com/celerix-dev/celerix-enrich/internal/vault"
	"github.com/celerix-dev/celerix-enrich/pkg/resolution"
	"github.com/celerix-dev/celerix-enrich/pkg/schema"
	"github.com/celerix-dev/celerix-enrich/pkg/sdk"
)

func newStatsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count completed records missing each triage field",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := c.app.Triage.Stats(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(triage.Fields))
			for _, f := range triage.Fields {
				rows = append(rows, []string{string(f), strconv.Itoa(stats.Missing[f])})
			}
			rows = append(rows, []string{"total", strconv.Itoa(stats.Total)})
			return printOutput(cmd.OutOrStdout(), c.format, stats, []string{"FIELD", "MISSING"}, rows)
		},
	}
}

func recordRows(c *cli, rec schema.Record) [][]string {
	return [][]string{
		{"profile_id", rec.ProfileID},
		{"email", rec.Email},
		{"name", rec.Firstname + " " + rec.Lastname},
		{"city", rec.City},
		{"job", rec.JobTitle + " at " + rec.Company},
		{"linkedin_url", rec.LinkedinURL},
		{"bio", truncate(rec.Bio, 60)},
		{"status", rec.Status},
		{"tier", string(c.app.Rules.ClassifyStatus(rec))},
	}
}

func newNextCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "next <field>",
		Short: "Show the next completed record missing a field",
		Long:  "Fields: profile_pic, lastname, city, linkedin_url, bio.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			field, err := triage.ParseField(args[0])
			if err != nil {
				return err
			}
			rec, err := c.app.Triage.Next(cmd.Context(), field)
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), c.format, rec, nil, recordRows(c, rec))
		},
	}
}

func newFixCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "fix <email> <field> <value>",
		Short: "Write one missing field and log the fix",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			field, err := triage.ParseField(args[1])
			if err != nil {
				return err
			}
			if err := c.app.Triage.ApplyFix(cmd.Context(), c.op(), args[0], field, args[2]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Fixed %s for %s\n", field, args[0])
			return nil
		},
	}
}

func newReviewCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "review <user-id>",
		Short: "Review the resolved and failed profiles of one user's network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := review.Load(cmd.Context(), c.app.Review, c.op(), args[0])
			if err != nil {
				return err
			}
			return tui.Run(cmd.Context(), s)
		},
	}
}

func newOverviewCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "overview",
		Short: "Show resolution tiers over completed and failed records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ov, err := c.app.Insights.Overview(cmd.Context())
			if err != nil {
				return err
			}
			var rows [][]string
			for _, t := range []resolution.Tier{resolution.TierFully, resolution.TierPartially, resolution.TierFailed} {
				rows = append(rows, []string{string(t), strconv.Itoa(ov.Counts.Get(t)), fmt.Sprintf("%.1f%%", ov.Percent[t])})
			}
			rows = append(rows, []string{"total", strconv.Itoa(ov.Counts.Total), ""})
			return printOutput(cmd.OutOrStdout(), c.format, ov, []string{"TIER", "COUNT", "PERCENT"}, rows)
		},
	}
}

func newLeaderboardCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard",
		Short: "Rank operators by logged actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			board, err := c.app.Insights.Leaderboard(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(board))
			for i, e := range board {
				rows = append(rows, []string{strconv.Itoa(i + 1), e.Name, strconv.Itoa(e.Actions), e.LastActive.Format(time.DateTime)})
			}
			return printOutput(cmd.OutOrStdout(), c.format, board, []string{"RANK", "OPERATOR", "ACTIONS", "LAST ACTIVE"}, rows)
		},
	}
}

func newSearchCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Find records by email, LinkedIn URL or first name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := c.app.Records.Search(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if recs == nil {
				recs = []schema.Record{}
			}
			rows := make([][]string, 0, len(recs))
			for _, r := range recs {
				rows = append(rows, []string{r.Email, r.Firstname + " " + r.Lastname, r.Status, string(c.app.Rules.ClassifyStatus(r))})
			}
			return printOutput(cmd.OutOrStdout(), c.format, recs, []string{"EMAIL", "NAME", "STATUS", "TIER"}, rows)
		},
	}
}

func newRerunCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "rerun <email>",
		Short: "Send a record back to the enrichment pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.Records.Rerun(cmd.Context(), c.op(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Re-run requested for %s\n", args[0])
			return nil
		},
	}
}

func newMigrateCmd(c *cli) *cobra.Command {
	var to struct {
		driver  string
		dsn     string
		dataDir string
		addr    string
	}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy every record, user, connection and log entry into another store",
		Example: `  enrichctl migrate --store-data-dir ./data --to-driver sqlite --to-dsn enrich.db
  enrichctl migrate --store-driver sqlite --store-dsn enrich.db --to-driver remote --to-addr enrichd:7001`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dstCfg := *c.cfg
			dstCfg.Store.Driver = to.driver
			dstCfg.Store.DSN = to.dsn
			dstCfg.Store.DataDir = to.dataDir
			dstCfg.Store.Addr = to.addr
			if err := dstCfg.Validate(); err != nil {
				return fmt.Errorf("destination: %w", err)
			}

			dst, err := sdk.New(cmd.Context(), &dstCfg, c.app.Logger)
			if err != nil {
				return fmt.Errorf("open destination: %w", err)
			}
			if err := engine.Migrate(cmd.Context(), c.app.Store, dst); err != nil {
				dst.Close()
				return err
			}
			if err := dst.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrated %s store into %s store\n", c.cfg.Store.Driver, to.driver)
			return nil
		},
	}
	cmd.Flags().StringVar(&to.driver, "to-driver", config.DriverSQLite, "Destination driver: memory, sqlite, postgres or remote")
	cmd.Flags().StringVar(&to.dsn, "to-dsn", "", "Destination DSN for sqlite or postgres")
	cmd.Flags().StringVar(&to.dataDir, "to-data-dir", "./data", "Destination directory for the memory store")
	cmd.Flags().StringVar(&to.addr, "to-addr", "", "Destination enrichd address for the remote driver")
	return cmd
}

func newSealCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:         "seal <secret>",
		Short:       "Encrypt a secret with the master key for use in a config file",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{noStore: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := c.cfg.Key()
			if err != nil {
				return err
			}
			if key == nil {
				return vault.ErrNoKey
			}
			sealed, err := vault.Seal(args[0], key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}
}
