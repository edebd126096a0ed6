package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meikuraledutech/btchat/postgres"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	run := func(fn migrateFunc) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Store.DatabaseURL == "" {
				return errors.New("btchat: store.database_url (DATABASE_URL) is required")
			}
			store, err := postgres.Connect(cmd.Context(), cfg.Store.DatabaseURL)
			if err != nil {
				return err
			}
			defer store.Close()
			return fn(cmd.Context(), cmd, store)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, cmd *cobra.Command, store *postgres.PGStore) error {
				if err := store.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "✓ migrations applied")
				return nil
			}),
		},
		newMigrateDownCommand(run),
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, cmd *cobra.Command, store *postgres.PGStore) error {
				records, err := store.MigrationStatus(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, r := range records {
					state := styleMuted.Render("pending")
					if r.Applied && r.AppliedAt != nil {
						state = styleBot.Render("applied " + r.AppliedAt.Format("2006-01-02 15:04:05"))
					}
					tables := strings.Join(r.Tables, ", ")
					if r.Applied {
						tables += fmt.Sprintf(" (%d rows)", r.Rows)
					}
					fmt.Fprintf(out, "%-28s %-28s %s\n", r.Name, state, styleMuted.Render(tables))
				}
				return nil
			}),
		},
	)
	return cmd
}

type migrateFunc func(ctx context.Context, cmd *cobra.Command, store *postgres.PGStore) error

func newMigrateDownCommand(run func(migrateFunc) func(*cobra.Command, []string) error) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Long: `Roll back the most recent migration.

The rollback is refused while any table it would drop still holds rows,
such as stored sessions and behavior trees. Pass --force to drop them.`,
		Args: cobra.NoArgs,
		RunE: run(func(ctx context.Context, cmd *cobra.Command, store *postgres.PGStore) error {
			if err := store.Rollback(ctx, force); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ rolled back")
			return nil
		}),
	}
	cmd.Flags().BoolVar(&force, "force", false, "drop tables even when they hold data")
	return cmd
}
