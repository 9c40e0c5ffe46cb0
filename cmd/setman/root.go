package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"setman/internal/app"
	"setman/internal/platform/config"
	"setman/internal/platform/logger"
	"setman/internal/platform/postgres"
	"setman/internal/schema"
	"setman/internal/settings/command"
)

type rootOptions struct {
	schemaPath string
	verbosity  int
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "setman",
		Short:         "Inspect and seed runtime settings overrides",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.schemaPath, "schema", "", "settings schema file (defaults to SETMAN_SCHEMA)")
	root.PersistentFlags().IntVarP(&opts.verbosity, "verbosity", "v", 1, "output level, 0 silences output")

	root.AddCommand(newCheckCmd(opts), newStoreDefaultsCmd(opts), newMigrateCmd())
	return root
}

func (o *rootOptions) config() config.Server {
	cfg := config.FromEnv()
	if o.schemaPath != "" {
		cfg.SchemaPath = o.schemaPath
	}
	return cfg
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var defaultValues bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Print the declared settings tree",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.config()
			s, err := schema.Load(cfg.SchemaPath)
			if err != nil {
				return err
			}
			if err := command.Check(cmd.OutOrStdout(), s, opts.verbosity); err != nil {
				return err
			}
			if !defaultValues {
				return nil
			}
			return storeDefaults(cmd.Context(), cmd, cfg, opts.verbosity)
		},
	}
	cmd.Flags().BoolVarP(&defaultValues, "default-values", "d", false, "also store default values in the settings record")
	return cmd
}

func newStoreDefaultsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "store-default-values",
		Short: "Write every schema default into the settings record",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return storeDefaults(cmd.Context(), cmd, opts.config(), opts.verbosity)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromEnv()
			db, err := postgres.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := postgres.Migrate(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied.")
			return nil
		},
	}
}

func storeDefaults(ctx context.Context, cmd *cobra.Command, cfg config.Server, verbosity int) error {
	log := logger.NewWithWriter(cmd.ErrOrStderr(), "text", cfg.LogLevel)
	if verbosity == 0 {
		log = slog.New(slog.DiscardHandler)
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return command.StoreDefaultValues(ctx, cmd.OutOrStdout(), a.Service, verbosity)
}
