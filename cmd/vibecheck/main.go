// Command vibecheck runs the standup and feedback scheduler.
//
//	vibecheck migrate                 # create tables
//	vibecheck tenant add acme --timezone Europe/Berlin --admin U123
//	vibecheck serve                   # scheduler, monitor and HTTP API
//	vibecheck next --recurrence weekly:5 --time 15:00 --timezone America/New_York
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bonesco/vibe-checker/internal/config"
	"github.com/bonesco/vibe-checker/pkg/storage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app holds what every subcommand shares once flags are parsed.
type app struct {
	configFile string
	envFiles   []string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "vibecheck",
		Short:         "Timezone-aware standup and feedback prompts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configFile, a.envFiles...)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = cfg.Log.NewLogger(cmd.ErrOrStderr())
			slog.SetDefault(a.logger)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (yaml, toml or json)")
	root.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", nil, "env files to load (default .env)")

	root.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newTenantCmd(a),
		newNextCmd(a),
	)
	return root
}

// openStore opens and migrates the configured database.
func (a *app) openStore(cmd *cobra.Command) (*storage.GormStorage, error) {
	var opts []storage.PoolOption
	if a.cfg.Database.MaxOpenConns > 0 {
		opts = append(opts, storage.MaxOpenConns(a.cfg.Database.MaxOpenConns))
	}
	store, err := storage.Open(a.cfg.Database.URL, storage.ParseLogLevel(a.cfg.Database.LogLevel), opts...)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(cmd.Context()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}
