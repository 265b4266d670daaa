package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"vibe-apps-miner/internal/adapter/repository"
	"vibe-apps-miner/internal/common"
	"vibe-apps-miner/internal/config"
)

// app carries what every subcommand shares: flags, the loaded configuration
// and a lazily opened store.
type app struct {
	configPath string
	driver     string
	dsn        string
	verbose    bool

	cfg   *config.Config
	store *repository.Store
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "vibe-miner",
		Short:         "Collects applications built with AI app builders into one catalogue.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			slog.SetDefault(common.NewLogger(cmd.ErrOrStderr(), a.verbose))
			return a.loadConfig()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "TOML file overriding the built-in sources and settings")
	flags.StringVar(&a.driver, "driver", "", "database driver: sqlite, postgres or mysql")
	flags.StringVar(&a.dsn, "db", "", "database DSN (sqlite file path or postgres connection string)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log debug output")

	root.AddCommand(
		newIngestCmd(a),
		newEnrichCmd(a),
		newDetectCmd(a),
		newMergeCmd(a),
		newStatsCmd(a),
		newSearchCmd(a),
		newSourcesCmd(a),
	)
	return root
}

func (a *app) loadConfig() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.driver != "" {
		cfg.Database.Driver = a.driver
	}
	if a.dsn != "" {
		cfg.Database.DSN = a.dsn
	}
	a.cfg = cfg
	return nil
}

// openStore connects on first use so commands that never touch the
// database do not need one.
func (a *app) openStore() (*repository.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := repository.Open(a.cfg.Database.Driver, a.cfg.Database.DSN,
		repository.WithAliases(a.cfg.PlatformAliases))
	if err != nil {
		return nil, err
	}
	slog.Debug("database ready", "driver", a.cfg.Database.Driver)
	a.store = store
	return store, nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}
