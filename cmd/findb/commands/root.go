package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"findb/internal/config"
	"findb/internal/logging"
	"findb/pkg/findb"
)

var (
	configPath string
	location   string
	format     string
	passphrase string
	logLevel   string

	db *findb.Instrumented
)

func Execute() error {
	return newRoot().Execute()
}

func newRoot() *cobra.Command {
	configPath, location, format, logLevel = "", "", "", ""
	passphrase = os.Getenv("FINDB_PASSPHRASE")
	db = nil

	root := &cobra.Command{
		Use:          "findb",
		Short:        "Minimal embedded key-value store",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if location != "" {
				cfg.DB.Location = location
			}
			if format != "" {
				cfg.DB.Format = format
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logging.Init(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)

			path := cfg.StoreLocation()
			opts := []findb.Option{findb.WithPassphrase(passphrase)}
			if path != "" {
				if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
					return err
				}
				opts = append(opts, findb.WithFormat(cfg.DB.Format))
			}
			store, err := findb.New(path, opts...)
			if err != nil {
				return fmt.Errorf("opening %s: %w", path, err)
			}
			db = findb.NewInstrumented(store)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.findb/config.toml)")
	root.PersistentFlags().StringVar(&location, "db", "", "database file (overrides config)")
	root.PersistentFlags().StringVar(&format, "format", "", "database format: file, bolt, sqlite or memory (overrides config)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", passphrase, "seal the database file with a passphrase (file format only; env FINDB_PASSPHRASE)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")

	root.AddCommand(
		getCmd(), setCmd(), delCmd(),
		incrCmd(), decrCmd(),
		keysCmd(), dbsizeCmd(), lastsaveCmd(),
		flushdbCmd(), deletedbCmd(),
		shellCmd(),
	)
	return root
}
