package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentic-research/h5mirror/api"
	"github.com/agentic-research/h5mirror/internal/assetstore"
	"github.com/agentic-research/h5mirror/internal/logging"
	"github.com/agentic-research/h5mirror/internal/source"
	"github.com/agentic-research/h5mirror/internal/store"
)

var (
	configPath string
	logLevel   string
	dbPath     string
	assetsDir  string

	// conf and logger are set up before every command runs.
	conf   api.Config
	logger = zap.NewNop()

	// openSource opens source files for import and reference reads.
	openSource source.Opener = source.OpenHDF5
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to an HCL config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", logging.LevelInfo, "Log level: debug, info, warn, error or none")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Destination SQLite store (default from config, else h5mirror.db)")
	rootCmd.PersistentFlags().StringVar(&assetsDir, "assets", "", "Directory for materialized payloads (default from config, else h5mirror-assets)")
}

var rootCmd = &cobra.Command{
	Use:           "h5mirror",
	Short:         "Mirror HDF5 files into a browsable content store",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c := api.DefaultConfig()
		if configPath != "" {
			var err error
			if c, err = api.LoadConfig(configPath); err != nil {
				return err
			}
		}
		flags := cmd.Flags()
		if flags.Changed("log-level") || c.LogLevel == "" {
			c.LogLevel = logLevel
		}
		if flags.Changed("db") {
			c.Store = dbPath
		}
		if flags.Changed("assets") {
			c.Assets = assetsDir
		}
		l, err := logging.New(c.LogLevel)
		if err != nil {
			return fmt.Errorf("log level %q: %w", c.LogLevel, err)
		}
		conf, logger = c, l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync() // ignore error
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore() (*store.SQLiteStore, error) {
	st, err := store.OpenSQLite(conf.Store)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", conf.Store, err)
	}
	return st, nil
}

func openAssets() (*assetstore.Store, error) {
	return assetstore.NewOs(conf.Assets)
}

// lookup accepts an entry ID or a slash path from the store root.
func lookup(ctx context.Context, st store.Store, ref string) (*store.Entry, error) {
	if ref == "" {
		return st.Get(ctx, store.RootID)
	}
	if strings.HasPrefix(ref, "/") {
		return store.Resolve(ctx, st, store.RootID, ref)
	}
	return st.Get(ctx, ref)
}
