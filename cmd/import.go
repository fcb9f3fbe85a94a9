package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentic-research/h5mirror/internal/assetstore"
	"github.com/agentic-research/h5mirror/internal/lock"
	"github.com/agentic-research/h5mirror/internal/mirror"
	"github.com/agentic-research/h5mirror/internal/progress"
)

var (
	importFolder          string
	importEager           bool
	importProgress        bool
	importContinueOnError bool
	importActor           string
	importBaseDir         string
)

var importCmd = &cobra.Command{
	Use:   "import SOURCE",
	Short: "Mirror the groups and datasets of an HDF5 file into the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cmd.Flags().Changed("eager") {
			conf.Eager = importEager
		}
		if cmd.Flags().Changed("actor") {
			conf.Actor = importActor
		}
		if cmd.Flags().Changed("base-dir") {
			conf.BaseDir = importBaseDir
		}

		lk, err := lock.TryAcquire(conf.Store + ".lock")
		if err != nil {
			return err
		}
		defer func() { _ = lk.Release() }()

		st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		var assets *assetstore.Store
		if conf.Eager {
			if assets, err = openAssets(); err != nil {
				return err
			}
		}

		folder, err := lookup(ctx, st, importFolder)
		if err != nil {
			return fmt.Errorf("destination folder %q: %w", importFolder, err)
		}

		var sink progress.Sink = progress.Nop{}
		if importProgress {
			sink = progress.Log{Logger: logger, Title: "importing"}
		}
		counter := &progress.Counting{Next: sink}

		rep, err := mirror.Import(ctx, mirror.Config{
			Destination: mirror.Destination{
				Store:  st,
				Assets: assets,
				RootID: folder.ID,
				Actor:  conf.Actor,
				Eager:  conf.Eager,
			},
			SourcePath:      args[0],
			BaseDir:         conf.BaseDir,
			Progress:        counter,
			Open:            openSource,
			Logger:          logger,
			ContinueOnError: importContinueOnError,
		})
		if rep != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %s: %d groups, %d datasets, %d skipped, %d attributes dropped, %d nodes visited in %v.\n",
				rep.SourcePath, rep.Groups, rep.Datasets, rep.Skipped, rep.DroppedAttributes, counter.Count(), rep.Elapsed)
		}
		return err
	},
}

func init() {
	importCmd.Flags().StringVar(&importFolder, "folder", "", "Destination folder ID or /path (default: store root)")
	importCmd.Flags().BoolVar(&importEager, "eager", false, "Serialize dataset payloads into the asset store now")
	importCmd.Flags().BoolVar(&importProgress, "progress", false, "Log every visited node")
	importCmd.Flags().BoolVar(&importContinueOnError, "continue-on-error", false, "Skip failing subtrees instead of aborting")
	importCmd.Flags().StringVar(&importActor, "actor", "", "Creator recorded on new entries")
	importCmd.Flags().StringVar(&importBaseDir, "base-dir", "", "Directory relative SOURCE paths are resolved against")
	rootCmd.AddCommand(importCmd)
}
