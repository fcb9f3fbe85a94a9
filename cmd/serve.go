package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentic-research/h5mirror/internal/nfsmount"
	"github.com/agentic-research/h5mirror/internal/reader"
)

var (
	serveFolder string
	serveAddr   string
	serveMount  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Export the mirrored tree read-only over NFSv3",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		assets, err := openAssets()
		if err != nil {
			return err
		}
		folder, err := lookup(ctx, st, serveFolder)
		if err != nil {
			return err
		}

		rd := &reader.Reader{Store: st, Assets: assets, Open: openSource, Logger: logger}
		srv, err := nfsmount.NewServer(nfsmount.NewStoreFS(ctx, rd, folder.ID), serveAddr, logger)
		if err != nil {
			return err
		}
		defer func() { _ = srv.Close() }()
		fmt.Fprintf(cmd.OutOrStdout(), "Serving %s on port %d\n", folder.ID, srv.Port())

		if serveMount != "" {
			if err := nfsmount.Mount(srv.Port(), serveMount); err != nil {
				return err
			}
			defer func() {
				if err := nfsmount.Unmount(serveMount); err != nil {
					logger.Warn("unmount", zap.String("mountpoint", serveMount), zap.Error(err))
				}
			}()
			fmt.Fprintf(cmd.OutOrStdout(), "Mounted at %s\n", serveMount)
		}

		select {
		case <-ctx.Done():
			return nil
		case err := <-srv.Done():
			return err
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveFolder, "folder", "", "Folder ID or /path to export (default: store root)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: ephemeral localhost port)")
	serveCmd.Flags().StringVar(&serveMount, "mount", "", "Also mount the export at this directory (needs sudo)")
	rootCmd.AddCommand(serveCmd)
}
