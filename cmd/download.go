package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/agentic-research/h5mirror/internal/reader"
)

var (
	downloadStart  int64
	downloadEnd    int64
	downloadRange  string
	downloadOutput string
)

var downloadCmd = &cobra.Command{
	Use:   "download ITEM",
	Short: "Write an item's payload (.npy) to a file or stdout",
	Long: `Write an item's payload to a file or stdout. ITEM is an item ID or a
/path from the store root. --start is inclusive and --end exclusive;
--range takes an HTTP Range value such as "bytes=0-1023".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		assets, err := openAssets()
		if err != nil {
			return err
		}
		rd := &reader.Reader{Store: st, Assets: assets, Open: openSource, Logger: logger}

		item, err := lookup(ctx, st, args[0])
		if err != nil {
			return err
		}

		offset, length := int64(0), int64(-1)
		switch {
		case downloadRange != "":
			size, err := rd.ContentSize(ctx, item.ID)
			if err != nil {
				return err
			}
			if offset, length, err = reader.ParseRange(downloadRange, size); err != nil {
				return err
			}
		case cmd.Flags().Changed("start") || cmd.Flags().Changed("end"):
			var start, end *int64
			if cmd.Flags().Changed("start") {
				start = &downloadStart
			}
			if cmd.Flags().Changed("end") {
				end = &downloadEnd
			}
			size, err := rd.ContentSize(ctx, item.ID)
			if err != nil {
				return err
			}
			if offset, length, err = reader.Window(start, end, size); err != nil {
				return err
			}
		}

		s, err := rd.OpenByteRange(ctx, item.ID, offset, length)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		var n int64
		if downloadOutput != "" && downloadOutput != "-" {
			n, err = writeOutput(outputFs, downloadOutput, s)
		} else {
			n, err = s.WriteTo(cmd.OutOrStdout())
		}
		if err != nil {
			return err
		}
		logger.Sugar().Debugf("wrote %d of %d bytes of %s", n, s.Size(), item.ID)
		return nil
	},
}

// outputFs is where download -o writes.
var outputFs = afero.NewOsFs()

// writeOutput streams s into name. An error from Close is returned when the
// copy itself succeeded.
func writeOutput(fs afero.Fs, name string, s io.WriterTo) (n int64, err error) {
	f, err := fs.Create(name)
	if err != nil {
		return 0, fmt.Errorf("create output: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close output %s: %w", name, cerr)
		}
	}()
	return s.WriteTo(f)
}

func init() {
	downloadCmd.Flags().Int64Var(&downloadStart, "start", 0, "First byte (inclusive)")
	downloadCmd.Flags().Int64Var(&downloadEnd, "end", 0, "Last byte (exclusive)")
	downloadCmd.Flags().StringVar(&downloadRange, "range", "", "HTTP byte range, e.g. bytes=100-199")
	downloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "", "Output file (default stdout)")
	rootCmd.AddCommand(downloadCmd)
}
