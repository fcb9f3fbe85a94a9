package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentic-research/h5mirror/internal/store"
)

var lsJSON bool

var lsCmd = &cobra.Command{
	Use:   "ls [FOLDER]",
	Short: "Print the mirrored tree below a folder",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		ref := ""
		if len(args) == 1 {
			ref = args[0]
		}
		folder, err := lookup(ctx, st, ref)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if lsJSON {
			snap, err := store.Snapshot(ctx, st, folder.ID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}
		return store.Walk(ctx, st, folder.ID, func(p string, e *store.Entry) error {
			if p == "/" {
				fmt.Fprintf(out, "%s/\n", e.Name)
				return nil
			}
			depth := strings.Count(p, "/")
			name := e.Name
			if e.Kind == store.KindFolder {
				name += "/"
			}
			fmt.Fprintf(out, "%s%s\t%s\n", strings.Repeat("  ", depth), name, e.ID)
			return nil
		})
	},
}

func init() {
	lsCmd.Flags().BoolVar(&lsJSON, "json", false, "Print a JSON snapshot instead of a tree")
	rootCmd.AddCommand(lsCmd)
}
