package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"

	"github.com/agentic-research/h5mirror/internal/store"
)

var showQuery string

// entryView is the JSON shape printed by show.
type entryView struct {
	ID       string           `json:"id"`
	ParentID string           `json:"parentId,omitempty"`
	Name     string           `json:"name"`
	Kind     string           `json:"kind"`
	Creator  string           `json:"creator,omitempty"`
	Meta     store.Metadata   `json:"meta,omitempty"`
	Blob     *store.BlobState `json:"blob,omitempty"`
}

var showCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Print an entry, its metadata and its blob as JSON",
	Long: `Print an entry, its metadata and its blob as JSON. ID may also be a
/path from the store root. --query filters the document with a JSONPath
expression, e.g. '$.meta.units'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		e, err := lookup(ctx, st, args[0])
		if err != nil {
			return err
		}
		view := entryView{
			ID:       e.ID,
			ParentID: e.ParentID,
			Name:     e.Name,
			Kind:     e.Kind.String(),
			Creator:  e.Creator,
			Meta:     e.Meta,
		}
		if e.Kind == store.KindItem {
			b, err := st.Blob(ctx, e.ID)
			if err != nil && !errors.Is(err, store.ErrNoBlob) {
				return err
			}
			if b != nil {
				view.Blob = &store.BlobState{
					Mode:               b.Mode.String(),
					Size:               b.Size,
					AssetKey:           b.AssetKey,
					SourceFilePath:     b.SourceFilePath,
					SourceInternalPath: b.SourceInternalPath,
				}
			}
		}

		raw, err := json.Marshal(view)
		if err != nil {
			return err
		}
		doc, err := oj.Parse(raw)
		if err != nil {
			return err
		}
		if showQuery != "" {
			x, err := jp.ParseString(showQuery)
			if err != nil {
				return fmt.Errorf("invalid jsonpath '%s': %w", showQuery, err)
			}
			results := x.Get(doc)
			switch len(results) {
			case 0:
				return fmt.Errorf("%s: no match in %s", showQuery, e.ID)
			case 1:
				doc = results[0]
			default:
				doc = results
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), oj.JSON(doc, &oj.Options{Indent: 2, Sort: true}))
		return nil
	},
}

func init() {
	showCmd.Flags().StringVarP(&showQuery, "query", "q", "", "JSONPath applied to the entry document")
	rootCmd.AddCommand(showCmd)
}
