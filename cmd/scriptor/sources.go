package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/scriptorlab/scriptor/internal/api"
	"github.com/scriptorlab/scriptor/internal/state"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List known source documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := openProject()
		if err != nil {
			return err
		}
		store, err := state.NewFileStore(dir.StateDir())
		if err != nil {
			return err
		}
		sources, err := store.List()
		if err != nil {
			return err
		}

		type row struct {
			SourceID string `json:"source_id" yaml:"source_id"`
			PDFPath  string `json:"pdf_path" yaml:"pdf_path"`
			Language string `json:"language" yaml:"language"`
			Stage    string `json:"stage" yaml:"stage"`
			Pages    int    `json:"pages" yaml:"pages"`
		}
		var rows []row
		for _, sid := range sources {
			rec, err := store.Load(sid)
			if err != nil {
				return fmt.Errorf("loading %s: %w", sid, err)
			}
			rows = append(rows, row{
				SourceID: rec.SourceID,
				PDFPath:  rec.PDFPath,
				Language: rec.Language,
				Stage:    string(rec.Stage),
				Pages:    rec.PagesTotal,
			})
		}

		if api.IsStructuredOutput() {
			return api.Output(rows)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Source", "PDF", "Language", "Stage", "Pages"})
		for _, r := range rows {
			t.AppendRow(table.Row{r.SourceID, r.PDFPath, r.Language, r.Stage, r.Pages})
		}
		t.Render()
		return nil
	},
}
