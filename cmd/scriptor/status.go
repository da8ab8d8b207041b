package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/scriptorlab/scriptor/internal/api"
	"github.com/scriptorlab/scriptor/internal/calllog"
	"github.com/scriptorlab/scriptor/internal/project"
	"github.com/scriptorlab/scriptor/internal/state"
)

// sourceStatus is the status row reported for one source.
type sourceStatus struct {
	SourceID     string `json:"source_id" yaml:"source_id"`
	Stage        string `json:"stage" yaml:"stage"`
	PagesTotal   int    `json:"pages_total" yaml:"pages_total"`
	PagesDone    int    `json:"pages_done" yaml:"pages_done"`
	PagesFailed  int    `json:"pages_failed" yaml:"pages_failed"`
	PagesFlagged int    `json:"pages_flagged" yaml:"pages_flagged"`
	ChunksTotal  int    `json:"chunks_total" yaml:"chunks_total"`
	ChunksDone   int    `json:"chunks_done" yaml:"chunks_done"`
	V1           bool   `json:"v1" yaml:"v1"`
	V2           bool   `json:"v2" yaml:"v2"`
}

var statusCmd = &cobra.Command{
	Use:   "status [source-id]",
	Short: "Show pipeline progress for all sources or one source",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := openProject()
		if err != nil {
			return err
		}
		store, err := state.NewFileStore(dir.StateDir())
		if err != nil {
			return err
		}

		var sources []string
		if len(args) == 1 {
			sources = args
		} else {
			sources, err = store.List()
			if err != nil {
				return err
			}
		}
		if len(sources) == 0 {
			fmt.Println("no sources found, run 'scriptor run <pdf>' first")
			return nil
		}

		var rows []sourceStatus
		for _, sid := range sources {
			rec, err := store.Load(sid)
			if err != nil {
				return fmt.Errorf("loading %s: %w", sid, err)
			}
			rows = append(rows, statusRow(rec))
		}

		if api.IsStructuredOutput() {
			return api.Output(rows)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Source", "Stage", "Pages", "Failed", "Flagged", "Chunks", "V1", "V2"})
		for _, r := range rows {
			t.AppendRow(table.Row{
				r.SourceID,
				r.Stage,
				fmt.Sprintf("%d/%d", r.PagesDone, r.PagesTotal),
				r.PagesFailed,
				r.PagesFlagged,
				fmt.Sprintf("%d/%d", r.ChunksDone, r.ChunksTotal),
				mark(r.V1),
				mark(r.V2),
			})
		}
		t.Render()

		if len(args) == 1 {
			printCallSummary(cmd.Context(), dir, args[0])
		}
		return nil
	},
}

// printCallSummary appends call-log totals for one source. Best effort:
// a missing or unreadable calls.db is not an error for status.
func printCallSummary(ctx context.Context, dir *project.Dir, sourceID string) {
	log, err := calllog.Open(dir.CallLogPath())
	if err != nil {
		return
	}
	defer log.Close()
	sum, err := log.Summarize(ctx, sourceID)
	if err != nil || sum.Calls == 0 {
		return
	}
	fmt.Printf("calls: %d (%d ok, %d failed, %d stubbed), tokens: %d in / %d out, cost: $%.4f\n",
		sum.Calls, sum.Succeeded, sum.Failed, sum.Stubbed,
		sum.PromptTokens, sum.CompletionTokens, sum.CostUSD)
}

func statusRow(rec *state.Record) sourceStatus {
	row := sourceStatus{
		SourceID:   rec.SourceID,
		Stage:      string(rec.Stage),
		PagesTotal: rec.PagesTotal,
		V1:         rec.V1Path != "",
		V2:         rec.V2Path != "",
	}
	for i := range rec.Pages {
		switch rec.Pages[i].Status {
		case state.StatusSucceeded:
			row.PagesDone++
		case state.StatusFailed:
			row.PagesFailed++
		}
		if rec.Pages[i].Flagged {
			row.PagesFlagged++
		}
	}
	if rec.Normalize != nil {
		row.ChunksTotal = len(rec.Normalize.Chunks)
		for i := range rec.Normalize.Chunks {
			if rec.Normalize.Chunks[i].Status == state.StatusSucceeded {
				row.ChunksDone++
			}
		}
	}
	return row
}

func mark(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}
