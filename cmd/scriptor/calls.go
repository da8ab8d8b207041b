package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/scriptorlab/scriptor/internal/api"
	"github.com/scriptorlab/scriptor/internal/calllog"
)

var (
	callsSource string
	callsLimit  int
)

var callsCmd = &cobra.Command{
	Use:   "calls [source-id]",
	Short: "Show the model call log",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			callsSource = args[0]
		}
		dir, err := openProject()
		if err != nil {
			return err
		}
		log, err := calllog.Open(dir.CallLogPath())
		if err != nil {
			return err
		}
		defer log.Close()

		ctx := cmd.Context()
		var entries []calllog.Entry
		if callsSource != "" {
			entries, err = log.ListBySource(ctx, callsSource)
		} else {
			entries, err = log.List(ctx, callsLimit)
		}
		if err != nil {
			return err
		}

		summary, err := log.Summarize(ctx, callsSource)
		if err != nil {
			return err
		}

		if api.IsStructuredOutput() {
			return api.Output(map[string]any{
				"calls":   entries,
				"summary": summary,
			})
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Time", "Source", "Phase", "Unit", "Provider", "Model", "Mode", "Latency", "Tokens", "OK"})
		for _, e := range entries {
			ok := "yes"
			if !e.Success {
				ok = "no"
			}
			t.AppendRow(table.Row{
				e.CreatedAt.Format("01-02 15:04:05"),
				e.SourceID,
				e.Phase,
				e.Unit,
				e.Provider,
				e.Model,
				e.Mode,
				e.Latency.Round(time.Millisecond),
				e.PromptTokens + e.CompletionTokens,
				ok,
			})
		}
		t.Render()

		fmt.Printf("\n%d calls: %d ok, %d failed, %d stubbed, %d prompt + %d completion tokens, $%.4f\n",
			summary.Calls, summary.Succeeded, summary.Failed, summary.Stubbed,
			summary.PromptTokens, summary.CompletionTokens, summary.CostUSD)
		return nil
	},
}

func init() {
	callsCmd.Flags().StringVar(&callsSource, "source", "", "restrict to one source id")
	callsCmd.Flags().IntVar(&callsLimit, "limit", 50, "maximum entries to show (0 = all)")
}
