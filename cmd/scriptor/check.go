package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/scriptorlab/scriptor/internal/api"
	"github.com/scriptorlab/scriptor/internal/prompts"
	"github.com/scriptorlab/scriptor/internal/providers"
	"github.com/scriptorlab/scriptor/internal/rasterize"
)

// checkResult is one preflight check outcome.
type checkResult struct {
	Name   string `json:"name" yaml:"name"`
	OK     bool   `json:"ok" yaml:"ok"`
	Detail string `json:"detail" yaml:"detail"`
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the project is ready to run",
	Long: `Check verifies everything a run needs up front: the project layout,
configuration, prompt files, the pdftoppm renderer and provider
credentials.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := openProject()
		if err != nil {
			return err
		}

		var results []checkResult
		add := func(name string, err error, okDetail string) {
			r := checkResult{Name: name, OK: err == nil, Detail: okDetail}
			if err != nil {
				r.Detail = err.Error()
			}
			results = append(results, r)
		}

		// A preflight only reports; it never creates the layout.
		var projErr error
		if !dir.Exists() {
			projErr = fmt.Errorf("%s does not exist, create it with 'scriptor config init'", dir.Path())
		}
		add("project directory", projErr, dir.Path())

		mgr, cfgErr := loadConfig(dir)
		detail := "defaults"
		if dir.ConfigExists() {
			detail = dir.ConfigPath()
		}
		add("configuration", cfgErr, detail)

		_, promptErr := prompts.Load(dir.PromptsDir())
		add("prompts", promptErr, dir.PromptsDir())

		add("pdftoppm", rasterize.CheckTool(), "on PATH")

		if cfgErr == nil {
			cfg := mgr.Get()
			registry := providers.NewRegistryFromConfig(cfg.ToProviderRegistryConfig())
			_, provErr := registry.Get(cfg.DefaultProvider)
			add("provider credentials", provErr, cfg.DefaultProvider)
		}

		failed := 0
		for _, r := range results {
			if !r.OK {
				failed++
			}
		}

		if api.IsStructuredOutput() {
			if err := api.Output(results); err != nil {
				return err
			}
		} else {
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Check", "OK", "Detail"})
			for _, r := range results {
				t.AppendRow(table.Row{r.Name, mark(r.OK), r.Detail})
			}
			t.Render()
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d checks failed", failed, len(results))
		}
		return nil
	},
}
