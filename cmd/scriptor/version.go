package main

import (
	"github.com/spf13/cobra"

	"github.com/scriptorlab/scriptor/internal/api"
	"github.com/scriptorlab/scriptor/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		return api.Output(map[string]string{
			"version":     version.GitRelease,
			"commit":      version.GitCommit,
			"commit_date": version.GitCommitDate,
			"go":          version.GoInfo,
		})
	},
}
