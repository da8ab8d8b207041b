package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/scriptorlab/scriptor/internal/api"
	"github.com/scriptorlab/scriptor/internal/config"
	"github.com/scriptorlab/scriptor/internal/project"
	"github.com/scriptorlab/scriptor/version"
)

var (
	cfgFile      string
	projectRoot  string
	outputFormat string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "scriptor",
	Short: "Agentive transcription pipeline for manuscript PDFs",
	Long: `Scriptor converts manuscript PDFs into page images, drives a
per-page diplomatic transcription against a vision model, then runs a
chunked normalization pass over the assembled text.

All progress is persisted per source, so an interrupted run resumes
exactly where it stopped, and every model call is logged.`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: <project-root>/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&projectRoot, "project-root", "project", "project directory holding state and artifacts",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "table", "output format: table, yaml or json",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false, "enable debug logging",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
		slog.SetDefault(newLogger())
	}

	rootCmd.AddCommand(
		runCmd,
		statusCmd,
		sourcesCmd,
		requeueCmd,
		unlockCmd,
		callsCmd,
		checkCmd,
		configCmd,
		versionCmd,
	)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openProject resolves the project directory from flags.
func openProject() (*project.Dir, error) {
	return project.New(projectRoot)
}

// loadConfig loads configuration, preferring an explicit --config file
// over the project's config.yaml.
func loadConfig(dir *project.Dir) (*config.Manager, error) {
	path := cfgFile
	if path == "" && dir.ConfigExists() {
		path = dir.ConfigPath()
	}
	return config.NewManager(path)
}
