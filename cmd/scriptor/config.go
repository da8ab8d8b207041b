package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scriptorlab/scriptor/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage project configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented default config.yaml into the project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := openProject()
		if err != nil {
			return err
		}
		if err := dir.EnsureExists(); err != nil {
			return err
		}
		if err := config.WriteDefault(dir.ConfigPath()); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", dir.ConfigPath())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
}
