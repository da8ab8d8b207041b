package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scriptorlab/scriptor/internal/state"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock <source-id>",
	Short: "Remove a stale source lock left by a crashed run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := openProject()
		if err != nil {
			return err
		}

		lock := state.NewLock(dir.LockPath(args[0]))
		holder, err := lock.Holder()
		if err != nil {
			return fmt.Errorf("source %s is not locked", args[0])
		}

		if err := lock.ForceRemove(); err != nil {
			return err
		}
		fmt.Printf("removed lock for %s (held by pid %d on %s since %s)\n",
			args[0], holder.PID, holder.Hostname, holder.StartedAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}
