package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/scriptorlab/scriptor/internal/project"
	"github.com/scriptorlab/scriptor/internal/state"
)

var (
	requeuePages []int
	requeueForce bool
)

var requeueCmd = &cobra.Command{
	Use:   "requeue <source-id>",
	Short: "Reset failed pages and chunks so the next run retries them",
	Long: `Requeue resets failed pages and normalization chunks of a source to
pending. With --pages only the named pages are touched; --force also
requeues pages and chunks that already succeeded.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := openProject()
		if err != nil {
			return err
		}
		store, err := state.NewFileStore(dir.StateDir())
		if err != nil {
			return err
		}
		rec, err := store.Load(args[0])
		if err != nil {
			return err
		}

		lock := state.NewLock(dir.LockPath(rec.SourceID))
		if err := lock.Acquire(); err != nil {
			return err
		}
		defer lock.Release()

		pages, chunks := requeueRecord(rec, requeuePages, requeueForce)
		if pages == 0 && chunks == 0 {
			fmt.Println("nothing to requeue")
			return nil
		}

		if err := store.Save(rec); err != nil {
			return err
		}
		if err := clearStaleArtifacts(dir, rec.SourceID, pages, chunks); err != nil {
			return err
		}
		slog.Info("requeued", "source", rec.SourceID, "pages", pages, "chunks", chunks, "stage", rec.Stage)
		return nil
	},
}

// clearStaleArtifacts removes assembled documents a requeue invalidated,
// so the output directory never shows artifacts the record disowned.
func clearStaleArtifacts(dir *project.Dir, sourceID string, pagesReset, chunksReset int) error {
	var stale []string
	if pagesReset > 0 {
		stale = []string{
			dir.V1Path(sourceID),
			dir.CoveragePath(sourceID),
			dir.V2Path(sourceID),
			dir.EditLogPath(sourceID),
		}
	} else if chunksReset > 0 {
		stale = []string{
			dir.V2Path(sourceID),
			dir.EditLogPath(sourceID),
		}
	}
	for _, path := range stale {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing stale artifact %s: %w", path, err)
		}
	}
	return nil
}

func init() {
	requeueCmd.Flags().IntSliceVar(&requeuePages, "pages", nil, "specific page numbers to requeue")
	requeueCmd.Flags().BoolVar(&requeueForce, "force", false, "also requeue succeeded pages and chunks")
}

// requeueRecord resets matching pages and failed chunks to pending and
// rewinds the stage so the next run revisits them. Returns how many
// pages and chunks were reset.
func requeueRecord(rec *state.Record, pages []int, force bool) (int, int) {
	selected := make(map[int]bool, len(pages))
	for _, p := range pages {
		selected[p] = true
	}

	pagesReset := 0
	for i := range rec.Pages {
		ps := &rec.Pages[i]
		if len(selected) > 0 && !selected[ps.Page] {
			continue
		}
		if ps.Status == state.StatusFailed || (force && ps.Status == state.StatusSucceeded) {
			ps.Status = state.StatusPending
			ps.Error = ""
			ps.Flagged = false
			pagesReset++
		}
	}

	chunksReset := 0
	if rec.Normalize != nil {
		for i := range rec.Normalize.Chunks {
			cs := &rec.Normalize.Chunks[i]
			if cs.Status == state.StatusFailed || (force && cs.Status == state.StatusSucceeded) {
				cs.Status = state.StatusPending
				cs.Error = ""
				chunksReset++
			}
		}
	}

	// A requeued page invalidates the assembled documents and the
	// chunk plan built on them; a requeued chunk only the
	// normalization outputs.
	if pagesReset > 0 {
		rec.Stage = state.StageTranscribing
		rec.V1Path = ""
		rec.V2Path = ""
		rec.EditLogPath = ""
		rec.Normalize = nil
	} else if chunksReset > 0 && (rec.Stage == state.StageDone || rec.Stage == state.StageNormalizing) {
		rec.Stage = state.StageNormalizing
		rec.V2Path = ""
		rec.EditLogPath = ""
	}

	return pagesReset, chunksReset
}
