package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/scriptorlab/scriptor/internal/project"
	"github.com/scriptorlab/scriptor/internal/state"
)

func requeueFixture() *state.Record {
	rec := state.NewRecord("doc_deadbeef", "/tmp/doc.pdf", "hu", 300)
	rec.Stage = state.StageDone
	rec.PagesTotal = 3
	rec.Pages = []state.PageState{
		{Page: 1, Status: state.StatusSucceeded},
		{Page: 2, Status: state.StatusFailed, Error: "boom", Flagged: true},
		{Page: 3, Status: state.StatusSucceeded},
	}
	rec.V1Path = "/out/v1.txt"
	rec.V2Path = "/out/v2.txt"
	rec.EditLogPath = "/out/editlog.json"
	rec.Normalize = &state.NormalizeState{
		ChunkPages: 2,
		Chunks: []state.ChunkState{
			{Chunk: 1, Pages: []int{1, 2}, Status: state.StatusSucceeded},
			{Chunk: 2, Pages: []int{3}, Status: state.StatusFailed, Error: "boom"},
		},
	}
	return rec
}

func TestRequeueRecord(t *testing.T) {
	t.Run("resets failed pages and drops stale plan", func(t *testing.T) {
		rec := requeueFixture()

		pages, chunks := requeueRecord(rec, nil, false)
		if pages != 1 || chunks != 1 {
			t.Fatalf("expected 1 page and 1 chunk reset, got %d/%d", pages, chunks)
		}
		if rec.Pages[1].Status != state.StatusPending || rec.Pages[1].Error != "" || rec.Pages[1].Flagged {
			t.Errorf("page 2 not reset: %+v", rec.Pages[1])
		}
		if rec.Pages[0].Status != state.StatusSucceeded {
			t.Error("succeeded page must be untouched without --force")
		}
		if rec.Stage != state.StageTranscribing {
			t.Errorf("expected stage transcribing, got %s", rec.Stage)
		}
		if rec.Normalize != nil {
			t.Error("chunk plan must be dropped when pages are requeued")
		}
		if rec.V1Path != "" || rec.V2Path != "" || rec.EditLogPath != "" {
			t.Error("stale artifact paths must be cleared")
		}
	})

	t.Run("page selection", func(t *testing.T) {
		rec := requeueFixture()

		pages, _ := requeueRecord(rec, []int{1}, false)
		if pages != 0 {
			t.Errorf("page 1 succeeded, expected no reset without --force, got %d", pages)
		}

		pages, _ = requeueRecord(rec, []int{1}, true)
		if pages != 1 {
			t.Fatalf("expected forced reset of page 1, got %d", pages)
		}
		if rec.Pages[0].Status != state.StatusPending {
			t.Errorf("page 1 not reset: %+v", rec.Pages[0])
		}
		if rec.Pages[2].Status != state.StatusSucceeded {
			t.Error("unselected page must be untouched")
		}
	})

	t.Run("chunk-only requeue rewinds to normalizing", func(t *testing.T) {
		rec := requeueFixture()
		rec.Pages[1].Status = state.StatusSucceeded
		rec.Pages[1].Error = ""
		rec.Pages[1].Flagged = false

		pages, chunks := requeueRecord(rec, nil, false)
		if pages != 0 || chunks != 1 {
			t.Fatalf("expected chunk-only reset, got %d/%d", pages, chunks)
		}
		if rec.Stage != state.StageNormalizing {
			t.Errorf("expected stage normalizing, got %s", rec.Stage)
		}
		if rec.V1Path == "" {
			t.Error("v1 must survive a chunk-only requeue")
		}
		if rec.V2Path != "" {
			t.Error("v2 must be cleared")
		}
	})

	t.Run("nothing to do", func(t *testing.T) {
		rec := requeueFixture()
		for i := range rec.Pages {
			rec.Pages[i].Status = state.StatusSucceeded
			rec.Pages[i].Flagged = false
			rec.Pages[i].Error = ""
		}
		for i := range rec.Normalize.Chunks {
			rec.Normalize.Chunks[i].Status = state.StatusSucceeded
		}

		pages, chunks := requeueRecord(rec, nil, false)
		if pages != 0 || chunks != 0 {
			t.Errorf("expected no resets, got %d/%d", pages, chunks)
		}
		if rec.Stage != state.StageDone {
			t.Errorf("stage must be untouched, got %s", rec.Stage)
		}
	})
}

func TestClearStaleArtifacts(t *testing.T) {
	const src = "doc_deadbeef"

	newOutputs := func(t *testing.T) *project.Dir {
		t.Helper()
		dir, err := project.New(filepath.Join(t.TempDir(), "proj"))
		if err != nil {
			t.Fatal(err)
		}
		if err := dir.EnsureSourceDirs(src); err != nil {
			t.Fatal(err)
		}
		for _, p := range []string{
			dir.V1Path(src), dir.CoveragePath(src), dir.V2Path(src), dir.EditLogPath(src),
		} {
			if err := os.WriteFile(p, []byte("stale"), 0o644); err != nil {
				t.Fatal(err)
			}
		}
		return dir
	}

	exists := func(path string) bool {
		_, err := os.Stat(path)
		return err == nil
	}

	t.Run("page requeue removes all assembled documents", func(t *testing.T) {
		dir := newOutputs(t)
		if err := clearStaleArtifacts(dir, src, 1, 0); err != nil {
			t.Fatal(err)
		}
		for _, p := range []string{
			dir.V1Path(src), dir.CoveragePath(src), dir.V2Path(src), dir.EditLogPath(src),
		} {
			if exists(p) {
				t.Errorf("expected %s to be removed", p)
			}
		}
	})

	t.Run("chunk requeue keeps v1 and coverage", func(t *testing.T) {
		dir := newOutputs(t)
		if err := clearStaleArtifacts(dir, src, 0, 1); err != nil {
			t.Fatal(err)
		}
		if !exists(dir.V1Path(src)) || !exists(dir.CoveragePath(src)) {
			t.Error("v1 and coverage must survive a chunk-only requeue")
		}
		if exists(dir.V2Path(src)) || exists(dir.EditLogPath(src)) {
			t.Error("v2 and edit log must be removed")
		}
	})

	t.Run("missing files are not an error", func(t *testing.T) {
		dir, err := project.New(filepath.Join(t.TempDir(), "proj"))
		if err != nil {
			t.Fatal(err)
		}
		if err := clearStaleArtifacts(dir, src, 1, 0); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
