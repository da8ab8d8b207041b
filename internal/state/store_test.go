package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testRecord() *Record {
	rec := NewRecord("doc_12345678", "/tmp/doc.pdf", "hu", 300)
	rec.Stage = StageTranscribing
	rec.PagesTotal = 3
	rec.Pages = []PageState{
		{Page: 1, Status: StatusSucceeded, DiplomaticTextPath: "/tmp/p1.txt", Confidence: "high"},
		{Page: 2, Status: StatusFailed, Error: "model call failed"},
		{Page: 3, Status: StatusPending},
	}
	return rec
}

func TestFileStore_SaveLoad(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := testRecord()
	if err := store.Save(rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load("doc_12345678")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.SourceID != rec.SourceID {
		t.Errorf("expected source_id %s, got %s", rec.SourceID, loaded.SourceID)
	}
	if loaded.Stage != StageTranscribing {
		t.Errorf("expected stage transcribing, got %s", loaded.Stage)
	}
	if len(loaded.Pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(loaded.Pages))
	}
	if loaded.Pages[1].Status != StatusFailed || loaded.Pages[1].Error == "" {
		t.Errorf("expected page 2 failed with error note, got %+v", loaded.Pages[1])
	}
	if loaded.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set on save")
	}
}

func TestFileStore_LoadMissing(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = store.Load("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFileStore_AtomicOverwrite(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := testRecord()
	if err := store.Save(rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Overwrite with a modified record; no temp files should survive.
	rec.Pages[2].Status = StatusSucceeded
	if err := store.Save(rec); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected exactly one state file, got %d entries", len(entries))
	}

	loaded, err := store.Load("doc_12345678")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Pages[2].Status != StatusSucceeded {
		t.Errorf("expected page 3 succeeded after overwrite, got %s", loaded.Pages[2].Status)
	}
}

func TestFileStore_List(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, id := range []string{"b_22222222", "a_11111111"} {
		rec := NewRecord(id, "/tmp/x.pdf", "hu", 300)
		if err := store.Save(rec); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	ids, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a_11111111" || ids[1] != "b_22222222" {
		t.Errorf("expected sorted ids, got %v", ids)
	}
}

func TestRecord_ResetStaleInProgress(t *testing.T) {
	rec := testRecord()
	rec.Pages[2].Status = StatusInProgress
	rec.Normalize = &NormalizeState{
		ChunkPages: 5,
		Chunks: []ChunkState{
			{Chunk: 1, Status: StatusInProgress},
			{Chunk: 2, Status: StatusSucceeded},
		},
	}

	if n := rec.ResetStaleInProgress(); n != 2 {
		t.Errorf("expected 2 resets, got %d", n)
	}
	if rec.Pages[2].Status != StatusPending {
		t.Errorf("expected page reset to pending, got %s", rec.Pages[2].Status)
	}
	if rec.Normalize.Chunks[0].Status != StatusPending {
		t.Errorf("expected chunk reset to pending, got %s", rec.Normalize.Chunks[0].Status)
	}
	if rec.Normalize.Chunks[1].Status != StatusSucceeded {
		t.Errorf("succeeded chunk must not be touched, got %s", rec.Normalize.Chunks[1].Status)
	}
}

func TestRecord_Helpers(t *testing.T) {
	rec := testRecord()

	if p := rec.Page(2); p == nil || p.Status != StatusFailed {
		t.Errorf("expected page 2 failed, got %+v", p)
	}
	if p := rec.Page(99); p != nil {
		t.Errorf("expected nil for unknown page, got %+v", p)
	}
	if rec.AllPagesSucceeded() {
		t.Error("record with failed page must not report all succeeded")
	}

	counts := rec.StatusCounts()
	if counts[StatusSucceeded] != 1 || counts[StatusFailed] != 1 || counts[StatusPending] != 1 {
		t.Errorf("unexpected status counts: %v", counts)
	}

	failed := rec.PagesWithStatus(StatusFailed)
	if len(failed) != 1 || failed[0] != 2 {
		t.Errorf("expected failed pages [2], got %v", failed)
	}
}

func TestLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.lock")

	t.Run("acquire and release", func(t *testing.T) {
		l := NewLock(path)
		if err := l.Acquire(); err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}

		second := NewLock(path)
		err := second.Acquire()
		if !errors.Is(err, ErrLocked) {
			t.Errorf("expected ErrLocked for second acquire, got %v", err)
		}

		holder, err := l.Holder()
		if err != nil {
			t.Fatalf("Holder failed: %v", err)
		}
		if holder.PID != os.Getpid() {
			t.Errorf("expected holder pid %d, got %d", os.Getpid(), holder.PID)
		}

		if err := l.Release(); err != nil {
			t.Fatalf("Release failed: %v", err)
		}
		if err := second.Acquire(); err != nil {
			t.Errorf("expected acquire to succeed after release, got %v", err)
		}
		second.Release()
	})

	t.Run("force remove stale lock", func(t *testing.T) {
		l := NewLock(path)
		if err := l.Acquire(); err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		// Simulate a crashed run: the holding handle is gone.
		stale := NewLock(path)
		if err := stale.ForceRemove(); err != nil {
			t.Fatalf("ForceRemove failed: %v", err)
		}
		fresh := NewLock(path)
		if err := fresh.Acquire(); err != nil {
			t.Errorf("expected acquire after force remove, got %v", err)
		}
		fresh.Release()
	})
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()

	rec := testRecord()
	if err := store.Save(rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load("doc_12345678")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	// Mutating the loaded copy must not affect the stored record.
	loaded.Pages[0].Status = StatusFailed

	again, err := store.Load("doc_12345678")
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if again.Pages[0].Status != StatusSucceeded {
		t.Error("stored record was mutated through a loaded copy")
	}

	t.Run("simulated save failure preserves record", func(t *testing.T) {
		store.FailNextSave = true
		rec.Pages[0].Notes = "should not persist"
		if err := store.Save(rec); err == nil {
			t.Fatal("expected simulated save failure")
		}
		loaded, err := store.Load("doc_12345678")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if loaded.Pages[0].Notes == "should not persist" {
			t.Error("failed save must not mutate the stored record")
		}
	})
}
