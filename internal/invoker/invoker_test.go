package invoker

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/scriptorlab/scriptor/internal/calllog"
	"github.com/scriptorlab/scriptor/internal/providers"
	"github.com/scriptorlab/scriptor/internal/response"
	"github.com/scriptorlab/scriptor/internal/stubs"
)

func newStubStore(t *testing.T) *stubs.Store {
	t.Helper()
	store, err := stubs.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func diplomaticRequest(unit int) *Request {
	return &Request{
		SourceID:     "doc_abc12345",
		Phase:        stubs.PhaseDiplomatic,
		Unit:         unit,
		System:       "transcribe",
		User:         "page",
		PromptSHA256: "cafe",
		Model:        "test-model",
	}
}

func TestLive(t *testing.T) {
	ctx := context.Background()

	t.Run("returns provider response", func(t *testing.T) {
		client := providers.NewMockClient()
		client.ResponseText = "raw output"

		inv, err := New(Options{Client: client, RetryDelay: time.Millisecond})
		if err != nil {
			t.Fatal(err)
		}
		resp, err := inv.Invoke(ctx, diplomaticRequest(1))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.Raw != "raw output" || resp.Stub {
			t.Errorf("unexpected response: %+v", resp)
		}
	})

	t.Run("retries transient failures", func(t *testing.T) {
		client := providers.NewMockClient()
		client.FailTimes = 2
		client.ResponseText = "recovered"

		inv, err := New(Options{Client: client, MaxRetries: 3, RetryDelay: time.Millisecond})
		if err != nil {
			t.Fatal(err)
		}
		resp, err := inv.Invoke(ctx, diplomaticRequest(1))
		if err != nil {
			t.Fatalf("expected recovery, got %v", err)
		}
		if resp.Raw != "recovered" {
			t.Errorf("unexpected content: %q", resp.Raw)
		}
		if client.RequestCount() != 3 {
			t.Errorf("expected 3 attempts, got %d", client.RequestCount())
		}
	})

	t.Run("exhausted retries fail", func(t *testing.T) {
		client := providers.NewMockClient()
		client.ShouldFail = true

		inv, err := New(Options{Client: client, MaxRetries: 2, RetryDelay: time.Millisecond})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := inv.Invoke(ctx, diplomaticRequest(1)); err == nil {
			t.Error("expected error after exhausted retries")
		}
		if client.RequestCount() != 2 {
			t.Errorf("expected 2 attempts, got %d", client.RequestCount())
		}
	})
}

func TestStubInvoker(t *testing.T) {
	ctx := context.Background()

	t.Run("replay returns recorded stub", func(t *testing.T) {
		store := newStubStore(t)
		if err := store.Write("doc_abc12345", 1, stubs.PhaseDiplomatic, []byte("recorded")); err != nil {
			t.Fatal(err)
		}

		inv, err := New(Options{Stubs: store, StubMode: ModeReplay})
		if err != nil {
			t.Fatal(err)
		}
		resp, err := inv.Invoke(ctx, diplomaticRequest(1))
		if err != nil {
			t.Fatal(err)
		}
		if resp.Raw != "recorded" || !resp.Stub {
			t.Errorf("unexpected response: %+v", resp)
		}
	})

	t.Run("replay falls back to generated stub", func(t *testing.T) {
		store := newStubStore(t)
		inv, err := New(Options{Stubs: store, StubMode: ModeReplay})
		if err != nil {
			t.Fatal(err)
		}
		resp, err := inv.Invoke(ctx, diplomaticRequest(4))
		if err != nil {
			t.Fatal(err)
		}
		if _, perr := response.ParseDiplomatic(resp.Raw); perr != nil {
			t.Errorf("generated fallback must parse: %v", perr)
		}
		data, err := store.Read("doc_abc12345", 4, stubs.PhaseDiplomatic)
		if err != nil {
			t.Fatalf("fallback payload must be persisted: %v", err)
		}
		if string(data) != resp.Raw {
			t.Error("persisted stub differs from served response")
		}
	})

	t.Run("generate persists the payload", func(t *testing.T) {
		store := newStubStore(t)
		inv, err := New(Options{Stubs: store, StubMode: ModeGenerate})
		if err != nil {
			t.Fatal(err)
		}
		resp, err := inv.Invoke(ctx, diplomaticRequest(7))
		if err != nil {
			t.Fatal(err)
		}
		data, err := store.Read("doc_abc12345", 7, stubs.PhaseDiplomatic)
		if err != nil {
			t.Fatalf("generated payload must be persisted: %v", err)
		}
		if string(data) != resp.Raw {
			t.Error("persisted stub differs from served response")
		}

		// A later replay against the same store serves the saved bytes.
		replay, err := New(Options{Stubs: store, StubMode: ModeReplay})
		if err != nil {
			t.Fatal(err)
		}
		again, err := replay.Invoke(ctx, diplomaticRequest(7))
		if err != nil {
			t.Fatal(err)
		}
		if again.Raw != resp.Raw {
			t.Error("replay after generate must serve identical bytes")
		}
	})

	t.Run("generated normalization echoes input", func(t *testing.T) {
		inv, err := New(Options{Stubs: newStubStore(t), StubMode: ModeGenerate})
		if err != nil {
			t.Fatal(err)
		}
		req := &Request{
			SourceID:  "doc_abc12345",
			Phase:     stubs.PhaseNormalization,
			Unit:      0,
			InputText: "the original text",
		}
		resp, err := inv.Invoke(ctx, req)
		if err != nil {
			t.Fatal(err)
		}
		norm, perr := response.ParseNormalization(resp.Raw)
		if perr != nil {
			t.Fatalf("generated stub must parse: %v", perr)
		}
		if !strings.Contains(norm.CorrectedText, "the original text") {
			t.Errorf("expected echoed input, got %q", norm.CorrectedText)
		}
		if len(norm.EditLog) != 0 {
			t.Errorf("expected empty edit log, got %d edits", len(norm.EditLog))
		}
	})

	t.Run("no-api forces replay", func(t *testing.T) {
		inv, err := New(Options{
			Client:  providers.NewMockClient(),
			Stubs:   newStubStore(t),
			NoAPI:   true,
		})
		if err != nil {
			t.Fatal(err)
		}
		if inv.Mode() != ModeReplay {
			t.Errorf("expected replay mode, got %s", inv.Mode())
		}
	})
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()

	t.Run("persists successful responses", func(t *testing.T) {
		client := providers.NewMockClient()
		client.ResponseText = "to be recorded"
		store := newStubStore(t)

		inv, err := New(Options{Client: client, Stubs: store, StubMode: ModeRecord, RetryDelay: time.Millisecond})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := inv.Invoke(ctx, diplomaticRequest(2)); err != nil {
			t.Fatal(err)
		}

		data, err := store.Read("doc_abc12345", 2, stubs.PhaseDiplomatic)
		if err != nil {
			t.Fatalf("expected recorded stub: %v", err)
		}
		if string(data) != "to be recorded" {
			t.Errorf("unexpected stub content: %q", data)
		}
	})

	t.Run("does not record failures", func(t *testing.T) {
		client := providers.NewMockClient()
		client.ShouldFail = true
		store := newStubStore(t)

		inv, err := New(Options{Client: client, Stubs: store, StubMode: ModeRecord, MaxRetries: 1, RetryDelay: time.Millisecond})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := inv.Invoke(ctx, diplomaticRequest(2)); err == nil {
			t.Fatal("expected failure")
		}
		if store.Exists("doc_abc12345", 2, stubs.PhaseDiplomatic) {
			t.Error("failed call must not be recorded")
		}
	})
}

func TestLogged(t *testing.T) {
	ctx := context.Background()

	t.Run("logs success and failure", func(t *testing.T) {
		log, err := calllog.Open(filepath.Join(t.TempDir(), "calls.db"))
		if err != nil {
			t.Fatal(err)
		}
		defer log.Close()

		client := providers.NewMockClient()
		client.FailTimes = 1
		client.ResponseText = "ok"

		inv, err := New(Options{Client: client, CallLog: log, MaxRetries: 1, RetryDelay: time.Millisecond})
		if err != nil {
			t.Fatal(err)
		}

		if _, err := inv.Invoke(ctx, diplomaticRequest(1)); err == nil {
			t.Fatal("expected first invoke to fail")
		}
		if _, err := inv.Invoke(ctx, diplomaticRequest(1)); err != nil {
			t.Fatalf("expected second invoke to succeed: %v", err)
		}

		entries, err := log.ListBySource(ctx, "doc_abc12345")
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 2 {
			t.Fatalf("expected 2 log entries, got %d", len(entries))
		}
		if entries[0].Success || !entries[1].Success {
			t.Errorf("unexpected success flags: %v %v", entries[0].Success, entries[1].Success)
		}
		if entries[0].Error == "" {
			t.Error("failed entry must carry an error")
		}
		if entries[1].Mode != ModeLive {
			t.Errorf("unexpected mode: %s", entries[1].Mode)
		}
	})

	t.Run("stubbed calls are logged as stubs", func(t *testing.T) {
		log, err := calllog.Open(filepath.Join(t.TempDir(), "calls.db"))
		if err != nil {
			t.Fatal(err)
		}
		defer log.Close()

		inv, err := New(Options{Stubs: newStubStore(t), CallLog: log, StubMode: ModeGenerate})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := inv.Invoke(ctx, diplomaticRequest(1)); err != nil {
			t.Fatal(err)
		}

		entries, err := log.ListBySource(ctx, "doc_abc12345")
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 || !entries[0].Stub {
			t.Errorf("expected one stubbed entry, got %+v", entries)
		}
	})
}
