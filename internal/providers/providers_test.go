package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMockClient(t *testing.T) {
	t.Run("returns configured response", func(t *testing.T) {
		client := NewMockClient()
		client.ResponseText = "hello"

		result, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{{Role: "user", Content: "hi"}},
			Model:    "test-model",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.Success || result.Content != "hello" {
			t.Errorf("unexpected result: %+v", result)
		}
		if result.Provider != MockClientName {
			t.Errorf("expected provider mock, got %s", result.Provider)
		}
		if client.RequestCount() != 1 {
			t.Errorf("expected 1 request, got %d", client.RequestCount())
		}
	})

	t.Run("response queue", func(t *testing.T) {
		client := NewMockClient()
		client.Responses = []string{"first", "second"}
		client.ResponseText = "fallback"

		for _, want := range []string{"first", "second", "fallback"} {
			result, err := client.Chat(context.Background(), &ChatRequest{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Content != want {
				t.Errorf("expected %q, got %q", want, result.Content)
			}
		}
	})

	t.Run("fail times then succeed", func(t *testing.T) {
		client := NewMockClient()
		client.FailTimes = 2

		for i := 0; i < 2; i++ {
			if _, err := client.Chat(context.Background(), &ChatRequest{}); err == nil {
				t.Fatalf("expected failure on request %d", i+1)
			}
		}
		if _, err := client.Chat(context.Background(), &ChatRequest{}); err != nil {
			t.Errorf("expected success after FailTimes, got %v", err)
		}
	})
}

func TestRateLimiter(t *testing.T) {
	t.Run("consumes tokens", func(t *testing.T) {
		rl := NewRateLimiter(60)
		if !rl.TryConsume() {
			t.Error("expected token available")
		}
		if rl.TotalConsumed() != 1 {
			t.Errorf("expected 1 consumed, got %d", rl.TotalConsumed())
		}
	})

	t.Run("wait respects context", func(t *testing.T) {
		rl := NewRateLimiter(1)
		// Drain the bucket.
		for rl.TryConsume() {
		}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := rl.Wait(ctx); err == nil {
			t.Error("expected context deadline error")
		}
	})
}

func TestOpenRouterClient_Chat(t *testing.T) {
	t.Run("successful response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer test-key" {
				t.Errorf("missing auth header")
			}
			var req openRouterRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("bad request body: %v", err)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"model": req.Model,
				"choices": []map[string]any{
					{"message": map[string]any{"role": "assistant", "content": "response text"}},
				},
				"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
			})
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{
			APIKey:  "test-key",
			BaseURL: server.URL,
		})

		result, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{{Role: "user", Content: "hi", Images: [][]byte{{0x89, 0x50}}}},
			Model:    "test/model",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Content != "response text" {
			t.Errorf("unexpected content: %q", result.Content)
		}
		if result.TotalTokens != 15 {
			t.Errorf("expected 15 tokens, got %d", result.TotalTokens)
		}
	})

	t.Run("retries transient errors", func(t *testing.T) {
		calls := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			if calls == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"role": "assistant", "content": "ok"}},
				},
				"usage": map[string]any{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
			})
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{
			APIKey:     "k",
			BaseURL:    server.URL,
			MaxRetries: 3,
			RetryDelay: time.Millisecond,
		})

		result, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{{Role: "user", Content: "hi"}},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.Success || calls != 2 {
			t.Errorf("expected success after retry (calls=%d)", calls)
		}
	})

	t.Run("non-retryable error fails", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{
			APIKey:     "bad",
			BaseURL:    server.URL,
			RetryDelay: time.Millisecond,
		})

		result, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{{Role: "user", Content: "hi"}},
		})
		if err == nil {
			t.Fatal("expected error for 401")
		}
		if result.Success {
			t.Error("expected unsuccessful result")
		}
	})
}

func TestRegistry(t *testing.T) {
	t.Run("from config", func(t *testing.T) {
		reg := NewRegistryFromConfig(RegistryConfig{
			Providers: map[string]ProviderConfig{
				"openai":   {Type: "openai", Model: "gpt-4.1", APIKey: "k", Enabled: true},
				"disabled": {Type: "openai", APIKey: "k", Enabled: false},
				"nokey":    {Type: "openrouter", Enabled: true},
				"mock":     {Type: "mock", Enabled: true},
			},
		})

		if !reg.Has("openai") {
			t.Error("expected openai registered")
		}
		if reg.Has("disabled") || reg.Has("nokey") {
			t.Error("disabled or keyless providers must not register")
		}
		if !reg.Has("mock") {
			t.Error("mock requires no key and should register")
		}
	})

	t.Run("get unknown", func(t *testing.T) {
		reg := NewRegistry()
		if _, err := reg.Get("nope"); err == nil {
			t.Error("expected error for unknown client")
		}
	})

	t.Run("reload removes unconfigured", func(t *testing.T) {
		reg := NewRegistryFromConfig(RegistryConfig{
			Providers: map[string]ProviderConfig{
				"a": {Type: "mock", Enabled: true},
				"b": {Type: "mock", Enabled: true},
			},
		})
		reg.Reload(RegistryConfig{
			Providers: map[string]ProviderConfig{
				"a": {Type: "mock", Enabled: true},
			},
		})
		if !reg.Has("a") || reg.Has("b") {
			t.Errorf("unexpected registry contents: %v", reg.List())
		}
	})
}
