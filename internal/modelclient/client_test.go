package modelclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestHTTPClientGenerateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Text: "hello world", PromptTokens: 5, CompletionTokens: 3})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-key")
	res, err := c.Generate(context.Background(), "some-model", "say hi", Options{MaxOutputTokens: 16})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "hello world" {
		t.Errorf("Text = %q, want %q", res.Text, "hello world")
	}
	if res.PromptTokens != 5 || res.CompletionTokens != 3 {
		t.Errorf("got usage %+v", res.Usage)
	}
}

func TestHTTPClientGenerateJSONRequiresPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{PromptTokens: 1, CompletionTokens: 1})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-key")
	_, _, err := c.GenerateJSON(context.Background(), "some-model", json.RawMessage(`{}`), "prompt", "sys", 0.1)
	if err == nil {
		t.Fatal("expected an error when the provider returns no json payload")
	}
}

func TestHTTPClientGeneratePropagatesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Error: "rate limited"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-key")
	_, err := c.Generate(context.Background(), "some-model", "say hi", Options{MaxOutputTokens: 16})
	if err == nil {
		t.Fatal("expected an error when the provider reports one")
	}
}

func TestHTTPClientRetriesTransientFailureThenSucceeds(t *testing.T) {
	var attempt int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempt, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(generateResponse{Text: "recovered"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-key")
	res, err := c.Generate(context.Background(), "some-model", "say hi", Options{MaxOutputTokens: 16})
	if err != nil {
		t.Fatalf("unexpected error after retry: %v", err)
	}
	if res.Text != "recovered" {
		t.Errorf("Text = %q, want %q", res.Text, "recovered")
	}
	if atomic.LoadInt32(&attempt) < 2 {
		t.Errorf("expected at least 2 attempts, got %d", attempt)
	}
}

func TestHTTPClientExhaustsRetriesOnPersistentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-key")
	_, err := c.Generate(context.Background(), "some-model", "say hi", Options{MaxOutputTokens: 16})
	if err == nil {
		t.Fatal("expected an error once retries are exhausted")
	}
}
