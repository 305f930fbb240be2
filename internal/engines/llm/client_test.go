package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"dubline/internal/services"
)

func completion(content string) map[string]any {
	return map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{"content": content}},
		},
	}
}

func TestTranslateBatchesAndPreservesOrder(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		var payload translationRequest
		if err := json.Unmarshal([]byte(req.Messages[1].Content), &payload); err != nil {
			t.Errorf("decode user prompt: %v", err)
			return
		}
		if payload.TargetLanguage != "Spanish" || payload.SourceLanguage != "English" {
			t.Errorf("unexpected languages %+v", payload)
		}
		out := make([]string, len(payload.Texts))
		for i, text := range payload.Texts {
			out[i] = "es:" + text
		}
		encoded, _ := json.Marshal(translationResponse{Translations: out})
		_ = json.NewEncoder(w).Encode(completion("```json\n" + string(encoded) + "\n```"))
	}))
	defer server.Close()

	translator := NewTranslator(NewClient(Config{APIKey: "key", BaseURL: server.URL, Model: "m"}), 2)
	got, err := translator.Translate(context.Background(), []string{"one", "", "two", "three"}, "en", "es")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	want := []string{"es:one", "", "es:two", "es:three"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("translation %d = %q, want %q", i, got[i], want[i])
		}
	}
	if requests.Load() != 2 {
		t.Fatalf("expected 2 batched requests, got %d", requests.Load())
	}
}

func TestTranslateCountMismatchIsCollaboratorError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(completion(`{"translations":["only one"]}`))
	}))
	defer server.Close()

	translator := NewTranslator(NewClient(Config{APIKey: "key", BaseURL: server.URL}), 10)
	_, err := translator.Translate(context.Background(), []string{"a", "b"}, "auto", "fr")
	if !errors.Is(err, services.ErrCollaborator) {
		t.Fatalf("expected collaborator error, got %v", err)
	}
}

func TestClientRetriesServerErrorsWithRetryAfter(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(completion(`{"ok":true}`))
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(Config{APIKey: "key", BaseURL: server.URL},
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }))
	content, err := client.CompleteJSON(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !strings.Contains(content, "ok") {
		t.Fatalf("unexpected content %q", content)
	}
	if len(slept) != 1 || slept[0] != 2*time.Second {
		t.Fatalf("expected one 2s Retry-After sleep, got %v", slept)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "bad", BaseURL: server.URL}, WithSleeper(func(time.Duration) {}))
	if _, err := client.CompleteJSON(context.Background(), "system", "user"); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
	if _, err := NewClient(Config{}).CompleteJSON(context.Background(), "s", "u"); err == nil {
		t.Fatal("expected missing api key error")
	}
}

func TestDecodeJSONToleratesProse(t *testing.T) {
	var out translationResponse
	if err := DecodeJSON(`Sure! {"translations":["hola"]} Hope this helps.`, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Translations) != 1 || out.Translations[0] != "hola" {
		t.Fatalf("unexpected decode %+v", out)
	}
	if err := DecodeJSON("   ", &out); err == nil {
		t.Fatal("expected error for empty payload")
	}
}
