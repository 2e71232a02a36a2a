package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func completionBody(content string) map[string]interface{} {
	return map[string]interface{}{
		"id":     "cmpl-test",
		"object": "chat.completion",
		"choices": []map[string]interface{}{
			{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]interface{}{
					"role":    "assistant",
					"content": content,
				},
			},
		},
	}
}

func newTestPipeline(serverURL string) *Pipeline {
	return NewPipeline(Config{
		BaseURL: serverURL,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
		Timeout: 5 * time.Second,
	})
}

func TestExtractParsesCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completionBody(
			`{"tasks":[{"content":"寄合約","assignee":"Amy","priority":"high","due_date":"2026-09-01"},{"content":"訂會議室"}]}`))
	}))
	defer server.Close()

	items := newTestPipeline(server.URL).Extract(context.Background(), "Amy: 記得寄合約\nBen: 好")
	if len(items) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(items))
	}
	if items[0].Content != "寄合約" || items[0].Priority != "high" || items[0].Assignee != "Amy" || items[0].DueDate != "2026-09-01" {
		t.Fatalf("unexpected first candidate: %+v", items[0])
	}
	if items[1].Content != "訂會議室" || items[1].Priority != "" {
		t.Fatalf("unexpected second candidate: %+v", items[1])
	}
}

func TestExtractAcceptsFencedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completionBody("```json\n{\"tasks\":[{\"content\":\"訂便當\"}]}\n```"))
	}))
	defer server.Close()

	items := newTestPipeline(server.URL).Extract(context.Background(), "some talk")
	if len(items) != 1 || items[0].Content != "訂便當" {
		t.Fatalf("expected fenced JSON to parse, got %+v", items)
	}
}

func TestExtractDropsCandidatesWithoutContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completionBody(
			`{"tasks":[{"assignee":"Amy"},{"content":"  "},{"content":"valid"}]}`))
	}))
	defer server.Close()

	items := newTestPipeline(server.URL).Extract(context.Background(), "some talk")
	if len(items) != 1 || items[0].Content != "valid" {
		t.Fatalf("expected only the valid candidate, got %+v", items)
	}
}

func TestExtractMalformedOutputYieldsEmpty(t *testing.T) {
	cases := map[string]string{
		"not json":          "I could not find any tasks.",
		"missing tasks key": `{"items":[{"content":"x"}]}`,
		"tasks not array":   `{"tasks":"none"}`,
	}
	for name, content := range cases {
		content := content
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(completionBody(content))
			}))
			defer server.Close()

			items := newTestPipeline(server.URL).Extract(context.Background(), "some talk")
			if len(items) != 0 {
				t.Fatalf("expected empty candidates, got %+v", items)
			}
		})
	}
}

func TestExtractTransportFailureYieldsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	}))
	defer server.Close()

	if items := newTestPipeline(server.URL).Extract(context.Background(), "some talk"); len(items) != 0 {
		t.Fatalf("expected empty candidates on 500, got %+v", items)
	}

	server.Close()
	if items := newTestPipeline(server.URL).Extract(context.Background(), "some talk"); len(items) != 0 {
		t.Fatalf("expected empty candidates on connection failure, got %+v", items)
	}
}

func TestExtractEmptyTranscriptSkipsCall(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completionBody(`{"tasks":[]}`))
	}))
	defer server.Close()

	if items := newTestPipeline(server.URL).Extract(context.Background(), "   "); len(items) != 0 {
		t.Fatalf("expected no candidates, got %+v", items)
	}
	if called {
		t.Fatal("empty transcript must not reach the inference service")
	}
}
