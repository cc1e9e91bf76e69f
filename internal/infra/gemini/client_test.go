package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"quiz-battle-service/internal/domain"
)

func candidateResponse(text string) map[string]any {
	return map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]string{{"text": text}}}},
		},
	}
}

func TestGenerateReturnsCandidateText(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(candidateResponse(`{"questions":[]}`))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test-key", Model: "gemini-2.0-flash", BaseURL: server.URL})
	text, err := client.Generate(context.Background(), "system prompt", "user prompt", 0.7, 2048)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != `{"questions":[]}` {
		t.Fatalf("unexpected text: %q", text)
	}
	if !strings.Contains(gotPath, "gemini-2.0-flash:generateContent") || !strings.Contains(gotPath, "key=test-key") {
		t.Fatalf("unexpected request path: %s", gotPath)
	}
	genConfig, _ := gotBody["generationConfig"].(map[string]any)
	if genConfig["responseMimeType"] != "application/json" {
		t.Fatalf("expected JSON response mime type, got %v", genConfig)
	}
}

func TestGenerateMapsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL})
	if _, err := client.Generate(context.Background(), "s", "u", 0.7, 100); !errors.Is(err, domain.ErrDependencyUnavailable) {
		t.Fatalf("expected dependency unavailable, got %v", err)
	}
}

func TestGenerateRejectsEmptyCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"candidates": []any{}})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL})
	if _, err := client.Generate(context.Background(), "s", "u", 0.7, 100); !errors.Is(err, domain.ErrGenerationFailed) {
		t.Fatalf("expected generation failed, got %v", err)
	}
}

func TestGenerateUnreachableHost(t *testing.T) {
	client := NewClient(Config{APIKey: "k", BaseURL: "http://127.0.0.1:1"})
	if _, err := client.Generate(context.Background(), "s", "u", 0.7, 100); !errors.Is(err, domain.ErrDependencyUnavailable) {
		t.Fatalf("expected dependency unavailable, got %v", err)
	}
}
