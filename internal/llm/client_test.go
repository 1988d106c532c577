package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"jobhive/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(config.LLMConfig{
		BaseURL:        server.URL,
		Model:          "test-model",
		TimeoutSeconds: 5,
		MaxRetries:     2,
	}, nil)
	return client, server
}

func completionHandler(t *testing.T, response string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"response": response})
	}
}

func TestScoreResumeParsesValidOutput(t *testing.T) {
	client, _ := newTestClient(t, completionHandler(t, `{"score": 72, "suggestions": ["add metrics", "mention Go"]}`))

	result, err := client.ScoreResume(context.Background(), "resume text", "Backend Engineer", "builds APIs")
	if err != nil {
		t.Fatalf("score resume: %v", err)
	}
	if result.Score != 72 {
		t.Fatalf("expected score 72, got %d", result.Score)
	}
	if len(result.Suggestions) != 2 {
		t.Fatalf("expected 2 suggestions, got %d", len(result.Suggestions))
	}
}

func TestScoreResumeRejectsWrongShape(t *testing.T) {
	cases := map[string]string{
		"not json":        `the score is 72 out of 100`,
		"missing fields":  `{"score": 72}`,
		"score as string": `{"score": "72", "suggestions": []}`,
		"score too large": `{"score": 172, "suggestions": []}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			client, _ := newTestClient(t, completionHandler(t, payload))
			if _, err := client.ScoreResume(context.Background(), "r", "t", "d"); !errors.Is(err, ErrInvalidOutput) {
				t.Fatalf("expected ErrInvalidOutput, got %v", err)
			}
		})
	}
}

func TestGenerateResumeValidatesSchema(t *testing.T) {
	client, _ := newTestClient(t, completionHandler(t,
		`{"summary": "seasoned engineer", "skills": ["go"], "experience": [], "education": []}`))

	doc, err := client.GenerateResume(context.Background(), []byte(`{"headline":"dev"}`))
	if err != nil {
		t.Fatalf("generate resume: %v", err)
	}
	if doc.Summary != "seasoned engineer" {
		t.Fatalf("unexpected summary %q", doc.Summary)
	}
}

func TestGenerateRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "Dear hiring manager, ..."})
	})

	letter, err := client.GenerateCoverLetter(context.Background(), "r", "t", "d")
	if err != nil {
		t.Fatalf("generate cover letter: %v", err)
	}
	if letter == "" {
		t.Fatal("expected letter text")
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestGenerateDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	if _, err := client.GenerateCoverLetter(context.Background(), "r", "t", "d"); err == nil {
		t.Fatal("expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 attempt, got %d", got)
	}
}
