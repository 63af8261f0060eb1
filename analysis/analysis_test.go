package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// modelReply builds a Messages API response body with a single text block.
func modelReply(text string) string {
	b, _ := json.Marshal(map[string]any{
		"content": []map[string]string{{"type": "text", "text": text}},
	})
	return string(b)
}

func testClient(baseURL string) *Client {
	return New(Config{
		APIKey:     "test-key",
		BaseURL:    baseURL,
		MaxRetries: 2,
		Backoff:    time.Millisecond,
		Timeout:    5 * time.Second,
	})
}

func TestDegradedWithoutKey(t *testing.T) {
	c := New(Config{})
	if c.Available() {
		t.Fatal("client without key reports available")
	}
	_, err := c.Summarize(context.Background(), "anything", SummaryContext{})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("got %v, want ErrUnavailable", err)
	}
}

func TestSummarize(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key: %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != "2023-06-01" {
			t.Errorf("anthropic-version: %q", got)
		}
		gotBody, _ = io.ReadAll(r.Body)
		io.WriteString(w, modelReply("A short summary."))
	}))
	defer srv.Close()

	got, err := testClient(srv.URL).Summarize(context.Background(), "long note text",
		SummaryContext{Title: "Week plan", Source: "/inbox/week.md"})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if got != "A short summary." {
		t.Errorf("summary: %q", got)
	}
	body := string(gotBody)
	if !strings.Contains(body, "Title: Week plan") || !strings.Contains(body, "Source: /inbox/week.md") {
		t.Errorf("prompt missing note context: %s", body)
	}
}

func TestExtractTagsStripsFences(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, modelReply("```json\n[\"golang\",\"side-project\"]\n```"))
	}))
	defer srv.Close()

	tags, err := testClient(srv.URL).ExtractTags(context.Background(), "note")
	if err != nil {
		t.Fatalf("extract tags: %v", err)
	}
	if len(tags) != 2 || tags[0] != "golang" || tags[1] != "side-project" {
		t.Errorf("tags: %v", tags)
	}
}

func TestExtractTasks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, modelReply(`[{"text":"call dentist","due_date":"2025-06-01"},{"text":"buy filters"}]`))
	}))
	defer srv.Close()

	tasks, err := testClient(srv.URL).ExtractTasks(context.Background(), "note")
	if err != nil {
		t.Fatalf("extract tasks: %v", err)
	}
	if len(tasks) != 2 || tasks[0].DueDate != "2025-06-01" || tasks[1].Text != "buy filters" {
		t.Errorf("tasks: %+v", tasks)
	}
}

func TestRetryOnOverload(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, `{"error":{"type":"overloaded_error"}}`, http.StatusTooManyRequests)
			return
		}
		io.WriteString(w, modelReply("ok after retries"))
	}))
	defer srv.Close()

	got, err := testClient(srv.URL).Summarize(context.Background(), "note", SummaryContext{})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if got != "ok after retries" || calls.Load() != 3 {
		t.Errorf("got %q after %d calls", got, calls.Load())
	}
}

func TestNoRetryOnAuthError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"type":"authentication_error"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Summarize(context.Background(), "note", SummaryContext{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
	if calls.Load() != 1 {
		t.Errorf("auth error retried: %d calls", calls.Load())
	}
}

func TestExhaustedRetriesReturnUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Summarize(context.Background(), "note", SummaryContext{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
	// 1 initial attempt + 2 retries.
	if calls.Load() != 3 {
		t.Errorf("calls: %d, want 3", calls.Load())
	}
}

func TestTranscribeImageSendsBase64Block(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		io.WriteString(w, modelReply("transcribed text"))
	}))
	defer srv.Close()

	got, err := testClient(srv.URL).TranscribeImage(context.Background(), []byte{0x89, 0x50}, "image/png")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if got != "transcribed text" {
		t.Errorf("text: %q", got)
	}
	body := string(gotBody)
	if !strings.Contains(body, `"type":"image"`) || !strings.Contains(body, `"media_type":"image/png"`) {
		t.Errorf("request missing image block: %s", body)
	}
}
