// Package analysis talks to the Anthropic Messages API for the content
// enrichment steps: image transcription, summarization, tag and task
// extraction, and digest synthesis.
//
// Every call carries a hard timeout and a bounded retry with exponential
// backoff. When no API key is configured the client is constructed in
// degraded mode and every method returns ErrUnavailable immediately — the
// pipeline keeps running on extraction-only output.
package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable signals the language model cannot be reached: missing API
// key, exhausted retries, or a non-retryable API error. Callers degrade to
// extraction-only behavior instead of failing the item.
var ErrUnavailable = errors.New("analysis: model unavailable")

const defaultBaseURL = "https://api.anthropic.com/v1/messages"

// Task is a task line identified by the model.
type Task struct {
	Text    string `json:"text"`
	DueDate string `json:"due_date,omitempty"` // YYYY-MM-DD
}

// Config configures the Client.
type Config struct {
	APIKey     string
	Model      string        // Default: claude-sonnet-4-20250514.
	BaseURL    string        // Overridable for tests.
	Timeout    time.Duration // Hard cap per call, retries included. Default: 120s.
	MaxRetries int           // Retries after the first attempt. Default: 2.
	Backoff    time.Duration // Initial backoff, doubled per attempt. Default: 2s.
	MaxTokens  int           // Default: 4096.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (c *Config) defaults() {
	if c.Model == "" {
		c.Model = "claude-sonnet-4-20250514"
	}
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.Backoff <= 0 {
		c.Backoff = 2 * time.Second
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client is the enrichment client. A client with an empty API key is valid
// and permanently degraded.
type Client struct {
	config Config
}

// New creates a Client. It never fails: an empty API key yields a degraded
// client rather than an error, so the pipeline can start without one.
func New(cfg Config) *Client {
	cfg.defaults()
	return &Client{config: cfg}
}

// Available reports whether the client has credentials to call the API.
func (c *Client) Available() bool {
	return c.config.APIKey != ""
}

// TranscribeImage asks the model to transcribe all visible text in an image.
// mediaType is the MIME type of data (image/png, image/jpeg, ...).
func (c *Client) TranscribeImage(ctx context.Context, data []byte, mediaType string) (string, error) {
	blocks := []contentBlock{
		{
			Type: "image",
			Source: &imageSource{
				Type:      "base64",
				MediaType: mediaType,
				Data:      base64.StdEncoding.EncodeToString(data),
			},
		},
		{
			Type: "text",
			Text: "Transcribe all text visible in this image. Preserve the " +
				"original structure (lists, headings, line breaks). If the image " +
				"contains handwriting, transcribe it as accurately as possible. " +
				"Return only the transcription, no commentary.",
		},
	}
	return c.call(ctx, blocks)
}

// SummaryContext carries note metadata that anchors the summary prompt.
type SummaryContext struct {
	Title  string
	Source string // origin of the note, usually its file path or URL
}

// Summarize produces a short prose summary of a note.
func (c *Client) Summarize(ctx context.Context, text string, sc SummaryContext) (string, error) {
	var sb strings.Builder
	sb.WriteString("Summarize the following personal note in 2-4 sentences. " +
		"Keep concrete names, dates, and decisions. Return only the summary.\n")
	if sc.Title != "" {
		fmt.Fprintf(&sb, "\nTitle: %s", sc.Title)
	}
	if sc.Source != "" {
		fmt.Fprintf(&sb, "\nSource: %s", sc.Source)
	}
	sb.WriteString("\n\n")
	sb.WriteString(text)
	return c.callText(ctx, sb.String())
}

// ExtractTags asks for topical tags. Tags are lowercase and hyphenated.
func (c *Client) ExtractTags(ctx context.Context, text string) ([]string, error) {
	prompt := `Extract 2-6 topical tags from the following note. Return a JSON array of strings, lowercase and hyphenated (e.g. ["machine-learning","travel"]). Return ONLY the JSON array.

` + text
	raw, err := c.callText(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var tags []string
	if err := json.Unmarshal([]byte(stripFences(raw)), &tags); err != nil {
		return nil, fmt.Errorf("analysis: parse tags: %w (response: %s)", err, raw)
	}
	return tags, nil
}

// ExtractTasks asks for actionable items that marker scanning cannot catch,
// such as prose like "I need to call the dentist next week".
func (c *Client) ExtractTasks(ctx context.Context, text string) ([]Task, error) {
	prompt := `List the actionable tasks in the following note. Return a JSON array of objects with "text" and optional "due_date" (YYYY-MM-DD). Only include items a person would put on a to-do list. Return ONLY the JSON array, [] if there are none.

` + text
	raw, err := c.callText(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var out []Task
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		return nil, fmt.Errorf("analysis: parse tasks: %w (response: %s)", err, raw)
	}
	return out, nil
}

// SynthesizeDigest turns a window of note summaries into digest prose.
// The returned text is markdown body only; the caller owns headers and
// file layout.
func (c *Client) SynthesizeDigest(ctx context.Context, periodLabel string, summaries []string) (string, error) {
	var sb strings.Builder
	sb.WriteString("Write a digest of my notes for ")
	sb.WriteString(periodLabel)
	sb.WriteString(". Group related items, surface themes, and keep it under ")
	sb.WriteString("400 words. Use markdown with short sections. Do not invent ")
	sb.WriteString("content that is not in the notes.\n\nNotes:\n")
	for i, s := range summaries {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, s)
	}
	return c.callText(ctx, sb.String())
}

// AnalyzeTrends compares recent summaries against older ones and reports
// shifts in topics and activity.
func (c *Client) AnalyzeTrends(ctx context.Context, recent, previous []string) (string, error) {
	var sb strings.Builder
	sb.WriteString("Compare these two periods of my notes and describe trends: ")
	sb.WriteString("topics that appeared, faded, or intensified. Be concrete and ")
	sb.WriteString("brief, markdown bullets.\n\nRecent period:\n")
	for _, s := range recent {
		sb.WriteString("- " + s + "\n")
	}
	sb.WriteString("\nPrevious period:\n")
	for _, s := range previous {
		sb.WriteString("- " + s + "\n")
	}
	return c.callText(ctx, sb.String())
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) callText(ctx context.Context, prompt string) (string, error) {
	return c.call(ctx, []contentBlock{{Type: "text", Text: prompt}})
}

// call runs one Messages request under the hard timeout, retrying
// retryable failures with doubling backoff.
func (c *Client) call(ctx context.Context, blocks []contentBlock) (string, error) {
	if !c.Available() {
		return "", ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.Backoff
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.config.Logger.WarnContext(ctx, "retrying model call",
				"attempt", attempt,
				"max_retries", c.config.MaxRetries,
				"backoff_ms", backoff.Milliseconds(),
				"error", lastErr)
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		text, retryable, err := c.doRequest(ctx, blocks)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) doRequest(ctx context.Context, blocks []contentBlock) (text string, retryable bool, err error) {
	body, err := json.Marshal(apiRequest{
		Model:     c.config.Model,
		MaxTokens: c.config.MaxTokens,
		Messages:  []apiMessage{{Role: "user", Content: blocks}},
	})
	if err != nil {
		return "", false, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.config.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// Overload and server-side failures are worth retrying. Bad
		// requests and auth failures are not.
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", retry, fmt.Errorf("api status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed apiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", false, fmt.Errorf("unmarshal response: %w", err)
	}
	if parsed.Error != nil {
		return "", false, fmt.Errorf("api error %s: %s", parsed.Error.Type, parsed.Error.Message)
	}
	if len(parsed.Content) == 0 {
		return "", false, fmt.Errorf("empty response content")
	}
	return parsed.Content[0].Text, false, nil
}

// stripFences removes a markdown code fence the model sometimes wraps
// around JSON output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
