// Package ocr is a client for an external OCR service used as the middle
// tier of scanned-PDF extraction. The service receives a base64 page image
// and returns recognized text with a confidence score.
//
// OCR is optional: with no endpoint configured every call returns
// ErrNoEndpoint and the extraction chain falls through to vision
// transcription.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNoEndpoint is returned when the client has no OCR service configured.
var ErrNoEndpoint = errors.New("ocr: no endpoint configured")

// Result is the service's response for one image.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Config configures the Client.
type Config struct {
	Endpoint   string        // OCR service URL. Empty disables the client.
	Timeout    time.Duration // Per-call timeout. Default: 60s.
	HTTPClient *http.Client
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
}

// Client calls the OCR service.
type Client struct {
	config Config
}

// New creates a Client. An empty endpoint yields a disabled client.
func New(cfg Config) *Client {
	cfg.defaults()
	return &Client{config: cfg}
}

// Available reports whether an endpoint is configured.
func (c *Client) Available() bool {
	return c.config.Endpoint != ""
}

type ocrRequest struct {
	Image  string `json:"image"` // base64
	Format string `json:"format,omitempty"`
}

// Recognize submits one image and returns the recognized text.
func (c *Client) Recognize(ctx context.Context, image []byte, format string) (*Result, error) {
	if !c.Available() {
		return nil, ErrNoEndpoint
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	body, err := json.Marshal(ocrRequest{
		Image:  base64.StdEncoding.EncodeToString(image),
		Format: format,
	})
	if err != nil {
		return nil, fmt.Errorf("ocr: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ocr: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocr: call %s: %w", c.config.Endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ocr: status %d: %s", resp.StatusCode, msg)
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ocr: decode response: %w", err)
	}
	return &out, nil
}
