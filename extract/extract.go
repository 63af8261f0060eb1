// Package extract turns inbox files into text.
//
// Each content type has its own extractor; PDFs additionally run a tiered
// fallback chain (text layer, then OCR, then vision transcription). A file
// whose every tier fails yields ErrExhausted — the item is still recorded,
// with Tier set to TierNone.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hazyhaar/notemill/classify"
	"github.com/hazyhaar/notemill/ocr"
	"github.com/hazyhaar/notemill/webfetch"
)

// ErrExhausted signals that every applicable extraction tier failed.
var ErrExhausted = errors.New("extract: all tiers exhausted")

// Extraction tiers, recorded on each content item.
const (
	TierDirect    = "direct"         // plain read or format parse
	TierTextLayer = "pdf_text_layer" // embedded PDF text
	TierOCR       = "ocr"            // external OCR service
	TierVision    = "vision"         // model transcription of page images
	TierNone      = "none"           // nothing worked
)

// VisionSentinel prefixes text produced by vision transcription, separated
// from the body by a blank line. Downstream consumers use it to tell
// transcribed content from literal file text.
const VisionSentinel = "[transcribed from image]"

// IsVisionTranscript reports whether text was produced by the vision tier.
func IsVisionTranscript(text string) bool {
	return strings.HasPrefix(text, VisionSentinel)
}

func markVision(body string) string {
	return VisionSentinel + "\n\n" + body
}

// Result is the outcome of extracting one file.
type Result struct {
	Title         string
	RawText       string // text as extracted, before cleanup
	ProcessedText string
	Tier          string
	Metadata      map[string]string
	LowConfidence bool
}

// Transcriber is the vision slice of the analysis client.
type Transcriber interface {
	TranscribeImage(ctx context.Context, data []byte, mediaType string) (string, error)
	Available() bool
}

// Recognizer is the OCR client surface the PDF chain needs.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, format string) (*ocr.Result, error)
	Available() bool
}

// Fetcher retrieves web pages for URL-clip files.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*webfetch.Result, error)
}

// Config configures the Pipeline.
type Config struct {
	Transcriber Transcriber
	OCR         Recognizer
	Fetcher     Fetcher
	MaxFileSize int64 // Default: 50MB.
	// OCRMinChars is the minimum recognized text length for an OCR pass to
	// count as a success. Default: 50.
	OCRMinChars int
	Logger      *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 50 * 1024 * 1024
	}
	if c.OCRMinChars <= 0 {
		c.OCRMinChars = 50
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Fetcher == nil {
		c.Fetcher = webfetch.New(webfetch.Config{})
	}
}

// Pipeline dispatches extraction by content type.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	cfg.defaults()
	return &Pipeline{cfg: cfg, logger: cfg.Logger}
}

// Extract reads the file at path and produces text according to its
// classified type. Extraction failures of any kind (exhausted tier chains,
// corrupt files, unreachable clip targets) return ErrExhausted (wrapped)
// together with a TierNone result carrying the failure reason in
// Metadata["extraction_error"]; callers persist that result so the failed
// item stays visible instead of vanishing on queue retry.
func (p *Pipeline) Extract(ctx context.Context, path string, contentType classify.ContentType) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > p.cfg.MaxFileSize {
		return nil, fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), p.cfg.MaxFileSize)
	}

	start := time.Now()
	p.logger.Debug("extracting", "path", path, "type", contentType)

	var res *Result
	switch contentType {
	case classify.ContentPDF:
		res, err = p.extractPDF(ctx, path)
	case classify.ContentImage, classify.ContentHandwritten, classify.ContentScreenshot:
		res, err = p.extractImage(ctx, path)
	case classify.ContentWebClip:
		res, err = p.extractWebClip(ctx, path)
	case classify.ContentAIChat:
		res, err = p.extractAIChat(path)
	default:
		res, err = p.extractDocument(path)
	}
	if err != nil {
		if !errors.Is(err, ErrExhausted) {
			p.logger.Warn("extraction failed, recording failure",
				"path", path, "type", contentType, "error", err)
			err = fmt.Errorf("%v: %w", err, ErrExhausted)
		}
		if res == nil {
			res = &Result{Tier: TierNone}
		}
		if res.Metadata == nil {
			res.Metadata = map[string]string{}
		}
		if res.Metadata["extraction_error"] == "" {
			res.Metadata["extraction_error"] = err.Error()
		}
		return res, err
	}

	res.ProcessedText = strings.TrimSpace(res.ProcessedText)
	if res.RawText == "" {
		res.RawText = res.ProcessedText
	}
	if res.Metadata == nil {
		res.Metadata = map[string]string{}
	}
	p.logger.Debug("extracted", "path", path, "tier", res.Tier,
		"chars", len(res.ProcessedText), "duration_ms", time.Since(start).Milliseconds())
	return res, nil
}
