// Package classify resolves incoming note files to a canonical ContentType.
//
// Classification never fails: every path resolves to a type, defaulting to
// ContentDocument with a low-confidence flag when nothing matches. The
// pipeline stores opaque bytes as text rather than rejecting a file.
//
// Priority order: caller override, extension table, filename markers,
// content sniff (magic bytes), conservative default.
package classify

import (
	"bytes"
	"path/filepath"
	"strings"
)

// ContentType is the canonical classification of an ingested file.
type ContentType string

const (
	ContentDocument    ContentType = "document"
	ContentImage       ContentType = "image"
	ContentPDF         ContentType = "pdf"
	ContentWebClip     ContentType = "web_clip"
	ContentAIChat      ContentType = "ai_chat"
	ContentHandwritten ContentType = "handwritten_note"
	ContentScreenshot  ContentType = "screenshot"
)

// Types lists every ContentType the pipeline recognises.
func Types() []ContentType {
	return []ContentType{
		ContentDocument, ContentImage, ContentPDF, ContentWebClip,
		ContentAIChat, ContentHandwritten, ContentScreenshot,
	}
}

// Options tunes a classification call.
type Options struct {
	// Override, when non-empty, wins over every other rule.
	Override ContentType
}

// Result is the outcome of a classification.
type Result struct {
	Type ContentType
	// LowConfidence marks a conservative default (unrecognised file).
	LowConfidence bool
}

// chat-export markers checked against the lowercase base filename.
var chatMarkers = []string{"chat", "conversation", "claude", "chatgpt", "gpt"}

// Classify resolves path (and an optional content sniff of the file's first
// bytes) to a ContentType. It never returns an error.
func Classify(path string, sniff []byte, opts Options) Result {
	if opts.Override != "" {
		return Result{Type: opts.Override}
	}

	base := strings.ToLower(filepath.Base(path))
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp":
		return Result{Type: imageSubtype(base)}
	case ".pdf":
		return Result{Type: ContentPDF}
	case ".txt", ".md", ".markdown", ".rtf", ".doc", ".docx":
		return Result{Type: ContentDocument}
	case ".html", ".htm":
		return Result{Type: ContentWebClip}
	case ".url", ".webloc":
		// URL-reference files resolve to web_clip; the extractor
		// fetches the target page.
		return Result{Type: ContentWebClip}
	case ".json":
		if hasChatMarker(base) {
			return Result{Type: ContentAIChat}
		}
	}

	if t, ok := sniffType(base, sniff); ok {
		return Result{Type: t}
	}

	return Result{Type: ContentDocument, LowConfidence: true}
}

// imageSubtype refines an image file into handwritten_note or screenshot
// based on filename hints, defaulting to plain image.
func imageSubtype(base string) ContentType {
	switch {
	case strings.Contains(base, "handwritten"), strings.Contains(base, "scan"):
		return ContentHandwritten
	case strings.Contains(base, "screenshot"), strings.Contains(base, "screen_shot"),
		strings.Contains(base, "screen shot"):
		return ContentScreenshot
	default:
		return ContentImage
	}
}

func hasChatMarker(base string) bool {
	for _, m := range chatMarkers {
		if strings.Contains(base, m) {
			return true
		}
	}
	return false
}

var (
	magicPNG  = []byte{0x89, 'P', 'N', 'G'}
	magicJPEG = []byte{0xFF, 0xD8, 0xFF}
	magicGIF  = []byte("GIF8")
	magicPDF  = []byte("%PDF")
)

// sniffType inspects magic bytes for files with missing or wrong extensions.
func sniffType(base string, sniff []byte) (ContentType, bool) {
	if len(sniff) == 0 {
		return "", false
	}
	switch {
	case bytes.HasPrefix(sniff, magicPNG), bytes.HasPrefix(sniff, magicJPEG),
		bytes.HasPrefix(sniff, magicGIF):
		return imageSubtype(base), true
	case bytes.HasPrefix(sniff, magicPDF):
		return ContentPDF, true
	}

	trimmed := bytes.TrimSpace(sniff)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && hasChatMarker(base) {
		return ContentAIChat, true
	}
	if bytes.HasPrefix(bytes.ToLower(trimmed), []byte("<!doctype html")) ||
		bytes.HasPrefix(bytes.ToLower(trimmed), []byte("<html")) {
		return ContentWebClip, true
	}
	if bytes.HasPrefix(trimmed, []byte("http://")) || bytes.HasPrefix(trimmed, []byte("https://")) {
		return ContentWebClip, true
	}
	return "", false
}
