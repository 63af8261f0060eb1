package extract

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// extractImage transcribes a standalone image (photo, handwritten note,
// screenshot) with the vision model. There is no cheaper tier for loose
// images: either the model reads it or the item is recorded empty.
func (p *Pipeline) extractImage(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	mediaType := imageMediaType(path, data)
	if mediaType == "" {
		return &Result{Tier: TierNone}, fmt.Errorf("unsupported image format %s: %w", path, ErrExhausted)
	}

	if p.cfg.Transcriber == nil || !p.cfg.Transcriber.Available() {
		return &Result{Tier: TierNone}, fmt.Errorf("image %s needs vision transcription: %w", path, ErrExhausted)
	}

	text, err := p.cfg.Transcriber.TranscribeImage(ctx, data, mediaType)
	if err != nil {
		return &Result{Tier: TierNone}, fmt.Errorf("transcribe %s: %v: %w", path, err, ErrExhausted)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return &Result{Tier: TierNone}, fmt.Errorf("image %s produced no text: %w", path, ErrExhausted)
	}

	return &Result{
		Title:         firstLine(text),
		RawText:       text,
		ProcessedText: markVision(text),
		Tier:          TierVision,
		Metadata:      map[string]string{"media_type": mediaType},
	}, nil
}

// imageMediaType resolves a MIME type from the extension, falling back to
// content sniffing for misnamed files.
func imageMediaType(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	}
	if ct := http.DetectContentType(data); strings.HasPrefix(ct, "image/") {
		return ct
	}
	return ""
}
