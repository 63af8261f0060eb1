package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/notemill/classify"
	"github.com/hazyhaar/notemill/ocr"
	"github.com/hazyhaar/notemill/webfetch"
)

type fakeTranscriber struct {
	text  string
	err   error
	calls int
}

func (f *fakeTranscriber) TranscribeImage(_ context.Context, _ []byte, _ string) (string, error) {
	f.calls++
	return f.text, f.err
}
func (f *fakeTranscriber) Available() bool { return true }

type fakeOCR struct {
	text  string
	err   error
	calls int
}

func (f *fakeOCR) Recognize(_ context.Context, _ []byte, _ string) (*ocr.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ocr.Result{Text: f.text, Confidence: 0.9}, nil
}
func (f *fakeOCR) Available() bool { return true }

type fakeFetcher struct {
	body []byte
	err  error
	url  string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*webfetch.Result, error) {
	f.url = url
	if f.err != nil {
		return nil, f.err
	}
	return &webfetch.Result{Body: f.body, StatusCode: 200}, nil
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestExtractPlainText(t *testing.T) {
	path := writeFile(t, "note.md", "# Grocery plan\n\nbuy oats\nbuy milk\n")
	res, err := New(Config{}).Extract(context.Background(), path, classify.ContentDocument)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Tier != TierDirect {
		t.Errorf("tier: %q", res.Tier)
	}
	if res.Title != "Grocery plan" {
		t.Errorf("title: %q", res.Title)
	}
	if !strings.Contains(res.ProcessedText, "buy oats") {
		t.Errorf("text: %q", res.ProcessedText)
	}
}

func TestExtractRTFStripsControls(t *testing.T) {
	path := writeFile(t, "note.rtf",
		`{\rtf1\ansi{\fonttbl\f0\fswiss Helvetica;}\f0\pard hello from rtf\par}`)
	res, err := New(Config{}).Extract(context.Background(), path, classify.ContentDocument)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(res.ProcessedText, "hello from rtf") {
		t.Errorf("text: %q", res.ProcessedText)
	}
	if strings.Contains(res.ProcessedText, "\\rtf1") {
		t.Errorf("control words leaked: %q", res.ProcessedText)
	}
}

func TestExtractFileTooLarge(t *testing.T) {
	path := writeFile(t, "big.txt", strings.Repeat("x", 100))
	_, err := New(Config{MaxFileSize: 10}).Extract(context.Background(), path, classify.ContentDocument)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("err: %v", err)
	}
}

func TestExtractAIChatWrapper(t *testing.T) {
	path := writeFile(t, "chat.json", `{
		"title": "Trip planning",
		"messages": [
			{"role": "user", "content": "Where should I go in May?"},
			{"role": "assistant", "content": [{"type":"text","text":"Consider Lisbon."}]}
		]
	}`)
	res, err := New(Config{}).Extract(context.Background(), path, classify.ContentAIChat)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Title != "Trip planning" {
		t.Errorf("title: %q", res.Title)
	}
	if !strings.Contains(res.ProcessedText, "User: Where should I go") ||
		!strings.Contains(res.ProcessedText, "Assistant: Consider Lisbon.") {
		t.Errorf("transcript: %q", res.ProcessedText)
	}
}

func TestExtractAIChatBareArray(t *testing.T) {
	path := writeFile(t, "chat.json",
		`[{"role":"human","text":"hi"},{"role":"ai","text":"hello"}]`)
	res, err := New(Config{}).Extract(context.Background(), path, classify.ContentAIChat)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(res.ProcessedText, "User: hi") {
		t.Errorf("transcript: %q", res.ProcessedText)
	}
}

func TestExtractWebClipLocalHTML(t *testing.T) {
	path := writeFile(t, "clip.html", `<html><head><title>Sourdough basics</title>
		<script>alert(1)</script></head>
		<body><h1>Starter</h1><p>Feed it daily.</p></body></html>`)
	res, err := New(Config{}).Extract(context.Background(), path, classify.ContentWebClip)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Title != "Sourdough basics" {
		t.Errorf("title: %q", res.Title)
	}
	if !strings.Contains(res.ProcessedText, "Feed it daily.") {
		t.Errorf("markdown: %q", res.ProcessedText)
	}
	if strings.Contains(res.ProcessedText, "alert(1)") {
		t.Errorf("script leaked: %q", res.ProcessedText)
	}
}

func TestExtractBookmarkFetches(t *testing.T) {
	path := writeFile(t, "link.url", "[InternetShortcut]\r\nURL=https://example.com/article\r\n")
	ff := &fakeFetcher{body: []byte(`<html><head><title>Remote</title></head><body><p>remote body</p></body></html>`)}
	res, err := New(Config{Fetcher: ff}).Extract(context.Background(), path, classify.ContentWebClip)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if ff.url != "https://example.com/article" {
		t.Errorf("fetched url: %q", ff.url)
	}
	if res.Metadata["source_url"] != "https://example.com/article" {
		t.Errorf("metadata: %+v", res.Metadata)
	}
	if !strings.Contains(res.ProcessedText, "remote body") {
		t.Errorf("markdown: %q", res.ProcessedText)
	}
}

func TestParseBookmarkWebloc(t *testing.T) {
	data := []byte(`<?xml version="1.0"?><plist version="1.0"><dict>
		<key>URL</key><string>https://example.com/page</string></dict></plist>`)
	if got := parseBookmark(data); got != "https://example.com/page" {
		t.Errorf("parseBookmark: %q", got)
	}
	if got := parseBookmark([]byte("no url here")); got != "" {
		t.Errorf("parseBookmark(garbage): %q", got)
	}
}

func TestExtractImageVision(t *testing.T) {
	path := writeFile(t, "whiteboard.png", "\x89PNG\r\n\x1a\nfakebody")
	tr := &fakeTranscriber{text: "Q3 goals\n- ship the parser"}
	res, err := New(Config{Transcriber: tr}).Extract(context.Background(), path, classify.ContentHandwritten)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Tier != TierVision {
		t.Errorf("tier: %q", res.Tier)
	}
	if !IsVisionTranscript(res.ProcessedText) {
		t.Errorf("missing sentinel: %q", res.ProcessedText)
	}
	if !strings.Contains(res.ProcessedText, "ship the parser") {
		t.Errorf("body: %q", res.ProcessedText)
	}
}

func TestExtractImageWithoutVisionExhausts(t *testing.T) {
	path := writeFile(t, "photo.jpg", "\xff\xd8\xfffake")
	res, err := New(Config{}).Extract(context.Background(), path, classify.ContentImage)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("got %v, want ErrExhausted", err)
	}
	if res == nil || res.Tier != TierNone {
		t.Errorf("result: %+v", res)
	}
}

func TestPDFTierOrdering(t *testing.T) {
	ctx := context.Background()
	goodText := strings.Repeat("Readable meeting notes with plenty of words. ", 20)
	goodQuality := &pdfQuality{PageCount: 1, CharsPerPage: 900, PrintableRatio: 1.0, WordlikeRatio: 0.9}
	scanQuality := &pdfQuality{PageCount: 1, CharsPerPage: 0, PrintableRatio: 1.0, HasImages: true}
	images := []pageImage{{PageNr: 1, Data: []byte("img"), Format: "png", MediaType: "image/png"}}

	t.Run("good text layer skips later tiers", func(t *testing.T) {
		fo := &fakeOCR{text: "unused"}
		ft := &fakeTranscriber{text: "unused"}
		p := New(Config{OCR: fo, Transcriber: ft})
		collected := false
		res, err := p.runPDFTiers(ctx, "a.pdf", goodText, goodQuality, func() []pageImage {
			collected = true
			return images
		})
		if err != nil {
			t.Fatalf("tiers: %v", err)
		}
		if res.Tier != TierTextLayer || res.LowConfidence {
			t.Errorf("result: tier=%q low_confidence=%v", res.Tier, res.LowConfidence)
		}
		if collected || fo.calls != 0 || ft.calls != 0 {
			t.Errorf("later tiers ran: images=%v ocr=%d vision=%d", collected, fo.calls, ft.calls)
		}
	})

	t.Run("image-only pdf uses ocr", func(t *testing.T) {
		fo := &fakeOCR{text: strings.Repeat("recognized line of scanned text ", 4)}
		ft := &fakeTranscriber{text: "unused"}
		p := New(Config{OCR: fo, Transcriber: ft})
		res, err := p.runPDFTiers(ctx, "scan.pdf", "", scanQuality, func() []pageImage { return images })
		if err != nil {
			t.Fatalf("tiers: %v", err)
		}
		if res.Tier != TierOCR {
			t.Errorf("tier: %q", res.Tier)
		}
		if fo.calls != 1 || ft.calls != 0 {
			t.Errorf("calls: ocr=%d vision=%d", fo.calls, ft.calls)
		}
	})

	t.Run("short ocr falls through to vision", func(t *testing.T) {
		fo := &fakeOCR{text: "hi"}
		ft := &fakeTranscriber{text: "Whiteboard: ship the importer"}
		p := New(Config{OCR: fo, Transcriber: ft})
		res, err := p.runPDFTiers(ctx, "scan.pdf", "", scanQuality, func() []pageImage { return images })
		if err != nil {
			t.Fatalf("tiers: %v", err)
		}
		if res.Tier != TierVision || !IsVisionTranscript(res.ProcessedText) {
			t.Errorf("result: tier=%q text=%q", res.Tier, res.ProcessedText)
		}
		if fo.calls != 1 || ft.calls != 1 {
			t.Errorf("calls: ocr=%d vision=%d", fo.calls, ft.calls)
		}
	})

	t.Run("weak text layer survives failed tiers", func(t *testing.T) {
		fo := &fakeOCR{err: errors.New("ocr down")}
		ft := &fakeTranscriber{err: errors.New("vision down")}
		p := New(Config{OCR: fo, Transcriber: ft})
		weakQuality := &pdfQuality{PageCount: 1, CharsPerPage: 12, PrintableRatio: 1.0, HasImages: true}
		res, err := p.runPDFTiers(ctx, "scan.pdf", "faint header", weakQuality, func() []pageImage { return images })
		if err != nil {
			t.Fatalf("tiers: %v", err)
		}
		if res.Tier != TierTextLayer || !res.LowConfidence {
			t.Errorf("result: tier=%q low_confidence=%v", res.Tier, res.LowConfidence)
		}
		if res.ProcessedText != "faint header" {
			t.Errorf("text: %q", res.ProcessedText)
		}
	})

	t.Run("nothing extractable exhausts", func(t *testing.T) {
		p := New(Config{})
		res, err := p.runPDFTiers(ctx, "blank.pdf", "", scanQuality, func() []pageImage { return nil })
		if !errors.Is(err, ErrExhausted) {
			t.Fatalf("got %v, want ErrExhausted", err)
		}
		if res.Tier != TierNone {
			t.Errorf("tier: %q", res.Tier)
		}
	})
}

func TestExtractCorruptPDFRecordsFailure(t *testing.T) {
	path := writeFile(t, "broken.pdf", "%PDF-1.4 this is not a real pdf")
	res, err := New(Config{}).Extract(context.Background(), path, classify.ContentPDF)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("got %v, want ErrExhausted", err)
	}
	if res == nil || res.Tier != TierNone {
		t.Fatalf("result: %+v", res)
	}
	if res.Metadata["extraction_error"] == "" {
		t.Errorf("failure reason missing: %+v", res.Metadata)
	}
}

func TestExtractBookmarkFetchFailureRecords(t *testing.T) {
	path := writeFile(t, "link.url", "[InternetShortcut]\r\nURL=https://internal.example/page\r\n")
	ff := &fakeFetcher{err: errors.New("URL blocked")}
	res, err := New(Config{Fetcher: ff}).Extract(context.Background(), path, classify.ContentWebClip)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("got %v, want ErrExhausted", err)
	}
	if res.Tier != TierNone {
		t.Errorf("tier: %q", res.Tier)
	}
	if res.Metadata["source_url"] != "https://internal.example/page" {
		t.Errorf("metadata: %+v", res.Metadata)
	}
	if !strings.Contains(res.Metadata["extraction_error"], "URL blocked") {
		t.Errorf("failure reason: %+v", res.Metadata)
	}
}

func TestExtractAIChatMalformedKeepsRawText(t *testing.T) {
	path := writeFile(t, "chat.json", "not json, just a pasted conversation")
	res, err := New(Config{}).Extract(context.Background(), path, classify.ContentAIChat)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Tier != TierDirect || !res.LowConfidence {
		t.Errorf("result: tier=%q low_confidence=%v", res.Tier, res.LowConfidence)
	}
	if !strings.Contains(res.ProcessedText, "pasted conversation") {
		t.Errorf("text: %q", res.ProcessedText)
	}
}

func TestPDFStreamTextParsing(t *testing.T) {
	stream := []byte("BT\n/F1 12 Tf\n(Hello) Tj\n0 -14 Td\n[(World) -250 (again)] TJ\nET\n")
	got := extractTextFromStream(stream)
	if !strings.Contains(got, "Hello") || !strings.Contains(got, "Worldagain") {
		t.Errorf("stream text: %q", got)
	}
}

func TestDecodePDFStringEscapes(t *testing.T) {
	if got := decodePDFString([]byte(`a\(b\)c\\d`)); got != `a(b)c\d` {
		t.Errorf("escapes: %q", got)
	}
	if got := decodePDFString([]byte(`x\040y`)); got != "x y" {
		t.Errorf("octal: %q", got)
	}
}

func TestQualityGate(t *testing.T) {
	q := &pdfQuality{CharsPerPage: 10, HasImages: true, PrintableRatio: 1.0}
	if !q.needsOCR() {
		t.Error("thin text over images should trigger OCR")
	}
	q = &pdfQuality{CharsPerPage: 2000, HasImages: true, PrintableRatio: 0.99}
	if q.needsOCR() {
		t.Error("dense clean text should not trigger OCR")
	}
	q = &pdfQuality{CharsPerPage: 2000, PrintableRatio: 0.5}
	if !q.needsOCR() {
		t.Error("garbled text should trigger OCR")
	}
}

func TestPrintableRatio(t *testing.T) {
	if r := printableRatio("clean text"); r != 1.0 {
		t.Errorf("clean: %f", r)
	}
	if r := printableRatio("ab"); r >= 0.85 {
		t.Errorf("PUA garbage scored too high: %f", r)
	}
}
