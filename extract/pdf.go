package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// extractPDF parses the document and runs the tiered chain over its text
// layer and page images.
func (p *Pipeline) extractPDF(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	pctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read %s: %w", path, err)
	}

	text, quality := extractTextLayer(pctx)
	res, err := p.runPDFTiers(ctx, path, text, quality, func() []pageImage {
		return collectPageImages(pctx)
	})
	if err != nil {
		return res, err
	}
	if res.Metadata == nil {
		res.Metadata = map[string]string{}
	}
	res.Metadata["pages"] = fmt.Sprintf("%d", pctx.PageCount)
	return res, nil
}

// runPDFTiers is the fallback chain: embedded text layer, then OCR over
// page images, then vision transcription. Each tier only runs when the
// previous one failed or produced untrustworthy output. A weak text layer
// is kept (flagged low-confidence) when every later tier fails; only a PDF
// with nothing at all yields ErrExhausted. Page images are collected
// lazily, a PDF with a good text layer never pays for decoding them.
func (p *Pipeline) runPDFTiers(ctx context.Context, path, text string, quality *pdfQuality, collect func() []pageImage) (*Result, error) {
	// Tier 1: embedded text layer.
	if text != "" && !quality.needsOCR() {
		return &Result{
			Title:         firstLine(text),
			ProcessedText: text,
			Tier:          TierTextLayer,
		}, nil
	}

	p.logger.Info("pdf text layer unusable, falling back",
		"path", path,
		"chars_per_page", quality.CharsPerPage,
		"printable_ratio", quality.PrintableRatio)

	images := collect()
	if len(images) > 0 {
		// Tier 2: OCR.
		if p.cfg.OCR != nil && p.cfg.OCR.Available() {
			if res, ok := p.ocrPages(ctx, images); ok {
				return res, nil
			}
			p.logger.Info("pdf ocr below threshold, falling back to vision", "path", path)
		}

		// Tier 3: vision transcription.
		if p.cfg.Transcriber != nil && p.cfg.Transcriber.Available() {
			if res, err := p.transcribePages(ctx, images); err == nil {
				return res, nil
			} else {
				p.logger.Warn("pdf vision transcription failed", "path", path, "error", err)
			}
		}
	}

	if text != "" {
		return &Result{
			Title:         firstLine(text),
			ProcessedText: text,
			Tier:          TierTextLayer,
			LowConfidence: true,
		}, nil
	}
	return &Result{Tier: TierNone}, fmt.Errorf("pdf %s: %w", path, ErrExhausted)
}

// pageImage is one raster image extracted from a PDF page.
type pageImage struct {
	PageNr    int
	Data      []byte
	Format    string // png, jpg, ...
	MediaType string
}

// ocrPages runs each page image through OCR. The pass succeeds only when
// the combined text clears the minimum-length threshold.
func (p *Pipeline) ocrPages(ctx context.Context, images []pageImage) (*Result, bool) {
	var sb strings.Builder
	for _, img := range images {
		res, err := p.cfg.OCR.Recognize(ctx, img.Data, img.Format)
		if err != nil {
			p.logger.Warn("ocr page failed", "page", img.PageNr, "error", err)
			continue
		}
		if t := strings.TrimSpace(res.Text); t != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(t)
		}
	}
	text := sb.String()
	if len([]rune(text)) < p.cfg.OCRMinChars {
		return nil, false
	}
	return &Result{
		Title:         firstLine(text),
		ProcessedText: text,
		Tier:          TierOCR,
	}, true
}

// transcribePages sends each page image to the vision model and joins the
// transcripts with page markers under the vision sentinel.
func (p *Pipeline) transcribePages(ctx context.Context, images []pageImage) (*Result, error) {
	var sb strings.Builder
	transcribed := 0
	for _, img := range images {
		text, err := p.cfg.Transcriber.TranscribeImage(ctx, img.Data, img.MediaType)
		if err != nil {
			return nil, fmt.Errorf("transcribe page %d: %w", img.PageNr, err)
		}
		if t := strings.TrimSpace(text); t != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			fmt.Fprintf(&sb, "Page %d:\n%s", img.PageNr, t)
			transcribed++
		}
	}
	if transcribed == 0 {
		return nil, fmt.Errorf("no pages transcribed")
	}
	body := sb.String()
	return &Result{
		Title:         firstLine(body),
		RawText:       body,
		ProcessedText: markVision(body),
		Tier:          TierVision,
	}, nil
}

// extractTextLayer pulls embedded text from every page and scores it.
func extractTextLayer(pctx *model.Context) (string, *pdfQuality) {
	var sb strings.Builder
	totalChars := 0
	for pageNr := 1; pageNr <= pctx.PageCount; pageNr++ {
		pageText := extractPageText(pctx, pageNr)
		if pageText == "" {
			continue
		}
		totalChars += len([]rune(pageText))
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(pageText)
	}

	text := sb.String()
	var charsPerPage float64
	if pctx.PageCount > 0 {
		charsPerPage = float64(totalChars) / float64(pctx.PageCount)
	}
	return text, &pdfQuality{
		PageCount:      pctx.PageCount,
		CharsPerPage:   charsPerPage,
		PrintableRatio: printableRatio(text),
		WordlikeRatio:  wordlikeRatio(text),
		HasImages:      detectImageStreams(pctx),
	}
}

// extractPageText extracts text from one page's content stream.
func extractPageText(pctx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(pctx, pageNr)
	if err != nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return extractTextFromStream(data)
}

// collectPageImages extracts raster images page by page. Scanned PDFs carry
// one full-page image per page.
func collectPageImages(pctx *model.Context) []pageImage {
	var out []pageImage
	for pageNr := 1; pageNr <= pctx.PageCount; pageNr++ {
		imgs, err := pdfcpu.ExtractPageImages(pctx, pageNr, false)
		if err != nil {
			continue
		}
		for _, img := range imgs {
			data, err := io.ReadAll(img)
			if err != nil || len(data) == 0 {
				continue
			}
			mt := mediaTypeFor(img.FileType)
			if mt == "" {
				continue
			}
			out = append(out, pageImage{
				PageNr:    pageNr,
				Data:      data,
				Format:    img.FileType,
				MediaType: mt,
			})
		}
	}
	return out
}

func mediaTypeFor(fileType string) string {
	switch strings.ToLower(fileType) {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	case "gif":
		return "image/gif"
	default:
		return ""
	}
}

// detectImageStreams checks whether the PDF contains image XObjects.
func detectImageStreams(pctx *model.Context) bool {
	if pctx.Optimize != nil {
		for pageNr := 1; pageNr <= pctx.PageCount; pageNr++ {
			if len(pdfcpu.ImageObjNrs(pctx, pageNr)) > 0 {
				return true
			}
		}
	}
	for _, entry := range pctx.Table {
		if entry == nil || entry.Free || entry.Compressed {
			continue
		}
		sd, ok := entry.Object.(types.StreamDict)
		if !ok {
			continue
		}
		if subtype, found := sd.Find("Subtype"); found {
			if name, isName := subtype.(types.Name); isName && name == "Image" {
				return true
			}
		}
	}
	return false
}

var pdfStringRe = regexp.MustCompile(`\(([^)]*)\)`)

// extractTextFromStream parses PDF content stream text operators.
func extractTextFromStream(data []byte) string {
	var sb strings.Builder
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		// (text) Tj and [(text) -100 (more)] TJ
		if bytes.HasSuffix(line, []byte("Tj")) || bytes.HasSuffix(line, []byte("TJ")) {
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteString(decodePDFString(m[1]))
			}
		}

		// (text) ' : move to next line and show
		if bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")) {
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				if text := decodePDFString(m[1]); text != "" {
					sb.WriteByte('\n')
					sb.WriteString(text)
				}
			}
		}

		if bytes.HasSuffix(line, []byte("Td")) || bytes.HasSuffix(line, []byte("TD")) {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
		}
		if bytes.Equal(line, []byte("T*")) {
			sb.WriteByte('\n')
		}
	}
	return cleanPDFText(sb.String())
}

// decodePDFString handles basic PDF escape sequences including octal.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\\' && i+1 < len(raw) {
			i++
			switch raw[i] {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case '\\', '(', ')':
				sb.WriteByte(raw[i])
			default:
				if raw[i] >= '0' && raw[i] <= '7' {
					val := int(raw[i] - '0')
					for j := 0; j < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; j++ {
						i++
						val = val*8 + int(raw[i]-'0')
					}
					sb.WriteByte(byte(val))
				} else {
					sb.WriteByte(raw[i])
				}
			}
		} else {
			sb.WriteByte(raw[i])
		}
	}
	return sb.String()
}

// cleanPDFText collapses whitespace and drops non-printable runes.
func cleanPDFText(text string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
		} else if unicode.IsPrint(r) {
			sb.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}
