package extract

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// extractDocument handles plain-text-ish formats: .txt, .md, .rtf, .docx.
// Unknown extensions fall back to a plain read, which matches how
// low-confidence classification treats unrecognized files.
func (p *Pipeline) extractDocument(path string) (*Result, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".docx", ".doc":
		return extractDocx(path)
	case ".rtf":
		return extractRTF(path)
	default:
		return extractPlainText(path)
	}
}

func extractPlainText(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	text := normalizeNewlines(string(data))
	return &Result{
		Title:         firstLine(text),
		RawText:       string(data),
		ProcessedText: text,
		Tier:          TierDirect,
	}, nil
}

// docBody mirrors the parts of word/document.xml we read: paragraphs of
// text runs.
type docBody struct {
	Paragraphs []struct {
		Runs []struct {
			Text string `xml:",chardata"`
		} `xml:"r>t"`
	} `xml:"body>p"`
}

func extractDocx(path string) (*Result, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open docx %s: %w", path, err)
	}
	defer zr.Close()

	var docFile *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return nil, fmt.Errorf("docx %s: no word/document.xml", path)
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, fmt.Errorf("open document.xml: %w", err)
	}
	defer rc.Close()

	var body docBody
	if err := xml.NewDecoder(rc).Decode(&body); err != nil {
		return nil, fmt.Errorf("parse document.xml: %w", err)
	}

	var sb strings.Builder
	for _, para := range body.Paragraphs {
		var line strings.Builder
		for _, run := range para.Runs {
			line.WriteString(run.Text)
		}
		if t := strings.TrimSpace(line.String()); t != "" {
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(t)
		}
	}

	text := sb.String()
	if text == "" {
		return nil, fmt.Errorf("docx %s: no text content", path)
	}
	return &Result{
		Title:         firstLine(text),
		ProcessedText: text,
		Tier:          TierDirect,
	}, nil
}

var (
	rtfGroupRe   = regexp.MustCompile(`\{\\(?:\*|fonttbl|colortbl|stylesheet|info|pict)[^{}]*\}`)
	rtfControlRe = regexp.MustCompile(`\\[a-zA-Z]+-?\d* ?`)
)

func extractRTF(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	text := string(data)
	// Strip font tables and similar metadata groups, then control words.
	for i := 0; i < 3; i++ {
		text = rtfGroupRe.ReplaceAllString(text, "")
	}
	text = rtfControlRe.ReplaceAllString(text, "")
	text = strings.NewReplacer("{", "", "}", "", "\\", "").Replace(text)
	text = normalizeNewlines(text)
	return &Result{
		Title:         firstLine(text),
		RawText:       string(data),
		ProcessedText: text,
		Tier:          TierDirect,
	}, nil
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s)
}

// firstLine returns the first non-empty line, capped for use as a title.
func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "# "))
		if line != "" {
			if len(line) > 200 {
				line = line[:200]
			}
			return line
		}
	}
	return ""
}
