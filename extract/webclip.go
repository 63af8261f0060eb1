package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// extractWebClip handles saved HTML pages and URL bookmark files.
// Bookmarks (.url, .webloc) are resolved by fetching the page first.
func (p *Pipeline) extractWebClip(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	sourceURL := ""
	switch strings.ToLower(filepath.Ext(path)) {
	case ".url", ".webloc":
		sourceURL = parseBookmark(data)
		if sourceURL == "" {
			return nil, fmt.Errorf("bookmark %s: no URL found", path)
		}
		fetched, err := p.cfg.Fetcher.Fetch(ctx, sourceURL)
		if err != nil {
			return fetchFailure(sourceURL), fmt.Errorf("bookmark %s: %v: %w", path, err, ErrExhausted)
		}
		data = fetched.Body
	default:
		// Bare-URL text files classify as web clips too.
		if trimmed := strings.TrimSpace(string(data)); isBareURL(trimmed) {
			sourceURL = trimmed
			fetched, err := p.cfg.Fetcher.Fetch(ctx, sourceURL)
			if err != nil {
				return fetchFailure(sourceURL), fmt.Errorf("fetch %s: %v: %w", sourceURL, err, ErrExhausted)
			}
			data = fetched.Body
		}
	}

	title := htmlTitle(data)
	markdown, err := htmlToMarkdown(string(data), sourceURL)
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", path, err)
	}
	if strings.TrimSpace(markdown) == "" {
		return nil, fmt.Errorf("web clip %s: no readable content", path)
	}

	meta := map[string]string{}
	if sourceURL != "" {
		meta["source_url"] = sourceURL
	}
	return &Result{
		Title:         title,
		RawText:       string(data),
		ProcessedText: markdown,
		Tier:          TierDirect,
		Metadata:      meta,
	}, nil
}

// fetchFailure records an unreachable clip target. The URL survives in
// metadata so the item can be retried or inspected later.
func fetchFailure(sourceURL string) *Result {
	return &Result{
		Tier:     TierNone,
		Metadata: map[string]string{"source_url": sourceURL},
	}
}

// htmlToMarkdown sanitizes the HTML and renders it as markdown. The
// sanitizer strips scripts, styles, and event handlers before conversion.
func htmlToMarkdown(rawHTML, domain string) (string, error) {
	clean := bluemonday.UGCPolicy().Sanitize(rawHTML)

	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	var opts []converter.ConvertOptionFunc
	if domain != "" {
		opts = append(opts, converter.WithDomain(domain))
	}
	return conv.ConvertString(clean, opts...)
}

// htmlTitle returns the <title> text, if any.
func htmlTitle(data []byte) string {
	doc, err := html.Parse(strings.NewReader(string(data)))
	if err != nil {
		return ""
	}
	var find func(*html.Node) string
	find = func(n *html.Node) string {
		if n.Type == html.ElementNode && n.DataAtom == atom.Title && n.FirstChild != nil {
			return strings.TrimSpace(n.FirstChild.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if t := find(c); t != "" {
				return t
			}
		}
		return ""
	}
	return find(doc)
}

var (
	urlFileRe   = regexp.MustCompile(`(?mi)^URL\s*=\s*(\S+)`)
	weblocURLRe = regexp.MustCompile(`<string>(https?://[^<]+)</string>`)
	bareURLRe   = regexp.MustCompile(`^https?://\S+$`)
)

// parseBookmark extracts the target URL from a Windows .url (INI) or macOS
// .webloc (XML plist) file. Binary plists are not supported.
func parseBookmark(data []byte) string {
	if m := urlFileRe.FindSubmatch(data); m != nil {
		return string(m[1])
	}
	if m := weblocURLRe.FindSubmatch(data); m != nil {
		return string(m[1])
	}
	return ""
}

func isBareURL(s string) bool {
	return !strings.ContainsAny(s, "\n\r") && bareURLRe.MatchString(s)
}
