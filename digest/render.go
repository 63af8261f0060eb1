package digest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/notemill/store"
)

var typeTitles = map[string]string{
	TypeWeekly:  "Weekly Digest",
	TypeMonthly: "Monthly Digest",
	TypeTasks:   "Task List",
	TypeTopics:  "Topic Rollup",
	TypeTrends:  "Trend Report",
}

// buildDocument assembles the full markdown document: title, period line,
// body, and the top-tags rollup.
func buildDocument(digestType string, w Window, body string, topTags []store.TagCount, generatedAt time.Time) string {
	title := typeTitles[digestType]
	if title == "" {
		title = "Digest"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s: %s to %s\n\n", title,
		w.Start.Format("2006-01-02"),
		w.End.Add(-24*time.Hour).Format("2006-01-02"))
	fmt.Fprintf(&sb, "Generated %s\n\n", generatedAt.Format("2006-01-02 15:04 UTC"))
	sb.WriteString(strings.TrimSpace(body))
	sb.WriteString("\n")

	if len(topTags) > 0 && digestType != TypeTopics {
		sb.WriteString("\n## Top tags\n\n")
		for _, tc := range topTags {
			fmt.Fprintf(&sb, "- #%s (%d)\n", tc.Tag, tc.Count)
		}
	}
	return sb.String()
}

// writeDigestFile writes the document under outDir as
// <type>_digest_<start>_to_<end>.md, via a temp file and rename so readers
// never observe a half-written digest.
func writeDigestFile(outDir, digestType string, w Window, doc string) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("digest: mkdir %s: %w", outDir, err)
	}

	name := fmt.Sprintf("%s_digest_%s.md", digestType, w.Label())
	path := filepath.Join(outDir, name)

	tmp, err := os.CreateTemp(outDir, name+".tmp*")
	if err != nil {
		return "", fmt.Errorf("digest: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(doc); err != nil {
		tmp.Close()
		return "", fmt.Errorf("digest: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("digest: close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("digest: rename %s: %w", name, err)
	}
	return path, nil
}
