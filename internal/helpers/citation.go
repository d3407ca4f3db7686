package helpers

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/omegarag/models"
)

// citationConfig controls formatting behaviour.
type citationConfig struct {
	maxSnippet int
}

// CitationOption configures citation formatting.
type CitationOption func(*citationConfig)

// WithMaxSnippetLength truncates abstract snippets to n runes (default 180). Zero drops the snippet.
func WithMaxSnippetLength(n int) CitationOption {
	return func(cfg *citationConfig) {
		if n >= 0 {
			cfg.maxSnippet = n
		}
	}
}

// FormatCitation renders one study as a single reference line:
// [n] Title. Journal, YYYY-MM-DD. "Snippet" PMID 123 <pubmed.ncbi.nlm.nih.gov>
func FormatCitation(n int, s models.Source, opts ...CitationOption) string {
	cfg := citationConfig{maxSnippet: 180}
	for _, opt := range opts {
		opt(&cfg)
	}

	parts := []string{"[" + strconv.Itoa(n) + "]"}
	title := strings.TrimSpace(s.Title)
	if title == "" {
		title = "Untitled study"
	}
	parts = append(parts, strings.TrimSuffix(title, ".")+".")

	var meta []string
	if j := strings.TrimSpace(s.Journal); j != "" {
		meta = append(meta, j)
	}
	if d := strings.TrimSpace(s.PublicationDate); d != "" {
		meta = append(meta, d)
	}
	if len(meta) > 0 {
		parts = append(parts, strings.Join(meta, ", ")+".")
	}

	if snippet := formatSnippet(s.Abstract, cfg.maxSnippet); snippet != "" {
		parts = append(parts, snippet)
	}
	if id := strings.TrimSpace(s.Identifier); id != "" {
		parts = append(parts, "PMID "+id)
	}
	if domain := extractDomain(s.SourceURL); domain != "" {
		parts = append(parts, "<"+domain+">")
	}
	return strings.Join(parts, " ")
}

// FormatCitations numbers sources from 1 in the order given.
func FormatCitations(sources []models.Source, opts ...CitationOption) []string {
	if len(sources) == 0 {
		return nil
	}
	out := make([]string, 0, len(sources))
	for i, s := range sources {
		out = append(out, FormatCitation(i+1, s, opts...))
	}
	return out
}

var citationMarker = regexp.MustCompile(`\[(\d+(?:\s*,\s*\d+)*)\]`)

// CitedIndices returns the distinct 1-based source numbers referenced by [n] or [n, m] markers
// in text, ascending. Numbers outside 1..count are ignored.
func CitedIndices(text string, count int) []int {
	seen := map[int]bool{}
	for _, m := range citationMarker.FindAllStringSubmatch(text, -1) {
		for _, part := range strings.Split(m[1], ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || n < 1 || n > count {
				continue
			}
			seen[n] = true
		}
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func formatSnippet(snippet string, limit int) string {
	if limit == 0 {
		return ""
	}
	// Collapse whitespace.
	snippet = strings.Join(strings.Fields(snippet), " ")
	if snippet == "" {
		return ""
	}
	if r := []rune(snippet); len(r) > limit {
		snippet = strings.TrimSpace(string(r[:limit])) + "…"
	}
	return `"` + strings.Trim(snippet, `"`) + `"`
}

func extractDomain(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimSuffix(host, ":80")
	host = strings.TrimSuffix(host, ":443")
	return host
}
