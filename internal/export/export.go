// Package export renders generated papers as Markdown or sanitized HTML.
package export

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"

	"github.com/citeai/citeai/internal/sections"
)

// Format names an export format.
type Format string

const (
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
)

// ParseFormat accepts "md", "markdown" and "html", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "md", "markdown":
		return FormatMarkdown, nil
	case "html", "htm":
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("unsupported export format %q (want md or html)", s)
	}
}

// FormatForPath picks the format from a file extension, defaulting to Markdown.
func FormatForPath(path string) Format {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm") {
		return FormatHTML
	}
	return FormatMarkdown
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	if f == FormatHTML {
		return "text/html; charset=utf-8"
	}
	return "text/markdown; charset=utf-8"
}

// Markdown renders title as a level-1 heading and every section as a
// level-2 heading followed by its body.
func Markdown(title string, secs sections.Map) string {
	var b strings.Builder
	if t := strings.TrimSpace(title); t != "" {
		fmt.Fprintf(&b, "# %s\n\n", t)
	}
	for _, s := range secs.Sections() {
		label := s.Label
		if label == "" {
			label = s.Key
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", label, strings.TrimSpace(s.Body))
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

var policy = bluemonday.UGCPolicy()

// HTML converts the Markdown rendering to a standalone HTML document. Model
// output is untrusted, so the converted body is sanitized.
func HTML(title string, secs sections.Map) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(Markdown(title, secs)), &buf); err != nil {
		return "", fmt.Errorf("converting markdown: %w", err)
	}
	body := policy.SanitizeBytes(buf.Bytes())

	var doc strings.Builder
	doc.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&doc, "<title>%s</title>\n", html.EscapeString(strings.TrimSpace(title)))
	doc.WriteString("</head>\n<body>\n")
	doc.Write(body)
	doc.WriteString("</body>\n</html>\n")
	return doc.String(), nil
}

// Render renders in format f.
func Render(f Format, title string, secs sections.Map) (string, error) {
	if f == FormatHTML {
		return HTML(title, secs)
	}
	return Markdown(title, secs), nil
}
