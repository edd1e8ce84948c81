// Package reference loads background material that is appended to a
// generation prompt.
package reference

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// DefaultMaxRunes bounds the material so the prompt stays well inside a
// typical context window.
const DefaultMaxRunes = 6000

// ErrNotText is returned for files that are neither PDF nor valid UTF-8.
var ErrNotText = errors.New("file is not UTF-8 text")

// Load reads path and returns its normalized text, truncated to
// DefaultMaxRunes.
func Load(path string) (string, error) {
	return LoadLimit(path, DefaultMaxRunes)
}

// LoadLimit is Load with an explicit rune budget. maxRunes <= 0 disables
// truncation.
func LoadLimit(path string, maxRunes int) (string, error) {
	var (
		text string
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		text, err = readPDF(path)
	} else {
		text, err = readText(path)
	}
	if err != nil {
		return "", err
	}
	return Truncate(Normalize(text), maxRunes), nil
}

func readText(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("reading %s: %w", path, ErrNotText)
	}
	return string(b), nil
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	return buf.String(), nil
}

// Normalize collapses runs of spaces and tabs, trims every line and drops
// runs of more than one blank line.
func Normalize(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// Truncate cuts text to at most maxRunes runes, preferring a word boundary.
func Truncate(text string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)[:maxRunes]
	cut := string(runes)
	if i := strings.LastIndexAny(cut, " \n"); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}
