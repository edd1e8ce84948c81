package paper

import (
	"fmt"
	"strings"
)

// BuildPrompt composes the instruction sent to the model for req.
func BuildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a rigorous academic paper on %q of approximately %d words.\n", req.Topic, req.WordLimit)
	fmt.Fprintf(&b, "Use exactly these sections, in this order: %s.\n", strings.Join(req.Sections, ", "))
	b.WriteString("Begin each section on a new line with its title alone on that line, followed by the section text. ")
	b.WriteString("Keep a formal academic tone throughout. ")
	b.WriteString("Support claims with inline citations in APA style and cite academic sources where appropriate. ")
	b.WriteString("Be detailed and factual.")

	if bg := strings.TrimSpace(req.Background); bg != "" {
		b.WriteString("\n\nBackground material to draw on:\n---\n")
		b.WriteString(bg)
		b.WriteString("\n---")
	}
	return b.String()
}
