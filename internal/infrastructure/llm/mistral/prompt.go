package mistral

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/sci-librarian/internal/core/domain"
)

const maxPromptText = 16000

func buildExtractionPrompt(text string, rules domain.RuleSet) string {
	snippet := truncateOnRuneBoundary(text, maxPromptText)

	var categories strings.Builder
	for _, rule := range rules.Rules() {
		fmt.Fprintf(&categories, "Category: <name>%s</name> <description>%s</description>\n", rule.Name, rule.Description)
	}

	return fmt.Sprintf(`Extract Title, Authors, Abstract from the following scientific paper text.
Provide a 1-line summary.
Match the abstract against these categories to select the applicable categories for the text.

<categories>
%s</categories>

Text:

<text>
%s
</text>

Respond ONLY with JSON in this format, where the "categories" key has an array of strings with the exact names of the categories matched to the text:

{"title": "...", "authors": ["..."], "summary": "...", "abstract": "...", "categories": ["...","..."]}`,
		categories.String(), snippet)
}

// truncateOnRuneBoundary cuts s to at most max bytes without splitting a
// multi-byte rune, so the prompt never carries a mangled tail.
func truncateOnRuneBoundary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
