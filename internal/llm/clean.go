package llm

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/personas-nlq/backend/internal/persons"
)

// Phrases a model uses when it declines to answer from the given data.
var nonAnswerPhrases = []string{
	"informacion insuficiente",
	"no tengo suficiente informacion",
	"no hay suficiente informacion",
	"no cuento con suficiente informacion",
	"no dispongo de suficiente informacion",
	"insufficient information",
	"not enough information",
	"i don't have enough information",
}

// Clean reduces a completion to plain text. Models sometimes wrap answers
// in HTML; tags are dropped and blank runs collapsed.
func Clean(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}

	if strings.Contains(content, "<") && strings.Contains(content, ">") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(content)); err == nil {
			doc.Find("script, style").Remove()
			doc.Find("br").ReplaceWithHtml("\n")
			doc.Find("p, li, div").Each(func(_ int, s *goquery.Selection) {
				s.AppendHtml("\n")
			})
			content = doc.Text()
		}
	}

	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" && (len(out) == 0 || out[len(out)-1] == "") {
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// IsNonAnswer reports whether text is a refusal to answer.
func IsNonAnswer(text string) bool {
	folded := persons.Fold(text)
	for _, phrase := range nonAnswerPhrases {
		if strings.Contains(folded, phrase) {
			return true
		}
	}
	return false
}
