package markdown

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-shiori/go-readability"
)

// Converter turns page HTML into markdown. The concrete conversion grammar
// is an external collaborator; Readability below is the default used when
// nothing richer is plugged in.
type Converter interface {
	Convert(html, pageURL string) (string, error)
}

// Readability extracts the article body with go-readability and renders a
// plain markdown document from it: title heading plus normalized text.
type Readability struct{}

func NewReadability() *Readability { return &Readability{} }

var blankLines = regexp.MustCompile(`\n{3,}`)

func (r *Readability) Convert(html, pageURL string) (string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		parsed = &url.URL{}
	}

	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}

	var b strings.Builder
	if article.Title != "" {
		b.WriteString("# ")
		b.WriteString(article.Title)
		b.WriteString("\n\n")
	}
	if article.Byline != "" {
		b.WriteString("_")
		b.WriteString(article.Byline)
		b.WriteString("_\n\n")
	}

	text := strings.TrimSpace(article.TextContent)
	text = blankLines.ReplaceAllString(text, "\n\n")
	b.WriteString(text)
	b.WriteString("\n")

	return b.String(), nil
}
