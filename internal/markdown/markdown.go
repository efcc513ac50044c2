// Package markdown renders markdown documents to plain text so that
// prompt-sized excerpts can be taken without markup noise.
package markdown

import (
	"bytes"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// ToPlainText renders md to HTML and strips the tags, leaving readable
// text content.
func ToPlainText(md string) string {
	opts := html.RendererOptions{Flags: html.CommonFlags}
	renderer := html.NewRenderer(opts)
	p := parser.NewWithExtensions(parser.CommonExtensions)
	doc := p.Parse([]byte(md))
	return stripTags(string(markdown.Render(doc, renderer)))
}

// Excerpt returns the first maxRunes runes of the document's plain-text
// rendering, for bounded prompt context.
func Excerpt(md string, maxRunes int) string {
	text := ToPlainText(md)
	runes := []rune(text)
	if maxRunes <= 0 || len(runes) <= maxRunes {
		return text
	}
	return string(runes[:maxRunes])
}

func stripTags(htmlContent string) string {
	var out bytes.Buffer
	inTag := false
	for _, ch := range htmlContent {
		switch ch {
		case '<':
			inTag = true
		case '>':
			inTag = false
		default:
			if !inTag {
				out.WriteRune(ch)
			}
		}
	}
	return out.String()
}
