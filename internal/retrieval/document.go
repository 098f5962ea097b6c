// Package retrieval fetches documents from the vector store and renders them
// into prompt context.
package retrieval

import (
	"strings"

	"github.com/seenimoa/portiq/pkg/models"
)

// DefaultMaxContextChars bounds the filings context handed to the model.
const DefaultMaxContextChars = 15000

const (
	noFilingsContent = "No relevant content found"
	noNewsContent    = "No news found"
	truncatedSuffix  = "\n\n[Content truncated due to length...]"
	newsDivider      = 50
)

// FilingsToContext joins filing bodies with blank lines. Output longer than
// maxChars runes is cut and marked as truncated. maxChars <= 0 selects
// DefaultMaxContextChars.
func FilingsToContext(docs []models.Document, maxChars int) string {
	if len(docs) == 0 {
		return noFilingsContent
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxContextChars
	}

	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.Content != "" {
			parts = append(parts, d.Content)
		}
	}
	content := strings.Join(parts, "\n\n")

	runes := []rune(content)
	if len(runes) > maxChars {
		return string(runes[:maxChars]) + truncatedSuffix
	}
	return content
}

// NewsToContext renders each article as a TITLE/DATE/CONTENT block.
func NewsToContext(docs []models.Document) string {
	if len(docs) == 0 {
		return noNewsContent
	}

	items := make([]string, 0, len(docs))
	for _, d := range docs {
		title := d.Metadata[models.MetaTitle]
		if title == "" {
			title = "No title"
		}
		date := d.Metadata[models.MetaDate]
		if date == "" {
			date = "No date"
		}
		items = append(items, "TITLE: "+title+"\nDATE: "+date+"\nCONTENT: "+d.Content+"\n")
	}
	return "\n" + strings.Repeat("=", newsDivider) + strings.Join(items, "\n")
}
