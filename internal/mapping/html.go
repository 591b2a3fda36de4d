package mapping

import (
	"fmt"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// NormalizeHTML converts raw HTML into Markdown text. The ingestion
// pipeline does not call it: documents of every document_type, "html"
// included, reach Map unchanged.
func NormalizeHTML(raw string) (string, error) {
	md, err := htmltomarkdown.ConvertString(raw)
	if err != nil {
		return "", fmt.Errorf("mapping: html to markdown: %w", err)
	}
	return md, nil
}
