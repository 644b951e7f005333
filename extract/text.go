package extract

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

// Text reads plain text formats as a single page.
type Text struct{}

func (Text) Supports(m string) bool {
	return strings.HasPrefix(m, "text/") ||
		m == "application/json" ||
		m == "application/xml" ||
		m == "application/yaml" ||
		m == "application/x-yaml"
}

func (Text) Extract(ctx context.Context, path, mimeType string) Result {
	data, err := os.ReadFile(path)
	if err != nil {
		return failed(fmt.Sprintf("read %s: %v", path, err))
	}
	if !utf8.Valid(data) {
		return failed(fmt.Sprintf("%s is not valid UTF-8 text", path))
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return failed(fmt.Sprintf("%s contains no text", path))
	}
	if mimeType == "" {
		mimeType = "text/plain"
	}
	return Extracted{Pages: []Page{{Number: 1, Text: text, MimeType: mimeType}}}
}
