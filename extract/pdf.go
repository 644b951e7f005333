package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

const mimePDF = "application/pdf"

// PDF extracts text page by page. Pages that fail to decode are skipped
// and reported in Extracted.Skipped.
type PDF struct {
	logger *slog.Logger
}

// NewPDF creates a PDF extractor.
func NewPDF(logger *slog.Logger) *PDF {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDF{logger: logger}
}

func (p *PDF) Supports(m string) bool {
	return strings.EqualFold(m, mimePDF)
}

func (p *PDF) Extract(ctx context.Context, path, _ string) (result Result) {
	// The parser panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			result = failed(fmt.Sprintf("parse %s: %v", path, r))
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		return failed(fmt.Sprintf("open %s: %v", path, err))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return failed(fmt.Sprintf("stat %s: %v", path, err))
	}

	rdr, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return failed(fmt.Sprintf("parse %s: %v", path, err))
	}

	var out Extracted
	for i := 1; i <= rdr.NumPage(); i++ {
		if ctx.Err() != nil {
			return failed(ctx.Err().Error())
		}

		page := rdr.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			p.logger.Warn("skipping unreadable page", "path", path, "page", i, "error", err)
			out.Skipped = append(out.Skipped, i)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		out.Pages = append(out.Pages, Page{Number: i, Text: text, MimeType: mimePDF})
	}

	if len(out.Pages) == 0 {
		return failed(fmt.Sprintf("%s has no extractable text", path))
	}
	return out
}
