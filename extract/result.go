package extract

import (
	"errors"
	"os"
)

// Result is the outcome of one extraction: either Extracted or Failed.
type Result interface {
	// Scratch returns temporary paths the extractor created. They are
	// removed by Cleanup once the caller is done with the result.
	Scratch() []string

	isResult()
}

// Page is the text of one page or section of a document.
type Page struct {
	Number   int
	Text     string
	MimeType string
}

// Extracted carries the non-empty pages of a document.
type Extracted struct {
	Pages []Page
	// Skipped lists page numbers that could not be read.
	Skipped   []int
	Artifacts []string
}

// Failed means no usable text could be produced.
type Failed struct {
	Reason    string
	Artifacts []string
}

func (r Extracted) Scratch() []string { return r.Artifacts }
func (r Failed) Scratch() []string    { return r.Artifacts }
func (Extracted) isResult()           {}
func (Failed) isResult()              {}

// Cleanup removes every scratch path of r.
func Cleanup(r Result) error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, p := range r.Scratch() {
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Text joins the text of all pages with blank lines.
func (r Extracted) Text() string {
	var n int
	for _, p := range r.Pages {
		n += len(p.Text) + 2
	}
	buf := make([]byte, 0, n)
	for i, p := range r.Pages {
		if i > 0 {
			buf = append(buf, '\n', '\n')
		}
		buf = append(buf, p.Text...)
	}
	return string(buf)
}

// failed builds a Failed result.
func failed(reason string, artifacts ...string) Failed {
	return Failed{Reason: reason, Artifacts: artifacts}
}
