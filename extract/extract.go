// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package extract turns source files into page text for chunking.
package extract

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Extractor produces page text from a file. Implementations never return
// an error; failures are reported as a Failed result.
type Extractor interface {
	Extract(ctx context.Context, path, mimeType string) Result
}

// Supporter is implemented by extractors that handle a subset of MIME types.
type Supporter interface {
	Supports(mimeType string) bool
}

// Registry dispatches to the first registered extractor supporting the
// document's MIME type.
type Registry struct {
	extractors []Extractor
	logger     *slog.Logger
}

var _ Extractor = (*Registry)(nil)

// NewRegistry creates a Registry trying extractors in order. With no
// extractors it uses PDF followed by Text.
func NewRegistry(logger *slog.Logger, extractors ...Extractor) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "extract")
	if len(extractors) == 0 {
		extractors = []Extractor{NewPDF(logger), Text{}}
	}
	return &Registry{
		extractors: extractors,
		logger:     logger,
	}
}

func (r *Registry) Extract(ctx context.Context, path, mimeType string) Result {
	if mimeType == "" {
		detected, err := DetectFile(path)
		if err != nil {
			return failed(err.Error())
		}
		mimeType = detected
	}

	for _, e := range r.extractors {
		if s, ok := e.(Supporter); ok && !s.Supports(mimeType) {
			continue
		}
		r.logger.Debug("extracting", "path", path, "mime", mimeType, "extractor", fmt.Sprintf("%T", e))
		return e.Extract(ctx, path, mimeType)
	}
	return failed(fmt.Sprintf("no extractor for %s", mimeType))
}

// DetectFile sniffs the MIME type of the file at path.
func DetectFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	return DetectMIME(filepath.Base(path), head[:n]), nil
}

// DetectMIME returns the media type of a file from its name and leading
// bytes, without parameters.
func DetectMIME(name string, head []byte) string {
	if m := http.DetectContentType(head); m != "application/octet-stream" {
		// Content sniffing only knows plain text; the extension is more specific
		if strings.HasPrefix(m, "text/plain") {
			if byExt := typeByExtension(name); byExt != "" {
				return byExt
			}
		}
		return baseType(m)
	}
	if byExt := typeByExtension(name); byExt != "" {
		return byExt
	}
	if len(head) > 0 && isLikelyUTF8(head) {
		return "text/plain"
	}
	return "application/octet-stream"
}

func typeByExtension(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return ""
	}
	switch ext {
	case ".md", ".markdown":
		return "text/markdown"
	case ".yaml", ".yml":
		return "application/yaml"
	}
	return baseType(mime.TypeByExtension(ext))
}

func baseType(m string) string {
	if m == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(m)
	if err != nil {
		return m
	}
	return mediaType
}

func isLikelyUTF8(head []byte) bool {
	r := bufio.NewReader(bytes.NewReader(head))
	for {
		c, size, err := r.ReadRune()
		if err != nil {
			return true
		}
		if c == 0 || (c == 0xFFFD && size == 1) {
			return false
		}
	}
}
