package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Placeholders substituted into Command arguments.
const (
	InputPlaceholder  = "{input}"
	OutputPlaceholder = "{output}"
)

// Command runs an external converter that writes text files into a scratch
// directory, one file per page in lexical order. The scratch directory is
// reported as an artifact and removed by Cleanup.
type Command struct {
	Path     string
	Args     []string
	MimeType []string
	// ScratchRoot is the parent of per-run scratch directories. Defaults to os.TempDir().
	ScratchRoot string
}

func (c *Command) Supports(m string) bool {
	return len(c.MimeType) == 0 || slices.Contains(c.MimeType, m)
}

func (c *Command) Extract(ctx context.Context, path, mimeType string) Result {
	root := c.ScratchRoot
	if root == "" {
		root = os.TempDir()
	}
	scratch := filepath.Join(root, "ragindex-"+uuid.NewString())
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return failed(fmt.Sprintf("create scratch directory: %v", err))
	}

	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		a = strings.ReplaceAll(a, InputPlaceholder, path)
		args[i] = strings.ReplaceAll(a, OutputPlaceholder, scratch)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Path, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return failed(fmt.Sprintf("%s: %v: %s", filepath.Base(c.Path), err, strings.TrimSpace(stderr.String())), scratch)
	}

	entries, err := os.ReadDir(scratch)
	if err != nil {
		return failed(fmt.Sprintf("read scratch directory: %v", err), scratch)
	}

	out := Extracted{Artifacts: []string{scratch}}
	number := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		number++
		data, err := os.ReadFile(filepath.Join(scratch, e.Name()))
		if err != nil {
			out.Skipped = append(out.Skipped, number)
			continue
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		out.Pages = append(out.Pages, Page{Number: number, Text: string(data), MimeType: mimeType})
	}

	if len(out.Pages) == 0 {
		return failed(fmt.Sprintf("%s produced no text for %s", filepath.Base(c.Path), path), scratch)
	}
	return out
}
