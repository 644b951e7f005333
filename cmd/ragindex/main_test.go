package main

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/ragindex"
	"github.com/poiesic/ragindex/ai/mock"
	"github.com/poiesic/ragindex/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

const testDimension = 8

type harness struct {
	t          *testing.T
	configPath string
	envPath    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "ragindex.yaml")
	data := fmt.Sprintf("data_dir: %s\nembedding:\n  dimension: %d\n", filepath.Join(dir, "data"), testDimension)
	require.NoError(t, os.WriteFile(configPath, []byte(data), 0644))

	prev := indexOptions
	t.Cleanup(func() { indexOptions = prev })

	return &harness{
		t:          t,
		configPath: configPath,
		envPath:    filepath.Join(dir, "missing.env"),
	}
}

// run executes the CLI with a fresh mock provider and returns stdout.
func (h *harness) run(args ...string) (string, error) {
	provider := mock.NewMockProviderWithEmbedder(mock.NewMockEmbedder().WithDimension(testDimension))
	indexOptions = []ragindex.Option{ragindex.WithProvider(provider)}

	var out, errOut bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &errOut

	argv := append([]string{"ragindex", "--log-level", "error", "--config", h.configPath, "--env-file", h.envPath}, args...)
	err := app.Run(argv)
	return out.String(), err
}

func TestCommands_EndToEnd(t *testing.T) {
	h := newHarness(t)

	text := "the ledger remembers every document it has seen"
	path := filepath.Join(t.TempDir(), "ledger.txt")
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
	docID := core.DocIDFromHash(core.ContentHash([]byte(text)))

	out, err := h.run("ingest", path)
	require.NoError(t, err)
	assert.Contains(t, out, docID)
	assert.Contains(t, out, "completed")

	out, err = h.run("ingest", path)
	require.NoError(t, err)
	assert.Contains(t, out, "already_processed")

	out, err = h.run("list", "--status", "completed")
	require.NoError(t, err)
	assert.Contains(t, out, docID)
	assert.Contains(t, out, "ledger.txt")

	out, err = h.run("status", docID)
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "mock-embedding")

	out, err = h.run("query", text)
	require.NoError(t, err)
	assert.Contains(t, out, "Found 1 hits")
	assert.Contains(t, out, docID)

	out, err = h.run("stats")
	require.NoError(t, err)
	assert.Contains(t, out, "documents:")
	assert.Contains(t, out, "cached embeddings:")

	out, err = h.run("reindex")
	require.NoError(t, err)
	assert.Contains(t, out, "selected=0")

	out, err = h.run("reindex", docID)
	require.NoError(t, err)
	assert.Contains(t, out, "selected=1 completed=1")

	out, err = h.run("cache", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "removed")

	out, err = h.run("delete", docID)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted "+docID)

	_, err = h.run("status", docID)
	assert.Error(t, err)
}

func TestIngestCommand_ReportsFailures(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("ingest", filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 documents failed")
	assert.Contains(t, out, "failed")
}

func TestCommandValidation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"ingest without paths", []string{"ingest"}, "at least one path"},
		{"status without id", []string{"status"}, "doc_id is required"},
		{"delete without id", []string{"delete"}, "doc_id is required"},
		{"query without text", []string{"query"}, "query text is required"},
		{"list with bad status", []string{"list", "--status", "done"}, "invalid status"},
		{"query with zero k", []string{"query", "-k", "0", "text"}, "k must be between"},
		{"query with huge k", []string{"query", "-k", "1000000000", "text"}, "k must be between"},
		{"reindex with two selectors", []string{"reindex", "--failed", "--model", "m"}, "choose one of"},
		{"reindex with zero attempts", []string{"reindex", "--max-attempts", "0"}, "max-attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.run(tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestInitCommand(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "conf", "ragindex.yaml")

	out, err := h.run("init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)
	assert.FileExists(t, path)

	_, err = h.run("init", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestCollectPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0755))
	for _, name := range []string{"a.txt", "sub/b.md", ".hidden", ".git/config"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	t.Run("directory requires recursive", func(t *testing.T) {
		_, err := collectPaths([]string{dir}, false)
		assert.Error(t, err)
	})

	t.Run("recursive skips hidden entries", func(t *testing.T) {
		paths, err := collectPaths([]string{dir}, true)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{
			filepath.Join(dir, "a.txt"),
			filepath.Join(dir, "sub", "b.md"),
		}, paths)
	})

	t.Run("files and missing paths pass through", func(t *testing.T) {
		missing := filepath.Join(dir, "nope.txt")
		paths, err := collectPaths([]string{filepath.Join(dir, "a.txt"), missing}, false)
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(dir, "a.txt"), missing}, paths)
	})
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b c", preview("a\n b\t c", 10))
	assert.Equal(t, "abc...", preview("abcdef", 3))
}

func TestSetupLogger(t *testing.T) {
	t.Run("valid log levels", func(t *testing.T) {
		testCases := []struct {
			input    string
			expected slog.Level
		}{
			{"debug", slog.LevelDebug},
			{"info", slog.LevelInfo},
			{"warn", slog.LevelWarn},
			{"error", slog.LevelError},
			{"DEBUG", slog.LevelDebug},
			{"Warn", slog.LevelWarn},
		}

		for _, tc := range testCases {
			t.Run(tc.input, func(t *testing.T) {
				app := &cli.App{
					Name:      "test",
					ErrWriter: &bytes.Buffer{},
					Flags: []cli.Flag{
						&cli.StringFlag{
							Name:  "log-level",
							Value: "info",
						},
					},
					Before: setupLogger,
					Action: func(c *cli.Context) error {
						return nil
					},
				}

				err := app.Run([]string{"test", "--log-level", tc.input})
				require.NoError(t, err)

				handler := slog.Default().Handler()
				assert.True(t, handler.Enabled(t.Context(), tc.expected))
				if tc.expected > slog.LevelDebug {
					assert.False(t, handler.Enabled(t.Context(), tc.expected-1))
				}
			})
		}
	})

	t.Run("invalid log level returns error", func(t *testing.T) {
		app := &cli.App{
			Name: "test",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "log-level",
					Value: "info",
				},
			},
			Before: setupLogger,
			Action: func(c *cli.Context) error {
				return nil
			},
		}

		err := app.Run([]string{"test", "--log-level", "invalid"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("log-level flag has alias -l", func(t *testing.T) {
		app := newApp()
		var flag *cli.StringFlag
		for _, f := range app.Flags {
			if sf, ok := f.(*cli.StringFlag); ok && sf.Name == "log-level" {
				flag = sf
			}
		}
		require.NotNil(t, flag)
		assert.Equal(t, []string{"l"}, flag.Aliases)
		assert.Equal(t, "info", flag.Value)
	})
}

func TestMain(m *testing.M) {
	prev := slog.Default()
	code := m.Run()
	slog.SetDefault(prev)
	os.Exit(code)
}
