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


package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/poiesic/ragindex"
	"github.com/poiesic/ragindex/config"
	"github.com/urfave/cli/v2"
)

const configKey = "config"

// indexOptions are appended to every ragindex.Open call. Tests use it to
// swap in a mock provider.
var indexOptions []ragindex.Option

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ragindex",
		Usage: "Incremental document indexing for retrieval-augmented generation",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config file (defaults apply when missing)",
				Value:   "ragindex.yaml",
			},
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "dotenv files to load before applying RAGINDEX_* variables",
				Value: cli.NewStringSlice(".env"),
			},
		},
		Before: func(c *cli.Context) error {
			if err := setupLogger(c); err != nil {
				return err
			}
			return loadConfig(c)
		},
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Process files into the index",
				ArgsUsage: "<path>...",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "recursive",
						Aliases: []string{"r"},
						Usage:   "Descend into directories",
					},
				},
			},
			{
				Name:      "status",
				Usage:     "Show the ledger entry for a document",
				ArgsUsage: "<doc_id>",
				Action:    statusCommand,
			},
			{
				Name:   "list",
				Usage:  "List documents in the ledger",
				Action: listCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "status",
						Usage: "Only show documents with this status (pending, processing, completed, failed)",
					},
				},
			},
			{
				Name:   "stats",
				Usage:  "Show ledger, index and cache statistics",
				Action: statsCommand,
			},
			{
				Name:      "query",
				Usage:     "Search indexed documents",
				ArgsUsage: "<text>",
				Action:    queryCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "k",
						Aliases: []string{"n"},
						Usage:   "Number of results",
						Value:   5,
					},
					&cli.StringSliceFlag{
						Name:  "doc",
						Usage: "Restrict results to these document ids",
					},
				},
			},
			{
				Name:      "delete",
				Usage:     "Remove a document from the ledger and the index",
				ArgsUsage: "<doc_id>",
				Action:    deleteCommand,
			},
			{
				Name:      "reindex",
				Usage:     "Re-run the pipeline for documents already in the ledger",
				ArgsUsage: "[doc_id...]",
				Action:    reindexCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "failed",
						Usage: "Reindex every failed document",
					},
					&cli.BoolFlag{
						Name:  "retryable",
						Usage: "Reindex failed documents whose error was transient (default)",
					},
					&cli.StringFlag{
						Name:  "model",
						Usage: "Reindex documents not embedded with this model",
					},
					&cli.IntFlag{
						Name:  "max-attempts",
						Usage: "Attempts per document for transient failures",
						Value: 3,
					},
				},
			},
			{
				Name:  "cache",
				Usage: "Manage the embedding cache",
				Subcommands: []*cli.Command{
					{
						Name:   "clear",
						Usage:  "Remove cached embeddings",
						Action: cacheClearCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "model",
								Usage: "Only remove embeddings for this model",
							},
						},
					},
				},
			},
			{
				Name:      "init",
				Usage:     "Write a config file with default values",
				ArgsUsage: "[path]",
				Action:    initCommand,
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

func loadConfig(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.LoadEnv(cfg, c.StringSlice("env-file")...); err != nil {
		return err
	}
	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]any)
	}
	c.App.Metadata[configKey] = cfg
	return nil
}

func configFrom(c *cli.Context) *config.Config {
	if cfg, ok := c.App.Metadata[configKey].(*config.Config); ok {
		return cfg
	}
	return config.Default()
}

// withIndex opens the index for the duration of fn.
func withIndex(c *cli.Context, fn func(ix *ragindex.Index) error) error {
	opts := append([]ragindex.Option{ragindex.WithLogger(slog.Default())}, indexOptions...)
	ix, err := ragindex.Open(c.Context, configFrom(c), opts...)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	defer ix.Close()
	return fn(ix)
}
