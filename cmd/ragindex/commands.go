package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/poiesic/ragindex"
	"github.com/poiesic/ragindex/config"
	"github.com/poiesic/ragindex/core"
	"github.com/poiesic/ragindex/ingestion"
	"github.com/poiesic/ragindex/reindex"
	"github.com/poiesic/ragindex/search"
	"github.com/poiesic/ragindex/storage"
	"github.com/poiesic/ragindex/vectorstore"
	"github.com/urfave/cli/v2"
)

// maxResults bounds --k for query.
const maxResults = 1000

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one path is required")
	}
	paths, err := collectPaths(c.Args().Slice(), c.Bool("recursive"))
	if err != nil {
		return err
	}

	return withIndex(c, func(ix *ragindex.Index) error {
		pipeline, err := ix.NewPipeline()
		if err != nil {
			return err
		}
		defer pipeline.Release()

		out := c.App.Writer
		failed := 0
		for i, res := range pipeline.ProcessFiles(c.Context, paths) {
			switch res.Outcome {
			case ingestion.OutcomeFailed, ingestion.OutcomeCancelled:
				failed++
				fmt.Fprintf(out, "%s\t%s\t%s (stage %s): %s\n", paths[i], res.DocID, res.Outcome, res.FailedStage, res.Error)
			default:
				fmt.Fprintf(out, "%s\t%s\t%s\tv%d\tchunks=%d/%d\tcache=%.0f%%\n",
					paths[i], res.DocID, res.Outcome, res.Version,
					res.ChunksProcessed, res.ChunksTotal, res.CacheHitRate*100)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d documents failed", failed, len(paths))
		}
		return nil
	})
}

// collectPaths expands directories into the regular files below them.
func collectPaths(args []string, recursive bool) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			// Missing files are reported per document by the pipeline.
			paths = append(paths, arg)
			continue
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		if !recursive {
			return nil, fmt.Errorf("%s is a directory (use --recursive)", arg)
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != arg && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() && !strings.HasPrefix(d.Name(), ".") {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return paths, nil
}

func statusCommand(c *cli.Context) error {
	docID := c.Args().First()
	if docID == "" {
		return errors.New("doc_id is required")
	}
	return withIndex(c, func(ix *ragindex.Index) error {
		doc, err := ix.Ledger().GetStatus(c.Context, docID)
		if err != nil {
			return err
		}
		if doc == nil {
			return fmt.Errorf("document %s: %w", docID, storage.ErrNotFound)
		}

		w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "doc_id:\t%s\n", doc.ID)
		fmt.Fprintf(w, "filename:\t%s\n", doc.Filename)
		fmt.Fprintf(w, "source:\t%s\n", doc.SourcePath)
		fmt.Fprintf(w, "status:\t%s\n", doc.Status)
		fmt.Fprintf(w, "version:\t%d\n", doc.Version)
		fmt.Fprintf(w, "chunks:\t%d\n", doc.ChunkCount)
		fmt.Fprintf(w, "model:\t%s\n", doc.EmbeddingModel)
		fmt.Fprintf(w, "index version:\t%s\n", doc.IndexVersion)
		fmt.Fprintf(w, "updated:\t%s\n", doc.UpdatedAt.Format(time.RFC3339))
		if doc.ErrorMessage != "" {
			fmt.Fprintf(w, "error:\t%s\n", doc.ErrorMessage)
			fmt.Fprintf(w, "retryable:\t%t\n", doc.Retryable)
		}
		return w.Flush()
	})
}

func listCommand(c *cli.Context) error {
	status := core.DocumentStatus(strings.ToLower(c.String("status")))
	if status != "" && !status.Valid() {
		return fmt.Errorf("invalid status %q: must be one of pending, processing, completed, failed", status)
	}
	return withIndex(c, func(ix *ragindex.Index) error {
		docs, err := ix.Ledger().List(c.Context, status)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DOC_ID\tSTATUS\tVERSION\tCHUNKS\tFILENAME")
		for _, doc := range docs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", doc.ID, doc.Status, doc.Version, doc.ChunkCount, doc.Filename)
		}
		return w.Flush()
	})
}

func statsCommand(c *cli.Context) error {
	return withIndex(c, func(ix *ragindex.Index) error {
		pipeline, err := ix.NewPipeline()
		if err != nil {
			return err
		}
		defer pipeline.Release()

		stats, err := pipeline.Stats(c.Context)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "documents:\t%d\n", stats.Ledger.TotalDocuments)
		for _, s := range []core.DocumentStatus{core.StatusPending, core.StatusProcessing, core.StatusCompleted, core.StatusFailed} {
			fmt.Fprintf(w, "  %s:\t%d\n", s, stats.Ledger.ByStatus[s])
		}
		fmt.Fprintf(w, "chunks:\t%d (%.1f%% embedded)\n", stats.Ledger.TotalChunks, stats.Ledger.EmbeddingProgress*100)
		fmt.Fprintf(w, "unique texts:\t%d\n", stats.DedupRecords)
		fmt.Fprintf(w, "index version:\t%s\n", stats.Index.IndexVersion)
		fmt.Fprintf(w, "vectors:\t%d active / %d total (dim %d)\n", stats.Index.ActiveVectors, stats.Index.TotalVectors, stats.Index.Dimension)
		if stats.Cache != nil {
			fmt.Fprintf(w, "cached embeddings:\t%d\n", stats.Cache.Entries)
		} else {
			fmt.Fprintln(w, "cached embeddings:\tunavailable")
		}
		return w.Flush()
	})
}

func queryCommand(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return errors.New("query text is required")
	}
	if k := c.Int("k"); k < 1 || k > maxResults {
		return fmt.Errorf("k must be between 1 and %d, got %d", maxResults, k)
	}
	return withIndex(c, func(ix *ragindex.Index) error {
		searcher, err := ix.NewSearcher()
		if err != nil {
			return err
		}

		var filter search.Filter
		if ids := c.StringSlice("doc"); len(ids) > 0 {
			filter = search.ForDocuments(ids...)
		}
		hits, err := searcher.SearchWithMonitor(c.Context, query, c.Int("k"), filter, &logMonitor{logger: slog.Default()})
		if err != nil {
			return err
		}

		out := c.App.Writer
		fmt.Fprintf(out, "Found %d hits\n", len(hits))
		for i, hit := range hits {
			marker := ""
			if hit.Verbatim {
				marker = " verbatim"
			}
			fmt.Fprintf(out, "%d: [%0.3f%s] %s#%d %s\n", i+1, hit.Score, marker, hit.Filename, hit.Order, hit.DocID)
			fmt.Fprintf(out, "   %s\n", preview(hit.Text, 160))
		}
		return nil
	})
}

// logMonitor reports hidden matches at debug level.
type logMonitor struct {
	logger *slog.Logger
}

func (m *logMonitor) Start(query string) { m.logger.Debug("searching", "query", query) }

func (m *logMonitor) AfterVectorSearch(matches []vectorstore.Match) {
	m.logger.Debug("vector search returned", "matches", len(matches))
}

func (m *logMonitor) Hidden(match vectorstore.Match, reason string) {
	m.logger.Debug("hiding match", "chunk_id", match.ChunkID, "doc_id", match.Metadata[vectorstore.MetaDocID], "reason", reason)
}

func (m *logMonitor) Hit(*search.Hit) {}

func (m *logMonitor) Finish(hits []*search.Hit) { m.logger.Debug("search finished", "hits", len(hits)) }

func preview(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit]) + "..."
}

func deleteCommand(c *cli.Context) error {
	docID := c.Args().First()
	if docID == "" {
		return errors.New("doc_id is required")
	}
	return withIndex(c, func(ix *ragindex.Index) error {
		pipeline, err := ix.NewPipeline()
		if err != nil {
			return err
		}
		defer pipeline.Release()

		if err := pipeline.Delete(c.Context, docID); err != nil {
			return fmt.Errorf("failed to delete %s: %w", docID, err)
		}
		fmt.Fprintf(c.App.Writer, "deleted %s\n", docID)
		return nil
	})
}

func reindexSelector(c *cli.Context) (reindex.Selector, error) {
	chosen := 0
	sel := reindex.Retryable()
	if c.Bool("failed") {
		chosen++
		sel = reindex.Failed()
	}
	if c.Bool("retryable") {
		chosen++
		sel = reindex.Retryable()
	}
	if model := c.String("model"); model != "" {
		chosen++
		sel = reindex.StaleModel(model)
	}
	if c.NArg() > 0 {
		chosen++
		sel = reindex.Documents(c.Args().Slice()...)
	}
	if chosen > 1 {
		return sel, errors.New("choose one of --failed, --retryable, --model or explicit doc ids")
	}
	return sel, nil
}

func reindexCommand(c *cli.Context) error {
	sel, err := reindexSelector(c)
	if err != nil {
		return err
	}
	if c.Int("max-attempts") <= 0 {
		return errors.New("max-attempts must be greater than 0")
	}

	return withIndex(c, func(ix *ragindex.Index) error {
		pipeline, err := ix.NewPipeline()
		if err != nil {
			return err
		}
		defer pipeline.Release()

		reindexer, err := ix.NewReindexer(pipeline, c.App.ErrWriter, func(rc *reindex.Config) {
			rc.MaxAttempts = c.Int("max-attempts")
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(c.App.ErrWriter, "Selector: %s\n", sel.Kind)
		fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n\n", pipeline.EmbeddingModel())

		report, err := reindexer.Run(c.Context, sel)
		if err != nil {
			return fmt.Errorf("reindex failed: %w", err)
		}

		out := c.App.Writer
		fmt.Fprintf(out, "selected=%d completed=%d failed=%d skipped=%d elapsed=%s\n",
			report.Selected, report.Completed, report.Failed, report.Skipped, report.Elapsed.Round(time.Millisecond))
		for id, reason := range report.Failures {
			fmt.Fprintf(out, "  %s: %s\n", id, reason)
		}
		if report.Failed > 0 {
			return fmt.Errorf("%d documents failed to reindex", report.Failed)
		}
		return nil
	})
}

func cacheClearCommand(c *cli.Context) error {
	return withIndex(c, func(ix *ragindex.Index) error {
		model := c.String("model")
		removed, err := ix.Cache().Clear(c.Context, model)
		if err != nil {
			return err
		}
		if model == "" {
			model = "all models"
		}
		fmt.Fprintf(c.App.Writer, "removed %d cached embeddings (%s)\n", removed, model)
		return nil
	})
}

func initCommand(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		path = c.String("config")
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := config.Save(path, configFrom(c)); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "wrote %s\n", path)
	return nil
}
