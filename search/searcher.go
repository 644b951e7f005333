package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/poiesic/ragindex/ai"
	"github.com/poiesic/ragindex/core"
	"github.com/poiesic/ragindex/dedup"
	"github.com/poiesic/ragindex/storage"
	"github.com/poiesic/ragindex/vectorstore"
)

const (
	// DefaultOverFetch multiplies k for the first index query, leaving room
	// for hits the ledger hides.
	DefaultOverFetch = 4

	// DefaultVerbatimBoost is added to the score of chunks containing every
	// query word.
	DefaultVerbatimBoost = 0.3
)

// Index is the read side of the vector store.
type Index interface {
	Dimension() int
	Query(ctx context.Context, vector []float32, k int, filter vectorstore.Filter) ([]vectorstore.Match, error)
}

var _ Index = (*vectorstore.Store)(nil)

// Filter restricts results after visibility has been resolved.
type Filter func(hit *Hit) bool

// Hit is one visible search result.
type Hit struct {
	ChunkID  string
	DocID    string // Completed document the hit is attributed to
	Filename string
	Order    int // Position in the document that produced the entry
	Text     string
	Score    float32
	Verbatim bool     // Every query word appears in Text
	Shared   []string // Other completed documents containing the same text
	Metadata map[string]string
}

// Searcher answers text queries against the vector index.
type Searcher struct {
	ledger        storage.LedgerRepository
	registry      dedup.Registry
	index         Index
	embedder      ai.Embedder
	overFetch     int
	verbatimBoost float32
	logger        *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithDedupRegistry lets hits whose owner is not Completed surface through
// another completed contributor of the same text.
func WithDedupRegistry(registry dedup.Registry) Option {
	return func(s *Searcher) error {
		s.registry = registry
		return nil
	}
}

// WithOverFetch sets the k multiplier of the first index query.
func WithOverFetch(factor int) Option {
	return func(s *Searcher) error {
		if factor < 1 {
			return fmt.Errorf("over-fetch factor must be at least 1, got %d", factor)
		}
		s.overFetch = factor
		return nil
	}
}

// WithVerbatimBoost sets the score bonus for verbatim matches. Zero disables it.
func WithVerbatimBoost(boost float32) Option {
	return func(s *Searcher) error {
		s.verbatimBoost = boost
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(
	ledger storage.LedgerRepository,
	index Index,
	provider ai.AIProvider,
	opts ...Option,
) (*Searcher, error) {
	if ledger == nil {
		return nil, ErrLedgerRequired
	}
	if index == nil {
		return nil, ErrVectorIndexRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	s := &Searcher{
		ledger:        ledger,
		index:         index,
		embedder:      provider.Embedder(),
		overFetch:     DefaultOverFetch,
		verbatimBoost: DefaultVerbatimBoost,
		logger:        slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "search")

	return s, nil
}

// Search returns up to k visible hits for query, best first.
func (s *Searcher) Search(ctx context.Context, query string, k int) ([]*Hit, error) {
	return s.SearchWithMonitor(ctx, query, k, nil, nil)
}

// SearchWithMonitor searches with an optional result filter and monitor.
// The monitor receives callbacks at each stage of the search process.
func (s *Searcher) SearchWithMonitor(ctx context.Context, query string, k int, filter Filter, monitor SearchMonitor) ([]*Hit, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		return []*Hit{}, nil
	}

	monitor.Start(query)

	embedding, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		s.logger.Error("error generating embedding for query", "query", query, "err", err)
		return nil, err
	}
	if len(embedding) != s.index.Dimension() {
		return nil, fmt.Errorf("%w: query embedding has dimension %d, index expects %d",
			core.ErrDimensionMismatch, len(embedding), s.index.Dimension())
	}

	v := &visibility{searcher: s, docs: make(map[string]*core.Document)}
	seen := make(map[string]bool)
	var hits []*Hit

	// Widen the window until enough hits are visible or the index runs out.
	for fetch := scale(k, s.overFetch); ; fetch = scale(fetch, 2) {
		matches, err := s.index.Query(ctx, embedding, fetch, nil)
		if err != nil {
			s.logger.Error("error querying vector index", "err", err)
			return nil, err
		}
		monitor.AfterVectorSearch(matches)

		for _, m := range matches {
			if seen[m.ChunkID] {
				continue
			}
			seen[m.ChunkID] = true

			hit, reason, err := v.resolve(ctx, m)
			if err != nil {
				return nil, err
			}
			if hit == nil {
				monitor.Hidden(m, reason)
				continue
			}
			if filter != nil && !filter(hit) {
				monitor.Hidden(m, "filtered")
				continue
			}
			if s.verbatimBoost != 0 && containsAllQueryWords(hit.Text, query) {
				hit.Verbatim = true
				hit.Score += s.verbatimBoost
			}
			monitor.Hit(hit)
			hits = append(hits, hit)
		}

		if len(hits) >= k || len(matches) < fetch || fetch == math.MaxInt {
			break
		}
	}

	slices.SortStableFunc(hits, func(a, b *Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return strings.Compare(a.ChunkID, b.ChunkID)
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	monitor.Finish(hits)

	return hits, nil
}

// scale multiplies n by factor, saturating at math.MaxInt.
func scale(n, factor int) int {
	if n > math.MaxInt/factor {
		return math.MaxInt
	}
	return n * factor
}

// visibility resolves index matches against the ledger, caching document
// lookups for the duration of one search.
type visibility struct {
	searcher *Searcher
	docs     map[string]*core.Document
}

func (v *visibility) document(ctx context.Context, docID string) (*core.Document, error) {
	if doc, ok := v.docs[docID]; ok {
		return doc, nil
	}
	doc, err := v.searcher.ledger.GetStatus(ctx, docID)
	if err != nil {
		return nil, err
	}
	v.docs[docID] = doc
	return doc, nil
}

func completed(doc *core.Document) bool {
	return doc != nil && doc.Status == core.StatusCompleted
}

// resolve returns the hit for m, or nil and the reason it is hidden.
func (v *visibility) resolve(ctx context.Context, m vectorstore.Match) (*Hit, string, error) {
	ownerID := m.Metadata[core.MetaDocID]
	owner, err := v.document(ctx, ownerID)
	if err != nil {
		return nil, "", err
	}

	var record *core.DedupRecord
	if reg := v.searcher.registry; reg != nil {
		if hash := m.Metadata[core.MetaContentHash]; hash != "" {
			if record, err = reg.Lookup(ctx, hash); err != nil {
				return nil, "", err
			}
			if record != nil && record.CanonicalChunkID != m.ChunkID {
				// The text was re-claimed by another chunk; this entry is stale.
				record = nil
			}
		}
	}

	attributed := owner
	var shared []string
	if record != nil {
		for _, id := range record.Contributors {
			doc, err := v.document(ctx, id)
			if err != nil {
				return nil, "", err
			}
			if !completed(doc) {
				continue
			}
			if !completed(attributed) {
				attributed = doc
			}
			if doc.ID != attributed.ID {
				shared = append(shared, doc.ID)
			}
		}
	}

	if !completed(attributed) {
		if owner == nil {
			return nil, "document not in ledger", nil
		}
		return nil, "document " + string(owner.Status), nil
	}

	order, _ := strconv.Atoi(m.Metadata[core.MetaOrder])
	return &Hit{
		ChunkID:  m.ChunkID,
		DocID:    attributed.ID,
		Filename: attributed.Filename,
		Order:    order,
		Text:     m.Metadata[core.MetaText],
		Score:    m.Score,
		Shared:   shared,
		Metadata: m.Metadata,
	}, "", nil
}

// ForDocuments returns a filter keeping hits attributed to one of docIDs,
// including text they share with another document.
func ForDocuments(docIDs ...string) Filter {
	return func(hit *Hit) bool {
		if slices.Contains(docIDs, hit.DocID) {
			return true
		}
		return slices.ContainsFunc(hit.Shared, func(id string) bool {
			return slices.Contains(docIDs, id)
		})
	}
}
