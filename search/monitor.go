package search

import "github.com/poiesic/ragindex/vectorstore"

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
type SearchMonitor interface {
	Start(query string)
	AfterVectorSearch(matches []vectorstore.Match)
	Hidden(match vectorstore.Match, reason string)
	Hit(hit *Hit)
	Finish(hits []*Hit)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)                          {}
func (n *noopMonitor) AfterVectorSearch(_ []vectorstore.Match) {}
func (n *noopMonitor) Hidden(_ vectorstore.Match, _ string)    {}
func (n *noopMonitor) Hit(_ *Hit)                              {}
func (n *noopMonitor) Finish(_ []*Hit)                         {}
