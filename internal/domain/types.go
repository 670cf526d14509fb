// Package domain holds the plain data types shared across the research
// pipeline: options, queries, documents, sources, learnings and progress
// snapshots. None of these types own behavior beyond small helpers — the
// components in sibling packages transform them.
package domain

import "strings"

// ResearchOptions configures a single research session. Built once per
// session from the incoming request and never mutated afterward.
type ResearchOptions struct {
	IsDeep         bool
	Depth          int
	Breadth        int
	ModelID        string
	MaxConcurrency int
}

// Clamp enforces the engine's safety caps on depth/breadth and fills in
// sane defaults for zero-valued fields. It returns the adjusted options.
func (o ResearchOptions) Clamp(maxDepth, maxBreadth int) ResearchOptions {
	if o.Depth < 1 {
		o.Depth = 1
	}
	if o.Depth > maxDepth {
		o.Depth = maxDepth
	}
	if o.Breadth < 1 {
		o.Breadth = 1
	}
	if o.Breadth > maxBreadth {
		o.Breadth = maxBreadth
	}
	if o.MaxConcurrency < 1 {
		o.MaxConcurrency = 1
	}
	return o
}

// SerpQuery is a single search-engine query produced by the planner, along
// with the research goal it serves.
type SerpQuery struct {
	Query        string `json:"query"`
	ResearchGoal string `json:"researchGoal"`
}

// NormalizedQuery returns the trimmed, lowercased form used for dedup keys.
func NormalizedQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// SearchDoc is a single result document returned by the search client.
type SearchDoc struct {
	URL      string
	Title    string
	Snippet  string
	MainText string
	Rank     int
}

// Source is the deduplicated, URL-keyed record derived from a SearchDoc.
type Source struct {
	URL       string  `json:"url"`
	Title     string  `json:"title"`
	Domain    string  `json:"domain"`
	Favicon   string  `json:"favicon,omitempty"`
	Relevance float64 `json:"relevance"`
}

// Learning is a single information-dense sentence synthesized from search
// content.
type Learning struct {
	Content string
}

// DepthBreadth describes a current/total pair used in progress reporting.
type DepthBreadth struct {
	Current int
	Total   int
}

// QueryProgress describes sub-query completion counts.
type QueryProgress struct {
	Current      int
	Total        int
	CurrentQuery string
}

// ProgressSnapshot is an immutable copy of the session's progress at the
// moment it was taken. Events always carry a snapshot, never a shared
// reference into SessionState. CompletedQueries/TotalQueries and
// CurrentQuery mirror Queries.Current/Total/CurrentQuery; both are kept
// because the progress event's top-level fields and its nested "details"
// block are populated from the same snapshot at different call sites.
type ProgressSnapshot struct {
	Progress         float64
	Status           string
	Depth            DepthBreadth
	Breadth          DepthBreadth
	Queries          QueryProgress
	CurrentQuery     string
	CompletedQueries int
	TotalQueries     int
}
