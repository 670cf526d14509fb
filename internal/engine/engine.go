// Package engine implements ResearchEngine: the depth x breadth orchestrator
// that drives QueryPlanner, SearchClient, ResultProcessor and ReportWriter
// to turn a single user query into a synthesized Markdown report, emitting
// progress over an events.Stream as it goes.
package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"deepresearch/internal/domain"
	"deepresearch/internal/events"
	"deepresearch/internal/ratelimit"
)

// SearchClient is the subset of search.Client consumed by the engine.
type SearchClient interface {
	Search(ctx context.Context, query string, limit int) (SearchResult, error)
}

// SearchResult mirrors search.Result without importing the search package,
// keeping the engine's dependency surface limited to the contract it needs.
type SearchResult struct {
	Docs    []domain.SearchDoc
	Sources []domain.Source
}

// Planner is the subset of planner.Planner consumed by the engine.
type Planner interface {
	Plan(ctx context.Context, userQuery string, numQueries int, priorLearnings []string) ([]domain.SerpQuery, error)
}

// Processor is the subset of processor.Processor consumed by the engine.
type Processor interface {
	Process(ctx context.Context, query string, docs []domain.SearchDoc, numLearnings, numFollowUps int) ([]string, []domain.SerpQuery, error)
}

// ReportWriter is the subset of report.Writer consumed by the engine.
type ReportWriter interface {
	Write(ctx context.Context, userQuery string, learnings []string, sources []domain.Source) (string, error)
}

// Config bounds the engine's scheduling policy.
type Config struct {
	MaxDepth        int
	MaxBreadth      int
	EventBufferSize int
	// Limiter is the shared rate limiter gating SearchClient/LLMClient
	// calls, wired in here only to surface sustained-throttling status
	// text on progress events. Optional; a nil Limiter is never consulted.
	Limiter *ratelimit.Limiter
}

// DefaultConfig returns the spec's engine defaults.
func DefaultConfig() Config {
	return Config{MaxDepth: 5, MaxBreadth: 5, EventBufferSize: events.DefaultBufferSize}
}

// Engine orchestrates a single research session end to end.
type Engine struct {
	search    SearchClient
	planner   Planner
	processor Processor
	writer    ReportWriter
	cfg       Config
}

// New creates an Engine wired to the given collaborators.
func New(search SearchClient, planner Planner, processor Processor, writer ReportWriter, cfg Config) *Engine {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultConfig().MaxDepth
	}
	if cfg.MaxBreadth <= 0 {
		cfg.MaxBreadth = DefaultConfig().MaxBreadth
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = DefaultConfig().EventBufferSize
	}
	return &Engine{search: search, planner: planner, processor: processor, writer: writer, cfg: cfg}
}

// statusText annotates base with a rate-limiting note when the shared
// limiter reports sustained throttling (mean acquire wait at or above a
// second); otherwise it returns base unchanged.
func (e *Engine) statusText(base string) string {
	if e.cfg.Limiter == nil {
		return base
	}
	mean, _ := e.cfg.Limiter.WaitStats()
	if mean < 1.0 {
		return base
	}
	return fmt.Sprintf("%s (rate-limited, avg wait %.1fs)", base, mean)
}

// frontierItem is one node of the flat BFS frontier: a research-direction
// query awaiting expansion into up to B concrete SerpQueries.
type frontierItem struct {
	query string
	level int // 1-indexed, per the spec's frontier description
}

// sessionState is ResearchEngine's exclusively-owned, mutex-guarded state.
// No other component reads or writes it.
type sessionState struct {
	mu             sync.Mutex
	options        domain.ResearchOptions
	allLearnings   []string
	sources        map[string]domain.Source // keyed by URL
	visitedQueries map[string]bool          // keyed by normalized query
	totalQueries   int
	completed      int
	cancelled      bool
}

func newSessionState(options domain.ResearchOptions) *sessionState {
	return &sessionState{
		options:        options,
		sources:        make(map[string]domain.Source),
		visitedQueries: make(map[string]bool),
	}
}

func (s *sessionState) addSources(docs []domain.Source) []domain.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fresh []domain.Source
	for _, src := range docs {
		if _, ok := s.sources[src.URL]; ok {
			continue
		}
		s.sources[src.URL] = src
		fresh = append(fresh, src)
	}
	return fresh
}

func (s *sessionState) allSources() []domain.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

func (s *sessionState) addLearnings(learnings []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allLearnings = append(s.allLearnings, learnings...)
}

func (s *sessionState) snapshotLearnings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.allLearnings...)
}

// markVisited returns true if query was not yet visited and marks it so in
// the same critical section (atomic check-and-insert).
func (s *sessionState) markVisited(query string) bool {
	norm := domain.NormalizedQuery(query)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visitedQueries[norm] {
		return false
	}
	s.visitedQueries[norm] = true
	return true
}

func (s *sessionState) addToTotal(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalQueries += n
}

func (s *sessionState) completeOne() domain.ProgressSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed++
	return s.progressLocked()
}

func (s *sessionState) progressLocked() domain.ProgressSnapshot {
	total := s.totalQueries
	if total <= 0 {
		total = 1
	}
	pct := 100 * float64(s.completed) / float64(total)
	if pct > 100 {
		pct = 100
	}
	return domain.ProgressSnapshot{
		Progress:         pct,
		CompletedQueries: s.completed,
		TotalQueries:     s.totalQueries,
		Queries:          domain.QueryProgress{Current: s.completed, Total: s.totalQueries},
	}
}

func (s *sessionState) setCancelled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

func (s *sessionState) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Run starts a research session and returns the event stream it emits to.
// The stream is closed when the session finishes, fails, or is cancelled via
// ctx.
func (e *Engine) Run(ctx context.Context, userQuery string, options domain.ResearchOptions) *events.Stream {
	options = options.Clamp(e.cfg.MaxDepth, e.cfg.MaxBreadth)
	stream := events.NewStream(e.cfg.EventBufferSize)

	go e.run(ctx, stream, userQuery, options)

	return stream
}

func (e *Engine) run(ctx context.Context, stream *events.Stream, userQuery string, options domain.ResearchOptions) {
	defer stream.Close()
	start := time.Now()

	stream.Emit(events.EventRecord{
		Type:      events.TypeStart,
		SessionID: uuid.NewString(),
		Query:     userQuery,
		Options: &events.StartOptions{
			IsDeep:  options.IsDeep,
			Depth:   options.Depth,
			Breadth: options.Breadth,
			ModelID: options.ModelID,
		},
		Timestamp: start.UTC().Format(time.RFC3339),
	})

	state := newSessionState(options)

	if options.IsDeep {
		e.runDeep(ctx, stream, state, userQuery)
	} else {
		e.runShallow(ctx, stream, state, userQuery)
	}

	if ctx.Err() != nil || state.isCancelled() {
		stream.Emit(events.EventRecord{Type: events.TypeError, Content: "research cancelled", Kind: events.ErrorKindCancelled})
		return
	}

	e.synthesize(ctx, stream, state, userQuery, options, start)
}

// runShallow performs exactly one search and hands its content straight to
// ReportWriter, skipping the ResultProcessor round trip. The spec allows
// either extracting learnings via ResultProcessor or synthesizing directly
// from search content; this implementation takes the latter path, which is
// also why a shallow session emits no `progress` or `learning` events.
func (e *Engine) runShallow(ctx context.Context, stream *events.Stream, state *sessionState, userQuery string) {
	result, err := e.search.Search(ctx, userQuery, 5)
	if err != nil {
		log.Printf("engine: search failed for %q: %v", userQuery, err)
		return
	}

	if len(result.Docs) > 0 {
		stream.Emit(events.EventRecord{Type: events.TypeSearchResults, Content: summarizeResults(userQuery, result.Docs)})
	}
	if fresh := state.addSources(result.Sources); len(fresh) > 0 {
		stream.Emit(events.EventRecord{Type: events.TypeSources, Sources: toWireSources(fresh)})
	}

	state.addLearnings(docsAsContent(result.Docs))
}

// docsAsContent turns raw search docs into report-writer input without an
// LLM extraction pass: one entry per doc, title plus its best available
// text. These never appear as `learning` events.
func docsAsContent(docs []domain.SearchDoc) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		text := d.MainText
		if text == "" {
			text = d.Snippet
		}
		if text == "" {
			continue
		}
		out = append(out, fmt.Sprintf("%s: %s", d.Title, text))
	}
	return out
}

// runDeep drives the flat BFS frontier described in the spec: each node is
// replanned into up to B SerpQueries using the learnings accumulated so
// far; each SerpQuery is searched and processed; any follow-up questions it
// yields become new frontier nodes at level+1, unless the level cap (D) has
// been reached. Up to options.MaxConcurrency frontier nodes are expanded
// concurrently; each node's own B queries are processed sequentially,
// bounding total in-flight work without a second semaphore.
func (e *Engine) runDeep(ctx context.Context, stream *events.Stream, state *sessionState, userQuery string) {
	options := state.options
	maxConcurrency := options.MaxConcurrency
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	queue := make(chan frontierItem, 65536)
	var wg sync.WaitGroup

	enqueue := func(query string, level int) {
		wg.Add(1)
		queue <- frontierItem{query: query, level: level}
	}

	enqueue(userQuery, 1)

	var workers sync.WaitGroup
	for i := 0; i < maxConcurrency; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for item := range queue {
				e.expandFrontierNode(ctx, stream, state, item, options, enqueue)
				wg.Done()
			}
		}()
	}

	go func() {
		wg.Wait()
		close(queue)
	}()
	workers.Wait()
}

func (e *Engine) expandFrontierNode(ctx context.Context, stream *events.Stream, state *sessionState, item frontierItem, options domain.ResearchOptions, enqueue func(string, int)) {
	if ctx.Err() != nil || state.isCancelled() {
		state.setCancelled()
		return
	}
	if !state.markVisited(item.query) {
		return
	}

	serpQueries, err := e.planner.Plan(ctx, item.query, options.Breadth, state.snapshotLearnings())
	if err != nil || len(serpQueries) == 0 {
		log.Printf("engine: planning failed for %q: %v", item.query, err)
		return
	}
	state.addToTotal(len(serpQueries))

	numLearnings := intMax(2, 5/options.Depth)
	numFollowUps := intMax(1, 3/options.Depth)

	for i, sq := range serpQueries {
		if ctx.Err() != nil || state.isCancelled() {
			state.setCancelled()
			return
		}
		pos := frontierPos{
			level:        item.level,
			depthTotal:   options.Depth,
			breadthCur:   i + 1,
			breadthTotal: len(serpQueries),
		}
		followUps := e.processQuery(ctx, stream, state, sq, numLearnings, numFollowUps, pos)
		if item.level < options.Depth {
			for _, fu := range followUps {
				enqueue(fu.Query, item.level+1)
			}
		}
	}
}

// frontierPos locates a SerpQuery within the flat BFS frontier for progress
// reporting: which level it belongs to and its position among the B queries
// planned for its node.
type frontierPos struct {
	level        int
	depthTotal   int
	breadthCur   int
	breadthTotal int
}

func (p frontierPos) details(extra events.Queries) *events.Details {
	return &events.Details{
		Depth:   events.DepthBreadth{Current: p.level, Total: p.depthTotal},
		Breadth: events.DepthBreadth{Current: p.breadthCur, Total: p.breadthTotal},
		Queries: extra,
	}
}

// processQuery runs search+process for a single SerpQuery, emitting
// sources/learning/progress events, and returns any follow-up queries
// produced. Failures are logged and treated as a completed no-op rather
// than surfaced as an error event, so that one bad sub-query never aborts
// the session. search_results is deliberately not emitted here: per the
// spec, that event type is shallow-mode only.
func (e *Engine) processQuery(ctx context.Context, stream *events.Stream, state *sessionState, q domain.SerpQuery, numLearnings, numFollowUps int, pos frontierPos) []domain.SerpQuery {
	if !state.markVisited(q.Query) {
		// A duplicate SerpQuery was never actually searched: leave
		// completed/totalQueries bookkeeping untouched so completedQueries
		// at complete still equals the number of distinct sub-queries
		// actually searched.
		return nil
	}

	stream.Emit(events.EventRecord{
		Type:    events.TypeProgress,
		Status:  e.statusText("researching"),
		Details: pos.details(events.Queries{CurrentQuery: q.Query}),
	})

	result, err := e.search.Search(ctx, q.Query, 5)
	if err != nil {
		log.Printf("engine: search failed for %q: %v", q.Query, err)
		state.completeOne()
		return nil
	}

	if fresh := state.addSources(result.Sources); len(fresh) > 0 {
		stream.Emit(events.EventRecord{Type: events.TypeSources, Sources: toWireSources(fresh)})
	}

	learnings, followUps, err := e.processor.Process(ctx, q.Query, result.Docs, numLearnings, numFollowUps)
	if err != nil {
		log.Printf("engine: processing failed for %q: %v", q.Query, err)
	}

	if len(learnings) > 0 {
		state.addLearnings(learnings)
		for _, l := range learnings {
			stream.Emit(events.EventRecord{Type: events.TypeLearning, Content: l})
		}
	}

	snap := state.completeOne()
	stream.Emit(events.EventRecord{
		Type:     events.TypeProgress,
		Progress: snap.Progress,
		Status:   e.statusText("researching"),
		Details:  pos.details(events.Queries{Current: snap.CompletedQueries, Total: snap.TotalQueries}),
	})

	return followUps
}

func (e *Engine) synthesize(ctx context.Context, stream *events.Stream, state *sessionState, userQuery string, options domain.ResearchOptions, start time.Time) {
	if options.IsDeep {
		stream.Emit(events.EventRecord{Type: events.TypeProgress, Progress: 100, Status: "writing"})
	}

	learnings := state.snapshotLearnings()
	sources := state.allSources()

	reportText, err := e.writer.Write(ctx, userQuery, learnings, sources)
	if err != nil {
		stream.Emit(events.EventRecord{Type: events.TypeError, Content: err.Error(), Kind: events.ErrorKindFatal})
		stream.Emit(events.EventRecord{Type: events.TypeComplete})
		return
	}

	stream.Emit(events.EventRecord{Type: events.TypeContent, Content: reportText})
	stream.Emit(events.EventRecord{
		Type: events.TypeComplete,
		Metrics: &events.Metrics{
			TotalTimeSeconds: time.Since(start).Seconds(),
			ModelID:          options.ModelID,
		},
	})
}

func summarizeResults(query string, docs []domain.SearchDoc) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### Results for \"%s\"\n\n", query)
	limit := len(docs)
	if limit > 5 {
		limit = 5
	}
	for _, d := range docs[:limit] {
		fmt.Fprintf(&b, "- [%s](%s)\n", d.Title, d.URL)
	}
	return b.String()
}

func toWireSources(sources []domain.Source) []events.Source {
	out := make([]events.Source, 0, len(sources))
	for _, s := range sources {
		out = append(out, events.Source{URL: s.URL, Title: s.Title, Domain: s.Domain, Favicon: s.Favicon, Relevance: s.Relevance})
	}
	return out
}

func intMax(a, b int) int {
	if a > b {
		return a
	}
	return b
}
