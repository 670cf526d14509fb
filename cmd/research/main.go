// Command research is the CLI entrypoint for the deep research engine. It
// accepts a query as arguments or, run with no arguments in an interactive
// terminal, prompts for one via readline. Progress is rendered as colorized
// human-readable lines on a TTY and as raw NDJSON otherwise (or with
// --json), so the tool composes in pipelines the same way it reads standing
// at a terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/mattn/go-isatty"

	"deepresearch/internal/config"
	"deepresearch/internal/domain"
	"deepresearch/internal/engine"
	"deepresearch/internal/events"
	"deepresearch/internal/llm"
	"deepresearch/internal/planner"
	"deepresearch/internal/processor"
	"deepresearch/internal/ratelimit"
	"deepresearch/internal/report"
	"deepresearch/internal/search"
)

func main() {
	var (
		deep       = flag.Bool("deep", false, "run deep (breadth x depth) research instead of a shallow single pass")
		depth      = flag.Int("depth", 2, "frontier depth for deep research")
		breadth    = flag.Int("breadth", 3, "queries per frontier node for deep research")
		jsonOut    = flag.Bool("json", false, "stream raw NDJSON events instead of colorized output")
		configPath = flag.String("config", "", "path to a YAML config file")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if cfg.SearchProvider.APIKey == "" {
		fmt.Fprintln(os.Stderr, "error: SEARCH_PROVIDER_API_KEY environment variable not set")
		os.Exit(1)
	}
	if cfg.LLMProvider.APIKey == "" {
		fmt.Fprintln(os.Stderr, "error: LLM_PROVIDER_API_KEY environment variable not set")
		os.Exit(1)
	}

	query := strings.Join(flag.Args(), " ")
	if query == "" {
		query, err = promptForQuery()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading query: %v\n", err)
			os.Exit(1)
		}
	}
	if query == "" {
		fmt.Fprintln(os.Stderr, "error: no query given")
		os.Exit(1)
	}

	eng := buildEngine(cfg)
	options := domain.ResearchOptions{
		IsDeep:         *deep,
		Depth:          *depth,
		Breadth:        *breadth,
		ModelID:        cfg.DefaultModelID,
		MaxConcurrency: cfg.Engine.MaxConcurrency,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	stream := eng.Run(ctx, query, options)

	useJSON := *jsonOut || !isatty.IsTerminal(os.Stdout.Fd())
	if useJSON {
		if err := events.WriteNDJSON(os.Stdout, stream); err != nil {
			fmt.Fprintf(os.Stderr, "error writing events: %v\n", err)
			os.Exit(1)
		}
		return
	}

	renderer := newRenderer(os.Stdout)
	for evt := range stream.Events() {
		renderer.render(evt)
	}
}

func promptForQuery() (string, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36mresearch>\033[0m ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return "", fmt.Errorf("readline init: %w", err)
	}
	defer rl.Close()

	line, err := rl.Readline()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// searchAdapter narrows search.Client to engine.SearchClient, converting
// search.Result into the engine's own result type so the engine package need
// not import search.
type searchAdapter struct {
	client *search.Client
}

func (a searchAdapter) Search(ctx context.Context, query string, limit int) (engine.SearchResult, error) {
	result, err := a.client.Search(ctx, query, limit)
	if err != nil {
		return engine.SearchResult{}, err
	}
	return engine.SearchResult{Docs: result.Docs, Sources: result.Sources}, nil
}

func buildEngine(cfg *config.Config) *engine.Engine {
	// One limiter gates both providers: the spec's RateLimiter is a single
	// shared gate, so a rate-limit signal from either adapter raises the
	// backoff for both.
	limiter := ratelimit.New(ratelimit.Config{
		RPM:            cfg.RateLimit.RPM,
		InitialBackoff: msToDuration(cfg.RateLimit.InitialBackoffMs),
		MaxBackoff:     msToDuration(cfg.RateLimit.MaxBackoffMs),
		Multiplier:     float64(cfg.RateLimit.Multiplier),
	})

	searchClient := search.New(cfg.SearchProvider.APIKey, cfg.SearchProvider.BaseURL, limiter)
	llmClient := llm.New(cfg.LLMProvider.APIKey, limiter, llm.WithBaseURL(cfg.LLMProvider.BaseURL))

	p := planner.New(llmClient, cfg.DefaultModelID)
	proc := processor.New(llmClient, cfg.DefaultModelID)
	w := report.New(llmClient, cfg.DefaultModelID)

	return engine.New(searchAdapter{client: searchClient}, p, proc, w, engine.Config{
		MaxDepth:        cfg.Engine.MaxDepth,
		MaxBreadth:      cfg.Engine.MaxBreadth,
		EventBufferSize: cfg.Engine.EventBufferSize,
		Limiter:         limiter,
	})
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
