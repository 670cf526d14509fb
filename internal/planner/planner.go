// Package planner turns a user query (plus any learnings accumulated so
// far) into a bounded set of concrete search-engine queries.
package planner

import (
	"context"
	"fmt"
	"strings"

	"deepresearch/internal/domain"
	"deepresearch/internal/jsonutil"
	"deepresearch/internal/llm"
)

const systemPrompt = "You are an expert research assistant. Given a query, generate a set of SERP queries to research the topic thoroughly. Be comprehensive, evidence-based, and prefer queries whose results can be cited as sources."

// Planner generates SerpQuery candidates via an LLM.
type Planner struct {
	client  llm.ChatClient
	modelID string
}

// New creates a Planner backed by client, using modelID for every call.
func New(client llm.ChatClient, modelID string) *Planner {
	return &Planner{client: client, modelID: modelID}
}

type planResponse struct {
	Queries []domain.SerpQuery `json:"queries"`
}

// Plan asks the LLM for up to numQueries distinct SerpQuery candidates for
// userQuery, optionally steered by priorLearnings. On any failure, or if the
// model's output can't be parsed into a non-empty query list, it falls back
// to a single direct-answer query rather than erroring.
func (p *Planner) Plan(ctx context.Context, userQuery string, numQueries int, priorLearnings []string) ([]domain.SerpQuery, error) {
	if numQueries < 1 {
		numQueries = 1
	}

	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildUserPrompt(userQuery, numQueries, priorLearnings)},
	}

	resp, err := p.client.Chat(ctx, p.modelID, messages, llm.Params{
		Temperature:    0.7,
		MaxTokens:      2000,
		ResponseFormat: "json",
	})
	if err != nil {
		return fallback(userQuery), nil
	}

	var parsed planResponse
	if !jsonutil.ExtractObject(resp.Text, "queries", &parsed) {
		return fallback(userQuery), nil
	}

	queries := dedupe(parsed.Queries)
	if len(queries) == 0 {
		return fallback(userQuery), nil
	}
	if len(queries) > numQueries {
		queries = queries[:numQueries]
	}
	return queries, nil
}

func buildUserPrompt(userQuery string, numQueries int, priorLearnings []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User query: %s\n\n", userQuery)
	if len(priorLearnings) > 0 {
		b.WriteString("Learnings gathered so far:\n")
		for _, l := range priorLearnings {
			fmt.Fprintf(&b, "- %s\n", l)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Generate up to %d distinct SERP queries to research this further. ", numQueries)
	b.WriteString(`Respond with a JSON object of the shape {"queries": [{"query": "...", "researchGoal": "..."}, ...]} and nothing else.`)
	return b.String()
}

// dedupe drops queries whose normalized form repeats an earlier one and
// discards any with an empty or overlong query string.
func dedupe(queries []domain.SerpQuery) []domain.SerpQuery {
	seen := make(map[string]bool, len(queries))
	out := make([]domain.SerpQuery, 0, len(queries))
	for _, q := range queries {
		q.Query = strings.TrimSpace(q.Query)
		if q.Query == "" || len(q.Query) > 512 {
			continue
		}
		norm := domain.NormalizedQuery(q.Query)
		if seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, q)
	}
	return out
}

func fallback(userQuery string) []domain.SerpQuery {
	return []domain.SerpQuery{{Query: userQuery, ResearchGoal: "direct answer"}}
}
