// Package processor turns a query's search results into information-dense
// learnings and follow-up questions via an LLM call.
package processor

import (
	"context"
	"fmt"
	"strings"

	"deepresearch/internal/domain"
	"deepresearch/internal/jsonutil"
	"deepresearch/internal/llm"
)

const (
	systemPrompt    = "You are an expert research assistant. Extract precise, information-dense learnings from search results and suggest useful follow-up questions. Be comprehensive, evidence-based, and cite sources where possible."
	perDocCharLimit = 25000
	totalCharBudget = 150000
	maxLearningLen  = 500
)

// Processor extracts learnings and follow-up questions from search results.
type Processor struct {
	client  llm.ChatClient
	modelID string
}

// New creates a Processor backed by client, using modelID for every call.
func New(client llm.ChatClient, modelID string) *Processor {
	return &Processor{client: client, modelID: modelID}
}

type processResponse struct {
	Learnings []string `json:"learnings"`
	FollowUps []string `json:"followUpQuestions"`
}

// Process summarizes docs into at most numLearnings learnings and
// numFollowUps follow-up SerpQuery candidates. If docs carry no usable
// content, it returns empty slices without calling the LLM.
func (p *Processor) Process(ctx context.Context, query string, docs []domain.SearchDoc, numLearnings, numFollowUps int) ([]string, []domain.SerpQuery, error) {
	content := buildContentBlock(docs)
	if strings.TrimSpace(content) == "" {
		return nil, nil, nil
	}

	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildUserPrompt(query, content, numLearnings, numFollowUps)},
	}

	resp, err := p.client.Chat(ctx, p.modelID, messages, llm.Params{
		Temperature:    0.5,
		MaxTokens:      3000,
		ResponseFormat: "json",
	})
	if err != nil {
		return nil, nil, nil
	}

	var parsed processResponse
	if !jsonutil.ExtractObject(resp.Text, "learnings", &parsed) {
		return nil, nil, nil
	}

	learnings := dedupeLearnings(parsed.Learnings)
	if len(learnings) > numLearnings {
		learnings = learnings[:numLearnings]
	}

	followUps := make([]domain.SerpQuery, 0, len(parsed.FollowUps))
	for _, q := range parsed.FollowUps {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		followUps = append(followUps, domain.SerpQuery{Query: q, ResearchGoal: "follow-up from: " + query})
	}
	if len(followUps) > numFollowUps {
		followUps = followUps[:numFollowUps]
	}

	return learnings, followUps, nil
}

// buildContentBlock concatenates each doc's best available text (mainText
// preferred over snippet), trimming each to perDocCharLimit and the whole
// block to totalCharBudget so a handful of long pages can't blow the
// model's context window.
func buildContentBlock(docs []domain.SearchDoc) string {
	var b strings.Builder
	for _, d := range docs {
		text := d.MainText
		if text == "" {
			text = d.Snippet
		}
		if text == "" {
			continue
		}
		if len(text) > perDocCharLimit {
			text = text[:perDocCharLimit]
		}
		fmt.Fprintf(&b, "Source: %s\nTitle: %s\n%s\n\n", d.URL, d.Title, text)
		if b.Len() > totalCharBudget {
			break
		}
	}
	out := b.String()
	if len(out) > totalCharBudget {
		out = out[:totalCharBudget]
	}
	return out
}

func buildUserPrompt(query, content string, numLearnings, numFollowUps int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nSearch results:\n%s\n\n", query, content)
	fmt.Fprintf(&b, "Extract up to %d distinct learnings and suggest up to %d follow-up questions. ", numLearnings, numFollowUps)
	b.WriteString(`Respond with a JSON object of the shape {"learnings": ["..."], "followUpQuestions": ["..."]} and nothing else.`)
	return b.String()
}

// dedupeLearnings drops case-insensitive duplicates and truncates each
// learning to maxLearningLen characters with an ellipsis.
func dedupeLearnings(learnings []string) []string {
	seen := make(map[string]bool, len(learnings))
	out := make([]string, 0, len(learnings))
	for _, l := range learnings {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		key := strings.ToLower(l)
		if seen[key] {
			continue
		}
		seen[key] = true
		if len(l) > maxLearningLen {
			l = l[:maxLearningLen-1] + "…"
		}
		out = append(out, l)
	}
	return out
}
