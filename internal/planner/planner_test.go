package planner

import (
	"context"
	"strings"
	"testing"

	"deepresearch/internal/llm"
)

// mockChatClient is a test double for llm.ChatClient.
type mockChatClient struct {
	responses []string
	err       error
	callCount int
}

func (m *mockChatClient) Chat(ctx context.Context, modelID string, messages []llm.Message, params llm.Params) (*llm.Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	content := "{}"
	if m.callCount < len(m.responses) {
		content = m.responses[m.callCount]
	} else if len(m.responses) > 0 {
		content = m.responses[len(m.responses)-1]
	}
	m.callCount++
	return &llm.Response{Text: content}, nil
}

func TestPlan_FencedJSONBlock(t *testing.T) {
	client := &mockChatClient{responses: []string{
		"Here is my plan:\n```json\n{\"queries\":[{\"query\":\"golang generics\",\"researchGoal\":\"understand syntax\"},{\"query\":\"golang generics performance\",\"researchGoal\":\"benchmarks\"}]}\n```\n",
	}}
	p := New(client, "test-model")

	queries, err := p.Plan(context.Background(), "how do go generics work", 3, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queries) != 2 {
		t.Fatalf("expected 2 queries, got %d", len(queries))
	}
	if queries[0].Query != "golang generics" {
		t.Fatalf("unexpected first query: %+v", queries[0])
	}
}

func TestPlan_TruncatesToNumQueries(t *testing.T) {
	client := &mockChatClient{responses: []string{
		`{"queries":[{"query":"a"},{"query":"b"},{"query":"c"},{"query":"d"}]}`,
	}}
	p := New(client, "test-model")

	queries, err := p.Plan(context.Background(), "topic", 2, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queries) != 2 {
		t.Fatalf("expected truncation to 2, got %d", len(queries))
	}
}

func TestPlan_DedupesByNormalizedQuery(t *testing.T) {
	client := &mockChatClient{responses: []string{
		`{"queries":[{"query":"Golang Generics"},{"query":"golang generics"},{"query":"golang slices"}]}`,
	}}
	p := New(client, "test-model")

	queries, err := p.Plan(context.Background(), "topic", 5, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queries) != 2 {
		t.Fatalf("expected 2 deduped queries, got %d: %+v", len(queries), queries)
	}
}

func TestPlan_FallsBackOnMalformedJSON(t *testing.T) {
	client := &mockChatClient{responses: []string{"I could not produce JSON, sorry."}}
	p := New(client, "test-model")

	queries, err := p.Plan(context.Background(), "the user's question", 3, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queries) != 1 || queries[0].Query != "the user's question" || queries[0].ResearchGoal != "direct answer" {
		t.Fatalf("expected single fallback query, got %+v", queries)
	}
}

func TestPlan_FallsBackOnEmptyQueries(t *testing.T) {
	client := &mockChatClient{responses: []string{`{"queries":[]}`}}
	p := New(client, "test-model")

	queries, err := p.Plan(context.Background(), "q", 3, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queries) != 1 || queries[0].ResearchGoal != "direct answer" {
		t.Fatalf("expected fallback, got %+v", queries)
	}
}

func TestPlan_FallsBackOnClientError(t *testing.T) {
	client := &mockChatClient{err: &llm.Error{Kind: llm.KindTimeout}}
	p := New(client, "test-model")

	queries, err := p.Plan(context.Background(), "q", 3, nil)
	if err != nil {
		t.Fatalf("expected no error, want fallback instead: %v", err)
	}
	if len(queries) != 1 {
		t.Fatalf("expected single fallback query, got %+v", queries)
	}
}

func TestPlan_IncludesPriorLearningsInPrompt(t *testing.T) {
	var captured []llm.Message
	client := &capturingClient{mockChatClient: mockChatClient{responses: []string{`{"queries":[{"query":"x"}]}`}}, captured: &captured}
	p := New(client, "test-model")

	_, err := p.Plan(context.Background(), "q", 3, []string{"go channels are CSP-based"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(captured) != 2 {
		t.Fatalf("expected system+user messages, got %d", len(captured))
	}
	if !strings.Contains(captured[1].Content, "go channels are CSP-based") {
		t.Fatalf("expected prior learning in prompt, got: %s", captured[1].Content)
	}
}

type capturingClient struct {
	mockChatClient
	captured *[]llm.Message
}

func (c *capturingClient) Chat(ctx context.Context, modelID string, messages []llm.Message, params llm.Params) (*llm.Response, error) {
	*c.captured = messages
	return c.mockChatClient.Chat(ctx, modelID, messages, params)
}
