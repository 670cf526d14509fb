// Package report synthesizes accumulated learnings and sources into the
// final Markdown research report.
package report

import (
	"context"
	"fmt"
	"strings"

	"deepresearch/internal/domain"
	"deepresearch/internal/llm"
)

const systemPrompt = "You are an expert research assistant writing a final report. Produce comprehensive, evidence-based Markdown with clear sections: Introduction, Main Findings, Analysis, and Conclusion. Cite sources by URL where relevant."

// Writer synthesizes a Markdown report via an LLM, falling back to a
// deterministic rendering if the call fails.
type Writer struct {
	client  llm.ChatClient
	modelID string
}

// New creates a Writer backed by client, using modelID for every call.
func New(client llm.ChatClient, modelID string) *Writer {
	return &Writer{client: client, modelID: modelID}
}

// Write produces the final report body plus a mechanical "## Sources"
// footer appended by this function, never by the LLM.
func (w *Writer) Write(ctx context.Context, userQuery string, learnings []string, sources []domain.Source) (string, error) {
	body, err := w.writeBody(ctx, userQuery, learnings)
	if err != nil {
		body = fallbackBody(userQuery, learnings)
	}
	return body + "\n\n" + sourcesSection(sources), nil
}

func (w *Writer) writeBody(ctx context.Context, userQuery string, learnings []string) (string, error) {
	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildUserPrompt(userQuery, learnings)},
	}

	resp, err := w.client.Chat(ctx, w.modelID, messages, llm.Params{
		Temperature: 0.6,
		MaxTokens:   4000,
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", fmt.Errorf("report: empty completion")
	}
	return resp.Text, nil
}

func buildUserPrompt(userQuery string, learnings []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a final research report answering: %s\n\n", userQuery)
	b.WriteString("Learnings gathered during research:\n")
	for _, l := range learnings {
		fmt.Fprintf(&b, "- %s\n", l)
	}
	b.WriteString("\nDo not include a Sources section; it will be appended separately.")
	return b.String()
}

// fallbackBody is the deterministic rendering used when the LLM call fails.
func fallbackBody(userQuery string, learnings []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research Report: %s\n\n", userQuery)
	b.WriteString("## Findings\n\n")
	for _, l := range learnings {
		fmt.Fprintf(&b, "- %s\n", l)
	}
	return b.String()
}

// sourcesSection is always appended mechanically, never produced by the LLM.
func sourcesSection(sources []domain.Source) string {
	var b strings.Builder
	b.WriteString("## Sources\n\n")
	for _, s := range sources {
		title := s.Title
		if title == "" {
			title = s.URL
		}
		fmt.Fprintf(&b, "- [%s](%s)\n", title, s.URL)
	}
	return b.String()
}
