package llm

import "context"

// ChatClient is the interface consumed by QueryPlanner, ResultProcessor and
// ReportWriter, letting tests substitute a scripted double for *Client.
type ChatClient interface {
	Chat(ctx context.Context, modelID string, messages []Message, params Params) (*Response, error)
}
