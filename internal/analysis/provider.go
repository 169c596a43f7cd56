package analysis

import "context"

// Request is a prepared document-understanding call: one instruction plus
// one embedded document or image payload.
type Request struct {
	Model     string
	MaxTokens int
	Prompt    string
	MIMEType  string
	Payload   []byte
}

// Response carries the generated text and the token usage the service
// reported for the call.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Provider defines the interface to a document-understanding service
type Provider interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	Close() error
}
