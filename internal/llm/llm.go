// Package llm exposes text generation behind a small client interface so
// the chat layer stays independent of the model backend.
package llm

import (
	"context"
	"errors"
)

// ErrInference is returned when the model backend fails to produce a
// response.
var ErrInference = errors.New("model inference failed")

// Message roles understood by the model.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prior utterance passed to the model.
type Message struct {
	Role    string
	Content string
}

// Request is a single generation request. History holds prior turns in
// chronological order; Prompt is the new user message.
type Request struct {
	System  string
	History []Message
	Prompt  string
}

// Client generates model responses.
type Client interface {
	// Generate returns the complete response text.
	Generate(ctx context.Context, req Request) (string, error)

	// Stream delivers response chunks to fn as they arrive and returns
	// the complete text. A non-nil error from fn cancels generation.
	Stream(ctx context.Context, req Request, fn func(chunk string) error) (string, error)
}
