package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/buildmaster/buildmaster/internal/log"
)

// GenkitClient generates responses through a genkit model.
type GenkitClient struct {
	g         *genkit.Genkit
	modelName string // provider-qualified, e.g. "ollama/llama3.1"
	logger    log.Logger
}

// NewGenkitClient creates a client bound to one model.
func NewGenkitClient(g *genkit.Genkit, modelName string, logger log.Logger) *GenkitClient {
	return &GenkitClient{g: g, modelName: modelName, logger: logger}
}

// Generate implements Client.
func (c *GenkitClient) Generate(ctx context.Context, req Request) (string, error) {
	return c.generate(ctx, req, nil)
}

// Stream implements Client.
func (c *GenkitClient) Stream(ctx context.Context, req Request, fn func(chunk string) error) (string, error) {
	return c.generate(ctx, req, fn)
}

func (c *GenkitClient) generate(ctx context.Context, req Request, fn func(chunk string) error) (string, error) {
	messages := make([]*ai.Message, 0, len(req.History)+1)
	for _, m := range req.History {
		part := ai.NewTextPart(m.Content)
		if m.Role == RoleAssistant {
			messages = append(messages, ai.NewModelMessage(part))
		} else {
			messages = append(messages, ai.NewUserMessage(part))
		}
	}
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(req.Prompt)))

	opts := []ai.GenerateOption{
		ai.WithModelName(c.modelName),
		ai.WithMessages(messages...),
	}
	if req.System != "" {
		opts = append(opts, ai.WithSystem(req.System))
	}
	if fn != nil {
		opts = append(opts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			return fn(chunk.Text())
		}))
	}

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInference, err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		c.logger.Warn("model returned empty response", "model", c.modelName)
		return "", fmt.Errorf("%w: empty response", ErrInference)
	}
	return text, nil
}
