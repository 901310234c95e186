package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sells-group/postpilot/internal/resilience"
	"github.com/sells-group/postpilot/pkg/ollama"
)

// OllamaPrefix is the model prefix served by the local Ollama daemon.
const OllamaPrefix = "ollama/"

// OllamaProvider serves free local models.
type OllamaProvider struct {
	client ollama.Client
}

// NewOllamaProvider wraps an Ollama client.
func NewOllamaProvider(client ollama.Client) *OllamaProvider {
	return &OllamaProvider{client: client}
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) Models(ctx context.Context) ([]string, error) {
	tags, err := p.client.Tags(ctx)
	if err != nil {
		return nil, classify(err)
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, OllamaPrefix+t.Name)
	}
	return out, nil
}

func (p *OllamaProvider) Complete(ctx context.Context, model string, req Request) (*Completion, error) {
	msgs := make([]ollama.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}
	temp := req.Temperature
	resp, err := p.client.Chat(ctx, ollama.ChatRequest{
		Model:    strings.TrimPrefix(model, OllamaPrefix),
		Messages: msgs,
		Options:  &ollama.Options{Temperature: &temp, NumPredict: req.MaxTokens},
	})
	if err != nil {
		return nil, fmt.Errorf("router: ollama %s: %w", model, classify(err))
	}
	return &Completion{
		Content:      resp.Message.Content,
		Model:        model,
		InputTokens:  resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
	}, nil
}

// classify marks retryable Ollama status errors as transient.
func classify(err error) error {
	var se *ollama.StatusError
	if errors.As(err, &se) && resilience.IsTransientHTTPStatus(se.StatusCode) {
		return resilience.NewTransientError(err, se.StatusCode)
	}
	return err
}
