package router

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/sells-group/postpilot/internal/resilience"
	"github.com/sells-group/postpilot/pkg/anthropic"
)

// AnthropicPrefix is the model prefix served by the Anthropic API.
const AnthropicPrefix = "claude-"

// AnthropicProvider serves Claude models through the cloud API.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider wraps an Anthropic client.
func NewAnthropicProvider(client anthropic.Client) *AnthropicProvider {
	return &AnthropicProvider{client: client}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Models returns the API's model ids plus every short alias that resolves to
// one of them.
func (p *AnthropicProvider) Models(ctx context.Context) ([]string, error) {
	ids, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, classifyAnthropic(err)
	}
	out := slices.Clone(ids)
	for _, alias := range anthropic.Aliases() {
		if slices.Contains(ids, anthropic.ResolveModel(alias)) {
			out = append(out, alias)
		}
	}
	return out, nil
}

func (p *AnthropicProvider) Complete(ctx context.Context, model string, req Request) (*Completion, error) {
	mreq := anthropic.MessageRequest{
		Model:     model,
		MaxTokens: int64(req.MaxTokens),
	}
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			mreq.System = append(mreq.System, m.Content)
			continue
		}
		mreq.Messages = append(mreq.Messages, anthropic.Message{Role: m.Role, Content: m.Content})
	}
	temp := req.Temperature
	mreq.Temperature = &temp

	resp, err := p.client.CreateMessage(ctx, mreq)
	if err != nil {
		return nil, fmt.Errorf("router: anthropic %s: %w", model, classifyAnthropic(err))
	}
	return &Completion{
		Content:      resp.Text(),
		Model:        model,
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}, nil
}

func classifyAnthropic(err error) error {
	var se *anthropic.StatusError
	if errors.As(err, &se) && resilience.IsTransientHTTPStatus(se.StatusCode) {
		return resilience.NewTransientError(err, se.StatusCode)
	}
	return err
}
