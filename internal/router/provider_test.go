package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/postpilot/internal/resilience"
	"github.com/sells-group/postpilot/pkg/anthropic"
	"github.com/sells-group/postpilot/pkg/ollama"
)

// failingProvider fails its first n Models calls.
type failingProvider struct {
	name     string
	models   []string
	failures int32
	err      error
	calls    atomic.Int32
}

func (c *failingProvider) Name() string { return c.name }

func (c *failingProvider) Models(context.Context) ([]string, error) {
	if n := c.calls.Add(1); n <= c.failures {
		return nil, c.err
	}
	return c.models, nil
}

func (c *failingProvider) Complete(context.Context, string, Request) (*Completion, error) {
	return nil, errors.New("not used")
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func TestRegistry_LongestPrefix(t *testing.T) {
	t.Parallel()
	generic := &fakeProvider{name: "generic"}
	local := &fakeProvider{name: "ollama"}
	reg := NewRegistry()
	reg.Register("", generic)
	reg.Register(OllamaPrefix, local)

	p, ok := reg.For("ollama/qwen3:8b")
	require.True(t, ok)
	assert.Equal(t, "ollama", p.Name())

	p, ok = reg.For("gpt-4")
	require.True(t, ok)
	assert.Equal(t, "generic", p.Name())

	assert.Len(t, reg.Providers(), 2)
}

func TestRegistry_Empty(t *testing.T) {
	t.Parallel()
	_, ok := NewRegistry().For("gpt-4")
	assert.False(t, ok)
}

func TestProber_UnionAndRetry(t *testing.T) {
	t.Parallel()
	flaky := &failingProvider{
		name:     "ollama",
		models:   []string{"ollama/qwen3:8b"},
		failures: 1,
		err:      resilience.NewTransientError(errors.New("503"), 503),
	}
	cloud := &failingProvider{name: "anthropic", models: []string{"claude-3-haiku"}}
	reg := NewRegistry()
	reg.Register(OllamaPrefix, flaky)
	reg.Register(AnthropicPrefix, cloud)

	p := NewProber(reg, WithProbeRetry(fastRetry()))
	got, err := p.AvailableModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"ollama/qwen3:8b": true, "claude-3-haiku": true}, got)
	assert.Equal(t, int32(2), flaky.calls.Load())
}

func TestProber_PermanentFailureContributesNothing(t *testing.T) {
	t.Parallel()
	broken := &failingProvider{name: "ollama", failures: 10, err: errors.New("bad config")}
	reg := NewRegistry()
	reg.Register(OllamaPrefix, broken)

	got, err := NewProber(reg, WithProbeRetry(fastRetry())).AvailableModels(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int32(1), broken.calls.Load())
}

func TestProber_CachesUntilInvalidated(t *testing.T) {
	t.Parallel()
	prov := &failingProvider{name: "ollama", models: []string{"ollama/qwen3:8b"}}
	reg := NewRegistry()
	reg.Register(OllamaPrefix, prov)
	p := NewProber(reg, WithProbeTTL(time.Hour))

	for range 3 {
		_, err := p.AvailableModels(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), prov.calls.Load())

	p.Invalidate()
	_, err := p.AvailableModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), prov.calls.Load())
}

func TestProber_CanceledListingIsNotCached(t *testing.T) {
	t.Parallel()
	prov := &countingProvider{fakeProvider: fakeProvider{name: "ollama", models: []string{"ollama/qwen3:8b"}}}
	reg := NewRegistry()
	reg.Register(OllamaPrefix, prov)
	p := NewProber(reg, WithProbeTTL(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.AvailableModels(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	got, err := p.AvailableModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"ollama/qwen3:8b": true}, got)
	assert.Equal(t, int32(2), prov.listings.Load())
}

func TestOllamaProvider(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/tags":
			w.Write([]byte(`{"models":[{"name":"qwen3:8b"},{"name":"mistral:7b"}]}`)) //nolint:errcheck
		case "/api/chat":
			var req ollama.ChatRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "qwen3:8b", req.Model)
			if assert.NotNil(t, req.Options) {
				assert.Equal(t, 600, req.Options.NumPredict)
			}
			w.Write([]byte(`{"model":"qwen3:8b","message":{"role":"assistant","content":"draft"},"done":true,"prompt_eval_count":12,"eval_count":8}`)) //nolint:errcheck
		}
	}))
	defer ts.Close()

	p := NewOllamaProvider(ollama.NewClient(ollama.WithBaseURL(ts.URL)))
	models, err := p.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ollama/qwen3:8b", "ollama/mistral:7b"}, models)

	comp, err := p.Complete(context.Background(), "ollama/qwen3:8b", Request{
		Messages:    []Message{{Role: RoleUser, Content: "write"}},
		Temperature: 0.8,
		MaxTokens:   600,
	})
	require.NoError(t, err)
	assert.Equal(t, &Completion{Content: "draft", Model: "ollama/qwen3:8b", InputTokens: 12, OutputTokens: 8}, comp)
}

func TestOllamaProvider_TransientStatus(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	p := NewOllamaProvider(ollama.NewClient(ollama.WithBaseURL(ts.URL)))
	_, err := p.Complete(context.Background(), "ollama/qwen3:8b", Request{})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestAnthropicProvider(t *testing.T) {
	t.Parallel()
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
				"data": []map[string]any{
					{"id": "claude-3-haiku-20240307", "type": "model", "display_name": "Claude 3 Haiku", "created_at": "2024-03-07T00:00:00Z"},
				},
				"has_more": false,
			})
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"content":     []map[string]any{{"type": "text", "text": "cloud draft"}},
			"model":       "claude-3-haiku-20240307",
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 20, "output_tokens": 9},
		})
	}))
	defer ts.Close()

	p := NewAnthropicProvider(anthropic.NewClient("test-key", option.WithBaseURL(ts.URL)))
	models, err := p.Models(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"claude-3-haiku-20240307", "claude-3-haiku"}, models)

	comp, err := p.Complete(context.Background(), "claude-3-haiku", Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "You write LinkedIn posts."},
			{Role: RoleUser, Content: "write"},
		},
		Temperature: 0.7,
		MaxTokens:   800,
	})
	require.NoError(t, err)
	assert.Equal(t, "cloud draft", comp.Content)
	assert.Equal(t, 20, comp.InputTokens)
	assert.Equal(t, 9, comp.OutputTokens)

	assert.Equal(t, "claude-3-haiku-20240307", body["model"])
	assert.Len(t, body["system"], 1)
	assert.Len(t, body["messages"], 1)
}
