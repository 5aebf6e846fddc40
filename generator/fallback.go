package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Endpoint is one credential with its ordered model preference.
type Endpoint struct {
	ID     string
	Client LLMClient
	Models []string
}

// Secondary 是矩阵耗尽后只调用一次的固定备用模型。
type Secondary struct {
	ID     string
	Client LLMClient
	Model  string
}

// Completion is the single successful answer of a generate call.
type Completion struct {
	Content    string `json:"content"`
	ModelID    string `json:"modelId"`
	ProviderID string `json:"providerId"`
}

// StreamChunk is one element of GenerateStream's output. Exactly one field group is set:
// Delta for an incremental token, Reset when the pair that produced the preceding deltas
// failed, Final on success, Err on hard failure.
//
// Deltas are forwarded as they arrive, before it is known whether their pair succeeds.
// Consumers must handle Reset by discarding every delta received since the previous
// Reset (or the start); only the deltas after the last Reset belong to Final. Final.Content
// is always the complete winning answer.
type StreamChunk struct {
	Delta      string
	Reset      bool
	ProviderID string
	ModelID    string
	Final      *Completion
	Err        error
}

type FallbackGenerator struct {
	endpoints []Endpoint
	secondary *Secondary
	timeout   time.Duration
	logger    *slog.Logger
}

type Option func(*FallbackGenerator)

func WithLogger(logger *slog.Logger) Option {
	return func(g *FallbackGenerator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithRequestTimeout bounds each single (credential, model) call. Zero disables it.
func WithRequestTimeout(d time.Duration) Option {
	return func(g *FallbackGenerator) {
		g.timeout = d
	}
}

func NewFallbackGenerator(endpoints []Endpoint, secondary *Secondary, opts ...Option) (*FallbackGenerator, error) {
	if len(endpoints) == 0 && secondary == nil {
		return nil, errors.New("at least one provider is required")
	}
	for _, ep := range endpoints {
		if ep.Client == nil {
			return nil, fmt.Errorf("provider %s has no client", ep.ID)
		}
		if len(ep.Models) == 0 {
			return nil, fmt.Errorf("provider %s has no models", ep.ID)
		}
	}
	if secondary != nil && (secondary.Client == nil || secondary.Model == "") {
		return nil, fmt.Errorf("secondary provider %s requires client and model", secondary.ID)
	}
	g := &FallbackGenerator{
		endpoints: endpoints,
		secondary: secondary,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

type attempt struct {
	providerID string
	model      string
	client     LLMClient
}

// attempts lists the matrix in priority order, secondary last.
func (g *FallbackGenerator) attempts() []attempt {
	var out []attempt
	for _, ep := range g.endpoints {
		for _, model := range ep.Models {
			out = append(out, attempt{providerID: ep.ID, model: model, client: ep.Client})
		}
	}
	if g.secondary != nil {
		out = append(out, attempt{providerID: g.secondary.ID, model: g.secondary.Model, client: g.secondary.Client})
	}
	return out
}

func (g *FallbackGenerator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.timeout)
}

// Generate tries every (credential, model) pair once, in order, and returns the first
// non-empty completion. Only when the secondary provider also fails is an error returned.
func (g *FallbackGenerator) Generate(ctx context.Context, messages []Message, temperature float64, maxTokens int) (Completion, error) {
	var lastErr error
	for _, a := range g.attempts() {
		if err := ctx.Err(); err != nil {
			return Completion{}, err
		}
		callCtx, cancel := g.callContext(ctx)
		start := time.Now()
		content, err := a.client.Complete(callCtx, Request{
			Model:       a.model,
			Messages:    messages,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		})
		cancel()
		if err == nil && strings.TrimSpace(content) == "" {
			err = ErrEmptyResponse
		}
		if err != nil {
			lastErr = err
			g.logger.Warn("fallback.pair_failed", "provider_id", a.providerID, "model", a.model, "error", err.Error())
			continue
		}
		g.logger.Debug("fallback.pair_ok", "provider_id", a.providerID, "model", a.model, "elapsed_ms", time.Since(start).Milliseconds())
		return Completion{Content: content, ModelID: a.model, ProviderID: a.providerID}, nil
	}
	g.logger.Error("fallback.exhausted", "error", errString(lastErr))
	return Completion{}, fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)
}

// GenerateStream applies the same policy as Generate but forwards tokens as they arrive.
// The channel is closed after a Final or Err chunk, or when ctx is done.
func (g *FallbackGenerator) GenerateStream(ctx context.Context, messages []Message, temperature float64, maxTokens int) <-chan StreamChunk {
	out := make(chan StreamChunk)
	send := func(c StreamChunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}
	go func() {
		defer close(out)
		var lastErr error
		for _, a := range g.attempts() {
			if ctx.Err() != nil {
				return
			}
			callCtx, cancel := g.callContext(ctx)
			streamed := false
			content, err := a.client.Stream(callCtx, Request{
				Model:       a.model,
				Messages:    messages,
				Temperature: temperature,
				MaxTokens:   maxTokens,
			}, func(delta string) {
				streamed = true
				send(StreamChunk{Delta: delta, ProviderID: a.providerID, ModelID: a.model})
			})
			cancel()
			if err == nil && strings.TrimSpace(content) == "" {
				err = ErrEmptyResponse
			}
			if err != nil {
				lastErr = err
				g.logger.Warn("fallback.stream_pair_failed", "provider_id", a.providerID, "model", a.model, "error", err.Error())
				if streamed && !send(StreamChunk{Reset: true, ProviderID: a.providerID, ModelID: a.model}) {
					return
				}
				continue
			}
			send(StreamChunk{Final: &Completion{Content: content, ModelID: a.model, ProviderID: a.providerID}})
			return
		}
		g.logger.Error("fallback.stream_exhausted", "error", errString(lastErr))
		send(StreamChunk{Err: fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)})
	}()
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
