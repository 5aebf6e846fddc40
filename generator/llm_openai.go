package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAILLM implements LLMClient using the official openai-go SDK (chat completions).
// Any OpenAI-compatible endpoint (DeepSeek, gateways) works through BaseURL.
type OpenAILLM struct {
	Provider string
	client   openai.Client
}

func NewOpenAILLMFromConfig(cfg *LLMSettings) (*OpenAILLM, error) {
	if cfg == nil {
		return nil, errors.New("llm config is nil")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider %s: api key missing; set api_key or api_key_env", cfg.Provider)
	}
	// 同一组 (凭据, 模型) 不重试，失败直接交给 FallbackGenerator 换下一组。
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAILLM{Provider: cfg.Provider, client: openai.NewClient(opts...)}, nil
}

func (o *OpenAILLM) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, o.params(req))
	if err != nil {
		return "", classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices: %w", ErrEmptyResponse)
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

func (o *OpenAILLM) Stream(ctx context.Context, req Request, onDelta func(string)) (string, error) {
	stream := o.client.Chat.Completions.NewStreaming(ctx, o.params(req))
	defer stream.Close()

	var sb strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}
	if err := stream.Err(); err != nil {
		return "", classifyError(err)
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}

func (o *OpenAILLM) params(req Request) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openai.ChatCompletionMessageParamOfAssistant(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: msgs,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return params
}

// classifyError maps SDK status errors onto the package sentinels.
func classifyError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Error())
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Error())
	case apiErr.StatusCode >= 500:
		return fmt.Errorf("%w: %s", ErrUnavailable, apiErr.Error())
	}
	return err
}
