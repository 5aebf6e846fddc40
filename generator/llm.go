package generator

import (
	"context"
	"errors"
)

var (
	ErrEmptyResponse      = errors.New("llm empty response")
	ErrUnauthorized       = errors.New("llm unauthorized")
	ErrRateLimited        = errors.New("llm rate limited")
	ErrUnavailable        = errors.New("llm unavailable")
	ErrAllProvidersFailed = errors.New("all providers failed")
)

// Message 是发送给模型的一条对话消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request 描述一次补全调用；凭据由具体 LLMClient 持有，模型由调用方指定。
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// LLMClient 抽象单个凭据下的大模型客户端，便于替换/Mock。
type LLMClient interface {
	Complete(ctx context.Context, req Request) (string, error)
	// Stream forwards each delta to onDelta and returns the accumulated text.
	Stream(ctx context.Context, req Request, onDelta func(string)) (string, error)
}

// LLMSettings 提供给具体实现的基础配置。
type LLMSettings struct {
	Provider string
	APIKey   string
	BaseURL  string
}
