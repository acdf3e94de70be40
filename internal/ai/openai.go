package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel はOpenAI互換バックエンドのデフォルトモデル。
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIConfig はOpenAI互換バックエンドの設定。
type OpenAIConfig struct {
	APIKey string
	Model  string
	// BaseURL はOpenAI互換サーバー（Ollamaの/v1など）を使う場合に指定する。
	BaseURL string
}

// OpenAIBackend はChat Completions APIを呼び出すBackend実装。
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAIBackend はOpenAIBackendを生成する。
func NewOpenAIBackend(cfg OpenAIConfig) *OpenAIBackend {
	cc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIBackend{client: openai.NewClientWithConfig(cc), model: model}
}

// Generate はプロンプトをユーザーメッセージとして送信し、最初の応答を返す。
func (b *OpenAIBackend) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(opts.Temperature),
		TopP:        float32(opts.TopP),
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
			return "", &StatusError{Backend: "openai", StatusCode: apiErr.HTTPStatusCode}
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
			return "", &StatusError{Backend: "openai", StatusCode: reqErr.HTTPStatusCode}
		}
		return "", fmt.Errorf("openai: リクエストに失敗しました: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
