package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// DefaultOllamaHost はOllamaのデフォルトの接続先。
	DefaultOllamaHost = "http://localhost:11434"
	// DefaultOllamaModel はOllamaのデフォルトモデル。
	DefaultOllamaModel = "llama2"
	// maxGenerateResponseSize は生成レスポンスの最大サイズ（1MB）。
	maxGenerateResponseSize = 1 * 1024 * 1024
)

// HTTPDoer はHTTPリクエストを実行するインターフェース。
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// OllamaBackend はOllamaの/api/generateエンドポイントを呼び出すBackend実装。
type OllamaBackend struct {
	client HTTPDoer
	host   string
	model  string
}

// NewOllamaBackend はOllamaBackendを生成する。
// タイムアウトは呼び出しごとのcontextで制御するため、clientにタイムアウトは不要。
func NewOllamaBackend(client HTTPDoer, host, model string) *OllamaBackend {
	host = strings.TrimRight(host, "/")
	if host == "" {
		host = DefaultOllamaHost
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	return &OllamaBackend{client: client, host: host, model: model}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

// Generate はプロンプトを送信し、生成されたテキストを返す。
func (b *OllamaBackend) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	payload, err := json.Marshal(ollamaRequest{
		Model:  b.model,
		Prompt: prompt,
		Stream: false,
		Options: ollamaOptions{
			Temperature: opts.Temperature,
			TopP:        opts.TopP,
			NumPredict:  opts.MaxTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama: リクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxGenerateResponseSize))
		return "", &StatusError{Backend: "ollama", StatusCode: resp.StatusCode}
	}

	var out ollamaResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxGenerateResponseSize)).Decode(&out); err != nil {
		return "", fmt.Errorf("ollama: レスポンスのデコードに失敗しました: %w", err)
	}
	return strings.TrimSpace(out.Response), nil
}
