// Package ai はテキスト生成バックエンドを用いた記事のエンリッチメントを提供する。
// 要約、感情分析、キーワード抽出、フォローアップ質問生成の4機能は互いに独立しており、
// 1つの失敗が他の機能や記事全体を失敗させることはない。
package ai

import (
	"context"
	"fmt"
)

// GenerateOptions はテキスト生成のパラメータ。
type GenerateOptions struct {
	Temperature float64
	// TopP は0の場合は送信しない。
	TopP      float64
	MaxTokens int
}

// Backend はプロンプトからテキストを生成するバックエンドのインターフェース。
type Backend interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// StatusError はバックエンドが成功以外のHTTPステータスを返したことを表す。
type StatusError struct {
	Backend    string
	StatusCode int
}

// Error はerrorインターフェースを実装する。
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTPステータス %d", e.Backend, e.StatusCode)
}
