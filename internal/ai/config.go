package ai

import "time"

// DefaultTimeout はバックエンド呼び出し1回あたりのタイムアウト。
const DefaultTimeout = 30 * time.Second

// CapabilityConfig は機能ごとの入力上限と生成パラメータ。
type CapabilityConfig struct {
	// InputLimit はプロンプトに含める入力の最大文字数。
	InputLimit int
	Options    GenerateOptions
}

// Config はOrchestratorの設定。
type Config struct {
	Timeout   time.Duration
	Summary   CapabilityConfig
	Sentiment CapabilityConfig
	Keywords  CapabilityConfig
	Questions CapabilityConfig

	// SummaryMaxLength は要約の目標文字数。
	SummaryMaxLength int
	MaxKeywords      int
	MaxQuestions     int
}

// DefaultConfig はデフォルト設定を返す。
func DefaultConfig() Config {
	return Config{
		Timeout: DefaultTimeout,
		Summary: CapabilityConfig{
			InputLimit: 2000,
			Options:    GenerateOptions{Temperature: 0.7, TopP: 0.9, MaxTokens: 300},
		},
		Sentiment: CapabilityConfig{
			InputLimit: 500,
			Options:    GenerateOptions{Temperature: 0.3, MaxTokens: 10},
		},
		Keywords: CapabilityConfig{
			InputLimit: 1000,
			Options:    GenerateOptions{Temperature: 0.5, MaxTokens: 100},
		},
		Questions: CapabilityConfig{
			InputLimit: 1500,
			Options:    GenerateOptions{Temperature: 0.7, MaxTokens: 200},
		},
		SummaryMaxLength: 200,
		MaxKeywords:      8,
		MaxQuestions:     5,
	}
}

// withDefaults は未設定の項目をデフォルト値で補完する。
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Summary.InputLimit <= 0 {
		c.Summary = d.Summary
	}
	if c.Sentiment.InputLimit <= 0 {
		c.Sentiment = d.Sentiment
	}
	if c.Keywords.InputLimit <= 0 {
		c.Keywords = d.Keywords
	}
	if c.Questions.InputLimit <= 0 {
		c.Questions = d.Questions
	}
	if c.SummaryMaxLength <= 0 {
		c.SummaryMaxLength = d.SummaryMaxLength
	}
	if c.MaxKeywords <= 0 {
		c.MaxKeywords = d.MaxKeywords
	}
	if c.MaxQuestions <= 0 {
		c.MaxQuestions = d.MaxQuestions
	}
	return c
}
