// Package ratelimit は外部エンドポイントごとの呼び出し間隔制御を提供する。
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultInterval はエンドポイントごとの最小呼び出し間隔のデフォルト値。
const DefaultInterval = 1 * time.Second

// Config はレート制限の設定を保持する。
type Config struct {
	// DefaultInterval は個別設定のないエンドポイントに適用する最小間隔。
	DefaultInterval time.Duration
	// Intervals はエンドポイントキーごとの最小間隔。
	Intervals map[string]time.Duration
}

// DefaultConfig はデフォルトのレート制限設定を返す。
func DefaultConfig() Config {
	return Config{
		DefaultInterval: DefaultInterval,
		Intervals:       map[string]time.Duration{},
	}
}

// Limiter はエンドポイントキーごとに独立したリミッターを管理する。
// 同一キーへの呼び出しは最小間隔で直列化され、異なるキー同士は互いをブロックしない。
type Limiter struct {
	config Config

	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// New は新しいLimiterを生成する。
func New(config Config) *Limiter {
	if config.DefaultInterval <= 0 {
		config.DefaultInterval = DefaultInterval
	}
	return &Limiter{
		config:   config,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Acquire は指定エンドポイントへ次の呼び出しを発行してよくなるまでブロックする。
// 返すエラーはコンテキストのキャンセルのみで、レート制限自体は失敗しない。
func (l *Limiter) Acquire(ctx context.Context, key string) error {
	return l.getOrCreate(key).Wait(ctx)
}

// Interval はエンドポイントキーに適用される最小間隔を返す。
func (l *Limiter) Interval(key string) time.Duration {
	if d, ok := l.config.Intervals[key]; ok && d > 0 {
		return d
	}
	return l.config.DefaultInterval
}

// Count は現在管理されているリミッターのエントリ数を返す。
func (l *Limiter) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.limiters)
}

// getOrCreate はエンドポイントのリミッターを取得または作成する。
func (l *Limiter) getOrCreate(key string) *rate.Limiter {
	l.mu.RLock()
	lim, exists := l.limiters[key]
	l.mu.RUnlock()
	if exists {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// ダブルチェック
	if lim, exists := l.limiters[key]; exists {
		return lim
	}

	// バースト1: 直前の呼び出しから最小間隔が経過するまで次のトークンは補充されない
	lim = rate.NewLimiter(rate.Every(l.Interval(key)), 1)
	l.limiters[key] = lim
	return lim
}
