// Package config は環境変数とソース定義ファイルからアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AIバックエンドの種別。
const (
	AIBackendOllama = "ollama"
	AIBackendOpenAI = "openai"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Cache
	RedisURL        string
	CacheArticleTTL time.Duration
	CacheDefaultTTL time.Duration

	// Rate Limit
	RateLimitDefaultInterval time.Duration
	RateLimitNewsAPIInterval time.Duration

	// Fetch
	FetchTimeout time.Duration
	FetchMaxSize int64
	FetchFanout  int

	// AI
	AIBackend     string
	AITimeout     time.Duration
	OllamaHost    string
	OllamaModel   string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	EnrichWorkers int

	// NewsAPI
	NewsAPIKey      string
	NewsAPIBaseURL  string
	NewsCategories  []string
	NewsCountry     string
	NewsMaxArticles int

	// Run
	RunTimeout  time.Duration
	RunInterval time.Duration
	SourcesFile string

	// Server
	ServerPort string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値の組み合わせが不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("required environment variables are not set: %v", []string{"DATABASE_URL"})
	}

	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)

	cfg.RedisURL = getEnvString("REDIS_URL", "redis://localhost:6379")
	cfg.CacheArticleTTL = getEnvDuration("CACHE_ARTICLE_TTL", 600*time.Second)
	cfg.CacheDefaultTTL = getEnvDuration("CACHE_DEFAULT_TTL", 300*time.Second)

	cfg.RateLimitDefaultInterval = getEnvDuration("RATE_LIMIT_DEFAULT_INTERVAL", time.Second)
	cfg.RateLimitNewsAPIInterval = getEnvDuration("RATE_LIMIT_NEWSAPI_INTERVAL", cfg.RateLimitDefaultInterval)

	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 30*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchFanout = getEnvInt("FETCH_FANOUT", 0)

	cfg.AIBackend = strings.ToLower(getEnvString("AI_BACKEND", AIBackendOllama))
	cfg.AITimeout = getEnvDuration("AI_TIMEOUT", 30*time.Second)
	cfg.OllamaHost = getEnvString("OLLAMA_HOST", "http://localhost:11434")
	cfg.OllamaModel = getEnvString("OLLAMA_MODEL", "llama2")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIModel = getEnvString("OPENAI_MODEL", "gpt-4o-mini")
	cfg.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")
	cfg.EnrichWorkers = getEnvInt("ENRICH_WORKERS", 4)

	cfg.NewsAPIKey = os.Getenv("NEWS_API_KEY")
	cfg.NewsAPIBaseURL = getEnvString("NEWS_API_BASE_URL", "https://newsapi.org/v2")
	cfg.NewsCategories = getEnvList("NEWS_CATEGORIES", []string{"general", "technology", "business", "science"})
	cfg.NewsCountry = getEnvString("NEWS_COUNTRY", "us")
	cfg.NewsMaxArticles = getEnvInt("NEWS_MAX_ARTICLES", 100)

	cfg.RunTimeout = getEnvDuration("RUN_TIMEOUT", 15*time.Minute)
	cfg.RunInterval = getEnvDuration("RUN_INTERVAL", 30*time.Minute)
	cfg.SourcesFile = os.Getenv("SOURCES_FILE")

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	switch cfg.AIBackend {
	case AIBackendOllama:
	case AIBackendOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when AI_BACKEND=%s", AIBackendOpenAI)
		}
	default:
		return nil, fmt.Errorf("unsupported AI_BACKEND: %q", cfg.AIBackend)
	}

	return cfg, nil
}

// NewsAPIEnabled はNewsAPIキーが設定されているかを返す。
func (c *Config) NewsAPIEnabled() bool {
	return c.NewsAPIKey != ""
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの環境変数を読み込む。空要素は除外する。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
