// Package cache はAIエンリッチメント結果のRedisキャッシュを提供する。
// キャッシュの失敗は呼び出し元に伝播せず、ミスとして扱う。
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// keyPrefix はこのキャッシュが使用するRedisキーの接頭辞。
	keyPrefix = "dscvr:enrich:"
	// DefaultArticleTTL は記事単位の値のデフォルトTTL。
	DefaultArticleTTL = 600 * time.Second
	// DefaultTTL はその他の値のデフォルトTTL。
	DefaultTTL = 300 * time.Second
)

// MissReason はキャッシュミスの理由。
type MissReason string

const (
	// ReasonNone はヒットを表す。
	ReasonNone MissReason = ""
	// ReasonNotFound はキーが存在しない、または期限切れ。
	ReasonNotFound MissReason = "not_found"
	// ReasonStoreError はRedisへの接続や応答の失敗。
	ReasonStoreError MissReason = "store_error"
	// ReasonDecodeError は保存値のデコード失敗。
	ReasonDecodeError MissReason = "decode_error"
)

// Lookup はキャッシュ参照の結果。
type Lookup struct {
	Value  string
	Hit    bool
	Reason MissReason
}

// Config はキャッシュのTTL設定。
type Config struct {
	ArticleTTL time.Duration
	DefaultTTL time.Duration
}

// DefaultConfig はデフォルトのTTL設定を返す。
func DefaultConfig() Config {
	return Config{ArticleTTL: DefaultArticleTTL, DefaultTTL: DefaultTTL}
}

// Cache はRedisをバックエンドとするエンリッチメントキャッシュ。
// 並行呼び出しに安全。
type Cache struct {
	rdb    *redis.Client
	logger *slog.Logger
	config Config

	hits   atomic.Int64
	misses atomic.Int64
}

// New はCacheを生成する。
func New(rdb *redis.Client, logger *slog.Logger, config Config) *Cache {
	if config.ArticleTTL <= 0 {
		config.ArticleTTL = DefaultArticleTTL
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = DefaultTTL
	}
	return &Cache{rdb: rdb, logger: logger, config: config}
}

// NewRedisClient はredis://形式のURLからRedisクライアントを生成する。
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("REDIS_URLのパースに失敗しました: %w", err)
	}
	return redis.NewClient(opts), nil
}

// ArticleTTL は記事単位の値に使用するTTLを返す。
func (c *Cache) ArticleTTL() time.Duration {
	return c.config.ArticleTTL
}

// Fingerprint は処理種別と入力から決定的なキャッシュキーを生成する。
// 処理種別をキーに含めるため、同じ入力でも種別が異なれば衝突しない。
func Fingerprint(kind, input string) string {
	sum := sha256.Sum256([]byte(kind + "\x00" + input))
	return kind + ":" + hex.EncodeToString(sum[:])
}

// Get はキャッシュから値を取得する。失敗した場合もエラーは返さずミスとして報告する。
func (c *Cache) Get(ctx context.Context, fingerprint string) Lookup {
	val, err := c.rdb.Get(ctx, keyPrefix+fingerprint).Result()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return Lookup{Reason: ReasonNotFound}
	}
	if err != nil {
		c.misses.Add(1)
		c.logger.Warn("キャッシュの取得に失敗しました",
			slog.String("fingerprint", fingerprint),
			slog.String("error", err.Error()),
		)
		return Lookup{Reason: ReasonStoreError}
	}
	c.hits.Add(1)
	return Lookup{Value: val, Hit: true}
}

// Put は値をTTL付きで保存する。ttlが0以下の場合はデフォルトTTLを使用する。
// 保存の成否を返すが、失敗しても呼び出し元の処理は継続できる。
func (c *Cache) Put(ctx context.Context, fingerprint, value string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	if err := c.rdb.SetEx(ctx, keyPrefix+fingerprint, value, ttl).Err(); err != nil {
		c.logger.Warn("キャッシュの保存に失敗しました",
			slog.String("fingerprint", fingerprint),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// GetJSON はJSONとして保存された値をdstにデコードする。
func (c *Cache) GetJSON(ctx context.Context, fingerprint string, dst any) Lookup {
	l := c.Get(ctx, fingerprint)
	if !l.Hit {
		return l
	}
	if err := json.Unmarshal([]byte(l.Value), dst); err != nil {
		c.logger.Warn("キャッシュ値のデコードに失敗しました",
			slog.String("fingerprint", fingerprint),
			slog.String("error", err.Error()),
		)
		return Lookup{Reason: ReasonDecodeError}
	}
	return l
}

// PutJSON は値をJSONにエンコードして保存する。
func (c *Cache) PutJSON(ctx context.Context, fingerprint string, v any, ttl time.Duration) bool {
	b, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("キャッシュ値のエンコードに失敗しました",
			slog.String("fingerprint", fingerprint),
			slog.String("error", err.Error()),
		)
		return false
	}
	return c.Put(ctx, fingerprint, string(b), ttl)
}

// Clear はパターンに一致するキャッシュエントリを削除し、削除件数を返す。
// パターンが空の場合は全エントリを対象とする。
func (c *Cache) Clear(ctx context.Context, pattern string) (int, error) {
	if pattern == "" {
		pattern = "*"
	}

	keys, err := c.rdb.Keys(ctx, keyPrefix+pattern).Result()
	if err != nil {
		return 0, fmt.Errorf("キャッシュキーの列挙に失敗しました: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	n, err := c.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("キャッシュの削除に失敗しました: %w", err)
	}

	c.logger.Info("キャッシュを削除しました",
		slog.String("pattern", pattern),
		slog.Int64("deleted", n),
	)
	return int(n), nil
}

// Ping はRedisへの疎通を確認する。
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close はRedisクライアントを閉じる。
func (c *Cache) Close() error {
	return c.rdb.Close()
}
