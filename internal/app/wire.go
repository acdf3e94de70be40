package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/dscvr/internal/ai"
	"github.com/hitoshi/dscvr/internal/article"
	"github.com/hitoshi/dscvr/internal/cache"
	"github.com/hitoshi/dscvr/internal/config"
	"github.com/hitoshi/dscvr/internal/database"
	"github.com/hitoshi/dscvr/internal/handler"
	"github.com/hitoshi/dscvr/internal/metrics"
	"github.com/hitoshi/dscvr/internal/middleware"
	"github.com/hitoshi/dscvr/internal/normalize"
	"github.com/hitoshi/dscvr/internal/pipeline"
	"github.com/hitoshi/dscvr/internal/ratelimit"
	"github.com/hitoshi/dscvr/internal/repository"
	"github.com/hitoshi/dscvr/internal/security"
)

// newsAPIEndpointKey はNewsAPIのレート制限キー。
const newsAPIEndpointKey = "newsapi"

// components はパイプライン実行に必要な依存関係一式。
type components struct {
	db          *sql.DB
	cache       *cache.Cache
	gateway     *article.Gateway
	provider    *adapterProvider
	coordinator *pipeline.Coordinator
	registry    *prometheus.Registry
	logger      *slog.Logger
}

// buildComponents はDB接続を開き、全依存関係をワイヤリングする。
// Redisに接続できない場合はキャッシュなしで続行する。
func buildComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: database.DefaultPoolConfig().ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info("database connection established")

	// 2. ソース定義の読み込み
	sources, err := config.LoadSources(cfg.SourcesFile)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}

	// 3. リポジトリとゲートウェイの初期化
	articleRepo := repository.NewPostgresArticleRepo(db)
	feedRepo := repository.NewPostgresFeedRepo(db)
	gateway := article.NewGateway(articleRepo, logger)

	// 4. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// 5. エンリッチメントキャッシュ
	c := connectCache(ctx, cfg, logger)

	// 6. AIオーケストレータ
	aiCfg := ai.DefaultConfig()
	aiCfg.Timeout = cfg.AITimeout
	var aiCache ai.Cache
	if c != nil {
		aiCache = c
	}
	orchestrator := ai.NewOrchestrator(newAIBackend(cfg), aiCache, cfg.CacheArticleTTL, collector, logger, aiCfg)

	// 7. ソースアダプタ
	throttler := ratelimit.New(ratelimit.Config{
		DefaultInterval: cfg.RateLimitDefaultInterval,
		Intervals:       map[string]time.Duration{newsAPIEndpointKey: cfg.RateLimitNewsAPIInterval},
	})
	guard := security.NewSSRFGuard()
	provider := newAdapterProvider(feedRepo, sources, guard, throttler, guard.NewSafeClient(cfg.FetchTimeout), cfg, logger)

	// 8. コーディネータ
	coordinator := pipeline.NewCoordinator(
		provider,
		normalize.New(security.NewTextSanitizer()),
		orchestrator,
		gateway,
		feedRepo,
		collector,
		logger,
		pipeline.Config{
			FetchFanout:       cfg.FetchFanout,
			EnrichWorkers:     cfg.EnrichWorkers,
			RunTimeout:        cfg.RunTimeout,
			MaxItemsPerSource: cfg.NewsMaxArticles,
		},
	)

	return &components{
		db:          db,
		cache:       c,
		gateway:     gateway,
		provider:    provider,
		coordinator: coordinator,
		registry:    registry,
		logger:      logger,
	}, nil
}

// connectCache はRedisに接続する。接続できない場合はnilを返す。
func connectCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) *cache.Cache {
	rdb, err := cache.NewRedisClient(cfg.RedisURL)
	if err != nil {
		logger.Warn("REDIS_URLが不正なためキャッシュなしで続行します", "error", err)
		return nil
	}
	c := cache.New(rdb, logger, cache.Config{
		ArticleTTL: cfg.CacheArticleTTL,
		DefaultTTL: cfg.CacheDefaultTTL,
	})
	if err := c.Ping(ctx); err != nil {
		logger.Warn("Redisに接続できないためキャッシュなしで続行します", "error", err)
		c.Close()
		return nil
	}
	return c
}

// newAIBackend はAI_BACKENDに応じたバックエンドを生成する。
func newAIBackend(cfg *config.Config) ai.Backend {
	if cfg.AIBackend == config.AIBackendOpenAI {
		return ai.NewOpenAIBackend(ai.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
		})
	}
	return ai.NewOllamaBackend(&http.Client{Timeout: cfg.AITimeout}, cfg.OllamaHost, cfg.OllamaModel)
}

// router は運用エンドポイントのハンドラーを構築する。
func (c *components) router(rateLimiter *middleware.RateLimiter) http.Handler {
	deps := &handler.RouterDeps{
		Database:    c.gateway,
		Runner:      c.coordinator,
		RateLimiter: rateLimiter,
		Metrics:     metrics.Handler(c.registry),
		Logger:      c.logger,
	}
	if c.cache != nil {
		deps.Cache = c.cache
	}
	return handler.NewRouter(deps)
}

func (c *components) close() {
	if c.cache != nil {
		c.cache.Close()
	}
	c.db.Close()
}
