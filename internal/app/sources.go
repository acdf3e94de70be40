package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/dscvr/internal/config"
	"github.com/hitoshi/dscvr/internal/repository"
	"github.com/hitoshi/dscvr/internal/source"
)

// trendingCategories はトレンド取り込みで参照するNewsAPIのカテゴリ。
var trendingCategories = []string{"technology", "business"}

// errNewsAPIDisabled はNEWS_API_KEYが未設定の状態でNewsAPIが必要になった場合に返す。
var errNewsAPIDisabled = errors.New("NEWS_API_KEY is required for NewsAPI sources")

// adapterProvider は実行ごとにソースのアダプタ一覧を組み立てる。
// 初回呼び出し時にソース定義をrss_feedsへ同期し、以降は有効なフィードのみを対象とする。
type adapterProvider struct {
	feeds      repository.FeedRepository
	sources    []config.FeedSource
	guard      source.SSRFValidator
	throttler  source.Throttler
	newsClient source.HTTPDoer
	cfg        *config.Config
	logger     *slog.Logger

	mu     sync.Mutex
	synced bool
}

func newAdapterProvider(
	feeds repository.FeedRepository,
	sources []config.FeedSource,
	guard source.SSRFValidator,
	throttler source.Throttler,
	newsClient source.HTTPDoer,
	cfg *config.Config,
	logger *slog.Logger,
) *adapterProvider {
	return &adapterProvider{
		feeds:      feeds,
		sources:    sources,
		guard:      guard,
		throttler:  throttler,
		newsClient: newsClient,
		cfg:        cfg,
		logger:     logger,
	}
}

// Adapters は有効なRSSフィードと設定済みのNewsAPIカテゴリのアダプタを返す。
func (p *adapterProvider) Adapters(ctx context.Context) ([]source.Adapter, error) {
	if err := p.syncSources(ctx); err != nil {
		return nil, err
	}

	feeds, err := p.feeds.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active feeds: %w", err)
	}

	adapters := make([]source.Adapter, 0, len(feeds)+len(p.cfg.NewsCategories))
	for _, f := range feeds {
		adapters = append(adapters, source.NewRSSAdapter(f, p.guard, p.throttler, p.logger, source.RSSConfig{
			Timeout:     p.cfg.FetchTimeout,
			MaxBodySize: p.cfg.FetchMaxSize,
		}))
	}

	if p.cfg.NewsAPIEnabled() {
		adapters = append(adapters, p.newsAPIAdapters(p.cfg.NewsCategories)...)
	}
	return adapters, nil
}

// TrendingAdapters はトレンド取り込み用のNewsAPIアダプタを返す。
func (p *adapterProvider) TrendingAdapters() ([]source.Adapter, error) {
	if !p.cfg.NewsAPIEnabled() {
		return nil, errNewsAPIDisabled
	}
	return p.newsAPIAdapters(trendingCategories), nil
}

func (p *adapterProvider) newsAPIAdapters(categories []string) []source.Adapter {
	adapters := make([]source.Adapter, 0, len(categories))
	for _, category := range categories {
		adapters = append(adapters, source.NewNewsAPIAdapter(p.newsClient, p.throttler, p.logger,
			source.NewsAPIConfig{BaseURL: p.cfg.NewsAPIBaseURL, APIKey: p.cfg.NewsAPIKey},
			source.NewsAPIQuery{Category: category, Country: p.cfg.NewsCountry},
		))
	}
	return adapters
}

// syncSources はソース定義をURLキーでrss_feedsへ登録する。同期はプロセスごとに1回のみ行う。
func (p *adapterProvider) syncSources(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.synced {
		return nil
	}
	for _, s := range p.sources {
		f := s.Feed()
		if err := p.feeds.UpsertByURL(ctx, &f); err != nil {
			return fmt.Errorf("failed to sync feed %q: %w", s.URL, err)
		}
	}
	p.synced = true
	p.logger.Info("ソース定義を同期しました", slog.Int("feeds", len(p.sources)))
	return nil
}
