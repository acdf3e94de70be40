package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/dscvr/internal/model"
)

const (
	// defaultFetchTimeout はフィード取得のデフォルトタイムアウト。
	defaultFetchTimeout = 30 * time.Second
	// defaultMaxBodySize はフィードレスポンスの最大サイズ（5MB）。
	defaultMaxBodySize = 5 * 1024 * 1024
)

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// RSSConfig はRSSAdapterの設定パラメータ。
type RSSConfig struct {
	Timeout     time.Duration
	MaxBodySize int64
}

// RSSAdapter は1つのRSS/Atomフィードから記事を取得する。
// フィードのホストをレート制限のエンドポイントキーとして使用する。
type RSSAdapter struct {
	feed        model.Feed
	guard       SSRFValidator
	throttler   Throttler
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64
}

// NewRSSAdapter はRSSAdapterの新しいインスタンスを生成する。
func NewRSSAdapter(
	feed model.Feed,
	guard SSRFValidator,
	throttler Throttler,
	logger *slog.Logger,
	config RSSConfig,
) *RSSAdapter {
	if config.Timeout <= 0 {
		config.Timeout = defaultFetchTimeout
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = defaultMaxBodySize
	}
	return &RSSAdapter{
		feed:        feed,
		guard:       guard,
		throttler:   throttler,
		logger:      logger,
		timeout:     config.Timeout,
		maxBodySize: config.MaxBodySize,
	}
}

// Name はアダプタの識別子を返す。
func (a *RSSAdapter) Name() string {
	return "rss:" + a.feed.Name
}

// EndpointKey はレート制限に使用するエンドポイントキーを返す。
func (a *RSSAdapter) EndpointKey() string {
	if u, err := url.Parse(a.feed.URL); err == nil && u.Host != "" {
		return "rss:" + strings.ToLower(u.Host)
	}
	return "rss:" + a.feed.URL
}

// Fetch はフィードを取得してパースする。
// パースに失敗したフィードは部分的な結果を返さず、0件とパースエラーを返す。
func (a *RSSAdapter) Fetch(ctx context.Context, params Params) Result {
	start := time.Now()
	name := a.Name()
	feedID := a.feedID()

	if err := a.guard.ValidateURL(a.feed.URL); err != nil {
		a.logger.Error("SSRF検証に失敗しました",
			slog.String("source", name),
			slog.String("feed_url", a.feed.URL),
			slog.String("error", err.Error()),
		)
		return failed(name, feedID, start, model.NewTransportError(name, fmt.Errorf("SSRF検証失敗: %w", err)))
	}

	if err := a.throttler.Acquire(ctx, a.EndpointKey()); err != nil {
		return failed(name, feedID, start, model.NewCancelledError(name, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.feed.URL, nil)
	if err != nil {
		return failed(name, feedID, start, model.NewTransportError(name, fmt.Errorf("リクエスト作成に失敗: %w", err)))
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	client := a.guard.NewSafeClient(a.timeout)
	resp, err := client.Do(req)
	if err != nil {
		fe := classifyRequestError(ctx, name, err)
		a.logger.Error("HTTPリクエストに失敗しました",
			slog.String("source", name),
			slog.String("feed_url", a.feed.URL),
			slog.String("kind", string(fe.Kind)),
			slog.String("error", err.Error()),
		)
		return failed(name, feedID, start, fe)
	}
	defer resp.Body.Close()

	if class := ClassifyHTTPStatus(resp.StatusCode); class != StatusOK {
		a.logger.Warn("フィードが成功以外のステータスを返しました",
			slog.String("source", name),
			slog.String("feed_url", a.feed.URL),
			slog.Int("http_status", resp.StatusCode),
			slog.String("status_class", class.String()),
		)
		return failed(name, feedID, start, model.NewStatusError(name, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, a.maxBodySize))
	if err != nil {
		return failed(name, feedID, start, classifyRequestError(ctx, name, fmt.Errorf("レスポンス読み取り失敗: %w", err)))
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		a.logger.Error("フィードのパースに失敗しました",
			slog.String("source", name),
			slog.String("feed_url", a.feed.URL),
			slog.String("error", err.Error()),
		)
		return failed(name, feedID, start, model.NewParseError(name, err))
	}

	items := a.convertItems(parsed, params.maxItems())

	a.logger.Info("フィードフェッチが完了しました",
		slog.String("source", name),
		slog.String("feed_url", a.feed.URL),
		slog.Int("http_status", resp.StatusCode),
		slog.Int("items_total", len(items)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return Result{
		Source:   name,
		Items:    items,
		FeedID:   feedID,
		Duration: time.Since(start),
	}
}

func (a *RSSAdapter) feedID() *int64 {
	if a.feed.ID == 0 {
		return nil
	}
	id := a.feed.ID
	return &id
}

// convertItems はgofeedの記事をRawItemに変換する。
func (a *RSSAdapter) convertItems(feed *gofeed.Feed, limit int) []model.RawItem {
	sourceName := a.feed.Name
	if sourceName == "" {
		sourceName = feed.Title
	}

	items := make([]model.RawItem, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		if len(items) >= limit {
			break
		}

		raw := model.RawItem{
			Title:       strings.TrimSpace(item.Title),
			Link:        strings.TrimSpace(item.Link),
			Description: item.Description,
			Content:     item.Content,
			Category:    a.feed.Category,
			SourceID:    a.Name(),
			SourceName:  sourceName,
			RSSFeedID:   a.feedID(),
		}

		if item.Author != nil {
			raw.Author = item.Author.Name
		}
		if raw.Author == "" && len(item.Authors) > 0 && item.Authors[0] != nil {
			raw.Author = item.Authors[0].Name
		}

		if item.PublishedParsed != nil {
			t := *item.PublishedParsed
			raw.PublishedAt = &t
		} else if item.UpdatedParsed != nil {
			t := *item.UpdatedParsed
			raw.PublishedAt = &t
		}

		// LinkがなくGUIDがURL形式の場合はGUIDをLinkとして使用
		if raw.Link == "" && (strings.HasPrefix(item.GUID, "http://") || strings.HasPrefix(item.GUID, "https://")) {
			raw.Link = item.GUID
		}

		raw.ImageURL = imageOf(item)

		items = append(items, raw)
	}

	return items
}

// imageOf は記事の代表画像URLを返す。
// 優先順位: item.Image > 画像エンクロージャ > 本文中の最初のimg
func imageOf(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	if src := firstImageURL(item.Content); src != "" {
		return src
	}
	return firstImageURL(item.Description)
}
