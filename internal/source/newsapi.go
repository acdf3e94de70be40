package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/dscvr/internal/model"
)

const (
	// DefaultNewsAPIBaseURL はNewsAPIのベースURL。
	DefaultNewsAPIBaseURL = "https://newsapi.org/v2"
	// NewsAPIEndpointKey はNewsAPI呼び出しのレート制限キー。
	NewsAPIEndpointKey = "newsapi"
	// maxPageSize はNewsAPIの1ページあたりの最大件数。
	maxPageSize = 100
	// maxNewsAPIResponseSize はNewsAPIレスポンスの最大サイズ（10MB）。
	maxNewsAPIResponseSize = 10 * 1024 * 1024
)

// NewsAPIQuery はNewsAPIへの問い合わせ条件。
// Keywordが指定された場合はeverything検索、それ以外はtop-headlinesを使用する。
type NewsAPIQuery struct {
	Keyword  string
	Category string
	Sources  []string
	From     *time.Time
	To       *time.Time
	Language string
	Country  string
}

// NewsAPIConfig はNewsAPIAdapterの設定パラメータ。
type NewsAPIConfig struct {
	BaseURL string
	APIKey  string
}

// NewsAPIAdapter はNewsAPIから記事を取得する。
// 最大件数に達するか結果が尽きるまでページングする。
type NewsAPIAdapter struct {
	client    HTTPDoer
	throttler Throttler
	logger    *slog.Logger
	baseURL   string
	apiKey    string
	query     NewsAPIQuery
}

// NewNewsAPIAdapter はNewsAPIAdapterの新しいインスタンスを生成する。
func NewNewsAPIAdapter(
	client HTTPDoer,
	throttler Throttler,
	logger *slog.Logger,
	config NewsAPIConfig,
	query NewsAPIQuery,
) *NewsAPIAdapter {
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultNewsAPIBaseURL
	}
	return &NewsAPIAdapter{
		client:    client,
		throttler: throttler,
		logger:    logger,
		baseURL:   baseURL,
		apiKey:    config.APIKey,
		query:     query,
	}
}

// Name はアダプタの識別子を返す。
func (a *NewsAPIAdapter) Name() string {
	switch {
	case a.query.Keyword != "":
		return "newsapi:search:" + a.query.Keyword
	case a.query.Category != "":
		return "newsapi:" + a.query.Category
	default:
		return "newsapi"
	}
}

// codeMaximumResultsReached はプランの取得上限を超えたページを要求したときのエラーコード。
const codeMaximumResultsReached = "maximumResultsReached"

var errMaximumResultsReached = errors.New("newsapi: " + codeMaximumResultsReached)

// newsAPIResponse はNewsAPIのレスポンス形式。
type newsAPIResponse struct {
	Status       string           `json:"status"`
	Code         string           `json:"code"`
	Message      string           `json:"message"`
	TotalResults int              `json:"totalResults"`
	Articles     []newsAPIArticle `json:"articles"`
}

type newsAPIArticle struct {
	Source      json.RawMessage `json:"source"`
	Author      *string         `json:"author"`
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	URL         *string         `json:"url"`
	URLToImage  *string         `json:"urlToImage"`
	PublishedAt *string         `json:"publishedAt"`
	Content     *string         `json:"content"`
}

// Fetch は記事をページ単位で取得する。
// いずれかのページで失敗した場合は部分結果を返さず、0件とエラーを返す。
// ただし2ページ目以降でmaximumResultsReachedが返った場合は取得済みの記事で終了する。
func (a *NewsAPIAdapter) Fetch(ctx context.Context, params Params) Result {
	start := time.Now()
	name := a.Name()
	limit := params.maxItems()

	// ページ番号のオフセットがずれないよう、ページサイズは全ページで固定する
	pageSize := min(maxPageSize, limit)

	var items []model.RawItem
	for page := 1; len(items) < limit; page++ {

		resp, err := a.fetchPage(ctx, name, page, pageSize)
		if errors.Is(err, errMaximumResultsReached) && page > 1 {
			a.logger.Warn("NewsAPIの取得上限に達したため取得済みの記事で打ち切ります",
				slog.String("source", name),
				slog.Int("page", page),
				slog.Int("item_count", len(items)),
			)
			break
		}
		if err != nil {
			a.logger.Error("NewsAPIの取得に失敗しました",
				slog.String("source", name),
				slog.Int("page", page),
				slog.String("error", err.Error()),
			)
			return failed(name, nil, start, err)
		}

		for _, art := range resp.Articles {
			if len(items) >= limit {
				break
			}
			items = append(items, a.convertArticle(art))
		}

		// 最終ページ判定: 要求件数未満、または総件数に到達
		if len(resp.Articles) < pageSize || (resp.TotalResults > 0 && page*pageSize >= resp.TotalResults) {
			break
		}
	}

	a.logger.Info("NewsAPIフェッチが完了しました",
		slog.String("source", name),
		slog.Int("items_total", len(items)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return Result{Source: name, Items: items, Duration: time.Since(start)}
}

// fetchPage は1ページ分のレスポンスを取得する。
func (a *NewsAPIAdapter) fetchPage(ctx context.Context, name string, page, pageSize int) (*newsAPIResponse, error) {
	if err := a.throttler.Acquire(ctx, NewsAPIEndpointKey); err != nil {
		return nil, model.NewCancelledError(name, err)
	}

	reqURL, err := a.buildURL(page, pageSize)
	if err != nil {
		return nil, model.NewTransportError(name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, model.NewTransportError(name, fmt.Errorf("リクエスト作成に失敗: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if a.apiKey != "" {
		req.Header.Set("X-Api-Key", a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, classifyRequestError(ctx, name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxNewsAPIResponseSize))
	if err != nil {
		return nil, classifyRequestError(ctx, name, fmt.Errorf("レスポンス読み取り失敗: %w", err))
	}

	var result newsAPIResponse
	jsonErr := json.Unmarshal(body, &result)
	if result.Code == codeMaximumResultsReached {
		err := model.NewStatusError(name, resp.StatusCode)
		err.Cause = errMaximumResultsReached
		return nil, err
	}
	if ClassifyHTTPStatus(resp.StatusCode) != StatusOK {
		return nil, model.NewStatusError(name, resp.StatusCode)
	}
	if jsonErr != nil {
		return nil, model.NewParseError(name, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", jsonErr))
	}
	if result.Status != "ok" {
		return nil, model.NewParseError(name, fmt.Errorf("NewsAPIがstatus=%qを返しました: %s %s", result.Status, result.Code, result.Message))
	}

	return &result, nil
}

// buildURL はページ番号と件数を含むリクエストURLを構築する。
func (a *NewsAPIAdapter) buildURL(page, pageSize int) (string, error) {
	path := "/top-headlines"
	if a.query.Keyword != "" {
		path = "/everything"
	}

	u, err := url.Parse(a.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}

	q := u.Query()
	q.Set("pageSize", strconv.Itoa(pageSize))
	q.Set("page", strconv.Itoa(page))

	if len(a.query.Sources) > 0 {
		q.Set("sources", strings.Join(a.query.Sources, ","))
	}

	if a.query.Keyword != "" {
		q.Set("q", a.query.Keyword)
		q.Set("sortBy", "publishedAt")
		language := a.query.Language
		if language == "" {
			language = "en"
		}
		q.Set("language", language)
		if a.query.From != nil {
			q.Set("from", a.query.From.UTC().Format(time.RFC3339))
		}
		if a.query.To != nil {
			q.Set("to", a.query.To.UTC().Format(time.RFC3339))
		}
	} else {
		if a.query.Category != "" {
			q.Set("category", a.query.Category)
		}
		// sourcesとcountryは併用できない
		if len(a.query.Sources) == 0 {
			country := a.query.Country
			if country == "" {
				country = "us"
			}
			q.Set("country", country)
		}
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// convertArticle はNewsAPIの記事をRawItemに変換する。
func (a *NewsAPIAdapter) convertArticle(art newsAPIArticle) model.RawItem {
	raw := model.RawItem{
		Title:       truncateRunes(deref(art.Title), model.MaxTitleLength),
		Link:        strings.TrimSpace(deref(art.URL)),
		Description: deref(art.Description),
		Content:     deref(art.Content),
		Author:      deref(art.Author),
		ImageURL:    deref(art.URLToImage),
		Category:    a.query.Category,
		SourceID:    a.Name(),
		SourceName:  sourceName(art.Source),
	}

	if art.PublishedAt != nil && *art.PublishedAt != "" {
		if t, ok := parseTimestamp(*art.PublishedAt); ok {
			raw.PublishedAt = &t
		} else {
			a.logger.Warn("公開日時をパースできませんでした",
				slog.String("published_at", *art.PublishedAt),
				slog.String("url", raw.Link),
			)
		}
	}

	return raw
}

// sourceName はNewsAPIのsourceオブジェクトを配信元名の文字列に変換する。
// オブジェクト以外の形式で返された場合はその文字列表現を使用する。
func sourceName(rawSource json.RawMessage) string {
	if len(rawSource) == 0 || string(rawSource) == "null" {
		return ""
	}

	var obj struct {
		ID   *string `json:"id"`
		Name *string `json:"name"`
	}
	if err := json.Unmarshal(rawSource, &obj); err == nil {
		if obj.Name != nil {
			return *obj.Name
		}
		return deref(obj.ID)
	}

	var s string
	if err := json.Unmarshal(rawSource, &s); err == nil {
		return s
	}
	return string(rawSource)
}

// timestampLayouts は公開日時として受け付けるレイアウト。
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimestamp は公開日時を防御的にパースする。
func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// truncateRunes は文字列をn文字（rune単位）に切り詰める。
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
