// Package pipeline はフェッチ、正規化と重複排除、エンリッチメント、永続化を
// 1回の実行として駆動するコーディネータと定期実行スケジューラを提供する。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/dscvr/internal/article"
	"github.com/hitoshi/dscvr/internal/model"
	"github.com/hitoshi/dscvr/internal/normalize"
	"github.com/hitoshi/dscvr/internal/source"
)

// DefaultEnrichWorkers はエンリッチメントワーカー数のデフォルト値。
const DefaultEnrichWorkers = 4

// ErrRunInProgress は別の実行が進行中であることを表す。
var ErrRunInProgress = errors.New("pipeline run already in progress")

// Mode は実行モード。
type Mode int

const (
	// ModeIngest は新規記事のみを取り込む通常の実行。
	ModeIngest Mode = iota
	// ModeTrending は取得した記事をすべてトレンドとして登録する実行。
	ModeTrending
)

// String はログ出力用のモード名を返す。
func (m Mode) String() string {
	if m == ModeTrending {
		return "trending"
	}
	return "ingest"
}

// Enricher は記事本文からエンリッチメント結果を生成する。
type Enricher interface {
	Enrich(ctx context.Context, text string) model.EnrichmentResult
}

// Store は記事の永続化先。article.Gatewayが実装する。
type Store interface {
	ExistsByURL(ctx context.Context, url string) (bool, error)
	Ping(ctx context.Context) error
	Upsert(ctx context.Context, candidate model.Article) (*model.Article, article.Outcome, error)
	MarkTrending(ctx context.Context, candidate model.Article) (article.Outcome, error)
	FlagTrending(ctx context.Context, url string) (bool, error)
}

// FeedRecorder はフィード単位のフェッチ結果を記録する。
type FeedRecorder interface {
	RecordFetch(ctx context.Context, feedID int64, imported int, fetchErr error) error
}

// AdapterProvider は実行ごとのソースアダプタ一覧を返す。
type AdapterProvider interface {
	Adapters(ctx context.Context) ([]source.Adapter, error)
}

// Recorder はフェッチと実行結果のメトリクスを記録する。
type Recorder interface {
	RecordFetch(source string, err error, duration time.Duration)
	RecordRun(report model.RunReport, err error)
}

// Config はコーディネータの設定。
type Config struct {
	// FetchFanout はフェッチの最大並列数。0以下の場合はアダプタ数。
	FetchFanout int
	// EnrichWorkers はエンリッチメントの最大並列数。0以下の場合はDefaultEnrichWorkers。
	EnrichWorkers int
	// RunTimeout は1回の実行の上限時間。0以下の場合は無制限。
	RunTimeout time.Duration
	// MaxItemsPerSource はアダプタ1つあたりの取得件数の上限。
	MaxItemsPerSource int
}

// Coordinator はパイプライン実行を駆動する。
// 同時に進行できる実行は1つのみ。
type Coordinator struct {
	provider   AdapterProvider
	normalizer *normalize.Normalizer
	enricher   Enricher
	store      Store
	feeds      FeedRecorder
	recorder   Recorder
	logger     *slog.Logger
	config     Config

	running atomic.Bool
}

// NewCoordinator はCoordinatorの新しいインスタンスを生成する。
// feedsとrecorderはnilでもよい。
func NewCoordinator(
	provider AdapterProvider,
	normalizer *normalize.Normalizer,
	enricher Enricher,
	store Store,
	feeds FeedRecorder,
	recorder Recorder,
	logger *slog.Logger,
	config Config,
) *Coordinator {
	if config.EnrichWorkers <= 0 {
		config.EnrichWorkers = DefaultEnrichWorkers
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Coordinator{
		provider:   provider,
		normalizer: normalizer,
		enricher:   enricher,
		store:      store,
		feeds:      feeds,
		recorder:   recorder,
		logger:     logger,
		config:     config,
	}
}

// Run はAdapterProviderが返すソースで通常の取り込みを1回実行する。
func (c *Coordinator) Run(ctx context.Context) (model.RunReport, error) {
	adapters, err := c.provider.Adapters(ctx)
	if err != nil {
		return model.RunReport{}, fmt.Errorf("ソース一覧の取得に失敗しました: %w", err)
	}
	return c.RunWith(ctx, adapters, ModeIngest)
}

// RunWith は指定したソースとモードでパイプラインを1回実行する。
// 永続化先が全く利用できない場合のみエラーを返す。キャンセル時はレポートのCancelledを立てる。
func (c *Coordinator) RunWith(ctx context.Context, adapters []source.Adapter, mode Mode) (model.RunReport, error) {
	if !c.running.CompareAndSwap(false, true) {
		return model.RunReport{}, ErrRunInProgress
	}
	defer c.running.Store(false)

	runID := uuid.NewString()
	start := time.Now()
	stats := model.NewRunStats()
	logger := c.logger.With(slog.String("run_id", runID), slog.String("mode", mode.String()))

	if c.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RunTimeout)
		defer cancel()
	}
	r := &run{
		coordinator: c,
		stats:       stats,
		logger:      logger,
		imported:    make(map[int64]int),
	}
	ctx, r.abort = context.WithCancelCause(ctx)
	defer r.abort(nil)

	logger.Info("パイプライン実行を開始します", slog.Int("source_count", len(adapters)))

	var runErr error
	if err := c.store.Ping(ctx); err != nil {
		runErr = err
	} else {
		runErr = r.execute(ctx, adapters, mode)
	}

	report := stats.Report(runID, start)
	if runErr != nil {
		runErr = fmt.Errorf("パイプライン実行に失敗しました: %w", runErr)
		logger.Error("パイプライン実行に失敗しました",
			slog.String("error", runErr.Error()),
			slog.Float64("duration_ms", float64(report.Duration.Milliseconds())),
		)
	} else {
		report.Cancelled = ctx.Err() != nil
		logger.Info("パイプライン実行が完了しました",
			slog.Int("fetched", report.Fetched),
			slog.Int("duplicates", report.Duplicates),
			slog.Int("rejected", report.Rejected),
			slog.Int("imported", report.Imported),
			slog.Int("flagged", report.Flagged),
			slog.Int("enrichment_failures", report.EnrichmentFailures),
			slog.Int("persistence_failures", report.PersistenceFailures),
			slog.Int("abandoned", report.Abandoned),
			slog.Bool("cancelled", report.Cancelled),
			slog.Float64("duration_ms", float64(report.Duration.Milliseconds())),
		)
	}
	c.recorder.RecordRun(report, runErr)

	return report, runErr
}

// run は1回の実行中の状態を保持する。
type run struct {
	coordinator *Coordinator
	stats       *model.RunStats
	logger      *slog.Logger
	abort       context.CancelCauseFunc

	mu       sync.Mutex
	fatal    error
	imported map[int64]int
}

func (r *run) execute(ctx context.Context, adapters []source.Adapter, mode Mode) error {
	results := r.fetchAll(ctx, adapters)
	defer r.recordFeeds(ctx, results)

	candidates := r.normalize(results)
	if ctx.Err() != nil {
		r.stats.AddAbandoned(len(candidates))
		return r.fatalError()
	}

	deduper := normalize.NewDeduper(r.lookupFor(mode), r.logger)
	survivors, duplicates, err := deduper.Dedupe(ctx, candidates)
	if err != nil {
		return err
	}
	for i := 0; i < duplicates; i++ {
		r.stats.AddDuplicate()
	}

	r.enrichAndPersist(ctx, survivors, mode)

	return r.fatalError()
}

// lookupFor はモードに応じた既存記事の検索先を返す。
// トレンド実行では既存記事もフラグ設定の対象とするため、実行内の重複のみを排除する。
func (r *run) lookupFor(mode Mode) normalize.ExistenceChecker {
	if mode == ModeTrending {
		return inRunOnly{}
	}
	return r.coordinator.store
}

// fetchAll はセマフォで並列数を制御しながら全アダプタからフェッチする。
func (r *run) fetchAll(ctx context.Context, adapters []source.Adapter) []source.Result {
	fanout := r.coordinator.config.FetchFanout
	if fanout <= 0 || fanout > len(adapters) {
		fanout = len(adapters)
	}
	params := source.Params{MaxItems: r.coordinator.config.MaxItemsPerSource}

	results := make([]source.Result, len(adapters))
	sem := make(chan struct{}, max(fanout, 1))
	var wg sync.WaitGroup

	for i, adapter := range adapters {
		wg.Add(1)
		sem <- struct{}{}

		go func(i int, a source.Adapter) {
			defer wg.Done()
			defer func() { <-sem }()

			res := a.Fetch(ctx, params)
			if res.Source == "" {
				res.Source = a.Name()
			}
			results[i] = res
			r.coordinator.recorder.RecordFetch(res.Source, res.Err, res.Duration)

			if res.Err != nil {
				r.stats.AddFetchError(res.Source, res.Err)
				r.logger.Warn("ソースのフェッチに失敗したためスキップします",
					slog.String("source", res.Source),
					slog.String("error", res.Err.Error()),
				)
				return
			}
			r.stats.AddFetched(len(res.Items))
			r.logger.Info("ソースのフェッチが完了しました",
				slog.String("source", res.Source),
				slog.Int("item_count", len(res.Items)),
				slog.Float64("duration_ms", float64(res.Duration.Milliseconds())),
			)
		}(i, adapter)
	}

	wg.Wait()
	return results
}

// normalize は取得した記事を正規化する。正規化できない記事は破棄してカウントする。
func (r *run) normalize(results []source.Result) []model.Article {
	var candidates []model.Article
	for _, res := range results {
		for _, raw := range res.Items {
			a, err := r.coordinator.normalizer.Normalize(raw)
			if err != nil {
				r.stats.AddRejected()
				r.logger.Debug("記事の正規化に失敗したため破棄します",
					slog.String("source", res.Source),
					slog.String("url", raw.Link),
					slog.String("error", err.Error()),
				)
				continue
			}
			candidates = append(candidates, a)
		}
	}
	return candidates
}

// enrichAndPersist はワーカープールで記事ごとにエンリッチメントと永続化を行う。
func (r *run) enrichAndPersist(ctx context.Context, articles []model.Article, mode Mode) {
	jobs := make(chan model.Article)
	var wg sync.WaitGroup

	workers := min(r.coordinator.config.EnrichWorkers, max(len(articles), 1))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for a := range jobs {
				r.process(ctx, a, mode)
			}
		}()
	}

dispatch:
	for i, a := range articles {
		select {
		case <-ctx.Done():
			r.stats.AddAbandoned(len(articles) - i)
			break dispatch
		default:
		}
		select {
		case jobs <- a:
		case <-ctx.Done():
			r.stats.AddAbandoned(len(articles) - i)
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()
}

// process は記事1件をエンリッチメントして永続化する。
// 実行がキャンセルされた記事はエンリッチメント失敗ではなく中断として数える。
func (r *run) process(ctx context.Context, a model.Article, mode Mode) {
	if ctx.Err() != nil {
		r.stats.AddAbandoned(1)
		return
	}
	store := r.coordinator.store

	if mode == ModeTrending {
		flagged, err := store.FlagTrending(ctx, a.URL)
		if err != nil {
			r.persistFailed(ctx, a, err)
			return
		}
		if flagged {
			r.stats.AddFlagged()
			return
		}
	}

	result := r.coordinator.enricher.Enrich(ctx, enrichmentText(a))
	if ctx.Err() != nil {
		r.stats.AddAbandoned(1)
		return
	}
	if result.Partial() {
		r.stats.AddEnrichmentFailure()
	}
	a.ApplyEnrichment(result)

	if mode == ModeTrending {
		outcome, err := store.MarkTrending(ctx, a)
		if err != nil {
			r.persistFailed(ctx, a, err)
			return
		}
		if outcome == article.OutcomeFlagged {
			r.stats.AddFlagged()
			return
		}
		r.recordImported(a)
		return
	}

	_, outcome, err := store.Upsert(ctx, a)
	if err != nil {
		r.persistFailed(ctx, a, err)
		return
	}
	if outcome == article.OutcomeDuplicate {
		r.stats.AddDuplicate()
		return
	}
	r.recordImported(a)
}

func (r *run) recordImported(a model.Article) {
	r.stats.AddImported()
	if a.RSSFeedID != nil {
		r.mu.Lock()
		r.imported[*a.RSSFeedID]++
		r.mu.Unlock()
	}
}

// persistFailed は永続化失敗を記録する。永続化先が利用できない場合は実行全体を中断する。
func (r *run) persistFailed(ctx context.Context, a model.Article, err error) {
	if errors.Is(err, model.ErrStorageUnavailable) {
		r.mu.Lock()
		if r.fatal == nil {
			r.fatal = err
		}
		r.mu.Unlock()
		r.abort(err)
		return
	}
	if ctx.Err() != nil {
		return
	}
	r.stats.AddPersistenceFailure()
	r.logger.Error("記事の永続化に失敗しました",
		slog.String("url", a.URL),
		slog.String("error", err.Error()),
	)
}

func (r *run) fatalError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatal
}

// recordFeeds はRSSフィードごとのフェッチ結果と取り込み件数を記録する。
// 実行がキャンセルされていても記録する。
func (r *run) recordFeeds(ctx context.Context, results []source.Result) {
	feeds := r.coordinator.feeds
	if feeds == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	for _, res := range results {
		if res.FeedID == nil {
			continue
		}
		r.mu.Lock()
		imported := r.imported[*res.FeedID]
		r.mu.Unlock()

		if err := feeds.RecordFetch(ctx, *res.FeedID, imported, res.Err); err != nil {
			r.logger.Warn("フィードのフェッチ結果の記録に失敗しました",
				slog.Int64("feed_id", *res.FeedID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// enrichmentText はAIへの入力テキストをタイトルと本文（なければ概要）から組み立てる。
func enrichmentText(a model.Article) string {
	body := a.Content
	if strings.TrimSpace(body) == "" {
		body = a.Description
	}
	if strings.TrimSpace(body) == "" {
		return a.Title
	}
	return a.Title + "\n\n" + body
}

// inRunOnly は既存記事が常に存在しないものとして扱う検索先。
type inRunOnly struct{}

func (inRunOnly) ExistsByURL(context.Context, string) (bool, error) { return false, nil }

type noopRecorder struct{}

func (noopRecorder) RecordFetch(string, error, time.Duration) {}
func (noopRecorder) RecordRun(model.RunReport, error)         {}
