// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/dscvr/internal/model"
)

// 実行結果のラベル値。
const (
	resultSuccess   = "success"
	resultFailed    = "failed"
	resultCancelled = "cancelled"
)

// Collector はパイプラインのメトリクスを収集するPrometheus実装。
// ai.Recorderとpipeline.Recorderを満たす。
type Collector struct {
	fetches           *prometheus.CounterVec
	fetchLatency      *prometheus.HistogramVec
	articles          *prometheus.CounterVec
	enrichments       *prometheus.CounterVec
	enrichmentLatency *prometheus.HistogramVec
	runs              *prometheus.CounterVec
	runDuration       prometheus.Histogram
	lastRun           prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dscvr_source_fetch_total",
			Help: "ソースフェッチの結果別の合計数",
		}, []string{"source", "result"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dscvr_source_fetch_duration_seconds",
			Help:    "ソースフェッチのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		articles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dscvr_articles_total",
			Help: "パイプラインの段階別の記事数",
		}, []string{"stage"}),
		enrichments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dscvr_enrichment_total",
			Help: "AIエンリッチメントの機能別・結果別の合計数",
		}, []string{"capability", "outcome"}),
		enrichmentLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dscvr_enrichment_duration_seconds",
			Help:    "AIエンリッチメントのレイテンシ（秒）",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 20, 30},
		}, []string{"capability"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dscvr_runs_total",
			Help: "パイプライン実行の結果別の合計数",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dscvr_run_duration_seconds",
			Help:    "パイプライン実行の所要時間（秒）",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dscvr_last_run_timestamp_seconds",
			Help: "最後にパイプライン実行が完了した時刻（UNIX秒）",
		}),
	}

	reg.MustRegister(
		c.fetches,
		c.fetchLatency,
		c.articles,
		c.enrichments,
		c.enrichmentLatency,
		c.runs,
		c.runDuration,
		c.lastRun,
	)

	return c
}

// RecordFetch はソース単位のフェッチ結果を記録する。
// 失敗時はFetchErrorの種別をresultラベルとする。
func (c *Collector) RecordFetch(source string, err error, duration time.Duration) {
	result := resultSuccess
	if err != nil {
		result = resultFailed
		var fe *model.FetchError
		if errors.As(err, &fe) {
			result = string(fe.Kind)
		}
	}
	c.fetches.WithLabelValues(source, result).Inc()
	c.fetchLatency.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordEnrichment はAIエンリッチメント1回分の結果を記録する。
func (c *Collector) RecordEnrichment(capability, outcome string, duration time.Duration) {
	c.enrichments.WithLabelValues(capability, outcome).Inc()
	c.enrichmentLatency.WithLabelValues(capability).Observe(duration.Seconds())
}

// RecordRun はパイプライン実行のレポートを記録する。
func (c *Collector) RecordRun(report model.RunReport, err error) {
	result := resultSuccess
	switch {
	case err != nil:
		result = resultFailed
	case report.Cancelled:
		result = resultCancelled
	}
	c.runs.WithLabelValues(result).Inc()
	c.runDuration.Observe(report.Duration.Seconds())
	c.lastRun.SetToCurrentTime()

	c.articles.WithLabelValues("fetched").Add(float64(report.Fetched))
	c.articles.WithLabelValues("duplicate").Add(float64(report.Duplicates))
	c.articles.WithLabelValues("rejected").Add(float64(report.Rejected))
	c.articles.WithLabelValues("imported").Add(float64(report.Imported))
	c.articles.WithLabelValues("flagged").Add(float64(report.Flagged))
	c.articles.WithLabelValues("enrichment_failed").Add(float64(report.EnrichmentFailures))
	c.articles.WithLabelValues("persistence_failed").Add(float64(report.PersistenceFailures))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
