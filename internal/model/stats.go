package model

import (
	"sync"
	"time"
)

// RunStats は1回のパイプライン実行の集計カウンタ。
// 実行ごとに新規作成され、永続化されない。並行に加算しても安全。
type RunStats struct {
	mu                  sync.Mutex
	fetched             int
	duplicates          int
	rejected            int
	imported            int
	flagged             int
	enrichmentFailures  int
	persistenceFailures int
	abandoned           int
	fetchErrors         map[string]string
}

// NewRunStats は空のRunStatsを生成する。
func NewRunStats() *RunStats {
	return &RunStats{fetchErrors: make(map[string]string)}
}

// AddFetched はソースから取得した記事数を加算する。
func (s *RunStats) AddFetched(n int) {
	s.mu.Lock()
	s.fetched += n
	s.mu.Unlock()
}

// AddDuplicate は既存記事と重複した記事を記録する。
func (s *RunStats) AddDuplicate() {
	s.mu.Lock()
	s.duplicates++
	s.mu.Unlock()
}

// AddRejected は正規化できずに破棄した記事を記録する。
func (s *RunStats) AddRejected() {
	s.mu.Lock()
	s.rejected++
	s.mu.Unlock()
}

// AddFlagged は既存記事へのトレンドフラグ設定を記録する。
func (s *RunStats) AddFlagged() {
	s.mu.Lock()
	s.flagged++
	s.mu.Unlock()
}

// AddImported は新規に永続化した記事を記録する。
func (s *RunStats) AddImported() {
	s.mu.Lock()
	s.imported++
	s.mu.Unlock()
}

// AddEnrichmentFailure はいずれかのAI機能が失敗した記事を記録する。
func (s *RunStats) AddEnrichmentFailure() {
	s.mu.Lock()
	s.enrichmentFailures++
	s.mu.Unlock()
}

// AddPersistenceFailure は永続化に失敗した記事を記録する。
func (s *RunStats) AddPersistenceFailure() {
	s.mu.Lock()
	s.persistenceFailures++
	s.mu.Unlock()
}

// AddAbandoned は実行のキャンセルにより処理を打ち切った記事数を加算する。
func (s *RunStats) AddAbandoned(n int) {
	s.mu.Lock()
	s.abandoned += n
	s.mu.Unlock()
}

// AddFetchError はソース単位のフェッチ失敗を記録する。
func (s *RunStats) AddFetchError(source string, err error) {
	s.mu.Lock()
	s.fetchErrors[source] = err.Error()
	s.mu.Unlock()
}

// Report は現時点のカウンタのスナップショットを返す。
func (s *RunStats) Report(runID string, startedAt time.Time) RunReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	errs := make(map[string]string, len(s.fetchErrors))
	for k, v := range s.fetchErrors {
		errs[k] = v
	}

	return RunReport{
		RunID:               runID,
		StartedAt:           startedAt,
		Duration:            time.Since(startedAt),
		Fetched:             s.fetched,
		Duplicates:          s.duplicates,
		Rejected:            s.rejected,
		Imported:            s.imported,
		Flagged:             s.flagged,
		EnrichmentFailures:  s.enrichmentFailures,
		PersistenceFailures: s.persistenceFailures,
		Abandoned:           s.abandoned,
		FetchErrors:         errs,
	}
}

// RunReport はパイプライン実行結果の呼び出し元向けレポート。
type RunReport struct {
	RunID               string            `json:"run_id"`
	StartedAt           time.Time         `json:"started_at"`
	Duration            time.Duration     `json:"duration_ns"`
	Fetched             int               `json:"fetched"`
	Duplicates          int               `json:"duplicates"`
	Rejected            int               `json:"rejected"`
	Imported            int               `json:"imported"`
	Flagged             int               `json:"flagged,omitempty"`
	EnrichmentFailures  int               `json:"enrichment_failures"`
	PersistenceFailures int               `json:"persistence_failures"`
	Abandoned           int               `json:"abandoned,omitempty"`
	FetchErrors         map[string]string `json:"fetch_errors,omitempty"`
	Cancelled           bool              `json:"cancelled,omitempty"`
}
