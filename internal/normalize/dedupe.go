package normalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/dscvr/internal/model"
)

// ExistenceChecker は正規化URLで永続化済みの記事を検索するインターフェース。
type ExistenceChecker interface {
	ExistsByURL(ctx context.Context, url string) (bool, error)
}

// Verdict は重複判定の結果。
type Verdict int

const (
	// VerdictNew は未登録の記事。
	VerdictNew Verdict = iota
	// VerdictSeenInRun は同一実行内で既に処理された記事。
	VerdictSeenInRun
	// VerdictExisting は永続化済みの記事。
	VerdictExisting
)

// IsDuplicate は重複として扱うべき判定かを返す。
func (v Verdict) IsDuplicate() bool {
	return v != VerdictNew
}

// Deduper は1回の実行内の重複と永続化済み記事との重複を判定する。
// 同一実行内では最初に判定した候補が残る。並行呼び出しに安全。
type Deduper struct {
	lookup ExistenceChecker
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDeduper は実行単位のDeduperを生成する。
func NewDeduper(lookup ExistenceChecker, logger *slog.Logger) *Deduper {
	return &Deduper{
		lookup: lookup,
		logger: logger,
		seen:   make(map[string]struct{}),
	}
}

// Check は記事候補の重複を判定する。
// 永続化先が利用できない場合のみエラーを返す。それ以外の検索失敗は新規として扱い、
// 一意制約による重複検出は永続化時に委ねる。
func (d *Deduper) Check(ctx context.Context, article model.Article) (Verdict, error) {
	if !d.claim(article.URL) {
		return VerdictSeenInRun, nil
	}

	exists, err := d.lookup.ExistsByURL(ctx, article.URL)
	if err != nil {
		if errors.Is(err, model.ErrStorageUnavailable) {
			return VerdictNew, fmt.Errorf("重複判定に失敗しました: %w", err)
		}
		d.logger.Warn("既存記事の検索に失敗したため新規として扱います",
			slog.String("url", article.URL),
			slog.String("error", err.Error()),
		)
		return VerdictNew, nil
	}
	if exists {
		return VerdictExisting, nil
	}
	return VerdictNew, nil
}

// Dedupe は候補の中から新規記事のみを返し、重複件数を合わせて返す。
func (d *Deduper) Dedupe(ctx context.Context, candidates []model.Article) ([]model.Article, int, error) {
	survivors := make([]model.Article, 0, len(candidates))
	duplicates := 0
	for _, c := range candidates {
		v, err := d.Check(ctx, c)
		if err != nil {
			return nil, duplicates, err
		}
		if v.IsDuplicate() {
			duplicates++
			continue
		}
		survivors = append(survivors, c)
	}
	return survivors, duplicates, nil
}

// claim はURLを実行内の処理済み集合に登録する。既に登録済みの場合はfalseを返す。
func (d *Deduper) claim(url string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[url]; ok {
		return false
	}
	d.seen[url] = struct{}{}
	return true
}
