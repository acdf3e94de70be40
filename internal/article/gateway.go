// Package article は記事の永続化ゲートウェイを提供する。
// 取り込み経路では記事の内容を上書きせず、正規化URLで冪等に登録する。
package article

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/dscvr/internal/model"
	"github.com/hitoshi/dscvr/internal/repository"
)

// Outcome はゲートウェイ操作の結果種別。
type Outcome int

const (
	// OutcomeInserted は新規に挿入されたことを表す。
	OutcomeInserted Outcome = iota
	// OutcomeDuplicate は既存記事があり何も変更しなかったことを表す。
	OutcomeDuplicate
	// OutcomeFlagged は既存記事にトレンドフラグを設定したことを表す。
	OutcomeFlagged
)

// String はログ出力用の種別名を返す。
func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeFlagged:
		return "flagged"
	default:
		return "unknown"
	}
}

// Gateway は記事の永続化を担う。
// 書き込みは記事1件ごとに独立してコミットされ、途中の失敗は既にコミット済みの記事に影響しない。
type Gateway struct {
	repo   repository.ArticleRepository
	logger *slog.Logger
}

// NewGateway はGatewayを生成する。
func NewGateway(repo repository.ArticleRepository, logger *slog.Logger) *Gateway {
	return &Gateway{repo: repo, logger: logger}
}

// ExistsByURL は正規化URLの記事が永続化済みかを返す。
func (g *Gateway) ExistsByURL(ctx context.Context, url string) (bool, error) {
	return g.repo.ExistsByURL(ctx, url)
}

// Ping は永続化先が利用可能かを確認する。
func (g *Gateway) Ping(ctx context.Context) error {
	return g.repo.Ping(ctx)
}

// Upsert は記事が未登録であれば閲覧数と共有数を0にして挿入する。
// 既に登録されている場合は上書きせず、既存の記事とOutcomeDuplicateを返す。
func (g *Gateway) Upsert(ctx context.Context, candidate model.Article) (*model.Article, Outcome, error) {
	existing, err := g.repo.FindByURL(ctx, candidate.URL)
	if err != nil {
		return nil, 0, fmt.Errorf("既存記事の検索に失敗しました: %w", err)
	}
	if existing != nil {
		g.logger.Warn("重複排除後に既存記事が見つかったためスキップします",
			slog.String("url", candidate.URL),
			slog.Int64("article_id", existing.ID),
		)
		return existing, OutcomeDuplicate, nil
	}

	a := candidate
	a.ID = 0
	a.ViewCount = 0
	a.ShareCount = 0

	if err := g.repo.Insert(ctx, &a); err != nil {
		if errors.Is(err, model.ErrDuplicateArticle) {
			// 検索と挿入の間に別の書き込みが先行した
			return g.existingAfterConflict(ctx, candidate.URL)
		}
		return nil, 0, fmt.Errorf("記事の挿入に失敗しました: %w", err)
	}

	return &a, OutcomeInserted, nil
}

// MarkTrending は記事にトレンドフラグを設定する。何度呼び出しても結果は同じ。
// 記事が存在しない場合は候補をトレンド記事として挿入する。
func (g *Gateway) MarkTrending(ctx context.Context, candidate model.Article) (Outcome, error) {
	ok, err := g.repo.SetTrending(ctx, candidate.URL)
	if err != nil {
		return 0, fmt.Errorf("トレンドフラグの設定に失敗しました: %w", err)
	}
	if ok {
		return OutcomeFlagged, nil
	}

	a := candidate
	a.ID = 0
	a.IsTrending = true
	a.ViewCount = 0
	a.ShareCount = 0

	if err := g.repo.Insert(ctx, &a); err != nil {
		if !errors.Is(err, model.ErrDuplicateArticle) {
			return 0, fmt.Errorf("トレンド記事の挿入に失敗しました: %w", err)
		}
		// 挿入が競合した場合は既存記事にフラグを設定する
		if _, err := g.repo.SetTrending(ctx, candidate.URL); err != nil {
			return 0, fmt.Errorf("トレンドフラグの設定に失敗しました: %w", err)
		}
		return OutcomeFlagged, nil
	}
	return OutcomeInserted, nil
}

// FlagTrending は既存記事にのみトレンドフラグを設定する。記事が存在しない場合はfalseを返す。
func (g *Gateway) FlagTrending(ctx context.Context, url string) (bool, error) {
	ok, err := g.repo.SetTrending(ctx, url)
	if err != nil {
		return false, fmt.Errorf("トレンドフラグの設定に失敗しました: %w", err)
	}
	return ok, nil
}

func (g *Gateway) existingAfterConflict(ctx context.Context, url string) (*model.Article, Outcome, error) {
	existing, err := g.repo.FindByURL(ctx, url)
	if err != nil {
		return nil, 0, fmt.Errorf("既存記事の検索に失敗しました: %w", err)
	}
	return existing, OutcomeDuplicate, nil
}
