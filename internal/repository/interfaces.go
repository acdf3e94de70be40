// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/dscvr/internal/model"
)

// ArticleRepository は記事データの永続化インターフェース。
// 記事は正規化URLで一意に識別される。
type ArticleRepository interface {
	// ExistsByURL は指定URLの記事が存在するかを返す。
	ExistsByURL(ctx context.Context, url string) (bool, error)

	// FindByURL は指定URLの記事を取得する。見つからない場合はnilを返す。
	FindByURL(ctx context.Context, url string) (*model.Article, error)

	// Insert は記事を1行のコミットで挿入し、採番されたIDと作成日時を設定する。
	// URLが既に存在する場合はmodel.ErrDuplicateArticleを返す。
	Insert(ctx context.Context, article *model.Article) error

	// SetTrending は指定URLの記事にトレンドフラグを設定する。
	// 記事が存在しない場合はfalseを返す。
	SetTrending(ctx context.Context, url string) (bool, error)

	// Ping は永続化先への疎通を確認する。
	Ping(ctx context.Context) error
}

// FeedRepository はRSSフィード登録情報の永続化インターフェース。
type FeedRepository interface {
	// ListActive は有効なフィードを取得する。
	ListActive(ctx context.Context) ([]model.Feed, error)

	// UpsertByURL はURLをキーにフィードを登録または更新し、IDを設定する。
	UpsertByURL(ctx context.Context, feed *model.Feed) error

	// RecordFetch はフェッチ結果をフィードの記録に反映する。
	// fetchErrがnilの場合は成功として扱い、エラー回数をリセットする。
	RecordFetch(ctx context.Context, feedID int64, imported int, fetchErr error) error
}
