package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/dscvr/internal/model"
)

// maxLastErrorLength はlast_errorに保存するエラーメッセージの最大文字数。
const maxLastErrorLength = 1000

// PostgresFeedRepo はPostgreSQLを使用したRSSフィードリポジトリ。
type PostgresFeedRepo struct {
	db *sql.DB
}

// NewPostgresFeedRepo はPostgresFeedRepoを生成する。
func NewPostgresFeedRepo(db *sql.DB) *PostgresFeedRepo {
	return &PostgresFeedRepo{db: db}
}

// ListActive は有効なフィードをID順に取得する。
func (r *PostgresFeedRepo) ListActive(ctx context.Context) ([]model.Feed, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, url, category, language, is_active,
		        fetch_errors, last_error, last_fetched, last_successful_fetch, total_articles
		 FROM rss_feeds
		 WHERE is_active = TRUE
		 ORDER BY id ASC`,
	)
	if err != nil {
		return nil, wrapError("有効なフィードの取得に失敗しました", err)
	}
	defer rows.Close()

	var feeds []model.Feed
	for rows.Next() {
		var f model.Feed
		var category, language, lastError sql.NullString

		if err := rows.Scan(
			&f.ID, &f.Name, &f.URL, &category, &language, &f.IsActive,
			&f.FetchErrors, &lastError, &f.LastFetched, &f.LastSuccessfulFetch, &f.TotalArticles,
		); err != nil {
			return nil, fmt.Errorf("フィードの読み取りに失敗しました: %w", err)
		}

		f.Category = nullStringValue(category)
		f.Language = nullStringValue(language)
		f.LastError = nullStringValue(lastError)
		feeds = append(feeds, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フィードの走査に失敗しました: %w", err)
	}

	return feeds, nil
}

// UpsertByURL はURLをキーにフィードを登録する。既に存在する場合は名前とカテゴリを更新する。
// 有効/無効の状態とフェッチ記録は既存の値を維持する。
func (r *PostgresFeedRepo) UpsertByURL(ctx context.Context, feed *model.Feed) error {
	language := feed.Language
	if language == "" {
		language = "en"
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO rss_feeds (name, url, category, language, is_active)
		 VALUES ($1, $2, $3, $4, TRUE)
		 ON CONFLICT (url) DO UPDATE SET
		    name = EXCLUDED.name,
		    category = EXCLUDED.category,
		    updated_at = now()
		 RETURNING id, is_active`,
		feed.Name, feed.URL, nullString(feed.Category), language,
	).Scan(&feed.ID, &feed.IsActive)
	if err != nil {
		return wrapError("フィードの登録に失敗しました", err)
	}

	feed.Language = language
	return nil
}

// RecordFetch はフェッチ結果をフィードの記録に反映する。
func (r *PostgresFeedRepo) RecordFetch(ctx context.Context, feedID int64, imported int, fetchErr error) error {
	var err error
	if fetchErr == nil {
		_, err = r.db.ExecContext(ctx,
			`UPDATE rss_feeds SET
			    last_fetched = now(),
			    last_successful_fetch = now(),
			    fetch_errors = 0,
			    last_error = NULL,
			    total_articles = total_articles + $2,
			    updated_at = now()
			 WHERE id = $1`,
			feedID, imported,
		)
	} else {
		_, err = r.db.ExecContext(ctx,
			`UPDATE rss_feeds SET
			    last_fetched = now(),
			    fetch_errors = fetch_errors + 1,
			    last_error = $2,
			    updated_at = now()
			 WHERE id = $1`,
			feedID, truncateMessage(fetchErr.Error(), maxLastErrorLength),
		)
	}
	if err != nil {
		return wrapError("フェッチ記録の更新に失敗しました", err)
	}
	return nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// truncateMessage はメッセージをn文字に切り詰める。
func truncateMessage(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
