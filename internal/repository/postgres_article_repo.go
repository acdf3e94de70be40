package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/dscvr/internal/model"
)

// PostgresArticleRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresArticleRepo struct {
	db *sql.DB
}

// NewPostgresArticleRepo はPostgresArticleRepoを生成する。
func NewPostgresArticleRepo(db *sql.DB) *PostgresArticleRepo {
	return &PostgresArticleRepo{db: db}
}

// ExistsByURL は指定URLの記事が存在するかを返す。
func (r *PostgresArticleRepo) ExistsByURL(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM articles WHERE url = $1)`,
		url,
	).Scan(&exists)
	if err != nil {
		return false, wrapError("記事の存在確認に失敗しました", err)
	}
	return exists, nil
}

// FindByURL は指定URLの記事を取得する。見つからない場合はnilを返す。
func (r *PostgresArticleRepo) FindByURL(ctx context.Context, url string) (*model.Article, error) {
	a := &model.Article{}
	var description, content, author, source, category, imageURL, summary, sentiment sql.NullString
	var rssFeedID sql.NullInt64

	err := r.db.QueryRowContext(ctx,
		`SELECT id, title, url, description, content, author, published_at,
		        source, category, tags, image_url, word_count, reading_time,
		        ai_summary, ai_sentiment, ai_topics, ai_questions,
		        is_trending, is_featured, view_count, share_count,
		        rss_feed_id, created_at, updated_at
		 FROM articles WHERE url = $1`,
		url,
	).Scan(
		&a.ID, &a.Title, &a.URL, &description, &content, &author, &a.PublishedAt,
		&source, &category, pq.Array(&a.Tags), &imageURL, &a.WordCount, &a.ReadingTime,
		&summary, &sentiment, pq.Array(&a.AITopics), pq.Array(&a.AIQuestions),
		&a.IsTrending, &a.IsFeatured, &a.ViewCount, &a.ShareCount,
		&rssFeedID, &a.CreatedAt, &a.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapError("記事の取得に失敗しました", err)
	}

	a.Description = nullStringValue(description)
	a.Content = nullStringValue(content)
	a.Author = nullStringValue(author)
	a.Source = nullStringValue(source)
	a.Category = nullStringValue(category)
	a.ImageURL = nullStringValue(imageURL)
	a.AISummary = nullStringValue(summary)
	a.AISentiment = model.ParseSentiment(nullStringValue(sentiment))
	if rssFeedID.Valid {
		id := rssFeedID.Int64
		a.RSSFeedID = &id
	}

	return a, nil
}

// Insert は記事を挿入し、採番されたIDと作成日時を設定する。
// 閲覧数と共有数は0で作成される。URLが既に存在する場合はmodel.ErrDuplicateArticleを返す。
func (r *PostgresArticleRepo) Insert(ctx context.Context, a *model.Article) error {
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO articles (title, url, description, content, author, published_at,
		                       source, category, tags, image_url, word_count, reading_time,
		                       ai_summary, ai_sentiment, ai_topics, ai_questions,
		                       is_trending, is_featured, view_count, share_count, rss_feed_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, 0, 0, $19)
		 RETURNING id, created_at`,
		a.Title, a.URL, nullString(a.Description), nullString(a.Content), nullString(a.Author), a.PublishedAt,
		nullString(a.Source), nullString(a.Category), pq.StringArray(tags), nullString(a.ImageURL),
		a.WordCount, a.ReadingTime,
		nullString(a.AISummary), nullString(string(a.AISentiment)),
		nullStringArray(a.AITopics), nullStringArray(a.AIQuestions),
		a.IsTrending, a.IsFeatured, a.RSSFeedID,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return wrapError("記事の挿入に失敗しました", err)
	}

	a.ViewCount = 0
	a.ShareCount = 0
	return nil
}

// SetTrending は指定URLの記事にトレンドフラグを設定する。
// 既に設定済みの場合も成功として扱う。記事が存在しない場合はfalseを返す。
func (r *PostgresArticleRepo) SetTrending(ctx context.Context, url string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE articles SET is_trending = TRUE, updated_at = now() WHERE url = $1`,
		url,
	)
	if err != nil {
		return false, wrapError("トレンドフラグの設定に失敗しました", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}

// Ping は永続化先への疎通を確認する。
func (r *PostgresArticleRepo) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	return nil
}

// nullStringArray は空のスライスをNULLとして扱う。
func nullStringArray(values []string) any {
	if len(values) == 0 {
		return nil
	}
	return pq.StringArray(values)
}
