// Package model はドメインモデルを定義する。
package model

import "time"

const (
	// MaxTitleLength はタイトルの最大文字数。
	MaxTitleLength = 500
	// MaxContentLength は本文の最大文字数。AIプロンプトのサイズを一定に保つための上限。
	MaxContentLength = 20000
	// WordsPerMinute は読了時間の算出に使用する1分あたりの単語数。
	WordsPerMinute = 200
)

// Article は正規化済みの記事を表す。
// URLは正規化URLであり、記事を一意に識別する。
type Article struct {
	ID          int64
	Title       string
	URL         string
	Description string
	Content     string
	Author      string
	PublishedAt *time.Time
	Source      string
	Category    string
	Tags        []string
	ImageURL    string
	WordCount   int
	ReadingTime int // 分

	// AI由来のメタデータ
	AISummary   string
	AISentiment Sentiment
	AITopics    []string
	AIQuestions []string

	IsTrending bool
	IsFeatured bool
	ViewCount  int
	ShareCount int

	RSSFeedID *int64
	CreatedAt time.Time
	UpdatedAt *time.Time
}

// ReadingTimeFor は単語数から読了時間（分）を算出する。最小値は1分。
func ReadingTimeFor(wordCount int) int {
	minutes := wordCount / WordsPerMinute
	if minutes < 1 {
		return 1
	}
	return minutes
}

// ApplyEnrichment はエンリッチメント結果のうち取得できたフィールドだけを記事に反映する。
func (a *Article) ApplyEnrichment(r EnrichmentResult) {
	if r.Summary != "" {
		a.AISummary = r.Summary
	}
	if r.Sentiment != "" {
		a.AISentiment = r.Sentiment
	}
	if len(r.Keywords) > 0 {
		a.AITopics = r.Keywords
	}
	if len(r.Questions) > 0 {
		a.AIQuestions = r.Questions
	}
}

// RawItem はソースアダプタが取得した未加工の記事データを表す。
// 1回のフェッチサイクル内でのみ存在し、直後にノーマライザへ渡される。
type RawItem struct {
	Title       string
	Link        string
	Description string
	Content     string
	Author      string
	PublishedAt *time.Time
	ImageURL    string
	Category    string

	// SourceID は取得元アダプタの識別子（例: "rss:BBC News", "newsapi"）。
	SourceID string
	// SourceName は記事の配信元名（NewsAPIのsource.name、RSSのフィード名）。
	SourceName string
	RSSFeedID  *int64
}
