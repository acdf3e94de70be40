// Package normalize はRawItemを正規化済みのArticle候補に変換し、重複を排除する。
package normalize

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/hitoshi/dscvr/internal/model"
)

var (
	// ErrMissingURL はURLが空の記事を表す。
	ErrMissingURL = errors.New("記事URLが空です")
	// ErrInvalidURL はhttp(s)の絶対URLとして解釈できない記事URLを表す。
	ErrInvalidURL = errors.New("記事URLが不正です")
	// ErrMissingTitle はタイトルが空の記事を表す。
	ErrMissingTitle = errors.New("記事タイトルが空です")
)

// Sanitizer はHTMLをプレーンテキストに変換するインターフェース。
type Sanitizer interface {
	Sanitize(raw string) string
}

// Normalizer はRawItemを正規化する。状態を持たず並行呼び出しに安全。
type Normalizer struct {
	sanitizer Sanitizer
}

// New はNormalizerを生成する。
func New(sanitizer Sanitizer) *Normalizer {
	return &Normalizer{sanitizer: sanitizer}
}

// Normalize はRawItemから記事候補を生成する。
// タイトルと本文は後続処理の前に上限長で切り詰め、単語数と読了時間は本文から導出する。
func (n *Normalizer) Normalize(raw model.RawItem) (model.Article, error) {
	canonical, err := CanonicalURL(raw.Link)
	if err != nil {
		return model.Article{}, err
	}

	title := truncate(n.sanitizer.Sanitize(raw.Title), model.MaxTitleLength)
	if title == "" {
		return model.Article{}, fmt.Errorf("%w: %s", ErrMissingTitle, canonical)
	}

	description := truncate(n.sanitizer.Sanitize(raw.Description), model.MaxContentLength)
	content := truncate(n.sanitizer.Sanitize(raw.Content), model.MaxContentLength)

	body := content
	if body == "" {
		body = description
	}
	wordCount := len(strings.Fields(body))

	source := raw.SourceName
	if source == "" {
		source = raw.SourceID
	}

	return model.Article{
		Title:       title,
		URL:         canonical,
		Description: description,
		Content:     content,
		Author:      truncate(strings.TrimSpace(raw.Author), 255),
		PublishedAt: raw.PublishedAt,
		Source:      source,
		Category:    raw.Category,
		Tags:        tagsFor(raw.Category),
		ImageURL:    imageURL(raw.ImageURL),
		WordCount:   wordCount,
		ReadingTime: model.ReadingTimeFor(wordCount),
		AISentiment: model.SentimentNeutral,
		RSSFeedID:   raw.RSSFeedID,
	}, nil
}

// CanonicalURL は重複判定に用いる正規化URLを返す。
// スキームとホストを小文字化し、フラグメントを除去する。パスとクエリは保持する。
func CanonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrMissingURL
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: スキーム %q は使用できません", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: ホストがありません", ErrInvalidURL)
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	return u.String(), nil
}

// imageURL はhttp(s)の画像URLのみを受け付ける。
func imageURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "https://") || strings.HasPrefix(raw, "http://") {
		return raw
	}
	return ""
}

// tagsFor はカテゴリから初期タグを生成する。
func tagsFor(category string) []string {
	category = strings.TrimSpace(strings.ToLower(category))
	if category == "" {
		return nil
	}
	return []string{category}
}

// truncate は文字列をn文字（rune単位）に切り詰める。
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
