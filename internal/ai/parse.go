package ai

import (
	"regexp"
	"strings"

	"github.com/hitoshi/dscvr/internal/model"
)

// listMarker は項目の先頭の列挙記号（"1. "、"2) "、"- "、"• "など）に一致する。
// 数字で始まる語（"5G"、"3D printing"）は記号とみなさない。
var listMarker = regexp.MustCompile(`^(?:\d+[.)]|[-*•])\s+`)

// parseSentiment は生成テキストを感情の閉じた集合に変換する。
func parseSentiment(text string) model.Sentiment {
	return model.ParseSentiment(strings.ToLower(strings.TrimSpace(text)))
}

// parseKeywords はカンマ区切りのテキストをキーワードの一覧に分解する。
// 改行区切りで返された場合も同様に扱う。
func parseKeywords(text string, limit int) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == '\n'
	})
	return cleanItems(fields, limit)
}

// parseQuestions は改行区切りのテキストを質問の一覧に分解する。
func parseQuestions(text string, limit int) []string {
	return cleanItems(strings.Split(text, "\n"), limit)
}

// cleanItems は列挙記号と空白を除去し、空の項目を捨てて上限件数に切り詰める。
func cleanItems(raw []string, limit int) []string {
	var items []string
	for _, s := range raw {
		s = strings.TrimSpace(s)
		s = strings.TrimSpace(listMarker.ReplaceAllString(s, ""))
		if s == "" {
			continue
		}
		items = append(items, s)
		if len(items) >= limit {
			break
		}
	}
	return items
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
