package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はフィード由来のHTMLをプレーンテキストに変換する。
// 単語数の算出とAIプロンプトの構築はこの出力に対して行う。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
// 全タグを除去するStrictPolicyを使用し、除去したタグの位置には空白を挿入する。
func NewTextSanitizer() *TextSanitizer {
	p := bluemonday.StrictPolicy()
	p.AddSpaceWhenStrippingTag(true)
	return &TextSanitizer{policy: p}
}

// Sanitize はHTMLタグを除去し、エンティティを復元して空白を正規化したテキストを返す。
// 同一入力に対して常に同一出力を返す。
func (s *TextSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.policy.Sanitize(raw)
	return strings.Join(strings.Fields(html.UnescapeString(stripped)), " ")
}
