package source

import (
	"strings"

	"golang.org/x/net/html"
)

// firstImageURL はHTML断片に含まれる最初のimgタグのhttp(s) srcを返す。
// 見つからない場合は空文字列を返す。
func firstImageURL(fragment string) string {
	if fragment == "" || !strings.Contains(fragment, "<img") {
		return ""
	}

	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "img" {
				continue
			}
			for _, attr := range tok.Attr {
				if attr.Key != "src" {
					continue
				}
				src := strings.TrimSpace(attr.Val)
				if strings.HasPrefix(src, "https://") || strings.HasPrefix(src, "http://") {
					return src
				}
			}
		}
	}
}
