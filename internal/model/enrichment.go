package model

// Sentiment は記事の感情分析結果を表す。
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// ParseSentiment はバックエンドが返したトークンを閉じた集合に検証する。
// 集合外の値はすべてneutralとして扱う。
func ParseSentiment(s string) Sentiment {
	switch Sentiment(s) {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return Sentiment(s)
	default:
		return SentimentNeutral
	}
}

// Capability はAIエンリッチメントの機能種別を表す。
type Capability string

const (
	CapabilitySummary   Capability = "summary"
	CapabilitySentiment Capability = "sentiment"
	CapabilityKeywords  Capability = "keywords"
	CapabilityQuestions Capability = "questions"
)

// Capabilities は全エンリッチメント機能の一覧。
var Capabilities = []Capability{
	CapabilitySummary,
	CapabilitySentiment,
	CapabilityKeywords,
	CapabilityQuestions,
}

// EnrichmentResult は記事1件分のエンリッチメント結果。
// 各フィールドは独立して存在/欠落し得る。ゼロ値は欠落を表す。
type EnrichmentResult struct {
	Summary   string
	Sentiment Sentiment
	Keywords  []string
	Questions []string

	// Failed はバックエンド呼び出しに失敗した機能の一覧。
	Failed []Capability
}

// Partial は1つ以上の機能が失敗したかどうかを返す。
func (r EnrichmentResult) Partial() bool {
	return len(r.Failed) > 0
}
