package source

// StatusClass はHTTPステータスコードに基づくフェッチ結果の分類。
type StatusClass int

const (
	// StatusOK は2xxの成功レスポンス。
	StatusOK StatusClass = iota
	// StatusNotModified はコンテンツ未変更（304）。
	StatusNotModified
	// StatusPermanent は再試行しても回復しないステータス（401/403/404/410）。
	StatusPermanent
	// StatusTransient は時間をおけば回復し得るステータス（429/5xx）。
	StatusTransient
	// StatusUnknown はその他のステータス。
	StatusUnknown
)

// ClassifyHTTPStatus はHTTPステータスコードを分類する。
func ClassifyHTTPStatus(statusCode int) StatusClass {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusOK
	case statusCode == 304:
		return StatusNotModified
	case statusCode == 404 || statusCode == 410:
		return StatusPermanent
	case statusCode == 401 || statusCode == 403:
		return StatusPermanent
	case statusCode == 429:
		return StatusTransient
	case statusCode >= 500:
		return StatusTransient
	default:
		return StatusUnknown
	}
}

// String はログ出力用の分類名を返す。
func (c StatusClass) String() string {
	switch c {
	case StatusOK:
		return "ok"
	case StatusNotModified:
		return "not_modified"
	case StatusPermanent:
		return "permanent"
	case StatusTransient:
		return "transient"
	default:
		return "unknown"
	}
}
