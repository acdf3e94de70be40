package middleware

import (
	"encoding/json"
	"net/http"
)

// 運用APIが返すエラーコード。
const (
	CodeInternal           = "INTERNAL_ERROR"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeRunInProgress      = "RUN_IN_PROGRESS"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
)

// ErrorResponseBody は運用APIのエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteErrorResponse はcodeとmessageをJSONで書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponseBody{Code: code, Message: message})
}

// WriteInternalServerError は500を書き込む。エラーの詳細は呼び出し元がログに残す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, CodeInternal, "内部エラーが発生しました。")
}
