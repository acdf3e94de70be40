// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrDuplicateArticle は正規化URLが既に永続化済みであることを表す。
// エラーではなく通常の重複排除結果としてカウントされる。
var ErrDuplicateArticle = errors.New("article already exists")

// ErrStorageUnavailable は永続化先が全く利用できないことを表す。
// パイプライン実行そのものを失敗させる唯一のエラー。
var ErrStorageUnavailable = errors.New("storage unavailable")

// FetchErrorKind はフェッチ失敗の原因カテゴリ。
type FetchErrorKind string

const (
	// FetchErrorTransport はネットワークエラーまたはタイムアウト。
	FetchErrorTransport FetchErrorKind = "transport"
	// FetchErrorStatus は2xx以外のHTTPステータス。
	FetchErrorStatus FetchErrorKind = "status"
	// FetchErrorParse はフィード/JSONのパース失敗。
	FetchErrorParse FetchErrorKind = "parse"
	// FetchErrorCancelled は実行のキャンセルまたはタイムアウトによる中断。
	FetchErrorCancelled FetchErrorKind = "cancelled"
)

// FetchError はソースアダプタのフェッチ失敗を表す。
// アダプタは呼び出し元に例外を投げず、空の結果とともにこのエラーを返す。
type FetchError struct {
	Source     string
	Kind       FetchErrorKind
	StatusCode int
	Cause      error
}

// Error はerrorインターフェースを実装する。
func (e *FetchError) Error() string {
	if e.Kind == FetchErrorStatus {
		return fmt.Sprintf("[%s] %s: HTTPステータス %d", e.Kind, e.Source, e.StatusCode)
	}
	if e.Cause == nil {
		return fmt.Sprintf("[%s] %s", e.Kind, e.Source)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Source, e.Cause)
}

// Unwrap は原因エラーを返す。
func (e *FetchError) Unwrap() error {
	return e.Cause
}

// NewTransportError はネットワーク起因のフェッチエラーを生成する。
func NewTransportError(source string, cause error) *FetchError {
	return &FetchError{Source: source, Kind: FetchErrorTransport, Cause: cause}
}

// NewStatusError はHTTPステータス起因のフェッチエラーを生成する。
func NewStatusError(source string, statusCode int) *FetchError {
	return &FetchError{Source: source, Kind: FetchErrorStatus, StatusCode: statusCode}
}

// NewParseError はパース失敗のフェッチエラーを生成する。
func NewParseError(source string, cause error) *FetchError {
	return &FetchError{Source: source, Kind: FetchErrorParse, Cause: cause}
}

// NewCancelledError はキャンセルによるフェッチエラーを生成する。
func NewCancelledError(source string, cause error) *FetchError {
	return &FetchError{Source: source, Kind: FetchErrorCancelled, Cause: cause}
}

// IsFetchErrorKind はerrがFetchErrorであり、指定の種別であるかを判定する。
func IsFetchErrorKind(err error, kind FetchErrorKind) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}
