// Package source は外部コンテンツソースからの記事取得を提供する。
// RSS/AtomフィードとNewsAPIの2種類のアダプタを共通のRawItem形式で扱う。
package source

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hitoshi/dscvr/internal/model"
)

// DefaultMaxItems は1回のフェッチで返す記事数のデフォルト上限。
const DefaultMaxItems = 100

// userAgent は外部ソースへのリクエストに付与するUser-Agent。
const userAgent = "Dscvr/1.0 News Aggregator"

// Params はフェッチ単位のパラメータ。
type Params struct {
	// MaxItems は返す記事数の上限。0以下の場合はDefaultMaxItems。
	MaxItems int
}

func (p Params) maxItems() int {
	if p.MaxItems <= 0 {
		return DefaultMaxItems
	}
	return p.MaxItems
}

// Result はアダプタのフェッチ結果。
// Errが非nilの場合、Itemsは常に空である。
type Result struct {
	Source string
	Items  []model.RawItem
	Err    error
	// FeedID はRSSフィード由来の場合のみ設定される。
	FeedID *int64
	// Duration はフェッチに要した時間。
	Duration time.Duration
}

// Adapter は1つの外部ソースから記事を取得する。
// 実装は呼び出し元にエラーを送出せず、失敗はResult.Errで報告する。
type Adapter interface {
	// Name はアダプタの識別子を返す。
	Name() string
	// Fetch は記事を取得する。取得順序は保証しない。
	Fetch(ctx context.Context, params Params) Result
}

// Throttler はエンドポイントごとの呼び出し間隔制御のインターフェース。
type Throttler interface {
	Acquire(ctx context.Context, key string) error
}

// HTTPDoer はHTTPリクエストを実行するインターフェース。
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// classifyRequestError はHTTPリクエスト失敗をキャンセルと通信エラーに分類する。
func classifyRequestError(ctx context.Context, name string, err error) *model.FetchError {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return model.NewCancelledError(name, err)
	}
	return model.NewTransportError(name, err)
}

// failed はエラー付きの空の結果を生成する。
func failed(name string, feedID *int64, start time.Time, err error) Result {
	return Result{
		Source:   name,
		Err:      err,
		FeedID:   feedID,
		Duration: time.Since(start),
	}
}
