// Package handler は運用向けHTTPエンドポイントを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/dscvr/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ヘルスチェック
	Database Pinger
	Cache    CacheStatter

	// パイプライン実行
	Runner      RunTrigger
	RateLimiter *middleware.RateLimiter

	// Prometheusのエクスポーター
	Metrics http.Handler

	Logger *slog.Logger
}

// NewRouter は運用エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery
//
// POST /runs にのみクライアント単位のレート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))

	healthHandler := NewHealthHandler(deps.Database, deps.Cache, deps.Logger)
	runHandler := NewRunHandler(deps.Runner, deps.Logger)

	r.Get("/health", healthHandler.Health)

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Post("/runs", runHandler.TriggerRun)
	})

	return r
}
