package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/dscvr/internal/cache"
)

// healthCheckTimeout は依存先ごとの疎通確認の上限時間。
const healthCheckTimeout = 3 * time.Second

// Pinger は疎通確認を行える依存先のインターフェース。
type Pinger interface {
	Ping(ctx context.Context) error
}

// CacheStatter はキャッシュの利用状況を返すインターフェース。
type CacheStatter interface {
	Stats(ctx context.Context) (cache.Stats, error)
}

// HealthHandler はプロセスの稼働状況を返すハンドラー。
type HealthHandler struct {
	db     Pinger
	cache  CacheStatter
	logger *slog.Logger
}

// NewHealthHandler は新しいHealthHandlerを生成する。cacheはnilでもよい。
func NewHealthHandler(db Pinger, cache CacheStatter, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, cache: cache, logger: logger}
}

type healthResponse struct {
	Status   string       `json:"status"`
	Database string       `json:"database"`
	Cache    *cacheHealth `json:"cache,omitempty"`
}

type cacheHealth struct {
	Status  string  `json:"status"`
	Keys    int     `json:"keys"`
	HitRate float64 `json:"hit_rate"`
	Memory  string  `json:"used_memory,omitempty"`
}

// Health はDBとキャッシュの状態を返す。
// GET /health
//
// DBに接続できない場合は503を返す。キャッシュの障害はエンリッチメントの
// キャッシュ無効化にとどまるため、statusをdegradedとして200を返す。
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Database: "ok"}
	status := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Error("ヘルスチェックでDB疎通に失敗しました", "error", err)
		resp.Status = "unavailable"
		resp.Database = "unavailable"
		status = http.StatusServiceUnavailable
	}

	if h.cache != nil {
		stats, err := h.cache.Stats(ctx)
		if err != nil {
			h.logger.Warn("ヘルスチェックでキャッシュ状態の取得に失敗しました", "error", err)
			resp.Cache = &cacheHealth{Status: "unavailable"}
			if status == http.StatusOK {
				resp.Status = "degraded"
			}
		} else {
			resp.Cache = &cacheHealth{
				Status:  "ok",
				Keys:    stats.Keys,
				HitRate: stats.HitRate(),
				Memory:  stats.UsedMemory,
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
