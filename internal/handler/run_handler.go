package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/dscvr/internal/middleware"
	"github.com/hitoshi/dscvr/internal/model"
	"github.com/hitoshi/dscvr/internal/pipeline"
)

// RunTrigger はパイプラインを1回実行するインターフェース。
type RunTrigger interface {
	Run(ctx context.Context) (model.RunReport, error)
}

// RunHandler はパイプライン実行を受け付けるハンドラー。
type RunHandler struct {
	runner RunTrigger
	logger *slog.Logger
}

// NewRunHandler は新しいRunHandlerを生成する。
func NewRunHandler(runner RunTrigger, logger *slog.Logger) *RunHandler {
	return &RunHandler{runner: runner, logger: logger}
}

// TriggerRun はパイプラインを同期実行し、実行レポートを返す。
// POST /runs
//
// クライアントの切断で実行を中断しないよう、リクエストのキャンセルは引き継がない。
// 実行時間の上限はパイプライン側のタイムアウトで制御する。
func (h *RunHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	report, err := h.runner.Run(context.WithoutCancel(r.Context()))
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrRunInProgress):
			middleware.WriteErrorResponse(w, http.StatusConflict, middleware.CodeRunInProgress,
				"パイプラインは既に実行中です。完了後に再度実行してください。")
		case errors.Is(err, model.ErrStorageUnavailable):
			h.logger.Error("ストレージに接続できないため実行に失敗しました", "error", err)
			middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, middleware.CodeStorageUnavailable,
				"ストレージに接続できません。")
		default:
			h.logger.Error("パイプライン実行に失敗しました", "error", err)
			middleware.WriteInternalServerError(w)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(report)
}
