package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/dscvr/internal/model"
)

// Runner はパイプラインを1回実行する。Coordinatorが実装する。
type Runner interface {
	Run(ctx context.Context) (model.RunReport, error)
}

// Scheduler は一定間隔でパイプラインを実行する。
// 1回の失敗でループは止めず、連続失敗回数をログに残す。
type Scheduler struct {
	runner Runner
	logger *slog.Logger

	// failures は連続して失敗した実行回数。Startのゴルーチンからのみ更新する。
	failures int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(runner Runner, logger *slog.Logger) *Scheduler {
	return &Scheduler{runner: runner, logger: logger}
}

// Start は起動直後に1回実行し、以降intervalごとに実行する。
// ctxがキャンセルされると戻る。実行中のパイプラインはctx経由で中断される。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	s.logger.Info("パイプラインスケジューラを開始しました", slog.Duration("interval", interval))
	defer s.logger.Info("パイプラインスケジューラを停止しました")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce はパイプラインを1回実行し、結果をログに出力する。
func (s *Scheduler) RunOnce(ctx context.Context) {
	report, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		s.logger.Warn("前回のパイプライン実行が進行中のためスキップします")
	case err != nil:
		s.failures++
		s.logger.Error("パイプライン実行サイクルに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("consecutive_failures", s.failures),
		)
	case report.Cancelled:
		s.logger.Warn("パイプライン実行が中断されました",
			slog.String("run_id", report.RunID),
			slog.Int("imported", report.Imported),
		)
	default:
		if s.failures > 0 {
			s.logger.Info("パイプライン実行が復旧しました",
				slog.String("run_id", report.RunID),
				slog.Int("previous_failures", s.failures),
			)
		}
		s.failures = 0
	}
}
