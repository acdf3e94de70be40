// Package app はアプリケーションの初期化と各起動モードの実行を提供する。
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/dscvr/internal/config"
	"github.com/hitoshi/dscvr/internal/database"
	"github.com/hitoshi/dscvr/internal/logger"
	"github.com/hitoshi/dscvr/internal/middleware"
	"github.com/hitoshi/dscvr/internal/normalize"
	"github.com/hitoshi/dscvr/internal/pipeline"
)

// shutdownTimeout はHTTPサーバーのグレースフルシャットダウンの上限時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	l := logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, l, nil
}

// Run はアプリケーションのメインエントリーポイント。
// ログはlogWに、コマンドの結果はoutに出力する。argsにはos.Args[1:]を渡す。
func Run(logW, out io.Writer, args []string) error {
	root := NewRootCommand(logW)
	root.SetOut(out)
	root.SetArgs(args)
	return root.Execute()
}

// signalContext はSIGINTまたはSIGTERMでキャンセルされるコンテキストを返す。
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// runOnce はパイプラインを1回実行し、実行レポートをJSONで出力する。
func runOnce(ctx context.Context, cfg *config.Config, l *slog.Logger, out io.Writer) error {
	c, err := buildComponents(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer c.close()

	report, err := c.coordinator.Run(ctx)
	if err != nil {
		return err
	}
	return writeJSON(out, report)
}

// runWorker はワーカーモードで起動する。
// スケジューラで定期的にパイプラインを実行し、運用HTTPサーバーを公開する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runWorker(ctx context.Context, cfg *config.Config, l *slog.Logger) error {
	c, err := buildComponents(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer c.close()

	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), l)
	defer rateLimiter.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      c.router(rateLimiter),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RunTimeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		l.Info("ops server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	schedCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		l.Info("worker starting", slog.Duration("run_interval", cfg.RunInterval))
		pipeline.NewScheduler(c.coordinator, l).Start(schedCtx, cfg.RunInterval)
	}()

	select {
	case <-ctx.Done():
		l.Info("shutting down worker...")
	case err := <-serverErr:
		if err != nil {
			l.Error("server listen error", slog.String("error", err.Error()))
		}
	}

	cancel()
	<-schedDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	l.Info("worker stopped gracefully")
	return nil
}

// runTrending はトレンド記事の取り込みまたはフラグ設定を行う。
// urlsが空の場合はNewsAPIのトレンドカテゴリを取り込み、指定された場合は既存記事にフラグを設定する。
func runTrending(ctx context.Context, cfg *config.Config, l *slog.Logger, out io.Writer, urls []string) error {
	c, err := buildComponents(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer c.close()

	if len(urls) == 0 {
		adapters, err := c.provider.TrendingAdapters()
		if err != nil {
			return err
		}
		report, err := c.coordinator.RunWith(ctx, adapters, pipeline.ModeTrending)
		if err != nil {
			return err
		}
		return writeJSON(out, report)
	}

	result := trendingResult{Flagged: []string{}, NotFound: []string{}}
	for _, raw := range urls {
		canonical, err := normalize.CanonicalURL(raw)
		if err != nil {
			return fmt.Errorf("invalid url %q: %w", raw, err)
		}
		found, err := c.gateway.FlagTrending(ctx, canonical)
		if err != nil {
			return err
		}
		if found {
			result.Flagged = append(result.Flagged, canonical)
		} else {
			l.Warn("トレンド設定対象の記事が見つかりません", slog.String("url", canonical))
			result.NotFound = append(result.NotFound, canonical)
		}
	}
	return writeJSON(out, result)
}

type trendingResult struct {
	Flagged  []string `json:"flagged"`
	NotFound []string `json:"not_found"`
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config, l *slog.Logger, direction string, steps int) error {
	l.Info("running database migrations",
		slog.String("direction", direction),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	var err error
	switch direction {
	case "up":
		err = database.RunMigrations(cfg.DatabaseURL)
	case "down":
		err = database.RollbackMigrations(cfg.DatabaseURL, steps)
	default:
		return fmt.Errorf("unknown migration direction %q", direction)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	l.Info("database migrations completed successfully", slog.String("direction", direction))
	return nil
}

// runMigrationVersion は現在のマイグレーションバージョンを出力する。
func runMigrationVersion(cfg *config.Config, out io.Writer) error {
	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	return writeJSON(out, map[string]any{"version": version, "dirty": dirty})
}

// runCacheClear はパターンに一致するエンリッチメントキャッシュを削除する。
func runCacheClear(ctx context.Context, cfg *config.Config, l *slog.Logger, out io.Writer, pattern string) error {
	c := connectCache(ctx, cfg, l)
	if c == nil {
		return errors.New("cache is unavailable")
	}
	defer c.Close()

	deleted, err := c.Clear(ctx, pattern)
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]int{"deleted": deleted})
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
