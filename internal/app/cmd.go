package app

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandRun はパイプラインを1回実行することを示す。
	CommandRun Command = "run"
	// CommandWorker はスケジューラと運用HTTPサーバーを起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandCache はエンリッチメントキャッシュを操作することを示す。
	CommandCache Command = "cache"
	// CommandTrending はトレンド記事の取り込みまたはフラグ設定を行うことを示す。
	CommandTrending Command = "trending"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// NewRootCommand はdscvrのルートコマンドを構築する。
// 構造化ログはlogWに出力する。
func NewRootCommand(logW io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "dscvr",
		Short:         "News aggregation and AI enrichment pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRunCommand(logW),
		newWorkerCommand(logW),
		newMigrateCommand(logW),
		newCacheCommand(logW),
		newTrendingCommand(logW),
		newHealthcheckCommand(),
	)
	return root
}

func newRunCommand(logW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandRun),
		Short: "Run the pipeline once and print the run report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := Init(logW)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			ctx, stop := signalContext()
			defer stop()
			return runOnce(ctx, cfg, l, cmd.OutOrStdout())
		},
	}
}

func newWorkerCommand(logW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandWorker),
		Short: "Run the pipeline on a schedule and serve ops endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := Init(logW)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			ctx, stop := signalContext()
			defer stop()
			return runWorker(ctx, cfg, l)
		},
	}
}

func newMigrateCommand(logW io.Writer) *cobra.Command {
	migrate := &cobra.Command{
		Use:   string(CommandMigrate),
		Short: "Manage database migrations",
	}

	migrate.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, l, err := Init(logW)
				if err != nil {
					return fmt.Errorf("initialization failed: %w", err)
				}
				return runMigrate(cfg, l, "up", 0)
			},
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back migrations (default 1 step)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				steps, err := parseSteps(args)
				if err != nil {
					return err
				}
				cfg, l, err := Init(logW)
				if err != nil {
					return fmt.Errorf("initialization failed: %w", err)
				}
				return runMigrate(cfg, l, "down", steps)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current migration version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, _, err := Init(logW)
				if err != nil {
					return fmt.Errorf("initialization failed: %w", err)
				}
				return runMigrationVersion(cfg, cmd.OutOrStdout())
			},
		},
	)
	return migrate
}

func newCacheCommand(logW io.Writer) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   string(CommandCache),
		Short: "Manage the enrichment cache",
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear [pattern]",
		Short: "Delete cache entries matching the pattern (default all)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := Init(logW)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			pattern := ""
			if len(args) == 1 {
				pattern = args[0]
			}
			return runCacheClear(cmd.Context(), cfg, l, cmd.OutOrStdout(), pattern)
		},
	})
	return cacheCmd
}

func newTrendingCommand(logW io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandTrending) + " [url...]",
		Short: "Import trending NewsAPI articles, or flag the given article URLs as trending",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := Init(logW)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			ctx, stop := signalContext()
			defer stop()
			return runTrending(ctx, cfg, l, cmd.OutOrStdout(), args)
		},
	}
}

// newHealthcheckCommand は軽量サブコマンドのため、フル初期化をスキップする。
func newHealthcheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Check the local ops server /health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			port := os.Getenv("SERVER_PORT")
			if port == "" {
				port = "8080"
			}
			return runHealthcheck(port)
		},
	}
}

// parseSteps はmigrate downのステップ数を解析する。省略時は1。
func parseSteps(args []string) (int, error) {
	if len(args) == 0 {
		return 1, nil
	}
	steps, err := strconv.Atoi(args[0])
	if err != nil || steps <= 0 {
		return 0, fmt.Errorf("steps must be a positive integer, got %q", args[0])
	}
	return steps, nil
}
