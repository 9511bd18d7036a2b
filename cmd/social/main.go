// フォロー・通知サービスのエントリポイント。
// フォロー関係の管理、通知の保存、WebSocketによるリアルタイム配信を担当する。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nao1215/circle/internal/social"
	"github.com/nao1215/circle/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "socialサービスの実行に失敗: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := social.LoadConfig()

	log, err := logger.New(cfg.LogLevel, cfg.LogPretty)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := social.NewServer(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("サーバーの初期化に失敗: %w", err)
	}
	defer func() {
		if err := server.Close(); err != nil {
			log.Warn("リソースの解放に失敗", zap.Error(err))
		}
	}()

	log.Info("socialサービスを起動します",
		zap.String("port", cfg.Port),
		zap.Bool("redis_relay", cfg.RedisAddr != ""),
		zap.Bool("event_store", cfg.EventStoreURL != ""))
	return server.Run(ctx)
}
