// イベントストアサービスのエントリポイント。
// socialサービスのドメインイベントを追記のみで永続化する。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nao1215/circle/internal/eventstore"
	"github.com/nao1215/circle/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "イベントストアサービスの実行に失敗: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := eventstore.LoadConfig()

	log, err := logger.New(cfg.LogLevel, cfg.LogPretty)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := eventstore.NewServer(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("イベントストアサーバーの初期化に失敗: %w", err)
	}
	defer func() {
		if err := server.Close(); err != nil {
			log.Warn("データベースのクローズに失敗", zap.Error(err))
		}
	}()

	return server.Run(ctx)
}
