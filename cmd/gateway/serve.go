package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nao1215/commerce-gateway/internal/config"
	"github.com/nao1215/commerce-gateway/internal/gateway"
	"github.com/nao1215/commerce-gateway/pkg/logging"
)

// shutdownTimeout は処理中のリクエストを待つ最大時間。
const shutdownTimeout = 10 * time.Second

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("ロガーの初期化に失敗: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	server, err := gateway.NewServer(cfg, logger)
	if err != nil {
		logger.Error("Gatewayサーバーの初期化に失敗", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run()
	}()

	fields := []zap.Field{zap.String("port", cfg.Port)}
	for _, u := range cfg.Upstreams {
		fields = append(fields, zap.String(u.Name+"_url", u.BaseURL))
	}
	logger.Info("Gatewayサービスを起動します", fields...)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Gatewayサービスの起動に失敗", zap.Error(err))
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("シャットダウンします")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("シャットダウンに失敗", zap.Error(err))
		return err
	}
	if err := <-errCh; err != nil {
		return err
	}
	logger.Info("Gatewayサービスを停止しました")
	return nil
}
