package main

import (
	"context"
	"os"

	"livecam/internal/app"
	"livecam/internal/config"
	"livecam/internal/logging"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load("")
	if err != nil {
		l := logging.L()
		l.Fatal().Err(err).Msg("設定の読み込みに失敗しました")
	}

	logger := logging.Init(logging.Config{
		Level:   cfg.Log.Level,
		Pretty:  cfg.Log.Pretty,
		Service: "livecam",
	})

	// 配信を開始
	if err := app.Run(context.Background(), cfg, logger); err != nil {
		os.Exit(1)
	}
}
