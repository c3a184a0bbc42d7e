// Package main はlivecamサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"livecam/internal/app"
	"livecam/internal/camera"
	"livecam/internal/config"
	"livecam/internal/logging"
)

func main() {
	// コマンドラインオプション
	var (
		configPath  = flag.String("config", "", "設定ファイルのパス (デフォルト: ./config.yaml)")
		host        = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port        = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		device      = flag.String("device", "", "カメラデバイスのパス (デフォルト: /dev/video0)")
		driver      = flag.String("driver", "", "キャプチャドライバー (v4l2, x11, testpattern)")
		listDevices = flag.Bool("list-devices", false, "利用可能なカメラデバイスを表示")
		help        = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("livecam")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if *listDevices {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		code := printDevices(ctx, os.Stdout, camera.NewLinuxDiscovery())
		cancel()
		os.Exit(code)
	}

	// 設定を読み込む
	cfg, err := config.Load(*configPath)
	if err != nil {
		l := logging.L()
		l.Fatal().Err(err).Msg("設定の読み込みに失敗しました")
	}

	// コマンドラインオプションで設定を上書き
	if err := applyOverrides(cfg, *host, *port, *device, *driver); err != nil {
		l := logging.L()
		l.Fatal().Err(err).Msg("設定が不正です")
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

// applyOverrides は空でないオプションで設定を上書きし、再検証する
func applyOverrides(cfg *config.Config, host string, port int, device, driver string) error {
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if device != "" {
		cfg.Camera.Device = device
	}
	if driver != "" {
		cfg.Camera.Driver = driver
	}
	return cfg.Validate()
}

// printDevices は検出したカメラデバイスを w に表示し、終了コードを返す
func printDevices(ctx context.Context, w io.Writer, discovery camera.Discovery) int {
	devices, err := discovery.ScanDevices(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "デバイスの検出に失敗しました: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(w, "利用可能なカメラデバイスがありません")
		return 0
	}

	for _, path := range devices {
		info, err := discovery.GetDeviceInfo(ctx, path)
		if err != nil {
			fmt.Fprintf(w, "%s\t(情報を取得できません: %v)\n", path, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", path, info.Name)
	}
	return 0
}
