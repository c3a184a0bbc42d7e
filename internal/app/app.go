// Package app はカメラ、エンコーダー、ハブ、HTTPサーバーを組み立てて起動します。
package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"livecam/internal/broadcast"
	"livecam/internal/camera"
	"livecam/internal/config"
	"livecam/internal/encoder"
	"livecam/internal/server"
)

// App は1台のデバイスを配信するプロセス全体
type App struct {
	config *config.Config
	logger zerolog.Logger
	hub    *broadcast.Hub
	source *camera.Source
	server *server.Server
}

// New は設定からデバイスを作成してAppを組み立てる
func New(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	device, err := camera.NewDevice(camera.DeviceConfig{
		Driver: cfg.Camera.Driver,
		Device: cfg.Camera.Device,
		Width:  cfg.Camera.Width,
		Height: cfg.Camera.Height,
		FPS:    cfg.Camera.FPS,
	})
	if err != nil {
		return nil, fmt.Errorf("デバイスの作成に失敗: %w", err)
	}
	return NewWithDevice(cfg, logger, device), nil
}

// NewWithDevice は与えられたデバイスでAppを組み立てる
func NewWithDevice(cfg *config.Config, logger zerolog.Logger, device camera.Device) *App {
	hub := broadcast.New(broadcast.WithMaxViewers(cfg.Server.MaxViewers))

	source := camera.NewSource(
		device,
		encoder.New(cfg.Encoder.Quality),
		hub,
		camera.WithRetryPolicy(camera.RetryPolicy{
			MaxRetries:    cfg.Camera.MaxRetries,
			RetryDelay:    cfg.Camera.RetryDelay,
			MaxRetryDelay: cfg.Camera.MaxRetryDelay,
		}),
		camera.WithLogger(logger),
	)

	return &App{
		config: cfg,
		logger: logger,
		hub:    hub,
		source: source,
		server: server.New(cfg, hub, source, logger),
	}
}

// Server はHTTPサーバーを返す
func (a *App) Server() *server.Server {
	return a.server
}

// Run はフレーム生成とHTTPサーバーを起動し、どちらかが終わるまで待つ。
// SIGINT/SIGTERM かctxのキャンセルでは nil を返し、デバイスが使えなくなった場合はそのエラーを返す
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.logger.Info().
		Str("addr", a.config.ServerAddress()).
		Str("driver", a.config.Camera.Driver).
		Str("device", a.config.Camera.Device).
		Int("width", a.config.Camera.Width).
		Int("height", a.config.Camera.Height).
		Int("fps", a.config.Camera.FPS).
		Msg("livecam を起動します")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.source.Run(gCtx); err != nil {
			return fmt.Errorf("フレーム生成が停止しました: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.server.Start(gCtx)
	})

	if err := g.Wait(); err != nil {
		a.logger.Error().Err(err).Msg("livecam が異常終了しました")
		return err
	}

	a.logger.Info().Msg("livecam を停止しました")
	return nil
}

// Run は設定からAppを組み立てて起動する
func Run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	a, err := New(cfg, logger)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
