package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"livecam/internal/camera"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Camera  CameraConfig  `mapstructure:"camera"`
	Encoder EncoderConfig `mapstructure:"encoder"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `mapstructure:"host"` // リッスンするホスト
	Port int    `mapstructure:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`         // 読み込みタイムアウト
	StreamWriteTimeout time.Duration `mapstructure:"stream_write_timeout"` // 1フレームあたりの書き込みタイムアウト
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`     // シャットダウン待ち時間

	MaxViewers int `mapstructure:"max_viewers"` // 同時視聴者数の上限 (0 = 無制限)
}

// CameraConfig はキャプチャデバイスの設定
type CameraConfig struct {
	Driver string `mapstructure:"driver"` // "v4l2"、"x11" または "testpattern"
	Device string `mapstructure:"device"` // デバイスパス (例: /dev/video0) またはX11ディスプレイ (例: :0.0)

	FPS    int `mapstructure:"fps"`    // フレームレート (fps)
	Width  int `mapstructure:"width"`  // 画像幅
	Height int `mapstructure:"height"` // 画像高さ

	// キャプチャ失敗時のリトライ設定
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay"`
}

// EncoderConfig はJPEGエンコーダーの設定
type EncoderConfig struct {
	Quality int `mapstructure:"quality"` // JPEG品質 (1-100)
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// ドライバー名。登録済みかどうかは camera.IsSupportedDriver で判定する
const (
	DriverV4L2        = "v4l2"
	DriverX11         = "x11"
	DriverTestPattern = "testpattern"
)

// Load は設定を読み込む
// path が空の場合は ./config.yaml と ./config/config.yaml を探し、無ければデフォルト値と環境変数のみを使う
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// 環境変数で上書き (例: server.port → SERVER_PORT)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	_ = v.BindEnv("server.port", "SERVER_PORT", "PORT")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("設定のデコードに失敗: %w", err)
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// setDefaults はデフォルト値を登録する
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.stream_write_timeout", 5*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.max_viewers", 0)

	v.SetDefault("camera.driver", DriverV4L2)
	v.SetDefault("camera.device", "/dev/video0")
	v.SetDefault("camera.fps", 15)
	v.SetDefault("camera.width", 1280)
	v.SetDefault("camera.height", 720)
	v.SetDefault("camera.max_retries", 5)
	v.SetDefault("camera.retry_delay", time.Second)
	v.SetDefault("camera.max_retry_delay", 30*time.Second)

	v.SetDefault("encoder.quality", 80)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}
	if c.Server.StreamWriteTimeout < 0 {
		return fmt.Errorf("無効な書き込みタイムアウト: %s", c.Server.StreamWriteTimeout)
	}
	if c.Server.MaxViewers < 0 {
		return fmt.Errorf("無効な視聴者数上限: %d", c.Server.MaxViewers)
	}

	// カメラ設定の検証
	if !camera.IsSupportedDriver(c.Camera.Driver) {
		return fmt.Errorf("未対応のドライバー: %q (対応: %s)", c.Camera.Driver, strings.Join(camera.SupportedDrivers(), ", "))
	}
	if c.Camera.Driver == DriverV4L2 && c.Camera.Device == "" {
		return fmt.Errorf("カメラデバイスパスが設定されていません")
	}
	if c.Camera.FPS <= 0 || c.Camera.FPS > 60 {
		return fmt.Errorf("無効なFPS値: %d", c.Camera.FPS)
	}
	if c.Camera.Width <= 0 || c.Camera.Width > 4096 {
		return fmt.Errorf("無効な幅: %d", c.Camera.Width)
	}
	if c.Camera.Height <= 0 || c.Camera.Height > 4096 {
		return fmt.Errorf("無効な高さ: %d", c.Camera.Height)
	}
	if c.Camera.MaxRetries < 0 {
		return fmt.Errorf("無効なリトライ回数: %d", c.Camera.MaxRetries)
	}
	if c.Camera.RetryDelay <= 0 {
		return fmt.Errorf("無効なリトライ間隔: %s", c.Camera.RetryDelay)
	}

	if c.Encoder.Quality < 1 || c.Encoder.Quality > 100 {
		return fmt.Errorf("無効なJPEG品質: %d", c.Encoder.Quality)
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
