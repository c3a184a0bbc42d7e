package camera

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// DeviceConfig はデバイス作成設定
type DeviceConfig struct {
	Driver string // "v4l2"、"x11" または "testpattern"
	Device string // デバイスパスまたはX11ディスプレイ
	Width  int
	Height int
	FPS    int
}

// DeviceCreator はデバイス作成関数の型
type DeviceCreator func(cfg DeviceConfig) (Device, error)

// deviceDiscovery はV4L2デバイスの表示名の取得に使う
var deviceDiscovery Discovery = NewLinuxDiscovery()

var creators = map[string]DeviceCreator{
	"v4l2":        newV4L2Device,
	"x11":         newX11Device,
	"testpattern": newTestPatternDevice,
}

// NewDevice はドライバー名に応じたデバイスを作成する
func NewDevice(cfg DeviceConfig) (Device, error) {
	creator, exists := creators[cfg.Driver]
	if !exists {
		return nil, fmt.Errorf("サポートされていないドライバー: %s", cfg.Driver)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.FPS <= 0 {
		return nil, fmt.Errorf("無効なデバイス設定: %dx%d@%d", cfg.Width, cfg.Height, cfg.FPS)
	}
	return creator(cfg)
}

// SupportedDrivers はサポートされているドライバー名を名前順で返す
func SupportedDrivers() []string {
	drivers := make([]string, 0, len(creators))
	for name := range creators {
		drivers = append(drivers, name)
	}
	sort.Strings(drivers)
	return drivers
}

// IsSupportedDriver はドライバー名が登録済みかを返す
func IsSupportedDriver(name string) bool {
	_, ok := creators[name]
	return ok
}

func newV4L2Device(cfg DeviceConfig) (Device, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("V4L2デバイスの作成にはデバイスパスが必要です")
	}

	device := NewFFmpegDevice(cfg.Device, cfg.Width, cfg.Height, cfg.FPS)

	// 実名が取れれば表示名に使う
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if info, err := deviceDiscovery.GetDeviceInfo(ctx, cfg.Device); err == nil {
		device.SetName(info.Name)
	}

	return device, nil
}

func newX11Device(cfg DeviceConfig) (Device, error) {
	display := cfg.Device
	// V4L2用のデフォルトパスはディスプレイとして扱わない
	if display == "" || strings.HasPrefix(display, "/dev/") {
		display = os.Getenv("DISPLAY")
	}
	if display == "" {
		display = ":0.0"
	}
	return NewX11Device(display, cfg.Width, cfg.Height, cfg.FPS), nil
}

func newTestPatternDevice(cfg DeviceConfig) (Device, error) {
	return NewTestPatternDevice(cfg.Width, cfg.Height, cfg.FPS), nil
}
