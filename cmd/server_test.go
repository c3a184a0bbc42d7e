package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"livecam/internal/camera"
	"livecam/internal/config"
)

type fakeDiscovery struct {
	devices []string
	scanErr error
	names   map[string]string
}

func (f *fakeDiscovery) ScanDevices(context.Context) ([]string, error) {
	return f.devices, f.scanErr
}

func (f *fakeDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	_, ok := f.names[device]
	return ok
}

func (f *fakeDiscovery) GetDeviceInfo(_ context.Context, device string) (*camera.DeviceInfo, error) {
	name, ok := f.names[device]
	if !ok {
		return nil, errors.New("デバイスが利用できません")
	}
	return &camera.DeviceInfo{Path: device, Name: name, Driver: "uvcvideo"}, nil
}

func TestPrintDevices(t *testing.T) {
	testCases := []struct {
		name      string
		discovery *fakeDiscovery
		wantCode  int
		want      []string
	}{
		{
			name: "複数デバイス",
			discovery: &fakeDiscovery{
				devices: []string{"/dev/video0", "/dev/video2"},
				names:   map[string]string{"/dev/video0": "HD Webcam"},
			},
			wantCode: 0,
			want:     []string{"/dev/video0\tHD Webcam", "/dev/video2\t(情報を取得できません"},
		},
		{
			name:      "デバイスなし",
			discovery: &fakeDiscovery{},
			wantCode:  0,
			want:      []string{"利用可能なカメラデバイスがありません"},
		},
		{
			name:      "スキャン失敗",
			discovery: &fakeDiscovery{scanErr: errors.New("permission denied")},
			wantCode:  1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			if code := printDevices(context.Background(), &out, tc.discovery); code != tc.wantCode {
				t.Errorf("Expected exit code %d, got %d", tc.wantCode, code)
			}
			for _, w := range tc.want {
				if !strings.Contains(out.String(), w) {
					t.Errorf("Expected output to contain %q, got %q", w, out.String())
				}
			}
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	testCases := []struct {
		name      string
		host      string
		port      int
		device    string
		driver    string
		expectErr bool
		check     func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "上書きなし",
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Server.Port != 8080 || cfg.Camera.Driver != config.DriverV4L2 {
					t.Errorf("デフォルト値が変わっています: %+v", cfg)
				}
			},
		},
		{
			name:   "すべて上書き",
			host:   "127.0.0.1",
			port:   9000,
			device: ":1.0",
			driver: "x11",
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
					t.Errorf("サーバー設定が反映されていません: %+v", cfg.Server)
				}
				if cfg.Camera.Device != ":1.0" || cfg.Camera.Driver != config.DriverX11 {
					t.Errorf("カメラ設定が反映されていません: %+v", cfg.Camera)
				}
			},
		},
		{name: "未対応ドライバー", driver: "gstreamer", expectErr: true},
		{name: "無効なポート", port: 70000, expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := config.Load("")
			if err != nil {
				t.Fatalf("設定の読み込みに失敗しました: %v", err)
			}

			err = applyOverrides(cfg, tc.host, tc.port, tc.device, tc.driver)
			if tc.expectErr {
				if err == nil {
					t.Error("エラーが期待されましたが、エラーが発生しませんでした")
				}
				return
			}
			if err != nil {
				t.Fatalf("予期しないエラーが発生しました: %v", err)
			}
			if tc.check != nil {
				tc.check(t, cfg)
			}
		})
	}
}
