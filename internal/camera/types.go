package camera

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status はカメラの動作状態を表す
type Status string

const (
	StatusInactive Status = "inactive" // カメラは停止中
	StatusActive   Status = "active"   // カメラは動作中
	StatusError    Status = "error"    // カメラでエラーが発生
)

var (
	// ErrDeviceUnavailable はリトライ上限を超えてデバイスが使えない
	ErrDeviceUnavailable = errors.New("camera: device unavailable")
	// ErrDeviceNotOpen はOpen前にCaptureが呼ばれた
	ErrDeviceNotOpen = errors.New("camera: device not open")
	// ErrSourceRunning はSourceが既に実行中
	ErrSourceRunning = errors.New("camera: source already running")
)

// Frame はデバイスから取得した1枚の生フレーム
type Frame struct {
	Seq       uint64    // Source が振るシーケンス番号
	Timestamp time.Time // キャプチャ時刻
	Width     int       // 画像幅
	Height    int       // 画像高さ
	Pix       []byte    // RGB24 (len = Width*Height*3)
}

// DeviceInfo はキャプチャデバイスの情報
type DeviceInfo struct {
	Path   string `json:"path"`   // デバイスパス（例: /dev/video0）
	Name   string `json:"name"`   // デバイス名
	Driver string `json:"driver"` // ドライバー名
	Width  int    `json:"width"`
	Height int    `json:"height"`
	FPS    int    `json:"fps"`
}

// Device は生フレームを取得するキャプチャデバイス
type Device interface {
	// Open はデバイスを開く。ctx はデバイスの使用期間全体に及ぶ
	Open(ctx context.Context) error

	// Capture は次のフレームが得られるまでブロックする
	Capture(ctx context.Context) (*Frame, error)

	// Close はデバイスを閉じる。開いていない場合は何もしない
	Close() error

	// Info はデバイス情報を返す
	Info() DeviceInfo
}

// DeviceError はデバイス操作の失敗
type DeviceError struct {
	Op     string // "open" または "capture"
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("camera: %s %s: %v", e.Op, e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}
