package camera

import (
	"context"
	"fmt"
	"time"
)

// TestPatternDevice はハードウェア無しで動く合成映像デバイス
type TestPatternDevice struct {
	width  int
	height int
	fps    int

	ticker *time.Ticker
	frame  int
}

// NewTestPatternDevice は新しいTestPatternDeviceを作成する
func NewTestPatternDevice(width, height, fps int) *TestPatternDevice {
	return &TestPatternDevice{
		width:  width,
		height: height,
		fps:    fps,
	}
}

// Open はフレーム生成用のタイマーを開始する
func (d *TestPatternDevice) Open(_ context.Context) error {
	if d.ticker != nil {
		return fmt.Errorf("テストパターンは既に開始されています")
	}
	d.ticker = time.NewTicker(time.Second / time.Duration(d.fps))
	return nil
}

// Capture は次のティックまで待ってからグラデーション画像を生成する
func (d *TestPatternDevice) Capture(ctx context.Context) (*Frame, error) {
	if d.ticker == nil {
		return nil, ErrDeviceNotOpen
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.ticker.C:
	}

	d.frame++
	shift := d.frame * 4
	pix := make([]byte, d.width*d.height*3)
	for y := 0; y < d.height; y++ {
		for x := 0; x < d.width; x++ {
			i := (y*d.width + x) * 3
			pix[i] = byte((x + shift) * 255 / max(d.width, 1))
			pix[i+1] = byte(y * 255 / max(d.height, 1))
			pix[i+2] = byte(shift)
		}
	}

	return &Frame{
		Timestamp: time.Now(),
		Width:     d.width,
		Height:    d.height,
		Pix:       pix,
	}, nil
}

// Close はタイマーを停止する
func (d *TestPatternDevice) Close() error {
	if d.ticker != nil {
		d.ticker.Stop()
		d.ticker = nil
	}
	return nil
}

// Info はデバイス情報を返す
func (d *TestPatternDevice) Info() DeviceInfo {
	return DeviceInfo{
		Path:   "testpattern",
		Name:   "テストパターン",
		Driver: "testpattern",
		Width:  d.width,
		Height: d.height,
		FPS:    d.fps,
	}
}
