package camera

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// ffmpegの入力フォーマット
const (
	inputV4L2    = "v4l2"
	inputX11Grab = "x11grab"
)

// FFmpegDevice はffmpegを使ってV4L2デバイスまたはX11画面から生フレームを取得する
type FFmpegDevice struct {
	input      string
	driver     string
	devicePath string
	name       string
	width      int
	height     int
	fps        int
	ffmpegPath string

	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout io.ReadCloser
	stderr *tailBuffer
}

// NewFFmpegDevice は新しいFFmpegDeviceを作成する
func NewFFmpegDevice(devicePath string, width, height, fps int) *FFmpegDevice {
	return &FFmpegDevice{
		input:      inputV4L2,
		driver:     "v4l2",
		devicePath: devicePath,
		name:       devicePath,
		width:      width,
		height:     height,
		fps:        fps,
		ffmpegPath: "ffmpeg",
	}
}

// NewX11Device はX11ディスプレイ (例: :0.0) を映像源にするFFmpegDeviceを作成する
func NewX11Device(display string, width, height, fps int) *FFmpegDevice {
	d := NewFFmpegDevice(display, width, height, fps)
	d.input = inputX11Grab
	d.driver = "x11"
	d.name = "X11画面 " + display
	return d
}

// SetName は表示名を設定する
func (d *FFmpegDevice) SetName(name string) {
	d.name = name
}

// Args はffmpegの引数を返す
func (d *FFmpegDevice) Args() []string {
	size := fmt.Sprintf("%dx%d", d.width, d.height)
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", d.input,
		"-framerate", strconv.Itoa(d.fps),
		"-video_size", size,
		"-i", d.devicePath,
		// デバイスが別解像度を返しても1フレームのバイト数を固定する
		"-vf", fmt.Sprintf("scale=%d:%d", d.width, d.height),
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-",
	}
}

// Open はffmpegプロセスを起動する
func (d *FFmpegDevice) Open(ctx context.Context) error {
	if d.cmd != nil {
		return fmt.Errorf("デバイス %s は既に開かれています", d.devicePath)
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, d.ffmpegPath, d.Args()...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
	}
	stderr := newTailBuffer(4096)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("ffmpegの起動に失敗: %w", err)
	}

	d.cmd = cmd
	d.cancel = cancel
	d.stdout = stdout
	d.stderr = stderr
	return nil
}

// Capture は1フレーム分のRGB24データを読み取る
func (d *FFmpegDevice) Capture(_ context.Context) (*Frame, error) {
	if d.stdout == nil {
		return nil, ErrDeviceNotOpen
	}

	pix := make([]byte, d.width*d.height*3)
	if _, err := io.ReadFull(d.stdout, pix); err != nil {
		return nil, fmt.Errorf("フレーム読み取りエラー: %w (stderr: %s)", err, d.stderr.String())
	}

	return &Frame{
		Timestamp: time.Now(),
		Width:     d.width,
		Height:    d.height,
		Pix:       pix,
	}, nil
}

// Close はffmpegプロセスを停止する
func (d *FFmpegDevice) Close() error {
	if d.cmd == nil {
		return nil
	}

	d.cancel()
	_ = d.cmd.Wait() // キャンセルによる終了エラーは無視

	d.cmd = nil
	d.cancel = nil
	d.stdout = nil
	return nil
}

// Info はデバイス情報を返す
func (d *FFmpegDevice) Info() DeviceInfo {
	return DeviceInfo{
		Path:   d.devicePath,
		Name:   d.name,
		Driver: d.driver,
		Width:  d.width,
		Height: d.height,
		FPS:    d.fps,
	}
}

// tailBuffer は書き込まれたデータの末尾だけを保持する
type tailBuffer struct {
	mu   sync.Mutex
	buf  []byte
	size int
}

func newTailBuffer(size int) *tailBuffer {
	return &tailBuffer{size: size}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.size; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
