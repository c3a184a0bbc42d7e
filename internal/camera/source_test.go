package camera

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"livecam/internal/broadcast"
	"livecam/internal/logging"
)

// fakeDevice はテスト用のデバイス。frames に送られたフレームを順に返す
type fakeDevice struct {
	mu           sync.Mutex
	frames       chan *Frame
	openErr      error
	captureErr   error // 常に失敗させる
	failCaptures int   // この回数だけ失敗させる
	opens        int
	closes       int
	captures     int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{frames: make(chan *Frame)}
}

func (d *fakeDevice) Open(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	return d.openErr
}

func (d *fakeDevice) Capture(ctx context.Context) (*Frame, error) {
	d.mu.Lock()
	d.captures++
	if d.captureErr != nil {
		err := d.captureErr
		d.mu.Unlock()
		return nil, err
	}
	if d.failCaptures > 0 {
		d.failCaptures--
		d.mu.Unlock()
		return nil, errors.New("一時的なキャプチャ失敗")
	}
	d.mu.Unlock()

	select {
	case f := <-d.frames:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

func (d *fakeDevice) Info() DeviceInfo {
	return DeviceInfo{Path: "/dev/fake0", Name: "Fake", Driver: "fake", Width: 2, Height: 2, FPS: 30}
}

func (d *fakeDevice) counts() (opens, closes, captures int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens, d.closes, d.captures
}

// fakeEncoder は指定したシーケンス番号でエンコードに失敗する
type fakeEncoder struct {
	failSeq map[uint64]bool
}

func (e *fakeEncoder) Encode(frame *Frame) ([]byte, error) {
	if e.failSeq[frame.Seq] {
		return nil, errors.New("壊れたフレーム")
	}
	return []byte{0xFF, 0xD8, byte(frame.Seq), 0xFF, 0xD9}, nil
}

func rawFrame() *Frame {
	return &Frame{Width: 2, Height: 2, Pix: make([]byte, 12)}
}

func fastPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{MaxRetries: maxRetries, RetryDelay: time.Millisecond, MaxRetryDelay: 5 * time.Millisecond}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestSource_PublishesSequencedFrames(t *testing.T) {
	device := newFakeDevice()
	hub := broadcast.New()
	source := NewSource(device, &fakeEncoder{}, hub, WithRetryPolicy(fastPolicy(3)), WithLogger(logging.Nop()))

	viewer, _ := hub.Register("test")
	defer viewer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- source.Run(ctx) }()

	for want := uint64(1); want <= 5; want++ {
		device.frames <- rawFrame()
		f, err := viewer.Next(ctx)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if f.Seq != want {
			t.Errorf("Expected seq %d, got %d", want, f.Seq)
		}
		if f.Timestamp.IsZero() {
			t.Error("Expected timestamp to be set")
		}
	}

	if source.Status() != StatusActive {
		t.Errorf("Expected status active, got %s", source.Status())
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error on cancel: %v", err)
	}

	stats := source.Stats()
	if stats.Captured != 5 || stats.Encoded != 5 {
		t.Errorf("Expected 5 captured/encoded, got %d/%d", stats.Captured, stats.Encoded)
	}
	if source.Status() != StatusInactive {
		t.Errorf("Expected status inactive after stop, got %s", source.Status())
	}
	if _, closes, _ := device.counts(); closes == 0 {
		t.Error("Expected device to be closed on stop")
	}
}

func TestSource_EncodeFailureSkipsFrame(t *testing.T) {
	const failing = 3

	device := newFakeDevice()
	hub := broadcast.New()
	encoder := &fakeEncoder{failSeq: map[uint64]bool{failing: true}}
	source := NewSource(device, encoder, hub, WithLogger(logging.Nop()))

	viewer, _ := hub.Register("test")
	defer viewer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- source.Run(ctx) }()

	var received []uint64
	for i := 1; i <= 5; i++ {
		device.frames <- rawFrame()
		if i == failing {
			waitFor(t, func() bool { return source.Stats().EncodeFailures == 1 })
			continue
		}
		f, err := viewer.Next(ctx)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		received = append(received, f.Seq)
	}

	want := []uint64{1, 2, 4, 5}
	if len(received) != len(want) {
		t.Fatalf("Expected %v, got %v", want, received)
	}
	for i := range want {
		if received[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, received)
			break
		}
	}

	stats := source.Stats()
	if stats.Captured != 5 {
		t.Errorf("Expected 5 captured frames, got %d", stats.Captured)
	}
	if stats.Encoded != 4 {
		t.Errorf("Expected 4 encoded frames, got %d", stats.Encoded)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestSource_DeviceFailureBeyondRetryBudgetIsFatal(t *testing.T) {
	device := newFakeDevice()
	device.captureErr = errors.New("デバイスが切断されました")

	source := NewSource(device, &fakeEncoder{}, broadcast.New(), WithRetryPolicy(fastPolicy(3)), WithLogger(logging.Nop()))

	done := make(chan error, 1)
	go func() { done <- source.Run(context.Background()) }()

	var err error
	select {
	case err = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not give up after retry budget")
	}

	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Expected ErrDeviceUnavailable, got %v", err)
	}
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("Expected DeviceError in chain, got %v", err)
	}
	if devErr.Op != "capture" {
		t.Errorf("Expected capture op, got %s", devErr.Op)
	}

	opens, _, captures := device.counts()
	if captures != 4 {
		t.Errorf("Expected 4 capture attempts (1 + 3 retries), got %d", captures)
	}
	if opens != 4 {
		t.Errorf("Expected device reopened before each retry (4 opens), got %d", opens)
	}
	if source.Status() != StatusError {
		t.Errorf("Expected status error, got %s", source.Status())
	}
	if got := source.Stats().Retries; got != 3 {
		t.Errorf("Expected 3 retries, got %d", got)
	}
}

func TestSource_OpenFailureIsFatal(t *testing.T) {
	device := newFakeDevice()
	device.openErr = errors.New("permission denied")

	source := NewSource(device, &fakeEncoder{}, broadcast.New(), WithRetryPolicy(fastPolicy(0)), WithLogger(logging.Nop()))
	err := source.Run(context.Background())

	var devErr *DeviceError
	if !errors.As(err, &devErr) || devErr.Op != "open" {
		t.Fatalf("Expected open DeviceError, got %v", err)
	}
	if opens, _, _ := device.counts(); opens != 1 {
		t.Errorf("Expected 1 open attempt with no retries, got %d", opens)
	}
}

func TestSource_RecoversWithinRetryBudget(t *testing.T) {
	device := newFakeDevice()
	device.failCaptures = 2

	hub := broadcast.New()
	source := NewSource(device, &fakeEncoder{}, hub, WithRetryPolicy(fastPolicy(2)), WithLogger(logging.Nop()))

	viewer, _ := hub.Register("test")
	defer viewer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- source.Run(ctx) }()

	device.frames <- rawFrame()
	f, err := viewer.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	// 失敗したキャプチャにはシーケンス番号を振らない
	if f.Seq != 1 {
		t.Errorf("Expected seq 1 after recovery, got %d", f.Seq)
	}

	// 成功で失敗回数がリセットされるので、再度2回までは許容される
	device.mu.Lock()
	device.failCaptures = 2
	device.mu.Unlock()
	device.frames <- rawFrame()
	if f, err = viewer.Next(ctx); err != nil || f.Seq != 2 {
		t.Fatalf("Expected seq 2, got %v (err=%v)", f, err)
	}
	waitFor(t, func() bool { return source.Stats().CaptureFailures == 4 })

	device.frames <- rawFrame()
	if f, err = viewer.Next(ctx); err != nil || f.Seq != 3 {
		t.Fatalf("Expected seq 3 after second recovery, got %v (err=%v)", f, err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if got := source.Status(); got != StatusInactive {
		t.Errorf("Expected status inactive, got %s", got)
	}
}

func TestSource_RunTwice(t *testing.T) {
	device := newFakeDevice()
	source := NewSource(device, &fakeEncoder{}, broadcast.New(), WithLogger(logging.Nop()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- source.Run(ctx) }()

	waitFor(t, func() bool { return source.Status() == StatusActive })

	if err := source.Run(ctx); !errors.Is(err, ErrSourceRunning) {
		t.Errorf("Expected ErrSourceRunning, got %v", err)
	}

	cancel()
	<-done
}

func TestRetryPolicy_Backoff(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, RetryDelay: time.Second, MaxRetryDelay: 10 * time.Second}

	testCases := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{100, 10 * time.Second},
	}

	for _, tc := range testCases {
		if got := policy.Backoff(tc.attempt); got != tc.expected {
			t.Errorf("Backoff(%d): expected %s, got %s", tc.attempt, tc.expected, got)
		}
	}
}

func TestRetryPolicy_BackoffEdgeCases(t *testing.T) {
	testCases := []struct {
		name     string
		policy   RetryPolicy
		attempt  int
		expected time.Duration
	}{
		{"待ち時間ゼロ", RetryPolicy{RetryDelay: 0, MaxRetryDelay: 30 * time.Second}, 3, 0},
		{"負の待ち時間", RetryPolicy{RetryDelay: -time.Second, MaxRetryDelay: 30 * time.Second}, 1, 0},
		{"上限なし", RetryPolicy{RetryDelay: time.Second}, 11, 1024 * time.Second},
		{"オーバーフローは上限", RetryPolicy{RetryDelay: time.Hour, MaxRetryDelay: time.Minute}, 200, time.Minute},
		{"上限なしのオーバーフロー", RetryPolicy{RetryDelay: time.Hour}, 200, time.Duration(math.MaxInt64)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.policy.Backoff(tc.attempt); got != tc.expected {
				t.Errorf("Backoff(%d): expected %s, got %s", tc.attempt, tc.expected, got)
			}
		})
	}
}
