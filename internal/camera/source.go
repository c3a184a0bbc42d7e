package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"livecam/internal/broadcast"
	"livecam/internal/logging"
)

// Encoder は生フレームを圧縮画像に変換する
type Encoder interface {
	Encode(frame *Frame) ([]byte, error)
}

// Publisher はエンコード済みフレームを公開する
type Publisher interface {
	Publish(frame *broadcast.EncodedFrame) error
}

// SourceStats はSourceの動作統計
type SourceStats struct {
	Status          Status     `json:"status"`
	Device          DeviceInfo `json:"device"`
	LastSeq         uint64     `json:"last_seq"`
	Captured        uint64     `json:"captured"`
	Encoded         uint64     `json:"encoded"`
	EncodeFailures  uint64     `json:"encode_failures"`
	CaptureFailures uint64     `json:"capture_failures"`
	Retries         uint64     `json:"retries"`
	StartedAt       time.Time  `json:"started_at"`
}

// Source はデバイスの唯一の所有者としてフレームを生成し、ハブへ公開する
type Source struct {
	device    Device
	info      DeviceInfo
	encoder   Encoder
	publisher Publisher
	policy    RetryPolicy
	logger    zerolog.Logger

	// Run のゴルーチンだけが触る
	seq uint64

	running atomic.Bool

	mu        sync.RWMutex
	status    Status
	startedAt time.Time

	lastSeq         atomic.Uint64
	captured        atomic.Uint64
	encoded         atomic.Uint64
	encodeFailures  atomic.Uint64
	captureFailures atomic.Uint64
	retries         atomic.Uint64
}

// SourceOption はSourceのオプション
type SourceOption func(*Source)

// WithRetryPolicy はリトライ設定を指定する
func WithRetryPolicy(policy RetryPolicy) SourceOption {
	return func(s *Source) {
		s.policy = policy
	}
}

// WithLogger はロガーを指定する
func WithLogger(logger zerolog.Logger) SourceOption {
	return func(s *Source) {
		s.logger = logger
	}
}

// NewSource は新しいSourceを作成する
func NewSource(device Device, encoder Encoder, publisher Publisher, opts ...SourceOption) *Source {
	s := &Source{
		device:    device,
		info:      device.Info(),
		encoder:   encoder,
		publisher: publisher,
		policy:    DefaultRetryPolicy(),
		logger:    logging.L(),
		status:    StatusInactive,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str(logging.FieldDevice, s.info.Path).Logger()
	return s
}

// Run はctxがキャンセルされるまでキャプチャ → エンコード → 公開を繰り返す。
// ctxのキャンセルではnilを返し、デバイスがリトライ上限を超えて使えない場合は
// ErrDeviceUnavailable をラップしたエラーを返す
func (s *Source) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrSourceRunning
	}
	defer s.running.Store(false)

	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	opened := false
	defer func() {
		if opened {
			_ = s.device.Close()
		}
		if s.Status() != StatusError {
			s.setStatus(StatusInactive)
		}
	}()

	attempt := 0
	for {
		if ctx.Err() != nil {
			s.logger.Info().Msg("フレーム生成を停止します")
			return nil
		}

		if !opened {
			if err := s.device.Open(ctx); err != nil {
				if fatal := s.handleDeviceError(ctx, "open", err, &attempt); fatal != nil {
					return fatal
				}
				continue
			}
			opened = true
			s.setStatus(StatusActive)
			s.logger.Info().Str("name", s.info.Name).Msg("デバイスを開きました")
		}

		frame, err := s.device.Capture(ctx)
		if err != nil {
			// 次のキャプチャ前にデバイスを開き直す
			_ = s.device.Close()
			opened = false
			if fatal := s.handleDeviceError(ctx, "capture", err, &attempt); fatal != nil {
				return fatal
			}
			continue
		}

		attempt = 0
		s.process(frame)
	}
}

// handleDeviceError は失敗を数え、上限内ならバックオフして nil を返す
func (s *Source) handleDeviceError(ctx context.Context, op string, err error, attempt *int) error {
	if ctx.Err() != nil {
		return nil
	}

	devErr := &DeviceError{Op: op, Device: s.info.Path, Err: err}
	s.captureFailures.Add(1)
	*attempt++

	if *attempt > s.policy.MaxRetries {
		s.setStatus(StatusError)
		s.logger.Error().Err(devErr).Int(logging.FieldAttempt, *attempt).Msg("デバイスのリトライ上限を超えました")
		return fmt.Errorf("%w: %d回連続で失敗: %w", ErrDeviceUnavailable, *attempt, devErr)
	}

	delay := s.policy.Backoff(*attempt)
	s.retries.Add(1)
	s.logger.Warn().
		Err(devErr).
		Int(logging.FieldAttempt, *attempt).
		Int("max_retries", s.policy.MaxRetries).
		Dur("delay", delay).
		Msg("デバイスをリトライします")

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	return nil
}

// process はシーケンス番号を振ってエンコードし、公開する
func (s *Source) process(frame *Frame) {
	s.seq++
	frame.Seq = s.seq
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}
	s.captured.Add(1)
	s.lastSeq.Store(frame.Seq)

	data, err := s.encoder.Encode(frame)
	if err != nil {
		// このフレームだけを捨てる
		s.encodeFailures.Add(1)
		s.logger.Warn().Err(err).Uint64(logging.FieldSeq, frame.Seq).Msg("フレームのエンコードに失敗しました")
		return
	}

	encoded := &broadcast.EncodedFrame{
		Seq:       frame.Seq,
		Timestamp: frame.Timestamp,
		Data:      data,
	}
	if err := s.publisher.Publish(encoded); err != nil {
		if errors.Is(err, broadcast.ErrHubClosed) {
			s.logger.Debug().Uint64(logging.FieldSeq, frame.Seq).Msg("ハブが閉じられているため公開しません")
			return
		}
		s.logger.Warn().Err(err).Uint64(logging.FieldSeq, frame.Seq).Msg("フレームの公開に失敗しました")
		return
	}
	s.encoded.Add(1)
}

// Status は現在の状態を返す
func (s *Source) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Source) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Stats は動作統計を返す
func (s *Source) Stats() SourceStats {
	s.mu.RLock()
	status, startedAt := s.status, s.startedAt
	s.mu.RUnlock()

	return SourceStats{
		Status:          status,
		Device:          s.info,
		LastSeq:         s.lastSeq.Load(),
		Captured:        s.captured.Load(),
		Encoded:         s.encoded.Load(),
		EncodeFailures:  s.encodeFailures.Load(),
		CaptureFailures: s.captureFailures.Load(),
		Retries:         s.retries.Load(),
		StartedAt:       startedAt,
	}
}
