package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ViewerState は視聴者のライフサイクル状態
type ViewerState int32

const (
	ViewerRegistered ViewerState = iota // 登録済み、まだフレーム未取得
	ViewerStreaming                     // 配信中
	ViewerClosed                        // 終了
)

// String は状態名を返す
func (s ViewerState) String() string {
	switch s {
	case ViewerRegistered:
		return "registered"
	case ViewerStreaming:
		return "streaming"
	case ViewerClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ViewerInfo は視聴者の状態のスナップショット
type ViewerInfo struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	State      string    `json:"state"`
	LastSeq    uint64    `json:"last_seq"`
	Delivered  uint64    `json:"delivered"`
	Skipped    uint64    `json:"skipped"`
	Since      time.Time `json:"since"`
}

// Viewer は1人の視聴者。Next は所有する1つのゴルーチンからのみ呼ぶ
type Viewer struct {
	id         string
	remoteAddr string
	hub        *Hub
	createdAt  time.Time
	startSeq   uint64

	// 以下は所有ゴルーチンだけが更新する。Info 用にatomicで持つ
	last      atomic.Uint64
	delivered atomic.Uint64
	skipped   atomic.Uint64
	state     atomic.Int32

	done      chan struct{}
	closeOnce sync.Once
}

// ID は視聴者IDを返す
func (v *Viewer) ID() string {
	return v.id
}

// StartSeq は登録時点のシーケンス番号を返す
func (v *Viewer) StartSeq() uint64 {
	return v.startSeq
}

// LastSeq は最後に渡したフレームのシーケンス番号を返す
func (v *Viewer) LastSeq() uint64 {
	return v.last.Load()
}

// State は現在の状態を返す
func (v *Viewer) State() ViewerState {
	return ViewerState(v.state.Load())
}

// Done は視聴者が閉じられたときにcloseされるチャンネルを返す
func (v *Viewer) Done() <-chan struct{} {
	return v.done
}

// Next は送信済みより新しいフレームが公開されるまで待ち、それを返す
func (v *Viewer) Next(ctx context.Context) (*EncodedFrame, error) {
	for {
		if v.State() == ViewerClosed {
			return nil, ErrViewerClosed
		}

		frame, notify, err := v.hub.snapshot()
		if err != nil {
			return nil, err
		}

		last := v.last.Load()
		if frame != nil && frame.Seq > last {
			// 最初のフレーム以降の欠番だけを数える
			if v.delivered.Load() > 0 {
				v.skipped.Add(frame.Seq - last - 1)
			}
			v.delivered.Add(1)
			v.last.Store(frame.Seq)
			v.state.CompareAndSwap(int32(ViewerRegistered), int32(ViewerStreaming))
			return frame, nil
		}

		select {
		case <-notify:
		case <-v.done:
			return nil, ErrViewerClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close はハブから登録解除する。何度呼んでもよい
func (v *Viewer) Close() {
	v.hub.Unregister(v)
}

// Info は状態のスナップショットを返す
func (v *Viewer) Info() ViewerInfo {
	return ViewerInfo{
		ID:         v.id,
		RemoteAddr: v.remoteAddr,
		State:      v.State().String(),
		LastSeq:    v.last.Load(),
		Delivered:  v.delivered.Load(),
		Skipped:    v.skipped.Load(),
		Since:      v.createdAt,
	}
}

func (v *Viewer) markClosed() {
	v.closeOnce.Do(func() {
		v.state.Store(int32(ViewerClosed))
		close(v.done)
	})
}
