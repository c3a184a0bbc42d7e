package broadcast

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrStaleFrame は現在より古いシーケンス番号のフレームを公開しようとした
	ErrStaleFrame = errors.New("broadcast: stale frame")
	// ErrHubClosed はハブが閉じられている
	ErrHubClosed = errors.New("broadcast: hub closed")
	// ErrViewerClosed は視聴者が登録解除されている
	ErrViewerClosed = errors.New("broadcast: viewer closed")
	// ErrTooManyViewers は視聴者数の上限に達している
	ErrTooManyViewers = errors.New("broadcast: too many viewers")
)

// EncodedFrame はエンコード済みの1フレーム。公開後は変更しない
type EncodedFrame struct {
	Seq       uint64    // 元フレームのシーケンス番号
	Timestamp time.Time // キャプチャ時刻
	Data      []byte    // JPEGデータ
}

// Stats はハブの状態
type Stats struct {
	CurrentSeq uint64    `json:"current_seq"`
	Published  uint64    `json:"published"`
	Viewers    int       `json:"viewers"`
	LastUpdate time.Time `json:"last_update"`
}

// Hub は最新フレームの1枠と視聴者レジストリを持つ
type Hub struct {
	// 最新フレーム枠。ネットワーク書き込み中は保持しない
	mu      sync.Mutex
	current *EncodedFrame
	notify  chan struct{} // Publish ごとにcloseして差し替える
	closed  bool

	// 視聴者レジストリ。Publish からは触らない
	viewersMu  sync.RWMutex
	viewers    map[string]*Viewer
	maxViewers int

	published atomic.Uint64
}

// Option はハブのオプション
type Option func(*Hub)

// WithMaxViewers は同時視聴者数の上限を設定する (0 = 無制限)
func WithMaxViewers(n int) Option {
	return func(h *Hub) {
		h.maxViewers = n
	}
}

// New は新しいHubを作成する
func New(opts ...Option) *Hub {
	h := &Hub{
		notify:  make(chan struct{}),
		viewers: make(map[string]*Viewer),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish は最新フレームを差し替え、待機中の視聴者を起こす
func (h *Hub) Publish(frame *EncodedFrame) error {
	if frame == nil {
		return fmt.Errorf("broadcast: nil frame")
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	if h.current != nil && frame.Seq <= h.current.Seq {
		cur := h.current.Seq
		h.mu.Unlock()
		return fmt.Errorf("%w: seq %d <= current %d", ErrStaleFrame, frame.Seq, cur)
	}
	h.current = frame
	close(h.notify)
	h.notify = make(chan struct{})
	h.mu.Unlock()

	h.published.Add(1)
	return nil
}

// Register は視聴者を追加する。送信済み位置は現在のシーケンス番号から始まる
func (h *Hub) Register(remoteAddr string) (*Viewer, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	var start uint64
	if h.current != nil {
		start = h.current.Seq
	}
	h.mu.Unlock()

	v := &Viewer{
		id:         uuid.New().String(),
		remoteAddr: remoteAddr,
		hub:        h,
		createdAt:  time.Now(),
		startSeq:   start,
		done:       make(chan struct{}),
	}
	v.last.Store(start)
	v.state.Store(int32(ViewerRegistered))

	h.viewersMu.Lock()
	defer h.viewersMu.Unlock()

	if h.maxViewers > 0 && len(h.viewers) >= h.maxViewers {
		return nil, ErrTooManyViewers
	}
	h.viewers[v.id] = v

	return v, nil
}

// Unregister は視聴者を削除する。何度呼んでもよい
func (h *Hub) Unregister(v *Viewer) {
	if v == nil {
		return
	}

	h.viewersMu.Lock()
	delete(h.viewers, v.id)
	h.viewersMu.Unlock()

	v.markClosed()
}

// Current は最新フレームを返す。未公開ならnil
func (h *Hub) Current() *EncodedFrame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Stats は現在の状態を返す
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	var st Stats
	if h.current != nil {
		st.CurrentSeq = h.current.Seq
		st.LastUpdate = h.current.Timestamp
	}
	h.mu.Unlock()

	st.Published = h.published.Load()

	h.viewersMu.RLock()
	st.Viewers = len(h.viewers)
	h.viewersMu.RUnlock()

	return st
}

// Viewers は登録中の視聴者の一覧を返す
func (h *Hub) Viewers() []ViewerInfo {
	h.viewersMu.RLock()
	defer h.viewersMu.RUnlock()

	infos := make([]ViewerInfo, 0, len(h.viewers))
	for _, v := range h.viewers {
		infos = append(infos, v.Info())
	}
	return infos
}

// Close はハブを閉じ、待機中の全視聴者を起こす
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.notify)
	h.mu.Unlock()

	h.viewersMu.Lock()
	viewers := h.viewers
	h.viewers = make(map[string]*Viewer)
	h.viewersMu.Unlock()

	for _, v := range viewers {
		v.markClosed()
	}
}

// snapshot は最新フレームと次の通知チャンネルを返す
func (h *Hub) snapshot() (*EncodedFrame, <-chan struct{}, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, nil, ErrHubClosed
	}
	return h.current, h.notify, nil
}
