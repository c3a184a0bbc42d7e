package server

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"livecam/internal/broadcast"
	"livecam/internal/logging"
)

// multipart/x-mixed-replace の境界文字列
const boundary = "frame"

// StreamState は1接続の配信状態
type StreamState int

const (
	StateSendingHeader   StreamState = iota // レスポンスヘッダー送信前
	StateStreamingFrames                    // フレーム配信中
	StateClosed                             // 終了
)

// String は状態名を返す
func (s StreamState) String() string {
	switch s {
	case StateSendingHeader:
		return "sending_header"
	case StateStreamingFrames:
		return "streaming_frames"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ViewerIOError は視聴者への書き込み失敗。ハンドラーの外へは出さない
type ViewerIOError struct {
	ViewerID string
	Op       string
	Err      error
}

func (e *ViewerIOError) Error() string {
	return fmt.Sprintf("視聴者 %s への%s失敗: %v", e.ViewerID, e.Op, e.Err)
}

func (e *ViewerIOError) Unwrap() error {
	return e.Err
}

// mjpegWriter はmultipart/x-mixed-replace形式でフレームを書き出す
type mjpegWriter struct {
	w        http.ResponseWriter
	rc       *http.ResponseController
	timeout  time.Duration
	viewerID string
	state    StreamState
	buf      bytes.Buffer
}

func newMJPEGWriter(w http.ResponseWriter, viewerID string, timeout time.Duration) *mjpegWriter {
	return &mjpegWriter{
		w:        w,
		rc:       http.NewResponseController(w),
		timeout:  timeout,
		viewerID: viewerID,
		state:    StateSendingHeader,
	}
}

// writeHeader はレスポンスヘッダーを送信する
func (m *mjpegWriter) writeHeader() error {
	if m.state != StateSendingHeader {
		return &ViewerIOError{ViewerID: m.viewerID, Op: "ヘッダー送信", Err: fmt.Errorf("不正な状態: %s", m.state)}
	}

	h := m.w.Header()
	h.Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")
	m.w.WriteHeader(http.StatusOK)

	if err := m.flush(); err != nil {
		m.state = StateClosed
		return &ViewerIOError{ViewerID: m.viewerID, Op: "ヘッダー送信", Err: err}
	}
	m.state = StateStreamingFrames
	return nil
}

// writeFrame は1フレームを1パートとして書き込み、フラッシュする
func (m *mjpegWriter) writeFrame(frame *broadcast.EncodedFrame) error {
	if m.state != StateStreamingFrames {
		return &ViewerIOError{ViewerID: m.viewerID, Op: "フレーム送信", Err: fmt.Errorf("不正な状態: %s", m.state)}
	}

	if m.timeout > 0 {
		// 未対応のResponseWriterでは期限なしで書く
		if err := m.rc.SetWriteDeadline(time.Now().Add(m.timeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			m.state = StateClosed
			return &ViewerIOError{ViewerID: m.viewerID, Op: "書き込み期限設定", Err: err}
		}
	}

	m.buf.Reset()
	m.buf.WriteString("--" + boundary + "\r\n")
	m.buf.WriteString("Content-Type: image/jpeg\r\n")
	m.buf.WriteString("Content-Length: " + strconv.Itoa(len(frame.Data)) + "\r\n")
	m.buf.WriteString("X-Frame-Sequence: " + strconv.FormatUint(frame.Seq, 10) + "\r\n")
	m.buf.WriteString("X-Timestamp: " + strconv.FormatInt(frame.Timestamp.UnixMilli(), 10) + "\r\n")
	m.buf.WriteString("\r\n")

	for _, chunk := range [][]byte{m.buf.Bytes(), frame.Data, []byte("\r\n")} {
		if _, err := m.w.Write(chunk); err != nil {
			m.state = StateClosed
			return &ViewerIOError{ViewerID: m.viewerID, Op: "フレーム送信", Err: err}
		}
	}

	if err := m.flush(); err != nil {
		m.state = StateClosed
		return &ViewerIOError{ViewerID: m.viewerID, Op: "フラッシュ", Err: err}
	}
	return nil
}

func (m *mjpegWriter) flush() error {
	if err := m.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

func (m *mjpegWriter) close() {
	m.state = StateClosed
}

// handleStream はMJPEGストリームを配信する
func (s *Server) handleStream(c *gin.Context) {
	ctx := c.Request.Context()

	viewer, err := s.hub.Register(c.Request.RemoteAddr)
	if err != nil {
		s.registerError(c, err)
		return
	}
	defer viewer.Close()

	logger := logging.Ctx(ctx).With().
		Str(logging.FieldViewerID, viewer.ID()).
		Str(logging.FieldRemoteAddr, c.Request.RemoteAddr).
		Logger()
	logger.Info().Msg("MJPEGストリームを開始します")

	stream := newMJPEGWriter(c.Writer, viewer.ID(), s.config.Server.StreamWriteTimeout)
	defer stream.close()

	if err := stream.writeHeader(); err != nil {
		logger.Debug().Err(err).Msg("ヘッダーを送信できませんでした")
		return
	}

	for {
		frame, err := viewer.Next(ctx)
		if err != nil {
			logger.Debug().Err(err).Msg("MJPEGストリームを終了します")
			break
		}

		if err := stream.writeFrame(frame); err != nil {
			logger.Debug().Err(err).Uint64(logging.FieldSeq, frame.Seq).Msg("視聴者が切断されました")
			break
		}
	}

	info := viewer.Info()
	logger.Info().
		Uint64("delivered", info.Delivered).
		Uint64("skipped", info.Skipped).
		Msg("MJPEGストリームを終了しました")
}
