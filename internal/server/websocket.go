package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"livecam/internal/logging"
)

const (
	wsPongWait       = 60 * time.Second
	wsPingInterval   = (wsPongWait * 9) / 10
	wsMaxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebSocket はフレームを1つずつバイナリメッセージとして配信する
func (s *Server) handleWebSocket(c *gin.Context) {
	// 上限超過はアップグレード前にJSONで返す
	viewer, err := s.hub.Register(c.Request.RemoteAddr)
	if err != nil {
		s.registerError(c, err)
		return
	}
	defer viewer.Close()

	logger := logging.Ctx(c.Request.Context()).With().
		Str(logging.FieldViewerID, viewer.ID()).
		Str(logging.FieldRemoteAddr, c.Request.RemoteAddr).
		Logger()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("WebSocketへのアップグレードに失敗しました")
		return
	}
	defer conn.Close()

	logger.Info().Msg("WebSocketストリームを開始します")

	// ハイジャック後はリクエストのコンテキストで切断を検知できない
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		defer cancel()
		conn.SetReadLimit(wsMaxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug().Err(err).Msg("WebSocket読み取りエラー")
				}
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout())); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for {
		frame, err := viewer.Next(ctx)
		if err != nil {
			logger.Debug().Err(err).Msg("WebSocketストリームを終了します")
			break
		}

		_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout()))
		if err := conn.WriteMessage(websocket.BinaryMessage, frame.Data); err != nil {
			ioErr := &ViewerIOError{ViewerID: viewer.ID(), Op: "WebSocket送信", Err: err}
			logger.Debug().Err(ioErr).Uint64(logging.FieldSeq, frame.Seq).Msg("視聴者が切断されました")
			return
		}
	}

	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"),
		time.Now().Add(time.Second),
	)
}
