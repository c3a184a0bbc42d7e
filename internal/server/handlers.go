package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"livecam/internal/broadcast"
	"livecam/internal/camera"
)

// ErrorResponse はエラー時のレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Details   *string   `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse はヘルスチェックのレスポンス
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ServerInfo はサーバーの設定情報
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// StatusResponse はシステム状態のレスポンス
type StatusResponse struct {
	Status    string                 `json:"status"`
	Server    ServerInfo             `json:"server"`
	Source    camera.SourceStats     `json:"source"`
	Hub       broadcast.Stats        `json:"hub"`
	Viewers   []broadcast.ViewerInfo `json:"viewers"`
	Uptime    string                 `json:"uptime"`
	Timestamp time.Time              `json:"timestamp"`
}

// handleHealth はヘルスチェックエンドポイント。デバイスが使えなくなったら503を返す
func (s *Server) handleHealth(c *gin.Context) {
	status, code := "healthy", http.StatusOK
	if s.source.Stats().Status == camera.StatusError {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	c.JSON(code, HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
	})
}

// handleStatus はステータス確認エンドポイント
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Status: "running",
		Server: ServerInfo{
			Host: s.config.Server.Host,
			Port: s.config.Server.Port,
		},
		Source:    s.source.Stats(),
		Hub:       s.hub.Stats(),
		Viewers:   s.hub.Viewers(),
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Timestamp: time.Now(),
	})
}

// handleSnapshot は最新フレームを1枚のJPEGとして返す
func (s *Server) handleSnapshot(c *gin.Context) {
	frame := s.hub.Current()
	if frame == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:     "no_frame",
			Message:   "まだフレームがありません",
			Timestamp: time.Now(),
		})
		return
	}

	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("X-Frame-Sequence", strconv.FormatUint(frame.Seq, 10))
	c.Header("X-Timestamp", strconv.FormatInt(frame.Timestamp.UnixMilli(), 10))
	c.Data(http.StatusOK, "image/jpeg", frame.Data)
}

// handleRoot はルートパスのハンドラ
func (s *Server) handleRoot(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(`<!DOCTYPE html>
<html lang="ja">
<head>
    <meta charset="UTF-8">
    <title>livecam</title>
</head>
<body>
    <h1>livecam ライブ配信</h1>
    <img src="/stream" alt="live stream">
    <p>スナップショット: <a href="/snapshot">/snapshot</a></p>
    <p>ステータス: <a href="/api/status">/api/status</a></p>
    <p>ヘルスチェック: <a href="/health">/health</a></p>
</body>
</html>`))
}

// registerError は視聴者登録の失敗をレスポンスに変換する
func (s *Server) registerError(c *gin.Context, err error) {
	resp := ErrorResponse{Timestamp: time.Now()}
	code := http.StatusServiceUnavailable

	switch {
	case errors.Is(err, broadcast.ErrTooManyViewers):
		resp.Error = "too_many_viewers"
		resp.Message = "同時視聴者数の上限に達しています"
	case errors.Is(err, broadcast.ErrHubClosed):
		resp.Error = "shutting_down"
		resp.Message = "サーバーは停止処理中です"
	default:
		code = http.StatusInternalServerError
		resp.Error = "internal_error"
		resp.Message = "視聴者を登録できませんでした"
		details := err.Error()
		resp.Details = &details
	}

	c.JSON(code, resp)
}
