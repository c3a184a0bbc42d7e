package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"livecam/internal/broadcast"
	"livecam/internal/camera"
	"livecam/internal/config"
	"livecam/internal/logging"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	defaultWriteTimeout    = 5 * time.Second
)

// SourceStatsProvider はフレーム生成側の統計を返す
type SourceStatsProvider interface {
	Stats() camera.SourceStats
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	hub        *broadcast.Hub
	source     SourceStatsProvider
	logger     zerolog.Logger
	engine     *gin.Engine
	httpServer *http.Server
	startedAt  time.Time

	mu        sync.Mutex
	addr      net.Addr
	ready     chan struct{}
	readyOnce sync.Once
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, hub *broadcast.Hub, source SourceStatsProvider, logger zerolog.Logger) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), logging.GinMiddleware(logger))

	s := &Server{
		config:    cfg,
		hub:       hub,
		source:    source,
		logger:    logger,
		engine:    engine,
		startedAt: time.Now(),
		ready:     make(chan struct{}),
	}

	// ストリームは長時間書き続けるため WriteTimeout は設定せず、フレームごとの期限で制御する
	s.httpServer = &http.Server{
		Addr:              cfg.ServerAddress(),
		Handler:           engine,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	s.setupRoutes()
	return s
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	// ヘルスチェックエンドポイント
	s.engine.GET("/health", s.handleHealth)

	// APIエンドポイント
	s.engine.GET("/api/status", s.handleStatus)
	s.engine.GET("/api/stream", s.handleStream)

	// 配信エンドポイント
	s.engine.GET("/stream", s.handleStream)
	s.engine.GET("/ws", s.handleWebSocket)
	s.engine.GET("/snapshot", s.handleSnapshot)

	// ルートハンドラ（簡単な確認用）
	s.engine.GET("/", s.handleRoot)
}

// Handler はルーティング済みのhttp.Handlerを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start は設定されたアドレスでリッスンし、ctxがキャンセルされるまで配信する
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ServerAddress())
	if err != nil {
		return fmt.Errorf("リッスンに失敗: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve は与えられたリスナーで配信する。接続ごとにゴルーチンが割り当てられる
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTPサーバーを起動しています")
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info().Msg("コンテキストがキャンセルされました")
	case err := <-serveErr:
		s.hub.Close()
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Ready はリッスン開始後にcloseされるチャンネルを返す
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr は実際にリッスンしているアドレスを返す。開始前はnil
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Shutdown はハブを閉じて配信中のハンドラーを終わらせ、サーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("サーバーをシャットダウンしています...")

	s.hub.Close()

	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		_ = s.httpServer.Close()
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	s.logger.Info().Msg("サーバーが正常にシャットダウンされました")
	return nil
}

func (s *Server) writeTimeout() time.Duration {
	if s.config.Server.StreamWriteTimeout > 0 {
		return s.config.Server.StreamWriteTimeout
	}
	return defaultWriteTimeout
}
